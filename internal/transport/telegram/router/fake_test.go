package router

import (
	"context"
	"sync"
	"time"

	kit "routinebot/internal/transport"
)

type sentText struct {
	To   kit.ChatTarget
	Text string
	Opt  *kit.SendOptions
}

type editedText struct {
	Ref  kit.MessageRef
	Text string
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sentText
	edited  []editedText
	answers map[string]string
	menu    []kit.BotCommand
	nextID  int
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{answers: map[string]string{}} }

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentText{To: to, Text: text, Opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, editedText{Ref: ref, Text: text})
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[id] = text
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.Text)
	}
	return out
}

func (f *fakeAdapter) last() sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentText{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeAdapter) edits() []editedText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]editedText(nil), f.edited...)
}

func (f *fakeAdapter) reset() {
	f.mu.Lock()
	f.sent, f.edited = nil, nil
	f.answers = map[string]string{}
	f.mu.Unlock()
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func textUpdate(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: from, FromID: from, FromFirstName: "Ann", Text: text}}
}

func callbackUpdate(from int64, id, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: id, FromID: from, ChatID: from, MessageID: 42, MessageText: "prompt", Data: data}}
}
