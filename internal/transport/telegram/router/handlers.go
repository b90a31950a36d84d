package router

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"

	"routinebot/internal/catalog"
	"routinebot/internal/clock"
	"routinebot/internal/storage"
	"routinebot/internal/tracker"
	kit "routinebot/internal/transport"
	logx "routinebot/pkg/logx"
)

const maxReportDays = 31

type Deps struct {
	Catalog   *catalog.Catalog
	Reminders *tracker.ReminderEngine
	Summary   *tracker.SummaryEngine
	Users     storage.UserRegistry
	Clock     clock.Clock
	Texts     Texts
	DoneWords []string
	// ReportDays is the default /report window.
	ReportDays int
	// Rand picks cheers; nil seeds a random source.
	Rand *rand.Rand
	Log  logx.Logger
}

// Handlers implement the bot commands on top of the tracker engines.
type Handlers struct {
	d   Deps
	log logx.Logger

	rngMu sync.Mutex
}

func NewHandlers(d Deps) *Handlers {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.ReportDays <= 0 {
		d.ReportDays = 7
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Handlers{d: d, log: d.Log.With(logx.String("comp", "telegram.handlers"))}
}

// Register installs commands, callbacks, the free-text handler and the
// activity middleware on r.
func (h *Handlers) Register(r *Router) {
	r.Use(MWErrorReply(h.d.Texts.Error), h.touch())
	r.OnText(h.handleText)
	r.SetRegistry(h.Commands(), h.Callbacks())
}

func (h *Handlers) Commands() []Command {
	kb := h.d.Texts.Keyboard
	return []Command{
		{Name: "start", Description: "начать и показать клавиатуру", Handle: h.handleStart},
		{Name: "help", Aliases: []string{"помощь"}, Description: "помощь", Buttons: []string{kb.Help, "помощь"}, Handle: h.handleStart},
		{Name: "status", Aliases: []string{"статус"}, Description: "статус задач на сегодня", Buttons: []string{kb.Status, "статус"}, Handle: h.handleStatus},
		{Name: "report", Aliases: []string{"отчёт", "отчет"}, Description: "отчёт за последние дни", Buttons: []string{kb.Report, "отчёт"}, Handle: h.handleReport},
		{Name: "schedule", Aliases: []string{"расписание"}, Description: "расписание напоминаний", Buttons: []string{kb.Schedule, "расписание"}, Handle: h.handleSchedule},
	}
}

func (h *Handlers) Callbacks() []CallbackRoute {
	return []CallbackRoute{
		{NS: "task", Action: "done", Handle: h.handleDone},
	}
}

// touch records user activity before every request. Unknown users are left
// unregistered until /start.
func (h *Handlers) touch() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if req.User.ID != 0 && h.d.Users != nil {
				if err := h.d.Users.TouchUser(ctx, req.User.ID, h.d.Clock.Now()); err != nil {
					req.Logger.Warn("touch user failed", logx.Err(err))
				}
			}
			return next(ctx, req)
		}
	}
}

func (h *Handlers) reply(ctx context.Context, req *Request, text string, html bool) error {
	opt := &kit.SendOptions{DisablePreview: true}
	if html {
		opt.ParseMode = "HTML"
	}
	_, err := req.Adapter.SendText(ctx, req.Chat, text, opt)
	return err
}

func (h *Handlers) handleStart(ctx context.Context, req *Request) error {
	now := h.d.Clock.Now()
	err := h.d.Users.UpsertUser(ctx, storage.User{
		ID:           req.User.ID,
		Username:     req.User.Username,
		FirstName:    req.User.FirstName,
		LastActivity: now,
	})
	if err != nil {
		return fmt.Errorf("register user: %w", err)
	}
	h.d.Reminders.Activate(req.User.ID)
	req.Logger.Info("user started bot", logx.String("username", req.User.Username))

	_, err = req.Adapter.SendText(ctx, req.Chat, h.d.Texts.Start, &kit.SendOptions{
		DisablePreview: true,
		Keyboard:       h.d.Texts.Keyboard.rows(),
	})
	return err
}

func (h *Handlers) handleStatus(ctx context.Context, req *Request) error {
	v, err := h.d.Summary.Status(ctx, req.User.ID, h.d.Clock.Now())
	if err != nil {
		return err
	}
	return h.reply(ctx, req, renderStatus(v, h.d.Texts), true)
}

func (h *Handlers) handleReport(ctx context.Context, req *Request) error {
	days := h.d.ReportDays
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil && n > 0 {
			days = min(n, maxReportDays)
		}
	}
	v, err := h.d.Summary.Report(ctx, req.User.ID, h.d.Clock.Now(), days)
	if err != nil {
		return err
	}
	return h.reply(ctx, req, renderReport(v, days, h.d.Texts), true)
}

func (h *Handlers) handleSchedule(ctx context.Context, req *Request) error {
	v, err := h.d.Summary.Status(ctx, req.User.ID, h.d.Clock.Now())
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(v.Tasks))
	for _, s := range v.Tasks {
		done[s.Task.Key] = s.Done
	}
	return h.reply(ctx, req, renderSchedule(h.d.Catalog.ByFireTime(), done, h.d.Texts), true)
}

func (h *Handlers) handleDone(ctx context.Context, req *Request, key string) error {
	cb := req.Callback
	out, err := h.d.Reminders.AcceptCompletion(ctx, req.User.ID, key, h.d.Clock.Now())
	if err != nil {
		return err
	}
	_ = req.Adapter.AnswerCallback(ctx, cb.ID, "")

	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	prompt := cb.MessageText
	if task, ok := h.d.Catalog.Get(key); ok {
		prompt = task.Prompt
	}
	var text string
	switch out {
	case tracker.Accepted:
		text = prompt + "\n\n" + h.d.Texts.TaskCompleted
	case tracker.AlreadyDone:
		text = prompt + "\n\n" + h.d.Texts.TaskAlreadyCompleted
	default:
		text = h.d.Texts.TaskUnknown
	}
	if err := req.Adapter.EditText(ctx, ref, text, nil); err != nil {
		req.Logger.Warn("edit reminder failed", logx.Err(err))
	}
	if out != tracker.Accepted {
		return nil
	}
	if cheer := h.cheer(); cheer != "" {
		_, err = req.Adapter.SendText(ctx, req.Chat, cheer, nil)
	}
	return err
}

func (h *Handlers) handleText(ctx context.Context, req *Request) error {
	task, ok := h.d.Catalog.MatchText(req.Text, h.d.DoneWords)
	if !ok {
		_, err := req.Adapter.SendText(ctx, req.Chat, h.d.Texts.Unknown, &kit.SendOptions{Keyboard: h.d.Texts.Keyboard.rows()})
		return err
	}
	out, err := h.d.Reminders.AcceptCompletion(ctx, req.User.ID, task.Key, h.d.Clock.Now())
	if err != nil {
		return err
	}
	var text string
	switch out {
	case tracker.Accepted:
		text = fmt.Sprintf(h.d.Texts.KeywordAccepted, task.Title())
	case tracker.AlreadyDone:
		text = fmt.Sprintf(h.d.Texts.KeywordAlready, task.Title())
	default:
		return errors.New("matched task missing from catalog")
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, text, nil)
	return err
}

func (h *Handlers) cheer() string {
	c := h.d.Texts.Cheers
	if len(c) == 0 {
		return ""
	}
	h.rngMu.Lock()
	defer h.rngMu.Unlock()
	return c[h.d.Rand.IntN(len(c))]
}
