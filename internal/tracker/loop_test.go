package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"routinebot/internal/catalog"
	"routinebot/internal/clock"
)

type firings struct {
	mu  sync.Mutex
	got []time.Time
}

func (f *firings) run(_ context.Context, due time.Time) error {
	f.mu.Lock()
	f.got = append(f.got, due)
	f.mu.Unlock()
	return nil
}

func (f *firings) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func newTestLoop(t *testing.T, hhmm string, f *firings) *Loop {
	t.Helper()
	ft, err := catalog.ParseFireTime(hhmm)
	if err != nil {
		t.Fatalf("ParseFireTime: %v", err)
	}
	sched, err := DailySchedule(ft)
	if err != nil {
		t.Fatalf("DailySchedule: %v", err)
	}
	l := NewLoop(LoopConfig{Tick: 20 * time.Second, Location: msk})
	if err := l.Add("t", sched, f.run); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return l
}

func TestLoopFiresOncePerDay(t *testing.T) {
	t.Parallel()
	f := &firings{}
	l := newTestLoop(t, "08:15", f)
	ctx := context.Background()

	l.evaluate(ctx, at("2024-03-10", "08:14:50"))
	if f.count() != 0 {
		t.Fatalf("fired early")
	}
	l.evaluate(ctx, at("2024-03-10", "08:15:10"))
	l.evaluate(ctx, at("2024-03-10", "08:15:30"))
	l.evaluate(ctx, at("2024-03-10", "08:15:50"))
	if f.count() != 1 {
		t.Fatalf("fired %d times, want 1", f.count())
	}
	if want := at("2024-03-10", "08:15:00"); !f.got[0].Equal(want) {
		t.Fatalf("due = %v, want %v", f.got[0], want)
	}

	l.evaluate(ctx, at("2024-03-11", "08:15:20"))
	if f.count() != 2 {
		t.Fatalf("next day fired %d times total, want 2", f.count())
	}
}

func TestLoopFiresWhenStartedInsideDueMinute(t *testing.T) {
	t.Parallel()
	f := &firings{}
	l := newTestLoop(t, "08:15", f)
	l.evaluate(context.Background(), at("2024-03-10", "08:15:40"))
	if f.count() != 1 {
		t.Fatalf("fired %d times, want 1", f.count())
	}
}

func TestLoopLogsMissedFiring(t *testing.T) {
	t.Parallel()
	f := &firings{}
	l := newTestLoop(t, "08:15", f)
	ctx := context.Background()

	l.evaluate(ctx, at("2024-03-10", "08:14:00"))
	// Process paused past the due minute.
	l.evaluate(ctx, at("2024-03-10", "08:17:00"))
	if f.count() != 0 {
		t.Fatalf("missed firing was caught up")
	}
	if l.Missed() != 1 {
		t.Fatalf("missed = %d, want 1", l.Missed())
	}
	l.evaluate(ctx, at("2024-03-10", "08:17:20"))
	if f.count() != 0 || l.Missed() != 1 {
		t.Fatalf("missed firing reported twice or fired late")
	}
}

func TestLoopClampsLongTickBelowFireWindow(t *testing.T) {
	t.Parallel()
	f := &firings{}
	sched, _ := DailySchedule(catalog.FireTime{Hour: 8, Minute: 15})
	l := NewLoop(LoopConfig{Tick: time.Minute, Location: msk})
	if err := l.Add("t", sched, f.run); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if l.Tick() >= fireWindow {
		t.Fatalf("tick = %s, want below %s", l.Tick(), fireWindow)
	}

	// Ticks run a second late each time, starting just before the due minute.
	ctx := context.Background()
	now := at("2024-03-10", "08:14:59")
	for range 4 {
		l.evaluate(ctx, now)
		now = now.Add(l.Tick() + time.Second)
	}
	if f.count() != 1 || l.Missed() != 0 {
		t.Fatalf("fired = %d, missed = %d", f.count(), l.Missed())
	}
}

func TestLoopSpawnsTriggers(t *testing.T) {
	t.Parallel()
	f := &firings{}
	var spawned []string
	ft := catalog.FireTime{Hour: 22}
	sched, _ := DailySchedule(ft)
	l := NewLoop(LoopConfig{
		Location: msk,
		Spawn: func(name string, fn func(ctx context.Context) error) {
			spawned = append(spawned, name)
			_ = fn(context.Background())
		},
	})
	_ = l.Add(SummaryTrigger, sched, f.run)
	l.evaluate(context.Background(), at("2024-03-10", "22:00:01"))
	if len(spawned) != 1 || spawned[0] != "trigger:summary" || f.count() != 1 {
		t.Fatalf("spawned = %v, fired = %d", spawned, f.count())
	}
	if l.LastTick().IsZero() {
		t.Fatalf("LastTick not recorded")
	}
}

func TestLoopAddRejectsDuplicates(t *testing.T) {
	t.Parallel()
	f := &firings{}
	l := newTestLoop(t, "08:15", f)
	sched, _ := DailySchedule(catalog.FireTime{Hour: 9})
	if err := l.Add("t", sched, f.run); err == nil {
		t.Fatalf("duplicate trigger accepted")
	}
	if err := l.Add("", sched, f.run); err == nil {
		t.Fatalf("empty name accepted")
	}
}

// The 08:15 scenario end to end: the loop dispatches the reminder, users
// who already completed the task are skipped, and a button press is
// accepted once.
func TestMorningReminderScenario(t *testing.T) {
	t.Parallel()
	now := at("2024-03-10", "08:15:05")
	e := newEnv(t, now)
	registerUsers(t, e.store, 10, 20)
	seed(t, e.store, 20, "morning_workout", "2024-03-10", at("2024-03-10", "07:50:00"))

	rem := NewReminderEngine(e.deps)
	sum := NewSummaryEngine(e.deps, rem, testTexts, 7)
	l := NewLoop(LoopConfig{Location: msk, Clock: clock.Func(func() time.Time { return now })})
	if err := RegisterTriggers(l, e.cat, rem, sum, catalog.FireTime{Hour: 22}); err != nil {
		t.Fatalf("RegisterTriggers: %v", err)
	}
	if n := len(l.Triggers(now)); n != 4 {
		t.Fatalf("triggers = %d, want 4", n)
	}
	if err := RegisterTriggers(l, e.cat, rem, sum, catalog.FireTime{Hour: 22}); err == nil {
		t.Fatalf("re-registering triggers should fail")
	}

	l.evaluate(context.Background(), now)
	msgs := e.sender.messages()
	if len(msgs) != 1 || msgs[0].UserID != 10 || msgs[0].Text != "Time to work out" {
		t.Fatalf("messages = %+v", msgs)
	}

	key, ok := ParseCompletionData(msgs[0].Action.Data)
	if !ok {
		t.Fatalf("bad action data %q", msgs[0].Action.Data)
	}
	out, err := rem.AcceptCompletion(context.Background(), 10, key, now.Add(time.Minute))
	if err != nil || out != Accepted {
		t.Fatalf("AcceptCompletion = %v, %v", out, err)
	}
	out, err = rem.AcceptCompletion(context.Background(), 10, key, now.Add(2*time.Minute))
	if err != nil || out != AlreadyDone {
		t.Fatalf("second AcceptCompletion = %v, %v", out, err)
	}

	// A manual re-fire the same day reaches nobody.
	e.sender.reset()
	rep, err := rem.FireReminder(context.Background(), key, now.Add(3*time.Minute))
	if err != nil || rep.Sent != 0 || rep.Skipped != 2 {
		t.Fatalf("re-fire = %+v, %v", rep, err)
	}
}

func TestLoopRunStops(t *testing.T) {
	t.Parallel()
	l := NewLoop(LoopConfig{Tick: 10 * time.Millisecond, Location: msk})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if l.LastTick().IsZero() {
		t.Fatalf("no tick recorded")
	}
}
