package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"routinebot/internal/clock"
	"routinebot/internal/storage"
	"routinebot/internal/transport"
)

func TestFireReminderSkipsCompletedUsers(t *testing.T) {
	t.Parallel()
	now := at("2024-03-10", "08:15:05")
	e := newEnv(t, now)
	registerUsers(t, e.store, 1, 2, 3)
	if _, err := e.store.RecordCompletion(context.Background(), 2, "morning_workout", date("2024-03-10"), now); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}

	rem := NewReminderEngine(e.deps)
	rep, err := rem.FireReminder(context.Background(), "morning_workout", now)
	if err != nil {
		t.Fatalf("FireReminder: %v", err)
	}
	if got := e.sender.recipients(); !equalIDs(got, []int64{1, 3}) {
		t.Fatalf("recipients = %v, want [1 3]", got)
	}
	if rep.Total != 3 || rep.Sent != 2 || rep.Skipped != 1 || rep.BatchID == "" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	msg := e.sender.messages()[0]
	if msg.Text != "Time to work out" || msg.Action == nil {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if key, ok := ParseCompletionData(msg.Action.Data); !ok || key != "morning_workout" {
		t.Fatalf("action data %q does not carry the task key", msg.Action.Data)
	}
}

// completingSender records a completion for another user while the batch is
// still sending.
type completingSender struct {
	*fakeSender
	rem      *ReminderEngine
	onUser   int64
	complete int64
	now      time.Time
}

func (s *completingSender) Send(ctx context.Context, userID int64, text string, action *transport.Action) error {
	if userID == s.onUser {
		if _, err := s.rem.AcceptCompletion(ctx, s.complete, "morning_workout", s.now); err != nil {
			return err
		}
	}
	return s.fakeSender.Send(ctx, userID, text, action)
}

func TestFireReminderChecksCompletionPerUser(t *testing.T) {
	t.Parallel()
	now := at("2024-03-10", "08:15:05")
	e := newEnv(t, now)
	registerUsers(t, e.store, 1, 2)

	cs := &completingSender{fakeSender: e.sender, onUser: 1, complete: 2, now: now}
	e.deps.Sender = cs
	rem := NewReminderEngine(e.deps)
	cs.rem = rem

	rep, err := rem.FireReminder(context.Background(), "morning_workout", now)
	if err != nil {
		t.Fatalf("FireReminder: %v", err)
	}
	if got := e.sender.recipients(); !equalIDs(got, []int64{1}) {
		t.Fatalf("recipients = %v, want [1]", got)
	}
	if rep.Total != 2 || rep.Sent != 1 || rep.Skipped != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestFireReminderUnknownTask(t *testing.T) {
	t.Parallel()
	e := newEnv(t, at("2024-03-10", "08:15:00"))
	registerUsers(t, e.store, 1)
	rem := NewReminderEngine(e.deps)

	_, err := rem.FireReminder(context.Background(), "nope", at("2024-03-10", "08:15:00"))
	if !errors.Is(err, ErrUnknownTask) {
		t.Fatalf("expected ErrUnknownTask, got %v", err)
	}
	if n := len(e.sender.messages()); n != 0 {
		t.Fatalf("sent %d messages for unknown task", n)
	}
}

func TestFireReminderAlreadyFiring(t *testing.T) {
	t.Parallel()
	e := newEnv(t, at("2024-03-10", "08:15:00"))
	rem := NewReminderEngine(e.deps)
	if !rem.beginFiring("breakfast") {
		t.Fatalf("beginFiring on idle key failed")
	}
	_, err := rem.FireReminder(context.Background(), "breakfast", at("2024-03-10", "09:00:00"))
	if !errors.Is(err, ErrAlreadyFiring) {
		t.Fatalf("expected ErrAlreadyFiring, got %v", err)
	}
	rem.endFiring("breakfast")
	if _, err := rem.FireReminder(context.Background(), "breakfast", at("2024-03-10", "09:00:00")); err != nil {
		t.Fatalf("FireReminder after release: %v", err)
	}
}

func TestUnreachableUsersOptOutUntilRebuild(t *testing.T) {
	t.Parallel()
	now := at("2024-03-10", "09:00:00")
	e := newEnv(t, now)
	registerUsers(t, e.store, 1, 2, 3)
	e.sender.fail(2, &transport.DeliveryError{Reason: transport.ReasonUnreachable, Err: errors.New("bot was blocked")})
	rem := NewReminderEngine(e.deps)

	rep, err := rem.FireReminder(context.Background(), "breakfast", now)
	if err != nil {
		t.Fatalf("FireReminder: %v", err)
	}
	if rep.Unreachable != 1 || rep.Sent != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if !rem.OptedOut(2) || rem.OptedOutCount() != 1 {
		t.Fatalf("user 2 should be opted out")
	}
	ids, err := rem.Notifiable(context.Background())
	if err != nil || !equalIDs(ids, []int64{1, 3}) {
		t.Fatalf("Notifiable = %v, %v", ids, err)
	}

	e.sender.reset()
	if _, err := rem.FireReminder(context.Background(), "dinner", now); err != nil {
		t.Fatalf("FireReminder: %v", err)
	}
	if e.sender.calls[2] != 0 {
		t.Fatalf("opted-out user was contacted")
	}

	rem.Rebuild()
	ids, _ = rem.Notifiable(context.Background())
	if !equalIDs(ids, []int64{1, 2, 3}) {
		t.Fatalf("after Rebuild Notifiable = %v", ids)
	}

	rem.optOut(3)
	rem.Activate(3)
	if rem.OptedOut(3) {
		t.Fatalf("Activate did not clear opt-out")
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	t.Parallel()
	now := at("2024-03-10", "09:00:00")
	e := newEnv(t, now)
	registerUsers(t, e.store, 1)
	e.sender.fail(1, &transport.DeliveryError{Reason: transport.ReasonTransient, Err: errors.New("flood")})
	rem := NewReminderEngine(e.deps)

	rep, err := rem.FireReminder(context.Background(), "breakfast", now)
	if err != nil {
		t.Fatalf("FireReminder: %v", err)
	}
	if rep.Failed != 1 || rep.Unreachable != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if got := e.sender.calls[1]; got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	if rem.OptedOut(1) {
		t.Fatalf("transient failure must not opt out")
	}
}

type flakyStore struct {
	storage.Store
	failFor int64
}

func (s flakyStore) IsCompleted(ctx context.Context, userID int64, key string, d clock.Date) (bool, error) {
	if userID == s.failFor {
		return false, storage.ErrUnavailable
	}
	return s.Store.IsCompleted(ctx, userID, key, d)
}

func TestCompletionLookupErrorSkipsUser(t *testing.T) {
	t.Parallel()
	now := at("2024-03-10", "09:00:00")
	e := newEnv(t, now)
	registerUsers(t, e.store, 1, 2)
	e.deps.Store = flakyStore{Store: e.store, failFor: 1}
	rem := NewReminderEngine(e.deps)

	rep, err := rem.FireReminder(context.Background(), "breakfast", now)
	if err != nil {
		t.Fatalf("FireReminder: %v", err)
	}
	if got := e.sender.recipients(); !equalIDs(got, []int64{2}) {
		t.Fatalf("recipients = %v, want [2]", got)
	}
	if rep.Failed != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestFireReminderCanceledContext(t *testing.T) {
	t.Parallel()
	now := at("2024-03-10", "09:00:00")
	e := newEnv(t, now)
	registerUsers(t, e.store, 1, 2)
	rem := NewReminderEngine(e.deps)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, _ := rem.FireReminder(ctx, "breakfast", now)
	if n := len(e.sender.messages()); n != 0 {
		t.Fatalf("sent %d messages after cancellation", n)
	}
	if rep.Total > 0 && !rep.Abandoned {
		t.Fatalf("batch should be abandoned: %+v", rep)
	}
}

func TestAcceptCompletion(t *testing.T) {
	t.Parallel()
	now := at("2024-03-10", "23:59:00")
	e := newEnv(t, now)
	rem := NewReminderEngine(e.deps)
	ctx := context.Background()

	out, err := rem.AcceptCompletion(ctx, 7, "dinner", now)
	if err != nil || out != Accepted {
		t.Fatalf("first AcceptCompletion = %v, %v", out, err)
	}
	out, err = rem.AcceptCompletion(ctx, 7, "dinner", now)
	if err != nil || out != AlreadyDone {
		t.Fatalf("second AcceptCompletion = %v, %v", out, err)
	}
	out, err = rem.AcceptCompletion(ctx, 7, "unknown", now)
	if err != nil || out != UnknownTask {
		t.Fatalf("unknown AcceptCompletion = %v, %v", out, err)
	}

	// Next local day is a new completion.
	out, err = rem.AcceptCompletion(ctx, 7, "dinner", now.Add(2*time.Minute))
	if err != nil || out != Accepted {
		t.Fatalf("next-day AcceptCompletion = %v, %v", out, err)
	}
	done, err := e.store.IsCompleted(ctx, 7, "dinner", date("2024-03-11"))
	if err != nil || !done {
		t.Fatalf("IsCompleted next day = %v, %v", done, err)
	}
}

func TestAcceptCompletionStorageError(t *testing.T) {
	t.Parallel()
	now := at("2024-03-10", "10:00:00")
	e := newEnv(t, now)
	_ = e.store.Close()
	rem := NewReminderEngine(e.deps)

	_, err := rem.AcceptCompletion(context.Background(), 1, "breakfast", now)
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCompletionData(t *testing.T) {
	t.Parallel()
	if key, ok := ParseCompletionData(CompletionData("lunch")); !ok || key != "lunch" {
		t.Fatalf("round trip failed: %q %v", key, ok)
	}
	for _, bad := range []string{"", "task:done:", "other:done:lunch", "task:undo:lunch"} {
		if _, ok := ParseCompletionData(bad); ok {
			t.Fatalf("ParseCompletionData(%q) should fail", bad)
		}
	}
}
