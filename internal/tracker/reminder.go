package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"routinebot/internal/catalog"
	"routinebot/internal/clock"
	"routinebot/internal/eventbus"
	"routinebot/internal/storage"
	"routinebot/internal/transport"
	logx "routinebot/pkg/logx"
)

var (
	// ErrUnknownTask means a trigger or button refers to a key missing from
	// the catalog (configuration drift).
	ErrUnknownTask   = errors.New("unknown task")
	ErrAlreadyFiring = errors.New("reminder already firing")
)

// Outcome is the result of AcceptCompletion.
type Outcome int

const (
	Accepted Outcome = iota + 1
	AlreadyDone
	UnknownTask
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case AlreadyDone:
		return "already_done"
	case UnknownTask:
		return "unknown_task"
	default:
		return "invalid"
	}
}

// ReminderEngine fires task reminders and records completions. It owns the
// notifiable set: registered users minus those found unreachable during a
// fan-out in this process lifetime.
type ReminderEngine struct {
	cat   *catalog.Catalog
	store storage.Store
	clock clock.Clock
	loc   *time.Location
	log   logx.Logger
	bus   eventbus.Bus
	out   *fanout

	firingMu sync.Mutex
	firing   map[string]struct{}

	optMu    sync.RWMutex
	optedOut map[int64]struct{}
}

func NewReminderEngine(d Deps) *ReminderEngine {
	d.normalize()
	return &ReminderEngine{
		cat:      d.Catalog,
		store:    d.Store,
		clock:    d.Clock,
		loc:      d.Location,
		log:      d.Log.With(logx.String("comp", "tracker.reminder")),
		bus:      d.Bus,
		out:      newFanout(d, "tracker.reminder"),
		firing:   map[string]struct{}{},
		optedOut: map[int64]struct{}{},
	}
}

// FireReminder sends the task prompt with its completion button to every
// notifiable user who has not completed the task on now's calendar day.
func (e *ReminderEngine) FireReminder(ctx context.Context, taskKey string, now time.Time) (FanoutReport, error) {
	task, ok := e.cat.Get(taskKey)
	if !ok {
		e.log.Warn("configuration drift: reminder for unknown task", logx.String("task", taskKey))
		return FanoutReport{}, fmt.Errorf("%w: %q", ErrUnknownTask, taskKey)
	}
	if !e.beginFiring(taskKey) {
		e.log.Debug("reminder already firing", logx.String("task", taskKey))
		return FanoutReport{}, fmt.Errorf("%w: %q", ErrAlreadyFiring, taskKey)
	}
	defer e.endFiring(taskKey)

	today := clock.DateOf(now, e.loc)
	users, err := e.Notifiable(ctx)
	if err != nil {
		return FanoutReport{}, err
	}

	rep, startedAt := e.out.begin("reminder:"+taskKey, len(users))

	action := &transport.Action{Label: task.Label, Data: CompletionData(task.Key)}
	for _, uid := range users {
		if ctx.Err() != nil {
			rep.Abandoned = true
			break
		}
		// Another batch may have found this user unreachable meanwhile.
		if e.OptedOut(uid) {
			rep.Skipped++
			continue
		}
		done, err := e.store.IsCompleted(ctx, uid, taskKey, today)
		if err != nil {
			// Skip rather than risk reminding about a finished task.
			rep.Failed++
			e.log.Warn("completion lookup failed; user skipped", logx.String("task", taskKey), logx.Int64("user_id", uid), logx.Err(err))
			continue
		}
		if done {
			rep.Skipped++
			continue
		}
		reason, err := e.out.deliver(ctx, rep, uid, task.Prompt, action)
		if err != nil {
			rep.Abandoned = true
			break
		}
		if reason == transport.ReasonUnreachable {
			e.optOut(uid)
		}
	}
	e.out.finish(rep, startedAt)
	return *rep, nil
}

// AcceptCompletion records that userID finished taskKey on now's calendar
// day. It is the only way completion state changes.
func (e *ReminderEngine) AcceptCompletion(ctx context.Context, userID int64, taskKey string, now time.Time) (Outcome, error) {
	if _, ok := e.cat.Get(taskKey); !ok {
		e.log.Warn("configuration drift: completion for unknown task", logx.String("task", taskKey), logx.Int64("user_id", userID))
		return UnknownTask, nil
	}
	today := clock.DateOf(now, e.loc)
	res, err := e.store.RecordCompletion(ctx, userID, taskKey, today, now)
	if err != nil {
		return 0, fmt.Errorf("record completion: %w", err)
	}
	if res == storage.AlreadyExists {
		return AlreadyDone, nil
	}
	e.log.Info("task completed", logx.String("task", taskKey), logx.Int64("user_id", userID), logx.String("date", today.String()))
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeCompletionRecorded, Time: now, Data: eventbus.CompletionRecorded{
		UserID:  userID,
		TaskKey: taskKey,
		Date:    today.String(),
	}})
	return Accepted, nil
}

// Notifiable returns registered users that are not soft-opted-out, ascending.
func (e *ReminderEngine) Notifiable(ctx context.Context) ([]int64, error) {
	ids, err := e.store.ListUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	e.optMu.RLock()
	defer e.optMu.RUnlock()
	out := ids[:0]
	for _, id := range ids {
		if _, skip := e.optedOut[id]; !skip {
			out = append(out, id)
		}
	}
	return out, nil
}

// Activate clears a soft opt-out, e.g. after the user talks to the bot again.
func (e *ReminderEngine) Activate(userID int64) {
	e.optMu.Lock()
	_, was := e.optedOut[userID]
	delete(e.optedOut, userID)
	e.optMu.Unlock()
	if was {
		e.log.Info("user reactivated", logx.Int64("user_id", userID))
	}
}

// Rebuild reconciles the notifiable set with the registry by dropping every
// soft opt-out.
func (e *ReminderEngine) Rebuild() {
	e.optMu.Lock()
	n := len(e.optedOut)
	e.optedOut = map[int64]struct{}{}
	e.optMu.Unlock()
	e.log.Info("notifiable set rebuilt", logx.Int("cleared", n))
}

func (e *ReminderEngine) OptedOut(userID int64) bool {
	e.optMu.RLock()
	defer e.optMu.RUnlock()
	_, ok := e.optedOut[userID]
	return ok
}

// OptedOutCount is the size of the soft opt-out set.
func (e *ReminderEngine) OptedOutCount() int {
	e.optMu.RLock()
	defer e.optMu.RUnlock()
	return len(e.optedOut)
}

func (e *ReminderEngine) optOut(userID int64) {
	e.optMu.Lock()
	e.optedOut[userID] = struct{}{}
	e.optMu.Unlock()
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeUserOptedOut, Data: eventbus.UserOptedOut{UserID: userID}})
}

func (e *ReminderEngine) beginFiring(key string) bool {
	e.firingMu.Lock()
	defer e.firingMu.Unlock()
	if _, busy := e.firing[key]; busy {
		return false
	}
	e.firing[key] = struct{}{}
	return true
}

func (e *ReminderEngine) endFiring(key string) {
	e.firingMu.Lock()
	delete(e.firing, key)
	e.firingMu.Unlock()
}
