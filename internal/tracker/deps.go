package tracker

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"routinebot/internal/catalog"
	"routinebot/internal/clock"
	"routinebot/internal/eventbus"
	"routinebot/internal/storage"
	"routinebot/internal/transport"
	logx "routinebot/pkg/logx"
	"routinebot/pkg/tgui"
)

// Sender delivers one notification to a user's private chat.
// Failures should be classifiable with transport.Classify.
type Sender interface {
	Send(ctx context.Context, userID int64, text string, action *transport.Action) error
}

// Audience yields the users a broadcast goes to.
type Audience interface {
	Notifiable(ctx context.Context) ([]int64, error)
}

type DeliveryConfig struct {
	// SendInterval paces consecutive sends across all batches.
	SendInterval time.Duration
	// RetryMax bounds immediate retries of transient failures.
	RetryMax   int
	RetryDelay time.Duration
}

// Deps are the collaborators shared by the engines.
type Deps struct {
	Catalog  *catalog.Catalog
	Store    storage.Store
	Sender   Sender
	Clock    clock.Clock
	Location *time.Location
	Delivery DeliveryConfig
	// Limiter is shared by every fan-out; built from Delivery.SendInterval when nil.
	Limiter *rate.Limiter
	Log     logx.Logger
	Bus     eventbus.Bus
}

func (d *Deps) normalize() {
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Limiter == nil {
		d.Limiter = NewLimiter(d.Delivery.SendInterval)
	}
}

// NewLimiter returns a limiter allowing one send per interval; an interval
// <= 0 disables pacing.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

const (
	callbackNS   = "task"
	callbackDone = "done"
)

// CompletionData is the callback data of a task's completion button.
func CompletionData(taskKey string) string {
	return tgui.Data(callbackNS, callbackDone, taskKey)
}

// ParseCompletionData extracts the task key from completion button data.
func ParseCompletionData(data string) (string, bool) {
	ns, action, key, ok := tgui.Parse(data)
	if !ok || ns != callbackNS || action != callbackDone || key == "" {
		return "", false
	}
	return key, true
}
