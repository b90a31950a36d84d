package tracker

import (
	"context"
	"time"

	"github.com/rs/xid"
	"golang.org/x/time/rate"

	"routinebot/internal/eventbus"
	"routinebot/internal/transport"
	logx "routinebot/pkg/logx"
)

// FanoutReport summarizes one broadcast batch.
type FanoutReport struct {
	BatchID     string
	Name        string
	Total       int
	Sent        int
	Skipped     int
	Failed      int
	Unreachable int
	// Abandoned is set when cancellation stopped the batch early.
	Abandoned bool
	Took      time.Duration
}

type fanout struct {
	sender   Sender
	lim      *rate.Limiter
	delivery DeliveryConfig
	log      logx.Logger
	bus      eventbus.Bus
}

func newFanout(d Deps, comp string) *fanout {
	return &fanout{
		sender:   d.Sender,
		lim:      d.Limiter,
		delivery: d.Delivery,
		log:      d.Log.With(logx.String("comp", comp)),
		bus:      d.Bus,
	}
}

func (f *fanout) begin(name string, total int) (*FanoutReport, time.Time) {
	rep := &FanoutReport{BatchID: xid.New().String(), Name: name, Total: total}
	f.log.Info("batch started", logx.String("batch", rep.BatchID), logx.String("name", name), logx.Int("total", total))
	return rep, time.Now()
}

// deliver sends one message, retrying transient failures. It returns the
// failure reason (ReasonNone on success) and a non-nil error only when the
// batch must stop because ctx is done.
func (f *fanout) deliver(ctx context.Context, rep *FanoutReport, userID int64, text string, action *transport.Action) (transport.Reason, error) {
	var last error
	for attempt := 0; attempt <= f.delivery.RetryMax; attempt++ {
		if err := f.lim.Wait(ctx); err != nil {
			return transport.ReasonNone, err
		}
		err := f.sender.Send(ctx, userID, text, action)
		if err == nil {
			rep.Sent++
			return transport.ReasonNone, nil
		}
		if ctx.Err() != nil {
			rep.Failed++
			return transport.ReasonNone, ctx.Err()
		}
		last = err
		if transport.Classify(err) != transport.ReasonTransient || attempt == f.delivery.RetryMax {
			break
		}
		f.log.Debug("send retry scheduled", logx.String("batch", rep.BatchID), logx.Int64("user_id", userID), logx.Int("attempt", attempt+2), logx.Err(err))
		if err := sleepCtx(ctx, f.delivery.RetryDelay); err != nil {
			rep.Failed++
			return transport.ReasonNone, err
		}
	}

	reason := transport.Classify(last)
	fields := []logx.Field{
		logx.String("batch", rep.BatchID),
		logx.String("name", rep.Name),
		logx.Int64("user_id", userID),
		logx.String("reason", reason.String()),
		logx.Err(last),
	}
	if reason == transport.ReasonUnreachable {
		rep.Unreachable++
		f.log.Info("recipient unreachable", fields...)
	} else {
		rep.Failed++
		f.log.Warn("send failed", fields...)
	}
	return reason, nil
}

func (f *fanout) finish(rep *FanoutReport, startedAt time.Time) {
	rep.Took = time.Since(startedAt)
	fields := []logx.Field{
		logx.String("batch", rep.BatchID),
		logx.String("name", rep.Name),
		logx.Int("total", rep.Total),
		logx.Int("sent", rep.Sent),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed),
		logx.Int("unreachable", rep.Unreachable),
		logx.Bool("abandoned", rep.Abandoned),
		logx.Duration("dur", rep.Took),
	}
	if rep.Failed > 0 || rep.Abandoned {
		f.log.Warn("batch finished with failures", fields...)
	} else {
		f.log.Info("batch finished", fields...)
	}
	f.bus.Publish(eventbus.Event{Type: eventbus.TypeBatchFinished, Data: eventbus.BatchFinished{
		BatchID:     rep.BatchID,
		Name:        rep.Name,
		Total:       rep.Total,
		Sent:        rep.Sent,
		Skipped:     rep.Skipped,
		Failed:      rep.Failed,
		Unreachable: rep.Unreachable,
		Abandoned:   rep.Abandoned,
		Took:        rep.Took,
	}})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
