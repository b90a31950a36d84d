package tracker

import (
	"context"
	"errors"
	"time"

	"routinebot/internal/catalog"
)

const SummaryTrigger = "summary"

// ReminderTrigger names the loop trigger of a catalog task.
func ReminderTrigger(key string) string { return "reminder:" + key }

// RegisterTriggers adds one daily trigger per catalog task and the summary
// trigger at summaryAt.
func RegisterTriggers(l *Loop, cat *catalog.Catalog, rem *ReminderEngine, sum *SummaryEngine, summaryAt catalog.FireTime) error {
	for _, t := range cat.Tasks() {
		sched, err := DailySchedule(t.FireAt)
		if err != nil {
			return err
		}
		key := t.Key
		err = l.Add(ReminderTrigger(key), sched, func(ctx context.Context, due time.Time) error {
			_, err := rem.FireReminder(ctx, key, due)
			if errors.Is(err, ErrAlreadyFiring) {
				return nil
			}
			return err
		})
		if err != nil {
			return err
		}
	}

	sched, err := DailySchedule(summaryAt)
	if err != nil {
		return err
	}
	return l.Add(SummaryTrigger, sched, func(ctx context.Context, due time.Time) error {
		_, err := sum.SendDaily(ctx, due)
		return err
	})
}
