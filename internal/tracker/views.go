package tracker

import (
	"context"
	"fmt"
	"time"

	"routinebot/internal/catalog"
	"routinebot/internal/clock"
)

type TaskStatus struct {
	Task catalog.TaskDefinition
	Done bool
	At   time.Time
}

// StatusView is today's state of every task in catalog order.
type StatusView struct {
	Date  clock.Date
	Tasks []TaskStatus
	Rate  float64
}

type ReportItem struct {
	Key   string
	Label string
	At    time.Time
}

type ReportDay struct {
	Date  clock.Date
	Items []ReportItem
}

// ReportView groups recent completions by day, most recent first. Days
// without completions are omitted.
type ReportView struct {
	Today clock.Date
	Days  []ReportDay
	Rate  float64
}

func (s *SummaryEngine) Status(ctx context.Context, userID int64, now time.Time) (StatusView, error) {
	today := clock.DateOf(now, s.loc)
	recs, err := s.store.CompletionsInRange(ctx, userID, today, today)
	if err != nil {
		return StatusView{}, fmt.Errorf("status: %w", err)
	}
	doneAt := make(map[string]time.Time, len(recs))
	for _, r := range recs {
		doneAt[r.TaskKey] = r.At
	}
	rate, err := s.store.CompletionRate(ctx, userID, today.AddDays(-(s.rateDays - 1)), today, s.cat.Len())
	if err != nil {
		return StatusView{}, fmt.Errorf("status rate: %w", err)
	}

	v := StatusView{Date: today, Rate: rate}
	for _, t := range s.cat.Tasks() {
		at, done := doneAt[t.Key]
		v.Tasks = append(v.Tasks, TaskStatus{Task: t, Done: done, At: at})
	}
	return v, nil
}

// Report covers the days ending today (7 when days <= 0).
func (s *SummaryEngine) Report(ctx context.Context, userID int64, now time.Time, days int) (ReportView, error) {
	if days <= 0 {
		days = 7
	}
	today := clock.DateOf(now, s.loc)
	from := today.AddDays(-(days - 1))
	recs, err := s.store.CompletionsInRange(ctx, userID, from, today)
	if err != nil {
		return ReportView{}, fmt.Errorf("report: %w", err)
	}
	rate, err := s.store.CompletionRate(ctx, userID, from, today, s.cat.Len())
	if err != nil {
		return ReportView{}, fmt.Errorf("report rate: %w", err)
	}

	v := ReportView{Today: today, Rate: rate}
	for _, r := range recs {
		if n := len(v.Days); n == 0 || v.Days[n-1].Date != r.Date {
			v.Days = append(v.Days, ReportDay{Date: r.Date})
		}
		last := &v.Days[len(v.Days)-1]
		last.Items = append(last.Items, ReportItem{Key: r.TaskKey, Label: s.label(r.TaskKey), At: r.At})
	}
	return v, nil
}
