package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"routinebot/internal/clock"
	"routinebot/internal/storage"
)

var testTexts = SummaryTexts{
	Header: "Today:",
	Item:   "- %s",
	Count:  "%d of %d",
	Rate:   "week %.1f%%",
	Empty:  "Nothing yet, tomorrow is a new day",
	Error:  "Could not build the summary",
}

func seed(t *testing.T, st storage.Store, userID int64, key, day string, at time.Time) {
	t.Helper()
	if _, err := st.RecordCompletion(context.Background(), userID, key, date(day), at); err != nil {
		t.Fatalf("RecordCompletion: %v", err)
	}
}

func TestAggregateOrdersByCatalog(t *testing.T) {
	t.Parallel()
	now := at("2024-03-10", "22:00:00")
	e := newEnv(t, now)
	seed(t, e.store, 1, "dinner", "2024-03-10", at("2024-03-10", "19:05:00"))
	seed(t, e.store, 1, "legacy", "2024-03-10", at("2024-03-10", "07:00:00"))
	seed(t, e.store, 1, "morning_workout", "2024-03-10", at("2024-03-10", "20:00:00"))
	seed(t, e.store, 1, "breakfast", "2024-03-09", at("2024-03-09", "09:10:00"))

	sum := NewSummaryEngine(e.deps, NewReminderEngine(e.deps), testTexts, 7)
	agg, err := sum.Aggregate(context.Background(), 1, date("2024-03-10"))
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	want := []string{"morning_workout", "dinner", "legacy"}
	if strings.Join(agg.Keys, ",") != strings.Join(want, ",") {
		t.Fatalf("keys = %v, want %v", agg.Keys, want)
	}
	if agg.Labels[0] != "Workout done" || agg.Labels[2] != "legacy" {
		t.Fatalf("labels = %v", agg.Labels)
	}
	if agg.CatalogSize != 3 || agg.Done != 2 {
		t.Fatalf("done = %d of %d, want 2 of 3", agg.Done, agg.CatalogSize)
	}
	// A key dropped from the catalog is listed but not counted.
	if got := Render(agg, testTexts); !strings.Contains(got, "- legacy\n") || !strings.Contains(got, "2 of 3") {
		t.Fatalf("Render = %q", got)
	}
	// 4 completions over 2 active days of a 3-task catalog.
	if agg.Rate < 66.6 || agg.Rate > 66.7 {
		t.Fatalf("rate = %v", agg.Rate)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	agg := DailyAggregate{
		Keys:        []string{"morning_workout", "dinner"},
		Labels:      []string{"Workout done", "Dinner done"},
		Done:        2,
		CatalogSize: 6,
		Rate:        42.5,
	}
	got := Render(agg, testTexts)
	want := "Today:\n\n- Workout done\n- Dinner done\n\n2 of 6\nweek 42.5%"
	if got != want {
		t.Fatalf("Render =\n%q\nwant\n%q", got, want)
	}

	if got := Render(DailyAggregate{CatalogSize: 6}, testTexts); got != testTexts.Empty {
		t.Fatalf("empty Render = %q", got)
	}

	noRate := testTexts
	noRate.Rate = ""
	if got := Render(agg, noRate); strings.Contains(got, "week") {
		t.Fatalf("rate line rendered without template: %q", got)
	}
}

type rangeFailStore struct {
	storage.Store
	failFor int64
}

func (s rangeFailStore) CompletionsInRange(ctx context.Context, userID int64, from, to clock.Date) ([]storage.Completion, error) {
	if userID == s.failFor {
		return nil, errors.New("disk on fire")
	}
	return s.Store.CompletionsInRange(ctx, userID, from, to)
}

func TestSendDaily(t *testing.T) {
	t.Parallel()
	now := at("2024-03-10", "22:00:00")
	e := newEnv(t, now)
	registerUsers(t, e.store, 1, 2, 3)
	seed(t, e.store, 1, "breakfast", "2024-03-10", at("2024-03-10", "09:01:00"))
	e.deps.Store = rangeFailStore{Store: e.store, failFor: 3}

	sum := NewSummaryEngine(e.deps, NewReminderEngine(e.deps), testTexts, 7)
	rep, err := sum.SendDaily(context.Background(), now)
	if err != nil {
		t.Fatalf("SendDaily: %v", err)
	}
	if rep.Sent != 3 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	byUser := map[int64]string{}
	for _, m := range e.sender.messages() {
		byUser[m.UserID] = m.Text
		if m.Action != nil {
			t.Fatalf("summary carries an action: %+v", m)
		}
	}
	if !strings.Contains(byUser[1], "- Breakfast done") || !strings.Contains(byUser[1], "1 of 3") {
		t.Fatalf("user 1 summary = %q", byUser[1])
	}
	if byUser[2] != testTexts.Empty {
		t.Fatalf("user 2 summary = %q", byUser[2])
	}
	if byUser[3] != testTexts.Error {
		t.Fatalf("user 3 summary = %q", byUser[3])
	}
}

func TestStatusAndReport(t *testing.T) {
	t.Parallel()
	now := at("2024-03-10", "12:00:00")
	e := newEnv(t, now)
	seed(t, e.store, 5, "breakfast", "2024-03-10", at("2024-03-10", "09:02:00"))
	seed(t, e.store, 5, "dinner", "2024-03-08", at("2024-03-08", "19:30:00"))
	seed(t, e.store, 5, "morning_workout", "2024-03-08", at("2024-03-08", "08:20:00"))
	seed(t, e.store, 5, "dinner", "2024-03-01", at("2024-03-01", "19:30:00"))
	sum := NewSummaryEngine(e.deps, NewReminderEngine(e.deps), testTexts, 7)

	st, err := sum.Status(context.Background(), 5, now)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st.Tasks) != 3 || st.Tasks[0].Done || !st.Tasks[1].Done || st.Tasks[2].Done {
		t.Fatalf("unexpected status: %+v", st.Tasks)
	}
	if st.Date != date("2024-03-10") {
		t.Fatalf("status date = %s", st.Date)
	}

	rep, err := sum.Report(context.Background(), 5, now, 7)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(rep.Days) != 2 {
		t.Fatalf("report days = %+v", rep.Days)
	}
	if rep.Days[0].Date != date("2024-03-10") || rep.Days[1].Date != date("2024-03-08") {
		t.Fatalf("report not most recent first: %s, %s", rep.Days[0].Date, rep.Days[1].Date)
	}
	if len(rep.Days[1].Items) != 2 || rep.Days[1].Items[0].Key != "morning_workout" {
		t.Fatalf("items of 2024-03-08 = %+v", rep.Days[1].Items)
	}
	// 3 completions over 2 active days of a 3-task catalog.
	if rep.Rate != 50 {
		t.Fatalf("rate = %v", rep.Rate)
	}
}
