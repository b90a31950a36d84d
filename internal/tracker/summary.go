package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"routinebot/internal/catalog"
	"routinebot/internal/clock"
	"routinebot/internal/storage"
	logx "routinebot/pkg/logx"
)

// SummaryTexts are the templates of the daily summary.
type SummaryTexts struct {
	Header string
	// Item is applied to each completed task label.
	Item string
	// Count receives the completed count and the catalog size.
	Count string
	// Rate receives the completion rate in percent.
	Rate  string
	Empty string
	Error string
}

func DefaultSummaryTexts() SummaryTexts {
	return SummaryTexts{
		Header: "🌟 Сводка дня:",
		Item:   "✅ %s",
		Count:  "🎯 Выполнено задач: %d из %d",
		Rate:   "📈 Выполнение за неделю: %.1f%%",
		Empty:  "📅 Сегодня задачи не выполнялись. Завтра новый день - новые возможности! 💪",
		Error:  "⚠️ Не удалось подготовить сводку дня.",
	}
}

// DailyAggregate is one user's completions for one day.
type DailyAggregate struct {
	UserID int64
	Date   clock.Date
	// Keys are the completed task keys: catalog order first, then keys no
	// longer in the catalog.
	Keys   []string
	Labels []string
	// Done counts the completed keys still in the catalog.
	Done        int
	CatalogSize int
	Rate        float64
}

func (a DailyAggregate) Empty() bool { return len(a.Keys) == 0 }

// SummaryEngine aggregates completions. It never writes.
type SummaryEngine struct {
	cat      *catalog.Catalog
	store    storage.Store
	audience Audience
	loc      *time.Location
	log      logx.Logger
	out      *fanout
	texts    SummaryTexts
	rateDays int
}

// NewSummaryEngine builds the engine; rateDays is the completion-rate window
// ending on the summarized day (7 when <= 0).
func NewSummaryEngine(d Deps, audience Audience, texts SummaryTexts, rateDays int) *SummaryEngine {
	d.normalize()
	if rateDays <= 0 {
		rateDays = 7
	}
	return &SummaryEngine{
		cat:      d.Catalog,
		store:    d.Store,
		audience: audience,
		loc:      d.Location,
		log:      d.Log.With(logx.String("comp", "tracker.summary")),
		out:      newFanout(d, "tracker.summary"),
		texts:    texts,
		rateDays: rateDays,
	}
}

// Aggregate builds the DailyAggregate of userID for day.
func (s *SummaryEngine) Aggregate(ctx context.Context, userID int64, day clock.Date) (DailyAggregate, error) {
	recs, err := s.store.CompletionsInRange(ctx, userID, day, day)
	if err != nil {
		return DailyAggregate{}, fmt.Errorf("completions for %s: %w", day, err)
	}
	rate, err := s.store.CompletionRate(ctx, userID, day.AddDays(-(s.rateDays - 1)), day, s.cat.Len())
	if err != nil {
		return DailyAggregate{}, fmt.Errorf("completion rate: %w", err)
	}

	keys := make([]string, 0, len(recs))
	for _, r := range recs {
		keys = append(keys, r.TaskKey)
	}
	s.sortByCatalog(keys)

	agg := DailyAggregate{UserID: userID, Date: day, Keys: keys, CatalogSize: s.cat.Len(), Rate: rate}
	for _, k := range keys {
		agg.Labels = append(agg.Labels, s.label(k))
		if s.cat.Position(k) >= 0 {
			agg.Done++
		}
	}
	return agg, nil
}

// Render formats an aggregate as the user-facing summary.
func Render(agg DailyAggregate, t SummaryTexts) string {
	if agg.Empty() {
		return t.Empty
	}
	var b strings.Builder
	b.WriteString(t.Header)
	b.WriteString("\n\n")
	for _, l := range agg.Labels {
		b.WriteString(fmt.Sprintf(t.Item, l))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf(t.Count, agg.Done, agg.CatalogSize))
	if t.Rate != "" {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(t.Rate, agg.Rate))
	}
	return b.String()
}

// SendDaily sends every notifiable user the summary of now's calendar day.
// A storage failure for one user degrades that user's message to the error
// notice; delivery failures are isolated per user.
func (s *SummaryEngine) SendDaily(ctx context.Context, now time.Time) (FanoutReport, error) {
	day := clock.DateOf(now, s.loc)
	users, err := s.audience.Notifiable(ctx)
	if err != nil {
		return FanoutReport{}, err
	}

	rep, startedAt := s.out.begin("summary:"+day.String(), len(users))
	for _, uid := range users {
		if ctx.Err() != nil {
			rep.Abandoned = true
			break
		}
		text := s.texts.Error
		agg, err := s.Aggregate(ctx, uid, day)
		if err != nil {
			s.log.Warn("summary aggregate failed", logx.Int64("user_id", uid), logx.Err(err))
		} else {
			text = Render(agg, s.texts)
		}
		if strings.TrimSpace(text) == "" {
			rep.Skipped++
			continue
		}
		if _, err := s.out.deliver(ctx, rep, uid, text, nil); err != nil {
			rep.Abandoned = true
			break
		}
	}
	s.out.finish(rep, startedAt)
	return *rep, nil
}

func (s *SummaryEngine) label(key string) string {
	if t, ok := s.cat.Get(key); ok {
		return t.Title()
	}
	return key
}

// sortByCatalog orders keys by catalog position; unknown keys go last, by name.
func (s *SummaryEngine) sortByCatalog(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		pi, pj := s.cat.Position(keys[i]), s.cat.Position(keys[j])
		switch {
		case pi >= 0 && pj >= 0:
			return pi < pj
		case pi >= 0:
			return true
		case pj >= 0:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
}
