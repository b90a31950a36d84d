// Package catalog holds the fixed set of daily tasks the bot reminds about.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyKey     = errors.New("task key is empty")
	ErrDuplicateKey = errors.New("duplicate task key")
)

// FireTime is a local time of day.
type FireTime struct {
	Hour   int
	Minute int
}

// ParseFireTime parses "HH:MM" (24h).
func ParseFireTime(s string) (FireTime, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return FireTime{}, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || len(mm) != 2 || h < 0 || h > 23 || m < 0 || m > 59 {
		return FireTime{}, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	return FireTime{Hour: h, Minute: m}, nil
}

func (f FireTime) String() string { return fmt.Sprintf("%02d:%02d", f.Hour, f.Minute) }

// CronSpec renders a five-field cron expression firing once a day at f.
func (f FireTime) CronSpec() string { return fmt.Sprintf("%d %d * * *", f.Minute, f.Hour) }

// On returns the instant f occurs on the calendar day of t (in t's location).
func (f FireTime) On(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), f.Hour, f.Minute, 0, 0, t.Location())
}

func (f FireTime) minutes() int { return f.Hour*60 + f.Minute }

// TaskDefinition is one recurring daily task.
type TaskDefinition struct {
	Key      string
	FireAt   FireTime
	Prompt   string
	Label    string
	Keywords []string
}

// Title is the label without the trailing check mark used on buttons.
func (t TaskDefinition) Title() string {
	s := strings.TrimSpace(t.Label)
	s = strings.TrimSpace(strings.TrimSuffix(s, "✅"))
	if s == "" {
		return t.Key
	}
	return s
}

// Catalog is an ordered, immutable task set.
type Catalog struct {
	tasks []TaskDefinition
	index map[string]int
}

// New validates key uniqueness and keeps insertion order.
func New(tasks []TaskDefinition) (*Catalog, error) {
	c := &Catalog{
		tasks: make([]TaskDefinition, 0, len(tasks)),
		index: make(map[string]int, len(tasks)),
	}
	for i, t := range tasks {
		t.Key = strings.TrimSpace(t.Key)
		if t.Key == "" {
			return nil, fmt.Errorf("task #%d: %w", i, ErrEmptyKey)
		}
		if _, dup := c.index[t.Key]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateKey, t.Key)
		}
		kw := make([]string, 0, len(t.Keywords))
		for _, k := range t.Keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				kw = append(kw, k)
			}
		}
		t.Keywords = kw
		c.index[t.Key] = len(c.tasks)
		c.tasks = append(c.tasks, t)
	}
	return c, nil
}

func (c *Catalog) Get(key string) (TaskDefinition, bool) {
	if c == nil {
		return TaskDefinition{}, false
	}
	i, ok := c.index[key]
	if !ok {
		return TaskDefinition{}, false
	}
	return c.tasks[i], true
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tasks)
}

// Tasks returns the tasks in catalog order.
func (c *Catalog) Tasks() []TaskDefinition {
	if c == nil {
		return nil
	}
	return append([]TaskDefinition(nil), c.tasks...)
}

// ByFireTime returns the tasks ordered by time of day; ties keep catalog order.
func (c *Catalog) ByFireTime() []TaskDefinition {
	out := c.Tasks()
	sort.SliceStable(out, func(i, j int) bool { return out[i].FireAt.minutes() < out[j].FireAt.minutes() })
	return out
}

// Position reports the catalog index of key, or -1.
func (c *Catalog) Position(key string) int {
	if c == nil {
		return -1
	}
	if i, ok := c.index[key]; ok {
		return i
	}
	return -1
}

// MatchText finds the first task whose keyword occurs in text, provided text
// also contains one of doneWords. Matching is case-insensitive substring.
func (c *Catalog) MatchText(text string, doneWords []string) (TaskDefinition, bool) {
	if c == nil {
		return TaskDefinition{}, false
	}
	text = strings.ToLower(text)
	if !containsAny(text, doneWords) {
		return TaskDefinition{}, false
	}
	for _, t := range c.tasks {
		for _, k := range t.Keywords {
			if strings.Contains(text, k) {
				return t, true
			}
		}
	}
	return TaskDefinition{}, false
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(text, w) {
			return true
		}
	}
	return false
}
