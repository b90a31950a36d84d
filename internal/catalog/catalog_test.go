package catalog

import (
	"errors"
	"testing"
	"time"
)

func mustCatalog(t *testing.T, tasks ...TaskDefinition) *Catalog {
	t.Helper()
	c, err := New(tasks)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestParseFireTime(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		want    FireTime
		wantErr bool
	}{
		{in: "08:15", want: FireTime{8, 15}},
		{in: " 21:00 ", want: FireTime{21, 0}},
		{in: "0:05", want: FireTime{0, 5}},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "12:5", wantErr: true},
		{in: "1215", wantErr: true},
		{in: "ab:cd", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseFireTime(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseFireTime(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseFireTime(%q) = %v, %v", tc.in, got, err)
		}
	}
	if s := (FireTime{8, 5}).String(); s != "08:05" {
		t.Fatalf("String = %q", s)
	}
	if s := (FireTime{8, 15}).CronSpec(); s != "15 8 * * *" {
		t.Fatalf("CronSpec = %q", s)
	}
	on := (FireTime{8, 15}).On(time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC))
	if !on.Equal(time.Date(2024, 3, 10, 8, 15, 0, 0, time.UTC)) {
		t.Fatalf("On = %v", on)
	}
}

func TestNewRejectsDuplicatesAndEmptyKeys(t *testing.T) {
	t.Parallel()
	_, err := New([]TaskDefinition{{Key: "a"}, {Key: "a"}})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	_, err = New([]TaskDefinition{{Key: " "}})
	if !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestOrderAndLookup(t *testing.T) {
	t.Parallel()
	c := mustCatalog(t,
		TaskDefinition{Key: "dinner", FireAt: FireTime{19, 0}},
		TaskDefinition{Key: "workout", FireAt: FireTime{8, 15}},
		TaskDefinition{Key: "report", FireAt: FireTime{19, 0}},
	)
	if c.Len() != 3 {
		t.Fatalf("Len = %d", c.Len())
	}
	if got := c.Tasks()[0].Key; got != "dinner" {
		t.Fatalf("catalog order broken: %s", got)
	}
	byTime := c.ByFireTime()
	if byTime[0].Key != "workout" || byTime[1].Key != "dinner" || byTime[2].Key != "report" {
		t.Fatalf("ByFireTime = %v", byTime)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("Get(missing) should fail")
	}
	if c.Position("report") != 2 || c.Position("x") != -1 {
		t.Fatalf("Position broken")
	}
	var nilCat *Catalog
	if nilCat.Len() != 0 {
		t.Fatalf("nil catalog Len")
	}
}

func TestMatchText(t *testing.T) {
	t.Parallel()
	c := mustCatalog(t,
		TaskDefinition{Key: "morning_workout", Keywords: []string{"Тренировка", "зарядка"}},
		TaskDefinition{Key: "breakfast", Keywords: []string{"завтрак"}},
	)
	done := []string{"сделал", "выполнил"}

	cases := []struct {
		text string
		key  string
		ok   bool
	}{
		{"Зарядка сделал!", "morning_workout", true},
		{"выполнил завтрак", "breakfast", true},
		{"завтрак", "", false},
		{"сделал что-то", "", false},
	}
	for _, tc := range cases {
		got, ok := c.MatchText(tc.text, done)
		if ok != tc.ok || got.Key != tc.key {
			t.Fatalf("MatchText(%q) = %q, %v", tc.text, got.Key, ok)
		}
	}
}

func TestTitle(t *testing.T) {
	t.Parallel()
	if got := (TaskDefinition{Key: "k", Label: "Обед готов ✅"}).Title(); got != "Обед готов" {
		t.Fatalf("Title = %q", got)
	}
	if got := (TaskDefinition{Key: "k"}).Title(); got != "k" {
		t.Fatalf("Title fallback = %q", got)
	}
}
