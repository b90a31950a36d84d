package tracker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"routinebot/internal/catalog"
	"routinebot/internal/clock"
	"routinebot/internal/storage"
	"routinebot/internal/transport"
	logx "routinebot/pkg/logx"
)

var msk = time.FixedZone("MSK", 3*60*60)

type sent struct {
	UserID int64
	Text   string
	Action *transport.Action
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sent
	fails map[int64]error
	calls map[int64]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{fails: map[int64]error{}, calls: map[int64]int{}}
}

func (f *fakeSender) Send(_ context.Context, userID int64, text string, action *transport.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[userID]++
	if err := f.fails[userID]; err != nil {
		return err
	}
	f.sent = append(f.sent, sent{UserID: userID, Text: text, Action: action})
	return nil
}

func (f *fakeSender) fail(userID int64, err error) {
	f.mu.Lock()
	f.fails[userID] = err
	f.mu.Unlock()
}

func (f *fakeSender) recipients() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.UserID)
	}
	return out
}

func (f *fakeSender) messages() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	f.sent = nil
	f.calls = map[int64]int{}
	f.mu.Unlock()
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.TaskDefinition{
		{Key: "morning_workout", FireAt: catalog.FireTime{Hour: 8, Minute: 15}, Prompt: "Time to work out", Label: "Workout done ✅", Keywords: []string{"workout"}},
		{Key: "breakfast", FireAt: catalog.FireTime{Hour: 9, Minute: 0}, Prompt: "Breakfast time", Label: "Breakfast done ✅", Keywords: []string{"breakfast"}},
		{Key: "dinner", FireAt: catalog.FireTime{Hour: 19, Minute: 0}, Prompt: "Dinner time", Label: "Dinner done ✅", Keywords: []string{"dinner"}},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return cat
}

func testStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func registerUsers(t *testing.T, st storage.Store, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if err := st.UpsertUser(context.Background(), storage.User{ID: id, FirstName: "u"}); err != nil {
			t.Fatalf("UpsertUser(%d): %v", id, err)
		}
	}
}

type env struct {
	cat    *catalog.Catalog
	store  storage.Store
	sender *fakeSender
	deps   Deps
}

func newEnv(t *testing.T, now time.Time) *env {
	t.Helper()
	e := &env{cat: testCatalog(t), store: testStore(t), sender: newFakeSender()}
	e.deps = Deps{
		Catalog:  e.cat,
		Store:    e.store,
		Sender:   e.sender,
		Clock:    clock.Func(func() time.Time { return now }),
		Location: msk,
		Delivery: DeliveryConfig{RetryMax: 1},
	}
	return e
}

func at(day, hhmm string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", day+" "+hhmm, msk)
	if err != nil {
		panic(err)
	}
	return t
}

func date(s string) clock.Date {
	d, err := clock.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
