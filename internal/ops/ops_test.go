package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"routinebot/internal/eventbus"
	rtsup "routinebot/internal/runtime/supervisor"
	"routinebot/internal/tracker"
	logx "routinebot/pkg/logx"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeLoop struct {
	last   time.Time
	tick   time.Duration
	missed uint64
}

func (l fakeLoop) LastTick() time.Time { return l.last }
func (l fakeLoop) Tick() time.Duration { return l.tick }
func (l fakeLoop) Missed() uint64      { return l.missed }
func (l fakeLoop) Triggers(time.Time) []tracker.TriggerInfo {
	return []tracker.TriggerInfo{{Name: "reminder:breakfast", LastFired: "2024-03-10"}}
}

type fakeOptOuts int

func (f fakeOptOuts) OptedOutCount() int { return int(f) }

var fixedNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func serve(t *testing.T, src Sources, pprof bool, path string) *httptest.ResponseRecorder {
	t.Helper()
	if src.Now == nil {
		src.Now = func() time.Time { return fixedNow }
	}
	rec := httptest.NewRecorder()
	NewRouter(src, pprof, logx.Nop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	rec := serve(t, Sources{}, false, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		src    Sources
		code   int
		reason string
	}{
		{"ready", Sources{Store: fakePinger{}, Loop: fakeLoop{last: fixedNow.Add(-10 * time.Second), tick: 20 * time.Second}}, http.StatusOK, ""},
		{"store down", Sources{Store: fakePinger{err: errors.New("closed")}}, http.StatusServiceUnavailable, "store unavailable"},
		{"not started", Sources{Loop: fakeLoop{tick: 20 * time.Second}}, http.StatusServiceUnavailable, "scheduler not started"},
		{"stalled", Sources{Loop: fakeLoop{last: fixedNow.Add(-2 * time.Minute), tick: 20 * time.Second}}, http.StatusServiceUnavailable, "scheduler stalled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, tc.src, false, "/readyz")
			if rec.Code != tc.code {
				t.Fatalf("code=%d want %d", rec.Code, tc.code)
			}
			var resp readyResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Reason != tc.reason {
				t.Fatalf("reason=%q want %q", resp.Reason, tc.reason)
			}
		})
	}
}

func TestStatsReportsCounters(t *testing.T) {
	t.Parallel()
	st := NewStats()
	st.Observe(eventbus.Event{Type: eventbus.TypeCompletionRecorded})
	st.Observe(eventbus.Event{Type: eventbus.TypeBatchFinished, Time: fixedNow, Data: eventbus.BatchFinished{
		BatchID: "b1", Name: "reminder:breakfast", Total: 3, Sent: 2, Skipped: 1, Took: 1500 * time.Millisecond,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := rtsup.NewRegistry()
	reg.Set("loop", rtsup.NewSupervisor(ctx))

	rec := serve(t, Sources{
		Loop:     fakeLoop{last: fixedNow, tick: 20 * time.Second, missed: 2},
		OptOuts:  fakeOptOuts(4),
		Stats:    st,
		Registry: reg,
	}, false, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d", rec.Code)
	}
	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Events[eventbus.TypeCompletionRecorded] != 1 || resp.Events[eventbus.TypeBatchFinished] != 1 {
		t.Fatalf("events=%v", resp.Events)
	}
	b := resp.Batches["reminder:breakfast"]
	if b.Sent != 2 || b.Skipped != 1 || b.TookMS != 1500 {
		t.Fatalf("batch=%+v", b)
	}
	if resp.OptedOut != 4 || resp.Missed != 2 || len(resp.Triggers) != 1 {
		t.Fatalf("resp=%+v", resp)
	}
	if _, ok := resp.Supervisors["loop"]; !ok {
		t.Fatalf("supervisors=%v", resp.Supervisors)
	}
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	if rec := serve(t, Sources{}, false, "/debug/pprof/"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof off: code=%d", rec.Code)
	}
	if rec := serve(t, Sources{}, true, "/debug/pprof/"); rec.Code != http.StatusOK {
		t.Fatalf("pprof on: code=%d", rec.Code)
	}
}

func TestStatsRunConsumesBus(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	st := NewStats()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for st.Events()[eventbus.TypeUserOptedOut] == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("event not observed")
		}
		bus.Publish(eventbus.Event{Type: eventbus.TypeUserOptedOut})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestServerStartStop(t *testing.T) {
	t.Parallel()
	s := NewServer(Config{Addr: "127.0.0.1:0"}, Sources{}, logx.Nop())
	s.Start(context.Background())
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("server did not bind")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:8089": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":8089":          false,
		"0.0.0.0:80":     false,
		"10.0.0.2:80":    false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("%s: got %v", addr, got)
		}
	}
}
