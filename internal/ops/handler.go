// Package ops serves the operational HTTP endpoint: liveness, readiness,
// counters and optional pprof.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	rtsup "routinebot/internal/runtime/supervisor"
	"routinebot/internal/tracker"
	logx "routinebot/pkg/logx"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// LoopStatus is the scheduler view needed for readiness and stats.
type LoopStatus interface {
	LastTick() time.Time
	Tick() time.Duration
	Missed() uint64
	Triggers(now time.Time) []tracker.TriggerInfo
}

type OptOuts interface {
	OptedOutCount() int
}

// Sources are the things the endpoint reports on. Nil fields are skipped.
type Sources struct {
	Store    Pinger
	Loop     LoopStatus
	OptOuts  OptOuts
	Stats    *Stats
	Registry *rtsup.Registry
	Now      func() time.Time
}

type readyResponse struct {
	Ready    bool      `json:"ready"`
	Store    string    `json:"store"`
	LastTick time.Time `json:"last_tick,omitzero"`
	Reason   string    `json:"reason,omitempty"`
}

type statsResponse struct {
	UptimeSec   int64                     `json:"uptime_sec"`
	Events      map[string]uint64         `json:"events"`
	Batches     map[string]BatchSnapshot  `json:"batches"`
	Supervisors map[string]rtsup.Counters `json:"supervisors"`
	OptedOut    int                       `json:"opted_out"`
	Missed      uint64                    `json:"missed_firings"`
	Triggers    []tracker.TriggerInfo     `json:"triggers"`
}

// NewRouter builds the chi router. pprof mounts under /debug.
func NewRouter(src Sources, pprof bool, log logx.Logger) chi.Router {
	if src.Now == nil {
		src.Now = time.Now
	}
	h := &handler{src: src, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	r.Get("/stats", h.stats)
	if pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

type handler struct {
	src Sources
	log logx.Logger
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readyz fails when the store is unreachable or the scheduler has not
// ticked for three intervals.
func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Ready: true, Store: "ok"}
	if h.src.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.src.Store.Ping(ctx)
		cancel()
		if err != nil {
			resp.Ready = false
			resp.Store = err.Error()
			resp.Reason = "store unavailable"
		}
	}
	if h.src.Loop != nil && resp.Ready {
		last := h.src.Loop.LastTick()
		resp.LastTick = last
		if last.IsZero() {
			resp.Ready = false
			resp.Reason = "scheduler not started"
		} else if h.src.Now().Sub(last) > 3*h.src.Loop.Tick() {
			resp.Ready = false
			resp.Reason = "scheduler stalled"
		}
	}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func (h *handler) stats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{
		Events:      map[string]uint64{},
		Batches:     map[string]BatchSnapshot{},
		Supervisors: h.src.Registry.Counters(),
	}
	if s := h.src.Stats; s != nil {
		resp.UptimeSec = int64(s.Uptime().Seconds())
		resp.Events = s.Events()
		resp.Batches = s.Batches()
	}
	if h.src.OptOuts != nil {
		resp.OptedOut = h.src.OptOuts.OptedOutCount()
	}
	if l := h.src.Loop; l != nil {
		resp.Missed = l.Missed()
		resp.Triggers = l.Triggers(h.src.Now())
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("ops json encode failed", logx.Err(err))
	}
}
