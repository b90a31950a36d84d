package ops

import (
	"context"
	"sync"
	"time"

	"routinebot/internal/eventbus"
)

// BatchSnapshot is the last finished fan-out batch of one trigger.
type BatchSnapshot struct {
	BatchID     string    `json:"batch_id"`
	Total       int       `json:"total"`
	Sent        int       `json:"sent"`
	Skipped     int       `json:"skipped"`
	Failed      int       `json:"failed"`
	Unreachable int       `json:"unreachable"`
	Abandoned   bool      `json:"abandoned,omitempty"`
	TookMS      int64     `json:"took_ms"`
	At          time.Time `json:"at"`
}

// Stats folds bus events into counters for the /stats endpoint.
type Stats struct {
	mu      sync.RWMutex
	events  map[string]uint64
	batches map[string]BatchSnapshot
	started time.Time
}

func NewStats() *Stats {
	return &Stats{
		events:  map[string]uint64{},
		batches: map[string]BatchSnapshot{},
		started: time.Now(),
	}
}

// Run consumes bus until ctx is done.
func (s *Stats) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.Observe(e)
		}
	}
}

func (s *Stats) Observe(e eventbus.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.Type]++
	if b, ok := e.Data.(eventbus.BatchFinished); ok {
		s.batches[b.Name] = BatchSnapshot{
			BatchID:     b.BatchID,
			Total:       b.Total,
			Sent:        b.Sent,
			Skipped:     b.Skipped,
			Failed:      b.Failed,
			Unreachable: b.Unreachable,
			Abandoned:   b.Abandoned,
			TookMS:      b.Took.Milliseconds(),
			At:          e.Time,
		}
	}
}

func (s *Stats) Events() map[string]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64, len(s.events))
	for k, v := range s.events {
		out[k] = v
	}
	return out
}

func (s *Stats) Batches() map[string]BatchSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]BatchSnapshot, len(s.batches))
	for k, v := range s.batches {
		out[k] = v
	}
	return out
}

func (s *Stats) Uptime() time.Duration { return time.Since(s.started) }
