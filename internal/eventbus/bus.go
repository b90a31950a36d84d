// Package eventbus is an in-process fan-out of small domain signals
// (completions, finished batches, opt-outs) to observers such as the ops
// endpoint.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeCompletionRecorded = "completion.recorded"
	TypeBatchFinished      = "batch.finished"
	TypeUserOptedOut       = "user.opted_out"
	TypeConfigReloaded     = "config.reloaded"
)

// Event is a lightweight signal.
//
// Contract:
//   - Publish never blocks.
//   - Slow subscribers drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// CompletionRecorded is the Data of TypeCompletionRecorded.
type CompletionRecorded struct {
	UserID  int64
	TaskKey string
	Date    string
}

// BatchFinished is the Data of TypeBatchFinished.
type BatchFinished struct {
	BatchID     string
	Name        string
	Total       int
	Sent        int
	Skipped     int
	Failed      int
	Unreachable int
	Abandoned   bool
	Took        time.Duration
}

// UserOptedOut is the Data of TypeUserOptedOut.
type UserOptedOut struct {
	UserID int64
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards every event.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
