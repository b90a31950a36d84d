package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"routinebot/internal/clock"
)

var (
	ErrDisabled    = errors.New("storage disabled")
	ErrUnavailable = errors.New("storage unavailable")
	ErrNotFound    = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "file": journals next to Path (<base>.completions.jsonl, <base>.users.jsonl)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// InsertResult is the outcome of RecordCompletion.
type InsertResult int

const (
	Inserted InsertResult = iota + 1
	AlreadyExists
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Completion is one (user, task, date) record.
type Completion struct {
	UserID  int64      `json:"user_id"`
	TaskKey string     `json:"task_key"`
	Date    clock.Date `json:"date"`
	At      time.Time  `json:"completed_at"`
}

// User is a known chat user.
type User struct {
	ID           int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// CompletionStore records at-most-once completions.
type CompletionStore interface {
	RecordCompletion(ctx context.Context, userID int64, taskKey string, date clock.Date, at time.Time) (InsertResult, error)
	IsCompleted(ctx context.Context, userID int64, taskKey string, date clock.Date) (bool, error)
	// CompletionsInRange returns records with from <= date <= to, most recent
	// date first and by completion time within a day.
	CompletionsInRange(ctx context.Context, userID int64, from, to clock.Date) ([]Completion, error)
	// CompletionRate is 100*completed/(catalogSize*activeDays) over [from, to].
	CompletionRate(ctx context.Context, userID int64, from, to clock.Date, catalogSize int) (float64, error)
}

// UserRegistry tracks every user that ever interacted with the bot.
type UserRegistry interface {
	UpsertUser(ctx context.Context, u User) error
	TouchUser(ctx context.Context, userID int64, at time.Time) error
	ListUserIDs(ctx context.Context) ([]int64, error)
	GetUser(ctx context.Context, userID int64) (User, error)
}

// Store is the persistence API used by the tracker and router.
type Store interface {
	CompletionStore
	UserRegistry
	Ping(ctx context.Context) error
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func completionRate(completed, activeDays, catalogSize int) float64 {
	if activeDays <= 0 || catalogSize <= 0 {
		return 0
	}
	r := 100 * float64(completed) / float64(catalogSize*activeDays)
	if r > 100 {
		return 100
	}
	return r
}

func orderRange(from, to clock.Date) (clock.Date, clock.Date) {
	if from.After(to) {
		return to, from
	}
	return from, to
}
