package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"routinebot/internal/clock"
	logx "routinebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultBusyTimeout = 5 * time.Second

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *sqliteStore) RecordCompletion(ctx context.Context, userID int64, taskKey string, date clock.Date, at time.Time) (InsertResult, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO completions(user_id, task_key, completion_date, completed_at)
		 VALUES(?,?,?,?)
		 ON CONFLICT(user_id, task_key, completion_date) DO NOTHING`,
		userID, taskKey, date.String(), formatTime(at),
	)
	if err != nil {
		return 0, unavailable("record completion", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("record completion", err)
	}
	if n == 0 {
		return AlreadyExists, nil
	}
	return Inserted, nil
}

func (s *sqliteStore) IsCompleted(ctx context.Context, userID int64, taskKey string, date clock.Date) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM completions WHERE user_id = ? AND task_key = ? AND completion_date = ?`,
		userID, taskKey, date.String(),
	).Scan(&n)
	if err != nil {
		return false, unavailable("is completed", err)
	}
	return n > 0, nil
}

func (s *sqliteStore) CompletionsInRange(ctx context.Context, userID int64, from, to clock.Date) ([]Completion, error) {
	from, to = orderRange(from, to)
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_key, completion_date, completed_at FROM completions
		 WHERE user_id = ? AND completion_date BETWEEN ? AND ?
		 ORDER BY completion_date DESC, completed_at ASC, id ASC`,
		userID, from.String(), to.String(),
	)
	if err != nil {
		return nil, unavailable("completions in range", err)
	}
	defer rows.Close()

	var out []Completion
	for rows.Next() {
		var key, day, at string
		if err := rows.Scan(&key, &day, &at); err != nil {
			return nil, unavailable("completions in range", err)
		}
		d, err := clock.ParseDate(day)
		if err != nil {
			return nil, unavailable("completions in range", err)
		}
		out = append(out, Completion{UserID: userID, TaskKey: key, Date: d, At: parseTime(at)})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("completions in range", err)
	}
	return out, nil
}

func (s *sqliteStore) CompletionRate(ctx context.Context, userID int64, from, to clock.Date, catalogSize int) (float64, error) {
	from, to = orderRange(from, to)
	var completed, days int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COUNT(DISTINCT completion_date) FROM completions
		 WHERE user_id = ? AND completion_date BETWEEN ? AND ?`,
		userID, from.String(), to.String(),
	).Scan(&completed, &days)
	if err != nil {
		return 0, unavailable("completion rate", err)
	}
	return completionRate(completed, days, catalogSize), nil
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) error {
	now := u.LastActivity
	if now.IsZero() {
		now = time.Now()
	}
	created := u.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, username, first_name, created_at, last_activity)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   username = excluded.username,
		   first_name = excluded.first_name,
		   last_activity = excluded.last_activity`,
		u.ID, nullStr(u.Username), nullStr(u.FirstName), formatTime(created), formatTime(now),
	)
	if err != nil {
		return unavailable("upsert user", err)
	}
	return nil
}

func (s *sqliteStore) TouchUser(ctx context.Context, userID int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_activity = ? WHERE user_id = ?`, formatTime(at), userID,
	); err != nil {
		return unavailable("touch user", err)
	}
	return nil
}

func (s *sqliteStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM users ORDER BY user_id ASC`)
	if err != nil {
		return nil, unavailable("list users", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("list users", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list users", err)
	}
	return ids, nil
}

func (s *sqliteStore) GetUser(ctx context.Context, userID int64) (User, error) {
	var (
		u                 User
		username, first   sql.NullString
		created, lastSeen string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, first_name, created_at, last_activity FROM users WHERE user_id = ?`, userID,
	).Scan(&u.ID, &username, &first, &created, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return User{}, unavailable("get user", err)
	}
	u.Username = username.String
	u.FirstName = first.String
	u.CreatedAt = parseTime(created)
	u.LastActivity = parseTime(lastSeen)
	return u, nil
}

// Fixed-width UTC so lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
