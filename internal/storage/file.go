package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"routinebot/internal/clock"
	logx "routinebot/pkg/logx"
)

var errClosed = errors.New("store closed")

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.completions.jsonl  (append-only JSON Lines)
//   - <prefix>.users.snapshot.json (periodic snapshot)
//   - <prefix>.users.journal.jsonl (append-only journal)
//
// Everything is replayed into memory at open; the user journal is
// periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	completionsFile *os.File
	done            map[completionKey]struct{}
	byUser          map[int64][]Completion

	usersSnapshotPath string
	usersJournalFile  *os.File
	users             map[int64]User
	userWrites        int
	compactEvery      int
}

type completionKey struct {
	userID  int64
	taskKey string
	date    clock.Date
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:               log,
		done:              map[completionKey]struct{}{},
		byUser:            map[int64][]Completion{},
		usersSnapshotPath: prefix + ".users.snapshot.json",
		users:             map[int64]User{},
		compactEvery:      500,
	}

	completionsPath := prefix + ".completions.jsonl"
	if err := replayJSONL(completionsPath, func(c Completion) { s.indexLocked(c) }); err != nil {
		return nil, fmt.Errorf("replay completions: %w", err)
	}
	if err := loadUsersSnapshot(s.usersSnapshotPath, s.users); err != nil {
		return nil, fmt.Errorf("load users snapshot: %w", err)
	}
	journalPath := prefix + ".users.journal.jsonl"
	if err := replayJSONL(journalPath, func(u User) { s.users[u.ID] = u }); err != nil {
		return nil, fmt.Errorf("replay users: %w", err)
	}

	cf, err := os.OpenFile(completionsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = cf.Close()
		return nil, err
	}
	s.completionsFile = cf
	s.usersJournalFile = jf

	log.Info("file store opened",
		logx.String("prefix", prefix),
		logx.Int("completions", len(s.done)),
		logx.Int("users", len(s.users)),
	)
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.completionsFile != nil {
		err1 = s.completionsFile.Close()
		s.completionsFile = nil
	}
	if s.usersJournalFile != nil {
		err2 = s.usersJournalFile.Close()
		s.usersJournalFile = nil
	}
	return errors.Join(err1, err2)
}

func (s *fileStore) Ping(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedLocked() {
		return unavailable("ping", errClosed)
	}
	return nil
}

func (s *fileStore) closedLocked() bool {
	return s.completionsFile == nil || s.usersJournalFile == nil
}

func (s *fileStore) indexLocked(c Completion) bool {
	k := completionKey{userID: c.UserID, taskKey: c.TaskKey, date: c.Date}
	if _, ok := s.done[k]; ok {
		return false
	}
	s.done[k] = struct{}{}
	s.byUser[c.UserID] = append(s.byUser[c.UserID], c)
	return true
}

func (s *fileStore) RecordCompletion(ctx context.Context, userID int64, taskKey string, date clock.Date, at time.Time) (InsertResult, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completionsFile == nil {
		return 0, unavailable("record completion", errClosed)
	}
	k := completionKey{userID: userID, taskKey: taskKey, date: date}
	if _, ok := s.done[k]; ok {
		return AlreadyExists, nil
	}
	c := Completion{UserID: userID, TaskKey: taskKey, Date: date, At: at.UTC()}
	// Journal first: a record only counts once it is on disk.
	if err := json.NewEncoder(s.completionsFile).Encode(c); err != nil {
		return 0, unavailable("record completion", err)
	}
	if err := s.completionsFile.Sync(); err != nil {
		return 0, unavailable("record completion", err)
	}
	s.indexLocked(c)
	return Inserted, nil
}

func (s *fileStore) IsCompleted(ctx context.Context, userID int64, taskKey string, date clock.Date) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedLocked() {
		return false, unavailable("is completed", errClosed)
	}
	_, ok := s.done[completionKey{userID: userID, taskKey: taskKey, date: date}]
	return ok, nil
}

func (s *fileStore) CompletionsInRange(ctx context.Context, userID int64, from, to clock.Date) ([]Completion, error) {
	_ = ctx
	from, to = orderRange(from, to)
	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		return nil, unavailable("completions in range", errClosed)
	}
	var out []Completion
	for _, c := range s.byUser[userID] {
		if !c.Date.Before(from) && !c.Date.After(to) {
			out = append(out, c)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].At.Before(out[j].At)
	})
	return out, nil
}

func (s *fileStore) CompletionRate(ctx context.Context, userID int64, from, to clock.Date, catalogSize int) (float64, error) {
	_ = ctx
	from, to = orderRange(from, to)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedLocked() {
		return 0, unavailable("completion rate", errClosed)
	}
	completed := 0
	days := map[clock.Date]struct{}{}
	for _, c := range s.byUser[userID] {
		if c.Date.Before(from) || c.Date.After(to) {
			continue
		}
		completed++
		days[c.Date] = struct{}{}
	}
	return completionRate(completed, len(days), catalogSize), nil
}

func (s *fileStore) UpsertUser(ctx context.Context, u User) error {
	_ = ctx
	if u.LastActivity.IsZero() {
		u.LastActivity = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.users[u.ID]; ok && !prev.CreatedAt.IsZero() {
		u.CreatedAt = prev.CreatedAt
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = u.LastActivity
	}
	return s.putUserLocked(u)
}

func (s *fileStore) TouchUser(ctx context.Context, userID int64, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	u.LastActivity = at
	return s.putUserLocked(u)
}

func (s *fileStore) putUserLocked(u User) error {
	if s.usersJournalFile == nil {
		return unavailable("write user", errClosed)
	}
	if err := json.NewEncoder(s.usersJournalFile).Encode(u); err != nil {
		return unavailable("write user", err)
	}
	s.users[u.ID] = u
	s.userWrites++
	if s.compactEvery > 0 && s.userWrites%s.compactEvery == 0 {
		if err := s.compactUsersLocked(); err != nil {
			s.log.Debug("users compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	_ = ctx
	s.mu.Lock()
	if s.closedLocked() {
		s.mu.Unlock()
		return nil, unavailable("list users", errClosed)
	}
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *fileStore) GetUser(ctx context.Context, userID int64) (User, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedLocked() {
		return User{}, unavailable("get user", errClosed)
	}
	u, ok := s.users[userID]
	if !ok {
		return User{}, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return u, nil
}

func (s *fileStore) compactUsersLocked() error {
	list := make([]User, 0, len(s.users))
	for _, u := range s.users {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	tmp := s.usersSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.usersSnapshotPath); err != nil {
		return err
	}
	if err := s.usersJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.usersJournalFile.Seek(0, io.SeekEnd)
	return err
}

func loadUsersSnapshot(path string, out map[int64]User) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	var list []User
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, u := range list {
		out[u.ID] = u
	}
	return nil
}

// replayJSONL feeds every decodable line of path to fn. Torn or corrupt
// lines (e.g. a crash mid-write) are skipped.
func replayJSONL[T any](path string, fn func(T)) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			continue
		}
		fn(v)
	}
	return sc.Err()
}
