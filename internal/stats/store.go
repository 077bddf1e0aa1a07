// Package stats persists resolved damage to SQLite and answers per-entity
// totals and leaderboard queries.
package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"skirmish/internal/game/interaction"
	"skirmish/internal/logger"
)

// Writer tuning.
const (
	QueueSize     = 8192
	BatchSize     = 256
	FlushInterval = 500 * time.Millisecond
)

var ErrClosed = errors.New("stats store closed")

// Totals aggregates the hits of one entity.
type Totals struct {
	EntityID int     `json:"entityId"`
	Hits     int     `json:"hits"`
	Dealt    float64 `json:"dealt"`
	Taken    float64 `json:"taken"`
	Kills    int     `json:"kills"`
}

// StoreStats reports writer throughput.
type StoreStats struct {
	Recorded uint64 `json:"recorded"`
	Written  uint64 `json:"written"`
	Dropped  uint64 `json:"dropped"`
	Failed   uint64 `json:"failed"`
}

type req struct {
	hit   interaction.Hit
	at    time.Time
	flush chan struct{}
}

// Store is an interaction.Recorder backed by SQLite. Hits are queued and
// written in batches by one goroutine, so RecordHit never blocks the
// simulation; when the queue is full the hit is dropped.
type Store struct {
	db *sql.DB

	mu     sync.RWMutex // Guards closed against ch being closed
	closed bool
	ch     chan req
	wg     sync.WaitGroup

	recorded atomic.Uint64
	written  atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64

	log *logrus.Entry
}

// Open opens or creates the database at path and starts the writer.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty stats db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:  db,
		ch:  make(chan req, QueueSize),
		log: logger.Component("stats"),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()

	s.log.WithField("path", path).Info("stats store opened")
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at TEXT NOT NULL,
			source INTEGER NOT NULL,
			target INTEGER NOT NULL,
			raw REAL NOT NULL,
			dealt REAL NOT NULL,
			killed INTEGER NOT NULL,
			attack INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_hits_source ON hits(source);`,
		`CREATE INDEX IF NOT EXISTS idx_hits_target ON hits(target);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// RecordHit implements interaction.Recorder.
func (s *Store) RecordHit(h interaction.Hit) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- req{hit: h, at: time.Now()}:
		s.recorded.Add(1)
	default:
		s.dropped.Add(1)
	}
}

// Flush blocks until every hit recorded before the call is written.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.ch <- req{flush: done}:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	s.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and closes the database. It is safe to call
// more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.wg.Wait()
	return s.db.Close()
}

// Stats returns writer counters.
func (s *Store) Stats() StoreStats {
	return StoreStats{
		Recorded: s.recorded.Load(),
		Written:  s.written.Load(),
		Dropped:  s.dropped.Load(),
		Failed:   s.failed.Load(),
	}
}

func (s *Store) loop() {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	batch := make([]req, 0, BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.write(batch); err != nil {
			s.failed.Add(uint64(len(batch)))
			s.log.WithError(err).WithField("hits", len(batch)).Error("stats batch failed")
		} else {
			s.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				flush()
				return
			}
			if r.flush != nil {
				flush()
				close(r.flush)
				continue
			}
			batch = append(batch, r)
			if len(batch) >= BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Store) write(batch []req) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO hits(recorded_at,source,target,raw,dealt,killed,attack) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range batch {
		h := r.hit
		if _, err := stmt.Exec(
			r.at.UTC().Format(time.RFC3339Nano),
			h.SourceID,
			h.TargetID,
			h.Raw,
			h.Dealt,
			boolInt(h.Killed),
			boolInt(h.Attack),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Totals returns what entity id dealt and took. Unknown ids yield zeros.
func (s *Store) Totals(ctx context.Context, id int) (Totals, error) {
	t := Totals{EntityID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(dealt),0), COALESCE(SUM(killed),0) FROM hits WHERE source = ?`, id,
	).Scan(&t.Hits, &t.Dealt, &t.Kills)
	if err != nil {
		return t, fmt.Errorf("query dealt: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(dealt),0) FROM hits WHERE target = ?`, id,
	).Scan(&t.Taken)
	if err != nil {
		return t, fmt.Errorf("query taken: %w", err)
	}
	return t, nil
}

// Leaderboard ranks sources by damage dealt, highest first. Environmental
// damage (source zero) is excluded.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]Totals, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT source, COUNT(*), SUM(dealt), SUM(killed)
		FROM hits
		WHERE source <> 0
		GROUP BY source
		ORDER BY SUM(dealt) DESC, source ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []Totals
	for rows.Next() {
		var t Totals
		if err := rows.Scan(&t.EntityID, &t.Hits, &t.Dealt, &t.Kills); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
