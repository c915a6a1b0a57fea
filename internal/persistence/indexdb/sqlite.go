// Package indexdb keeps a sqlite read-model of simulation runs for post-hoc
// queries. It is a secondary index: writes are async and dropped under
// pressure, and the JSON event log remains the source of truth.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tinytown.ai/internal/eventlog"
	"tinytown.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db    *sql.DB
	runID string

	ch   chan eventlog.Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

func Open(path, runID string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
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

	s := &SQLiteIndex{
		db:    db,
		runID: runID,
		// Generous buffer: decision bursts at tick boundaries must not
		// stall the sim.
		ch: make(chan eventlog.Event, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads; NORMAL durability is
	// acceptable for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			session TEXT NOT NULL,
			started_at TEXT NOT NULL,
			tuning_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sim_time TEXT NOT NULL,
			real_time TEXT NOT NULL,
			type TEXT NOT NULL,
			character TEXT,
			location TEXT,
			details_json TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_type ON events(run_id, type, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_character ON events(run_id, character, seq);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// RecordRun registers the run row synchronously at startup.
func (s *SQLiteIndex) RecordRun(session string, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	started := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO runs(run_id,session,started_at,tuning_json) VALUES(?,?,?,?)`,
		s.runID, session, started, string(b))
	return err
}

// Append queues an event for indexing. Drops when the indexer falls behind.
func (s *SQLiteIndex) Append(e eventlog.Event) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- e:
	default:
	}
	return nil
}

var _ eventlog.Sink = (*SQLiteIndex)(nil)

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// loop is the single writer goroutine: it batches inserts into transactions,
// committing by count or by age.
func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	const (
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	var (
		tx      *sql.Tx
		opCount int
		seq     int64
	)

	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
	}

	insert := func(e eventlog.Event) {
		if tx == nil {
			txx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				time.Sleep(50 * time.Millisecond)
				return
			}
			tx = txx
		}
		char, loc := eventSubject(e)
		seq++
		_, _ = tx.Exec(
			`INSERT OR REPLACE INTO events(run_id,seq,sim_time,real_time,type,character,location,details_json) VALUES(?,?,?,?,?,?,?,?)`,
			s.runID, seq, e.Timestamp, e.RealTime, e.Type, char, loc, string(e.Details))
		opCount++
		if opCount >= commitEvery {
			commit()
		}
	}

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			insert(e)
		case <-time.After(commitMaxWait):
			commit()
		}
	}
}

// eventSubject pulls the indexable character and location out of an event's
// details. Dialogue rows index the first participant.
func eventSubject(e eventlog.Event) (string, string) {
	switch e.Type {
	case eventlog.TypePlan:
		if d, err := e.Plan(); err == nil {
			return d.Character, d.TargetLocation
		}
	case eventlog.TypeDialogue:
		if d, err := e.Dialogue(); err == nil {
			who := ""
			if len(d.Participants) > 0 {
				who = d.Participants[0]
			}
			return who, d.Location
		}
	}
	return "", ""
}

// EventCount reports how many events of the run have been indexed so far.
func (s *SQLiteIndex) EventCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE run_id = ?`, s.runID).Scan(&n)
	return n, err
}

// EventsByCharacter returns the indexed events referencing a character, in
// insertion order.
func (s *SQLiteIndex) EventsByCharacter(name string) ([]eventlog.Event, error) {
	rows, err := s.db.Query(
		`SELECT sim_time, real_time, type, details_json FROM events WHERE run_id = ? AND character = ? ORDER BY seq`,
		s.runID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []eventlog.Event
	for rows.Next() {
		var e eventlog.Event
		var details string
		if err := rows.Scan(&e.Timestamp, &e.RealTime, &e.Type, &details); err != nil {
			return nil, err
		}
		e.Details = json.RawMessage(details)
		out = append(out, e)
	}
	return out, rows.Err()
}
