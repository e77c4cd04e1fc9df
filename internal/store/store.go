// Package store persists accepted items and their content hashes in SQLite
// so an interrupted batch can resume without re-accepting anything.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"taxbench/internal/logging"
	"taxbench/internal/question"
)

// Kind tags a persisted record.
type Kind string

const (
	KindQuestion Kind = "question"
	KindCase     Kind = "entailment_case"
)

const schemaVersion = 1

// Store is a SQLite database of accepted records.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("%s failed: %v", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("store ready at %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	schema := []string{
		`CREATE TABLE IF NOT EXISTS seen_hashes (
			hash TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			record_id TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			hash TEXT NOT NULL UNIQUE,
			section TEXT NOT NULL,
			type TEXT NOT NULL,
			difficulty INTEGER NOT NULL,
			body TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS entailment_cases (
			id TEXT PRIMARY KEY,
			hash TEXT NOT NULL UNIQUE,
			section TEXT NOT NULL,
			difficulty INTEGER NOT NULL,
			body TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			run_seed INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			report TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_questions_section ON questions(section)`,
		`CREATE INDEX IF NOT EXISTS idx_cases_section ON entailment_cases(section)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveQuestion records an accepted question and its content hash in one
// transaction.
func (s *Store) SaveQuestion(ctx context.Context, hash string, q question.Question) error {
	body, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to encode question %s: %w", q.ID, err)
	}
	return s.save(ctx, hash, KindQuestion, q.ID,
		`INSERT INTO questions (id, hash, section, type, difficulty, body) VALUES (?, ?, ?, ?, ?, ?)`,
		q.ID, hash, q.Section, string(q.Type), q.Difficulty, string(body))
}

// SaveCase records an accepted entailment case and its content hash.
func (s *Store) SaveCase(ctx context.Context, hash string, ec question.EntailmentCase) error {
	body, err := json.Marshal(ec)
	if err != nil {
		return fmt.Errorf("failed to encode case %s: %w", ec.ID, err)
	}
	return s.save(ctx, hash, KindCase, ec.ID,
		`INSERT INTO entailment_cases (id, hash, section, difficulty, body) VALUES (?, ?, ?, ?, ?)`,
		ec.ID, hash, ec.Section, ec.Difficulty, string(body))
}

func (s *Store) save(ctx context.Context, hash string, kind Kind, id, insert string, args ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO seen_hashes (hash, kind, record_id) VALUES (?, ?, ?)`, hash, string(kind), id); err != nil {
		return fmt.Errorf("failed to record hash for %s %s: %w", kind, id, err)
	}
	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return fmt.Errorf("failed to store %s %s: %w", kind, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s %s: %w", kind, id, err)
	}
	logging.StoreDebug("stored %s %s", kind, id)
	return nil
}

// Hashes returns every accepted content hash, for preloading a run's seen
// set.
func (s *Store) Hashes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hash FROM seen_hashes ORDER BY hash`)
	if err != nil {
		return nil, fmt.Errorf("failed to query hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// Questions returns every stored question ordered by id.
func (s *Store) Questions(ctx context.Context) ([]question.Question, error) {
	var qs []question.Question
	err := s.scanBodies(ctx, `SELECT body FROM questions ORDER BY id`, func(body []byte) error {
		var q question.Question
		if err := json.Unmarshal(body, &q); err != nil {
			return err
		}
		qs = append(qs, q)
		return nil
	})
	return qs, err
}

// Cases returns every stored entailment case ordered by id.
func (s *Store) Cases(ctx context.Context) ([]question.EntailmentCase, error) {
	var cs []question.EntailmentCase
	err := s.scanBodies(ctx, `SELECT body FROM entailment_cases ORDER BY id`, func(body []byte) error {
		var ec question.EntailmentCase
		if err := json.Unmarshal(body, &ec); err != nil {
			return err
		}
		cs = append(cs, ec)
		return nil
	})
	return cs, err
}

func (s *Store) scanBodies(ctx context.Context, query string, fn func([]byte) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return err
		}
		if err := fn([]byte(body)); err != nil {
			return fmt.Errorf("failed to decode record: %w", err)
		}
	}
	return rows.Err()
}

// Run is one completed generation run.
type Run struct {
	ID         string
	RunSeed    uint64
	StartedAt  time.Time
	FinishedAt time.Time
	Report     interface{}
}

// RecordRun stores the report of a finished run.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	report, err := json.Marshal(run.Report)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, run_seed, started_at, finished_at, report) VALUES (?, ?, ?, ?, ?)`,
		run.ID, int64(run.RunSeed), run.StartedAt.UTC(), run.FinishedAt.UTC(), string(report))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// Stats counts rows per table.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int, 4)
	for _, table := range []string{"seen_hashes", "questions", "entailment_cases", "runs"} {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table] = n
	}
	return stats, nil
}
