package leak

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore keeps snapshots in SQLite so trends survive restarts of a
// long-running watcher.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens or creates a sample database.
// The path should be a file path (e.g., "./samples.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sample_series (
			series TEXT PRIMARY KEY,
			seq INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create series table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS listener_samples (
			series TEXT NOT NULL,
			seq INTEGER NOT NULL,
			topic TEXT NOT NULL,
			listener_count INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			PRIMARY KEY (series, seq, topic)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create samples table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_listener_samples_topic
		ON listener_samples(series, topic, seq)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(series string, at time.Time, counts map[string]int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var seq int64
	if err := tx.QueryRow(`
		INSERT INTO sample_series (series, seq) VALUES (?, 1)
		ON CONFLICT(series) DO UPDATE SET seq = seq + 1
		RETURNING seq
	`, series).Scan(&seq); err != nil {
		return 0, fmt.Errorf("advance sequence: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO listener_samples (series, seq, topic, listener_count, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	ts := at.UTC().Format(time.RFC3339Nano)
	for topic, count := range counts {
		if _, err := stmt.Exec(series, seq, topic, count, ts); err != nil {
			return 0, fmt.Errorf("insert sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return seq, nil
}

// Recent implements Store.
func (s *SQLiteStore) Recent(series, topic string, n int) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT seq, listener_count, timestamp
		FROM listener_samples
		WHERE series = ? AND topic = ?
		ORDER BY seq DESC
		LIMIT ?
	`, series, topic, n)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		sample := Sample{Series: series, Topic: topic}
		var timestamp string
		if err := rows.Scan(&sample.Seq, &sample.Count, &timestamp); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sample.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}

	// Newest first from the query; callers want oldest first.
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// Topics implements Store.
func (s *SQLiteStore) Topics(series string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT DISTINCT topic FROM listener_samples
		WHERE series = ?
		ORDER BY topic
	`, series)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, topic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}

// Prune implements Store.
func (s *SQLiteStore) Prune(series string, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		DELETE FROM listener_samples
		WHERE series = ?
		AND seq <= (SELECT seq FROM sample_series WHERE series = ?) - ?
	`, series, series, keep)
	if err != nil {
		return fmt.Errorf("prune samples: %w", err)
	}
	return nil
}

// DeleteSeries implements Store.
func (s *SQLiteStore) DeleteSeries(series string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM listener_samples WHERE series = ?`, series); err != nil {
		return fmt.Errorf("delete samples: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM sample_series WHERE series = ?`, series); err != nil {
		return fmt.Errorf("delete series: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
