// Package leak watches listener counts over time and reports topics whose
// count keeps growing, the usual symptom of subscriptions that are never
// removed.
package leak

import (
	"errors"
	"time"
)

// Store keeps listener-count snapshots.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append records one snapshot of per-topic counts for a series and
	// returns the snapshot's sequence number, starting at 1.
	Append(series string, at time.Time, counts map[string]int) (int64, error)

	// Recent returns up to n samples of topic in series, oldest first.
	// Returns an empty slice (not error) if the topic was never sampled.
	Recent(series, topic string, n int) ([]Sample, error)

	// Topics returns every topic sampled in series, sorted.
	Topics(series string) ([]string, error)

	// Prune keeps the newest keep snapshots of series and drops the rest.
	Prune(series string, keep int) error

	// DeleteSeries removes every snapshot of series.
	// Returns nil if the series doesn't exist.
	DeleteSeries(series string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sample is one topic's listener count in one snapshot.
type Sample struct {
	Series    string
	Seq       int64
	Topic     string
	Count     int
	Timestamp time.Time
}

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("sample store closed")
