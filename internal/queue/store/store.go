// Package store holds the durable record of completed sessions awaiting sync.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fieldcert/fieldcert/internal/inspection/model"
)

var ErrNotFound = errors.New("queue entry not found")

// Entry is one completed session held for submission. The snapshot is the
// full session record; the queue fields track sync progress.
type Entry struct {
	SessionID       string                 `json:"sessionId"`
	Snapshot        json.RawMessage        `json:"snapshot"`
	Status          model.SubmissionStatus `json:"status"`
	EnqueuedAtUnix  int64                  `json:"enqueuedAtUnix"`
	Attempts        int                    `json:"attempts"`
	NextAttemptUnix int64                  `json:"nextAttemptUnix"`
	LastError       string                 `json:"lastError,omitempty"`
	SyncedAtUnix    int64                  `json:"syncedAtUnix,omitempty"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	cp := *e
	if e.Snapshot != nil {
		cp.Snapshot = append(json.RawMessage(nil), e.Snapshot...)
	}
	return &cp
}

// Store is the system-of-record for the submission queue.
//
// Design intent:
// - Enqueue writes an entry before any sync attempt; a completed session is
//   never only in memory.
// - Entries are keyed by session id; a second enqueue of the same session is
//   an idempotent replay, not a duplicate.
// - ListPending returns queued entries in FIFO order by enqueue time.
type Store interface {
	Put(ctx context.Context, e *Entry) error
	// Get returns the entry or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*Entry, error)
	// Update applies fn to the stored entry transactionally.
	Update(ctx context.Context, sessionID string, fn func(*Entry) error) (*Entry, error)
	ListPending(ctx context.Context) ([]*Entry, error)
	// Scan iterates all entries, queued and synced.
	Scan(ctx context.Context, fn func(*Entry) error) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}
