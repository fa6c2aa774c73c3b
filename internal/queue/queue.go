// Package queue persists completed sessions and drives their delivery to the
// backend. Submissions are written to the store before any network attempt, so
// a crash between completion and sync never loses a report.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldcert/fieldcert/internal/inspection/model"
	"github.com/fieldcert/fieldcert/internal/log"
	"github.com/fieldcert/fieldcert/internal/metrics"
	"github.com/fieldcert/fieldcert/internal/queue/store"
)

const (
	defaultBackoffBase = 2 * time.Second
	defaultBackoffMax  = 5 * time.Minute
)

// Options tune queue behavior. Zero values select the defaults.
type Options struct {
	// BackoffBase is the delay after the first failed sync; it doubles per
	// failure up to BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Clock       func() time.Time
}

// Queue is the submission queue. It implements the sequencer's Submitter.
type Queue struct {
	store store.Store
	sync  Syncer
	now   func() time.Time

	backoffBase time.Duration
	backoffMax  time.Duration

	// flushMu serializes flushes so two callers never race on the same entry.
	flushMu sync.Mutex

	logger zerolog.Logger
}

// New creates a queue over the given store and syncer.
func New(st store.Store, sy Syncer, opts Options) *Queue {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultBackoffMax
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Queue{
		store:       st,
		sync:        sy,
		now:         opts.Clock,
		backoffBase: opts.BackoffBase,
		backoffMax:  opts.BackoffMax,
		logger:      log.WithComponent("queue"),
	}
}

// Enqueue records a completed session for submission. The entry is persisted
// as queued before any sync attempt. When online, one immediate sync attempt
// is made; a transient failure leaves the entry queued for a later flush.
// The session's submission status is updated in place.
//
// Enqueue is idempotent by session id: replaying a session that already
// synced only refreshes the session's status.
func (q *Queue) Enqueue(ctx context.Context, s *model.Session, online bool) error {
	if s.Step != model.StepComplete {
		return fmt.Errorf("queue: session %s not complete (step %s)", s.ID, s.Step)
	}

	if prev, err := q.store.Get(ctx, s.ID); err == nil {
		if prev.Status == model.SubmissionSynced {
			s.SubmissionStatus = model.SubmissionSynced
			return nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("queue: lookup %s: %w", s.ID, err)
	}

	// The snapshot must carry the queued status; it is the record of truth
	// after a crash.
	s.SubmissionStatus = model.SubmissionQueued
	snap, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("queue: encode session %s: %w", s.ID, err)
	}
	now := q.now()
	entry := &store.Entry{
		SessionID:      s.ID,
		Snapshot:       snap,
		Status:         model.SubmissionQueued,
		EnqueuedAtUnix: now.Unix(),
	}
	if err := q.store.Put(ctx, entry); err != nil {
		return fmt.Errorf("queue: persist %s: %w", s.ID, err)
	}
	q.updateDepth(ctx)

	if !online {
		q.logger.Info().
			Str(log.FieldSessionID, s.ID).
			Msg("offline, submission queued")
		return nil
	}

	if err := q.syncEntry(ctx, entry); err != nil {
		if errors.Is(err, ErrSyncFailure) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Stays queued; the next flush retries.
			return nil
		}
		return err
	}
	s.SubmissionStatus = model.SubmissionSynced
	return nil
}

// Flush attempts delivery of all queued entries in FIFO order by enqueue
// time. Offline it is a no-op. Entries inside their backoff window are
// skipped. Returns the number of entries synced by this call.
func (q *Queue) Flush(ctx context.Context, online bool) (int, error) {
	if !online {
		return 0, nil
	}
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	pending, err := q.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: list pending: %w", err)
	}

	now := q.now().Unix()
	synced := 0
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		if e.NextAttemptUnix > now {
			continue
		}
		if err := q.syncEntry(ctx, e); err != nil {
			if errors.Is(err, ErrSyncFailure) {
				continue
			}
			return synced, err
		}
		synced++
	}
	if synced > 0 {
		q.logger.Info().
			Int("synced", synced).
			Int("pending", len(pending)-synced).
			Msg("flush complete")
	}
	return synced, nil
}

// Depth returns the number of entries still awaiting sync.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	pending, err := q.store.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// Status returns the stored submission status for a session, or
// store.ErrNotFound if the session was never enqueued.
func (q *Queue) Status(ctx context.Context, sessionID string) (model.SubmissionStatus, error) {
	e, err := q.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return e.Status, nil
}

// Entries returns a snapshot of all entries, queued and synced, for the
// inspection endpoint.
func (q *Queue) Entries(ctx context.Context) ([]*store.Entry, error) {
	var out []*store.Entry
	err := q.store.Scan(ctx, func(e *store.Entry) error {
		out = append(out, e.Clone())
		return nil
	})
	return out, err
}

// syncEntry delivers one entry and records the result. A transient failure
// bumps the attempt counter and schedules the next try with exponential
// backoff; a permanent failure is recorded but the entry still stays queued
// so an operator can inspect it.
func (q *Queue) syncEntry(ctx context.Context, e *store.Entry) error {
	var s model.Session
	if err := json.Unmarshal(e.Snapshot, &s); err != nil {
		return fmt.Errorf("queue: decode snapshot %s: %w", e.SessionID, err)
	}

	err := q.sync.Sync(ctx, PayloadFromSession(&s, q.now()))
	if err != nil {
		metrics.SyncAttempts.WithLabelValues("failure").Inc()
		attempts := e.Attempts + 1
		next := q.now().Add(q.backoffFor(attempts)).Unix()
		if _, uerr := q.store.Update(ctx, e.SessionID, func(cur *store.Entry) error {
			cur.Attempts = attempts
			cur.NextAttemptUnix = next
			cur.LastError = err.Error()
			return nil
		}); uerr != nil {
			q.logger.Error().Err(uerr).
				Str(log.FieldSessionID, e.SessionID).
				Msg("failed to record sync failure")
		}
		e.Attempts = attempts
		e.NextAttemptUnix = next
		q.logger.Warn().Err(err).
			Str(log.FieldSessionID, e.SessionID).
			Int(log.FieldAttempt, attempts).
			Msg("submission sync failed")
		return err
	}

	metrics.SyncAttempts.WithLabelValues("success").Inc()
	syncedAt := q.now().Unix()
	s.SubmissionStatus = model.SubmissionSynced
	snap, merr := json.Marshal(&s)
	if merr != nil {
		return fmt.Errorf("queue: encode snapshot %s: %w", e.SessionID, merr)
	}
	if _, uerr := q.store.Update(ctx, e.SessionID, func(cur *store.Entry) error {
		cur.Status = model.SubmissionSynced
		cur.SyncedAtUnix = syncedAt
		cur.LastError = ""
		cur.Snapshot = snap
		return nil
	}); uerr != nil {
		return fmt.Errorf("queue: mark synced %s: %w", e.SessionID, uerr)
	}
	e.Status = model.SubmissionSynced
	e.SyncedAtUnix = syncedAt
	e.Snapshot = snap
	q.updateDepth(ctx)
	q.logger.Info().
		Str(log.FieldSessionID, e.SessionID).
		Msg("submission synced")
	return nil
}

func (q *Queue) backoffFor(attempts int) time.Duration {
	d := q.backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.backoffMax {
			return q.backoffMax
		}
	}
	if d > q.backoffMax {
		d = q.backoffMax
	}
	return d
}

func (q *Queue) updateDepth(ctx context.Context) {
	if pending, err := q.store.ListPending(ctx); err == nil {
		metrics.QueueDepth.Set(float64(len(pending)))
	}
}

// Close releases the underlying store.
func (q *Queue) Close() error {
	return q.store.Close()
}
