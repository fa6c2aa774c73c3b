package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fieldcert/fieldcert/internal/inspection/model"
)

func testEntry(id string, enqueuedAt int64) *Entry {
	snap, _ := json.Marshal(map[string]string{"sessionId": id})
	return &Entry{
		SessionID:      id,
		Snapshot:       snap,
		Status:         model.SubmissionQueued,
		EnqueuedAtUnix: enqueuedAt,
	}
}

// runStoreConformance exercises the Store contract against a backend.
func runStoreConformance(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(context.Background(), "absent")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		e := testEntry("s-1", 100)
		e.LastError = "beacon timeout"
		require.NoError(t, s.Put(ctx, e))

		got, err := s.Get(ctx, "s-1")
		require.NoError(t, err)
		require.Equal(t, e.SessionID, got.SessionID)
		require.JSONEq(t, string(e.Snapshot), string(got.Snapshot))
		require.Equal(t, model.SubmissionQueued, got.Status)
		require.Equal(t, int64(100), got.EnqueuedAtUnix)
		require.Equal(t, "beacon timeout", got.LastError)
	})

	t.Run("PutOverwritesSameSession", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, testEntry("s-1", 100)))
		again := testEntry("s-1", 200)
		again.Attempts = 3
		require.NoError(t, s.Put(ctx, again))

		got, err := s.Get(ctx, "s-1")
		require.NoError(t, err)
		require.Equal(t, int64(200), got.EnqueuedAtUnix)
		require.Equal(t, 3, got.Attempts)

		pending, err := s.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1, "same session id must not duplicate")
	})

	t.Run("UpdateTransactional", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, testEntry("s-1", 100)))

		updated, err := s.Update(ctx, "s-1", func(e *Entry) error {
			e.Status = model.SubmissionSynced
			e.SyncedAtUnix = 500
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, model.SubmissionSynced, updated.Status)

		got, err := s.Get(ctx, "s-1")
		require.NoError(t, err)
		require.Equal(t, model.SubmissionSynced, got.Status)
		require.Equal(t, int64(500), got.SyncedAtUnix)

		// A failing fn leaves the entry untouched.
		_, err = s.Update(ctx, "s-1", func(e *Entry) error {
			e.Status = model.SubmissionQueued
			return fmt.Errorf("boom")
		})
		require.Error(t, err)
		got, err = s.Get(ctx, "s-1")
		require.NoError(t, err)
		require.Equal(t, model.SubmissionSynced, got.Status)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := open(t)
		_, err := s.Update(context.Background(), "absent", func(e *Entry) error { return nil })
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ListPendingFIFOSkipsSynced", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, testEntry("s-late", 300)))
		require.NoError(t, s.Put(ctx, testEntry("s-early", 100)))
		require.NoError(t, s.Put(ctx, testEntry("s-mid", 200)))

		done := testEntry("s-done", 50)
		done.Status = model.SubmissionSynced
		require.NoError(t, s.Put(ctx, done))

		pending, err := s.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		require.Equal(t, "s-early", pending[0].SessionID)
		require.Equal(t, "s-mid", pending[1].SessionID)
		require.Equal(t, "s-late", pending[2].SessionID)
	})

	t.Run("ScanVisitsAll", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, testEntry("s-1", 100)))
		done := testEntry("s-2", 200)
		done.Status = model.SubmissionSynced
		require.NoError(t, s.Put(ctx, done))

		seen := map[string]model.SubmissionStatus{}
		require.NoError(t, s.Scan(ctx, func(e *Entry) error {
			seen[e.SessionID] = e.Status
			return nil
		}))
		require.Len(t, seen, 2)
		require.Equal(t, model.SubmissionQueued, seen["s-1"])
		require.Equal(t, model.SubmissionSynced, seen["s-2"])
	})

	t.Run("Delete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, testEntry("s-1", 100)))
		require.NoError(t, s.Delete(ctx, "s-1"))
		_, err := s.Get(ctx, "s-1")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSqliteStore(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) Store {
		s, err := NewSqliteStore(t.TempDir() + "/submissions.db")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBadgerStore(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) Store {
		s, err := OpenBadgerStore(t.TempDir() + "/submissions.badger")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSqliteStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/submissions.db"
	ctx := context.Background()

	s, err := NewSqliteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, testEntry("s-1", 100)))
	require.NoError(t, s.Close())

	s, err = NewSqliteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, "s-1", got.SessionID)
}

func TestOpenFactory(t *testing.T) {
	tests := []struct {
		backend string
		want    string
		wantErr bool
	}{
		{backend: "memory", want: "*store.MemoryStore"},
		{backend: "sqlite", want: "*store.SqliteStore"},
		{backend: "", want: "*store.SqliteStore"},
		{backend: "badger", want: "*store.BadgerStore"},
		{backend: "cassandra", wantErr: true},
	}
	for _, tc := range tests {
		t.Run("backend="+tc.backend, func(t *testing.T) {
			s, err := Open(tc.backend, t.TempDir())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer s.Close()
			require.Equal(t, tc.want, fmt.Sprintf("%T", s))
		})
	}
}
