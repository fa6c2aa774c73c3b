package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/fieldcert/fieldcert/internal/inspection/model"
)

// BadgerStore implements Store on a badger key-value database.
// Keys: "sub:<sessionID>" -> JSON entry.
type BadgerStore struct {
	db *badger.DB
}

func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func entryKey(sessionID string) []byte {
	return []byte("sub:" + sessionID)
}

func (s *BadgerStore) Put(ctx context.Context, e *Entry) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e.SessionID), buf)
	})
}

func (s *BadgerStore) Get(ctx context.Context, sessionID string) (*Entry, error) {
	var out Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) Update(ctx context.Context, sessionID string, fn func(*Entry) error) (*Entry, error) {
	var out Entry
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(sessionID))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		}); err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		buf, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return txn.Set(entryKey(sessionID), buf)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) ListPending(ctx context.Context) ([]*Entry, error) {
	var pending []*Entry
	err := s.Scan(ctx, func(e *Entry) error {
		if e.Status == model.SubmissionQueued {
			pending = append(pending, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].EnqueuedAtUnix != pending[j].EnqueuedAtUnix {
			return pending[i].EnqueuedAtUnix < pending[j].EnqueuedAtUnix
		}
		return pending[i].SessionID < pending[j].SessionID
	})
	return pending, nil
}

func (s *BadgerStore) Scan(ctx context.Context, fn func(*Entry) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("sub:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			if err := fn(&e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Delete(ctx context.Context, sessionID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(sessionID))
	})
}
