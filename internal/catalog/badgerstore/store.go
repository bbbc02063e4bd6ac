// Package badgerstore is the embedded key/value catalog backend.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/memohai/mediastore/internal/catalog"
)

const keyPrefix = "catalog:"

// Store keeps catalog entries as JSON values keyed by dir and name.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ catalog.Store = (*Store)(nil)

// Open opens the database directory at path. An empty path opens an
// in-memory database.
func Open(log *slog.Logger, path string) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	var opts badger.Options
	if strings.TrimSpace(path) == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLoggingLevel(badger.WARNING).WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger catalog at %s: %w", path, err)
	}
	return &Store{db: db, logger: log.With(slog.String("service", "catalog"))}, nil
}

// key joins with NUL; neither identities nor file names may contain it.
func key(dir, name string) []byte {
	return []byte(keyPrefix + dir + "\x00" + name)
}

func (s *Store) Get(ctx context.Context, dir, name string) (catalog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Entry{}, err
	}
	var entry catalog.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(dir, name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return catalog.Entry{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Entry{}, fmt.Errorf("get catalog entry: %w", err)
	}
	return entry, nil
}

func (s *Store) Put(ctx context.Context, entry catalog.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode catalog entry: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(entry.Dir, entry.Name), raw)
	}); err != nil {
		return fmt.Errorf("put catalog entry: %w", err)
	}
	return nil
}

func (s *Store) Move(ctx context.Context, dir, name, newDir, newName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(dir, name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var entry catalog.Entry
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &entry) }); err != nil {
			return err
		}
		entry.Dir, entry.Name = newDir, newName
		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := txn.Delete(key(dir, name)); err != nil {
			return err
		}
		return txn.Set(key(newDir, newName), raw)
	})
	if err != nil {
		return fmt.Errorf("move catalog entry: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, dir, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(dir, name))
	}); err != nil {
		return fmt.Errorf("delete catalog entry: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
