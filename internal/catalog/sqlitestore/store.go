// Package sqlitestore is the SQLite catalog backend.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/memohai/mediastore/internal/catalog"
	"github.com/memohai/mediastore/internal/probe"
)

// Store persists catalog entries in a SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ catalog.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies migrations.
func Open(log *slog.Logger, path string) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("catalog path is required")
	}
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; readers share the same connection.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := Migrate(log, sqlDB, "up", nil); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Store{db: sqlDB, logger: log.With(slog.String("service", "catalog"))}, nil
}

func dsn(path string) string {
	return filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(v int64) time.Time { return time.Unix(0, v).UTC() }

func (s *Store) Get(ctx context.Context, dir, name string) (catalog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return catalog.Entry{}, err
	}
	var (
		size, modified, probed int64
		info                   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT size_bytes, modified_at, probed_at, info FROM media_catalog WHERE dir = ? AND name = ?`,
		dir, name,
	).Scan(&size, &modified, &probed, &info)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Entry{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Entry{}, fmt.Errorf("get catalog entry: %w", err)
	}
	entry := catalog.Entry{
		Dir:        dir,
		Name:       name,
		SizeBytes:  size,
		ModifiedAt: fromNanos(modified),
		ProbedAt:   fromNanos(probed),
	}
	if info.Valid && info.String != "" {
		var mi probe.MediaInfo
		if err := json.Unmarshal([]byte(info.String), &mi); err != nil {
			return catalog.Entry{}, fmt.Errorf("decode media info: %w", err)
		}
		entry.Info = &mi
	}
	return entry, nil
}

func (s *Store) Put(ctx context.Context, entry catalog.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var info sql.NullString
	if entry.Info != nil {
		raw, err := json.Marshal(entry.Info)
		if err != nil {
			return fmt.Errorf("encode media info: %w", err)
		}
		info = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media_catalog (dir, name, size_bytes, modified_at, probed_at, info)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (dir, name) DO UPDATE SET
		   size_bytes = excluded.size_bytes,
		   modified_at = excluded.modified_at,
		   probed_at = excluded.probed_at,
		   info = excluded.info`,
		entry.Dir, entry.Name, entry.SizeBytes, toNanos(entry.ModifiedAt), toNanos(entry.ProbedAt), info,
	)
	if err != nil {
		return fmt.Errorf("put catalog entry: %w", err)
	}
	return nil
}

func (s *Store) Move(ctx context.Context, dir, name, newDir, newName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM media_catalog WHERE dir = ? AND name = ?`, dir, name).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("move catalog entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM media_catalog WHERE dir = ? AND name = ?`, newDir, newName); err != nil {
		return fmt.Errorf("move catalog entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE media_catalog SET dir = ?, name = ? WHERE dir = ? AND name = ?`,
		newDir, newName, dir, name,
	); err != nil {
		return fmt.Errorf("move catalog entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit move: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, dir, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM media_catalog WHERE dir = ? AND name = ?`, dir, name); err != nil {
		return fmt.Errorf("delete catalog entry: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
