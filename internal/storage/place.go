package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/memohai/mediastore/internal/identity"
)

// Stage creates an exclusive temp file in the staging area. Staged files are
// invisible to listings until Place moves them into an identity directory.
func (m *Manager) Stage() (*os.File, error) {
	f, err := os.CreateTemp(m.staging, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("%w: stage upload: %v", ErrStorageUnavailable, err)
	}
	return f, nil
}

// Place moves a staged file into id's directory under a collision-free name
// derived from requested. Name allocation and the rename happen under the
// directory lock.
func (m *Manager) Place(ctx context.Context, id identity.Identity, stagedPath, requested string) (Dir, string, error) {
	if !ValidName(requested) {
		return Dir{}, "", fmt.Errorf("%w: invalid file name %q", ErrStorageUnavailable, requested)
	}
	dir, release, err := m.Acquire(ctx, id)
	if err != nil {
		return Dir{}, "", err
	}
	defer release()

	name, err := UniqueName(dir.Path, requested)
	if err != nil {
		return Dir{}, "", err
	}
	if err := MoveFile(stagedPath, filepath.Join(dir.Path, name)); err != nil {
		return Dir{}, "", fmt.Errorf("%w: place %s: %v", ErrStorageUnavailable, name, err)
	}
	m.logger.Debug("file placed",
		slog.String("identity", id.String()),
		slog.String("owner", dir.Owner.String()),
		slog.String("name", name),
	)
	return dir, name, nil
}

// Remove deletes name from id's directory under the directory lock. A missing
// file reports an error matching fs.ErrNotExist.
func (m *Manager) Remove(ctx context.Context, id identity.Identity, name string) (Dir, error) {
	if !ValidName(name) {
		return Dir{}, fs.ErrNotExist
	}
	dir, release, err := m.Acquire(ctx, id)
	if err != nil {
		return Dir{}, err
	}
	defer release()

	p := filepath.Join(dir.Path, name)
	fi, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return dir, fs.ErrNotExist
		}
		return dir, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !fi.Mode().IsRegular() {
		return dir, fs.ErrNotExist
	}
	if err := os.Remove(p); err != nil {
		return dir, fmt.Errorf("%w: remove %s: %v", ErrStorageUnavailable, name, err)
	}
	return dir, nil
}

// CleanStaging removes leftovers from uploads interrupted by a crash.
func (m *Manager) CleanStaging() error {
	entries, err := os.ReadDir(m.staging)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(m.staging, e.Name())); err != nil {
			m.logger.Warn("staging cleanup failed", slog.String("entry", e.Name()), slog.Any("error", err))
		}
	}
	return nil
}
