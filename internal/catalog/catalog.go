// Package catalog persists probe outcomes per stored file so that metadata
// absence is recorded once instead of re-probing on every read.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/memohai/mediastore/internal/probe"
)

// ErrNotFound is returned by Get when no entry exists.
var ErrNotFound = errors.New("catalog entry not found")

// Entry records the probe outcome for one file. Info == nil means the file
// was probed and yielded no metadata.
type Entry struct {
	Dir        string           `json:"dir"`
	Name       string           `json:"name"`
	SizeBytes  int64            `json:"size_bytes"`
	ModifiedAt time.Time        `json:"modified_at"`
	ProbedAt   time.Time        `json:"probed_at"`
	Info       *probe.MediaInfo `json:"info,omitempty"`
}

// Fresh reports whether the entry still describes a file of the given size and mtime.
func (e Entry) Fresh(size int64, modifiedAt time.Time) bool {
	return e.SizeBytes == size && e.ModifiedAt.Equal(modifiedAt)
}

// Store is implemented by the catalog backends. Dir is the owning identity.
type Store interface {
	Get(ctx context.Context, dir, name string) (Entry, error)
	Put(ctx context.Context, entry Entry) error
	// Move re-keys an entry. Moving a missing entry is a no-op.
	Move(ctx context.Context, dir, name, newDir, newName string) error
	Delete(ctx context.Context, dir, name string) error
	Close() error
}
