// Package migration moves an identity's files into another identity and
// leaves a terminal redirect marker behind.
package migration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/memohai/mediastore/internal/catalog"
	"github.com/memohai/mediastore/internal/identity"
	"github.com/memohai/mediastore/internal/metrics"
	"github.com/memohai/mediastore/internal/storage"
)

// ErrMigrationPartial reports that some files moved before a failure.
// Re-running the migration resumes where it stopped.
var ErrMigrationPartial = errors.New("migration partially completed")

// Result summarises one Migrate call. Redirected is true when this call
// installed the redirect marker.
type Result struct {
	Moved      int  `json:"moved"`
	Redirected bool `json:"redirected"`
}

// Engine performs identity migrations.
type Engine struct {
	storage  *storage.Manager
	catalog  catalog.Store
	metrics  metrics.Recorder
	logger   *slog.Logger
	moveFile func(src, dst string) error
}

// NewEngine creates an Engine. store may be nil.
func NewEngine(log *slog.Logger, mgr *storage.Manager, store catalog.Store, rec metrics.Recorder) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		storage:  mgr,
		catalog:  store,
		metrics:  metrics.OrNoop(rec),
		logger:   log.With(slog.String("service", "migration")),
		moveFile: storage.MoveFile,
	}
}

// Migrate moves every file of the anonymous oldID into the authenticated
// newID's directory and turns oldID's path into a redirect marker. It is safe to call repeatedly: once oldID is
// redirected the call returns Moved == 0. Failures mid-way return the count
// moved so far wrapped in ErrMigrationPartial; nothing is rolled back.
func (e *Engine) Migrate(ctx context.Context, oldID, newID identity.Identity) (Result, error) {
	res, err := e.migrate(ctx, oldID, newID)
	switch {
	case err == nil && res.Redirected:
		e.metrics.RecordMigration("ok", res.Moved)
	case err == nil:
		e.metrics.RecordMigration("noop", res.Moved)
	case errors.Is(err, ErrMigrationPartial):
		e.metrics.RecordMigration("partial", res.Moved)
	default:
		e.metrics.RecordMigration("error", res.Moved)
	}
	return res, err
}

func (e *Engine) migrate(ctx context.Context, oldID, newID identity.Identity) (Result, error) {
	if err := identity.Validate(oldID); err != nil {
		return Result{}, err
	}
	if err := identity.Validate(newID); err != nil {
		return Result{}, err
	}
	if oldID == newID {
		return Result{}, fmt.Errorf("%w: cannot migrate %s onto itself", identity.ErrInvalidIdentity, oldID)
	}
	// Only anonymous identities carry markers and only authenticated ones
	// receive them, so a redirect can never point at another redirect.
	if !oldID.IsAnonymous() {
		return Result{}, fmt.Errorf("%w: source %s must be anonymous", identity.ErrInvalidIdentity, oldID)
	}
	if newID.IsAnonymous() {
		return Result{}, fmt.Errorf("%w: target %s must be authenticated", identity.ErrInvalidIdentity, newID)
	}

	release, err := e.storage.Lock(ctx, oldID, newID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	oldState, target, err := e.storage.State(oldID)
	if err != nil {
		return Result{}, err
	}
	if oldState == storage.StateRedirected {
		if target != newID {
			e.logger.Warn("identity already redirected elsewhere",
				slog.String("old", oldID.String()),
				slog.String("target", target.String()),
				slog.String("requested", newID.String()),
			)
		}
		return Result{}, nil
	}

	newState, _, err := e.storage.State(newID)
	if err != nil {
		return Result{}, err
	}
	if newState == storage.StateRedirected {
		return Result{}, fmt.Errorf("%w: target %s is itself redirected", identity.ErrInvalidIdentity, newID)
	}
	newDir, err := e.storage.ResolveDirectory(ctx, newID)
	if err != nil {
		return Result{}, err
	}

	var res Result
	if oldState == storage.StateLive {
		oldDir, err := e.storage.IdentityPath(oldID)
		if err != nil {
			return res, err
		}
		names, err := regularFiles(oldDir)
		if err != nil {
			return res, partial(res, fmt.Errorf("list %s: %w", oldID, err))
		}
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return res, partial(res, err)
			}
			dst, err := storage.UniqueName(newDir, name)
			if err != nil {
				return res, partial(res, err)
			}
			if err := e.moveFile(filepath.Join(oldDir, name), filepath.Join(newDir, dst)); err != nil {
				return res, partial(res, fmt.Errorf("move %s: %w", name, err))
			}
			res.Moved++
			e.rekey(ctx, oldID, name, newID, dst)
		}

		removed, err := e.storage.RemoveIfEmpty(oldID)
		if err != nil {
			return res, partial(res, err)
		}
		if !removed {
			return res, partial(res, fmt.Errorf("%s still has entries that cannot be moved", oldID))
		}
	}

	if err := e.storage.CreateRedirect(oldID, newID); err != nil {
		return res, partial(res, err)
	}
	res.Redirected = true
	e.logger.Info("identity migrated",
		slog.String("old", oldID.String()),
		slog.String("new", newID.String()),
		slog.Int("moved", res.Moved),
	)
	return res, nil
}

func (e *Engine) rekey(ctx context.Context, oldID identity.Identity, name string, newID identity.Identity, newName string) {
	if e.catalog == nil {
		return
	}
	if err := e.catalog.Move(ctx, string(oldID), name, string(newID), newName); err != nil {
		e.logger.Warn("catalog re-key failed", slog.String("name", name), slog.Any("error", err))
	}
}

// partial reports a failure after some files moved. Before the first move the
// cause is returned as is, since nothing needs resuming.
func partial(res Result, err error) error {
	if res.Moved == 0 {
		return err
	}
	return fmt.Errorf("%w: moved %d: %w", ErrMigrationPartial, res.Moved, err)
}

// regularFiles lists every regular file in dir, hidden ones included, by name.
func regularFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.Type().IsRegular() {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
