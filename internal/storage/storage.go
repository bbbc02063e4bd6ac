// Package storage maps storage identities to per-identity media directories.
//
// Layout under the root:
//
//	<root>/<identity>/            live directory
//	<root>/<identity> -> <other>  redirect marker left by migration (single hop, terminal)
//	<root>/.incoming/             staging area for uploads in flight
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/memohai/mediastore/internal/identity"
)

const stagingDirName = ".incoming"

var (
	// ErrStorageUnavailable wraps directory creation and filesystem failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrUnsupportedMediaType is returned for uploads outside the MIME allow-list.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
)

// State describes what an identity path currently holds.
type State int

const (
	StateAbsent State = iota
	StateLive
	StateRedirected
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateRedirected:
		return "redirected"
	default:
		return "absent"
	}
}

// Dir is a resolved identity directory. Owner is the identity that owns Path,
// which differs from the requested identity after a redirect.
type Dir struct {
	Owner identity.Identity
	Path  string
}

// Manager owns directory creation, naming, and placement under a storage root.
type Manager struct {
	root    string
	staging string
	locks   *keyedLocks
	tokens  *tokenSource
	logger  *slog.Logger
}

// NewManager creates the root and staging directories if needed.
func NewManager(log *slog.Logger, root string) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: storage root is required", ErrStorageUnavailable)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	staging := filepath.Join(abs, stagingDirName)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create staging: %v", ErrStorageUnavailable, err)
	}
	return &Manager{
		root:    abs,
		staging: staging,
		locks:   newKeyedLocks(),
		tokens:  newTokenSource(nil),
		logger:  log.With(slog.String("service", "storage")),
	}, nil
}

// Root returns the absolute storage root.
func (m *Manager) Root() string {
	return m.root
}

// IdentityPath returns <root>/<id> after validating id.
func (m *Manager) IdentityPath(id identity.Identity) (string, error) {
	if err := identity.Validate(id); err != nil {
		return "", err
	}
	p := filepath.Join(m.root, string(id))
	if filepath.Dir(p) != m.root {
		return "", fmt.Errorf("%w: path escapes storage root", identity.ErrInvalidIdentity)
	}
	return p, nil
}

// State inspects id's path without creating anything. For redirected
// identities the returned identity is the redirect target.
func (m *Manager) State(id identity.Identity) (State, identity.Identity, error) {
	p, err := m.IdentityPath(id)
	if err != nil {
		return StateAbsent, "", err
	}
	fi, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return StateAbsent, "", nil
		}
		return StateAbsent, "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		target, err := m.readRedirect(p)
		if err != nil {
			return StateAbsent, "", err
		}
		return StateRedirected, target, nil
	case fi.IsDir():
		return StateLive, id, nil
	default:
		return StateAbsent, "", fmt.Errorf("%w: %s is not a directory", ErrStorageUnavailable, p)
	}
}

// ResolveDirectory returns the directory backing id, creating it when absent
// and following a redirect marker once.
func (m *Manager) ResolveDirectory(ctx context.Context, id identity.Identity) (string, error) {
	dir, err := m.resolve(ctx, id, true)
	if err != nil {
		return "", err
	}
	return dir.Path, nil
}

// Resolve is ResolveDirectory returning the owning identity as well.
func (m *Manager) Resolve(ctx context.Context, id identity.Identity) (Dir, error) {
	return m.resolve(ctx, id, true)
}

// Lookup resolves id without creating directories. ok is false when neither
// the identity nor its redirect target has a directory yet.
func (m *Manager) Lookup(ctx context.Context, id identity.Identity) (Dir, bool, error) {
	dir, err := m.resolve(ctx, id, false)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Dir{}, false, nil
		}
		return Dir{}, false, err
	}
	return dir, true, nil
}

func (m *Manager) resolve(ctx context.Context, id identity.Identity, create bool) (Dir, error) {
	if err := ctx.Err(); err != nil {
		return Dir{}, err
	}
	state, target, err := m.State(id)
	if err != nil {
		return Dir{}, err
	}
	owner := id
	switch state {
	case StateLive:
		return Dir{Owner: id, Path: filepath.Join(m.root, string(id))}, nil
	case StateRedirected:
		owner = target
		targetState, _, err := m.State(target)
		if err != nil {
			return Dir{}, err
		}
		if targetState == StateRedirected {
			return Dir{}, fmt.Errorf("%w: redirect chain %s -> %s", ErrStorageUnavailable, id, target)
		}
		if targetState == StateLive {
			return Dir{Owner: target, Path: filepath.Join(m.root, string(target))}, nil
		}
	}
	p := filepath.Join(m.root, string(owner))
	if !create {
		return Dir{}, fs.ErrNotExist
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return Dir{}, fmt.Errorf("%w: create %s: %v", ErrStorageUnavailable, owner, err)
	}
	m.logger.Debug("created identity directory", slog.String("identity", owner.String()))
	return Dir{Owner: owner, Path: p}, nil
}

// readRedirect validates a marker's target: a sibling identity inside root.
func (m *Manager) readRedirect(markerPath string) (identity.Identity, error) {
	raw, err := os.Readlink(markerPath)
	if err != nil {
		return "", fmt.Errorf("%w: read redirect: %v", ErrStorageUnavailable, err)
	}
	if filepath.IsAbs(raw) {
		if filepath.Dir(filepath.Clean(raw)) != m.root {
			return "", fmt.Errorf("%w: redirect escapes storage root", ErrStorageUnavailable)
		}
		raw = filepath.Base(raw)
	}
	target := identity.Identity(raw)
	if err := identity.Validate(target); err != nil {
		return "", fmt.Errorf("%w: bad redirect target %q", ErrStorageUnavailable, raw)
	}
	return target, nil
}

// CreateRedirect atomically turns from's (absent) path into a marker pointing
// at to. Callers must hold the locks of both identities.
func (m *Manager) CreateRedirect(from, to identity.Identity) error {
	fromPath, err := m.IdentityPath(from)
	if err != nil {
		return err
	}
	if _, err := m.IdentityPath(to); err != nil {
		return err
	}
	tmp := filepath.Join(m.staging, "redirect-"+string(from))
	_ = os.Remove(tmp)
	if err := os.Symlink(string(to), tmp); err != nil {
		return fmt.Errorf("%w: create redirect: %v", ErrStorageUnavailable, err)
	}
	if err := renameFunc(tmp, fromPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: install redirect: %v", ErrStorageUnavailable, err)
	}
	_ = syncDirBestEffort(m.root)
	m.logger.Info("redirect created", slog.String("from", from.String()), slog.String("to", to.String()))
	return nil
}

// RemoveIfEmpty deletes a live identity directory that holds no entries.
// It reports whether the directory is gone afterwards.
func (m *Manager) RemoveIfEmpty(id identity.Identity) (bool, error) {
	p, err := m.IdentityPath(id)
	if err != nil {
		return false, err
	}
	entries, err := os.ReadDir(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("%w: remove %s: %v", ErrStorageUnavailable, id, err)
	}
	return true, nil
}

// Files lists the regular, non-hidden files of a directory sorted by name.
func Files(dirPath string) ([]fs.FileInfo, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}
	out := make([]fs.FileInfo, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// ValidName reports whether name is a plain stored file name (no traversal, not hidden).
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}
