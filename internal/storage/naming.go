package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/memohai/mediastore/internal/mediatype"
)

// maxSuffix bounds the collision search so an unreadable directory cannot spin forever.
const maxSuffix = 100000

// UniqueName returns requested if no entry by that name exists in dirPath,
// otherwise the first free "<stem>_<n><ext>". The caller must hold the
// directory's lock for the result to stay free.
func UniqueName(dirPath, requested string) (string, error) {
	free, err := isFree(filepath.Join(dirPath, requested))
	if err != nil || free {
		return requested, err
	}
	ext := filepath.Ext(requested)
	stem := strings.TrimSuffix(requested, ext)
	for n := 1; n <= maxSuffix; n++ {
		candidate := stem + "_" + strconv.Itoa(n) + ext
		free, err := isFree(filepath.Join(dirPath, candidate))
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free name for %q", ErrStorageUnavailable, requested)
}

func isFree(p string) (bool, error) {
	_, err := os.Lstat(p)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

// SanitizeName keeps ASCII letters, digits, '.' and '-' and replaces everything
// else with '_'. Path components are dropped first.
func SanitizeName(original string) string {
	original = strings.ReplaceAll(original, `\`, "/")
	if i := strings.LastIndexByte(original, '/'); i >= 0 {
		original = original[i+1:]
	}
	var b strings.Builder
	b.Grow(len(original))
	for _, r := range original {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	if name == "" {
		return "upload"
	}
	return truncateName(name, maxSanitizedBytes)
}

// maxSanitizedBytes leaves room under NAME_MAX (255) for the token prefix,
// an appended extension and a collision suffix.
const maxSanitizedBytes = 200

// truncateName shortens the stem of an ASCII name to fit limit bytes,
// keeping a short extension intact.
func truncateName(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}
	stem := strings.TrimRight(name[:limit-len(ext)], ".")
	if stem == "" {
		stem = "upload"
	}
	return stem + ext
}

// StoredName builds "<token>_<sanitized>" and makes sure the extension
// matches mime so the kind can be derived from the name later.
func (m *Manager) StoredName(original, mime string) string {
	name := SanitizeName(original)
	if !mediatype.MatchesMIME(name, mime) {
		if ext, ok := mediatype.ExtensionForMIME(mime); ok {
			name += ext
		}
	}
	return m.tokens.Next() + "_" + name
}

// tokenSource yields strictly increasing millisecond-derived tokens.
type tokenSource struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func newTokenSource(now func() time.Time) *tokenSource {
	if now == nil {
		now = time.Now
	}
	return &tokenSource{now: now}
}

func (t *tokenSource) Next() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ms := t.now().UnixMilli()
	if ms <= t.last {
		ms = t.last + 1
	}
	t.last = ms
	return strconv.FormatInt(ms, 10)
}
