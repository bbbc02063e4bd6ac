package media

import (
	"errors"
	"io"
	"time"

	"github.com/memohai/mediastore/internal/identity"
	"github.com/memohai/mediastore/internal/mediatype"
	"github.com/memohai/mediastore/internal/probe"
	"github.com/memohai/mediastore/internal/storage"
)

// MaxUploadBytes is the default upload size limit.
const MaxUploadBytes int64 = 2 << 30

var (
	ErrNotFound    = errors.New("media not found")
	ErrTooLarge    = errors.New("media exceeds size limit")
	ErrEmptyUpload = errors.New("media payload is empty")
	// ErrUnsupportedMediaType aliases the storage error so callers need one import.
	ErrUnsupportedMediaType = storage.ErrUnsupportedMediaType
)

// FileRecord describes one stored file. MediaInfo is nil until enrichment
// succeeds, and stays nil when probing yields nothing.
type FileRecord struct {
	Name       string           `json:"name"`
	Kind       mediatype.Kind   `json:"kind"`
	MIME       string           `json:"mime"`
	SizeBytes  int64            `json:"size_bytes"`
	ModifiedAt time.Time        `json:"modified_at"`
	MediaInfo  *probe.MediaInfo `json:"media_info,omitempty"`
}

// UploadInput carries the data needed to store a new file.
type UploadInput struct {
	Identity identity.Identity
	// Filename is the client-supplied name; it is sanitized before use.
	Filename string
	// MIME is the declared type. Empty or application/octet-stream triggers sniffing.
	MIME string
	// Reader provides the raw bytes; caller is responsible for closing.
	Reader io.Reader
	// MaxBytes optionally overrides the service limit.
	MaxBytes int64
}
