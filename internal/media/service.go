// Package media orchestrates uploads, listings, and reads over the storage layout.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/memohai/mediastore/internal/catalog"
	"github.com/memohai/mediastore/internal/delivery"
	"github.com/memohai/mediastore/internal/identity"
	"github.com/memohai/mediastore/internal/mediatype"
	"github.com/memohai/mediastore/internal/metrics"
	"github.com/memohai/mediastore/internal/storage"
)

// Options tunes a Service.
type Options struct {
	MaxUploadBytes int64
	CacheControl   string
}

// Service provides per-identity media persistence on top of storage.Manager.
type Service struct {
	storage  *storage.Manager
	catalog  catalog.Store
	enricher *Enricher
	metrics  metrics.Recorder
	opts     Options
	logger   *slog.Logger
}

// NewService wires a media service. enricher may be nil, in which case
// metadata is only served from the catalog.
func NewService(log *slog.Logger, mgr *storage.Manager, store catalog.Store, enricher *Enricher, rec metrics.Recorder, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = catalog.NewMemory()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = MaxUploadBytes
	}
	return &Service{
		storage:  mgr,
		catalog:  store,
		enricher: enricher,
		metrics:  metrics.OrNoop(rec),
		opts:     opts,
		logger:   log.With(slog.String("service", "media")),
	}
}

// Upload spools the payload to staging, places it under a unique name in the
// identity's directory, and queues metadata enrichment. Probing never runs
// while the directory lock is held.
func (s *Service) Upload(ctx context.Context, input UploadInput) (FileRecord, error) {
	if err := identity.Validate(input.Identity); err != nil {
		return FileRecord{}, err
	}
	if input.Reader == nil {
		return FileRecord{}, fmt.Errorf("reader is required")
	}
	declared := mediatype.Normalize(input.MIME)
	sniff := declared == "" || declared == mediatype.OctetStream
	if !sniff && !mediatype.Allowed(declared) {
		return FileRecord{}, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, declared)
	}

	maxBytes := input.MaxBytes
	if maxBytes <= 0 {
		maxBytes = s.opts.MaxUploadBytes
	}
	stagedPath, written, err := s.spoolWithLimit(input.Reader, maxBytes)
	if err != nil {
		return FileRecord{}, err
	}
	defer func() {
		_ = os.Remove(stagedPath)
	}()

	mime := declared
	if sniff {
		detected, err := mimetype.DetectFile(stagedPath)
		if err != nil {
			return FileRecord{}, fmt.Errorf("%w: sniff: %v", storage.ErrStorageUnavailable, err)
		}
		mime = mediatype.Normalize(detected.String())
		if !mediatype.Allowed(mime) {
			return FileRecord{}, fmt.Errorf("%w: detected %s", ErrUnsupportedMediaType, mime)
		}
	}
	kind, _ := mediatype.KindForMIME(mime)

	dir, name, err := s.storage.Place(ctx, input.Identity, stagedPath, s.storage.StoredName(input.Filename, mime))
	if err != nil {
		return FileRecord{}, err
	}
	fullPath := filepath.Join(dir.Path, name)
	record := FileRecord{Name: name, Kind: kind, MIME: mime, SizeBytes: written}
	if info, err := os.Stat(fullPath); err == nil {
		record.SizeBytes = info.Size()
		record.ModifiedAt = info.ModTime()
	}
	s.metrics.RecordUpload(string(kind), record.SizeBytes)
	s.logger.Info("media stored",
		slog.String("identity", input.Identity.String()),
		slog.String("owner", dir.Owner.String()),
		slog.String("name", name),
		slog.String("mime", mime),
		slog.Int64("size", record.SizeBytes),
	)

	s.enqueue(Job{Owner: dir.Owner, Path: fullPath, Name: name, Kind: kind, SizeBytes: record.SizeBytes, ModifiedAt: record.ModifiedAt})
	return record, nil
}

// List returns the identity's stored media ordered by name. Files whose
// catalog entry is missing or stale are queued for enrichment and listed
// without metadata. Listing never creates a directory.
func (s *Service) List(ctx context.Context, id identity.Identity) ([]FileRecord, error) {
	if err := identity.Validate(id); err != nil {
		return nil, err
	}
	dir, ok, err := s.storage.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []FileRecord{}, nil
	}
	files, err := storage.Files(dir.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []FileRecord{}, nil
		}
		return nil, fmt.Errorf("%w: list %s: %v", storage.ErrStorageUnavailable, dir.Owner, err)
	}

	records := make([]FileRecord, 0, len(files))
	for _, fi := range files {
		kind, ok := mediatype.KindForName(fi.Name())
		if !ok {
			continue
		}
		record := FileRecord{
			Name:       fi.Name(),
			Kind:       kind,
			MIME:       mediatype.ContentType(fi.Name()),
			SizeBytes:  fi.Size(),
			ModifiedAt: fi.ModTime(),
		}
		entry, err := s.catalog.Get(ctx, string(dir.Owner), fi.Name())
		switch {
		case err == nil && entry.Fresh(fi.Size(), fi.ModTime()):
			record.MediaInfo = entry.Info
		case err == nil || errors.Is(err, catalog.ErrNotFound):
			s.enqueue(Job{
				Owner:      dir.Owner,
				Path:       filepath.Join(dir.Path, fi.Name()),
				Name:       fi.Name(),
				Kind:       kind,
				SizeBytes:  fi.Size(),
				ModifiedAt: fi.ModTime(),
			})
		default:
			s.logger.Warn("catalog lookup failed", slog.String("name", fi.Name()), slog.Any("error", err))
		}
		records = append(records, record)
	}
	return records, nil
}

// Object is an opened file ready for delivery. Close must be called.
type Object struct {
	delivery.Content
	file *os.File
}

// Close releases the underlying file handle.
func (o *Object) Close() error {
	if o == nil || o.file == nil {
		return nil
	}
	return o.file.Close()
}

// Open resolves id and opens name for streaming. If the file vanished because
// the identity was migrated meanwhile, resolution is retried once.
func (s *Service) Open(ctx context.Context, id identity.Identity, name string) (*Object, error) {
	if err := identity.Validate(id); err != nil {
		return nil, err
	}
	if !storage.ValidName(name) {
		return nil, ErrNotFound
	}
	var lastDir string
	for attempt := 0; attempt < 2; attempt++ {
		dir, ok, err := s.storage.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok || dir.Path == lastDir {
			return nil, ErrNotFound
		}
		lastDir = dir.Path
		obj, err := s.openFile(filepath.Join(dir.Path, name), name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		return obj, err
	}
	return nil, ErrNotFound
}

func (s *Service) openFile(fullPath, name string) (*Object, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fs.ErrNotExist
		}
		return nil, fmt.Errorf("%w: open %s: %v", storage.ErrStorageUnavailable, name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", storage.ErrStorageUnavailable, name, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return &Object{
		Content: delivery.Content{
			Name:         name,
			ModTime:      info.ModTime(),
			Size:         info.Size(),
			ReadSeeker:   f,
			CacheControl: s.opts.CacheControl,
		},
		file: f,
	}, nil
}

// Delete removes name from the identity's directory and drops its catalog entry.
func (s *Service) Delete(ctx context.Context, id identity.Identity, name string) error {
	if err := identity.Validate(id); err != nil {
		return err
	}
	dir, err := s.storage.Remove(ctx, id, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if err := s.catalog.Delete(ctx, string(dir.Owner), name); err != nil {
		s.logger.Warn("catalog delete failed", slog.String("name", name), slog.Any("error", err))
	}
	s.logger.Info("media deleted", slog.String("owner", dir.Owner.String()), slog.String("name", name))
	return nil
}

func (s *Service) enqueue(job Job) {
	if s.enricher == nil {
		return
	}
	s.enricher.Submit(job)
}

// spoolWithLimit copies reader into the staging area, failing once more than
// maxBytes arrive. The returned path is on the storage filesystem.
func (s *Service) spoolWithLimit(reader io.Reader, maxBytes int64) (string, int64, error) {
	tempFile, err := s.storage.Stage()
	if err != nil {
		return "", 0, err
	}
	tempPath := tempFile.Name()
	keepFile := false
	defer func() {
		_ = tempFile.Close()
		if !keepFile {
			_ = os.Remove(tempPath)
		}
	}()

	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	written, err := io.Copy(tempFile, limited)
	if err != nil {
		return "", 0, fmt.Errorf("copy to staging: %w", err)
	}
	if written > maxBytes {
		return "", 0, fmt.Errorf("%w: max %d bytes", ErrTooLarge, maxBytes)
	}
	if written == 0 {
		return "", 0, ErrEmptyUpload
	}
	if err := tempFile.Sync(); err != nil {
		return "", 0, fmt.Errorf("%w: sync staging: %v", storage.ErrStorageUnavailable, err)
	}
	keepFile = true
	return tempPath, written, nil
}
