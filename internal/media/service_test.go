package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/mediastore/internal/catalog"
	"github.com/memohai/mediastore/internal/identity"
	"github.com/memohai/mediastore/internal/logger"
	"github.com/memohai/mediastore/internal/mediatype"
	"github.com/memohai/mediastore/internal/probe"
	"github.com/memohai/mediastore/internal/storage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x10\x00\x00\x00\x10\x08\x02\x00\x00\x00")

type fakeProber struct {
	mu    sync.Mutex
	calls []string
	info  *probe.MediaInfo
	err   error
}

func (f *fakeProber) Probe(_ context.Context, path string, _ mediatype.Kind) (*probe.MediaInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, filepath.Base(path))
	return f.info, f.err
}

func (f *fakeProber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	svc     *Service
	mgr     *storage.Manager
	store   *catalog.Memory
	prober  *fakeProber
	enrich  *Enricher
	rootDir string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	root := t.TempDir()
	mgr, err := storage.NewManager(logger.Discard(), root)
	require.NoError(t, err)
	store := catalog.NewMemory()
	d, fps, frames := 10.0, 30.0, int64(300)
	prober := &fakeProber{info: &probe.MediaInfo{DurationSeconds: &d, WidthPx: 640, HeightPx: 360, FPS: &fps, FrameCount: &frames}}
	enrich := NewEnricher(logger.Discard(), prober, store, nil, EnricherOptions{Workers: 2, QueueSize: 16})
	t.Cleanup(func() { _ = enrich.Close(context.Background()) })
	return &fixture{
		svc:     NewService(logger.Discard(), mgr, store, enrich, nil, opts),
		mgr:     mgr,
		store:   store,
		prober:  prober,
		enrich:  enrich,
		rootDir: mgr.Root(),
	}
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, f.enrich.Close(context.Background()))
}

func stagingEntries(t *testing.T, root string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, ".incoming"))
	require.NoError(t, err)
	return entries
}

func TestUploadStoresFile(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	rec, err := f.svc.Upload(ctx, UploadInput{
		Identity: "browser-abc",
		Filename: "holiday clip.mp4",
		MIME:     "video/mp4",
		Reader:   strings.NewReader("fake mp4 bytes"),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(rec.Name, "_holiday_clip.mp4"), rec.Name)
	assert.Equal(t, mediatype.KindVideo, rec.Kind)
	assert.Equal(t, "video/mp4", rec.MIME)
	assert.Equal(t, int64(14), rec.SizeBytes)
	assert.Nil(t, rec.MediaInfo)

	data, err := os.ReadFile(filepath.Join(f.rootDir, "browser-abc", rec.Name))
	require.NoError(t, err)
	assert.Equal(t, "fake mp4 bytes", string(data))
	assert.Empty(t, stagingEntries(t, f.rootDir))

	f.drain(t)
	entry, err := f.store.Get(ctx, "browser-abc", rec.Name)
	require.NoError(t, err)
	require.NotNil(t, entry.Info)
	assert.Equal(t, int64(300), *entry.Info.FrameCount)
}

func TestUploadLongFilename(t *testing.T) {
	f := newFixture(t, Options{})
	rec, err := f.svc.Upload(context.Background(), UploadInput{
		Identity: "browser-abc",
		Filename: strings.Repeat("a", 250) + ".mp4",
		MIME:     "video/mp4",
		Reader:   strings.NewReader("fake mp4 bytes"),
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(rec.Name), 255)
	assert.True(t, strings.HasSuffix(rec.Name, ".mp4"), rec.Name)
	assert.FileExists(t, filepath.Join(f.rootDir, "browser-abc", rec.Name))
}

func TestUploadSniffsUndeclaredType(t *testing.T) {
	f := newFixture(t, Options{})
	rec, err := f.svc.Upload(context.Background(), UploadInput{
		Identity: "user-1",
		Filename: "blob",
		MIME:     "application/octet-stream",
		Reader:   bytes.NewReader(pngHeader),
	})
	require.NoError(t, err)
	assert.Equal(t, "image/png", rec.MIME)
	assert.Equal(t, mediatype.KindImage, rec.Kind)
	assert.True(t, strings.HasSuffix(rec.Name, "_blob.png"), rec.Name)
}

func TestUploadRejections(t *testing.T) {
	cases := []struct {
		name  string
		input UploadInput
		want  error
	}{
		{"declared type outside allow-list", UploadInput{Identity: "u1", Filename: "a.txt", MIME: "text/plain", Reader: strings.NewReader("x")}, ErrUnsupportedMediaType},
		{"sniffed type outside allow-list", UploadInput{Identity: "u1", Filename: "a", Reader: strings.NewReader("just some text")}, ErrUnsupportedMediaType},
		{"empty payload", UploadInput{Identity: "u1", Filename: "a.mp4", MIME: "video/mp4", Reader: strings.NewReader("")}, ErrEmptyUpload},
		{"too large", UploadInput{Identity: "u1", Filename: "a.mp4", MIME: "video/mp4", Reader: strings.NewReader("0123456789"), MaxBytes: 5}, ErrTooLarge},
		{"invalid identity", UploadInput{Identity: "../etc", Filename: "a.mp4", MIME: "video/mp4", Reader: strings.NewReader("x")}, identity.ErrInvalidIdentity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			_, err := f.svc.Upload(context.Background(), tc.input)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.Empty(t, stagingEntries(t, f.rootDir))
			_, statErr := os.Stat(filepath.Join(f.rootDir, "u1"))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestUploadRespectsServiceLimit(t *testing.T) {
	f := newFixture(t, Options{MaxUploadBytes: 4})
	_, err := f.svc.Upload(context.Background(), UploadInput{Identity: "u1", Filename: "a.gif", MIME: "image/gif", Reader: strings.NewReader("GIF89a")})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestUploadCollisionAllocatesSuffix(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	dir, err := f.mgr.Resolve(ctx, "u1")
	require.NoError(t, err)

	staged, err := f.mgr.Stage()
	require.NoError(t, err)
	_, _ = staged.WriteString("one")
	require.NoError(t, staged.Close())
	_, name1, err := f.mgr.Place(ctx, "u1", staged.Name(), "same.webm")
	require.NoError(t, err)

	staged, err = f.mgr.Stage()
	require.NoError(t, err)
	_, _ = staged.WriteString("two")
	require.NoError(t, staged.Close())
	_, name2, err := f.mgr.Place(ctx, "u1", staged.Name(), "same.webm")
	require.NoError(t, err)

	assert.Equal(t, "same.webm", name1)
	assert.Equal(t, "same_1.webm", name2)
	one, _ := os.ReadFile(filepath.Join(dir.Path, name1))
	assert.Equal(t, "one", string(one))
}

func writeFile(t *testing.T, dir, name, content string) os.FileInfo {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	fi, err := os.Stat(p)
	require.NoError(t, err)
	return fi
}

func TestListOrdersByNameAndUsesCatalog(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	dir := filepath.Join(f.rootDir, "u1")
	fb := writeFile(t, dir, "b.mp4", "bbbb")
	writeFile(t, dir, "a.png", "aa")
	writeFile(t, dir, "notes.txt", "skip me")
	writeFile(t, dir, ".hidden.mp4", "skip me")

	frames := int64(12)
	require.NoError(t, f.store.Put(ctx, catalog.Entry{
		Dir: "u1", Name: "b.mp4", SizeBytes: fb.Size(), ModifiedAt: fb.ModTime(), ProbedAt: time.Now(),
		Info: &probe.MediaInfo{WidthPx: 2, HeightPx: 2, FrameCount: &frames},
	}))

	records, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a.png", records[0].Name)
	assert.Equal(t, "image/png", records[0].MIME)
	assert.Nil(t, records[0].MediaInfo)
	assert.Equal(t, "b.mp4", records[1].Name)
	require.NotNil(t, records[1].MediaInfo)
	assert.Equal(t, int64(12), *records[1].MediaInfo.FrameCount)

	f.drain(t)
	assert.Equal(t, 1, f.prober.count(), "only the uncatalogued file is probed")
	_, err = f.store.Get(ctx, "u1", "a.png")
	assert.NoError(t, err)
}

func TestListReprobesStaleEntry(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	fi := writeFile(t, filepath.Join(f.rootDir, "u1"), "c.mp4", "changed content")
	require.NoError(t, f.store.Put(ctx, catalog.Entry{Dir: "u1", Name: "c.mp4", SizeBytes: fi.Size() - 1, ModifiedAt: fi.ModTime()}))

	records, err := f.svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].MediaInfo)

	f.drain(t)
	entry, err := f.store.Get(ctx, "u1", "c.mp4")
	require.NoError(t, err)
	assert.True(t, entry.Fresh(fi.Size(), fi.ModTime()))
}

func TestListUnknownIdentityCreatesNothing(t *testing.T) {
	f := newFixture(t, Options{})
	records, err := f.svc.List(context.Background(), "browser-new")
	require.NoError(t, err)
	assert.Empty(t, records)
	_, err = os.Lstat(filepath.Join(f.rootDir, "browser-new"))
	assert.True(t, os.IsNotExist(err))
}

func TestListFollowsRedirect(t *testing.T) {
	f := newFixture(t, Options{})
	writeFile(t, filepath.Join(f.rootDir, "u1"), "moved.mp4", "x")
	require.NoError(t, f.mgr.CreateRedirect("browser-old", "u1"))

	viaOld, err := f.svc.List(context.Background(), "browser-old")
	require.NoError(t, err)
	viaNew, err := f.svc.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, viaNew, viaOld)
	require.Len(t, viaOld, 1)
}

func TestOpenStreamsFile(t *testing.T) {
	f := newFixture(t, Options{CacheControl: "private, max-age=60"})
	writeFile(t, filepath.Join(f.rootDir, "u1"), "clip.webm", "webm-bytes")

	obj, err := f.svc.Open(context.Background(), "u1", "clip.webm")
	require.NoError(t, err)
	defer obj.Close()
	assert.Equal(t, int64(10), obj.Size)
	assert.Equal(t, "private, max-age=60", obj.CacheControl)
	data, err := io.ReadAll(obj.ReadSeeker)
	require.NoError(t, err)
	assert.Equal(t, "webm-bytes", string(data))
}

func TestOpenNotFound(t *testing.T) {
	f := newFixture(t, Options{})
	writeFile(t, filepath.Join(f.rootDir, "u1"), "clip.webm", "x")
	require.NoError(t, os.Mkdir(filepath.Join(f.rootDir, "u1", "sub.mp4"), 0o755))

	for _, name := range []string{"missing.mp4", "../u1/clip.webm", ".hidden", "", "sub.mp4"} {
		_, err := f.svc.Open(context.Background(), "u1", name)
		assert.ErrorIs(t, err, ErrNotFound, name)
	}
	_, err := f.svc.Open(context.Background(), "nobody", "clip.webm")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	writeFile(t, filepath.Join(f.rootDir, "u1"), "gone.gif", "GIF89a")
	require.NoError(t, f.store.Put(ctx, catalog.Entry{Dir: "u1", Name: "gone.gif"}))

	require.NoError(t, f.svc.Delete(ctx, "u1", "gone.gif"))
	_, err := os.Stat(filepath.Join(f.rootDir, "u1", "gone.gif"))
	assert.True(t, os.IsNotExist(err))
	_, err = f.store.Get(ctx, "u1", "gone.gif")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	assert.ErrorIs(t, f.svc.Delete(ctx, "u1", "gone.gif"), ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, "u1", "../x"), ErrNotFound)
}
