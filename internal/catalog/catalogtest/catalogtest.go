// Package catalogtest holds the behaviour every catalog.Store must share.
package catalogtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/mediastore/internal/catalog"
	"github.com/memohai/mediastore/internal/probe"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) catalog.Store) {
	t.Helper()
	ctx := context.Background()
	mtime := time.Date(2024, 3, 1, 12, 30, 0, 123456789, time.UTC)

	video := func() *probe.MediaInfo {
		d, fps, frames := 10.0, 30.0, int64(300)
		return &probe.MediaInfo{DurationSeconds: &d, WidthPx: 1920, HeightPx: 1080, FPS: &fps, FrameCount: &frames}
	}

	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, "browser-a", "x.mp4")
		assert.True(t, errors.Is(err, catalog.ErrNotFound))
	})

	t.Run("put then get", func(t *testing.T) {
		s := open(t)
		in := catalog.Entry{Dir: "u1", Name: "1_a.mp4", SizeBytes: 42, ModifiedAt: mtime, ProbedAt: mtime.Add(time.Second), Info: video()}
		require.NoError(t, s.Put(ctx, in))

		got, err := s.Get(ctx, "u1", "1_a.mp4")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.Dir)
		assert.Equal(t, int64(42), got.SizeBytes)
		assert.True(t, got.ModifiedAt.Equal(mtime), "mtime %v", got.ModifiedAt)
		assert.True(t, got.Fresh(42, mtime))
		require.NotNil(t, got.Info)
		assert.Equal(t, int64(300), *got.Info.FrameCount)
		assert.Equal(t, 1920, got.Info.WidthPx)
	})

	t.Run("absent metadata is kept", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, catalog.Entry{Dir: "u1", Name: "bad.mp4", SizeBytes: 7, ModifiedAt: mtime, ProbedAt: mtime}))
		got, err := s.Get(ctx, "u1", "bad.mp4")
		require.NoError(t, err)
		assert.Nil(t, got.Info)
	})

	t.Run("put overwrites", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, catalog.Entry{Dir: "u1", Name: "a.png", SizeBytes: 1, ModifiedAt: mtime, ProbedAt: mtime}))
		require.NoError(t, s.Put(ctx, catalog.Entry{Dir: "u1", Name: "a.png", SizeBytes: 2, ModifiedAt: mtime, ProbedAt: mtime,
			Info: &probe.MediaInfo{WidthPx: 10, HeightPx: 20}}))
		got, err := s.Get(ctx, "u1", "a.png")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.SizeBytes)
		require.NotNil(t, got.Info)
		assert.Nil(t, got.Info.DurationSeconds)
		assert.Equal(t, 20, got.Info.HeightPx)
	})

	t.Run("move re-keys", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, catalog.Entry{Dir: "browser-a", Name: "c.mp4", SizeBytes: 5, ModifiedAt: mtime, ProbedAt: mtime, Info: video()}))
		require.NoError(t, s.Move(ctx, "browser-a", "c.mp4", "u1", "c_1.mp4"))

		_, err := s.Get(ctx, "browser-a", "c.mp4")
		assert.True(t, errors.Is(err, catalog.ErrNotFound))
		got, err := s.Get(ctx, "u1", "c_1.mp4")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.Dir)
		assert.Equal(t, "c_1.mp4", got.Name)
		assert.NotNil(t, got.Info)
	})

	t.Run("move replaces destination", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, catalog.Entry{Dir: "a", Name: "x.mp4", SizeBytes: 1, ModifiedAt: mtime, ProbedAt: mtime}))
		require.NoError(t, s.Put(ctx, catalog.Entry{Dir: "b", Name: "x.mp4", SizeBytes: 2, ModifiedAt: mtime, ProbedAt: mtime}))
		require.NoError(t, s.Move(ctx, "a", "x.mp4", "b", "x.mp4"))
		got, err := s.Get(ctx, "b", "x.mp4")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.SizeBytes)
	})

	t.Run("move missing is a no-op", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Move(ctx, "a", "none.mp4", "b", "none.mp4"))
		_, err := s.Get(ctx, "b", "none.mp4")
		assert.True(t, errors.Is(err, catalog.ErrNotFound))
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, catalog.Entry{Dir: "u1", Name: "d.gif", SizeBytes: 3, ModifiedAt: mtime, ProbedAt: mtime}))
		require.NoError(t, s.Delete(ctx, "u1", "d.gif"))
		require.NoError(t, s.Delete(ctx, "u1", "d.gif"))
		_, err := s.Get(ctx, "u1", "d.gif")
		assert.True(t, errors.Is(err, catalog.ErrNotFound))
	})

	t.Run("keys do not collide across dirs", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Put(ctx, catalog.Entry{Dir: "ab", Name: "c.mp4", SizeBytes: 1, ModifiedAt: mtime, ProbedAt: mtime}))
		require.NoError(t, s.Put(ctx, catalog.Entry{Dir: "a", Name: "bc.mp4", SizeBytes: 2, ModifiedAt: mtime, ProbedAt: mtime}))
		got, err := s.Get(ctx, "ab", "c.mp4")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.SizeBytes)
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := open(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, s.Put(cctx, catalog.Entry{Dir: "u1", Name: "z.mp4"}))
	})
}
