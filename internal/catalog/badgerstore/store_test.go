package badgerstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/mediastore/internal/catalog"
	"github.com/memohai/mediastore/internal/catalog/catalogtest"
	"github.com/memohai/mediastore/internal/logger"
)

func TestStoreContractInMemory(t *testing.T) {
	catalogtest.Run(t, func(t *testing.T) catalog.Store {
		s, err := Open(logger.Discard(), "")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestEntriesSurviveReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "catalog")
	ctx := context.Background()
	mtime := time.Unix(1700000000, 77)

	s, err := Open(logger.Discard(), dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, catalog.Entry{Dir: "u1", Name: "a.webm", SizeBytes: 3, ModifiedAt: mtime, ProbedAt: mtime}))
	require.NoError(t, s.Close())

	s, err = Open(logger.Discard(), dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "u1", "a.webm")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.SizeBytes)
	assert.True(t, got.ModifiedAt.Equal(mtime))
}
