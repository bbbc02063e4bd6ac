package catalog_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/memohai/mediastore/internal/catalog"
	"github.com/memohai/mediastore/internal/catalog/catalogtest"
)

func TestMemoryStore(t *testing.T) {
	catalogtest.Run(t, func(t *testing.T) catalog.Store { return catalog.NewMemory() })
}

func TestEntryFresh(t *testing.T) {
	mtime := time.Unix(1700000000, 5)
	e := catalog.Entry{SizeBytes: 10, ModifiedAt: mtime}
	assert.True(t, e.Fresh(10, mtime.In(time.Local)))
	assert.False(t, e.Fresh(11, mtime))
	assert.False(t, e.Fresh(10, mtime.Add(time.Nanosecond)))
}
