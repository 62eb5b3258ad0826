package cache_test

import (
	"context"
	"testing"

	"github.com/chatfs/chatfs/internal/cache"
	"github.com/chatfs/chatfs/internal/codec"
	"github.com/chatfs/chatfs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLister struct {
	calls    int
	children map[uint64][]store.ChildRecord
}

func (s *stubLister) ListChildren(ctx context.Context, ino uint64) ([]store.ChildRecord, error) {
	s.calls++
	return s.children[ino], nil
}

func TestFillOnlyRefillsOnDirectoryChange(t *testing.T) {
	lister := &stubLister{children: map[uint64][]store.ChildRecord{
		1: {{Ino: 2, Record: codec.FileRecord{Name: "a"}}},
		3: {{Ino: 4, Record: codec.FileRecord{Name: "x"}}},
	}}
	c := cache.New()
	ctx := context.Background()

	_, err := c.Fill(ctx, lister, 1)
	require.NoError(t, err)
	_, err = c.Fill(ctx, lister, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, lister.calls)

	_, err = c.Fill(ctx, lister, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}

func TestNoteChildAddedOnlyAffectsCachedDirectory(t *testing.T) {
	lister := &stubLister{children: map[uint64][]store.ChildRecord{1: {}}}
	c := cache.New()
	ctx := context.Background()

	_, err := c.Fill(ctx, lister, 1)
	require.NoError(t, err)

	c.NoteChildAdded(1, store.ChildRecord{Ino: 5, Record: codec.FileRecord{Name: "new"}})
	children, _, err := c.Lookup(ctx, lister, 1, "new")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), children.Ino)

	c.NoteChildAdded(2, store.ChildRecord{Ino: 9, Record: codec.FileRecord{Name: "ignored"}})
	_, found, err := c.Lookup(ctx, lister, 1, "ignored")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidateIfCached(t *testing.T) {
	lister := &stubLister{children: map[uint64][]store.ChildRecord{1: {{Ino: 2, Record: codec.FileRecord{Name: "a"}}}}}
	c := cache.New()
	ctx := context.Background()

	_, err := c.Fill(ctx, lister, 1)
	require.NoError(t, err)
	c.InvalidateIfCached(1)

	_, err = c.Fill(ctx, lister, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
}
