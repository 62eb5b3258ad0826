package store_test

import (
	"context"
	"testing"

	"github.com/chatfs/chatfs/internal/backend"
	"github.com/chatfs/chatfs/internal/backend/fake"
	"github.com/chatfs/chatfs/internal/codec"
	"github.com/chatfs/chatfs/internal/metaops"
	"github.com/chatfs/chatfs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	client := fake.New()
	peer := backend.Peer{UserID: 1, AccessHash: 2}
	ops := metaops.New(client, peer)
	s := store.New(ops, peer)
	require.NoError(t, s.Init(context.Background(), codec.FileAttr{Perm: 0755}))
	return s
}

func TestInitIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Init(ctx, codec.FileAttr{Perm: 0755}))

	record, found, err := s.GetRecord(ctx, store.RootIno)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, codec.KindDirectory, record.Attr.Kind)
	assert.Empty(t, record.Children)
}

func TestAllocInoMonotonic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a, err := s.AllocIno(ctx)
	require.NoError(t, err)
	b, err := s.AllocIno(ctx)
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func TestCreateFileThenLookup(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ino, err := s.AllocIno(ctx)
	require.NoError(t, err)
	_, err = s.CreateFile(ctx, ino, store.RootIno, "a", codec.FileAttr{Perm: 0644})
	require.NoError(t, err)

	children, err := s.ListChildren(ctx, store.RootIno)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "a", children[0].Record.Name)
	assert.Equal(t, ino, children[0].Ino)
}

func TestBlobRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ino, err := s.AllocIno(ctx)
	require.NoError(t, err)
	_, err = s.CreateFile(ctx, ino, store.RootIno, "a", codec.FileAttr{Perm: 0644})
	require.NoError(t, err)

	record, err := s.WriteBlob(ctx, ino, []byte("123"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, record.Attr.Size)

	data, err := s.ReadBlob(ctx, ino)
	require.NoError(t, err)
	assert.Equal(t, []byte("123"), data)

	record, err = s.WriteBlob(ctx, ino, []byte("456789"))
	require.NoError(t, err)
	assert.EqualValues(t, 6, record.Attr.Size)

	data, err = s.ReadBlob(ctx, ino)
	require.NoError(t, err)
	assert.Equal(t, []byte("456789"), data)
}

func TestWriteEmptyBlobIsTruncate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ino, err := s.AllocIno(ctx)
	require.NoError(t, err)
	_, err = s.CreateFile(ctx, ino, store.RootIno, "a", codec.FileAttr{Perm: 0644})
	require.NoError(t, err)

	record, err := s.WriteBlob(ctx, ino, []byte{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, record.Attr.Size)

	data, err := s.ReadBlob(ctx, ino)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestUnlinkRemovesFromParentAndIndex(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ino, err := s.AllocIno(ctx)
	require.NoError(t, err)
	_, err = s.CreateFile(ctx, ino, store.RootIno, "a", codec.FileAttr{Perm: 0644})
	require.NoError(t, err)

	require.NoError(t, s.Unlink(ctx, ino, store.RootIno))

	_, found, err := s.GetRecord(ctx, ino)
	require.NoError(t, err)
	assert.False(t, found)

	children, err := s.ListChildren(ctx, store.RootIno)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestRmdirDoesNotCheckEmptiness(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	dirIno, err := s.AllocIno(ctx)
	require.NoError(t, err)
	_, err = s.CreateDir(ctx, dirIno, ptr(store.RootIno), "d", codec.FileAttr{Perm: 0755})
	require.NoError(t, err)

	childIno, err := s.AllocIno(ctx)
	require.NoError(t, err)
	_, err = s.CreateFile(ctx, childIno, dirIno, "x", codec.FileAttr{Perm: 0644})
	require.NoError(t, err)

	require.NoError(t, s.Rmdir(ctx, dirIno, store.RootIno))

	_, found, err := s.GetRecord(ctx, dirIno)
	require.NoError(t, err)
	assert.False(t, found, "store.Rmdir performs no emptiness check; that is FS-Adapter's job")
}

func TestRenameAcrossDirectories(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	dirIno, err := s.AllocIno(ctx)
	require.NoError(t, err)
	_, err = s.CreateDir(ctx, dirIno, ptr(store.RootIno), "d", codec.FileAttr{Perm: 0755})
	require.NoError(t, err)

	fileIno, err := s.AllocIno(ctx)
	require.NoError(t, err)
	_, err = s.CreateFile(ctx, fileIno, store.RootIno, "a", codec.FileAttr{Perm: 0644})
	require.NoError(t, err)

	require.NoError(t, s.Rename(ctx, fileIno, "b", store.RootIno, dirIno))

	rootChildren, err := s.ListChildren(ctx, store.RootIno)
	require.NoError(t, err)
	for _, c := range rootChildren {
		assert.NotEqual(t, fileIno, c.Ino)
	}

	dirChildren, err := s.ListChildren(ctx, dirIno)
	require.NoError(t, err)
	require.Len(t, dirChildren, 1)
	assert.Equal(t, "b", dirChildren[0].Record.Name)
}

func TestXattrIdempotence(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ino, err := s.AllocIno(ctx)
	require.NoError(t, err)
	_, err = s.CreateFile(ctx, ino, store.RootIno, "a", codec.FileAttr{Perm: 0644})
	require.NoError(t, err)

	require.NoError(t, s.SetXattr(ctx, ino, "user.k", []byte("v")))
	record, found, err := s.GetRecord(ctx, ino)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), record.Xattr["user.k"])

	require.NoError(t, s.RemoveXattr(ctx, ino, "user.k"))
	record, found, err = s.GetRecord(ctx, ino)
	require.NoError(t, err)
	require.True(t, found)
	_, ok := record.Xattr["user.k"]
	assert.False(t, ok)
}

func ptr(v uint64) *uint64 { return &v }
