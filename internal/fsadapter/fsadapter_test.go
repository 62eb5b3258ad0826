package fsadapter_test

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatfs/chatfs/internal/backend"
	"github.com/chatfs/chatfs/internal/backend/fake"
	"github.com/chatfs/chatfs/internal/cache"
	"github.com/chatfs/chatfs/internal/clock"
	"github.com/chatfs/chatfs/internal/fsadapter"
	"github.com/chatfs/chatfs/internal/logger"
	"github.com/chatfs/chatfs/internal/metaops"
	"github.com/chatfs/chatfs/internal/store"
)

func newFS(t *testing.T) *fsadapter.FileSystem {
	t.Helper()
	client := fake.New()
	peer := backend.Peer{UserID: 1, AccessHash: 2}
	ops := metaops.New(client, peer)
	s := store.New(ops, peer)
	c := cache.New()
	clk := clock.NewFakeClock(time.Unix(1700000000, 0))
	log := logger.New(logger.Config{Severity: logger.SeverityError})

	fs := fsadapter.New(s, c, clk, log)
	require.NoError(t, fs.Init(&fuseops.InitOp{OpContext: fuseops.OpContext{Ctx: context.Background()}}))
	return fs
}

// Scenario 1: readdir on a fresh mount succeeds and writes at least one
// entry (the "." and ".." pair); the entry names are not decoded here.
func TestReaddirEmpty(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	op := &fuseops.OpenDirOp{OpContext: fuseops.OpContext{Ctx: ctx}, Inode: fuseops.RootInodeID}
	require.NoError(t, fs.OpenDir(op))

	readOp := &fuseops.ReadDirOp{
		OpContext: fuseops.OpContext{Ctx: ctx},
		Inode:     fuseops.RootInodeID,
		Offset:    0,
		Dst:       make([]byte, 4096),
	}
	require.NoError(t, fs.ReadDir(readOp))
	assert.Greater(t, readOp.BytesRead, 0)
}

// Scenario 2: touch /mnt/a; stat shows size=0, kind=regular.
func TestCreateEmptyFile(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{
		OpContext: fuseops.OpContext{Ctx: ctx},
		Parent:    fuseops.RootInodeID,
		Name:      "a",
		Mode:      0644,
	}
	require.NoError(t, fs.CreateFile(createOp))
	assert.EqualValues(t, 0, createOp.Entry.Attributes.Size)

	lookupOp := &fuseops.LookUpInodeOp{OpContext: fuseops.OpContext{Ctx: ctx}, Parent: fuseops.RootInodeID, Name: "a"}
	require.NoError(t, fs.LookUpInode(lookupOp))
	assert.Equal(t, createOp.Entry.Child, lookupOp.Entry.Child)
}

// Scenario 3/4: write then read round-trips, with the latest write winning.
func TestWriteThenRead(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{OpContext: fuseops.OpContext{Ctx: ctx}, Parent: fuseops.RootInodeID, Name: "a", Mode: 0644}
	require.NoError(t, fs.CreateFile(createOp))
	ino := createOp.Entry.Child

	writeOp := &fuseops.WriteFileOp{OpContext: fuseops.OpContext{Ctx: ctx}, Inode: ino, Data: []byte("123")}
	require.NoError(t, fs.WriteFile(writeOp))

	readOp := &fuseops.ReadFileOp{OpContext: fuseops.OpContext{Ctx: ctx}, Inode: ino, Offset: 0, Dst: make([]byte, 16)}
	require.NoError(t, fs.ReadFile(readOp))
	assert.Equal(t, "123", string(readOp.Dst[:readOp.BytesRead]))

	writeOp2 := &fuseops.WriteFileOp{OpContext: fuseops.OpContext{Ctx: ctx}, Inode: ino, Data: []byte("456789")}
	require.NoError(t, fs.WriteFile(writeOp2))

	readOp2 := &fuseops.ReadFileOp{OpContext: fuseops.OpContext{Ctx: ctx}, Inode: ino, Offset: 0, Dst: make([]byte, 16)}
	require.NoError(t, fs.ReadFile(readOp2))
	assert.Equal(t, "456789", string(readOp2.Dst[:readOp2.BytesRead]))
}

// Scenario 7: rmdir on a non-empty directory fails with ENOTEMPTY.
func TestRmdirNonEmpty(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	mkdirOp := &fuseops.MkDirOp{OpContext: fuseops.OpContext{Ctx: ctx}, Parent: fuseops.RootInodeID, Name: "d", Mode: 0755}
	require.NoError(t, fs.MkDir(mkdirOp))
	dirIno := mkdirOp.Entry.Child

	createOp := &fuseops.CreateFileOp{OpContext: fuseops.OpContext{Ctx: ctx}, Parent: dirIno, Name: "x", Mode: 0644}
	require.NoError(t, fs.CreateFile(createOp))

	rmdirOp := &fuseops.RmDirOp{OpContext: fuseops.OpContext{Ctx: ctx}, Parent: fuseops.RootInodeID, Name: "d"}
	err := fs.RmDir(rmdirOp)
	assert.Equal(t, syscall.ENOTEMPTY, err)

	lookupOp := &fuseops.LookUpInodeOp{OpContext: fuseops.OpContext{Ctx: ctx}, Parent: fuseops.RootInodeID, Name: "d"}
	require.NoError(t, fs.LookUpInode(lookupOp))
}

// Scenario 6: after unlink, lookup of the removed name returns ENOENT.
func TestUnlinkRemovesEntry(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		op := &fuseops.CreateFileOp{OpContext: fuseops.OpContext{Ctx: ctx}, Parent: fuseops.RootInodeID, Name: name, Mode: 0644}
		require.NoError(t, fs.CreateFile(op))
	}

	require.NoError(t, fs.Unlink(&fuseops.UnlinkOp{OpContext: fuseops.OpContext{Ctx: ctx}, Parent: fuseops.RootInodeID, Name: "b"}))

	lookupOp := &fuseops.LookUpInodeOp{OpContext: fuseops.OpContext{Ctx: ctx}, Parent: fuseops.RootInodeID, Name: "b"}
	err := fs.LookUpInode(lookupOp)
	assert.Equal(t, syscall.ENOENT, err)
}

// Scenario 8: xattr set/get/remove idempotence.
func TestXattrRoundTrip(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	createOp := &fuseops.CreateFileOp{OpContext: fuseops.OpContext{Ctx: ctx}, Parent: fuseops.RootInodeID, Name: "a", Mode: 0644}
	require.NoError(t, fs.CreateFile(createOp))
	ino := createOp.Entry.Child

	require.NoError(t, fs.SetXattr(&fuseops.SetXattrOp{OpContext: fuseops.OpContext{Ctx: ctx}, Inode: ino, Name: "user.k", Value: []byte("v")}))

	getOp := &fuseops.GetXattrOp{OpContext: fuseops.OpContext{Ctx: ctx}, Inode: ino, Name: "user.k", Dst: make([]byte, 16)}
	require.NoError(t, fs.GetXattr(getOp))
	assert.Equal(t, "v", string(getOp.Dst[:getOp.BytesRead]))

	require.NoError(t, fs.RemoveXattr(&fuseops.RemoveXattrOp{OpContext: fuseops.OpContext{Ctx: ctx}, Inode: ino, Name: "user.k"}))

	getOp2 := &fuseops.GetXattrOp{OpContext: fuseops.OpContext{Ctx: ctx}, Inode: ino, Name: "user.k", Dst: make([]byte, 16)}
	err := fs.GetXattr(getOp2)
	assert.Equal(t, syscall.ENODATA, err)
}
