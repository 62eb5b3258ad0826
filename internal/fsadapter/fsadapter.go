// Package fsadapter implements the kernel-callback adapter: a
// fuseops.FileSystem backed by Store and Cache. Every method receives a
// typed op, mutates it in place, and returns the error (or nil) that the
// KernelBridge turns into the matching kernel reply — exactly once per
// call, per the calling convention of github.com/jacobsa/fuse/fuseutil.
package fsadapter

import (
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/chatfs/chatfs/internal/cache"
	"github.com/chatfs/chatfs/internal/clock"
	"github.com/chatfs/chatfs/internal/codec"
	"github.com/chatfs/chatfs/internal/store"
)

// AttrTTL is the attribute/entry cache lifetime returned with every lookup
// and getattr reply.
const AttrTTL = time.Second

// fixedHandle is the single file/directory handle value this filesystem
// ever issues: every open is stateless, so there is nothing to distinguish
// one handle from another.
const fixedHandle = fuseops.HandleID(0)

// FileSystem implements fuseops.FileSystem on top of a Store and a single
// Cache. NotImplementedFileSystem supplies ENOSYS for every op this
// adapter does not override.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	store *store.Store
	cache *cache.Cache
	clock clock.Clock
	log   *slog.Logger

	// mu is held around each Cache note or invalidation that accompanies a
	// Store mutation. It is not held across the Store call itself; Store
	// has its own internal locking.
	mu sync.Mutex
}

// New returns a FileSystem backed by s and c, using clk for current-time
// bookkeeping and log for structured error reporting.
func New(s *store.Store, c *cache.Cache, clk clock.Clock, log *slog.Logger) *FileSystem {
	return &FileSystem{store: s, cache: c, clock: clk, log: log}
}

// Init ensures Store has a root inode and primes Cache for it.
func (fs *FileSystem) Init(op *fuseops.InitOp) error {
	ctx := op.Context()
	now := fs.clock.Now()
	rootAttr := codec.FileAttr{
		Perm:  0755,
		Uid:   0,
		Gid:   0,
		Atime: toTimespec(now),
		Mtime: toTimespec(now),
		Ctime: toTimespec(now),
	}
	if err := fs.store.Init(ctx, rootAttr); err != nil {
		fs.log.Error("init", "err", err)
		return syscall.EIO
	}

	if _, err := fs.cache.Fill(ctx, fs.store, store.RootIno); err != nil {
		fs.log.Error("init: prime cache", "err", err)
		return syscall.EIO
	}
	return nil
}

func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) error {
	ctx := op.Context()
	child, found, err := fs.cache.Lookup(ctx, fs.store, uint64(op.Parent), op.Name)
	if err != nil {
		fs.log.Error("lookup", "parent", op.Parent, "name", op.Name, "err", err)
		return syscall.EIO
	}
	if !found {
		return syscall.ENOENT
	}

	op.Entry.Child = fuseops.InodeID(child.Ino)
	op.Entry.Attributes = toInodeAttributes(child.Record.Attr)
	op.Entry.AttributesExpiration = fs.clock.Now().Add(AttrTTL)
	op.Entry.EntryExpiration = fs.clock.Now().Add(AttrTTL)
	return nil
}

func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	ctx := op.Context()
	record, found, err := fs.store.GetRecord(ctx, uint64(op.Inode))
	if err != nil {
		fs.log.Error("getattr", "ino", op.Inode, "err", err)
		return syscall.EIO
	}
	if !found {
		return syscall.ENOENT
	}

	op.Attributes = toInodeAttributes(record.Attr)
	op.AttributesExpiration = fs.clock.Now().Add(AttrTTL)
	return nil
}

func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) error {
	ctx := op.Context()
	record, found, err := fs.store.GetRecord(ctx, uint64(op.Inode))
	if err != nil {
		fs.log.Error("setattr", "ino", op.Inode, "err", err)
		return syscall.EIO
	}
	if !found {
		return syscall.ENOENT
	}

	attr := record.Attr
	if op.Size != nil {
		attr.Size = *op.Size
	}
	if op.Atime != nil {
		attr.Atime = toTimespec(*op.Atime)
	}
	if op.Mtime != nil {
		attr.Mtime = toTimespec(*op.Mtime)
	}

	updated, err := fs.store.SetAttr(ctx, uint64(op.Inode), attr)
	if err != nil {
		fs.log.Error("setattr: store", "ino", op.Inode, "err", err)
		return mapStoreErr(err)
	}

	fs.mu.Lock()
	fs.cache.NoteRecordUpdated(uint64(op.Inode), store.ChildRecord{Ino: uint64(op.Inode), Record: updated})
	fs.mu.Unlock()

	op.Attributes = toInodeAttributes(updated.Attr)
	op.AttributesExpiration = fs.clock.Now().Add(AttrTTL)
	return nil
}

func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) error {
	ctx := op.Context()
	if _, found, err := fs.cache.Lookup(ctx, fs.store, uint64(op.Parent), op.Name); err != nil {
		fs.log.Error("mkdir: lookup", "err", err)
		return syscall.EIO
	} else if found {
		return syscall.EEXIST
	}

	ino, err := fs.store.AllocIno(ctx)
	if err != nil {
		fs.log.Error("mkdir: alloc", "err", err)
		return syscall.EIO
	}

	now := fs.clock.Now()
	attr := codec.FileAttr{Perm: uint16(op.Mode.Perm()), Atime: toTimespec(now), Mtime: toTimespec(now), Ctime: toTimespec(now)}
	parent := uint64(op.Parent)
	record, err := fs.store.CreateDir(ctx, ino, &parent, op.Name, attr)
	if err != nil {
		fs.log.Error("mkdir: create", "err", err)
		return mapStoreErr(err)
	}

	fs.mu.Lock()
	fs.cache.NoteChildAdded(uint64(op.Parent), store.ChildRecord{Ino: ino, Record: record})
	fs.mu.Unlock()

	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = toInodeAttributes(record.Attr)
	op.Entry.AttributesExpiration = fs.clock.Now().Add(AttrTTL)
	op.Entry.EntryExpiration = fs.clock.Now().Add(AttrTTL)
	return nil
}

func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) error {
	ctx := op.Context()
	if _, found, err := fs.cache.Lookup(ctx, fs.store, uint64(op.Parent), op.Name); err != nil {
		fs.log.Error("create: lookup", "err", err)
		return syscall.EIO
	} else if found {
		return syscall.EEXIST
	}

	ino, err := fs.store.AllocIno(ctx)
	if err != nil {
		fs.log.Error("create: alloc", "err", err)
		return syscall.EIO
	}

	now := fs.clock.Now()
	attr := codec.FileAttr{Perm: uint16(op.Mode.Perm()), Atime: toTimespec(now), Mtime: toTimespec(now), Ctime: toTimespec(now)}
	record, err := fs.store.CreateFile(ctx, ino, uint64(op.Parent), op.Name, attr)
	if err != nil {
		fs.log.Error("create: store", "err", err)
		return mapStoreErr(err)
	}

	fs.mu.Lock()
	fs.cache.NoteChildAdded(uint64(op.Parent), store.ChildRecord{Ino: ino, Record: record})
	fs.mu.Unlock()

	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = toInodeAttributes(record.Attr)
	op.Entry.AttributesExpiration = fs.clock.Now().Add(AttrTTL)
	op.Entry.EntryExpiration = fs.clock.Now().Add(AttrTTL)
	op.Handle = fixedHandle
	return nil
}

func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) error {
	ctx := op.Context()
	child, found, err := fs.cache.Lookup(ctx, fs.store, uint64(op.Parent), op.Name)
	if err != nil {
		fs.log.Error("rmdir: lookup", "err", err)
		return syscall.EIO
	}
	if !found {
		return syscall.ENOENT
	}

	children, err := fs.store.ListChildren(ctx, child.Ino)
	if err != nil {
		fs.log.Error("rmdir: list children", "err", err)
		return mapStoreErr(err)
	}
	if len(children) > 0 {
		return syscall.ENOTEMPTY
	}

	if err := fs.store.Rmdir(ctx, child.Ino, uint64(op.Parent)); err != nil {
		fs.log.Error("rmdir: store", "err", err)
		return mapStoreErr(err)
	}

	fs.mu.Lock()
	fs.cache.NoteChildRemoved(uint64(op.Parent), child.Ino)
	fs.cache.InvalidateIfCached(child.Ino)
	fs.mu.Unlock()
	return nil
}

func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) error {
	ctx := op.Context()
	child, found, err := fs.cache.Lookup(ctx, fs.store, uint64(op.Parent), op.Name)
	if err != nil {
		fs.log.Error("unlink: lookup", "err", err)
		return syscall.EIO
	}
	if !found {
		return syscall.ENOENT
	}

	if err := fs.store.Unlink(ctx, child.Ino, uint64(op.Parent)); err != nil {
		fs.log.Error("unlink: store", "err", err)
		return mapStoreErr(err)
	}

	fs.mu.Lock()
	fs.cache.NoteChildRemoved(uint64(op.Parent), child.Ino)
	fs.mu.Unlock()
	return nil
}

func (fs *FileSystem) Rename(op *fuseops.RenameOp) error {
	ctx := op.Context()
	child, found, err := fs.cache.Lookup(ctx, fs.store, uint64(op.OldParent), op.OldName)
	if err != nil {
		fs.log.Error("rename: lookup", "err", err)
		return syscall.EIO
	}
	if !found {
		return syscall.ENOENT
	}

	fs.mu.Lock()
	fs.cache.InvalidateIfCached(uint64(op.OldParent))
	fs.cache.InvalidateIfCached(uint64(op.NewParent))
	fs.mu.Unlock()

	if err := fs.store.Rename(ctx, child.Ino, op.NewName, uint64(op.OldParent), uint64(op.NewParent)); err != nil {
		fs.log.Error("rename: store", "err", err)
		return mapStoreErr(err)
	}
	return nil
}

func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) error {
	ctx := op.Context()
	if _, err := fs.cache.Fill(ctx, fs.store, uint64(op.Inode)); err != nil {
		fs.log.Error("opendir: fill", "err", err)
		return mapStoreErr(err)
	}
	op.Handle = fixedHandle
	return nil
}

func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) error {
	ctx := op.Context()
	children, err := fs.cache.Fill(ctx, fs.store, uint64(op.Inode))
	if err != nil {
		fs.log.Error("readdir: fill", "err", err)
		return mapStoreErr(err)
	}

	entries := make([]fuseutil.Dirent, 0, len(children)+2)
	entries = append(entries,
		fuseutil.Dirent{Inode: op.Inode, Name: ".", Type: fuseutil.DT_Directory},
		fuseutil.Dirent{Inode: op.Inode, Name: "..", Type: fuseutil.DT_Directory},
	)
	for _, c := range children {
		entries = append(entries, fuseutil.Dirent{
			Inode: fuseops.InodeID(c.Ino),
			Name:  c.Record.Name,
			Type:  direntType(c.Record.Attr.Kind),
		})
	}

	for i := range entries {
		entries[i].Offset = fuseops.DirOffset(i + 1)
	}

	offset := int(op.Offset)
	if offset > len(entries) {
		offset = len(entries)
	}

	var n int
	for _, e := range entries[offset:] {
		written := fuseutil.WriteDirent(op.Dst[n:], e)
		if written == 0 {
			break
		}
		n += written
	}
	op.BytesRead = n
	return nil
}

func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) error {
	op.Handle = fixedHandle
	return nil
}

func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) error {
	ctx := op.Context()
	data, err := fs.store.ReadBlob(ctx, uint64(op.Inode))
	if err != nil {
		if err == store.ErrNoBlob {
			op.BytesRead = 0
			return nil
		}
		fs.log.Error("read", "ino", op.Inode, "err", err)
		return mapStoreErr(err)
	}

	if op.Offset < 0 || int64(len(data)) <= op.Offset {
		op.BytesRead = 0
		return nil
	}

	n := copy(op.Dst, data[op.Offset:])
	op.BytesRead = n
	return nil
}

func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) error {
	ctx := op.Context()
	record, err := fs.store.WriteBlob(ctx, uint64(op.Inode), op.Data)
	if err != nil {
		fs.log.Error("write", "ino", op.Inode, "err", err)
		return mapStoreErr(err)
	}

	fs.mu.Lock()
	fs.cache.NoteRecordUpdated(uint64(op.Inode), store.ChildRecord{Ino: uint64(op.Inode), Record: record})
	fs.mu.Unlock()
	return nil
}

func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) error {
	return syscall.ENOSYS
}

func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) error {
	return syscall.ENOSYS
}

func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (fs *FileSystem) StatFS(op *fuseops.StatFSOp) error {
	op.BlockSize = 512
	op.IoSize = 512
	op.Blocks = 0
	op.BlocksFree = 0
	op.BlocksAvailable = 0
	op.Inodes = 0
	op.InodesFree = 0
	return nil
}

func (fs *FileSystem) SetXattr(op *fuseops.SetXattrOp) error {
	ctx := op.Context()
	if err := fs.store.SetXattr(ctx, uint64(op.Inode), op.Name, op.Value); err != nil {
		fs.log.Error("setxattr", "ino", op.Inode, "err", err)
		return mapStoreErr(err)
	}
	if record, found, err := fs.store.GetRecord(ctx, uint64(op.Inode)); err == nil && found {
		fs.mu.Lock()
		fs.cache.NoteRecordUpdated(uint64(op.Inode), store.ChildRecord{Ino: uint64(op.Inode), Record: record})
		fs.mu.Unlock()
	}
	return nil
}

func (fs *FileSystem) GetXattr(op *fuseops.GetXattrOp) error {
	ctx := op.Context()
	record, found, err := fs.store.GetRecord(ctx, uint64(op.Inode))
	if err != nil {
		fs.log.Error("getxattr", "ino", op.Inode, "err", err)
		return syscall.EIO
	}
	if !found {
		return syscall.ENOENT
	}

	value, ok := record.Xattr[op.Name]
	if !ok {
		return syscall.ENODATA
	}

	if len(op.Dst) == 0 {
		op.BytesRead = len(value)
		return nil
	}
	if len(op.Dst) < len(value) {
		return syscall.ERANGE
	}
	op.BytesRead = copy(op.Dst, value)
	return nil
}

func (fs *FileSystem) ListXattr(op *fuseops.ListXattrOp) error {
	ctx := op.Context()
	record, found, err := fs.store.GetRecord(ctx, uint64(op.Inode))
	if err != nil {
		fs.log.Error("listxattr", "ino", op.Inode, "err", err)
		return syscall.EIO
	}
	if !found {
		return syscall.ENOENT
	}

	var joined []byte
	for name := range record.Xattr {
		joined = append(joined, []byte(name)...)
		joined = append(joined, 0)
	}

	if len(op.Dst) == 0 {
		op.BytesRead = len(joined)
		return nil
	}
	if len(op.Dst) < len(joined) {
		return syscall.ERANGE
	}
	op.BytesRead = copy(op.Dst, joined)
	return nil
}

func (fs *FileSystem) RemoveXattr(op *fuseops.RemoveXattrOp) error {
	ctx := op.Context()
	if err := fs.store.RemoveXattr(ctx, uint64(op.Inode), op.Name); err != nil {
		fs.log.Error("removexattr", "ino", op.Inode, "err", err)
		return mapStoreErr(err)
	}
	if record, found, err := fs.store.GetRecord(ctx, uint64(op.Inode)); err == nil && found {
		fs.mu.Lock()
		fs.cache.NoteRecordUpdated(uint64(op.Inode), store.ChildRecord{Ino: uint64(op.Inode), Record: record})
		fs.mu.Unlock()
	}
	return nil
}

func mapStoreErr(err error) error {
	switch err {
	case store.ErrNotFound:
		return syscall.ENOENT
	case store.ErrNotEmpty:
		return syscall.ENOTEMPTY
	case store.ErrNotADirectory:
		return syscall.ENOTDIR
	case store.ErrNotAFile:
		return syscall.EINVAL
	case store.ErrNoBlob:
		return syscall.ENOENT
	default:
		return syscall.EIO
	}
}

func direntType(kind codec.Kind) fuseutil.DirentType {
	if kind == codec.KindDirectory {
		return fuseutil.DT_Directory
	}
	return fuseutil.DT_File
}

func toTimespec(t time.Time) codec.Timespec {
	return codec.Timespec{Sec: t.Unix(), Nsec: int32(t.Nanosecond())}
}

func fromTimespec(ts codec.Timespec) time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

func toInodeAttributes(attr codec.FileAttr) fuseops.InodeAttributes {
	mode := os.FileMode(attr.Perm)
	if attr.Kind == codec.KindDirectory {
		mode |= os.ModeDir
	}

	nlink := attr.Nlink
	if nlink == 0 {
		nlink = 1
	}

	return fuseops.InodeAttributes{
		Size:   attr.Size,
		Nlink:  uint64(nlink),
		Mode:   mode,
		Atime:  fromTimespec(attr.Atime),
		Mtime:  fromTimespec(attr.Mtime),
		Ctime:  fromTimespec(attr.Ctime),
		Crtime: fromTimespec(attr.Crtime),
		Uid:    attr.Uid,
		Gid:    attr.Gid,
	}
}
