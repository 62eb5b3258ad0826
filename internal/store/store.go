// Package store implements the remote-message inode graph: a root
// directory, child directories, regular files with attached blobs, extended
// attributes, and a monotonically allocated inode counter, all encoded into
// messages in one conversation.
//
// Store issues backend RPCs through MetaOps and keeps no durable state of
// its own beyond what is persisted in the conversation; the in-memory Index
// is a cache of the single [META] message, refreshed on Init and kept in
// lockstep with every mutation.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/chatfs/chatfs/internal/backend"
	"github.com/chatfs/chatfs/internal/codec"
	"github.com/chatfs/chatfs/internal/metaops"
)

// RootIno is the reserved inode number of the root directory.
const RootIno uint64 = 1

var (
	// ErrNotFound is returned when an inode is not present in the Index.
	ErrNotFound = errors.New("store: inode not found")
	// ErrNotEmpty reports a directory that still has children. Store never
	// returns it: Rmdir performs no emptiness check, and FS-Adapter checks
	// for children itself before calling Rmdir.
	ErrNotEmpty = errors.New("store: directory not empty")
	// ErrNotADirectory is returned when a directory-only operation targets
	// a regular file.
	ErrNotADirectory = errors.New("store: not a directory")
	// ErrNotAFile is returned when a file-only operation targets a
	// directory.
	ErrNotAFile = errors.New("store: not a regular file")
	// ErrNoBlob is returned by ReadBlob when the target file has never
	// been written.
	ErrNoBlob = errors.New("store: file has no blob")
	// ErrBackendUnavailable wraps any RPC failure not otherwise classified.
	ErrBackendUnavailable = errors.New("store: backend unavailable")
)

// ChildRecord pairs a FileRecord with the inode number it was looked up
// under, since FileRecord itself (per the wire format) only knows its own
// attr.Ino.
type ChildRecord struct {
	Ino    uint64
	Record codec.FileRecord
}

// Store is the inode graph over one conversation. The zero value is not
// usable; construct with New.
type Store struct {
	ops  *metaops.Ops
	peer backend.Peer

	mu         sync.Mutex
	indexMsgID int32
	index      codec.Index
	// recordMsgID is the same map as index.Files (an alias, not a copy):
	// mutation code writes through it, and persistIndexLocked encodes
	// those writes as part of index.
	recordMsgID map[uint64]int32
}

// New returns a Store bound to ops and peer. Init must be called before any
// other method.
func New(ops *metaops.Ops, peer backend.Peer) *Store {
	return &Store{ops: ops, peer: peer}
}

// Init ensures the Index and root FileRecord exist, creating them if this
// is a fresh conversation. A second call with the same rootAttr is a no-op:
// Init always re-locates the Index by search rather than trusting any
// previously cached message id.
func (s *Store) Init(ctx context.Context, rootAttr codec.FileAttr) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgID, text, found, err := s.ops.FindMessage(ctx, codec.IsIndexText)
	if err != nil {
		return fmt.Errorf("%w: locate index: %v", ErrBackendUnavailable, err)
	}

	if found {
		idx, err := codec.DecodeIndex(text)
		if err != nil {
			return fmt.Errorf("%w: decode index: %v", ErrBackendUnavailable, err)
		}
		s.indexMsgID = msgID
		s.index = idx
		s.recordMsgID = idx.Files
		if _, ok := s.recordMsgID[RootIno]; ok {
			return nil
		}
	} else {
		s.index = codec.Index{Version: codec.CurrentVersion, Files: map[uint64]int32{}, NextIno: RootIno + 1}
		s.recordMsgID = s.index.Files
	}

	rootAttr.Ino = RootIno
	rootAttr.Kind = codec.KindDirectory
	root := codec.FileRecord{Name: "", Attr: rootAttr, Children: []uint64{}}
	rootText, err := codec.EncodeRecord(root)
	if err != nil {
		return fmt.Errorf("store: encode root record: %w", err)
	}
	if err := s.ops.Client.SendMessage(ctx, s.peer, rootText, nil); err != nil {
		return fmt.Errorf("%w: send root record: %v", ErrBackendUnavailable, err)
	}
	rootMsgID, err := s.ops.LastMessage(ctx)
	if err != nil {
		return fmt.Errorf("%w: locate root record: %v", ErrBackendUnavailable, err)
	}
	s.recordMsgID[RootIno] = rootMsgID

	if !found {
		if err := s.sendIndexLocked(ctx); err != nil {
			return err
		}
	} else {
		if err := s.persistIndexLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// AllocIno returns the pre-call next_ino and persists its successor before
// returning, so that it is totally ordered with respect to every subsequent
// CreateFile/CreateDir.
func (s *Store) AllocIno(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ino := s.index.NextIno
	s.index.NextIno++
	if err := s.persistIndexLocked(ctx); err != nil {
		s.index.NextIno--
		return 0, err
	}
	return ino, nil
}

// CreateFile writes a new, empty regular-file FileRecord for ino as a child
// of parent, named name, and appends ino to parent's children.
func (s *Store) CreateFile(ctx context.Context, ino, parent uint64, name string, attr codec.FileAttr) (codec.FileRecord, error) {
	return s.createChild(ctx, ino, &parent, name, attr, codec.KindRegularFile)
}

// CreateDir writes a new directory FileRecord for ino. A nil parent creates
// the record without linking it under any directory; Init builds the root
// record itself and does not go through CreateDir.
func (s *Store) CreateDir(ctx context.Context, ino uint64, parent *uint64, name string, attr codec.FileAttr) (codec.FileRecord, error) {
	return s.createChild(ctx, ino, parent, name, attr, codec.KindDirectory)
}

func (s *Store) createChild(ctx context.Context, ino uint64, parent *uint64, name string, attr codec.FileAttr, kind codec.Kind) (codec.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attr.Ino = ino
	attr.Kind = kind
	record := codec.FileRecord{Name: name, Attr: attr}
	if kind == codec.KindDirectory {
		record.Children = []uint64{}
	}

	text, err := codec.EncodeRecord(record)
	if err != nil {
		return codec.FileRecord{}, fmt.Errorf("store: encode record: %w", err)
	}
	if err := s.ops.Client.SendMessage(ctx, s.peer, text, nil); err != nil {
		return codec.FileRecord{}, fmt.Errorf("%w: send record: %v", ErrBackendUnavailable, err)
	}
	msgID, err := s.ops.LastMessage(ctx)
	if err != nil {
		return codec.FileRecord{}, fmt.Errorf("%w: locate record: %v", ErrBackendUnavailable, err)
	}

	s.recordMsgID[ino] = msgID
	if err := s.persistIndexLocked(ctx); err != nil {
		delete(s.recordMsgID, ino)
		return codec.FileRecord{}, err
	}

	if parent != nil {
		if err := s.appendChildLocked(ctx, *parent, ino); err != nil {
			return codec.FileRecord{}, err
		}
	}

	return record, nil
}

// GetRecord returns the FileRecord for ino, or found=false if ino is not
// present in the Index.
func (s *Store) GetRecord(ctx context.Context, ino uint64) (codec.FileRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getRecordLocked(ctx, ino)
}

func (s *Store) getRecordLocked(ctx context.Context, ino uint64) (codec.FileRecord, bool, error) {
	msgID, ok := s.recordMsgID[ino]
	if !ok {
		return codec.FileRecord{}, false, nil
	}

	msgs, err := s.ops.Client.GetMessagesByID(ctx, s.peer, []int32{msgID})
	if err != nil {
		return codec.FileRecord{}, false, fmt.Errorf("%w: fetch record %d: %v", ErrBackendUnavailable, ino, err)
	}
	if msgs[0] == nil {
		return codec.FileRecord{}, false, nil
	}

	record, err := codec.DecodeRecord(msgs[0].Text)
	if err != nil {
		return codec.FileRecord{}, false, fmt.Errorf("%w: decode record %d: %v", ErrBackendUnavailable, ino, err)
	}
	return record, true, nil
}

// ListChildren returns the FileRecord for each inode in ino's children, in
// order, skipping any child whose message can no longer be fetched.
func (s *Store) ListChildren(ctx context.Context, ino uint64) ([]ChildRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found, err := s.getRecordLocked(ctx, ino)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	if record.Attr.Kind != codec.KindDirectory {
		return nil, ErrNotADirectory
	}

	out := make([]ChildRecord, 0, len(record.Children))
	for _, childIno := range record.Children {
		childRecord, found, err := s.getRecordLocked(ctx, childIno)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		out = append(out, ChildRecord{Ino: childIno, Record: childRecord})
	}
	return out, nil
}

// SetAttr merges the given attr into ino's stored attributes. Only
// uid/gid/size/atime/mtime/crtime/flags are honored; callers are expected
// to have already merged in-place fields they don't intend to change.
func (s *Store) SetAttr(ctx context.Context, ino uint64, attr codec.FileAttr) (codec.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found, err := s.getRecordLocked(ctx, ino)
	if err != nil {
		return codec.FileRecord{}, err
	}
	if !found {
		return codec.FileRecord{}, ErrNotFound
	}

	record.Attr.Uid = attr.Uid
	record.Attr.Gid = attr.Gid
	record.Attr.Size = attr.Size
	record.Attr.Atime = attr.Atime
	record.Attr.Mtime = attr.Mtime
	record.Attr.Crtime = attr.Crtime
	record.Attr.Flags = attr.Flags

	if err := s.rewriteRecordLocked(ctx, ino, record); err != nil {
		return codec.FileRecord{}, err
	}
	return record, nil
}

// WriteBlob uploads data as a new blob, replacing any blob previously
// attached to ino, and updates attr.size to len(data). A zero-length
// payload is a legitimate truncate-to-empty, not an error.
func (s *Store) WriteBlob(ctx context.Context, ino uint64, data []byte) (codec.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found, err := s.getRecordLocked(ctx, ino)
	if err != nil {
		return codec.FileRecord{}, err
	}
	if !found {
		return codec.FileRecord{}, ErrNotFound
	}
	if record.Attr.Kind != codec.KindRegularFile {
		return codec.FileRecord{}, ErrNotAFile
	}

	// Namespace the upload with a fresh uuid so that two files sharing a
	// basename in different directories, or a retried upload after an edit
	// expires, never collide on the backend's flat attachment namespace.
	blobName := fmt.Sprintf("%s-%s", uuid.NewString(), record.Name)
	handle, err := s.ops.Client.Upload(ctx, s.peer, blobName, bytes.NewReader(data))
	if err != nil {
		return codec.FileRecord{}, fmt.Errorf("%w: upload blob for %d: %v", ErrBackendUnavailable, ino, err)
	}

	record.Blob = &codec.BlobHandle{ID: handle.ID, Parts: handle.Parts, Name: handle.Name, MD5: handle.MD5}
	record.Attr.Size = uint64(len(data))

	if err := s.rewriteRecordLocked(ctx, ino, record); err != nil {
		return codec.FileRecord{}, err
	}
	return record, nil
}

// ReadBlob downloads the blob currently attached to ino.
func (s *Store) ReadBlob(ctx context.Context, ino uint64) ([]byte, error) {
	s.mu.Lock()
	record, found, err := s.getRecordLocked(ctx, ino)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	if record.Attr.Kind != codec.KindRegularFile {
		return nil, ErrNotAFile
	}
	if record.Blob == nil {
		return nil, ErrNoBlob
	}

	rc, err := s.ops.Client.Download(ctx, s.peer, backend.BlobHandle{
		ID: record.Blob.ID, Parts: record.Blob.Parts, Name: record.Blob.Name, MD5: record.Blob.MD5,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: download blob for %d: %v", ErrBackendUnavailable, ino, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read blob for %d: %v", ErrBackendUnavailable, ino, err)
	}
	return data, nil
}

// Rename rewrites ino's FileRecord with newName, removes ino from
// oldParent's children, and appends it to newParent's children, in that
// order. Atomicity across the three edits is best-effort: a crash mid-rename
// can leave ino renamed but still under oldParent, or attached to neither
// parent.
func (s *Store) Rename(ctx context.Context, ino uint64, newName string, oldParent, newParent uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found, err := s.getRecordLocked(ctx, ino)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	record.Name = newName
	if err := s.rewriteRecordLocked(ctx, ino, record); err != nil {
		return err
	}

	if err := s.removeChildLocked(ctx, oldParent, ino); err != nil {
		return err
	}
	return s.appendChildLocked(ctx, newParent, ino)
}

// Unlink deletes a regular file's FileRecord and removes it from parent and
// the Index.
func (s *Store) Unlink(ctx context.Context, ino, parent uint64) error {
	return s.destroy(ctx, ino, parent)
}

// Rmdir deletes a directory's FileRecord and removes it from parent and the
// Index. Rmdir performs no emptiness check of its own; that is
// FS-Adapter's responsibility per the contract.
func (s *Store) Rmdir(ctx context.Context, ino, parent uint64) error {
	return s.destroy(ctx, ino, parent)
}

func (s *Store) destroy(ctx context.Context, ino, parent uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgID, ok := s.recordMsgID[ino]
	if !ok {
		return ErrNotFound
	}

	if err := s.ops.Client.DeleteMessages(ctx, s.peer, []int32{msgID}); err != nil {
		return fmt.Errorf("%w: delete record %d: %v", ErrBackendUnavailable, ino, err)
	}
	delete(s.recordMsgID, ino)
	if err := s.persistIndexLocked(ctx); err != nil {
		return err
	}

	return s.removeChildLocked(ctx, parent, ino)
}

// SetXattr rewrites ino's FileRecord with xattr[name] = value.
func (s *Store) SetXattr(ctx context.Context, ino uint64, name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found, err := s.getRecordLocked(ctx, ino)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if record.Xattr == nil {
		record.Xattr = make(map[string][]byte)
	}
	record.Xattr[name] = value
	return s.rewriteRecordLocked(ctx, ino, record)
}

// RemoveXattr rewrites ino's FileRecord with name removed. A no-op if the
// attribute was absent.
func (s *Store) RemoveXattr(ctx context.Context, ino uint64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found, err := s.getRecordLocked(ctx, ino)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if _, ok := record.Xattr[name]; !ok {
		return nil
	}
	delete(record.Xattr, name)
	return s.rewriteRecordLocked(ctx, ino, record)
}

// Cleanup deletes every message referenced by the Index plus the Index
// itself. Terminal: the Store must be re-initialized before further use.
func (s *Store) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int32, 0, len(s.recordMsgID)+1)
	for _, id := range s.recordMsgID {
		ids = append(ids, id)
	}
	ids = append(ids, s.indexMsgID)

	if err := s.ops.Client.DeleteMessages(ctx, s.peer, ids); err != nil {
		return fmt.Errorf("%w: cleanup: %v", ErrBackendUnavailable, err)
	}

	s.recordMsgID = nil
	s.index = codec.Index{}
	s.indexMsgID = 0
	return nil
}

// rewriteRecordLocked re-serializes record and pushes it through
// edit-or-resend, re-attaching any existing blob (it is never re-uploaded
// by a plain metadata rewrite) and updating recordMsgID/Index if the
// message id changed.
func (s *Store) rewriteRecordLocked(ctx context.Context, ino uint64, record codec.FileRecord) error {
	text, err := codec.EncodeRecord(record)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}

	var attachment *backend.BlobHandle
	if record.Blob != nil {
		attachment = &backend.BlobHandle{ID: record.Blob.ID, Parts: record.Blob.Parts, Name: record.Blob.Name, MD5: record.Blob.MD5}
	}

	oldMsgID := s.recordMsgID[ino]
	newMsgID, err := s.ops.EditOrResend(ctx, oldMsgID, text, attachment)
	if err != nil {
		return fmt.Errorf("%w: rewrite record %d: %v", ErrBackendUnavailable, ino, err)
	}

	if newMsgID != oldMsgID {
		s.recordMsgID[ino] = newMsgID
		if err := s.persistIndexLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// appendChildLocked appends childIno to parent's children, if not already
// present, and persists the updated parent record.
func (s *Store) appendChildLocked(ctx context.Context, parent, childIno uint64) error {
	record, found, err := s.getRecordLocked(ctx, parent)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if record.Attr.Kind != codec.KindDirectory {
		return ErrNotADirectory
	}
	for _, c := range record.Children {
		if c == childIno {
			return nil
		}
	}
	record.Children = append(record.Children, childIno)
	return s.rewriteRecordLocked(ctx, parent, record)
}

// removeChildLocked removes childIno from parent's children, if present,
// and persists the updated parent record.
func (s *Store) removeChildLocked(ctx context.Context, parent, childIno uint64) error {
	record, found, err := s.getRecordLocked(ctx, parent)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	out := record.Children[:0:0]
	for _, c := range record.Children {
		if c != childIno {
			out = append(out, c)
		}
	}
	record.Children = out
	return s.rewriteRecordLocked(ctx, parent, record)
}

// persistIndexLocked writes the in-memory Index back to the conversation
// via edit-or-resend, updating indexMsgID if the message had to be resent.
func (s *Store) persistIndexLocked(ctx context.Context) error {
	text, err := codec.EncodeIndex(s.index)
	if err != nil {
		return fmt.Errorf("store: encode index: %w", err)
	}

	newMsgID, err := s.ops.EditOrResend(ctx, s.indexMsgID, text, nil)
	if err != nil {
		return fmt.Errorf("%w: persist index: %v", ErrBackendUnavailable, err)
	}
	s.indexMsgID = newMsgID
	return nil
}

// sendIndexLocked sends the Index as a brand new message, for the case
// where no Index message existed yet.
func (s *Store) sendIndexLocked(ctx context.Context) error {
	text, err := codec.EncodeIndex(s.index)
	if err != nil {
		return fmt.Errorf("store: encode index: %w", err)
	}
	if err := s.ops.Client.SendMessage(ctx, s.peer, text, nil); err != nil {
		return fmt.Errorf("%w: send index: %v", ErrBackendUnavailable, err)
	}
	msgID, err := s.ops.LastMessage(ctx)
	if err != nil {
		return fmt.Errorf("%w: locate index: %v", ErrBackendUnavailable, err)
	}
	s.indexMsgID = msgID
	return nil
}
