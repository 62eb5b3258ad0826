// Package codec converts between the in-memory FileRecord/Index types and
// the UTF-8 message text used to persist them in the conversation.
//
// Codec is pure: no I/O, no state. Every decode either succeeds or returns
// ErrMalformed; it never panics on bad input.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// IndexPrefix tags the single message in the conversation that carries the
// Index. Any message text without this prefix is not the Index.
const IndexPrefix = "[META]\n"

// ErrMalformed is returned for any text that cannot be decoded as a
// FileRecord or Index, including an Index message missing IndexPrefix.
var ErrMalformed = errors.New("codec: malformed message text")

// FileAttr mirrors the per-inode attribute set the kernel bridge needs.
type FileAttr struct {
	Ino    uint64 `json:"ino"`
	Size   uint64 `json:"size"`
	Blocks uint64 `json:"blocks"`

	Atime  Timespec `json:"atime"`
	Mtime  Timespec `json:"mtime"`
	Ctime  Timespec `json:"ctime"`
	Crtime Timespec `json:"crtime"`

	Kind Kind `json:"kind"`
	Perm uint16 `json:"perm"`

	Nlink uint32 `json:"nlink"`
	Uid   uint32 `json:"uid"`
	Gid   uint32 `json:"gid"`
	Rdev  uint32 `json:"rdev"`
	Flags uint32 `json:"flags"`
}

// Timespec is a (seconds, nanoseconds) pair, matching the wire and kernel
// representation of a timestamp.
type Timespec struct {
	Sec  int64 `json:"sec"`
	Nsec int32 `json:"nsec"`
}

// Kind distinguishes directories from regular files. There are no other
// inode kinds in this system.
type Kind string

const (
	KindDirectory   Kind = "dir"
	KindRegularFile Kind = "file"
)

// BlobHandle is the backend's opaque reference to an uploaded attachment.
// It round-trips through JSON without the Store needing to interpret it.
type BlobHandle struct {
	ID    int64  `json:"id"`
	Parts int32  `json:"parts"`
	Name  string `json:"name"`
	MD5   string `json:"md5"`
}

// FileRecord is the persisted metadata for one inode.
type FileRecord struct {
	Name     string            `json:"name"`
	Attr     FileAttr          `json:"attr"`
	Children []uint64          `json:"children,omitempty"`
	Blob     *BlobHandle       `json:"blob,omitempty"`
	Xattr    map[string][]byte `json:"xattr,omitempty"`
}

// Index is the single [META]-prefixed message: the inode allocator and the
// ino -> message-id table.
type Index struct {
	Version string           `json:"version"`
	Files   map[uint64]int32 `json:"files"`
	NextIno uint64           `json:"next_ino"`
}

// CurrentVersion is the Index schema version this codec writes.
const CurrentVersion = "v1"

// EncodeRecord serializes a FileRecord as JSON text, suitable as a message
// body.
func EncodeRecord(r FileRecord) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("codec: encode record: %w", err)
	}
	return string(b), nil
}

// DecodeRecord parses message text as a FileRecord. Any JSON error is
// reported as ErrMalformed.
func DecodeRecord(text string) (FileRecord, error) {
	var r FileRecord
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return FileRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}

// EncodeIndex serializes an Index as "[META]\n" followed by its JSON body.
func EncodeIndex(idx Index) (string, error) {
	b, err := json.Marshal(idx)
	if err != nil {
		return "", fmt.Errorf("codec: encode index: %w", err)
	}
	return IndexPrefix + string(b), nil
}

// DecodeIndex strips the [META]\n prefix and parses the remainder as an
// Index. Text without the prefix, or with an unparseable body, is
// ErrMalformed.
func DecodeIndex(text string) (Index, error) {
	if !strings.HasPrefix(text, IndexPrefix) {
		return Index{}, fmt.Errorf("%w: missing %q prefix", ErrMalformed, strings.TrimSuffix(IndexPrefix, "\n"))
	}

	body := text[len(IndexPrefix):]
	var idx Index
	if err := json.Unmarshal([]byte(body), &idx); err != nil {
		return Index{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if idx.Files == nil {
		idx.Files = make(map[uint64]int32)
	}
	return idx, nil
}

// IsIndexText reports whether text carries the Index prefix, without
// attempting to parse the body. MetaOps uses this as its find_message
// predicate.
func IsIndexText(text string) bool {
	return strings.HasPrefix(text, IndexPrefix)
}
