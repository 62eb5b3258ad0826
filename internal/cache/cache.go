// Package cache holds a short-lived in-memory mirror of one directory's
// children, so that FS-Adapter need not round-trip to Store for every
// lookup within a directory the kernel is already iterating.
//
// The cache is a pure optimization: a cold cache never changes observable
// behavior, only latency. At most one directory is cached at a time.
package cache

import (
	"context"
	"sync"

	"github.com/chatfs/chatfs/internal/store"
)

// Lister is the subset of Store that Cache needs to refill itself. Defined
// as an interface so tests can supply a stub without a full Store.
type Lister interface {
	ListChildren(ctx context.Context, ino uint64) ([]store.ChildRecord, error)
}

// Cache mirrors the children of one directory. The zero value is an
// uninitialized cache, matching the "cold" state.
type Cache struct {
	mu       sync.Mutex
	valid    bool
	parent   uint64
	children []store.ChildRecord
}

// New returns an empty, cold Cache.
func New() *Cache {
	return &Cache{}
}

// Fill loads ino's children from store if ino is not the currently cached
// directory, and returns the (possibly refilled) child list.
func (c *Cache) Fill(ctx context.Context, lister Lister, ino uint64) ([]store.ChildRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fillLocked(ctx, lister, ino)
}

func (c *Cache) fillLocked(ctx context.Context, lister Lister, ino uint64) ([]store.ChildRecord, error) {
	if c.valid && c.parent == ino {
		return c.children, nil
	}

	children, err := lister.ListChildren(ctx, ino)
	if err != nil {
		return nil, err
	}
	c.valid = true
	c.parent = ino
	c.children = children
	return c.children, nil
}

// Lookup returns the cached child record named name under parent, filling
// the cache first if necessary.
func (c *Cache) Lookup(ctx context.Context, lister Lister, parent uint64, name string) (store.ChildRecord, bool, error) {
	children, err := c.Fill(ctx, lister, parent)
	if err != nil {
		return store.ChildRecord{}, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range children {
		if ch.Record.Name == name {
			return ch, true, nil
		}
	}
	return store.ChildRecord{}, false, nil
}

// NoteChildAdded appends child to parent's cached children if parent is
// currently cached; otherwise it is a no-op (the next Fill will pick it up
// from Store).
func (c *Cache) NoteChildAdded(parent uint64, child store.ChildRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || c.parent != parent {
		return
	}
	c.children = append(c.children, child)
}

// NoteChildRemoved removes ino from parent's cached children if parent is
// currently cached.
func (c *Cache) NoteChildRemoved(parent uint64, ino uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || c.parent != parent {
		return
	}
	out := c.children[:0:0]
	for _, ch := range c.children {
		if ch.Ino != ino {
			out = append(out, ch)
		}
	}
	c.children = out
}

// NoteRecordUpdated replaces ino's cached record, if ino is a child of the
// currently cached directory. setattr, write, and the xattr family call
// this to keep the mirror in lockstep; the caller need not know which
// directory ino lives in.
func (c *Cache) NoteRecordUpdated(ino uint64, record store.ChildRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return
	}
	for i, ch := range c.children {
		if ch.Ino == ino {
			c.children[i] = record
			return
		}
	}
}

// InvalidateIfCached discards the cached directory if it is ino. Rename
// across directories calls this for both the old and new parent if either
// was cached, to avoid papering over a move with stale membership.
func (c *Cache) InvalidateIfCached(ino uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && c.parent == ino {
		c.valid = false
		c.children = nil
	}
}
