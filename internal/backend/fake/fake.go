// Package fake is an in-memory backend.Client fixture for tests, in the
// spirit of gcsfuse's own practice of testing against a local fake GCS
// server rather than live cloud storage.
package fake

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/chatfs/chatfs/internal/backend"
)

// Client is a single-conversation, single-peer in-memory implementation of
// backend.Client. It is safe for concurrent use.
type Client struct {
	mu       sync.Mutex
	nextID   int32
	messages map[int32]string
	order    []int32 // insertion order, oldest first
	blobs    map[int64][]byte
	nextBlob int64

	// EditTimeExpiredFor, when non-nil, reports whether an edit of the
	// given message id should fail with ErrEditTimeExpired. Tests use this
	// to exercise the resend path.
	EditTimeExpiredFor func(msgID int32) bool
}

// New returns an empty fake backend.
func New() *Client {
	return &Client{
		messages: make(map[int32]string),
		blobs:    make(map[int64][]byte),
	}
}

func (c *Client) SendMessage(ctx context.Context, peer backend.Peer, text string, attachment *backend.BlobHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.messages[id] = text
	c.order = append(c.order, id)
	return nil
}

func (c *Client) EditMessage(ctx context.Context, peer backend.Peer, msgID int32, text string, attachment *backend.BlobHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.messages[msgID]; !ok {
		return backend.ErrUnavailable
	}
	if c.EditTimeExpiredFor != nil && c.EditTimeExpiredFor(msgID) {
		return backend.ErrEditTimeExpired
	}
	c.messages[msgID] = text
	return nil
}

func (c *Client) DeleteMessages(ctx context.Context, peer backend.Peer, msgIDs []int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dead := make(map[int32]bool, len(msgIDs))
	for _, id := range msgIDs {
		dead[id] = true
		delete(c.messages, id)
	}

	kept := c.order[:0:0]
	for _, id := range c.order {
		if !dead[id] {
			kept = append(kept, id)
		}
	}
	c.order = kept
	return nil
}

func (c *Client) Upload(ctx context.Context, peer backend.Peer, name string, r io.Reader) (backend.BlobHandle, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return backend.BlobHandle{}, backend.ErrUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextBlob++
	id := c.nextBlob
	c.blobs[id] = b

	return backend.BlobHandle{ID: id, Parts: 1, Name: name, MD5: ""}, nil
}

func (c *Client) Download(ctx context.Context, peer backend.Peer, handle backend.BlobHandle) (io.ReadCloser, error) {
	c.mu.Lock()
	b, ok := c.blobs[handle.ID]
	c.mu.Unlock()
	if !ok {
		return nil, backend.ErrUnavailable
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (c *Client) GetMessagesByID(ctx context.Context, peer backend.Peer, msgIDs []int32) ([]*backend.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*backend.Message, len(msgIDs))
	for i, id := range msgIDs {
		if text, ok := c.messages[id]; ok {
			out[i] = &backend.Message{ID: id, Text: text}
		}
	}
	return out, nil
}

func (c *Client) SearchMessages(ctx context.Context, peer backend.Peer) (backend.MessageIterator, error) {
	c.mu.Lock()
	ids := make([]int32, len(c.order))
	copy(ids, c.order)
	c.mu.Unlock()

	// newest first
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	return &messageIterator{client: c, ids: ids}, nil
}

func (c *Client) LastMessage(ctx context.Context, peer backend.Peer) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.order) == 0 {
		return 0, backend.ErrUnavailable
	}
	return c.order[len(c.order)-1], nil
}

type messageIterator struct {
	client *Client
	ids    []int32
	pos    int
}

func (it *messageIterator) Next(ctx context.Context) (*backend.Message, error) {
	for it.pos < len(it.ids) {
		id := it.ids[it.pos]
		it.pos++

		it.client.mu.Lock()
		text, ok := it.client.messages[id]
		it.client.mu.Unlock()
		if ok {
			return &backend.Message{ID: id, Text: text}, nil
		}
	}
	return nil, nil
}
