// Package backend declares the contract the messaging backend must satisfy.
// It is consumed, never implemented, by this module: authentication,
// session persistence, and RPC transport belong to the concrete client
// injected at the composition root.
package backend

import (
	"context"
	"errors"
	"io"
)

// ErrEditTimeExpired is returned by EditMessage when the backend refuses an
// in-place edit because the message has aged out of its editable window.
// MetaOps is the only caller allowed to observe this; everywhere else it is
// folded into ErrUnavailable or a resend.
var ErrEditTimeExpired = errors.New("backend: message edit time expired")

// ErrUnavailable wraps any other backend failure: network errors,
// deserialization failures, or a nil response where one was required.
var ErrUnavailable = errors.New("backend: unavailable")

// Peer addresses the conversation this filesystem is backed by.
type Peer struct {
	UserID     int64
	AccessHash int64
}

// Message is the subset of a backend message this module needs.
type Message struct {
	ID   int32
	Text string
}

// BlobHandle is the backend's opaque reference to an uploaded attachment.
type BlobHandle struct {
	ID    int64
	Parts int32
	Name  string
	MD5   string
}

// Client is the MsgBackend contract: send/edit/delete/search messages,
// upload/download blobs. Every method blocks until the RPC completes or
// ctx is done.
type Client interface {
	// SendMessage posts a new message with the given text and optional
	// attachment, returning nothing: the caller must use LastMessage to
	// learn the new message's id.
	SendMessage(ctx context.Context, peer Peer, text string, attachment *BlobHandle) error

	// EditMessage rewrites an existing message in place. Returns
	// ErrEditTimeExpired if the backend refuses because the message is no
	// longer editable.
	EditMessage(ctx context.Context, peer Peer, msgID int32, text string, attachment *BlobHandle) error

	// DeleteMessages removes the given messages. Deleting a message that
	// does not exist is not an error.
	DeleteMessages(ctx context.Context, peer Peer, msgIDs []int32) error

	// Upload stores bytes read from r as a new blob and returns a handle
	// suitable for attaching to a message.
	Upload(ctx context.Context, peer Peer, name string, r io.Reader) (BlobHandle, error)

	// Download streams the bytes referenced by handle.
	Download(ctx context.Context, peer Peer, handle BlobHandle) (io.ReadCloser, error)

	// GetMessagesByID fetches messages by id. A nil entry in the result
	// means that id no longer resolves to a message.
	GetMessagesByID(ctx context.Context, peer Peer, msgIDs []int32) ([]*Message, error)

	// SearchMessages returns an iterator over the conversation's messages,
	// newest first.
	SearchMessages(ctx context.Context, peer Peer) (MessageIterator, error)

	// LastMessage returns the id of the most recently posted message by
	// the authenticated user in the conversation.
	LastMessage(ctx context.Context, peer Peer) (int32, error)
}

// MessageIterator yields messages newest-first until exhausted.
type MessageIterator interface {
	// Next returns the next message, or (nil, nil) when exhausted.
	Next(ctx context.Context) (*Message, error)
}
