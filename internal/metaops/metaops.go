// Package metaops implements the two primitives that abstract the
// messaging backend's edit-expiry quirk away from Store: edit-or-resend and
// message lookup by predicate.
//
// The backend's distinction between editable and non-editable messages is a
// pure performance concern; the resend fallback is the only
// correctness-relevant response, and it is never leaked back to the caller.
package metaops

import (
	"context"
	"errors"
	"fmt"

	"github.com/chatfs/chatfs/internal/backend"
)

// Ops bundles a backend client and the peer it talks to.
type Ops struct {
	Client backend.Client
	Peer   backend.Peer
}

// New returns an Ops bound to the given client and peer.
func New(client backend.Client, peer backend.Peer) *Ops {
	return &Ops{Client: client, Peer: peer}
}

// EditOrResend attempts an in-place edit of msgID. If the backend reports
// the message's edit window has expired, it deletes msgID and sends a fresh
// message with identical text/attachment instead, returning the new id. Any
// other backend error is surfaced unchanged.
func (o *Ops) EditOrResend(ctx context.Context, msgID int32, newText string, attachment *backend.BlobHandle) (int32, error) {
	err := o.Client.EditMessage(ctx, o.Peer, msgID, newText, attachment)
	if err == nil {
		return msgID, nil
	}
	if !errors.Is(err, backend.ErrEditTimeExpired) {
		return 0, fmt.Errorf("metaops: edit %d: %w", msgID, err)
	}

	if err := o.Client.DeleteMessages(ctx, o.Peer, []int32{msgID}); err != nil {
		return 0, fmt.Errorf("metaops: delete stale %d before resend: %w", msgID, err)
	}
	if err := o.Client.SendMessage(ctx, o.Peer, newText, attachment); err != nil {
		return 0, fmt.Errorf("metaops: resend after expiry: %w", err)
	}

	newID, err := o.Client.LastMessage(ctx, o.Peer)
	if err != nil {
		return 0, fmt.Errorf("metaops: locate resent message: %w", err)
	}
	return newID, nil
}

// Predicate reports whether a message's text is the one being searched for.
type Predicate func(text string) bool

// FindMessage scans the conversation newest-first via the backend's search
// iterator, returning the first message satisfying pred, or found=false if
// the conversation is exhausted without a match.
func (o *Ops) FindMessage(ctx context.Context, pred Predicate) (msgID int32, text string, found bool, err error) {
	it, err := o.Client.SearchMessages(ctx, o.Peer)
	if err != nil {
		return 0, "", false, fmt.Errorf("metaops: search: %w", err)
	}

	for {
		msg, err := it.Next(ctx)
		if err != nil {
			return 0, "", false, fmt.Errorf("metaops: search iterator: %w", err)
		}
		if msg == nil {
			return 0, "", false, nil
		}
		if pred(msg.Text) {
			return msg.ID, msg.Text, true, nil
		}
	}
}

// LastMessage returns the id of the most recently posted message by the
// authenticated user in the conversation.
func (o *Ops) LastMessage(ctx context.Context) (int32, error) {
	id, err := o.Client.LastMessage(ctx, o.Peer)
	if err != nil {
		return 0, fmt.Errorf("metaops: last message: %w", err)
	}
	return id, nil
}
