package domain

import (
	"context"
	"fmt"
)

// Commit operation kinds.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// AT Proto collection NSIDs this service subscribes to.
const (
	CollectionPost = "app.bsky.feed.post"
	CollectionLike = "app.bsky.feed.like"
)

// StrongRef is a reference to a specific version of a record.
type StrongRef struct {
	URI string
	CID string
}

// ReplyRef contains references to the parent and root of a reply chain.
type ReplyRef struct {
	Root   StrongRef
	Parent StrongRef
}

// PostRecord is the content of an app.bsky.feed.post record.
type PostRecord struct {
	Text  string
	Langs []string
	Reply *ReplyRef
}

// LikeRecord is the content of an app.bsky.feed.like record.
type LikeRecord struct {
	Subject StrongRef
}

// CommitEvent is a normalized repository commit from the event stream,
// independent of which connector produced it. Post is non-nil only for post
// creations, Like only for like creations.
type CommitEvent struct {
	// Seq is the stream position of the event (microsecond timestamp on
	// Jetstream-style transports).
	Seq int64

	// DID identifies the repository (author) the commit belongs to.
	DID string

	Operation  string
	Collection string
	RKey       string
	CID        string

	Post *PostRecord
	Like *LikeRecord
}

// URI returns the AT-URI of the record the event refers to.
func (e *CommitEvent) URI() string {
	return fmt.Sprintf("at://%s/%s/%s", e.DID, e.Collection, e.RKey)
}

// EventHandler processes a single commit event. Handlers must not assume
// exactly-once delivery; the same event may arrive again after a reconnect.
type EventHandler func(ctx context.Context, evt *CommitEvent)

// EventSource is a live feed of commit events. Run blocks until ctx is
// cancelled, reconnecting internally on transient connection errors.
type EventSource interface {
	Run(ctx context.Context, handle EventHandler) error
}
