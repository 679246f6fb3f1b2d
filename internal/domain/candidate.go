package domain

import "time"

// StatusUnprocessed is the status every candidate row is seeded with.
// Downstream game logic advances it; this pipeline never updates rows.
const StatusUnprocessed = 0

// CandidatePost is a post that matched a command predicate, awaiting
// persistence. ParentURI/ParentCID are nil iff the post is a thread root;
// RootURI/RootCID always point at the thread root (the post itself for a
// root post).
type CandidatePost struct {
	// URI is the AT-URI of the post (e.g. at://did:plc:abc/app.bsky.feed.post/3l3qo2vuowo2b).
	URI string

	// CID is the content identifier of the record.
	CID string

	// Author is the DID of the post's author.
	Author string

	ParentURI *string
	ParentCID *string
	RootURI   string
	RootCID   string

	Status    int
	IndexedAt time.Time
	Text      string

	// Lang is the first language tag declared by the author's client, if any.
	Lang *string
}

// CandidateLike is a like directed at the monitored service account,
// awaiting persistence.
type CandidateLike struct {
	URI       string
	CID       string
	Author    string
	IndexedAt time.Time
	Status    int
}
