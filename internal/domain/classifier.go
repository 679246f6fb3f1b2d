package domain

import (
	"fmt"
	"strings"
	"time"
)

// commandPrefixes match any lower-cased post text that starts with them.
// The truncated forms also catch "aceitar"/"rejeitar" from pt-br players.
var commandPrefixes = []string{"accept", "aceit", "reject", "rejeit", "cancel"}

// commandShorthands must match the whole text exactly. A prefix match on a
// single letter would swallow most of the firehose.
var commandShorthands = []string{"a", "r", "c"}

// Classifier maps commit events to candidate rows. It is pure: no I/O, no
// state mutation, safe to call from any connector.
type Classifier struct {
	mention     string
	likeSubject string
}

// NewClassifier creates a Classifier monitoring the given service account.
// serviceDID is the DID whose labeler record's likes are tracked;
// mentionHandle is the @handle that addresses the bot in post text.
func NewClassifier(serviceDID, mentionHandle string) *Classifier {
	return &Classifier{
		mention:     strings.ToLower(mentionHandle),
		likeSubject: fmt.Sprintf("at://%s/app.bsky.labeler.service/self", serviceDID),
	}
}

// ClassifyLike returns a candidate iff the event is a like creation whose
// subject is the monitored service account's labeler record. Matching is
// full equality against the canonical record URI, not substring containment.
func (c *Classifier) ClassifyLike(evt *CommitEvent, now time.Time) *CandidateLike {
	if evt.Operation != OpCreate || evt.Collection != CollectionLike || evt.Like == nil {
		return nil
	}
	if evt.Like.Subject.URI != c.likeSubject {
		return nil
	}

	return &CandidateLike{
		URI:       evt.URI(),
		CID:       evt.CID,
		Author:    evt.DID,
		IndexedAt: now,
		Status:    StatusUnprocessed,
	}
}

// ClassifyPost returns a candidate iff the event is a post creation whose
// text matches a bot command or mentions the bot. For replies, the thread
// root and immediate parent are copied from the reply reference; root posts
// reference themselves.
func (c *Classifier) ClassifyPost(evt *CommitEvent, now time.Time) *CandidatePost {
	if evt.Operation != OpCreate || evt.Collection != CollectionPost || evt.Post == nil {
		return nil
	}
	if !c.matchesCommand(evt.Post.Text) {
		return nil
	}

	post := &CandidatePost{
		URI:       evt.URI(),
		CID:       evt.CID,
		Author:    evt.DID,
		RootURI:   evt.URI(),
		RootCID:   evt.CID,
		Status:    StatusUnprocessed,
		IndexedAt: now,
		Text:      evt.Post.Text,
	}

	if reply := evt.Post.Reply; reply != nil {
		if reply.Root.URI != "" {
			post.RootURI = reply.Root.URI
			post.RootCID = reply.Root.CID
		}
		if reply.Parent.URI != "" {
			parent := reply.Parent
			post.ParentURI = &parent.URI
			post.ParentCID = &parent.CID
		}
	}

	if len(evt.Post.Langs) > 0 {
		lang := evt.Post.Langs[0]
		post.Lang = &lang
	}

	return post
}

func (c *Classifier) matchesCommand(text string) bool {
	text = strings.ToLower(text)

	if c.mention != "" && strings.HasPrefix(text, c.mention) {
		return true
	}
	for _, prefix := range commandPrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	for _, shorthand := range commandShorthands {
		if text == shorthand {
			return true
		}
	}
	return false
}
