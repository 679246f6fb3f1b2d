package firehose

import (
	"fmt"

	"github.com/bskyttrpg/gamebot/internal/domain"
	"github.com/goccy/go-json"
)

// jetstreamEvent is the raw JSON frame from a Jetstream-compatible endpoint.
type jetstreamEvent struct {
	DID    string          `json:"did"`
	TimeUS int64           `json:"time_us"`
	Kind   string          `json:"kind"`
	Commit json.RawMessage `json:"commit,omitempty"`
}

// jetstreamCommit is the raw commit payload of a commit frame.
type jetstreamCommit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid"`
}

type postRecord struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Langs     []string  `json:"langs"`
	Reply     *replyRef `json:"reply,omitempty"`
}

type replyRef struct {
	Root   strongRef `json:"root"`
	Parent strongRef `json:"parent"`
}

type likeRecord struct {
	Type      string    `json:"$type"`
	Subject   strongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// parseEvent decodes one wire frame into a normalized commit event. The
// returned seq is valid for every well-formed frame, including non-commit
// frames, for which the event itself is nil.
func parseEvent(data []byte) (*domain.CommitEvent, int64, error) {
	var raw jetstreamEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("unmarshal event: %w", err)
	}

	if raw.Kind != "commit" || len(raw.Commit) == 0 {
		return nil, raw.TimeUS, nil
	}

	var commit jetstreamCommit
	if err := json.Unmarshal(raw.Commit, &commit); err != nil {
		return nil, raw.TimeUS, fmt.Errorf("unmarshal commit: %w", err)
	}

	evt := &domain.CommitEvent{
		Seq:        raw.TimeUS,
		DID:        raw.DID,
		Operation:  commit.Operation,
		Collection: commit.Collection,
		RKey:       commit.RKey,
		CID:        commit.CID,
	}

	if commit.Operation != domain.OpCreate || len(commit.Record) == 0 {
		return evt, raw.TimeUS, nil
	}

	switch commit.Collection {
	case domain.CollectionPost:
		var rec postRecord
		if err := json.Unmarshal(commit.Record, &rec); err != nil {
			return nil, raw.TimeUS, fmt.Errorf("unmarshal post record: %w", err)
		}
		evt.Post = &domain.PostRecord{
			Text:  rec.Text,
			Langs: rec.Langs,
		}
		if rec.Reply != nil {
			evt.Post.Reply = &domain.ReplyRef{
				Root:   domain.StrongRef{URI: rec.Reply.Root.URI, CID: rec.Reply.Root.CID},
				Parent: domain.StrongRef{URI: rec.Reply.Parent.URI, CID: rec.Reply.Parent.CID},
			}
		}

	case domain.CollectionLike:
		var rec likeRecord
		if err := json.Unmarshal(commit.Record, &rec); err != nil {
			return nil, raw.TimeUS, fmt.Errorf("unmarshal like record: %w", err)
		}
		evt.Like = &domain.LikeRecord{
			Subject: domain.StrongRef{URI: rec.Subject.URI, CID: rec.Subject.CID},
		}
	}

	return evt, raw.TimeUS, nil
}
