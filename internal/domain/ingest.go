package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Ingester is the core pipeline: it classifies each commit event and
// persists the resulting candidate rows. One event at a time, in arrival
// order; a failure on one event never stops the stream.
type Ingester struct {
	classifier *Classifier
	repo       CandidateRepository
	logger     *slog.Logger
	now        func() time.Time
}

// NewIngester creates an Ingester writing through the given repository.
func NewIngester(classifier *Classifier, repo CandidateRepository, logger *slog.Logger) *Ingester {
	return &Ingester{
		classifier: classifier,
		repo:       repo,
		logger:     logger,
		now:        time.Now,
	}
}

// HandleEvent processes one commit event. It is the per-event error
// boundary: classification panics are recovered and persistence errors are
// logged, the event is dropped, and processing of subsequent events
// continues. The upstream source re-delivers around reconnects, so dropped
// writes are retried naturally and duplicates are absorbed by the
// idempotent inserts.
func (s *Ingester) HandleEvent(ctx context.Context, evt *CommitEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while processing event", "uri", evt.URI(), "panic", r)
		}
	}()

	if err := s.process(ctx, evt); err != nil {
		s.logger.Error("failed to process event", "uri", evt.URI(), "error", err)
	}
}

func (s *Ingester) process(ctx context.Context, evt *CommitEvent) error {
	now := s.now().UTC()

	if like := s.classifier.ClassifyLike(evt, now); like != nil {
		if err := s.repo.InsertLikes(ctx, []CandidateLike{*like}); err != nil {
			return fmt.Errorf("insert like: %w", err)
		}
		s.logger.Info("matched like", "uri", like.URI, "author", like.Author)
		return nil
	}

	if post := s.classifier.ClassifyPost(evt, now); post != nil {
		if err := s.repo.InsertPosts(ctx, []CandidatePost{*post}); err != nil {
			return fmt.Errorf("insert post: %w", err)
		}
		s.logger.Info("matched post",
			"uri", post.URI,
			"text_preview", truncate(post.Text, 100),
		)
	}

	return nil
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
