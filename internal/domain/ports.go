package domain

import "context"

// CandidateRepository defines idempotent persistence for classified rows.
// Inserts are batched single statements; rows whose uri already exists are
// silently skipped (first writer wins), which is what makes re-delivered
// events safe. Empty batches are no-ops.
type CandidateRepository interface {
	InsertPosts(ctx context.Context, posts []CandidatePost) error
	InsertLikes(ctx context.Context, likes []CandidateLike) error
}

// CursorRepository defines persistence for subscription cursors. Only the
// cursor-tracking connector variant uses it.
type CursorRepository interface {
	// GetCursor retrieves the last-saved stream position for the given
	// service name. Returns 0 if no cursor has been saved.
	GetCursor(ctx context.Context, service string) (int64, error)

	// UpdateCursor persists the stream position so ingestion can resume
	// after a restart.
	UpdateCursor(ctx context.Context, service string, cursor int64) error
}
