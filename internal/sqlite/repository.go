package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bskyttrpg/gamebot/internal/domain"
	_ "modernc.org/sqlite"
)

// Repository implements domain.CandidateRepository and
// domain.CursorRepository using SQLite. It exclusively owns the database
// handle; all table access goes through it.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (creating if necessary) the SQLite database at path
// and verifies the connection. Call Migrate before writing. The caller
// should call Close when the repository is no longer needed.
func NewRepository(path string) (*Repository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY when
	// cursor saves interleave with inserts.
	db.SetMaxOpenConns(1)

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrations are applied in order, forward-only, each at most once.
var migrations = []struct {
	version string
	stmts   []string
}{
	{
		version: "001_init",
		stmts: []string{
			`CREATE TABLE post (
				uri TEXT PRIMARY KEY,
				cid TEXT NOT NULL,
				parentUri TEXT,
				parentCid TEXT,
				rootUri TEXT NOT NULL,
				rootCid TEXT NOT NULL,
				author TEXT NOT NULL,
				status INTEGER NOT NULL,
				indexedAt TEXT NOT NULL,
				text TEXT NOT NULL
			)`,
			`CREATE TABLE sub_state (
				service TEXT PRIMARY KEY,
				cursor INTEGER NOT NULL
			)`,
			`CREATE TABLE repo_like (
				uri TEXT PRIMARY KEY,
				cid TEXT NOT NULL,
				author TEXT NOT NULL,
				indexedAt TEXT NOT NULL,
				status INTEGER NOT NULL
			)`,
		},
	},
	{
		version: "002_post_lang",
		stmts: []string{
			`ALTER TABLE post ADD COLUMN lang TEXT`,
		},
	},
}

// Migrate applies pending schema migrations. It must complete before the
// subscription starts; a failure here is fatal to the process.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		appliedAt TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var applied int
		err := r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.version, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("apply migration %s: %w", m.version, err)
			}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, appliedAt) VALUES (?, ?)`,
			m.version, time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.version, err)
		}
	}

	return nil
}

// InsertPosts inserts candidate posts in a single batched statement. Rows
// whose uri already exists are silently skipped, so re-delivery of the same
// commit event neither duplicates rows nor errors. No-op on empty input.
func (r *Repository) InsertPosts(ctx context.Context, posts []domain.CandidatePost) error {
	if len(posts) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(posts))
	args := make([]any, 0, len(posts)*11)
	for _, p := range posts {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			p.URI,
			p.CID,
			p.ParentURI,
			p.ParentCID,
			p.RootURI,
			p.RootCID,
			p.Author,
			p.Status,
			p.IndexedAt.UTC().Format(time.RFC3339),
			p.Text,
			p.Lang,
		)
	}

	query := `
		INSERT INTO post (uri, cid, parentUri, parentCid, rootUri, rootCid, author, status, indexedAt, text, lang)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON CONFLICT(uri) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert posts: %w", err)
	}
	return nil
}

// InsertLikes inserts candidate likes in a single batched statement with
// the same conflict-ignoring semantics as InsertPosts.
func (r *Repository) InsertLikes(ctx context.Context, likes []domain.CandidateLike) error {
	if len(likes) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(likes))
	args := make([]any, 0, len(likes)*5)
	for _, l := range likes {
		placeholders = append(placeholders, "(?, ?, ?, ?, ?)")
		args = append(args,
			l.URI,
			l.CID,
			l.Author,
			l.IndexedAt.UTC().Format(time.RFC3339),
			l.Status,
		)
	}

	query := `
		INSERT INTO repo_like (uri, cid, author, indexedAt, status)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON CONFLICT(uri) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert likes: %w", err)
	}
	return nil
}

// GetCursor retrieves the saved stream position for a service. Returns 0
// when no cursor has been saved yet.
func (r *Repository) GetCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := r.db.QueryRowContext(ctx,
		`SELECT cursor FROM sub_state WHERE service = ?`, service,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	return cursor, nil
}

// UpdateCursor upserts the stream position for a service.
func (r *Repository) UpdateCursor(ctx context.Context, service string, cursor int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sub_state (service, cursor)
		VALUES (?, ?)
		ON CONFLICT(service) DO UPDATE SET cursor = excluded.cursor`,
		service, cursor,
	)
	if err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	return nil
}
