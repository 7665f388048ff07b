package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/subtrackr/internal/record"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
    id        TEXT PRIMARY KEY,
    body      TEXT NOT NULL,
    revision  TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_documents_revision ON documents(revision);
`

// SQLite is a document store persisted in a SQLite database. It has the
// same semantics as Memory and backs a long-running Server.
type SQLite struct {
	db     *sql.DB
	tokens Tokens
}

// OpenSQLite opens or creates the documents database at path.
func OpenSQLite(path string, tokens Tokens) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open documents: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		documentsSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init documents: %w", err)
		}
	}

	if tokens == nil {
		tokens = NewULIDTokens(nil)
	}
	if sd, ok := tokens.(seeder); ok {
		head, err := headRevision(context.Background(), db)
		if err != nil {
			db.Close()
			return nil, err
		}
		sd.Seed(head)
	}
	return &SQLite{db: db, tokens: tokens}, nil
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

// Pull returns up to limit documents written after cursor, oldest first.
func (s *SQLite) Pull(ctx context.Context, cursor string, limit int) (Page, error) {
	if limit < 1 {
		limit = DefaultPageSize
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT body, revision FROM documents
		WHERE revision > ?
		ORDER BY revision ASC
		LIMIT ?
	`, cursor, limit+1)
	if err != nil {
		return Page{}, fmt.Errorf("pull: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	page := Page{Cursor: cursor}
	for rows.Next() {
		if len(page.Documents) == limit {
			page.More = true
			break
		}
		var body, rev string
		if err := rows.Scan(&body, &rev); err != nil {
			return Page{}, fmt.Errorf("pull: %w: %w", ErrUnavailable, err)
		}
		var env record.Envelope
		if err := json.Unmarshal([]byte(body), &env); err != nil {
			return Page{}, fmt.Errorf("pull: decode %s: %w", rev, err)
		}
		page.Documents = append(page.Documents, Document{Envelope: env, Revision: rev})
		page.Cursor = rev
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("pull: %w: %w", ErrUnavailable, err)
	}
	return page, nil
}

// Push stores envelopes under the same rules as Memory.Push, in one transaction.
func (s *SQLite) Push(ctx context.Context, req PushRequest) (PushResult, error) {
	for _, env := range req.Envelopes {
		if env.ID() == "" {
			return PushResult{}, fmt.Errorf("push: %w: envelope without id", ErrBadRequest)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PushResult{}, fmt.Errorf("push: %w: %w", ErrUnavailable, err)
	}
	defer tx.Rollback()

	head, err := headRevision(ctx, tx)
	if err != nil {
		return PushResult{}, err
	}

	res := PushResult{FastForward: !after(head, req.Since)}
	for _, env := range req.Envelopes {
		id := env.ID()

		var body, rev string
		err := tx.QueryRowContext(ctx, `SELECT body, revision FROM documents WHERE id = ?`, id).Scan(&body, &rev)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return PushResult{}, fmt.Errorf("push: %w: %w", ErrUnavailable, err)
		case after(rev, req.Since):
			res.Rejected = append(res.Rejected, id)
			continue
		default:
			var cur record.Envelope
			if err := json.Unmarshal([]byte(body), &cur); err == nil && record.Same(cur, env) {
				res.Accepted = append(res.Accepted, id)
				continue
			}
		}

		encoded, err := json.Marshal(env)
		if err != nil {
			return PushResult{}, fmt.Errorf("push: encode %s: %w", id, err)
		}
		next := s.tokens.Next()
		if !after(next, head) {
			return PushResult{}, fmt.Errorf("push: %w: revision %s does not follow head %s", ErrUnavailable, next, head)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, body, revision) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET body = excluded.body, revision = excluded.revision
		`, id, string(encoded), next); err != nil {
			return PushResult{}, fmt.Errorf("push: %w: %w", ErrUnavailable, err)
		}
		head = next
		res.Accepted = append(res.Accepted, id)
	}

	if err := tx.Commit(); err != nil {
		return PushResult{}, fmt.Errorf("push: %w: %w", ErrUnavailable, err)
	}
	res.Head = head
	return res, nil
}

// Head returns the newest revision.
func (s *SQLite) Head(ctx context.Context) (string, error) {
	return headRevision(ctx, s.db)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func headRevision(ctx context.Context, q rowQuerier) (string, error) {
	var head sql.NullString
	if err := q.QueryRowContext(ctx, `SELECT MAX(revision) FROM documents`).Scan(&head); err != nil {
		return "", fmt.Errorf("head: %w: %w", ErrUnavailable, err)
	}
	return head.String, nil
}
