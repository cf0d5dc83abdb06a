package comment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/history"
	"github.com/asd12288/meydacrm/internal/lead"
	"github.com/asd12288/meydacrm/internal/validation"
)

// Leads checks that a lead is visible to the caller.
type Leads interface {
	Get(ctx context.Context, id int64, scope auth.Principal) (*lead.Lead, error)
}

// Repository provides comment operations scoped by lead visibility.
type Repository struct {
	db    *sqlx.DB
	leads Leads
}

// NewRepository creates a comment repository.
func NewRepository(db *sqlx.DB, leads Leads) *Repository {
	return &Repository{db: db, leads: leads}
}

const selectComment = `SELECT c.id, c.lead_id, c.author_id, c.body, c.created_at, c.updated_at,
	COALESCE(NULLIF(p.display_name, ''), p.username, '') AS author_name
	FROM lead_comments c LEFT JOIN profiles p ON p.id = c.author_id`

// Add creates a comment on a lead visible to actor and records it in the
// lead's history.
func (r *Repository) Add(ctx context.Context, leadID int64, body string, actor auth.Principal) (*Comment, error) {
	in := input{Body: strings.TrimSpace(body)}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if _, err := r.leads.Get(ctx, leadID, actor); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	author := actor.ProfileID
	var id int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(
		"INSERT INTO lead_comments (lead_id, author_id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?) RETURNING id"),
		leadID, author, in.Body, now, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("inserting comment: %w", err)
	}

	if err := history.Record(ctx, tx, leadID, &author, history.CommentAdded, map[string]interface{}{
		"comment_id": id,
		"excerpt":    excerpt(in.Body, 80),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing comment: %w", err)
	}

	return r.get(ctx, id)
}

// ListByLead returns the comments of a lead visible to scope, newest first.
func (r *Repository) ListByLead(ctx context.Context, leadID int64, scope auth.Principal) ([]*Comment, error) {
	if _, err := r.leads.Get(ctx, leadID, scope); err != nil {
		return nil, err
	}

	comments := []*Comment{}
	err := r.db.SelectContext(ctx, &comments, r.db.Rebind(selectComment+" WHERE c.lead_id = ? ORDER BY c.created_at DESC, c.id DESC"), leadID)
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	return comments, nil
}

// Update replaces the body of a comment. Only its author or an admin may
// edit it.
func (r *Repository) Update(ctx context.Context, id int64, body string, actor auth.Principal) (*Comment, error) {
	in := input{Body: strings.TrimSpace(body)}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if _, err := r.editable(ctx, id, actor); err != nil {
		return nil, err
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind("UPDATE lead_comments SET body = ?, updated_at = ? WHERE id = ?"),
		in.Body, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("updating comment: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	} else if n == 0 {
		return nil, ErrNotFound
	}

	return r.get(ctx, id)
}

// Delete removes a comment. Only its author or an admin may delete it.
func (r *Repository) Delete(ctx context.Context, id int64, actor auth.Principal) error {
	if _, err := r.editable(ctx, id, actor); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind("DELETE FROM lead_comments WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting comment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// editable loads a comment on a visible lead and checks actor may change it.
func (r *Repository) editable(ctx context.Context, id int64, actor auth.Principal) (*Comment, error) {
	c, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := r.leads.Get(ctx, c.LeadID, actor); err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !actor.IsAdmin() && (c.AuthorID == nil || *c.AuthorID != actor.ProfileID) {
		return nil, ErrForbidden
	}
	return c, nil
}

func (r *Repository) get(ctx context.Context, id int64) (*Comment, error) {
	var c Comment
	err := r.db.GetContext(ctx, &c, r.db.Rebind(selectComment+" WHERE c.id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading comment %d: %w", id, err)
	}
	return &c, nil
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
