// Package comment provides lead comments and their data access.
package comment

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for missing comments.
	ErrNotFound = errors.New("commentaire introuvable")
	// ErrForbidden is returned when editing someone else's comment.
	ErrForbidden = errors.New("seul l'auteur peut modifier ce commentaire")
)

// Comment is a note left on a lead.
type Comment struct {
	ID         int64     `db:"id" json:"id"`
	LeadID     int64     `db:"lead_id" json:"lead_id"`
	AuthorID   *int64    `db:"author_id" json:"author_id"`
	AuthorName string    `db:"author_name" json:"author_name"`
	Body       string    `db:"body" json:"body"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Edited reports whether the comment changed after it was posted.
func (c *Comment) Edited() bool {
	return c.UpdatedAt.Sub(c.CreatedAt) > time.Second
}

type input struct {
	Body string `json:"body" validate:"required,max=5000"`
}
