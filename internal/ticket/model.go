// Package ticket provides support tickets with a threaded comment log.
package ticket

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for missing tickets and for tickets the
	// caller may not see.
	ErrNotFound = errors.New("ticket introuvable")
	// ErrForbidden is returned for status changes the caller may not make.
	ErrForbidden = errors.New("action non autorisée sur ce ticket")
	// ErrClosed is returned when commenting on a closed ticket.
	ErrClosed = errors.New("ce ticket est fermé")
	// ErrInvalidStatus is returned for unknown statuses.
	ErrInvalidStatus = errors.New("statut de ticket inconnu")
)

// Category classifies a ticket.
type Category string

const (
	CategoryBug     Category = "bug"
	CategoryFeature Category = "feature"
	CategoryAccount Category = "account"
	CategoryBilling Category = "billing"
	CategoryOther   Category = "other"
)

var categoryLabels = map[Category]string{
	CategoryBug:     "Bug",
	CategoryFeature: "Demande de fonctionnalité",
	CategoryAccount: "Compte",
	CategoryBilling: "Facturation",
	CategoryOther:   "Autre",
}

// Label returns the French label.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}

// Priority is a ticket's urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Status is a ticket's position in the support workflow.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

var statusLabels = map[Status]string{
	StatusOpen:       "Ouvert",
	StatusInProgress: "En cours",
	StatusResolved:   "Résolu",
	StatusClosed:     "Fermé",
}

// IsValid returns true if s is a known status.
func (s Status) IsValid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label returns the French label.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Ticket is a support request.
type Ticket struct {
	ID           int64      `db:"id" json:"id"`
	Subject      string     `db:"subject" json:"subject"`
	Description  string     `db:"description" json:"description"`
	Category     Category   `db:"category" json:"category"`
	Priority     Priority   `db:"priority" json:"priority"`
	Status       Status     `db:"status" json:"status"`
	CreatedBy    int64      `db:"created_by" json:"created_by"`
	CreatorName  string     `db:"creator_name" json:"creator_name"`
	CreatorEmail string     `db:"creator_email" json:"-"`
	AssignedTo   *int64     `db:"assigned_to" json:"assigned_to"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	ClosedAt     *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	Comments     []*Comment `db:"-" json:"comments,omitempty"`
}

// Comment is one entry of a ticket's thread.
type Comment struct {
	ID         int64     `db:"id" json:"id"`
	TicketID   int64     `db:"ticket_id" json:"ticket_id"`
	AuthorID   *int64    `db:"author_id" json:"author_id"`
	AuthorName string    `db:"author_name" json:"author_name"`
	FromAdmin  bool      `db:"from_admin" json:"from_admin"`
	Body       string    `db:"body" json:"body"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Input is a new ticket.
type Input struct {
	Subject     string   `json:"subject" validate:"required,max=200"`
	Description string   `json:"description" validate:"max=10000"`
	Category    Category `json:"category" validate:"required,oneof=bug feature account billing other"`
	Priority    Priority `json:"priority" validate:"omitempty,oneof=low normal high"`
}

// Filter selects tickets for List.
type Filter struct {
	Status   Status
	Category Category
}

type commentInput struct {
	Body string `json:"body" validate:"required,max=5000"`
}
