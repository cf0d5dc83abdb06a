package ticket

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/email"
	"github.com/asd12288/meydacrm/internal/realtime"
	"github.com/asd12288/meydacrm/internal/validation"
)

// Service manages tickets. Callers see their own tickets; admins see all.
type Service struct {
	db      *sqlx.DB
	mail    email.Sender
	baseURL string
	events  realtime.Publisher
}

// Option configures a Service.
type Option func(*Service)

// WithMailer notifies ticket creators through s. Links point at baseURL.
func WithMailer(s email.Sender, baseURL string) Option {
	return func(svc *Service) { svc.mail, svc.baseURL = s, strings.TrimRight(baseURL, "/") }
}

// WithPublisher sends ticket events to p.
func WithPublisher(p realtime.Publisher) Option { return func(s *Service) { s.events = p } }

// NewService creates a ticket service.
func NewService(db *sqlx.DB, opts ...Option) *Service {
	s := &Service{db: db, events: realtime.Discard}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const selectTicket = `SELECT t.id, t.subject, t.description, t.category, t.priority, t.status,
	t.created_by, t.assigned_to, t.created_at, t.updated_at, t.closed_at,
	COALESCE(NULLIF(p.display_name, ''), p.username, '') AS creator_name,
	COALESCE(p.email, '') AS creator_email
	FROM tickets t LEFT JOIN profiles p ON p.id = t.created_by`

const selectComment = `SELECT c.id, c.ticket_id, c.author_id, c.body, c.created_at,
	COALESCE(NULLIF(p.display_name, ''), p.username, '') AS author_name,
	COALESCE(p.role = 'admin', FALSE) AS from_admin
	FROM ticket_comments c LEFT JOIN profiles p ON p.id = c.author_id`

// Create opens a ticket on behalf of actor.
func (s *Service) Create(ctx context.Context, in Input, actor auth.Principal) (*Ticket, error) {
	in.Subject = strings.TrimSpace(in.Subject)
	in.Description = strings.TrimSpace(in.Description)
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`INSERT INTO tickets
		(subject, description, category, priority, status, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		in.Subject, in.Description, string(in.Category), string(in.Priority), string(StatusOpen), actor.ProfileID, now, now,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("inserting ticket: %w", err)
	}

	t, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(t)
	return t, nil
}

// Get returns a ticket with its comment thread, oldest comment first.
func (s *Service) Get(ctx context.Context, id int64, scope auth.Principal) (*Ticket, error) {
	t, err := s.visible(ctx, id, scope)
	if err != nil {
		return nil, err
	}

	t.Comments = []*Comment{}
	err = s.db.SelectContext(ctx, &t.Comments, s.db.Rebind(selectComment+" WHERE c.ticket_id = ? ORDER BY c.created_at, c.id"), id)
	if err != nil {
		return nil, fmt.Errorf("listing ticket comments: %w", err)
	}
	return t, nil
}

// List returns tickets visible to scope, most recently updated first.
func (s *Service) List(ctx context.Context, f Filter, scope auth.Principal) ([]*Ticket, error) {
	var conditions []string
	var args []interface{}
	if !scope.IsAdmin() {
		conditions = append(conditions, "t.created_by = ?")
		args = append(args, scope.ProfileID)
	}
	if f.Status != "" {
		if !f.Status.IsValid() {
			return nil, ErrInvalidStatus
		}
		conditions = append(conditions, "t.status = ?")
		args = append(args, string(f.Status))
	}
	if f.Category != "" {
		conditions = append(conditions, "t.category = ?")
		args = append(args, string(f.Category))
	}

	query := selectTicket
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY t.updated_at DESC, t.id DESC"

	tickets := []*Ticket{}
	if err := s.db.SelectContext(ctx, &tickets, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	return tickets, nil
}

// AddComment appends to a ticket's thread. Closed tickets accept no
// comments. The creator is notified when someone else replies.
func (s *Service) AddComment(ctx context.Context, id int64, body string, actor auth.Principal) (*Comment, error) {
	body = strings.TrimSpace(body)
	if err := validation.Struct(commentInput{Body: body}); err != nil {
		return nil, err
	}

	t, err := s.visible(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusClosed {
		return nil, ErrClosed
	}

	commentID, err := s.insertComment(ctx, id, actor.ProfileID, body)
	if err != nil {
		return nil, err
	}

	var c Comment
	if err := s.db.GetContext(ctx, &c, s.db.Rebind(selectComment+" WHERE c.id = ?"), commentID); err != nil {
		return nil, fmt.Errorf("reading back ticket comment: %w", err)
	}

	if actor.ProfileID != t.CreatedBy {
		s.notify(ctx, t, actor, email.TicketEvent{Comment: body})
	}
	s.publish(t)
	return &c, nil
}

// insertComment touches the ticket and appends the comment in one
// transaction. The touch only matches an open ticket, so a close that
// commits first makes it fail with ErrClosed.
func (s *Service) insertComment(ctx context.Context, id, authorID int64, body string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, tx.Rebind("UPDATE tickets SET updated_at = ? WHERE id = ? AND status <> ?"),
		now, id, string(StatusClosed))
	if err != nil {
		return 0, fmt.Errorf("touching ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return 0, ErrClosed
	}

	var commentID int64
	err = tx.QueryRowxContext(ctx, tx.Rebind(
		"INSERT INTO ticket_comments (ticket_id, author_id, body, created_at) VALUES (?, ?, ?, ?) RETURNING id"),
		id, authorID, body, now,
	).Scan(&commentID)
	if err != nil {
		return 0, fmt.Errorf("inserting ticket comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing ticket comment: %w", err)
	}
	return commentID, nil
}

// UpdateStatus moves a ticket through the workflow. Admins may set any
// status; creators may only close their own ticket.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status Status, actor auth.Principal) (*Ticket, error) {
	if !status.IsValid() {
		return nil, ErrInvalidStatus
	}

	t, err := s.visible(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && status != StatusClosed {
		return nil, ErrForbidden
	}
	if t.Status == status {
		return t, nil
	}

	now := time.Now().UTC()
	var closedAt *time.Time
	if status == StatusClosed {
		closedAt = &now
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind("UPDATE tickets SET status = ?, closed_at = ?, updated_at = ? WHERE id = ?"),
		string(status), closedAt, now, id)
	if err != nil {
		return nil, fmt.Errorf("updating ticket status: %w", err)
	}

	updated, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.ProfileID != t.CreatedBy {
		s.notify(ctx, updated, actor, email.TicketEvent{StatusLabel: status.Label()})
	}
	s.publish(updated)
	return updated, nil
}

// Assign hands a ticket to an admin for follow-up, or clears it.
func (s *Service) Assign(ctx context.Context, id int64, assignee *int64, actor auth.Principal) (*Ticket, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind("UPDATE tickets SET assigned_to = ?, updated_at = ? WHERE id = ?"),
		assignee, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("assigning ticket: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	} else if n == 0 {
		return nil, ErrNotFound
	}
	return s.get(ctx, id)
}

func (s *Service) visible(ctx context.Context, id int64, scope auth.Principal) (*Ticket, error) {
	t, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scope.IsAdmin() && t.CreatedBy != scope.ProfileID {
		return nil, ErrNotFound
	}
	return t, nil
}

func (s *Service) get(ctx context.Context, id int64) (*Ticket, error) {
	var t Ticket
	err := s.db.GetContext(ctx, &t, s.db.Rebind(selectTicket+" WHERE t.id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading ticket %d: %w", id, err)
	}
	return &t, nil
}

// notify emails the creator. Delivery failures are logged, not returned.
func (s *Service) notify(ctx context.Context, t *Ticket, actor auth.Principal, ev email.TicketEvent) {
	if s.mail == nil || t.CreatorEmail == "" {
		return
	}
	ev.TicketID = t.ID
	ev.Subject = t.Subject
	ev.Actor = actor.Name()
	if s.baseURL != "" {
		ev.URL = fmt.Sprintf("%s/tickets/%d", s.baseURL, t.ID)
	}

	msg := email.TicketUpdate(t.CreatorEmail, t.CreatorName, ev)
	if err := s.mail.Send(ctx, msg); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("ticket_id", t.ID).Msg("sending ticket notification")
	}
}

func (s *Service) publish(t *Ticket) {
	s.events.Publish(realtime.Event{
		Type:       realtime.TicketUpdated,
		Data:       map[string]interface{}{"id": t.ID, "status": t.Status, "subject": t.Subject},
		ProfileIDs: []int64{t.CreatedBy},
	})
}
