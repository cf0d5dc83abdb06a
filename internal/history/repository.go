package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const maxRecent = 500

// Record appends an event. Pass the caller's transaction as ext so the
// event commits or rolls back with the change it describes.
func Record(ctx context.Context, ext sqlx.ExtContext, leadID int64, actorID *int64, typ EventType, payload interface{}) error {
	if !typ.IsValid() {
		return fmt.Errorf("invalid event type: %q", typ)
	}

	data := []byte("{}")
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encoding %s payload: %w", typ, err)
		}
	}

	if _, err := ext.ExecContext(ctx, ext.Rebind(
		"INSERT INTO lead_history (lead_id, actor_id, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)"),
		leadID, actorID, string(typ), string(data), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("recording %s event: %w", typ, err)
	}
	return nil
}

// Repository reads the audit trail.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a history repository.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const selectEvents = `SELECT h.id, h.lead_id, h.actor_id, COALESCE(NULLIF(p.display_name, ''), p.username, '') AS actor_name,
	h.event_type, h.payload, h.created_at,
	TRIM(l.first_name || ' ' || l.last_name) AS lead_name
	FROM lead_history h
	JOIN leads l ON l.id = h.lead_id
	LEFT JOIN profiles p ON p.id = h.actor_id`

// ListByLead returns a lead's events, oldest first.
func (r *Repository) ListByLead(ctx context.Context, leadID int64) ([]*Event, error) {
	var events []*Event
	if err := r.db.SelectContext(ctx, &events, r.db.Rebind(
		selectEvents+" WHERE h.lead_id = ? ORDER BY h.created_at, h.id"), leadID); err != nil {
		return nil, fmt.Errorf("listing history for lead %d: %w", leadID, err)
	}
	return events, nil
}

// ListRecent returns the newest events across all leads.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 || limit > maxRecent {
		limit = 50
	}
	var events []*Event
	if err := r.db.SelectContext(ctx, &events, r.db.Rebind(
		selectEvents+" ORDER BY h.created_at DESC, h.id DESC LIMIT ?"), limit); err != nil {
		return nil, fmt.Errorf("listing recent history: %w", err)
	}
	return events, nil
}
