// Package history records the audit trail of lead changes.
package history

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names what happened to a lead.
type EventType string

const (
	Created       EventType = "created"
	Updated       EventType = "updated"
	StatusChanged EventType = "status_changed"
	Assigned      EventType = "assigned"
	Unassigned    EventType = "unassigned"
	CommentAdded  EventType = "comment_added"
	Deleted       EventType = "deleted"
	Restored      EventType = "restored"
	Imported      EventType = "imported"
)

var labels = map[EventType]string{
	Created:       "Création",
	Updated:       "Modification",
	StatusChanged: "Changement de statut",
	Assigned:      "Attribution",
	Unassigned:    "Désattribution",
	CommentAdded:  "Commentaire",
	Deleted:       "Suppression",
	Restored:      "Restauration",
	Imported:      "Import",
}

// IsValid returns true if t is a known event type.
func (t EventType) IsValid() bool {
	_, ok := labels[t]
	return ok
}

// Label returns the French label.
func (t EventType) Label() string {
	if l, ok := labels[t]; ok {
		return l
	}
	return string(t)
}

// Change is one field's before and after values.
type Change struct {
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

// Event is one audit entry. ActorID is nil for system actions.
type Event struct {
	ID        int64     `db:"id" json:"id"`
	LeadID    int64     `db:"lead_id" json:"lead_id"`
	LeadName  string    `db:"lead_name" json:"lead_name,omitempty"`
	ActorID   *int64    `db:"actor_id" json:"actor_id"`
	ActorName string    `db:"actor_name" json:"actor_name"`
	Type      EventType `db:"event_type" json:"type"`
	Payload   Payload   `db:"payload" json:"payload"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Payload is an event's JSON document as stored in a TEXT column.
type Payload json.RawMessage

// Scan implements sql.Scanner for drivers returning string or []byte.
func (p *Payload) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case string:
		*p = Payload(v)
	case []byte:
		*p = append(Payload(nil), v...)
	default:
		return fmt.Errorf("unsupported payload type %T", src)
	}
	return nil
}

// MarshalJSON emits the stored document, or {} when empty.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return []byte(p), nil
}

// UnmarshalJSON keeps a copy of the raw document.
func (p *Payload) UnmarshalJSON(data []byte) error {
	*p = append(Payload(nil), data...)
	return nil
}

// Decode unmarshals the payload into dest.
func (p Payload) Decode(dest interface{}) error {
	if len(p) == 0 {
		return nil
	}
	return json.Unmarshal([]byte(p), dest)
}
