// Package realtime pushes lead, ticket and banner changes to connected
// clients over websockets so they can reconcile optimistic updates.
package realtime

// Event types pushed to websocket clients.
const (
	LeadCreated       = "lead.created"
	LeadStatusChanged = "lead.status_changed"
	LeadAssigned      = "lead.assigned"
	LeadDeleted       = "lead.deleted"
	TicketUpdated     = "ticket.updated"
	BannerPublished   = "banner.published"
)

// Event is one message for connected clients. Admins receive every event;
// other profiles receive it when listed in ProfileIDs or when Everyone is set.
// SkipAdmins marks a per-profile copy of an event admins already received.
type Event struct {
	Type       string      `json:"type"`
	Data       interface{} `json:"data"`
	ProfileIDs []int64     `json:"-"`
	Everyone   bool        `json:"-"`
	SkipAdmins bool        `json:"-"`
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
