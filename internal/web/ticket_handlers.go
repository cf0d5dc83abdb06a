package web

import (
	"net/http"

	"github.com/asd12288/meydacrm/internal/ticket"
)

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ticket.Filter{
		Status:   ticket.Status(q.Get("status")),
		Category: ticket.Category(q.Get("category")),
	}
	tickets, err := s.tickets.List(r.Context(), f, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, nonNil(tickets), http.StatusOK)
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var in ticket.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	t, err := s.tickets.Create(r.Context(), in, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, t, http.StatusCreated)
}

// handleGetTicket returns a ticket with its comment thread.
func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.tickets.Get(r.Context(), pathID(r), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, t, http.StatusOK)
}

func (s *Server) handleTicketComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.tickets.AddComment(r.Context(), pathID(r), req.Body, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, c, http.StatusCreated)
}

func (s *Server) handleTicketStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status ticket.Status `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.tickets.UpdateStatus(r.Context(), pathID(r), req.Status, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, t, http.StatusOK)
}

func (s *Server) handleTicketAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssigneeID *int64 `json:"assignee_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.tickets.Assign(r.Context(), pathID(r), req.AssigneeID, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, t, http.StatusOK)
}
