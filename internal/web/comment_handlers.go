package web

import "net/http"

type commentRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.comments.ListByLead(r.Context(), pathID(r), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, nonNil(comments), http.StatusOK)
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.comments.Add(r.Context(), pathID(r), req.Body, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, c, http.StatusCreated)
}

func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.comments.Update(r.Context(), pathID(r), req.Body, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, c, http.StatusOK)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := s.comments.Delete(r.Context(), pathID(r), principal(r)); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
