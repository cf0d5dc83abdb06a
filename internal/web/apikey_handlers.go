package web

import (
	"net/http"

	"github.com/asd12288/meydacrm/internal/auth"
)

type apiKeyCreateResponse struct {
	Key     string        `json:"key"` // raw key, shown once
	APIKey  *auth.APIKey  `json:"api_key"`
	Profile *auth.Profile `json:"profile,omitempty"`
}

// handleCreateKey generates a new API key for the caller.
func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}

	raw, key, err := s.apiKeys.Create(r.Context(), principal(r).ProfileID, body.Name)
	if err != nil {
		fail(w, r, err)
		return
	}

	apiJSON(w, apiKeyCreateResponse{Key: raw, APIKey: key}, http.StatusCreated)
}

// handleListKeys returns the caller's API keys (without raw keys).
func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.apiKeys.List(r.Context(), principal(r).ProfileID)
	if err != nil {
		fail(w, r, err)
		return
	}
	if keys == nil {
		keys = []auth.APIKey{}
	}
	apiJSON(w, keys, http.StatusOK)
}

// handleDeleteKey revokes one of the caller's API keys.
func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := s.apiKeys.Delete(r.Context(), principal(r).ProfileID, pathID(r)); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
