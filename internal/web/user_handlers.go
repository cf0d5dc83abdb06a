package web

import (
	"net/http"

	"github.com/asd12288/meydacrm/internal/auth"
)

// profileChange is the admin edit form for a profile.
type profileChange struct {
	auth.ProfileUpdate
	Active   *bool   `json:"active"`
	Password *string `json:"password"`
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.profiles.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, nonNil(profiles), http.StatusOK)
}

// handleAssignableProfiles lists active sales profiles for assignment
// pickers.
func (s *Server) handleAssignableProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.profiles.ListAssignable(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, nonNil(profiles), http.StatusOK)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var in auth.NewProfile
	if !decodeJSON(w, r, &in) {
		return
	}

	p, err := s.profiles.Create(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, p, http.StatusCreated)
}

// handleUpdateProfile edits a profile. Deactivating a profile or changing
// its password ends its sessions.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	var in profileChange
	if !decodeJSON(w, r, &in) {
		return
	}

	ctx := r.Context()
	if _, err := s.profiles.Update(ctx, id, in.ProfileUpdate); err != nil {
		fail(w, r, err)
		return
	}
	if in.Password != nil {
		if err := s.profiles.SetPassword(ctx, id, *in.Password); err != nil {
			fail(w, r, err)
			return
		}
	}
	if in.Active != nil {
		if err := s.profiles.SetActive(ctx, id, *in.Active); err != nil {
			fail(w, r, err)
			return
		}
	}
	if in.Password != nil || (in.Active != nil && !*in.Active) {
		if err := s.sessions.DestroyForProfile(ctx, id); err != nil {
			fail(w, r, err)
			return
		}
	}

	p, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, p, http.StatusOK)
}

// nonNil turns a nil slice into an empty one so it encodes as [].
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
