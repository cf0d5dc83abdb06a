package web

import (
	"net/http"

	"github.com/asd12288/meydacrm/internal/banner"
)

// handleActiveBanners returns the banners the caller should see now.
func (s *Server) handleActiveBanners(w http.ResponseWriter, r *http.Request) {
	banners, err := s.banners.ActiveFor(r.Context(), principal(r), s.now())
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, nonNil(banners), http.StatusOK)
}

func (s *Server) handleDismissBanner(w http.ResponseWriter, r *http.Request) {
	if err := s.banners.Dismiss(r.Context(), pathID(r), principal(r).ProfileID); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBanners(w http.ResponseWriter, r *http.Request) {
	banners, err := s.banners.List(r.Context(), principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, nonNil(banners), http.StatusOK)
}

func (s *Server) handleCreateBanner(w http.ResponseWriter, r *http.Request) {
	var in banner.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	b, err := s.banners.Create(r.Context(), in, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, b, http.StatusCreated)
}

func (s *Server) handleUpdateBanner(w http.ResponseWriter, r *http.Request) {
	var in banner.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	b, err := s.banners.Update(r.Context(), pathID(r), in, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, b, http.StatusOK)
}

func (s *Server) handleSetBannerActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	b, err := s.banners.SetActive(r.Context(), pathID(r), req.Active, principal(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, b, http.StatusOK)
}

func (s *Server) handleDeleteBanner(w http.ResponseWriter, r *http.Request) {
	if err := s.banners.Delete(r.Context(), pathID(r), principal(r)); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
