package web

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/email"
	"github.com/asd12288/meydacrm/internal/validation"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// authenticate checks the credentials of a login request, throttling
// failures per client IP. It writes the error response itself.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, req loginRequest) (*auth.Profile, bool) {
	ip := auth.ClientIP(r)
	if s.limiter.Blocked(ip) {
		apiError(w, "Trop de tentatives, réessayez plus tard", http.StatusTooManyRequests)
		return nil, false
	}

	p, err := s.profiles.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.limiter.Fail(ip)
			zerolog.Ctx(r.Context()).Warn().Str("username", req.Username).Str("ip", ip).Msg("login failed")
		}
		fail(w, r, err)
		return nil, false
	}
	return p, true
}

// handleLogin checks a username/password pair and starts a session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, ok := s.authenticate(w, r, req)
	if !ok {
		return
	}

	if err := s.sessions.Create(r.Context(), w, p.ID); err != nil {
		fail(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().Int64("profile_id", p.ID).Str("method", "password").Msg("login success")
	apiJSON(w, p, http.StatusOK)
}

// handleLogout destroys the session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Destroy(w, r); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("destroying session")
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCLILogin exchanges credentials for an API key, used by `crm login`.
func (s *Server) handleCLILogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		loginRequest
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	p, ok := s.authenticate(w, r, req.loginRequest)
	if !ok {
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "CLI"
	}
	raw, key, err := s.apiKeys.Create(r.Context(), p.ID, name)
	if err != nil {
		fail(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().Int64("profile_id", p.ID).Str("method", "cli").Msg("login success")
	apiJSON(w, apiKeyCreateResponse{Key: raw, APIKey: key, Profile: p}, http.StatusCreated)
}

// handleForgotPassword emails a reset link. The answer is the same whether
// or not the username exists.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	const sent = "Si ce compte existe, un lien de réinitialisation a été envoyé."
	log := zerolog.Ctx(r.Context())

	p, err := s.profiles.GetByUsername(r.Context(), req.Username)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			log.Error().Err(err).Msg("looking up profile for reset")
		}
		apiJSON(w, map[string]string{"message": sent}, http.StatusAccepted)
		return
	}
	if !p.Active || p.Email == "" {
		apiJSON(w, map[string]string{"message": sent}, http.StatusAccepted)
		return
	}

	token, err := s.tokens.Create(r.Context(), p.ID)
	if err != nil {
		log.Error().Err(err).Msg("creating reset token")
		apiJSON(w, map[string]string{"message": sent}, http.StatusAccepted)
		return
	}

	link := strings.TrimRight(s.cfg.BaseURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.Send(r.Context(), email.PasswordReset(p.Email, p.DisplayName, link)); err != nil {
		log.Error().Err(err).Int64("profile_id", p.ID).Msg("sending reset email")
	}

	apiJSON(w, map[string]string{"message": sent}, http.StatusAccepted)
}

// handleResetPassword consumes a reset token and sets the new password.
// Every session of the profile is ended.
func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if n := len(req.Password); n < 8 || n > 72 {
		fail(w, r, validation.Field("password", "Entre 8 et 72 caractères"))
		return
	}

	profileID, err := s.tokens.Consume(r.Context(), req.Token)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := s.profiles.SetPassword(r.Context(), profileID, req.Password); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.sessions.DestroyForProfile(r.Context(), profileID); err != nil {
		fail(w, r, err)
		return
	}

	apiJSON(w, map[string]string{"message": "Mot de passe modifié"}, http.StatusOK)
}

// handleMe returns the caller's profile.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.GetByID(r.Context(), principal(r).ProfileID)
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, p, http.StatusOK)
}
