package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Authenticator resolves the caller of a request from a bearer API key or
// the session cookie.
type Authenticator struct {
	Sessions *SessionStore
	APIKeys  *APIKeyStore
	Profiles *ProfileStore
	Limiter  *FailureLimiter
}

// Resolve returns the principal for r. It returns ErrNoSession when the
// request carries no usable credentials.
func (a *Authenticator) Resolve(r *http.Request) (Principal, error) {
	var profileID int64

	if header := r.Header.Get("Authorization"); header != "" {
		key, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return Principal{}, ErrNoSession
		}
		id, valid, err := a.APIKeys.Validate(r.Context(), strings.TrimSpace(key))
		if err != nil {
			return Principal{}, err
		}
		if !valid {
			return Principal{}, ErrNoSession
		}
		profileID = id
	} else {
		id, err := a.Sessions.Validate(r)
		if err != nil {
			return Principal{}, err
		}
		profileID = id
	}

	p, err := a.Profiles.GetByID(r.Context(), profileID)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrNoSession
	}
	if err != nil {
		return Principal{}, err
	}
	if !p.Active {
		return Principal{}, ErrNoSession
	}

	return p.Principal(), nil
}

// Require rejects unauthenticated requests with 401 and stores the
// principal on the context of authenticated ones. Clients that keep
// failing are answered with 429.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		if a.Limiter != nil && a.Limiter.Blocked(ip) {
			writeError(w, http.StatusTooManyRequests, "Trop de tentatives, réessayez plus tard")
			return
		}

		p, err := a.Resolve(r)
		if err != nil {
			if !errors.Is(err, ErrNoSession) {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("resolving principal")
				writeError(w, http.StatusInternalServerError, "Erreur interne")
				return
			}
			if a.Limiter != nil {
				a.Limiter.Fail(ip)
			}
			writeError(w, http.StatusUnauthorized, "Authentification requise")
			return
		}

		ctx := WithPrincipal(r.Context(), p)
		logger := zerolog.Ctx(ctx).With().Int64("profile_id", p.ProfileID).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(ctx)))
	})
}

// RequireAdmin answers 403 unless the principal is an admin.
// It must run after Require.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentification requise")
			return
		}
		if !p.IsAdmin() {
			writeError(w, http.StatusForbidden, "Accès réservé aux administrateurs")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
