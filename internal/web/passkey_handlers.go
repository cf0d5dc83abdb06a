package web

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/asd12288/meydacrm/internal/auth"
)

const (
	ceremonyCookie = "crm_webauthn"
	ceremonyTTL    = 5 * time.Minute
)

// ceremony is one in-flight WebAuthn registration or login.
type ceremony struct {
	data      *webauthn.SessionData
	profileID int64 // zero for discoverable login
	expires   time.Time
}

// passkeyHandlers holds WebAuthn-related HTTP handlers.
type passkeyHandlers struct {
	wan      *webauthn.WebAuthn
	passkeys *auth.PasskeyStore
	sessions *auth.SessionStore
	profiles *auth.ProfileStore

	mu         sync.Mutex
	ceremonies map[string]ceremony
	now        func() time.Time
}

func newPasskeyHandlers(baseURL string, passkeys *auth.PasskeyStore, sessions *auth.SessionStore, profiles *auth.ProfileStore) (*passkeyHandlers, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	wan, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Meyda CRM",
		RPID:          parsed.Hostname(),
		RPOrigins:     []string{strings.TrimRight(baseURL, "/")},
	})
	if err != nil {
		return nil, err
	}

	return &passkeyHandlers{
		wan:        wan,
		passkeys:   passkeys,
		sessions:   sessions,
		profiles:   profiles,
		ceremonies: make(map[string]ceremony),
		now:        time.Now,
	}, nil
}

// start stores a ceremony under a fresh ID and hands the ID to the client.
func (h *passkeyHandlers) start(w http.ResponseWriter, data *webauthn.SessionData, profileID int64) {
	id := uuid.NewString()
	now := h.now()

	h.mu.Lock()
	for k, c := range h.ceremonies {
		if now.After(c.expires) {
			delete(h.ceremonies, k)
		}
	}
	h.ceremonies[id] = ceremony{data: data, profileID: profileID, expires: now.Add(ceremonyTTL)}
	h.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     ceremonyCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(ceremonyTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// finish removes and returns the ceremony named by the request cookie.
func (h *passkeyHandlers) finish(w http.ResponseWriter, r *http.Request) (ceremony, bool) {
	cookie, err := r.Cookie(ceremonyCookie)
	if err != nil {
		return ceremony{}, false
	}
	http.SetCookie(w, &http.Cookie{Name: ceremonyCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})

	h.mu.Lock()
	c, ok := h.ceremonies[cookie.Value]
	delete(h.ceremonies, cookie.Value)
	h.mu.Unlock()

	if !ok || h.now().After(c.expires) {
		return ceremony{}, false
	}
	return c, true
}

func (h *passkeyHandlers) user(r *http.Request, profileID int64) (*auth.PasskeyUser, error) {
	p, err := h.profiles.GetByID(r.Context(), profileID)
	if err != nil {
		return nil, err
	}
	creds, err := h.passkeys.WebAuthnCredentials(r.Context(), profileID)
	if err != nil {
		return nil, err
	}
	return auth.NewPasskeyUser(p, creds), nil
}

// handleBeginRegistration starts passkey registration for the caller.
func (h *passkeyHandlers) handleBeginRegistration(w http.ResponseWriter, r *http.Request) {
	caller := principal(r)
	user, err := h.user(r, caller.ProfileID)
	if err != nil {
		fail(w, r, err)
		return
	}

	// Exclude existing credentials so the same authenticator is not
	// registered twice.
	creds := user.WebAuthnCredentials()
	exclude := make([]protocol.CredentialDescriptor, len(creds))
	for i, c := range creds {
		exclude[i] = c.Descriptor()
	}

	creation, session, err := h.wan.BeginRegistration(user, webauthn.WithExclusions(exclude))
	if err != nil {
		fail(w, r, err)
		return
	}

	h.start(w, session, caller.ProfileID)
	apiJSON(w, creation, http.StatusOK)
}

// handleFinishRegistration completes passkey registration.
func (h *passkeyHandlers) handleFinishRegistration(w http.ResponseWriter, r *http.Request) {
	caller := principal(r)
	c, ok := h.finish(w, r)
	if !ok || c.profileID != caller.ProfileID {
		apiError(w, "Aucun enregistrement en cours", http.StatusBadRequest)
		return
	}

	user, err := h.user(r, caller.ProfileID)
	if err != nil {
		fail(w, r, err)
		return
	}

	credential, err := h.wan.FinishRegistration(user, *c.data, r)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("finishing passkey registration")
		apiError(w, "Échec de l'enregistrement de la clé", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = "Clé d'accès"
	}
	if err := h.passkeys.Save(r.Context(), caller.ProfileID, name, credential); err != nil {
		fail(w, r, err)
		return
	}

	apiJSON(w, map[string]string{"status": "ok"}, http.StatusCreated)
}

// handleBeginLogin starts a discoverable passkey login.
func (h *passkeyHandlers) handleBeginLogin(w http.ResponseWriter, r *http.Request) {
	assertion, session, err := h.wan.BeginDiscoverableLogin()
	if err != nil {
		fail(w, r, err)
		return
	}

	h.start(w, session, 0)
	apiJSON(w, assertion, http.StatusOK)
}

// handleFinishLogin completes a passkey login and creates a session.
func (h *passkeyHandlers) handleFinishLogin(w http.ResponseWriter, r *http.Request) {
	c, ok := h.finish(w, r)
	if !ok {
		apiError(w, "Aucune connexion en cours", http.StatusBadRequest)
		return
	}

	var loggedIn *auth.Profile
	handler := func(_, userHandle []byte) (webauthn.User, error) {
		id, err := auth.ProfileIDFromHandle(userHandle)
		if err != nil {
			return nil, protocol.ErrBadRequest.WithDetails("unknown user")
		}
		user, err := h.user(r, id)
		if errors.Is(err, auth.ErrNotFound) {
			return nil, protocol.ErrBadRequest.WithDetails("unknown user")
		}
		if err != nil {
			return nil, err
		}
		loggedIn = user.Profile()
		return user, nil
	}

	if _, _, err := h.wan.FinishPasskeyLogin(handler, *c.data, r); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("finishing passkey login")
		apiError(w, "Échec de la connexion", http.StatusUnauthorized)
		return
	}
	if loggedIn == nil || !loggedIn.Active {
		apiError(w, auth.ErrInvalidCredentials.Error(), http.StatusUnauthorized)
		return
	}

	if err := h.sessions.Create(r.Context(), w, loggedIn.ID); err != nil {
		fail(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().Int64("profile_id", loggedIn.ID).Str("method", "passkey").Msg("login success")
	apiJSON(w, loggedIn, http.StatusOK)
}

// handleList returns the caller's registered passkeys.
func (h *passkeyHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	creds, err := h.passkeys.ListByProfile(r.Context(), principal(r).ProfileID)
	if err != nil {
		fail(w, r, err)
		return
	}
	apiJSON(w, creds, http.StatusOK)
}

// handleDelete removes one of the caller's passkeys.
func (h *passkeyHandlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.passkeys.Delete(r.Context(), principal(r).ProfileID, mux.Vars(r)["id"]); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
