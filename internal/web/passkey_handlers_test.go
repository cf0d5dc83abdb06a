package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPasskeyLoginBeginSetsCeremonyCookie(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "", http.MethodPost, "/auth/passkey/login/begin", nil)
	expectStatus(t, w, http.StatusOK)

	var opts struct {
		PublicKey struct {
			Challenge string `json:"challenge"`
			RPID      string `json:"rpId"`
		} `json:"publicKey"`
	}
	decode(t, w, &opts)
	if opts.PublicKey.Challenge == "" || opts.PublicKey.RPID != "localhost" {
		t.Errorf("options = %+v", opts)
	}

	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == ceremonyCookie && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected ceremony cookie")
	}
	if n := len(env.srv.passkeys.ceremonies); n != 1 {
		t.Errorf("ceremonies = %d, want 1", n)
	}
}

func TestPasskeyFinishWithoutBegin(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "", http.MethodPost, "/auth/passkey/login/finish", "{}")
	expectStatus(t, w, http.StatusBadRequest)

	r := httptest.NewRequest(http.MethodPost, "/auth/passkey/login/finish", nil)
	r.AddCookie(&http.Cookie{Name: ceremonyCookie, Value: "inconnu"})
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, r)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestPasskeyRegistrationBelongsToCaller(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "alice", http.MethodPost, "/api/passkeys/register/begin", nil)
	expectStatus(t, w, http.StatusOK)

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == ceremonyCookie {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected ceremony cookie")
	}

	// Bruno cannot finish Alice's ceremony.
	r := httptest.NewRequest(http.MethodPost, "/api/passkeys/register/finish", nil)
	r.Header.Set("Authorization", "Bearer "+env.keys["bruno"])
	r.AddCookie(cookie)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, r)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestPasskeyListEmpty(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "alice", http.MethodGet, "/api/passkeys", nil)
	expectStatus(t, w, http.StatusOK)
	expectStatus(t, env.do(t, "alice", http.MethodDelete, "/api/passkeys/abc", nil), http.StatusNotFound)
}
