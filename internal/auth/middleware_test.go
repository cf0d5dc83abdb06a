package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/asd12288/meydacrm/internal/db/dbtest"
)

type authFixture struct {
	auth    *Authenticator
	sales   *Profile
	admin   *Profile
	rawKey  string
	session *http.Cookie
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	d := dbtest.Open(t)
	ctx := context.Background()

	profiles := NewProfileStore(d)
	a := &Authenticator{
		Sessions: NewSessionStore(d, false),
		APIKeys:  NewAPIKeyStore(d),
		Profiles: profiles,
		Limiter:  NewFailureLimiter(rate.Limit(0.001), 3),
	}

	admin := mustCreate(t, profiles, "admin", RoleAdmin)
	sales := mustCreate(t, profiles, "camille", RoleSales)

	raw, _, err := a.APIKeys.Create(ctx, sales.ID, "cli")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, a.Sessions.Create(ctx, w, admin.ID))

	return &authFixture{auth: a, sales: sales, admin: admin, rawKey: raw, session: findCookie(w, cookieName)}
}

func principalEcho(t *testing.T, got *Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			t.Error("principal missing from context")
		}
		*got = p
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireResolvesCaller(t *testing.T) {
	f := newAuthFixture(t)

	tests := []struct {
		name    string
		prepare func(r *http.Request)
		want    int64
		role    Role
	}{
		{
			name:    "bearer api key",
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+f.rawKey) },
			want:    f.sales.ID,
			role:    RoleSales,
		},
		{
			name:    "session cookie",
			prepare: func(r *http.Request) { r.AddCookie(f.session) },
			want:    f.admin.ID,
			role:    RoleAdmin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Principal
			h := f.auth.Require(principalEcho(t, &got))

			r := httptest.NewRequest("GET", "/api/me", nil)
			tt.prepare(r)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, got.ProfileID)
			assert.Equal(t, tt.role, got.Role)
		})
	}
}

func TestRequireRejectsUnauthenticated(t *testing.T) {
	f := newAuthFixture(t)
	h := f.auth.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))

	for _, header := range []string{"", "Bearer crm_nope", "Basic abc"} {
		r := httptest.NewRequest("GET", "/api/leads", nil)
		r.RemoteAddr = "192.0.2.1:1234"
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "Authentification requise")
	}
}

func TestRequireThrottlesFailures(t *testing.T) {
	f := newAuthFixture(t)
	var got Principal
	h := f.auth.Require(principalEcho(t, &got))

	bad := func(ip string) int {
		r := httptest.NewRequest("GET", "/api/leads", nil)
		r.RemoteAddr = ip + ":5555"
		r.Header.Set("Authorization", "Bearer crm_wrong")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusUnauthorized, bad("198.51.100.7"))
	}
	assert.Equal(t, http.StatusTooManyRequests, bad("198.51.100.7"))

	// Even a valid key is refused while throttled.
	r := httptest.NewRequest("GET", "/api/leads", nil)
	r.RemoteAddr = "198.51.100.7:5555"
	r.Header.Set("Authorization", "Bearer "+f.rawKey)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	assert.Equal(t, http.StatusUnauthorized, bad("203.0.113.9"), "other IPs are unaffected")
}

func TestRequireRejectsDeactivatedProfile(t *testing.T) {
	f := newAuthFixture(t)
	require.NoError(t, f.auth.Profiles.SetActive(context.Background(), f.sales.ID, false))

	h := f.auth.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))
	r := httptest.NewRequest("GET", "/api/leads", nil)
	r.Header.Set("Authorization", "Bearer "+f.rawKey)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RequireAdmin(ok)

	tests := []struct {
		name string
		ctx  func(context.Context) context.Context
		want int
	}{
		{"no principal", func(c context.Context) context.Context { return c }, http.StatusUnauthorized},
		{"sales", func(c context.Context) context.Context {
			return WithPrincipal(c, Principal{ProfileID: 2, Role: RoleSales})
		}, http.StatusForbidden},
		{"admin", func(c context.Context) context.Context {
			return WithPrincipal(c, Principal{ProfileID: 1, Role: RoleAdmin})
		}, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/profiles", nil)
			r = r.WithContext(tt.ctx(r.Context()))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestPrincipalHelpers(t *testing.T) {
	p := Principal{Username: "camille", Role: RoleSales}
	assert.Equal(t, "camille", p.Name())
	assert.False(t, p.IsAdmin())
	assert.Equal(t, "Commercial", p.Role.Label())
	assert.True(t, RoleAdmin.Valid())
	assert.False(t, Role("boss").Valid())

	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)
}
