package web

import (
	"fmt"
	"net/http"
	"testing"
)

func TestCreateProfile(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "admin", http.MethodPost, "/api/profiles", map[string]string{
		"username": "chloe", "display_name": "Chloé Martin", "email": "chloe@example.com",
		"role": "sales", "password": "unmotdepasse",
	})
	expectStatus(t, w, http.StatusCreated)

	var p map[string]interface{}
	decode(t, w, &p)
	if p["display_name"] != "Chloé Martin" || p["role"] != "sales" {
		t.Errorf("profile = %v", p)
	}

	// Duplicate username.
	w = env.do(t, "admin", http.MethodPost, "/api/profiles", map[string]string{
		"username": "chloe", "role": "sales", "password": "unmotdepasse",
	})
	expectStatus(t, w, http.StatusConflict)
}

func TestCreateProfileValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "admin", http.MethodPost, "/api/profiles", map[string]string{
		"username": "x", "role": "boss", "password": "court",
	})
	expectStatus(t, w, http.StatusUnprocessableEntity)

	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	decode(t, w, &body)
	if len(body.Fields) < 3 {
		t.Errorf("fields = %v, want username, role and password errors", body.Fields)
	}
}

func TestAssignableProfiles(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "alice", http.MethodGet, "/api/profiles/assignable", nil)
	expectStatus(t, w, http.StatusOK)

	var profiles []struct {
		Username string `json:"username"`
	}
	decode(t, w, &profiles)
	if len(profiles) != 2 || profiles[0].Username != "alice" || profiles[1].Username != "bruno" {
		t.Errorf("assignable = %+v, want alice and bruno", profiles)
	}
}

func TestDeactivateProfileEndsAccess(t *testing.T) {
	env := newTestEnv(t)

	path := fmt.Sprintf("/api/profiles/%d", env.bruno.ID)
	w := env.do(t, "admin", http.MethodPatch, path, map[string]interface{}{"active": false, "display_name": "Bruno D."})
	expectStatus(t, w, http.StatusOK)

	var p map[string]interface{}
	decode(t, w, &p)
	if p["active"] != false || p["display_name"] != "Bruno D." {
		t.Errorf("profile = %v", p)
	}

	expectStatus(t, env.do(t, "bruno", http.MethodGet, "/api/me", nil), http.StatusUnauthorized)
}

func TestLastAdminCannotBeDemoted(t *testing.T) {
	env := newTestEnv(t)

	path := fmt.Sprintf("/api/profiles/%d", env.admin.ID)
	w := env.do(t, "admin", http.MethodPatch, path, map[string]interface{}{"role": "sales"})
	expectStatus(t, w, http.StatusConflict)
}

func TestUpdateUnknownProfile(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "admin", http.MethodPatch, "/api/profiles/9999", map[string]interface{}{"display_name": "x"})
	expectStatus(t, w, http.StatusNotFound)
}
