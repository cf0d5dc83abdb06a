package web

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
)

type ticketJSON struct {
	ID       int64  `json:"id"`
	Subject  string `json:"subject"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Comments []struct {
		Body      string `json:"body"`
		FromAdmin bool   `json:"from_admin"`
	} `json:"comments"`
}

func (e *testEnv) openTicket(t *testing.T, as, subject string) ticketJSON {
	t.Helper()
	w := e.do(t, as, http.MethodPost, "/api/tickets", map[string]string{
		"subject": subject, "description": "Détails", "category": "bug",
	})
	expectStatus(t, w, http.StatusCreated)
	var tk ticketJSON
	decode(t, w, &tk)
	return tk
}

func TestTicketLifecycle(t *testing.T) {
	env := newTestEnv(t)

	tk := env.openTicket(t, "alice", "Export vide")
	if tk.Status != "open" || tk.Priority != "normal" {
		t.Fatalf("ticket = %+v", tk)
	}
	path := fmt.Sprintf("/api/tickets/%d", tk.ID)

	expectStatus(t, env.do(t, "bruno", http.MethodGet, path, nil), http.StatusNotFound)

	w := env.do(t, "admin", http.MethodPost, path+"/comments", map[string]string{"body": "Corrigé en 1.2"})
	expectStatus(t, w, http.StatusCreated)

	msgs := env.mail.messages()
	if len(msgs) != 1 || msgs[0].To[0] != "alice@example.com" {
		t.Fatalf("notifications = %+v", msgs)
	}
	if !strings.Contains(msgs[0].Body, "Corrigé en 1.2") {
		t.Errorf("body = %s", msgs[0].Body)
	}

	w = env.do(t, "alice", http.MethodGet, path, nil)
	expectStatus(t, w, http.StatusOK)
	decode(t, w, &tk)
	if len(tk.Comments) != 1 || !tk.Comments[0].FromAdmin {
		t.Errorf("comments = %+v", tk.Comments)
	}

	expectStatus(t, env.do(t, "alice", http.MethodPost, path+"/status", map[string]string{"status": "resolved"}), http.StatusForbidden)
	expectStatus(t, env.do(t, "alice", http.MethodPost, path+"/status", map[string]string{"status": "closed"}), http.StatusOK)
	expectStatus(t, env.do(t, "alice", http.MethodPost, path+"/comments", map[string]string{"body": "Merci"}), http.StatusConflict)
}

func TestTicketAdminStatusAndList(t *testing.T) {
	env := newTestEnv(t)

	a := env.openTicket(t, "alice", "Un")
	env.openTicket(t, "bruno", "Deux")

	w := env.do(t, "admin", http.MethodPost, fmt.Sprintf("/api/tickets/%d/status", a.ID), map[string]string{"status": "in_progress"})
	expectStatus(t, w, http.StatusOK)
	expectStatus(t, env.do(t, "admin", http.MethodPost, fmt.Sprintf("/api/tickets/%d/status", a.ID), map[string]string{"status": "bogus"}), http.StatusBadRequest)

	var list []ticketJSON
	w = env.do(t, "alice", http.MethodGet, "/api/tickets", nil)
	expectStatus(t, w, http.StatusOK)
	decode(t, w, &list)
	if len(list) != 1 || list[0].Subject != "Un" {
		t.Errorf("alice tickets = %+v", list)
	}

	w = env.do(t, "admin", http.MethodGet, "/api/tickets?status=open", nil)
	decode(t, w, &list)
	if len(list) != 1 || list[0].Subject != "Deux" {
		t.Errorf("open tickets = %+v", list)
	}

	w = env.do(t, "admin", http.MethodPost, fmt.Sprintf("/api/tickets/%d/assign", a.ID), map[string]interface{}{"assignee_id": env.admin.ID})
	expectStatus(t, w, http.StatusOK)
}

func TestTicketValidation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "alice", http.MethodPost, "/api/tickets", map[string]string{"subject": " ", "category": "rant"})
	expectStatus(t, w, http.StatusUnprocessableEntity)
}
