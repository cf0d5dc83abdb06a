package comment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/db/dbtest"
	"github.com/asd12288/meydacrm/internal/history"
	"github.com/asd12288/meydacrm/internal/lead"
	"github.com/asd12288/meydacrm/internal/validation"
)

type setup struct {
	repo   *Repository
	hist   *history.Repository
	leadID int64
	admin  auth.Principal
	alice  auth.Principal
	bruno  auth.Principal
}

func testSetup(t *testing.T) setup {
	t.Helper()
	d := dbtest.Open(t)
	leads := lead.NewService(d)
	s := setup{
		repo:  NewRepository(d, leads),
		hist:  history.NewRepository(d),
		admin: auth.Principal{ProfileID: dbtest.Profile(t, d, "admin", "admin"), Role: auth.RoleAdmin},
		alice: auth.Principal{ProfileID: dbtest.Profile(t, d, "alice", "sales"), Role: auth.RoleSales},
		bruno: auth.Principal{ProfileID: dbtest.Profile(t, d, "bruno", "sales"), Role: auth.RoleSales},
	}

	l, err := leads.Create(context.Background(), lead.Input{LastName: "Durand"}, s.alice)
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	s.leadID = l.ID
	return s
}

func TestAddAndListByLead(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()

	c, err := s.repo.Add(ctx, s.leadID, "  Rappeler mardi  ", s.alice)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if c.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if c.Body != "Rappeler mardi" {
		t.Errorf("body = %q, want %q", c.Body, "Rappeler mardi")
	}
	if c.AuthorName != "alice" {
		t.Errorf("author = %q, want %q", c.AuthorName, "alice")
	}

	comments, err := s.repo.ListByLead(ctx, s.leadID, s.admin)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(comments) != 1 {
		t.Fatalf("got %d comments, want 1", len(comments))
	}

	events, err := s.hist.ListByLead(ctx, s.leadID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if last := events[len(events)-1]; last.Type != history.CommentAdded {
		t.Errorf("last event = %s, want %s", last.Type, history.CommentAdded)
	}
}

func TestAddEmptyBody(t *testing.T) {
	s := testSetup(t)

	_, err := s.repo.Add(context.Background(), s.leadID, "   ", s.alice)
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("got %v, want validation errors", err)
	}
	if _, ok := verrs["body"]; !ok {
		t.Errorf("errors = %v, want body", verrs)
	}
}

func TestInvisibleLead(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()

	if _, err := s.repo.Add(ctx, s.leadID, "Bonjour", s.bruno); !errors.Is(err, lead.ErrNotFound) {
		t.Errorf("add on someone else's lead: got %v, want lead.ErrNotFound", err)
	}
	if _, err := s.repo.ListByLead(ctx, s.leadID, s.bruno); !errors.Is(err, lead.ErrNotFound) {
		t.Errorf("list on someone else's lead: got %v, want lead.ErrNotFound", err)
	}
	if _, err := s.repo.ListByLead(ctx, 9999, s.admin); !errors.Is(err, lead.ErrNotFound) {
		t.Errorf("list on missing lead: got %v, want lead.ErrNotFound", err)
	}
}

func TestListOrderNewestFirst(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()

	for _, body := range []string{"first", "second", "third"} {
		if _, err := s.repo.Add(ctx, s.leadID, body, s.alice); err != nil {
			t.Fatalf("add %q: %v", body, err)
		}
	}

	comments, err := s.repo.ListByLead(ctx, s.leadID, s.alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(comments) != 3 {
		t.Fatalf("got %d comments, want 3", len(comments))
	}
	if comments[0].Body != "third" {
		t.Errorf("first comment = %q, want %q", comments[0].Body, "third")
	}
	if comments[2].Body != "first" {
		t.Errorf("last comment = %q, want %q", comments[2].Body, "first")
	}
}

func TestUpdateAuthorOrAdmin(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()

	c, err := s.repo.Add(ctx, s.leadID, "Brouillon", s.alice)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := s.repo.Update(ctx, c.ID, "Version finale", s.alice)
	if err != nil {
		t.Fatalf("update by author: %v", err)
	}
	if got.Body != "Version finale" {
		t.Errorf("body = %q, want %q", got.Body, "Version finale")
	}

	if _, err := s.repo.Update(ctx, c.ID, "Corrigé", s.admin); err != nil {
		t.Errorf("update by admin: %v", err)
	}

	if _, err := s.repo.Update(ctx, c.ID, "Piraté", s.bruno); !errors.Is(err, ErrNotFound) {
		t.Errorf("update by other sales: got %v, want ErrNotFound", err)
	}
	if _, err := s.repo.Update(ctx, 9999, "Rien", s.admin); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing: got %v, want ErrNotFound", err)
	}
}

func TestAdminCommentIsReadOnlyForSales(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()

	c, err := s.repo.Add(ctx, s.leadID, "Note de l'admin", s.admin)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.repo.Delete(ctx, c.ID, s.alice); !errors.Is(err, ErrForbidden) {
		t.Errorf("delete by non-author: got %v, want ErrForbidden", err)
	}
}

func TestDelete(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()

	c, err := s.repo.Add(ctx, s.leadID, "A supprimer", s.alice)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.repo.Delete(ctx, c.ID, s.alice); err != nil {
		t.Fatalf("delete: %v", err)
	}

	comments, err := s.repo.ListByLead(ctx, s.leadID, s.alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(comments) != 0 {
		t.Errorf("got %d comments after delete, want 0", len(comments))
	}

	if err := s.repo.Delete(ctx, c.ID, s.alice); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestEdited(t *testing.T) {
	now := time.Now()
	c := Comment{CreatedAt: now, UpdatedAt: now}
	if c.Edited() {
		t.Error("fresh comment reported as edited")
	}
	c.UpdatedAt = now.Add(time.Minute)
	if !c.Edited() {
		t.Error("updated comment not reported as edited")
	}
}
