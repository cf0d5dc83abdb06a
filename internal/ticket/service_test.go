package ticket

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/db/dbtest"
	"github.com/asd12288/meydacrm/internal/email"
	"github.com/asd12288/meydacrm/internal/realtime"
	"github.com/asd12288/meydacrm/internal/validation"
)

type outbox struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (o *outbox) Send(_ context.Context, msg email.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return o.err
}

type events struct {
	mu  sync.Mutex
	all []realtime.Event
}

func (e *events) Publish(ev realtime.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, ev)
}

type fixture struct {
	svc    *Service
	mail   *outbox
	events *events
	admin  auth.Principal
	alice  auth.Principal
	bruno  auth.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := dbtest.Open(t)
	f := &fixture{mail: &outbox{}, events: &events{}}
	f.svc = NewService(d, WithMailer(f.mail, "https://crm.example.fr/"), WithPublisher(f.events))
	f.admin = auth.Principal{ProfileID: dbtest.Profile(t, d, "admin", "admin"), Username: "admin", Role: auth.RoleAdmin}
	f.alice = auth.Principal{ProfileID: dbtest.Profile(t, d, "alice", "sales"), Username: "alice", Role: auth.RoleSales}
	f.bruno = auth.Principal{ProfileID: dbtest.Profile(t, d, "bruno", "sales"), Username: "bruno", Role: auth.RoleSales}
	d.MustExec(d.Rebind("UPDATE profiles SET email = ? WHERE id = ?"), "alice@example.fr", f.alice.ProfileID)
	return f
}

func (f *fixture) open(t *testing.T, subject string, by auth.Principal) *Ticket {
	t.Helper()
	tk, err := f.svc.Create(context.Background(), Input{Subject: subject, Category: CategoryBug}, by)
	require.NoError(t, err)
	return tk
}

func TestCreate(t *testing.T) {
	f := newFixture(t)

	tk, err := f.svc.Create(context.Background(), Input{Subject: "  Export vide ", Description: "Le CSV est vide", Category: CategoryBug}, f.alice)
	require.NoError(t, err)
	assert.Equal(t, "Export vide", tk.Subject)
	assert.Equal(t, StatusOpen, tk.Status)
	assert.Equal(t, PriorityNormal, tk.Priority)
	assert.Equal(t, f.alice.ProfileID, tk.CreatedBy)
	assert.Equal(t, "alice", tk.CreatorName)
	assert.Nil(t, tk.ClosedAt)

	require.Len(t, f.events.all, 1)
	assert.Equal(t, realtime.TicketUpdated, f.events.all[0].Type)
	assert.Equal(t, []int64{f.alice.ProfileID}, f.events.all[0].ProfileIDs)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), Input{Category: "urgent", Priority: "asap"}, f.alice)
	var verrs validation.Errors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs, "subject")
	assert.Contains(t, verrs, "category")
	assert.Contains(t, verrs, "priority")
}

func TestVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.open(t, "Le mien", f.alice)
	f.open(t, "Celui de Bruno", f.bruno)

	_, err := f.svc.Get(ctx, mine.ID, f.bruno)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.svc.Get(ctx, mine.ID, f.admin)
	require.NoError(t, err)
	assert.Empty(t, got.Comments)

	list, err := f.svc.List(ctx, Filter{}, f.alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	list, err = f.svc.List(ctx, Filter{}, f.admin)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = f.svc.List(ctx, Filter{Category: CategoryBilling}, f.admin)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.svc.List(ctx, Filter{Status: "archived"}, f.admin)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestThreadAndNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.open(t, "Export vide", f.alice)

	_, err := f.svc.AddComment(ctx, tk.ID, "Toujours vide ce matin", f.alice)
	require.NoError(t, err)
	assert.Empty(t, f.mail.sent, "no mail for the creator's own comment")

	reply, err := f.svc.AddComment(ctx, tk.ID, "Corrigé, merci", f.admin)
	require.NoError(t, err)
	assert.True(t, reply.FromAdmin)

	require.Len(t, f.mail.sent, 1)
	msg := f.mail.sent[0]
	assert.Equal(t, []string{"alice@example.fr"}, msg.To)
	assert.Contains(t, msg.Body, "Corrigé, merci")
	assert.Contains(t, msg.Body, "https://crm.example.fr/tickets/")

	got, err := f.svc.Get(ctx, tk.ID, f.alice)
	require.NoError(t, err)
	require.Len(t, got.Comments, 2)
	assert.Equal(t, "Toujours vide ce matin", got.Comments[0].Body)
	assert.False(t, got.Comments[0].FromAdmin)

	_, err = f.svc.AddComment(ctx, tk.ID, "Intrus", f.bruno)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.AddComment(ctx, tk.ID, " ", f.alice)
	var verrs validation.Errors
	assert.True(t, errors.As(err, &verrs))
}

func TestMailFailureDoesNotFailComment(t *testing.T) {
	f := newFixture(t)
	f.mail.err = errors.New("smtp down")
	tk := f.open(t, "Export vide", f.alice)

	_, err := f.svc.AddComment(context.Background(), tk.ID, "Réponse", f.admin)
	assert.NoError(t, err)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.open(t, "Export vide", f.alice)

	_, err := f.svc.UpdateStatus(ctx, tk.ID, StatusResolved, f.alice)
	assert.ErrorIs(t, err, ErrForbidden, "creators may only close")

	got, err := f.svc.UpdateStatus(ctx, tk.ID, StatusInProgress, f.admin)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	require.Len(t, f.mail.sent, 1)
	assert.Contains(t, f.mail.sent[0].Body, "Nouveau statut : En cours")

	got, err = f.svc.UpdateStatus(ctx, tk.ID, StatusClosed, f.alice)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, got.Status)
	assert.NotNil(t, got.ClosedAt)
	assert.Len(t, f.mail.sent, 1, "closing your own ticket sends nothing")

	_, err = f.svc.AddComment(ctx, tk.ID, "Encore une question", f.alice)
	assert.ErrorIs(t, err, ErrClosed)

	got, err = f.svc.UpdateStatus(ctx, tk.ID, StatusOpen, f.admin)
	require.NoError(t, err)
	assert.Nil(t, got.ClosedAt, "reopening clears closed_at")

	_, err = f.svc.UpdateStatus(ctx, tk.ID, StatusClosed, f.bruno)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.UpdateStatus(ctx, tk.ID, "archived", f.admin)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.open(t, "Export vide", f.alice)

	got, err := f.svc.Assign(ctx, tk.ID, &f.admin.ProfileID, f.admin)
	require.NoError(t, err)
	require.NotNil(t, got.AssignedTo)
	assert.Equal(t, f.admin.ProfileID, *got.AssignedTo)

	_, err = f.svc.Assign(ctx, tk.ID, nil, f.alice)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Assign(ctx, 9999, nil, f.admin)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "Résolu", StatusResolved.Label())
	assert.Equal(t, "Facturation", CategoryBilling.Label())
	assert.Equal(t, "mystery", Category("mystery").Label())
}

func TestCommentInsertRechecksClosedInTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.open(t, "Accès refusé", f.alice)

	// Closed after AddComment would have read the ticket.
	_, err := f.svc.UpdateStatus(ctx, tk.ID, StatusClosed, f.admin)
	require.NoError(t, err)

	_, err = f.svc.insertComment(ctx, tk.ID, f.alice.ProfileID, "encore là ?")
	assert.ErrorIs(t, err, ErrClosed)

	var n int
	require.NoError(t, f.svc.db.GetContext(ctx, &n, f.svc.db.Rebind("SELECT COUNT(*) FROM ticket_comments WHERE ticket_id = ?"), tk.ID))
	assert.Zero(t, n)
}
