package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asd12288/meydacrm/internal/db/dbtest"
)

func insertLead(t *testing.T, r *Repository, first, last string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, r.db.QueryRowx(r.db.Rebind(
		"INSERT INTO leads (first_name, last_name) VALUES (?, ?) RETURNING id"), first, last).Scan(&id))
	return id
}

func TestRecordAndListByLead(t *testing.T) {
	d := dbtest.Open(t)
	r := NewRepository(d)
	ctx := context.Background()
	actor := dbtest.Profile(t, d, "camille", "sales")
	leadID := insertLead(t, r, "Jeanne", "Durand")

	require.NoError(t, Record(ctx, d, leadID, &actor, Created, nil))
	require.NoError(t, Record(ctx, d, leadID, &actor, StatusChanged, map[string]Change{
		"status": {From: "new", To: "contacted"},
	}))
	require.NoError(t, Record(ctx, d, leadID, nil, Assigned, map[string]int64{"assigned_to": actor}))

	events, err := r.ListByLead(ctx, leadID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, Created, events[0].Type)
	assert.Equal(t, "camille", events[0].ActorName)
	assert.Equal(t, "Jeanne Durand", events[0].LeadName)
	assert.JSONEq(t, `{}`, string(events[0].Payload))

	var diff map[string]Change
	require.NoError(t, events[1].Payload.Decode(&diff))
	assert.Equal(t, "contacted", diff["status"].To)

	assert.Nil(t, events[2].ActorID, "system events have no actor")
	assert.Equal(t, "", events[2].ActorName)
}

func TestRecordRejectsUnknownType(t *testing.T) {
	d := dbtest.Open(t)
	r := NewRepository(d)
	leadID := insertLead(t, r, "Jeanne", "Durand")

	err := Record(context.Background(), d, leadID, nil, EventType("teleported"), nil)
	assert.Error(t, err)
}

func TestRecordRollsBackWithTransaction(t *testing.T) {
	d := dbtest.Open(t)
	r := NewRepository(d)
	ctx := context.Background()
	leadID := insertLead(t, r, "Jeanne", "Durand")

	tx, err := d.BeginTxx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, Record(ctx, tx, leadID, nil, Updated, nil))
	require.NoError(t, tx.Rollback())

	events, err := r.ListByLead(ctx, leadID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestListRecent(t *testing.T) {
	d := dbtest.Open(t)
	r := NewRepository(d)
	ctx := context.Background()
	a := insertLead(t, r, "Jeanne", "Durand")
	b := insertLead(t, r, "Marc", "Petit")

	require.NoError(t, Record(ctx, d, a, nil, Created, nil))
	require.NoError(t, Record(ctx, d, b, nil, Created, nil))
	require.NoError(t, Record(ctx, d, a, nil, Deleted, nil))

	events, err := r.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, Deleted, events[0].Type)
	assert.Equal(t, b, events[1].LeadID)

	all, err := r.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3, "non-positive limit falls back to the default")
}

func TestEventTypeLabel(t *testing.T) {
	assert.Equal(t, "Changement de statut", StatusChanged.Label())
	assert.Equal(t, "mystery", EventType("mystery").Label())
	assert.False(t, EventType("mystery").IsValid())
}

func TestPayloadMarshal(t *testing.T) {
	var empty Payload
	b, err := empty.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	var p Payload
	require.NoError(t, p.Scan([]byte(`{"a":1}`)))
	assert.Equal(t, `{"a":1}`, string(p))
	assert.Error(t, p.Scan(42))
}
