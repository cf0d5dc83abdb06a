package history

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return sqlx.NewDb(raw, "sqlmock"), mock
}

func TestRecordWrapsExecError(t *testing.T) {
	d, mock := mockDB(t)
	boom := errors.New("disk full")

	mock.ExpectExec("INSERT INTO lead_history").
		WithArgs(int64(7), nil, "created", "{}", sqlmock.AnyArg()).
		WillReturnError(boom)

	err := Record(context.Background(), d, 7, nil, Created, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "recording created event")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEncodesPayload(t *testing.T) {
	d, mock := mockDB(t)
	actor := int64(3)

	mock.ExpectExec("INSERT INTO lead_history").
		WithArgs(int64(7), actor, "status_changed", `{"status":{"from":"new","to":"won"}}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := Record(context.Background(), d, 7, &actor, StatusChanged, map[string]Change{
		"status": {From: "new", To: "won"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRejectsUnknownTypeWithoutQuery(t *testing.T) {
	d, mock := mockDB(t)

	err := Record(context.Background(), d, 7, nil, EventType("renamed"), nil)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByLeadWrapsQueryError(t *testing.T) {
	d, mock := mockDB(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery("FROM lead_history").WithArgs(int64(9)).WillReturnError(boom)

	events, err := NewRepository(d).ListByLead(context.Background(), 9)
	assert.Nil(t, events)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "lead 9")
	assert.NoError(t, mock.ExpectationsWereMet())
}
