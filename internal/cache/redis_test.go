package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedis(db, "crm:")
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		mock.ExpectGet("crm:k").SetVal("v")
		got, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet("crm:absent").RedisNil()
		got, ok, err := c.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, got)
	})

	t.Run("error", func(t *testing.T) {
		mock.ExpectGet("crm:k").SetErr(errors.New("connection refused"))
		_, _, err := c.Get(ctx, "k")
		assert.Error(t, err)
	})

	t.Run("set and delete", func(t *testing.T) {
		mock.ExpectSet("crm:k", []byte("v"), time.Hour).SetVal("OK")
		require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Hour))

		mock.ExpectDel("crm:k").SetVal(1)
		require.NoError(t, c.Delete(ctx, "k"))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstrument(t *testing.T) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_requests_total"}, []string{"cache", "result"})
	db, mock := redismock.NewClientMock()
	c := Instrument(NewRedis(db, ""), "geocode", requests)
	ctx := context.Background()

	mock.ExpectGet("a").SetVal("1")
	mock.ExpectGet("b").RedisNil()
	mock.ExpectGet("c").SetErr(errors.New("boom"))

	_, _, _ = c.Get(ctx, "a")
	_, _, _ = c.Get(ctx, "b")
	_, _, _ = c.Get(ctx, "c")

	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("geocode", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("geocode", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(requests.WithLabelValues("geocode", "error")))
	assert.NoError(t, mock.ExpectationsWereMet())
}
