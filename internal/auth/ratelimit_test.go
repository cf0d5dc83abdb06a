package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestFailureLimiter(t *testing.T) {
	l := NewFailureLimiter(rate.Limit(0.001), 2)

	assert.False(t, l.Blocked("a"))
	l.Fail("a")
	assert.False(t, l.Blocked("a"))
	l.Fail("a")
	assert.True(t, l.Blocked("a"))
	assert.False(t, l.Blocked("b"))

	assert.Equal(t, 1, l.Prune(), "only the untouched bucket is full")
	assert.True(t, l.Blocked("a"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.10:4321"
	assert.Equal(t, "192.0.2.10", ClientIP(r))

	r.RemoteAddr = "garbage"
	assert.Equal(t, "garbage", ClientIP(r))
}
