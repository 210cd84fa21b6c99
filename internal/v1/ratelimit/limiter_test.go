package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(ip string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/ws", nil)
	c.Request.RemoteAddr = ip + ":12345"
	return c, w
}

func TestNew_InvalidRates(t *testing.T) {
	_, err := New("not-a-rate", "120-M", nil)
	assert.Error(t, err)

	_, err = New("30-M", "garbage", nil)
	assert.Error(t, err)
}

func TestAllowConnection_UnderLimit(t *testing.T) {
	l, err := New("5-M", "120-M", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c, w := newTestContext("10.0.0.1")
		assert.True(t, l.AllowConnection(c), "connection %d should be allowed", i)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestAllowConnection_OverLimit(t *testing.T) {
	l, err := New("2-M", "120-M", nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		c, _ := newTestContext("10.0.0.2")
		require.True(t, l.AllowConnection(c))
	}

	c, w := newTestContext("10.0.0.2")
	assert.False(t, l.AllowConnection(c))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestAllowConnection_PerIP(t *testing.T) {
	l, err := New("1-M", "120-M", nil)
	require.NoError(t, err)

	c, _ := newTestContext("10.0.0.3")
	require.True(t, l.AllowConnection(c))

	// One IP exhausting its budget does not affect another.
	c2, _ := newTestContext("10.0.0.4")
	assert.True(t, l.AllowConnection(c2))
}

func TestAllowMessage(t *testing.T) {
	l, err := New("30-M", "3-M", nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowMessage(ctx, "user-1"), "message %d should be allowed", i)
	}
	assert.False(t, l.AllowMessage(ctx, "user-1"))

	// Independent budget per user.
	assert.True(t, l.AllowMessage(ctx, "user-2"))
}

func TestAllowMessage_ManyUsers(t *testing.T) {
	l, err := New("30-M", "1-M", nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		user := fmt.Sprintf("user-%d", i)
		assert.True(t, l.AllowMessage(ctx, user))
		assert.False(t, l.AllowMessage(ctx, user))
	}
}
