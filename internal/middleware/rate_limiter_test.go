package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Baaaki/roomcast/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRateLimiter creates a rate limiter with miniredis for testing
func setupTestRateLimiter(t *testing.T, maxRequests int, window time.Duration) (*RateLimiter, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRateLimiter(client, RateLimiterConfig{MaxRequests: maxRequests, Window: window}), mr
}

func newLimitedRouter(rl *RateLimiter, before ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(before...)
	router.Use(rl.Middleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})
	return router
}

func requestFrom(router http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = ip + ":12345"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_AllowsRequestsUnderLimit(t *testing.T) {
	rl, _ := setupTestRateLimiter(t, 5, time.Minute)
	router := newLimitedRouter(rl)

	for i := 0; i < 5; i++ {
		w := requestFrom(router, "192.168.1.1")
		assert.Equal(t, http.StatusOK, w.Code, "Request %d should succeed", i+1)
	}
}

func TestRateLimiter_BlocksRequestsOverLimit(t *testing.T) {
	rl, _ := setupTestRateLimiter(t, 5, time.Minute)
	router := newLimitedRouter(rl)

	for i := 0; i < 5; i++ {
		requestFrom(router, "192.168.1.1")
	}

	w := requestFrom(router, "192.168.1.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "6th request should be rate limited")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimiter_DifferentIPsIndependent(t *testing.T) {
	rl, _ := setupTestRateLimiter(t, 3, time.Minute)
	router := newLimitedRouter(rl)

	for i := 0; i < 3; i++ {
		requestFrom(router, "192.168.1.1")
	}
	assert.Equal(t, http.StatusTooManyRequests, requestFrom(router, "192.168.1.1").Code)
	assert.Equal(t, http.StatusOK, requestFrom(router, "192.168.1.2").Code)
}

func TestRateLimiter_KeysAuthenticatedCallersByUser(t *testing.T) {
	rl, mr := setupTestRateLimiter(t, 2, time.Minute)
	router := newLimitedRouter(rl, func(c *gin.Context) {
		c.Set(identityKey, models.Identity{UserID: 42, Username: "alice"})
		c.Next()
	})

	// the same user from two addresses shares one budget
	assert.Equal(t, http.StatusOK, requestFrom(router, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, requestFrom(router, "10.0.0.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, requestFrom(router, "10.0.0.3").Code)

	assert.True(t, mr.Exists("ratelimit:user:42"))
	assert.False(t, mr.Exists("ratelimit:ip:10.0.0.1"))
}

func TestRateLimiter_CheckLimit(t *testing.T) {
	rl, _ := setupTestRateLimiter(t, 2, time.Minute)
	ctx := context.Background()

	allowed, _, err := rl.CheckLimit(ctx, "ip:1.1.1.1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = rl.CheckLimit(ctx, "ip:1.1.1.1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, retryAfter, err := rl.CheckLimit(ctx, "ip:1.1.1.1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestRateLimiter_BlockAndUnblock(t *testing.T) {
	rl, _ := setupTestRateLimiter(t, 100, time.Minute)
	router := newLimitedRouter(rl)
	ctx := context.Background()

	require.NoError(t, rl.Block(ctx, "ip:192.168.1.100"))
	assert.Equal(t, http.StatusForbidden, requestFrom(router, "192.168.1.100").Code)
	assert.Equal(t, http.StatusOK, requestFrom(router, "192.168.1.101").Code)

	require.NoError(t, rl.Unblock(ctx, "ip:192.168.1.100"))
	blocked, err := rl.IsBlocked(ctx, "ip:192.168.1.100")
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.Equal(t, http.StatusOK, requestFrom(router, "192.168.1.100").Code)
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	rl, mr := setupTestRateLimiter(t, 2, time.Minute)
	router := newLimitedRouter(rl)

	requestFrom(router, "192.168.1.1")
	requestFrom(router, "192.168.1.1")
	assert.Equal(t, http.StatusTooManyRequests, requestFrom(router, "192.168.1.1").Code)

	mr.FastForward(61 * time.Second)
	assert.Equal(t, http.StatusOK, requestFrom(router, "192.168.1.1").Code)
}

func TestRateLimiter_ConcurrentRequests(t *testing.T) {
	rl, _ := setupTestRateLimiter(t, 10, time.Minute)
	router := newLimitedRouter(rl)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		limited int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code := requestFrom(router, "192.168.1.1").Code
			mu.Lock()
			defer mu.Unlock()
			if code == http.StatusOK {
				success++
			} else if code == http.StatusTooManyRequests {
				limited++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, success)
	assert.Equal(t, 10, limited)
}

func TestRateLimiter_FailsOpenWhenRedisIsDown(t *testing.T) {
	rl, mr := setupTestRateLimiter(t, 1, time.Minute)
	router := newLimitedRouter(rl)
	mr.Close()

	assert.Equal(t, http.StatusOK, requestFrom(router, "192.168.1.1").Code)
	assert.Equal(t, http.StatusOK, requestFrom(router, "192.168.1.1").Code)
}

func BenchmarkRateLimiter_CheckLimit(b *testing.B) {
	mr := miniredis.RunT(b)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	rl := NewRateLimiter(client, RateLimiterConfig{MaxRequests: 1 << 30, Window: time.Minute})
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = rl.CheckLimit(ctx, "ip:192.168.1.1")
	}
}
