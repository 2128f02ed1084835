package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/service-booking-engine/internal/config"
	"github.com/iliyamo/service-booking-engine/internal/middleware"
	"github.com/iliyamo/service-booking-engine/internal/utils"
)

const secret = "test-secret"

func whoami(c echo.Context) error {
	return c.String(http.StatusOK, middleware.UserID(c))
}

func serve(e *echo.Echo, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func mint(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, sub, role, time.Hour)
	require.NoError(t, err)
	return tok.Token
}

func TestJWTAuthAndRole(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, middleware.JWTAuth(secret), middleware.RequireRole(middleware.RoleCustomer))

	rec := serve(e, http.MethodGet, "/me", mint(t, "user-42", middleware.RoleCustomer))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-42", rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/me", "garbage").Code)
	assert.Equal(t, http.StatusForbidden, serve(e, http.MethodGet, "/me", mint(t, "p-1", middleware.RoleProvider)).Code)

	other, err := utils.NewAccessToken("other-secret", "user-42", middleware.RoleCustomer, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/me", other.Token).Code)

	expired, err := utils.NewAccessToken(secret, "user-42", middleware.RoleCustomer, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/me", expired.Token).Code)
}

func TestJWTAuth_NumericSubject(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, middleware.JWTAuth(secret))

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": 7, "role": middleware.RoleCustomer, "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	rec := serve(e, http.MethodGet, "/me", raw)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "7", rec.Body.String())
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestTokenBucket_BlocksAfterCapacity(t *testing.T) {
	rdb, _ := newRedis(t)
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Hour,
		TTL: time.Hour, KeyStrategy: "ip", Prefix: "rl",
	}
	e := echo.New()
	e.GET("/x", whoami, middleware.NewTokenBucket(cfg, rdb, zap.NewNop()))

	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/x", "").Code)
	rec := serve(e, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(e, http.MethodGet, "/x", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestTokenBucket_FailsOpenWithoutRedis(t *testing.T) {
	e := echo.New()
	e.GET("/x", whoami, middleware.NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil, nil))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/x", "").Code)
	}
}

func TestRedisCache_HitMissAndInvalidate(t *testing.T) {
	rdb, _ := newRedis(t)
	cfg := config.CacheConfig{
		Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "avail", MaxBodyBytes: 1 << 20,
	}
	calls := 0
	e := echo.New()
	e.GET("/v1/services/:id/availability", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"service": c.Param("id"), "calls": calls})
	}, middleware.NewRedisCache(cfg, rdb, zap.NewNop()))

	first := serve(e, http.MethodGet, "/v1/services/a/availability?from=2025-06-01", "")
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := serve(e, http.MethodGet, "/v1/services/a/availability?from=2025-06-01", "")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	// Another service never shares the entry.
	other := serve(e, http.MethodGet, "/v1/services/b/availability?from=2025-06-01", "")
	assert.Equal(t, "MISS", other.Header().Get("X-Cache"))

	inv := middleware.NewCacheInvalidator(cfg, rdb)
	require.NoError(t, inv.Invalidate(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "/v1/services/a/availability"))
	again := serve(e, http.MethodGet, "/v1/services/a/availability?from=2025-06-01", "")
	assert.Equal(t, "MISS", again.Header().Get("X-Cache"))
	assert.Equal(t, 3, calls)

	var nilInv *middleware.CacheInvalidator
	assert.NoError(t, nilInv.Invalidate(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "/any"))
}

func TestRequestLogger_PassesThrough(t *testing.T) {
	e := echo.New()
	e.Use(middleware.RequestLogger(zap.NewNop()))
	e.GET("/x", func(c echo.Context) error { return echo.NewHTTPError(http.StatusTeapot, "nope") })
	assert.Equal(t, http.StatusTeapot, serve(e, http.MethodGet, "/x", "").Code)
}
