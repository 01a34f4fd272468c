package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/virtual-queue/internal/config"
	"github.com/iliyamo/virtual-queue/internal/middleware"
	"github.com/iliyamo/virtual-queue/internal/model"
	"github.com/iliyamo/virtual-queue/internal/utils"
)

const secret = "test-secret"

type userMap map[uint64]model.User

func (m userMap) GetByID(_ context.Context, id uint64) (model.User, error) {
	u, ok := m[id]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

func bearer(t *testing.T, id uint64, role model.Role) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, id, role, 5)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func do(e *echo.Echo, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuthChain(t *testing.T) {
	users := userMap{
		1: {ID: 1, Role: model.RoleOwner, IsActive: true},
		2: {ID: 2, Role: model.RoleCustomer, IsActive: true},
		3: {ID: 3, Role: model.RoleCustomer, IsActive: false},
		// token says customer, account was promoted since
		4: {ID: 4, Role: model.RoleOwner, IsActive: true},
	}
	e := echo.New()
	g := e.Group("", middleware.JWTAuth(secret), middleware.LoadUser(users))
	g.GET("/owner", func(c echo.Context) error {
		u, ok := middleware.CurrentUser(c)
		require.True(t, ok)
		return c.JSON(http.StatusOK, echo.Map{"id": u.ID})
	}, middleware.RequireRole(model.RoleOwner))

	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/owner", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/owner", "Bearer junk").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/owner", bearer(t, 1, model.RoleOwner)).Code)
	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, "/owner", bearer(t, 2, model.RoleCustomer)).Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/owner", bearer(t, 3, model.RoleCustomer)).Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/owner", bearer(t, 99, model.RoleOwner)).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/owner", bearer(t, 4, model.RoleCustomer)).Code)
}

func redisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestTokenBucket(t *testing.T) {
	_, rdb := redisClient(t)
	logger, _ := logtest.NewNullLogger()
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Hour,
		TTL: 5 * time.Hour, KeyStrategy: "ip_route", Prefix: "rl",
	}
	e := echo.New()
	e.POST("/join", func(c echo.Context) error { return c.NoContent(http.StatusCreated) }, middleware.NewTokenBucket(cfg, rdb, logger))

	first := do(e, http.MethodPost, "/join", "")
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/join", "").Code)

	blocked := do(e, http.MethodPost, "/join", "")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
}

func TestTokenBucketFailsOpen(t *testing.T) {
	mr, rdb := redisClient(t)
	logger, hook := logtest.NewNullLogger()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl"}
	e := echo.New()
	e.POST("/join", func(c echo.Context) error { return c.NoContent(http.StatusCreated) }, middleware.NewTokenBucket(cfg, rdb, logger))

	mr.Close()
	assert.Equal(t, http.StatusCreated, do(e, http.MethodPost, "/join", "").Code)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestRedisCache(t *testing.T) {
	mr, rdb := redisClient(t)
	logger, _ := logtest.NewNullLogger()
	cfg := config.CacheConfig{Enabled: true, Methods: []string{"GET"}, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 1 << 20}

	calls := 0
	e := echo.New()
	e.GET("/status/:id", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"id": c.Param("id"), "calls": calls})
	}, middleware.NewRedisCache(cfg, rdb, logger))

	miss := do(e, http.MethodGet, "/status/1", "")
	assert.Equal(t, "MISS", miss.Header().Get("X-Cache"))
	hit := do(e, http.MethodGet, "/status/1", "")
	assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))
	assert.Equal(t, miss.Body.String(), hit.Body.String())
	assert.Equal(t, echo.MIMEApplicationJSON, hit.Header().Get(echo.HeaderContentType))
	assert.Equal(t, 1, calls)

	assert.Equal(t, "MISS", do(e, http.MethodGet, "/status/2", "").Header().Get("X-Cache"), "keys include the path")

	mr.FastForward(2 * time.Minute)
	assert.Equal(t, "MISS", do(e, http.MethodGet, "/status/1", "").Header().Get("X-Cache"))
	assert.Equal(t, 3, calls)
}

func TestRequestLogger(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	e := echo.New()
	e.Use(middleware.RequestLogger(logger))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/boom", func(c echo.Context) error { return echo.NewHTTPError(http.StatusInternalServerError, "boom") })

	do(e, http.MethodGet, "/ok", "")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "/ok", hook.LastEntry().Data["route"])

	rec := do(e, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
