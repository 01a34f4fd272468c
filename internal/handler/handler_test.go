package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/virtual-queue/internal/config"
	"github.com/iliyamo/virtual-queue/internal/dashboard"
	"github.com/iliyamo/virtual-queue/internal/engine"
	"github.com/iliyamo/virtual-queue/internal/handler"
	"github.com/iliyamo/virtual-queue/internal/middleware"
	"github.com/iliyamo/virtual-queue/internal/qr"
	"github.com/iliyamo/virtual-queue/internal/repository/memory"
)

const secret = "handler-secret"

type server struct {
	e  *echo.Echo
	db *memory.DB
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := memory.New()
	logger, _ := logtest.NewNullLogger()
	tokens := qr.NewMemoryStore(time.Hour)
	eng := engine.New(db.Queues(), engine.WithLogger(logger), engine.WithResolver(tokens))
	cfg := config.AppConfig{JWTSecret: secret, AccessTTLMin: 5, RefreshTTLDays: 1, BcryptCost: bcrypt.MinCost}

	auth := handler.NewAuthHandler(cfg, db.Users(), db.Tokens())
	ests := handler.NewEstablishmentHandler(db.Establishments(), db.Users())
	queues := handler.NewQueueHandler(db.Queues(), db.Establishments(), eng, tokens)
	dash := handler.NewDashboardHandler(dashboard.New(db.Queues(), dashboard.Config{}))

	e := echo.New()
	e.POST("/auth/register", auth.Register)
	e.POST("/auth/login", auth.Login)
	e.POST("/auth/refresh", auth.Refresh)
	e.POST("/auth/refresh-access", auth.RefreshAccess)
	e.POST("/auth/logout", auth.Logout)
	e.GET("/public/queues/:id", queues.Status)

	g := e.Group("", middleware.JWTAuth(secret), middleware.LoadUser(db.Users()))
	g.GET("/me", auth.Me)
	g.POST("/establishments", ests.Create)
	g.GET("/establishments", ests.ListMine)
	g.POST("/establishments/:id/employees", ests.AssignEmployee)
	g.DELETE("/establishments/:id/employees/:userID", ests.UnassignEmployee)
	g.POST("/queues", queues.Create)
	g.GET("/queues/mine", queues.ListMine)
	g.GET("/queues/available", queues.ListAvailable)
	g.PUT("/queues/:id", queues.Update)
	g.DELETE("/queues/:id", queues.Delete)
	g.GET("/queues/:id/stats", queues.Stats)
	g.POST("/queues/:id/qr", queues.IssueQR)
	g.POST("/queues/:id/call-next", queues.CallNext)
	g.POST("/queues/:id/renumber", queues.Renumber)
	g.POST("/queues/:id/join", queues.Join)
	g.POST("/queues/join-by-qr", queues.JoinByQR)
	g.DELETE("/entries/:id", queues.Leave)
	g.GET("/dashboard", dash.Dashboard)
	g.GET("/me/positions", dash.Positions)
	g.GET("/me/history", dash.History)
	return &server{e: e, db: db}
}

func (s *server) call(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type session struct {
	User struct {
		ID   uint64 `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
	Access struct {
		Token string `json:"token"`
	} `json:"access"`
	Refresh struct {
		Token string `json:"token"`
	} `json:"refresh"`
}

func (s *server) register(t *testing.T, name, role string) session {
	t.Helper()
	rec := s.call(t, http.MethodPost, "/auth/register", "", echo.Map{
		"name": name, "email": name + "@example.com", "password": "pw-" + name, "role": role,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[session](t, rec)
}

type entry struct {
	ID       uint64 `json:"id"`
	Position int    `json:"position"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

type waiting struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Normal int `json:"normal"`
}

func TestAuthFlow(t *testing.T) {
	s := newServer(t)
	alice := s.register(t, "alice", "")
	assert.Equal(t, "CUSTOMER", alice.User.Role)

	rec := s.call(t, http.MethodPost, "/auth/register", "", echo.Map{"name": "x", "email": "ALICE@example.com", "password": "pw"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.call(t, http.MethodPost, "/auth/register", "", echo.Map{"name": "x", "email": "x@example.com", "password": "pw", "role": "EMPLOYEE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.call(t, http.MethodPost, "/auth/register", "", echo.Map{"email": "y@example.com", "password": "pw"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "name is required")

	rec = s.call(t, http.MethodPost, "/auth/login", "", echo.Map{"email": "alice@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.call(t, http.MethodPost, "/auth/login", "", echo.Map{"email": "nobody@example.com", "password": "pw"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.call(t, http.MethodPost, "/auth/login", "", echo.Map{"email": " Alice@Example.com", "password": "pw-alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	login := decode[session](t, rec)

	rec = s.call(t, http.MethodGet, "/me", login.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]any](t, rec)
	assert.Equal(t, "alice", me["name"])

	// refresh-access keeps the refresh token usable
	for i := 0; i < 2; i++ {
		rec = s.call(t, http.MethodPost, "/auth/refresh-access", "", echo.Map{"refresh_token": login.Refresh.Token})
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec = s.call(t, http.MethodPost, "/auth/refresh", "", echo.Map{"refresh_token": login.Refresh.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decode[session](t, rec)
	rec = s.call(t, http.MethodPost, "/auth/refresh", "", echo.Map{"refresh_token": login.Refresh.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "rotated token is revoked")
	rec = s.call(t, http.MethodPost, "/auth/refresh", "", echo.Map{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.call(t, http.MethodPost, "/auth/logout", "", echo.Map{"refresh_token": rotated.Refresh.Token})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.call(t, http.MethodPost, "/auth/refresh-access", "", echo.Map{"refresh_token": rotated.Refresh.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.call(t, http.MethodPost, "/auth/logout", alice.Access.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.call(t, http.MethodPost, "/auth/refresh", "", echo.Map{"refresh_token": alice.Refresh.Token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "bearer logout revokes every session")

	rec = s.call(t, http.MethodPost, "/auth/logout", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// shop is an owner with one establishment and one queue.
type shop struct {
	owner   session
	estID   uint64
	queueID uint64
}

func (s *server) openShop(t *testing.T, name string) shop {
	t.Helper()
	owner := s.register(t, name, "owner")
	rec := s.call(t, http.MethodPost, "/establishments", owner.Access.Token, echo.Map{"name": name + " shop", "city": "Porto"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	est := decode[struct {
		ID uint64 `json:"id"`
	}](t, rec)

	rec = s.call(t, http.MethodPost, "/queues", owner.Access.Token, echo.Map{"establishment_id": est.ID, "name": "Counter"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	q := decode[struct {
		ID uint64 `json:"id"`
	}](t, rec)
	return shop{owner: owner, estID: est.ID, queueID: q.ID}
}

func TestQueueFlow(t *testing.T) {
	s := newServer(t)
	sh := s.openShop(t, "olga")
	a := s.register(t, "anna", "")
	b := s.register(t, "bruno", "")
	staff := s.register(t, "sam", "")
	q := fmt.Sprintf("/queues/%d", sh.queueID)

	rec := s.call(t, http.MethodPost, fmt.Sprintf("/establishments/%d/employees", sh.estID), sh.owner.Access.Token, echo.Map{"email": "sam@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.call(t, http.MethodPost, fmt.Sprintf("/establishments/%d/employees", sh.estID), a.Access.Token, echo.Map{"email": "bruno@example.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.call(t, http.MethodPost, q+"/join", a.Access.Token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ea := decode[entry](t, rec)
	assert.Equal(t, 1, ea.Position)
	assert.Equal(t, "normal", ea.Priority)

	rec = s.call(t, http.MethodPost, q+"/join", b.Access.Token, echo.Map{"priority": "high"})
	require.Equal(t, http.StatusCreated, rec.Code)
	eb := decode[entry](t, rec)
	assert.Equal(t, 1, eb.Position)

	assert.Equal(t, http.StatusConflict, s.call(t, http.MethodPost, q+"/join", a.Access.Token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.call(t, http.MethodPost, q+"/join", a.Access.Token, echo.Map{"priority": "vip"}).Code)
	assert.Equal(t, http.StatusForbidden, s.call(t, http.MethodPost, q+"/join", staff.Access.Token, nil).Code, "staff cannot join")
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodPost, "/queues/999/join", a.Access.Token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.call(t, http.MethodPost, "/queues/abc/join", a.Access.Token, nil).Code)

	rec = s.call(t, http.MethodGet, "/me/positions", a.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	positions := decode[[]dashboard.Position](t, rec)
	require.Len(t, positions, 1)
	assert.Equal(t, 2, positions[0].Position, "the high entry is ahead")
	assert.Equal(t, "olga shop", positions[0].EstablishmentName)

	rec = s.call(t, http.MethodGet, q+"/stats", staff.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[struct {
		Waiting waiting `json:"waiting"`
	}](t, rec)
	assert.Equal(t, waiting{Total: 2, High: 1, Normal: 1}, stats.Waiting)
	assert.Equal(t, http.StatusForbidden, s.call(t, http.MethodGet, q+"/stats", a.Access.Token, nil).Code)

	rec = s.call(t, http.MethodGet, fmt.Sprintf("/public/queues/%d", sh.queueID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"establishment_name":"olga shop"`)

	assert.Equal(t, http.StatusForbidden, s.call(t, http.MethodPost, q+"/call-next", a.Access.Token, nil).Code)
	rec = s.call(t, http.MethodPost, q+"/call-next", staff.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	called := decode[entry](t, rec)
	assert.Equal(t, eb.ID, called.ID)
	assert.Equal(t, "served", called.Status)

	rec = s.call(t, http.MethodGet, "/me/history", b.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]dashboard.HistoryItem](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "completed", history[0].Status)

	rec = s.call(t, http.MethodPost, q+"/renumber", sh.owner.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"changed":0`)

	leave := fmt.Sprintf("/entries/%d", ea.ID)
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodDelete, leave, b.Access.Token, nil).Code, "not the caller's entry")
	assert.Equal(t, http.StatusNoContent, s.call(t, http.MethodDelete, leave, a.Access.Token, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodDelete, leave, a.Access.Token, nil).Code)

	rec = s.call(t, http.MethodPost, q+"/call-next", staff.Access.Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "queue is empty")

	rec = s.call(t, http.MethodDelete, fmt.Sprintf("/establishments/%d/employees/%d", sh.estID, staff.User.ID), sh.owner.Access.Token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusForbidden, s.call(t, http.MethodPost, q+"/call-next", staff.Access.Token, nil).Code, "link is read fresh on every request")
}

func TestQueueManagement(t *testing.T) {
	s := newServer(t)
	sh := s.openShop(t, "otto")
	other := s.openShop(t, "olive")
	c := s.register(t, "carl", "")
	q := fmt.Sprintf("/queues/%d", sh.queueID)

	rec := s.call(t, http.MethodPost, "/queues", other.owner.Access.Token, echo.Map{"establishment_id": sh.estID, "name": "Sneaky"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.call(t, http.MethodPost, "/queues", sh.owner.Access.Token, echo.Map{"establishment_id": 999, "name": "Ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.call(t, http.MethodPut, q, sh.owner.Access.Token, echo.Map{"name": "Front desk", "description": "walk-ins"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Front desk"`)
	assert.Contains(t, rec.Body.String(), `"description":"walk-ins"`)
	rec = s.call(t, http.MethodPut, q, sh.owner.Access.Token, echo.Map{"description": ""})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "description")
	assert.Equal(t, http.StatusBadRequest, s.call(t, http.MethodPut, q, sh.owner.Access.Token, echo.Map{"name": " "}).Code)
	assert.Equal(t, http.StatusForbidden, s.call(t, http.MethodPut, q, other.owner.Access.Token, echo.Map{"name": "Mine"}).Code)

	rec = s.call(t, http.MethodGet, "/queues/mine", sh.owner.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]map[string]any](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, "Front desk", mine[0]["name"])

	rec = s.call(t, http.MethodGet, "/queues/available", c.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 2)
	rec = s.call(t, http.MethodGet, "/queues/available", sh.owner.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	avail := decode[[]map[string]any](t, rec)
	require.Len(t, avail, 1, "own queues are not joinable")
	assert.Equal(t, float64(other.queueID), avail[0]["id"])

	rec = s.call(t, http.MethodGet, "/establishments", sh.owner.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	assert.Equal(t, http.StatusForbidden, s.call(t, http.MethodDelete, q, c.Access.Token, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.call(t, http.MethodDelete, q, sh.owner.Access.Token, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodGet, fmt.Sprintf("/public/queues/%d", sh.queueID), "", nil).Code)
}

func TestJoinByQR(t *testing.T) {
	s := newServer(t)
	sh := s.openShop(t, "quinn")
	c := s.register(t, "cora", "")

	assert.Equal(t, http.StatusForbidden, s.call(t, http.MethodPost, fmt.Sprintf("/queues/%d/qr", sh.queueID), c.Access.Token, nil).Code)
	rec := s.call(t, http.MethodPost, fmt.Sprintf("/queues/%d/qr", sh.queueID), sh.owner.Access.Token, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	tok := decode[qr.Token](t, rec)
	assert.Equal(t, sh.queueID, tok.QueueID)

	rec = s.call(t, http.MethodPost, "/queues/join-by-qr", c.Access.Token, echo.Map{"token": tok.Value})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "high", decode[entry](t, rec).Priority)

	rec = s.call(t, http.MethodPost, "/queues/join-by-qr", c.Access.Token, echo.Map{"token": "not-a-token"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.call(t, http.MethodPost, "/queues/join-by-qr", c.Access.Token, echo.Map{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// the token outlives its queue
	late := s.register(t, "lena", "")
	require.Equal(t, http.StatusNoContent, s.call(t, http.MethodDelete, fmt.Sprintf("/queues/%d", sh.queueID), sh.owner.Access.Token, nil).Code)
	rec = s.call(t, http.MethodPost, "/queues/join-by-qr", late.Access.Token, echo.Map{"token": tok.Value})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestDashboardByRole(t *testing.T) {
	s := newServer(t)
	sh := s.openShop(t, "dora")
	c := s.register(t, "dina", "")
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, fmt.Sprintf("/queues/%d/join", sh.queueID), c.Access.Token, nil).Code)

	rec := s.call(t, http.MethodGet, "/dashboard", sh.owner.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"OWNER"`)

	rec = s.call(t, http.MethodGet, "/dashboard", c.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Role      string                 `json:"role"`
		Dashboard dashboard.CustomerView `json:"dashboard"`
	}](t, rec)
	assert.Equal(t, "CUSTOMER", body.Role)
	require.Len(t, body.Dashboard.Positions, 1)
	assert.Equal(t, 1, body.Dashboard.Positions[0].Position)

	rec = s.call(t, http.MethodGet, "/me/history", c.Access.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestReady(t *testing.T) {
	e := echo.New()
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(map[string]handler.Pinger{"db": pinger{}, "redis": pinger{errors.New("down")}}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"redis":"down"`)
}
