// Package router wires handlers and middleware onto an Echo instance.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/virtual-queue/internal/config"
	"github.com/iliyamo/virtual-queue/internal/handler"
	"github.com/iliyamo/virtual-queue/internal/middleware"
)

// Handlers collects everything the routes dispatch to.
type Handlers struct {
	Auth           *handler.AuthHandler
	Establishments *handler.EstablishmentHandler
	Queues         *handler.QueueHandler
	Dashboard      *handler.DashboardHandler

	// Live is the websocket endpoint; nil leaves /ws unmounted.
	Live echo.HandlerFunc

	Users middleware.UserLoader
	Ready map[string]handler.Pinger
}

// New builds the Echo instance with every route mounted.  rdb may be nil, in
// which case rate limiting and response caching are off.
func New(cfg config.Config, h Handlers, rdb *redis.Client, log *logrus.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(log)
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))

	RegisterRoutes(e, h.Ready)
	RegisterAuth(e, h.Auth, cfg.App.JWTSecret, h.Users)

	api := e.Group("/v1", middleware.JWTAuth(cfg.App.JWTSecret), middleware.LoadUser(h.Users))
	RegisterOwner(api, h.Establishments, h.Queues)
	RegisterStaff(api, h.Queues)
	RegisterCustomer(api, h.Queues, h.Dashboard, middleware.NewTokenBucket(cfg.RateLimit, rdb, log))
	RegisterPublic(e, h.Queues, middleware.NewRedisCache(cfg.Cache, rdb, log))
	if h.Live != nil {
		e.GET("/ws/queues/:id", h.Live)
	}
	return e
}

// RegisterRoutes registers the unauthenticated probes.
func RegisterRoutes(e *echo.Echo, ready map[string]handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(ready))
}

// RegisterAuth registers the token endpoints under /v1/auth and /v1/me.
// Logout accepts either a refresh token or a bearer, so it is not behind
// the JWT middleware.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, users middleware.UserLoader) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/refresh-access", a.RefreshAccess)
	g.POST("/logout", a.Logout)

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret), middleware.LoadUser(users))
	e.POST("/v1/logout", a.Logout)
}

// ErrorHandler renders errors as {"error": message}.  Internal causes stay
// out of the body; RequestLogger records them.
func ErrorHandler(log *logrus.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, msg := http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			}
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, echo.Map{"error": msg})
		}
		if err != nil {
			log.WithError(err).Warn("write error response")
		}
	}
}
