package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/virtual-queue/internal/handler"
	"github.com/iliyamo/virtual-queue/internal/middleware"
	"github.com/iliyamo/virtual-queue/internal/model"
)

// RegisterStaff registers the endpoints an owner or an employee uses to run
// a queue.  Which queues a caller may run is decided per request.
func RegisterStaff(api *echo.Group, q *handler.QueueHandler) {
	staff := middleware.RequireRole(model.RoleOwner, model.RoleEmployee)
	api.GET("/queues/:id/stats", q.Stats, staff)
	api.POST("/queues/:id/call-next", q.CallNext, staff)
	api.POST("/queues/:id/renumber", q.Renumber, staff)
}

// RegisterCustomer registers joining, leaving and the caller's own views.
// Any role may join queues of establishments it neither owns nor staffs, so
// no role filter applies here.  limit guards the mutating routes.
func RegisterCustomer(api *echo.Group, q *handler.QueueHandler, d *handler.DashboardHandler, limit echo.MiddlewareFunc) {
	api.POST("/queues/:id/join", q.Join, limit)
	api.POST("/queues/join-by-qr", q.JoinByQR, limit)
	api.DELETE("/entries/:id", q.Leave, limit)
	api.GET("/queues/available", q.ListAvailable)

	api.GET("/dashboard", d.Dashboard)
	api.GET("/me/positions", d.Positions)
	api.GET("/me/history", d.History)
}

// RegisterPublic registers the unauthenticated lobby status endpoint.
func RegisterPublic(e *echo.Echo, q *handler.QueueHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/public/queues/:id", q.Status, cache)
}
