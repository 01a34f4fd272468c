package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/virtual-queue/internal/handler"
	"github.com/iliyamo/virtual-queue/internal/middleware"
	"github.com/iliyamo/virtual-queue/internal/model"
)

// RegisterOwner registers the OWNER-only endpoints on the authenticated /v1
// group.
func RegisterOwner(api *echo.Group, est *handler.EstablishmentHandler, q *handler.QueueHandler) {
	owner := middleware.RequireRole(model.RoleOwner)

	// ---- Establishments ----
	api.POST("/establishments", est.Create, owner)
	api.GET("/establishments", est.ListMine, owner)
	api.POST("/establishments/:id/employees", est.AssignEmployee, owner)
	api.DELETE("/establishments/:id/employees/:userID", est.UnassignEmployee, owner)

	// ---- Queues ----
	api.POST("/queues", q.Create, owner)
	api.GET("/queues/mine", q.ListMine, owner)
	api.PUT("/queues/:id", q.Update, owner)
	api.PATCH("/queues/:id", q.Update, owner)
	api.DELETE("/queues/:id", q.Delete, owner)
	api.POST("/queues/:id/qr", q.IssueQR, owner)
}
