package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/virtual-queue/internal/dashboard"
	"github.com/iliyamo/virtual-queue/internal/model"
)

// Dashboards builds the per-role views.
type Dashboards interface {
	For(ctx context.Context, u model.User) (any, error)
	Positions(ctx context.Context, customerID uint64) ([]dashboard.Position, error)
	History(ctx context.Context, customerID uint64) ([]dashboard.HistoryItem, error)
}

// DashboardHandler serves the read-only home screens.
type DashboardHandler struct {
	Views Dashboards
}

func NewDashboardHandler(v Dashboards) *DashboardHandler {
	if v == nil {
		panic("nil aggregator passed to NewDashboardHandler")
	}
	return &DashboardHandler{Views: v}
}

// Dashboard returns the view matching the caller's role.
func (h *DashboardHandler) Dashboard(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	v, err := h.Views.For(ctx, u)
	if err != nil {
		return respondError(c, err, "build dashboard failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"role": u.Role.String(), "dashboard": v})
}

// Positions lists the caller's waiting entries with estimated waits.
func (h *DashboardHandler) Positions(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	ps, err := h.Views.Positions(ctx, u.ID)
	if err != nil {
		return respondError(c, err, "load positions failed")
	}
	if ps == nil {
		ps = []dashboard.Position{}
	}
	return c.JSON(http.StatusOK, ps)
}

// History lists the caller's finished entries, newest first.
func (h *DashboardHandler) History(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	items, err := h.Views.History(ctx, u.ID)
	if err != nil {
		return respondError(c, err, "load history failed")
	}
	if items == nil {
		items = []dashboard.HistoryItem{}
	}
	return c.JSON(http.StatusOK, items)
}
