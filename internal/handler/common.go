// Package handler holds the HTTP handlers.  Handlers depend on small store
// interfaces so the MySQL repositories and the in-memory store both satisfy
// them.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/iliyamo/virtual-queue/internal/middleware"
	"github.com/iliyamo/virtual-queue/internal/model"
	"github.com/iliyamo/virtual-queue/internal/utils"
)

// requestTimeout bounds the store work of a single request.
const requestTimeout = 5 * time.Second

func requestCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// respondError writes the status that matches err's domain sentinel.  Any
// other error is returned as a 500 carrying fallback as its message and err
// as its internal cause, so the request logger records it.
func respondError(c echo.Context, err error, fallback string) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": model.ErrNotFound.Error()})
	case errors.Is(err, model.ErrAccessDenied):
		return c.JSON(http.StatusForbidden, echo.Map{"error": model.ErrAccessDenied.Error()})
	case errors.Is(err, model.ErrDuplicateEntry):
		return c.JSON(http.StatusConflict, echo.Map{"error": model.ErrDuplicateEntry.Error()})
	case errors.Is(err, model.ErrEmptyQueue):
		return c.JSON(http.StatusConflict, echo.Map{"error": model.ErrEmptyQueue.Error()})
	case errors.Is(err, model.ErrEmailExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": model.ErrEmailExists.Error()})
	case errors.Is(err, model.ErrInvalidToken):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": model.ErrInvalidToken.Error()})
	case errors.Is(err, model.ErrVersionConflict):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "queue is busy, try again"})
	}
	return echo.NewHTTPError(http.StatusInternalServerError, fallback).SetInternal(err)
}

// caller returns the account loaded by middleware.LoadUser.  Routes that use
// it are always mounted behind that middleware.
func caller(c echo.Context) (model.User, error) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return model.User{}, echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	return u, nil
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := utils.ParseID(c.Param(name))
	return id, err == nil
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
