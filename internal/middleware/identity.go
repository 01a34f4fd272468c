package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/iliyamo/virtual-queue/internal/model"
)

// UserLoader fetches the account behind a token subject.
type UserLoader interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// LoadUser reads the account named by "user_id" and stores it under
// "current_user".  Roles and establishment links change after a token is
// issued, so capability checks use the stored row rather than the claim.
// Unknown or inactive accounts get 401.
func LoadUser(users UserLoader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := UserID(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
			}
			u, err := users.GetByID(c.Request().Context(), id)
			if errors.Is(err, model.ErrNotFound) || (err == nil && !u.IsActive) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "account unavailable"})
			}
			if err != nil {
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load account"})
			}
			c.Set(ctxCurrentUser, u)
			return next(c)
		}
	}
}

// UserID returns the authenticated user id, if any.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ctxUserID).(uint64)
	return id, ok && id != 0
}

// CurrentUser returns the account stored by LoadUser.
func CurrentUser(c echo.Context) (model.User, bool) {
	u, ok := c.Get(ctxCurrentUser).(model.User)
	return u, ok
}

// identity is the caller part of rate limit keys: the user id when
// authenticated, otherwise "anon".
func identity(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
