package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/virtual-queue/internal/model"
)

func TestRespondErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{errors.Wrap(model.ErrNotFound, "queue 3"), http.StatusNotFound},
		{errors.Wrap(model.ErrAccessDenied, "user 1"), http.StatusForbidden},
		{errors.Wrap(model.ErrDuplicateEntry, "customer 2"), http.StatusConflict},
		{model.ErrEmptyQueue, http.StatusConflict},
		{model.ErrEmailExists, http.StatusConflict},
		{errors.Wrap(model.ErrInvalidToken, "expired"), http.StatusBadRequest},
		{errors.Wrap(model.ErrVersionConflict, "join"), http.StatusServiceUnavailable},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		e := echo.New()
		e.GET("/", func(c echo.Context) error { return respondError(c, tc.err, "boom") })
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
		assert.NotContains(t, rec.Body.String(), "connection refused", "internal causes stay out of the body")
	}
}
