package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/virtual-queue/internal/access"
	"github.com/iliyamo/virtual-queue/internal/model"
)

// EstablishmentStore persists establishments.
type EstablishmentStore interface {
	Create(ctx context.Context, e *model.Establishment) error
	GetByID(ctx context.Context, id uint64) (model.Establishment, error)
	ListByOwner(ctx context.Context, ownerID uint64) ([]model.Establishment, error)
}

// EmployeeStore links accounts to establishments.
type EmployeeStore interface {
	GetByEmail(ctx context.Context, email string) (model.User, error)
	AssignEmployee(ctx context.Context, userID, establishmentID uint64) error
	UnassignEmployee(ctx context.Context, userID, establishmentID uint64) error
}

// EstablishmentHandler serves the owner's establishment and staff endpoints.
type EstablishmentHandler struct {
	Establishments EstablishmentStore
	Users          EmployeeStore
}

func NewEstablishmentHandler(e EstablishmentStore, u EmployeeStore) *EstablishmentHandler {
	if e == nil || u == nil {
		panic("nil store passed to NewEstablishmentHandler")
	}
	return &EstablishmentHandler{Establishments: e, Users: u}
}

type establishmentReq struct {
	Name     string `json:"name"`
	Street   string `json:"street"`
	District string `json:"district"`
	City     string `json:"city"`
	State    string `json:"state"`
	Phone    string `json:"phone"`
}

type employeeReq struct {
	Email string `json:"email"`
}

// Create registers an establishment owned by the caller.
func (h *EstablishmentHandler) Create(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	var req establishmentReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return badRequest(c, "name required")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	est := model.Establishment{
		OwnerID: u.ID, Name: req.Name, Street: strings.TrimSpace(req.Street),
		District: strings.TrimSpace(req.District), City: strings.TrimSpace(req.City),
		State: strings.TrimSpace(req.State), Phone: strings.TrimSpace(req.Phone),
	}
	if err := h.Establishments.Create(ctx, &est); err != nil {
		return respondError(c, err, "create establishment failed")
	}
	return c.JSON(http.StatusCreated, establishmentJSON(est))
}

// ListMine lists the caller's establishments.
func (h *EstablishmentHandler) ListMine(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	ests, err := h.Establishments.ListByOwner(ctx, u.ID)
	if err != nil {
		return respondError(c, err, "list establishments failed")
	}
	out := make([]establishmentResp, 0, len(ests))
	for _, e := range ests {
		out = append(out, establishmentJSON(e))
	}
	return c.JSON(http.StatusOK, out)
}

// AssignEmployee links the account with the posted email to the
// establishment.
func (h *EstablishmentHandler) AssignEmployee(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	estID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid establishment id")
	}
	var req employeeReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return badRequest(c, "email required")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.ownedBy(ctx, u, estID); err != nil {
		return respondError(c, err, "load establishment failed")
	}
	emp, err := h.Users.GetByEmail(ctx, email)
	if err != nil {
		return respondError(c, err, "load user failed")
	}
	if err := h.Users.AssignEmployee(ctx, emp.ID, estID); err != nil {
		return respondError(c, err, "assign employee failed")
	}
	emp.Role = model.RoleEmployee
	emp.EstablishmentID = &estID
	return c.JSON(http.StatusOK, userJSON(emp))
}

// UnassignEmployee turns an employee of the establishment back into a
// customer.
func (h *EstablishmentHandler) UnassignEmployee(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	estID, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid establishment id")
	}
	userID, ok := pathID(c, "userID")
	if !ok {
		return badRequest(c, "invalid user id")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.ownedBy(ctx, u, estID); err != nil {
		return respondError(c, err, "load establishment failed")
	}
	if err := h.Users.UnassignEmployee(ctx, userID, estID); err != nil {
		return respondError(c, err, "unassign employee failed")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *EstablishmentHandler) ownedBy(ctx context.Context, u model.User, estID uint64) error {
	est, err := h.Establishments.GetByID(ctx, estID)
	if err != nil {
		return err
	}
	return access.RequireOwner(u, est)
}
