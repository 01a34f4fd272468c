package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/virtual-queue/internal/access"
	"github.com/iliyamo/virtual-queue/internal/model"
	"github.com/iliyamo/virtual-queue/internal/qr"
)

// QueueStore persists queues and answers the listing queries.
type QueueStore interface {
	Create(ctx context.Context, q *model.Queue) error
	GetByID(ctx context.Context, id uint64) (model.Queue, error)
	Update(ctx context.Context, q *model.Queue) error
	Delete(ctx context.Context, id uint64) error
	ListByOwner(ctx context.Context, ownerID uint64) ([]model.QueueInfo, error)
	ListAvailable(ctx context.Context, u model.User) ([]model.QueueInfo, error)
	Counts(ctx context.Context, queueID uint64) (model.WaitingCounts, error)
}

// EstablishmentLookup loads the establishment a queue belongs to.
type EstablishmentLookup interface {
	GetByID(ctx context.Context, id uint64) (model.Establishment, error)
}

// QueueEngine is the mutation surface of engine.Engine.
type QueueEngine interface {
	Join(ctx context.Context, queueID uint64, customer model.User, p model.Priority) (model.Entry, error)
	JoinByToken(ctx context.Context, token string, customer model.User) (model.Entry, error)
	CallNext(ctx context.Context, queueID uint64, caller model.User) (model.Entry, error)
	Leave(ctx context.Context, entryID uint64, customer model.User) error
	RenumberFor(ctx context.Context, queueID uint64, caller model.User) (int, error)
}

// QueueHandler serves queue management, staff and customer endpoints.
type QueueHandler struct {
	Queues         QueueStore
	Establishments EstablishmentLookup
	Engine         QueueEngine
	Tokens         qr.Store
}

func NewQueueHandler(q QueueStore, e EstablishmentLookup, eng QueueEngine, tokens qr.Store) *QueueHandler {
	if q == nil || e == nil || eng == nil || tokens == nil {
		panic("nil dependency passed to NewQueueHandler")
	}
	return &QueueHandler{Queues: q, Establishments: e, Engine: eng, Tokens: tokens}
}

type createQueueReq struct {
	EstablishmentID uint64  `json:"establishment_id"`
	Name            string  `json:"name"`
	Description     *string `json:"description"`
}

type updateQueueReq struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type joinReq struct {
	Priority string `json:"priority"`
}

type joinByQRReq struct {
	Token string `json:"token"`
}

// load fetches a queue together with its establishment.
func (h *QueueHandler) load(ctx context.Context, queueID uint64) (model.Queue, model.Establishment, error) {
	q, err := h.Queues.GetByID(ctx, queueID)
	if err != nil {
		return model.Queue{}, model.Establishment{}, err
	}
	est, err := h.Establishments.GetByID(ctx, q.EstablishmentID)
	if err != nil {
		return model.Queue{}, model.Establishment{}, err
	}
	return q, est, nil
}

// ----- owner -----

// Create adds a queue to one of the caller's establishments.
func (h *QueueHandler) Create(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	var req createQueueReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.EstablishmentID == 0 {
		return badRequest(c, "establishment_id and name required")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	est, err := h.Establishments.GetByID(ctx, req.EstablishmentID)
	if err != nil {
		return respondError(c, err, "load establishment failed")
	}
	if err := access.RequireOwner(u, est); err != nil {
		return respondError(c, err, "access check failed")
	}
	q := model.Queue{EstablishmentID: est.ID, Name: req.Name, Description: req.Description}
	if err := h.Queues.Create(ctx, &q); err != nil {
		return respondError(c, err, "create queue failed")
	}
	return c.JSON(http.StatusCreated, queueJSON(q))
}

// Update renames a queue or changes its description.  Omitted fields keep
// their value; an empty description clears it.
func (h *QueueHandler) Update(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid queue id")
	}
	var req updateQueueReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	q, est, err := h.load(ctx, id)
	if err != nil {
		return respondError(c, err, "load queue failed")
	}
	if err := access.RequireManage(u, q, est); err != nil {
		return respondError(c, err, "access check failed")
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return badRequest(c, "name cannot be empty")
		}
		q.Name = name
	}
	if req.Description != nil {
		if d := strings.TrimSpace(*req.Description); d == "" {
			q.Description = nil
		} else {
			q.Description = &d
		}
	}
	if err := h.Queues.Update(ctx, &q); err != nil {
		return respondError(c, err, "update queue failed")
	}
	return c.JSON(http.StatusOK, queueJSON(q))
}

// Delete removes a queue and every entry in it.
func (h *QueueHandler) Delete(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid queue id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	q, est, err := h.load(ctx, id)
	if err != nil {
		return respondError(c, err, "load queue failed")
	}
	if err := access.RequireManage(u, q, est); err != nil {
		return respondError(c, err, "access check failed")
	}
	if err := h.Queues.Delete(ctx, id); err != nil {
		return respondError(c, err, "delete queue failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// ListMine lists the queues of the caller's establishments with their
// waiting counts.
func (h *QueueHandler) ListMine(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	qs, err := h.Queues.ListByOwner(ctx, u.ID)
	if err != nil {
		return respondError(c, err, "list queues failed")
	}
	return c.JSON(http.StatusOK, queueInfoJSON(qs))
}

// IssueQR creates a join token for the queue.
func (h *QueueHandler) IssueQR(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid queue id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	q, est, err := h.load(ctx, id)
	if err != nil {
		return respondError(c, err, "load queue failed")
	}
	if err := access.RequireManage(u, q, est); err != nil {
		return respondError(c, err, "access check failed")
	}
	tok, err := h.Tokens.Issue(ctx, q.ID)
	if err != nil {
		return respondError(c, err, "issue token failed")
	}
	return c.JSON(http.StatusCreated, tok)
}

// ----- staff -----

// Stats returns the waiting counts of a queue to its owner or staff.
func (h *QueueHandler) Stats(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid queue id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	q, est, err := h.load(ctx, id)
	if err != nil {
		return respondError(c, err, "load queue failed")
	}
	if err := access.RequireServe(u, q, est); err != nil {
		return respondError(c, err, "access check failed")
	}
	counts, err := h.Queues.Counts(ctx, id)
	if err != nil {
		return respondError(c, err, "count entries failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"queue_id": id, "name": q.Name, "waiting": countsJSON(counts)})
}

// CallNext serves the next customer.
func (h *QueueHandler) CallNext(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid queue id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	e, err := h.Engine.CallNext(ctx, id, u)
	if err != nil {
		return respondError(c, err, "call next failed")
	}
	return c.JSON(http.StatusOK, entryJSON(e))
}

// Renumber rewrites the positions of the queue's waiting entries.
func (h *QueueHandler) Renumber(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid queue id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	changed, err := h.Engine.RenumberFor(ctx, id, u)
	if err != nil {
		return respondError(c, err, "renumber failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"queue_id": id, "changed": changed})
}

// ----- customer -----

// Join places the caller in the queue.  The priority field defaults to
// normal.
func (h *QueueHandler) Join(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid queue id")
	}
	var req joinReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	p, err := model.ParsePriority(req.Priority)
	if err != nil {
		return badRequest(c, "priority must be normal or high")
	}

	ctx, cancel := requestCtx(c)
	defer cancel()

	e, err := h.Engine.Join(ctx, id, u, p)
	if err != nil {
		return respondError(c, err, "join failed")
	}
	return c.JSON(http.StatusCreated, entryJSON(e))
}

// JoinByQR joins the queue a scanned token points at.
func (h *QueueHandler) JoinByQR(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	var req joinByQRReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(req.Token) == "" {
		return badRequest(c, "token required")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	e, err := h.Engine.JoinByToken(ctx, strings.TrimSpace(req.Token), u)
	if err != nil {
		return respondError(c, err, "join failed")
	}
	return c.JSON(http.StatusCreated, entryJSON(e))
}

// Leave removes one of the caller's waiting entries.
func (h *QueueHandler) Leave(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid entry id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	if err := h.Engine.Leave(ctx, id, u); err != nil {
		return respondError(c, err, "leave failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// ListAvailable lists the queues the caller may join.
func (h *QueueHandler) ListAvailable(c echo.Context) error {
	u, err := caller(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	qs, err := h.Queues.ListAvailable(ctx, u)
	if err != nil {
		return respondError(c, err, "list queues failed")
	}
	return c.JSON(http.StatusOK, queueInfoJSON(qs))
}

// ----- public -----

// Status is the unauthenticated waiting summary shown on lobby screens.
func (h *QueueHandler) Status(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid queue id")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()

	q, est, err := h.load(ctx, id)
	if err != nil {
		return respondError(c, err, "load queue failed")
	}
	counts, err := h.Queues.Counts(ctx, id)
	if err != nil {
		return respondError(c, err, "count entries failed")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"queue_id":           q.ID,
		"name":               q.Name,
		"establishment_name": est.Name,
		"waiting":            countsJSON(counts),
	})
}
