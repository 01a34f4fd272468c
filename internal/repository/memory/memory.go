// Package memory is an in-process implementation of the repository
// contracts.  Transactions take one global lock and work on a copy of the
// queue and entry tables that replaces the live tables on commit.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/iliyamo/virtual-queue/internal/access"
	"github.com/iliyamo/virtual-queue/internal/engine"
	"github.com/iliyamo/virtual-queue/internal/model"
	"github.com/iliyamo/virtual-queue/internal/utils"
)

// DB holds every table.  The zero value is not usable; call New.
type DB struct {
	mu sync.Mutex

	userSeq, estSeq, queueSeq, entrySeq, tokenSeq uint64

	users          map[uint64]model.User
	tokens         map[string]model.RefreshToken
	establishments map[uint64]model.Establishment
	queues         map[uint64]model.Queue
	entries        map[uint64]model.Entry

	now func() time.Time
}

// New returns an empty database.
func New() *DB {
	return &DB{
		users:          map[uint64]model.User{},
		tokens:         map[string]model.RefreshToken{},
		establishments: map[uint64]model.Establishment{},
		queues:         map[uint64]model.Queue{},
		entries:        map[uint64]model.Entry{},
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Users returns the user repository view.
func (db *DB) Users() *Users { return &Users{db: db} }

// Tokens returns the refresh token repository view.
func (db *DB) Tokens() *Tokens { return &Tokens{db: db} }

// Establishments returns the establishment repository view.
func (db *DB) Establishments() *Establishments { return &Establishments{db: db} }

// Queues returns the queue and entry repository view.  It also implements
// engine.Store.
func (db *DB) Queues() *Queues { return &Queues{db: db} }

// ---- users ----

// Users implements the user repository.
type Users struct{ db *DB }

// Create inserts a user with a bcrypt hashed password and returns its id.
func (r *Users) Create(_ context.Context, name, email, password string, role model.Role, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == email {
			return 0, model.ErrEmailExists
		}
	}
	r.db.userSeq++
	now := r.db.now()
	r.db.users[r.db.userSeq] = model.User{
		ID: r.db.userSeq, Name: name, Email: email, PasswordHash: hash, Role: role,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	return r.db.userSeq, nil
}

// GetByEmail fetches a user by normalized email.
func (r *Users) GetByEmail(_ context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, model.ErrNotFound
}

// GetByID fetches a user by id.
func (r *Users) GetByID(_ context.Context, id uint64) (model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return model.User{}, model.ErrNotFound
	}
	return u, nil
}

// AssignEmployee links a user to an establishment as an employee.
func (r *Users) AssignEmployee(_ context.Context, userID, establishmentID uint64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[userID]
	if !ok {
		return model.ErrNotFound
	}
	if err := access.RequireAssignable(u, establishmentID); err != nil {
		return err
	}
	u.Role = model.RoleEmployee
	u.EstablishmentID = &establishmentID
	u.UpdatedAt = r.db.now()
	r.db.users[userID] = u
	return nil
}

// UnassignEmployee turns an employee of the establishment back into a
// customer.
func (r *Users) UnassignEmployee(_ context.Context, userID, establishmentID uint64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[userID]
	if !ok || u.Role != model.RoleEmployee || u.EstablishmentID == nil || *u.EstablishmentID != establishmentID {
		return model.ErrNotFound
	}
	u.Role = model.RoleCustomer
	u.EstablishmentID = nil
	u.UpdatedAt = r.db.now()
	r.db.users[userID] = u
	return nil
}

// ---- tokens ----

// Tokens implements the refresh token repository.
type Tokens struct{ db *DB }

// StoreRefresh records a refresh token hash.
func (r *Tokens) StoreRefresh(_ context.Context, userID uint64, tokenHash string, exp time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.tokenSeq++
	r.db.tokens[tokenHash] = model.RefreshToken{
		ID: r.db.tokenSeq, UserID: userID, TokenHash: tokenHash, ExpiresAt: exp, CreatedAt: r.db.now(),
	}
	return nil
}

// ValidateRefresh returns the user id of a live token.
func (r *Tokens) ValidateRefresh(_ context.Context, tokenHash string) (uint64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.tokens[tokenHash]
	if !ok || t.RevokedAt != nil || r.db.now().After(t.ExpiresAt) {
		return 0, model.ErrNotFound
	}
	return t.UserID, nil
}

// RevokeByHash marks a token as revoked.
func (r *Tokens) RevokeByHash(_ context.Context, tokenHash string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if t, ok := r.db.tokens[tokenHash]; ok && t.RevokedAt == nil {
		now := r.db.now()
		t.RevokedAt = &now
		r.db.tokens[tokenHash] = t
	}
	return nil
}

// RevokeAllForUser revokes every live token of the user.
func (r *Tokens) RevokeAllForUser(_ context.Context, userID uint64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := r.db.now()
	for h, t := range r.db.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
			r.db.tokens[h] = t
		}
	}
	return nil
}

// ---- establishments ----

// Establishments implements the establishment repository.
type Establishments struct{ db *DB }

// Create inserts e and fills its id and timestamps.
func (r *Establishments) Create(_ context.Context, e *model.Establishment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.estSeq++
	e.ID = r.db.estSeq
	e.CreatedAt = r.db.now()
	e.UpdatedAt = e.CreatedAt
	r.db.establishments[e.ID] = *e
	return nil
}

// GetByID fetches an establishment.
func (r *Establishments) GetByID(_ context.Context, id uint64) (model.Establishment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.establishments[id]
	if !ok {
		return model.Establishment{}, model.ErrNotFound
	}
	return e, nil
}

// ListByOwner returns the owner's establishments by ascending id.
func (r *Establishments) ListByOwner(_ context.Context, ownerID uint64) ([]model.Establishment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.Establishment
	for _, e := range r.db.establishments {
		if e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- queues and entries ----

// Queues implements the queue repository, the dashboard reader and
// engine.Store.
type Queues struct{ db *DB }

var _ engine.Store = (*Queues)(nil)

// Create inserts q and fills its id and timestamps.
func (r *Queues) Create(_ context.Context, q *model.Queue) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.establishments[q.EstablishmentID]; !ok {
		return model.ErrNotFound
	}
	r.db.queueSeq++
	q.ID = r.db.queueSeq
	q.Version = 0
	q.CreatedAt = r.db.now()
	q.UpdatedAt = q.CreatedAt
	r.db.queues[q.ID] = *q
	return nil
}

// GetByID fetches a queue.
func (r *Queues) GetByID(_ context.Context, id uint64) (model.Queue, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	q, ok := r.db.queues[id]
	if !ok {
		return model.Queue{}, model.ErrNotFound
	}
	return q, nil
}

// Update rewrites name and description.
func (r *Queues) Update(_ context.Context, q *model.Queue) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.queues[q.ID]
	if !ok {
		return model.ErrNotFound
	}
	cur.Name = q.Name
	cur.Description = q.Description
	cur.UpdatedAt = r.db.now()
	r.db.queues[q.ID] = cur
	*q = cur
	return nil
}

// Delete removes the queue and all its entries.
func (r *Queues) Delete(_ context.Context, id uint64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.queues[id]; !ok {
		return model.ErrNotFound
	}
	delete(r.db.queues, id)
	for eid, e := range r.db.entries {
		if e.QueueID == id {
			delete(r.db.entries, eid)
		}
	}
	return nil
}

// ListByOwner lists queues of all the owner's establishments by ascending id.
func (r *Queues) ListByOwner(_ context.Context, ownerID uint64) ([]model.QueueInfo, error) {
	return r.list(func(_ model.Queue, e model.Establishment) bool { return e.OwnerID == ownerID }), nil
}

// ListByEstablishment lists the establishment's queues by ascending id.
func (r *Queues) ListByEstablishment(_ context.Context, establishmentID uint64) ([]model.QueueInfo, error) {
	return r.list(func(q model.Queue, _ model.Establishment) bool { return q.EstablishmentID == establishmentID }), nil
}

// ListAvailable lists the queues u may join.
func (r *Queues) ListAvailable(_ context.Context, u model.User) ([]model.QueueInfo, error) {
	return r.list(func(q model.Queue, e model.Establishment) bool { return access.CanJoinQueue(u, q, e) }), nil
}

func (r *Queues) list(keep func(model.Queue, model.Establishment) bool) []model.QueueInfo {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.QueueInfo
	for _, q := range r.db.queues {
		e := r.db.establishments[q.EstablishmentID]
		if !keep(q, e) {
			continue
		}
		out = append(out, model.QueueInfo{Queue: q, EstablishmentName: e.Name, Counts: countsOf(r.db.entries, q.ID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts returns the waiting counts of a queue.
func (r *Queues) Counts(_ context.Context, queueID uint64) (model.WaitingCounts, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.queues[queueID]; !ok {
		return model.WaitingCounts{}, model.ErrNotFound
	}
	return countsOf(r.db.entries, queueID), nil
}

// IDs lists every queue id in ascending order.
func (r *Queues) IDs(_ context.Context) ([]uint64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	ids := make([]uint64, 0, len(r.db.queues))
	for id := range r.db.queues {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Waiting lists waiting entries of one class ordered by (entered_at, id).
func (r *Queues) Waiting(_ context.Context, queueID uint64, p model.Priority) ([]model.Entry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return waitingOf(r.db.entries, queueID, p), nil
}

// Entries lists every entry of a queue by ascending id, served ones included.
func (r *Queues) Entries(_ context.Context, queueID uint64) ([]model.Entry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.Entry
	for _, e := range r.db.entries {
		if e.QueueID == queueID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CustomerWaiting lists the customer's waiting entries by entered_at.
func (r *Queues) CustomerWaiting(_ context.Context, customerID uint64) ([]model.EntryDetail, error) {
	out := r.details(func(e model.Entry) bool { return e.CustomerID == customerID && e.Status == model.StatusWaiting })
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j].Entry) })
	return out, nil
}

// CustomerHistory lists the customer's non-waiting entries, newest first.
func (r *Queues) CustomerHistory(_ context.Context, customerID uint64, limit int) ([]model.EntryDetail, error) {
	out := r.details(func(e model.Entry) bool { return e.CustomerID == customerID && e.Status != model.StatusWaiting })
	sort.Slice(out, func(i, j int) bool { return out[j].Before(out[i].Entry) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Queues) details(keep func(model.Entry) bool) []model.EntryDetail {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []model.EntryDetail
	for _, e := range r.db.entries {
		if !keep(e) {
			continue
		}
		q := r.db.queues[e.QueueID]
		out = append(out, model.EntryDetail{
			Entry: e, QueueName: q.Name, EstablishmentName: r.db.establishments[q.EstablishmentID].Name,
		})
	}
	return out
}

// AverageWait is the mean time between joining and being served across the
// owner's queues.  It is zero when nobody was served yet.
func (r *Queues) AverageWait(_ context.Context, ownerID uint64) (time.Duration, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var (
		total time.Duration
		n     int
	)
	for _, e := range r.db.entries {
		if e.Status != model.StatusServed || e.ServedAt == nil {
			continue
		}
		q := r.db.queues[e.QueueID]
		if r.db.establishments[q.EstablishmentID].OwnerID != ownerID {
			continue
		}
		total += e.ServedAt.Sub(e.EnteredAt)
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return total / time.Duration(n), nil
}

// RunInTx implements engine.Store.
func (r *Queues) RunInTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	tx := &memTx{
		db:       r.db,
		queues:   make(map[uint64]model.Queue, len(r.db.queues)),
		entries:  make(map[uint64]model.Entry, len(r.db.entries)),
		entrySeq: r.db.entrySeq,
	}
	for k, v := range r.db.queues {
		tx.queues[k] = v
	}
	for k, v := range r.db.entries {
		tx.entries[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	r.db.queues = tx.queues
	r.db.entries = tx.entries
	r.db.entrySeq = tx.entrySeq
	return nil
}

// memTx works on private copies of the queue and entry tables.  The caller
// holds db.mu for the whole transaction.
type memTx struct {
	db       *DB
	queues   map[uint64]model.Queue
	entries  map[uint64]model.Entry
	entrySeq uint64
}

func (t *memTx) Queue(_ context.Context, id uint64) (model.Queue, error) {
	q, ok := t.queues[id]
	if !ok {
		return model.Queue{}, model.ErrNotFound
	}
	return q, nil
}

func (t *memTx) Establishment(_ context.Context, id uint64) (model.Establishment, error) {
	e, ok := t.db.establishments[id]
	if !ok {
		return model.Establishment{}, model.ErrNotFound
	}
	return e, nil
}

func (t *memTx) CountWaiting(_ context.Context, queueID uint64, p model.Priority) (int, error) {
	return countsOf(t.entries, queueID).Of(p), nil
}

func (t *memTx) HasWaiting(_ context.Context, queueID, customerID uint64) (bool, error) {
	for _, e := range t.entries {
		if e.QueueID == queueID && e.CustomerID == customerID && e.Status == model.StatusWaiting {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) Waiting(_ context.Context, queueID uint64, p model.Priority) ([]model.Entry, error) {
	return waitingOf(t.entries, queueID, p), nil
}

func (t *memTx) InsertEntry(_ context.Context, e *model.Entry) error {
	if _, ok := t.queues[e.QueueID]; !ok {
		return model.ErrNotFound
	}
	t.entrySeq++
	e.ID = t.entrySeq
	t.entries[e.ID] = *e
	return nil
}

func (t *memTx) MarkServed(_ context.Context, entryID uint64, at time.Time) error {
	e, ok := t.entries[entryID]
	if !ok || e.Status != model.StatusWaiting {
		return errors.Wrapf(model.ErrVersionConflict, "entry %d is no longer waiting", entryID)
	}
	e.Status = model.StatusServed
	e.ServedAt = &at
	t.entries[entryID] = e
	return nil
}

func (t *memTx) SetPosition(_ context.Context, entryID uint64, position int) error {
	e, ok := t.entries[entryID]
	if !ok {
		return model.ErrNotFound
	}
	e.Position = position
	t.entries[entryID] = e
	return nil
}

func (t *memTx) CustomerEntry(_ context.Context, entryID, customerID uint64) (model.Entry, error) {
	e, ok := t.entries[entryID]
	if !ok || e.CustomerID != customerID {
		return model.Entry{}, model.ErrNotFound
	}
	return e, nil
}

func (t *memTx) DeleteEntry(_ context.Context, entryID uint64) error {
	if e, ok := t.entries[entryID]; !ok || e.Status != model.StatusWaiting {
		return errors.Wrapf(model.ErrVersionConflict, "entry %d is no longer waiting", entryID)
	}
	delete(t.entries, entryID)
	return nil
}

func (t *memTx) BumpVersion(_ context.Context, queueID, expected uint64) error {
	q, ok := t.queues[queueID]
	if !ok || q.Version != expected {
		return model.ErrVersionConflict
	}
	q.Version++
	t.queues[queueID] = q
	return nil
}

func countsOf(entries map[uint64]model.Entry, queueID uint64) model.WaitingCounts {
	var c model.WaitingCounts
	for _, e := range entries {
		if e.QueueID != queueID || e.Status != model.StatusWaiting {
			continue
		}
		switch e.Priority {
		case model.PriorityHigh:
			c.High++
		case model.PriorityNormal:
			c.Normal++
		}
	}
	return c
}

func waitingOf(entries map[uint64]model.Entry, queueID uint64, p model.Priority) []model.Entry {
	var out []model.Entry
	for _, e := range entries {
		if e.QueueID == queueID && e.Priority == p && e.Status == model.StatusWaiting {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
