// Package dashboard builds the read-only views shown on each role's home
// screen.  Nothing here mutates queue state.
package dashboard

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/iliyamo/virtual-queue/internal/engine"
	"github.com/iliyamo/virtual-queue/internal/model"
)

// Reader is the query surface the aggregator needs from the store.
type Reader interface {
	ListByOwner(ctx context.Context, ownerID uint64) ([]model.QueueInfo, error)
	ListByEstablishment(ctx context.Context, establishmentID uint64) ([]model.QueueInfo, error)
	Waiting(ctx context.Context, queueID uint64, p model.Priority) ([]model.Entry, error)
	CustomerWaiting(ctx context.Context, customerID uint64) ([]model.EntryDetail, error)
	CustomerHistory(ctx context.Context, customerID uint64, limit int) ([]model.EntryDetail, error)
	AverageWait(ctx context.Context, ownerID uint64) (time.Duration, error)
}

// Config tunes the views.
type Config struct {
	AlertThreshold int           // alert when a queue has more waiting entries than this
	AvgService     time.Duration // assumed time to serve one customer
	HistoryLimit   int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{AlertThreshold: 10, AvgService: 5 * time.Minute, HistoryLimit: 10}
}

// Aggregator produces dashboard views.
type Aggregator struct {
	r   Reader
	cfg Config
}

// New returns an aggregator.  Zero config fields fall back to DefaultConfig.
func New(r Reader, cfg Config) *Aggregator {
	if r == nil {
		panic("dashboard: nil reader")
	}
	def := DefaultConfig()
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = def.AlertThreshold
	}
	if cfg.AvgService <= 0 {
		cfg.AvgService = def.AvgService
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	return &Aggregator{r: r, cfg: cfg}
}

// QueueSummary is one queue line on the owner and employee dashboards.
type QueueSummary struct {
	QueueID           uint64 `json:"queue_id"`
	Name              string `json:"name"`
	EstablishmentID   uint64 `json:"establishment_id"`
	EstablishmentName string `json:"establishment_name"`
	High              int    `json:"high"`
	Normal            int    `json:"normal"`
	Total             int    `json:"total"`
}

func summarize(q model.QueueInfo) QueueSummary {
	return QueueSummary{
		QueueID:           q.ID,
		Name:              q.Name,
		EstablishmentID:   q.EstablishmentID,
		EstablishmentName: q.EstablishmentName,
		High:              q.Counts.High,
		Normal:            q.Counts.Normal,
		Total:             q.Counts.Total(),
	}
}

// OwnerView is the owner's dashboard.
type OwnerView struct {
	Queues             []QueueSummary `json:"queues"`
	TotalWaiting       int            `json:"total_waiting"`
	TotalHigh          int            `json:"total_high"`
	Longest            *QueueSummary  `json:"longest_queue"`
	AverageWaitSeconds float64        `json:"average_wait_seconds"`
}

// Owner builds the view over every queue of the owner's establishments.
// Longest is nil when the owner has no queues; on ties the queue with the
// lowest id wins.
func (a *Aggregator) Owner(ctx context.Context, owner model.User) (OwnerView, error) {
	queues, err := a.r.ListByOwner(ctx, owner.ID)
	if err != nil {
		return OwnerView{}, errors.Wrap(err, "list owner queues")
	}
	avg, err := a.r.AverageWait(ctx, owner.ID)
	if err != nil {
		return OwnerView{}, errors.Wrap(err, "average wait")
	}
	v := OwnerView{Queues: make([]QueueSummary, 0, len(queues)), AverageWaitSeconds: avg.Seconds()}
	for _, q := range queues {
		s := summarize(q)
		v.Queues = append(v.Queues, s)
		v.TotalWaiting += s.Total
		v.TotalHigh += s.High
		if v.Longest == nil || s.Total > v.Longest.Total {
			longest := s
			v.Longest = &longest
		}
	}
	return v, nil
}

// StaffQueue is a queue line on the employee dashboard.
type StaffQueue struct {
	QueueSummary
	Alert bool         `json:"alert"`
	Next  *model.Entry `json:"next,omitempty"`
}

// EmployeeView is the employee's dashboard.
type EmployeeView struct {
	EstablishmentID uint64       `json:"establishment_id"`
	Queues          []StaffQueue `json:"queues"`
	Alerts          []uint64     `json:"alerts"`
}

// Employee builds the view over the employee's establishment.
func (a *Aggregator) Employee(ctx context.Context, emp model.User) (EmployeeView, error) {
	if emp.Role != model.RoleEmployee || emp.EstablishmentID == nil {
		return EmployeeView{}, errors.Wrap(model.ErrAccessDenied, "employee is not linked to an establishment")
	}
	queues, err := a.r.ListByEstablishment(ctx, *emp.EstablishmentID)
	if err != nil {
		return EmployeeView{}, errors.Wrap(err, "list establishment queues")
	}
	v := EmployeeView{EstablishmentID: *emp.EstablishmentID, Queues: make([]StaffQueue, 0, len(queues)), Alerts: []uint64{}}
	for _, q := range queues {
		sq := StaffQueue{QueueSummary: summarize(q)}
		if sq.Total > a.cfg.AlertThreshold {
			sq.Alert = true
			v.Alerts = append(v.Alerts, q.ID)
		}
		if sq.Total > 0 {
			high, err := a.r.Waiting(ctx, q.ID, model.PriorityHigh)
			if err != nil {
				return EmployeeView{}, errors.Wrapf(err, "queue %d high entries", q.ID)
			}
			normal, err := a.r.Waiting(ctx, q.ID, model.PriorityNormal)
			if err != nil {
				return EmployeeView{}, errors.Wrapf(err, "queue %d normal entries", q.ID)
			}
			if next, ok := engine.Next(high, normal); ok {
				sq.Next = &next
			}
		}
		v.Queues = append(v.Queues, sq)
	}
	return v, nil
}

// Position is one waiting entry on the customer dashboard.
type Position struct {
	EntryID              uint64    `json:"entry_id"`
	QueueID              uint64    `json:"queue_id"`
	QueueName            string    `json:"queue_name"`
	EstablishmentName    string    `json:"establishment_name"`
	Position             int       `json:"position"`
	Priority             string    `json:"priority"`
	EnteredAt            time.Time `json:"entered_at"`
	EstimatedWaitSeconds float64   `json:"estimated_wait_seconds"`
}

// HistoryItem is one finished entry on the customer dashboard.
type HistoryItem struct {
	EntryID           uint64     `json:"entry_id"`
	QueueID           uint64     `json:"queue_id"`
	QueueName         string     `json:"queue_name"`
	EstablishmentName string     `json:"establishment_name"`
	Status            string     `json:"status"`
	EnteredAt         time.Time  `json:"entered_at"`
	ServedAt          *time.Time `json:"served_at,omitempty"`
}

// CustomerView is the customer's dashboard.
type CustomerView struct {
	Positions []Position    `json:"positions"`
	History   []HistoryItem `json:"history"`
}

// Positions lists the customer's live entries with a wait estimate of
// (position-1) service slots.
func (a *Aggregator) Positions(ctx context.Context, customerID uint64) ([]Position, error) {
	entries, err := a.r.CustomerWaiting(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "customer entries")
	}
	out := make([]Position, 0, len(entries))
	for _, e := range entries {
		wait := time.Duration(max(e.Position-1, 0)) * a.cfg.AvgService
		out = append(out, Position{
			EntryID:              e.ID,
			QueueID:              e.QueueID,
			QueueName:            e.QueueName,
			EstablishmentName:    e.EstablishmentName,
			Position:             e.Position,
			Priority:             e.Priority.String(),
			EnteredAt:            e.EnteredAt,
			EstimatedWaitSeconds: wait.Seconds(),
		})
	}
	return out, nil
}

// History lists the customer's most recent finished entries, newest first.
func (a *Aggregator) History(ctx context.Context, customerID uint64) ([]HistoryItem, error) {
	entries, err := a.r.CustomerHistory(ctx, customerID, a.cfg.HistoryLimit)
	if err != nil {
		return nil, errors.Wrap(err, "customer history")
	}
	out := make([]HistoryItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryItem{
			EntryID:           e.ID,
			QueueID:           e.QueueID,
			QueueName:         e.QueueName,
			EstablishmentName: e.EstablishmentName,
			Status:            e.Status.HistoryLabel(),
			EnteredAt:         e.EnteredAt,
			ServedAt:          e.ServedAt,
		})
	}
	return out, nil
}

// Customer builds the customer's dashboard.
func (a *Aggregator) Customer(ctx context.Context, customer model.User) (CustomerView, error) {
	pos, err := a.Positions(ctx, customer.ID)
	if err != nil {
		return CustomerView{}, err
	}
	hist, err := a.History(ctx, customer.ID)
	if err != nil {
		return CustomerView{}, err
	}
	return CustomerView{Positions: pos, History: hist}, nil
}

// For returns the dashboard matching the user's role.
func (a *Aggregator) For(ctx context.Context, u model.User) (any, error) {
	switch u.Role {
	case model.RoleOwner:
		return a.Owner(ctx, u)
	case model.RoleEmployee:
		return a.Employee(ctx, u)
	case model.RoleCustomer:
		return a.Customer(ctx, u)
	default:
		return nil, errors.Wrapf(model.ErrAccessDenied, "no dashboard for role %d", u.Role)
	}
}
