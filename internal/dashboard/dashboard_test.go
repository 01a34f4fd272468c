package dashboard_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/virtual-queue/internal/dashboard"
	"github.com/iliyamo/virtual-queue/internal/engine"
	"github.com/iliyamo/virtual-queue/internal/model"
	"github.com/iliyamo/virtual-queue/internal/repository/memory"
)

type world struct {
	db       *memory.DB
	eng      *engine.Engine
	owner    model.User
	staff    model.User
	counter  model.Queue
	pickup   model.Queue
	annex    model.Queue
	bakery   model.Establishment
	seq      int
	clockNow time.Time
}

func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()
	w := &world{db: memory.New(), clockNow: time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)}
	w.owner = w.user(t, model.RoleOwner)

	w.bakery = model.Establishment{OwnerID: w.owner.ID, Name: "Bakery"}
	require.NoError(t, w.db.Establishments().Create(ctx, &w.bakery))
	annexEst := model.Establishment{OwnerID: w.owner.ID, Name: "Annex"}
	require.NoError(t, w.db.Establishments().Create(ctx, &annexEst))

	w.counter = model.Queue{EstablishmentID: w.bakery.ID, Name: "Counter"}
	w.pickup = model.Queue{EstablishmentID: w.bakery.ID, Name: "Pickup"}
	w.annex = model.Queue{EstablishmentID: annexEst.ID, Name: "Annex desk"}
	for _, q := range []*model.Queue{&w.counter, &w.pickup, &w.annex} {
		require.NoError(t, w.db.Queues().Create(ctx, q))
	}

	staff := w.user(t, model.RoleCustomer)
	require.NoError(t, w.db.Users().AssignEmployee(ctx, staff.ID, w.bakery.ID))
	var err error
	w.staff, err = w.db.Users().GetByID(ctx, staff.ID)
	require.NoError(t, err)

	logger, _ := logtest.NewNullLogger()
	w.eng = engine.New(w.db.Queues(), engine.WithLogger(logger), engine.WithClock(func() time.Time {
		w.clockNow = w.clockNow.Add(time.Minute)
		return w.clockNow
	}))
	return w
}

func (w *world) user(t *testing.T, role model.Role) model.User {
	t.Helper()
	w.seq++
	ctx := context.Background()
	id, err := w.db.Users().Create(ctx, "user", fmt.Sprintf("dash%d@example.com", w.seq), "secret", role, bcrypt.MinCost)
	require.NoError(t, err)
	u, err := w.db.Users().GetByID(ctx, id)
	require.NoError(t, err)
	return u
}

func (w *world) join(t *testing.T, q model.Queue, c model.User, p model.Priority) model.Entry {
	t.Helper()
	e, err := w.eng.Join(context.Background(), q.ID, c, p)
	require.NoError(t, err)
	return e
}

func TestOwnerView(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	c1, c2, c3, c4 := w.user(t, model.RoleCustomer), w.user(t, model.RoleCustomer), w.user(t, model.RoleCustomer), w.user(t, model.RoleCustomer)

	w.join(t, w.counter, c1, model.PriorityNormal)
	w.join(t, w.counter, c2, model.PriorityHigh)
	w.join(t, w.pickup, c3, model.PriorityNormal)
	w.join(t, w.pickup, c4, model.PriorityNormal)
	w.join(t, w.pickup, c1, model.PriorityNormal)
	_, err := w.eng.CallNext(ctx, w.pickup.ID, w.owner)
	require.NoError(t, err)

	agg := dashboard.New(w.db.Queues(), dashboard.Config{})
	v, err := agg.Owner(ctx, w.owner)
	require.NoError(t, err)

	require.Len(t, v.Queues, 3)
	assert.Equal(t, []string{"Counter", "Pickup", "Annex desk"}, []string{v.Queues[0].Name, v.Queues[1].Name, v.Queues[2].Name})
	assert.Equal(t, 1, v.Queues[0].High)
	assert.Equal(t, 1, v.Queues[0].Normal)
	assert.Equal(t, 2, v.Queues[1].Total)
	assert.Equal(t, 0, v.Queues[2].Total)
	assert.Equal(t, 4, v.TotalWaiting)
	assert.Equal(t, 1, v.TotalHigh)

	require.NotNil(t, v.Longest)
	assert.Equal(t, w.counter.ID, v.Longest.QueueID, "ties go to the lowest queue id")
	assert.Greater(t, v.AverageWaitSeconds, 0.0)
}

func TestOwnerViewWithoutQueues(t *testing.T) {
	w := newWorld(t)
	other := w.user(t, model.RoleOwner)

	v, err := dashboard.New(w.db.Queues(), dashboard.Config{}).Owner(context.Background(), other)
	require.NoError(t, err)
	assert.Empty(t, v.Queues)
	assert.Nil(t, v.Longest)
	assert.Zero(t, v.AverageWaitSeconds)
}

func TestEmployeeView(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	c1, c2, c3 := w.user(t, model.RoleCustomer), w.user(t, model.RoleCustomer), w.user(t, model.RoleCustomer)

	w.join(t, w.counter, c1, model.PriorityNormal)
	priority := w.join(t, w.counter, c2, model.PriorityHigh)
	w.join(t, w.pickup, c3, model.PriorityNormal)
	w.join(t, w.annex, c1, model.PriorityNormal)

	agg := dashboard.New(w.db.Queues(), dashboard.Config{AlertThreshold: 1})
	v, err := agg.Employee(ctx, w.staff)
	require.NoError(t, err)

	assert.Equal(t, w.bakery.ID, v.EstablishmentID)
	require.Len(t, v.Queues, 2, "only the employee's establishment")
	assert.True(t, v.Queues[0].Alert)
	assert.False(t, v.Queues[1].Alert)
	assert.Equal(t, []uint64{w.counter.ID}, v.Alerts)

	require.NotNil(t, v.Queues[0].Next)
	assert.Equal(t, priority.ID, v.Queues[0].Next.ID, "high priority is served first")

	_, err = w.eng.CallNext(ctx, w.pickup.ID, w.staff)
	require.NoError(t, err)
	v, err = agg.Employee(ctx, w.staff)
	require.NoError(t, err)
	assert.Nil(t, v.Queues[1].Next)
}

func TestEmployeeWithoutEstablishment(t *testing.T) {
	w := newWorld(t)
	loose := model.User{ID: 99, Role: model.RoleEmployee}

	_, err := dashboard.New(w.db.Queues(), dashboard.Config{}).Employee(context.Background(), loose)
	assert.True(t, errors.Is(err, model.ErrAccessDenied))
}

func TestCustomerView(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	c1, c2 := w.user(t, model.RoleCustomer), w.user(t, model.RoleCustomer)

	w.join(t, w.counter, c2, model.PriorityHigh)
	w.join(t, w.counter, c1, model.PriorityNormal)
	w.join(t, w.pickup, c1, model.PriorityNormal)
	w.join(t, w.annex, c1, model.PriorityNormal)
	_, err := w.eng.CallNext(ctx, w.pickup.ID, w.owner)
	require.NoError(t, err)
	_, err = w.eng.CallNext(ctx, w.annex.ID, w.owner)
	require.NoError(t, err)

	agg := dashboard.New(w.db.Queues(), dashboard.Config{AvgService: 2 * time.Minute, HistoryLimit: 1})
	v, err := agg.Customer(ctx, c1)
	require.NoError(t, err)

	require.Len(t, v.Positions, 1)
	p := v.Positions[0]
	assert.Equal(t, "Counter", p.QueueName)
	assert.Equal(t, "Bakery", p.EstablishmentName)
	assert.Equal(t, 2, p.Position)
	assert.Equal(t, "normal", p.Priority)
	assert.Equal(t, 120.0, p.EstimatedWaitSeconds)

	require.Len(t, v.History, 1, "history is capped")
	assert.Equal(t, "Annex desk", v.History[0].QueueName, "newest first")
	assert.Equal(t, "completed", v.History[0].Status)
	assert.NotNil(t, v.History[0].ServedAt)
}

func TestForDispatchesOnRole(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	agg := dashboard.New(w.db.Queues(), dashboard.Config{})

	got, err := agg.For(ctx, w.owner)
	require.NoError(t, err)
	assert.IsType(t, dashboard.OwnerView{}, got)

	got, err = agg.For(ctx, w.staff)
	require.NoError(t, err)
	assert.IsType(t, dashboard.EmployeeView{}, got)

	got, err = agg.For(ctx, w.user(t, model.RoleCustomer))
	require.NoError(t, err)
	assert.IsType(t, dashboard.CustomerView{}, got)

	_, err = agg.For(ctx, model.User{ID: 1})
	assert.True(t, errors.Is(err, model.ErrAccessDenied))
}
