package access_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/virtual-queue/internal/access"
	"github.com/iliyamo/virtual-queue/internal/model"
)

func ptr(v uint64) *uint64 { return &v }

func TestGuardPredicates(t *testing.T) {
	est := model.Establishment{ID: 10, OwnerID: 1}
	other := model.Establishment{ID: 20, OwnerID: 2}
	q := model.Queue{ID: 100, EstablishmentID: 10}

	owner := model.User{ID: 1, Role: model.RoleOwner}
	otherOwner := model.User{ID: 2, Role: model.RoleOwner}
	staff := model.User{ID: 3, Role: model.RoleEmployee, EstablishmentID: ptr(10)}
	foreignStaff := model.User{ID: 4, Role: model.RoleEmployee, EstablishmentID: ptr(20)}
	unlinked := model.User{ID: 5, Role: model.RoleEmployee}
	customer := model.User{ID: 6, Role: model.RoleCustomer, EstablishmentID: ptr(10)}

	tests := []struct {
		name              string
		user              model.User
		manage, serve, in bool
	}{
		{"owner", owner, true, true, false},
		{"owner of another establishment", otherOwner, false, false, true},
		{"staff", staff, false, true, false},
		{"staff elsewhere", foreignStaff, false, false, true},
		{"employee without establishment", unlinked, false, false, true},
		{"customer with stray link", customer, false, false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.manage, access.CanManageQueue(tc.user, q, est))
			assert.Equal(t, tc.serve, access.CanServeQueue(tc.user, q, est))
			assert.Equal(t, tc.in, access.CanJoinQueue(tc.user, q, est))
		})
	}

	assert.True(t, access.IsStaffOf(foreignStaff, other))
	assert.False(t, access.IsStaffOf(customer, est))
}

func TestGuardRejectsMismatchedEstablishment(t *testing.T) {
	owner := model.User{ID: 1, Role: model.RoleOwner}
	est := model.Establishment{ID: 10, OwnerID: 1}
	q := model.Queue{ID: 100, EstablishmentID: 11}

	assert.False(t, access.CanManageQueue(owner, q, est))
	assert.False(t, access.CanServeQueue(owner, q, est))
	assert.False(t, access.CanJoinQueue(owner, q, est))
}

func TestRequireWrapsAccessDenied(t *testing.T) {
	est := model.Establishment{ID: 10, OwnerID: 1}
	q := model.Queue{ID: 100, EstablishmentID: 10}
	owner := model.User{ID: 1, Role: model.RoleOwner}
	customer := model.User{ID: 9, Role: model.RoleCustomer}

	err := access.RequireJoin(owner, q, est)
	assert.True(t, errors.Is(err, model.ErrAccessDenied))
	assert.NoError(t, access.RequireJoin(customer, q, est))

	assert.True(t, errors.Is(access.RequireServe(customer, q, est), model.ErrAccessDenied))
	assert.NoError(t, access.RequireServe(owner, q, est))

	assert.True(t, errors.Is(access.RequireManage(customer, q, est), model.ErrAccessDenied))
	assert.True(t, errors.Is(access.RequireOwner(customer, est), model.ErrAccessDenied))
}

func TestRequireAssignable(t *testing.T) {
	ten, eleven := uint64(10), uint64(11)

	assert.NoError(t, access.RequireAssignable(model.User{ID: 1, Role: model.RoleCustomer}, 10))
	assert.NoError(t, access.RequireAssignable(model.User{ID: 2, Role: model.RoleEmployee}, 10))
	assert.NoError(t, access.RequireAssignable(model.User{ID: 3, Role: model.RoleEmployee, EstablishmentID: &ten}, 10))

	for _, u := range []model.User{
		{ID: 4, Role: model.RoleEmployee, EstablishmentID: &eleven},
		{ID: 5, Role: model.RoleOwner},
		{ID: 6},
	} {
		assert.True(t, errors.Is(access.RequireAssignable(u, 10), model.ErrAccessDenied), "user %d", u.ID)
	}
}
