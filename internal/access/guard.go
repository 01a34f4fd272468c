// Package access holds the capability checks that gate queue mutations.
// Every predicate is pure: it only looks at the user and the establishment
// the caller already loaded, so it can run inside a transaction against
// fresh rows.
package access

import (
	"github.com/pkg/errors"

	"github.com/iliyamo/virtual-queue/internal/model"
)

// OwnsEstablishment reports whether u is the owner of e.
func OwnsEstablishment(u model.User, e model.Establishment) bool {
	return u.ID != 0 && u.ID == e.OwnerID
}

// IsStaffOf reports whether u is an employee linked to e.
func IsStaffOf(u model.User, e model.Establishment) bool {
	switch u.Role {
	case model.RoleEmployee:
		return u.EstablishmentID != nil && *u.EstablishmentID == e.ID
	case model.RoleCustomer, model.RoleOwner:
		return false
	}
	return false
}

// CanManageQueue reports whether u may edit, delete or issue tokens for q.
// e must be q's establishment.
func CanManageQueue(u model.User, q model.Queue, e model.Establishment) bool {
	return q.EstablishmentID == e.ID && OwnsEstablishment(u, e)
}

// CanServeQueue reports whether u may call the next customer of q.
func CanServeQueue(u model.User, q model.Queue, e model.Establishment) bool {
	if q.EstablishmentID != e.ID {
		return false
	}
	return OwnsEstablishment(u, e) || IsStaffOf(u, e)
}

// CanJoinQueue reports whether u may take a place in q.  Staff of the
// establishment, including its owner, may not.
func CanJoinQueue(u model.User, q model.Queue, e model.Establishment) bool {
	if q.EstablishmentID != e.ID || !u.Role.Valid() {
		return false
	}
	return !OwnsEstablishment(u, e) && !IsStaffOf(u, e)
}

// RequireOwner fails with model.ErrAccessDenied unless u owns e.
func RequireOwner(u model.User, e model.Establishment) error {
	if !OwnsEstablishment(u, e) {
		return errors.Wrapf(model.ErrAccessDenied, "user %d does not own establishment %d", u.ID, e.ID)
	}
	return nil
}

// RequireManage fails with model.ErrAccessDenied unless CanManageQueue.
func RequireManage(u model.User, q model.Queue, e model.Establishment) error {
	if !CanManageQueue(u, q, e) {
		return errors.Wrapf(model.ErrAccessDenied, "user %d cannot manage queue %d", u.ID, q.ID)
	}
	return nil
}

// RequireServe fails with model.ErrAccessDenied unless CanServeQueue.
func RequireServe(u model.User, q model.Queue, e model.Establishment) error {
	if !CanServeQueue(u, q, e) {
		return errors.Wrapf(model.ErrAccessDenied, "user %d cannot serve queue %d", u.ID, q.ID)
	}
	return nil
}

// RequireJoin fails with model.ErrAccessDenied unless CanJoinQueue.
func RequireJoin(u model.User, q model.Queue, e model.Establishment) error {
	if !CanJoinQueue(u, q, e) {
		return errors.Wrapf(model.ErrAccessDenied, "user %d cannot join queue %d", u.ID, q.ID)
	}
	return nil
}

// RequireAssignable fails with model.ErrAccessDenied unless u can be linked
// to the establishment as an employee: customers always can, employees only
// when unlinked or already linked there, owners never.
func RequireAssignable(u model.User, establishmentID uint64) error {
	switch u.Role {
	case model.RoleCustomer:
		return nil
	case model.RoleEmployee:
		if u.EstablishmentID == nil || *u.EstablishmentID == establishmentID {
			return nil
		}
		return errors.Wrapf(model.ErrAccessDenied, "user %d works for establishment %d", u.ID, *u.EstablishmentID)
	case model.RoleOwner:
		return errors.Wrapf(model.ErrAccessDenied, "user %d is an owner", u.ID)
	}
	return errors.Wrapf(model.ErrAccessDenied, "user %d has no valid role", u.ID)
}
