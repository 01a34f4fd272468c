package model

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Role is the closed set of account kinds.  The zero value is not a valid
// role; rows carrying an unknown role string fail to load.
type Role uint8

const (
	RoleCustomer Role = iota + 1
	RoleOwner
	RoleEmployee
)

// String returns the value stored in users.role.
func (r Role) String() string {
	switch r {
	case RoleCustomer:
		return "CUSTOMER"
	case RoleOwner:
		return "OWNER"
	case RoleEmployee:
		return "EMPLOYEE"
	}
	return "UNKNOWN"
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleOwner, RoleEmployee:
		return true
	}
	return false
}

// ParseRole maps a stored or user supplied role name to a Role.  Matching is
// case insensitive.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CUSTOMER":
		return RoleCustomer, nil
	case "OWNER":
		return RoleOwner, nil
	case "EMPLOYEE":
		return RoleEmployee, nil
	}
	return 0, errors.Errorf("unknown role %q", s)
}

// User represents an application user record as stored in the
// `users` table.  Employees carry the establishment they work for;
// for customers and owners EstablishmentID is nil.
//
// Fields:
//  ID              – primary key identifier of the user.
//  Name            – display name.
//  Email           – unique email address.
//  PasswordHash    – bcrypt hashed password.
//  Role            – customer, owner or employee.
//  EstablishmentID – establishment the employee is linked to (nullable).
//  IsActive        – whether the account is active.
//  CreatedAt       – timestamp of creation.
//  UpdatedAt       – timestamp of last update.
type User struct {
	ID              uint64    // users.id
	Name            string    // users.name
	Email           string    // users.email
	PasswordHash    string    // users.password_hash
	Role            Role      // users.role
	EstablishmentID *uint64   // users.establishment_id (nullable)
	IsActive        bool      // users.is_active
	CreatedAt       time.Time // users.created_at
	UpdatedAt       time.Time // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  The plain
// token is never stored; only its SHA‑256 hash.
//
// Fields:
//  ID        – primary key identifier.
//  UserID    – owner of the token.
//  TokenHash – SHA‑256 hex digest of the token value.
//  ExpiresAt – expiration timestamp of the token.
//  RevokedAt – when the token was revoked (null if still active).
//  CreatedAt – timestamp of creation.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
