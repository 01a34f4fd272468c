package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/iliyamo/virtual-queue/internal/access"
	"github.com/iliyamo/virtual-queue/internal/model"
	"github.com/iliyamo/virtual-queue/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,name,email,password_hash,role,establishment_id,is_active,created_at,updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		u    model.User
		role string
		est  sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &est, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return model.User{}, err
	}
	r, err := model.ParseRole(role)
	if err != nil {
		return model.User{}, err
	}
	u.Role = r
	if est.Valid {
		id := uint64(est.Int64)
		u.EstablishmentID = &id
	}
	return u, nil
}

// Create inserts user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, name, email, password string, role model.Role, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, errors.Wrap(err, "hash password")
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (name, email, password_hash, role) VALUES (?,?,?,?)",
		strings.TrimSpace(name), email, hash, role.String())
	if err != nil {
		if mysqlCode(err) == errDupEntry {
			return 0, model.ErrEmailExists
		}
		return 0, errors.Wrap(err, "insert user")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "insert user")
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
	if err != nil {
		return model.User{}, notFound(err, "get user by email")
	}
	return u, nil
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
	if err != nil {
		return model.User{}, notFound(err, "get user by id")
	}
	return u, nil
}

// AssignEmployee links a user to an establishment as an employee.  The role
// check and the update share one transaction so a concurrent assignment to a
// different establishment cannot slip in between.
func (r *UserRepo) AssignEmployee(ctx context.Context, userID, establishmentID uint64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin assign employee")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	u, err := scanUser(tx.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? FOR UPDATE", userID))
	if err != nil {
		return notFound(err, "load employee")
	}
	if err := access.RequireAssignable(u, establishmentID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET role='EMPLOYEE', establishment_id=? WHERE id=?",
		establishmentID, userID); err != nil {
		return errors.Wrap(err, "assign employee")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit assign employee")
	}
	committed = true
	return nil
}

// UnassignEmployee turns an employee of the establishment back into a
// customer.
func (r *UserRepo) UnassignEmployee(ctx context.Context, userID, establishmentID uint64) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET role='CUSTOMER', establishment_id=NULL WHERE id=? AND role='EMPLOYEE' AND establishment_id=?",
		userID, establishmentID)
	return affectedOne(res, err, "unassign employee")
}
