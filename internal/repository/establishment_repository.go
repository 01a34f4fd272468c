package repository

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/iliyamo/virtual-queue/internal/model"
)

// EstablishmentRepo stores the businesses owners run queues for.
type EstablishmentRepo struct{ db *sql.DB }

func NewEstablishmentRepo(db *sql.DB) *EstablishmentRepo { return &EstablishmentRepo{db: db} }

const establishmentColumns = "id, owner_id, name, street, district, city, state, phone, created_at, updated_at"

func scanEstablishment(row rowScanner) (model.Establishment, error) {
	var e model.Establishment
	err := row.Scan(&e.ID, &e.OwnerID, &e.Name, &e.Street, &e.District, &e.City, &e.State, &e.Phone, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// Create inserts e and reads back its id and timestamps.
func (r *EstablishmentRepo) Create(ctx context.Context, e *model.Establishment) error {
	const q = `INSERT INTO establishments (owner_id, name, street, district, city, state, phone) VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, e.OwnerID, e.Name, e.Street, e.District, e.City, e.State, e.Phone)
	if err != nil {
		return errors.Wrap(err, "insert establishment")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "insert establishment")
	}
	created, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*e = created
	return nil
}

// GetByID fetches an establishment.
func (r *EstablishmentRepo) GetByID(ctx context.Context, id uint64) (model.Establishment, error) {
	e, err := scanEstablishment(r.db.QueryRowContext(ctx,
		"SELECT "+establishmentColumns+" FROM establishments WHERE id = ?", id))
	if err != nil {
		return model.Establishment{}, notFound(err, "get establishment")
	}
	return e, nil
}

// ListByOwner returns the owner's establishments by ascending id.
func (r *EstablishmentRepo) ListByOwner(ctx context.Context, ownerID uint64) ([]model.Establishment, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+establishmentColumns+" FROM establishments WHERE owner_id = ? ORDER BY id", ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "list establishments")
	}
	defer rows.Close()
	var out []model.Establishment
	for rows.Next() {
		e, err := scanEstablishment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan establishment")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "list establishments")
}
