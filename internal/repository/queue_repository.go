package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/iliyamo/virtual-queue/internal/access"
	"github.com/iliyamo/virtual-queue/internal/engine"
	"github.com/iliyamo/virtual-queue/internal/model"
)

// QueueRepo stores queues and their entries.  It also implements
// engine.Store: each RunInTx call is one InnoDB transaction, and the queue's
// version column detects concurrent writers.
type QueueRepo struct{ db *sql.DB }

func NewQueueRepo(db *sql.DB) *QueueRepo { return &QueueRepo{db: db} }

var _ engine.Store = (*QueueRepo)(nil)

const queueColumns = "q.id, q.establishment_id, q.name, q.description, q.version, q.created_at, q.updated_at"

const entryColumns = "qe.id, qe.queue_id, qe.customer_id, qe.position, qe.status, qe.priority, qe.entered_at, qe.served_at"

// queueInfoSelect joins the establishment name and the waiting counts per
// class onto each queue row.
const queueInfoSelect = `SELECT ` + queueColumns + `, e.name, e.owner_id,
       COALESCE(SUM(qe.status = 'waiting' AND qe.priority = 'high'), 0),
       COALESCE(SUM(qe.status = 'waiting' AND qe.priority = 'normal'), 0)
  FROM queues q
  JOIN establishments e ON e.id = q.establishment_id
  LEFT JOIN queue_entries qe ON qe.queue_id = q.id`

func scanQueue(row rowScanner, extra ...any) (model.Queue, error) {
	var (
		q    model.Queue
		desc sql.NullString
	)
	dest := append([]any{&q.ID, &q.EstablishmentID, &q.Name, &desc, &q.Version, &q.CreatedAt, &q.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return model.Queue{}, err
	}
	if desc.Valid {
		d := desc.String
		q.Description = &d
	}
	return q, nil
}

func scanEntry(row rowScanner, extra ...any) (model.Entry, error) {
	var (
		e                model.Entry
		status, priority string
		served           sql.NullTime
	)
	dest := append([]any{&e.ID, &e.QueueID, &e.CustomerID, &e.Position, &status, &priority, &e.EnteredAt, &served}, extra...)
	if err := row.Scan(dest...); err != nil {
		return model.Entry{}, err
	}
	var err error
	if e.Status, err = model.ParseStatus(status); err != nil {
		return model.Entry{}, err
	}
	if e.Priority, err = model.ParsePriority(priority); err != nil {
		return model.Entry{}, err
	}
	if served.Valid {
		t := served.Time
		e.ServedAt = &t
	}
	return e, nil
}

// Create inserts q and reads back its id, version and timestamps.
func (r *QueueRepo) Create(ctx context.Context, q *model.Queue) error {
	res, err := r.db.ExecContext(ctx,
		"INSERT INTO queues (establishment_id, name, description) VALUES (?, ?, ?)",
		q.EstablishmentID, q.Name, q.Description)
	if err != nil {
		if mysqlCode(err) == errNoReferenced {
			return errors.Wrap(model.ErrNotFound, "establishment")
		}
		return errors.Wrap(err, "insert queue")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "insert queue")
	}
	created, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*q = created
	return nil
}

// GetByID fetches a queue.
func (r *QueueRepo) GetByID(ctx context.Context, id uint64) (model.Queue, error) {
	q, err := scanQueue(r.db.QueryRowContext(ctx, "SELECT "+queueColumns+" FROM queues q WHERE q.id = ?", id))
	if err != nil {
		return model.Queue{}, notFound(err, "get queue")
	}
	return q, nil
}

// Update rewrites name and description.  The version is left alone: it only
// tracks entry ordering.
func (r *QueueRepo) Update(ctx context.Context, q *model.Queue) error {
	// an unchanged row reports zero affected rows, so existence is checked
	// by reading it back
	if _, err := r.db.ExecContext(ctx,
		"UPDATE queues SET name = ?, description = ?, updated_at = UTC_TIMESTAMP() WHERE id = ?",
		q.Name, q.Description, q.ID); err != nil {
		return errors.Wrap(err, "update queue")
	}
	updated, err := r.GetByID(ctx, q.ID)
	if err != nil {
		return err
	}
	*q = updated
	return nil
}

// Delete removes the queue; its entries go with it through the foreign key.
func (r *QueueRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM queues WHERE id = ?", id)
	return affectedOne(res, err, "delete queue")
}

func (r *QueueRepo) listInfo(ctx context.Context, where string, args ...any) ([]model.QueueInfo, []uint64, error) {
	rows, err := r.db.QueryContext(ctx, queueInfoSelect+" "+where+" GROUP BY q.id, e.name, e.owner_id ORDER BY q.id", args...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "list queues")
	}
	defer rows.Close()
	var (
		out    []model.QueueInfo
		owners []uint64
	)
	for rows.Next() {
		var (
			info  model.QueueInfo
			owner uint64
		)
		q, err := scanQueue(rows, &info.EstablishmentName, &owner, &info.Counts.High, &info.Counts.Normal)
		if err != nil {
			return nil, nil, errors.Wrap(err, "scan queue")
		}
		info.Queue = q
		out = append(out, info)
		owners = append(owners, owner)
	}
	return out, owners, errors.Wrap(rows.Err(), "list queues")
}

// ListByOwner lists queues of all the owner's establishments by ascending id.
func (r *QueueRepo) ListByOwner(ctx context.Context, ownerID uint64) ([]model.QueueInfo, error) {
	out, _, err := r.listInfo(ctx, "WHERE e.owner_id = ?", ownerID)
	return out, err
}

// ListByEstablishment lists the establishment's queues by ascending id.
func (r *QueueRepo) ListByEstablishment(ctx context.Context, establishmentID uint64) ([]model.QueueInfo, error) {
	out, _, err := r.listInfo(ctx, "WHERE q.establishment_id = ?", establishmentID)
	return out, err
}

// ListAvailable lists the queues u may join.
func (r *QueueRepo) ListAvailable(ctx context.Context, u model.User) ([]model.QueueInfo, error) {
	all, owners, err := r.listInfo(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []model.QueueInfo
	for i, q := range all {
		est := model.Establishment{ID: q.EstablishmentID, OwnerID: owners[i], Name: q.EstablishmentName}
		if access.CanJoinQueue(u, q.Queue, est) {
			out = append(out, q)
		}
	}
	return out, nil
}

// Counts returns the waiting counts of a queue.
func (r *QueueRepo) Counts(ctx context.Context, queueID uint64) (model.WaitingCounts, error) {
	out, _, err := r.listInfo(ctx, "WHERE q.id = ?", queueID)
	if err != nil {
		return model.WaitingCounts{}, err
	}
	if len(out) == 0 {
		return model.WaitingCounts{}, errors.Wrap(model.ErrNotFound, "queue counts")
	}
	return out[0].Counts, nil
}

// IDs lists every queue id in ascending order.
func (r *QueueRepo) IDs(ctx context.Context) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id FROM queues ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "list queue ids")
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan queue id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "list queue ids")
}

func queryEntries(ctx context.Context, db interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, query string, args ...any) ([]model.Entry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query entries")
	}
	defer rows.Close()
	var out []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan entry")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "query entries")
}

const waitingQuery = "SELECT " + entryColumns + " FROM queue_entries qe WHERE qe.queue_id = ? AND qe.priority = ? AND qe.status = 'waiting' ORDER BY qe.entered_at, qe.id"

// Waiting lists waiting entries of one class ordered by (entered_at, id).
func (r *QueueRepo) Waiting(ctx context.Context, queueID uint64, p model.Priority) ([]model.Entry, error) {
	return queryEntries(ctx, r.db, waitingQuery, queueID, p.String())
}

// Entries lists every entry of a queue by ascending id, served ones included.
func (r *QueueRepo) Entries(ctx context.Context, queueID uint64) ([]model.Entry, error) {
	return queryEntries(ctx, r.db, "SELECT "+entryColumns+" FROM queue_entries qe WHERE qe.queue_id = ? ORDER BY qe.id", queueID)
}

func (r *QueueRepo) details(ctx context.Context, query string, args ...any) ([]model.EntryDetail, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query customer entries")
	}
	defer rows.Close()
	var out []model.EntryDetail
	for rows.Next() {
		var d model.EntryDetail
		e, err := scanEntry(rows, &d.QueueName, &d.EstablishmentName)
		if err != nil {
			return nil, errors.Wrap(err, "scan customer entry")
		}
		d.Entry = e
		out = append(out, d)
	}
	return out, errors.Wrap(rows.Err(), "query customer entries")
}

const detailFrom = ` FROM queue_entries qe
  JOIN queues q ON q.id = qe.queue_id
  JOIN establishments e ON e.id = q.establishment_id`

// CustomerWaiting lists the customer's waiting entries by entered_at.
func (r *QueueRepo) CustomerWaiting(ctx context.Context, customerID uint64) ([]model.EntryDetail, error) {
	return r.details(ctx, "SELECT "+entryColumns+", q.name, e.name"+detailFrom+
		" WHERE qe.customer_id = ? AND qe.status = 'waiting' ORDER BY qe.entered_at, qe.id", customerID)
}

// CustomerHistory lists the customer's non-waiting entries, newest first.
func (r *QueueRepo) CustomerHistory(ctx context.Context, customerID uint64, limit int) ([]model.EntryDetail, error) {
	return r.details(ctx, "SELECT "+entryColumns+", q.name, e.name"+detailFrom+
		" WHERE qe.customer_id = ? AND qe.status <> 'waiting' ORDER BY qe.entered_at DESC, qe.id DESC LIMIT ?", customerID, limit)
}

// AverageWait is the mean time between joining and being served across the
// owner's queues.  It is zero when nobody was served yet.
func (r *QueueRepo) AverageWait(ctx context.Context, ownerID uint64) (time.Duration, error) {
	var micros sql.NullFloat64
	err := r.db.QueryRowContext(ctx, `SELECT AVG(TIMESTAMPDIFF(MICROSECOND, qe.entered_at, qe.served_at))`+detailFrom+`
 WHERE e.owner_id = ? AND qe.status = 'served' AND qe.served_at IS NOT NULL`, ownerID).Scan(&micros)
	if err != nil {
		return 0, errors.Wrap(err, "average wait")
	}
	if !micros.Valid {
		return 0, nil
	}
	return time.Duration(micros.Float64) * time.Microsecond, nil
}

// RunInTx implements engine.Store.  Transactions run at READ COMMITTED so
// reads made after queueTx.Queue has locked the queue row see every commit
// that preceded the lock.  Deadlocks and lock wait timeouts come back as
// model.ErrVersionConflict so the engine retries them.
func (r *QueueRepo) RunInTx(ctx context.Context, fn func(tx engine.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&queueTx{tx: tx}); err != nil {
		return contention(err)
	}
	if err := tx.Commit(); err != nil {
		return contention(errors.Wrap(err, "commit"))
	}
	committed = true
	return nil
}

// queueTx implements engine.Tx on a *sql.Tx.
type queueTx struct{ tx *sql.Tx }

// Queue locks the queue row until the transaction ends, so mutations of one
// queue run one after another.
func (t *queueTx) Queue(ctx context.Context, id uint64) (model.Queue, error) {
	q, err := scanQueue(t.tx.QueryRowContext(ctx, "SELECT "+queueColumns+" FROM queues q WHERE q.id = ? FOR UPDATE", id))
	if err != nil {
		return model.Queue{}, notFound(err, "load queue")
	}
	return q, nil
}

func (t *queueTx) Establishment(ctx context.Context, id uint64) (model.Establishment, error) {
	e, err := scanEstablishment(t.tx.QueryRowContext(ctx,
		"SELECT "+establishmentColumns+" FROM establishments WHERE id = ?", id))
	if err != nil {
		return model.Establishment{}, notFound(err, "load establishment")
	}
	return e, nil
}

func (t *queueTx) CountWaiting(ctx context.Context, queueID uint64, p model.Priority) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queue_entries WHERE queue_id = ? AND priority = ? AND status = 'waiting'",
		queueID, p.String()).Scan(&n)
	return n, errors.Wrap(err, "count waiting")
}

func (t *queueTx) HasWaiting(ctx context.Context, queueID, customerID uint64) (bool, error) {
	var ok bool
	err := t.tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM queue_entries WHERE queue_id = ? AND customer_id = ? AND status = 'waiting')",
		queueID, customerID).Scan(&ok)
	return ok, errors.Wrap(err, "check waiting entry")
}

func (t *queueTx) Waiting(ctx context.Context, queueID uint64, p model.Priority) ([]model.Entry, error) {
	return queryEntries(ctx, t.tx, waitingQuery, queueID, p.String())
}

func (t *queueTx) InsertEntry(ctx context.Context, e *model.Entry) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO queue_entries (queue_id, customer_id, position, status, priority, entered_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.QueueID, e.CustomerID, e.Position, e.Status.String(), e.Priority.String(), e.EnteredAt)
	if err != nil {
		return errors.Wrap(err, "insert entry")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "insert entry")
	}
	e.ID = uint64(id)
	return nil
}

func (t *queueTx) MarkServed(ctx context.Context, entryID uint64, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE queue_entries SET status = 'served', served_at = ? WHERE id = ? AND status = 'waiting'", at, entryID)
	return stillWaiting(res, err, entryID, "mark entry served")
}

func (t *queueTx) SetPosition(ctx context.Context, entryID uint64, position int) error {
	_, err := t.tx.ExecContext(ctx, "UPDATE queue_entries SET position = ? WHERE id = ?", position, entryID)
	return errors.Wrap(err, "set position")
}

func (t *queueTx) CustomerEntry(ctx context.Context, entryID, customerID uint64) (model.Entry, error) {
	e, err := scanEntry(t.tx.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM queue_entries qe WHERE qe.id = ? AND qe.customer_id = ?", entryID, customerID))
	if err != nil {
		return model.Entry{}, notFound(err, "load customer entry")
	}
	return e, nil
}

func (t *queueTx) DeleteEntry(ctx context.Context, entryID uint64) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM queue_entries WHERE id = ? AND status = 'waiting'", entryID)
	return stillWaiting(res, err, entryID, "delete entry")
}

// BumpVersion is the optimistic check: zero rows means another transaction
// committed a change to the queue after this one read it.
func (t *queueTx) BumpVersion(ctx context.Context, queueID, expected uint64) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE queues SET version = version + 1 WHERE id = ? AND version = ?", queueID, expected)
	if err != nil {
		return errors.Wrap(err, "bump queue version")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "bump queue version")
	}
	if n == 0 {
		return errors.Wrapf(model.ErrVersionConflict, "queue %d moved past version %d", queueID, expected)
	}
	return nil
}
