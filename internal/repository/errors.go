// Package repository implements the persistence contracts on MySQL.  Every
// method reports missing rows as model.ErrNotFound so handlers and the
// engine can classify failures without knowing about database/sql.
package repository

import (
	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/iliyamo/virtual-queue/internal/model"
)

// MySQL server error numbers the repositories react to.
const (
	errDupEntry     = 1062
	errLockWaitTime = 1205
	errNoReferenced = 1452
	errDeadlock     = 1213
)

func mysqlCode(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// notFound maps sql.ErrNoRows to model.ErrNotFound and wraps anything else.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(model.ErrNotFound, what)
	}
	return errors.Wrap(err, what)
}

// contention maps lock timeouts and deadlocks to model.ErrVersionConflict so
// the engine retries them like a lost optimistic update.
func contention(err error) error {
	switch mysqlCode(err) {
	case errDeadlock, errLockWaitTime:
		return errors.Wrap(model.ErrVersionConflict, err.Error())
	}
	return err
}

// affectedOne turns a zero row count into model.ErrNotFound.
func affectedOne(res sql.Result, err error, what string) error {
	if err != nil {
		return errors.Wrap(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, what)
	}
	if n == 0 {
		return errors.Wrap(model.ErrNotFound, what)
	}
	return nil
}

// stillWaiting is affectedOne for writes guarded by status = 'waiting'.  Zero
// rows means the entry was served or removed after this transaction read it,
// which is a lost race rather than a missing row.
func stillWaiting(res sql.Result, err error, entryID uint64, what string) error {
	if err != nil {
		return errors.Wrap(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, what)
	}
	if n == 0 {
		return errors.Wrapf(model.ErrVersionConflict, "%s: entry %d is no longer waiting", what, entryID)
	}
	return nil
}
