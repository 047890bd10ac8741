package repository

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
