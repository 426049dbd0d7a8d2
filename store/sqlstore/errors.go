package sqlstore

import (
	"errors"
	"fmt"

	"github.com/getpup/medallion"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/zeebo/errs"
)

// Error is the class of unexpected database failures.
var Error = errs.Class("sqlstore")

// isUniqueViolation reports whether err is a duplicate key error from any supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == 2627 || msErr.Number == 2601
	}
	return false
}

// isForeignKeyViolation reports whether err is a broken reference error from any supported driver.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1452 || myErr.Number == 1451
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number == 547
	}
	return false
}

// classify maps driver errors to medallion errors. Constraint violations become
// medallion constraint errors, everything unexpected is wrapped in Error.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, medallion.ErrNotFound),
		errors.Is(err, medallion.ErrInvalidArgument),
		medallion.IsConstraint(err):
		return err
	case isUniqueViolation(err):
		return medallion.Constraintf("%s: duplicate key: %v", op, err)
	case isForeignKeyViolation(err):
		return medallion.Constraintf("%s: broken reference: %v", op, err)
	}
	return Error.Wrap(fmt.Errorf("failed to %s: %w", op, err))
}
