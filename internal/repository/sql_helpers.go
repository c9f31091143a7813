package repository

import (
	"errors"
	"strings"

	studysphere_errors "studysphere/pkg/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// sqlite without a translator
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// translateError maps driver errors onto the package sentinels. Anything
// unrecognised is reported as a store failure.
func translateError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, studysphere_errors.ErrNotFound),
		errors.Is(err, studysphere_errors.ErrAlreadyExists),
		errors.Is(err, studysphere_errors.ErrStoreUnavailable):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return studysphere_errors.ErrNotFound
	case isUniqueViolation(err):
		return studysphere_errors.ErrAlreadyExists
	default:
		return studysphere_errors.Store(op, err)
	}
}

// mustAffect turns a zero-row update into ErrNotFound.
func mustAffect(op string, res *gorm.DB) error {
	if res.Error != nil {
		return translateError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return studysphere_errors.ErrNotFound
	}
	return nil
}
