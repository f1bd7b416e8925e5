package ci

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound means the token or run id does not resolve to an active run. It never
	// tells apart a run that never existed from one that already finished.
	ErrNotFound = errors.New("run not found")

	// ErrConsistencyViolation means an unfinished run was in neither queue when it was
	// completed. The transaction is rolled back and the run is left untouched.
	ErrConsistencyViolation = errors.New("unfinished run has no queue membership")

	// ErrValidation wraps malformed or missing input, rejected before any write
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a transaction still hits lock contention after a retry
	ErrConflict = errors.New("transaction conflict")

	// ErrWrongPool is returned by admin overrides when the run is not in the named queue
	ErrWrongPool = errors.New("run is not in the expected queue")

	// ErrUntrusted is returned when a pull request author is not on the trusted list
	ErrUntrusted = errors.New("author is not trusted")
)

const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func pgCode(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func isConflict(err error) bool {
	code, _ := pgCode(err)
	return code == pgSerializationFailure || code == pgDeadlockDetected
}

func isUniqueViolation(err error, constraint string) bool {
	code, name := pgCode(err)
	return code == pgUniqueViolation && name == constraint
}

func isForeignKeyViolation(err error) bool {
	code, _ := pgCode(err)
	return code == pgForeignKeyViolation
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isConsistencyViolation(err error) bool {
	return errors.Is(err, ErrConsistencyViolation)
}
