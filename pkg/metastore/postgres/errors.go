package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/haulfs/haulfs/pkg/metastore"
)

// isRetryableError reports whether err is a Postgres deadlock or
// serialization failure, grounded on transaction.go's isRetryableError.
func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01", "40001":
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapPgError translates pgx/Postgres errors into metastore sentinel
// errors where one applies, wrapping everything else with the operation
// name for context.
func mapPgError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return metastore.ErrNotFound
	}
	if isUniqueViolation(err) {
		return metastore.ErrAlreadyExists
	}
	return fmt.Errorf("metastore/postgres: %s: %w", op, err)
}
