package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes the repositories translate.
const (
	pgUniqueViolation     = "23505"
	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgRestrictViolation   = "23001"
	pgStringTooLong       = "22001"
	pgNumericOutOfRange   = "22003"
	pgInvalidText         = "22P02"
)

// mapWriteError translates driver errors into ErrDuplicate or ErrConstraint,
// keeping the original error in the chain.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%w (%s): %w", ErrDuplicate, pgErr.ConstraintName, err)
	case pgNotNullViolation, pgForeignKeyViolation, pgCheckViolation, pgRestrictViolation,
		pgStringTooLong, pgNumericOutOfRange, pgInvalidText:
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	default:
		return err
	}
}
