package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"stockledger/server/internal/apperr"
)

// SQLSTATE коды, которые сервис различает
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgNumericOutOfRange    = "22003"
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
)

// classifyError переводит ошибки драйвера в таксономию apperr.
// Неизвестные ошибки возвращаются как есть (станут Unexpected на границе API)
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperr.Conflict(fmt.Sprintf("Запись с таким значением уже существует (%s)", pgErr.ConstraintName), err)
		case pgForeignKeyViolation:
			return apperr.Conflict(fmt.Sprintf("Нарушена ссылочная целостность (%s)", pgErr.ConstraintName), err)
		case pgCheckViolation:
			return apperr.Conflict(fmt.Sprintf("Нарушено ограничение (%s)", pgErr.ConstraintName), err)
		case pgNumericOutOfRange:
			field := pgErr.ColumnName
			if field == "" {
				field = "numeric"
			}
			return apperr.InvalidQuantity(field, err)
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return apperr.LockTimeout(err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.LockTimeout(err)
	}
	return err
}
