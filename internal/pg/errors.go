package pg

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrImproperSchema: существующая таблица не совпадает с ожидаемой формой.
var ErrImproperSchema = errors.New("protorm: existing schema does not match entity descriptors")

// IsImproperSchemaErr returns true if err is or wraps ErrImproperSchema.
func IsImproperSchemaErr(err error) bool { return errors.Is(err, ErrImproperSchema) }

// SQLSTATE-коды, которые различает движок.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeRestrictViolation   = "23001"
	CodeDuplicateObject     = "42710"
)

// SQLState извлекает код ошибки из pgx (*pgconn.PgError) или lib/pq (*pq.Error).
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// Constraint: имя нарушенного ограничения, если драйвер его сообщил.
func Constraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}

func IsUniqueViolation(err error) bool { return SQLState(err) == CodeUniqueViolation }

// IsForeignKeyViolation: включая RESTRICT (23001).
func IsForeignKeyViolation(err error) bool {
	switch SQLState(err) {
	case CodeForeignKeyViolation, CodeRestrictViolation:
		return true
	}
	return false
}

func IsDuplicateObject(err error) bool { return SQLState(err) == CodeDuplicateObject }
