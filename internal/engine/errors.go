package engine

import (
	"errors"
	"fmt"

	"protorm/internal/dsl"
	"protorm/internal/pg"
)

// Ошибки регистрации и сборки схемы: из dsl и pg.
var (
	ErrNoPrimaryKey          = dsl.ErrNoPrimaryKey
	ErrInvalidRelationTarget = dsl.ErrInvalidRelationTarget
	ErrAmbiguousName         = dsl.ErrAmbiguousName
	ErrInvalidDescriptor     = dsl.ErrInvalidDescriptor
	ErrNotEntity             = dsl.ErrNotEntity
	ErrImproperSchema        = pg.ErrImproperSchema
)

var (
	// ErrNotReady: операция вызвана до успешного Build или после Close.
	ErrNotReady = errors.New("protorm: session is not ready")

	// ErrBuildStarted: attach/detach/build после начала сборки схемы.
	ErrBuildStarted = errors.New("protorm: schema build already started")

	// ErrDuplicateKey: конфликт первичного ключа или unique-поля.
	ErrDuplicateKey = errors.New("protorm: duplicate key")

	// ErrNoUniqueField: update не смог однозначно определить строку.
	ErrNoUniqueField = errors.New("protorm: no unique field identifies exactly one row")

	// ErrConstraintViolation: значение вне domain/range или пропущено обязательное поле.
	ErrConstraintViolation = errors.New("protorm: constraint violation")

	// ErrCascadeViolation: удаление запрещено зависимыми строками (RESTRICT).
	ErrCascadeViolation = errors.New("protorm: delete restricted by dependent rows")
)

// IsNotReadyErr returns true if err is or wraps ErrNotReady.
func IsNotReadyErr(err error) bool { return errors.Is(err, ErrNotReady) }

// IsBuildStartedErr returns true if err is or wraps ErrBuildStarted.
func IsBuildStartedErr(err error) bool { return errors.Is(err, ErrBuildStarted) }

// IsDuplicateKeyErr returns true if err is or wraps ErrDuplicateKey.
func IsDuplicateKeyErr(err error) bool { return errors.Is(err, ErrDuplicateKey) }

// IsNoUniqueFieldErr returns true if err is or wraps ErrNoUniqueField.
func IsNoUniqueFieldErr(err error) bool { return errors.Is(err, ErrNoUniqueField) }

// IsConstraintViolationErr returns true if err is or wraps ErrConstraintViolation.
func IsConstraintViolationErr(err error) bool { return errors.Is(err, ErrConstraintViolation) }

// IsCascadeViolationErr returns true if err is or wraps ErrCascadeViolation.
func IsCascadeViolationErr(err error) bool { return errors.Is(err, ErrCascadeViolation) }

// IsImproperSchemaErr returns true if err is or wraps ErrImproperSchema.
func IsImproperSchemaErr(err error) bool { return errors.Is(err, ErrImproperSchema) }

// Коды FieldError.
const (
	CodeRequired = "required"
	CodeDomain   = "domain"
	CodeRange    = "range"
	CodeRelation = "relation"
	CodeReserved = "reserved" // значение совпадает с default sentinel-поля
)

// FieldError описывает нарушение ограничения одного поля.
type FieldError struct {
	Entity  string `json:"entity"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %s: %s", e.Entity, e.Field, e.Code, e.Message)
}

func (e *FieldError) Unwrap() error { return ErrConstraintViolation }

// FieldErrors разворачивает ошибку валидации в список полей.
func FieldErrors(err error) []*FieldError {
	var out []*FieldError
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if fe, ok := err.(*FieldError); ok {
			out = append(out, fe)
			return
		}
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range x.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return out
}

// classify сопоставляет SQLSTATE с ошибками движка.
func classify(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	switch pg.SQLState(err) {
	case pg.CodeUniqueViolation:
		return fmt.Errorf("%s %s: %w: %w", op, entity, ErrDuplicateKey, err)
	case pg.CodeForeignKeyViolation, pg.CodeRestrictViolation:
		if op == "delete" {
			return fmt.Errorf("%s %s: %w: %w", op, entity, ErrCascadeViolation, err)
		}
		return fmt.Errorf("%s %s: %w: %w", op, entity, ErrInvalidRelationTarget, err)
	case "23514", "23502": // check_violation, not_null_violation
		return fmt.Errorf("%s %s: %w: %w", op, entity, ErrConstraintViolation, err)
	}
	return fmt.Errorf("%s %s: %w", op, entity, err)
}
