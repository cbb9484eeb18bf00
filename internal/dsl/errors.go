package dsl

import "errors"

// Ошибки регистрации сущностей. Оборачиваются через %w с контекстом (тип, поле).
var (
	// ErrNoPrimaryKey: у сущности нет ни одного поля с опцией pk.
	ErrNoPrimaryKey = errors.New("protorm: entity has no primary key")

	// ErrInvalidRelationTarget: цель ссылки не зарегистрирована как сущность.
	ErrInvalidRelationTarget = errors.New("protorm: relation target is not a registered entity")

	// ErrAmbiguousName: совпали имена сущностей, таблиц или колонок.
	ErrAmbiguousName = errors.New("protorm: ambiguous name")

	// ErrInvalidDescriptor: некорректный тег или неподдерживаемый тип поля.
	ErrInvalidDescriptor = errors.New("protorm: invalid entity descriptor")

	// ErrNotEntity: значение не является зарегистрированной структурой-сущностью.
	ErrNotEntity = errors.New("protorm: not an entity")
)

// IsNoPrimaryKeyErr returns true if err is or wraps ErrNoPrimaryKey.
func IsNoPrimaryKeyErr(err error) bool { return errors.Is(err, ErrNoPrimaryKey) }

// IsInvalidRelationTargetErr returns true if err is or wraps ErrInvalidRelationTarget.
func IsInvalidRelationTargetErr(err error) bool { return errors.Is(err, ErrInvalidRelationTarget) }

// IsAmbiguousNameErr returns true if err is or wraps ErrAmbiguousName.
func IsAmbiguousNameErr(err error) bool { return errors.Is(err, ErrAmbiguousName) }

// IsInvalidDescriptorErr returns true if err is or wraps ErrInvalidDescriptor.
func IsInvalidDescriptorErr(err error) bool { return errors.Is(err, ErrInvalidDescriptor) }
