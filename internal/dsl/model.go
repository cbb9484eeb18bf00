package dsl

import (
	"reflect"
	"time"
)

// Kind: семантический тип поля.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindDate   Kind = "date"
	KindEnum   Kind = "enum"
	KindRef    Kind = "ref"
	KindArray  Kind = "array"
)

// Numeric сообщает, допустимы ли для типа sentinel и range.
func (k Kind) Numeric() bool { return k == KindInt || k == KindFloat }

// Role: роль поля в сущности.
type Role int

const (
	RoleEntry Role = iota
	RolePrimaryKey
	RoleToOne
	RoleToMany
)

func (r Role) String() string {
	switch r {
	case RolePrimaryKey:
		return "primary_key"
	case RoleToOne:
		return "to_one"
	case RoleToMany:
		return "to_many"
	default:
		return "entry"
	}
}

// Policy: поведение зависимых строк при удалении/обновлении цели.
type Policy string

const (
	PolicyRestrict Policy = "RESTRICT"
	PolicySetNull  Policy = "SET NULL"
	PolicyCascade  Policy = "CASCADE"
)

// Range: числовой диапазон [Low, High].
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Constraint: либо перечень допустимых значений, либо диапазон.
type Constraint struct {
	Domain []string `json:"domain,omitempty"`
	Range  *Range   `json:"range,omitempty"`
}

// Empty: ограничений нет.
func (c Constraint) Empty() bool { return len(c.Domain) == 0 && c.Range == nil }

// Field описывает поле сущности
type Field struct {
	Name   string // имя поля в Go
	Column string
	Kind   Kind
	Role   Role
	Index  []int // путь reflect до поля, вычисляется один раз при attach
	GoType reflect.Type

	Pointer  bool // *T: nil = NULL
	NotNull  bool
	Unique   bool
	Auto     bool
	Ordered  bool
	OnDelete Policy
	OnUpdate Policy

	Constraint Constraint
	Default    any // нормализованное значение (string, int64, float64, bool, time.Time)
	Sentinel   any // только для числовых полей

	// ссылки
	Target     string       // имя целевой сущности
	TargetType reflect.Type // тип структуры цели
	RefColumns []string     // колонки FK (to-one), заполняются при Freeze
}

// HasDefault / HasSentinel: удобные проверки опций.
func (f *Field) HasDefault() bool  { return f.Default != nil }
func (f *Field) HasSentinel() bool { return f.Sentinel != nil }

// IsRelation: to-one или to-many.
func (f *Field) IsRelation() bool { return f.Role == RoleToOne || f.Role == RoleToMany }

// Value возвращает значение поля у экземпляра (v: структура, не указатель).
func (f *Field) Value(v reflect.Value) reflect.Value { return v.FieldByIndex(f.Index) }

// IsUnset: поле считается «не заданным»: nil, sentinel или zero value.
func (f *Field) IsUnset(v reflect.Value) bool {
	fv := f.Value(v)
	switch fv.Kind() {
	case reflect.Pointer:
		if fv.IsNil() {
			return true
		}
		if f.HasSentinel() {
			return scalarEquals(f.Kind, fv.Elem(), f.Sentinel)
		}
		return false
	case reflect.Slice:
		return fv.Len() == 0
	}
	if f.HasSentinel() {
		return scalarEquals(f.Kind, fv, f.Sentinel)
	}
	return fv.IsZero()
}

func scalarEquals(k Kind, v reflect.Value, want any) bool {
	switch k {
	case KindInt:
		w, _ := want.(int64)
		switch v.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return w >= 0 && v.Uint() == uint64(w)
		}
		return v.Int() == w
	case KindFloat:
		w, _ := want.(float64)
		return v.Float() == w
	}
	return false
}

// Entity описывает структуру сущности
type Entity struct {
	Name       string
	Table      string
	Type       reflect.Type
	Fields     []Field
	PrimaryKey []int // индексы в Fields
	Unique     []int
	SelfRef    bool
}

// Field ищет поле по имени Go или по колонке.
func (e *Entity) Field(name string) (*Field, bool) {
	for i := range e.Fields {
		if e.Fields[i].Name == name || e.Fields[i].Column == name {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// KeyFields: поля первичного ключа в порядке объявления.
func (e *Entity) KeyFields() []*Field {
	out := make([]*Field, 0, len(e.PrimaryKey))
	for _, i := range e.PrimaryKey {
		out = append(out, &e.Fields[i])
	}
	return out
}

// KeyColumns: колонки первичного ключа.
func (e *Entity) KeyColumns() []string {
	out := make([]string, 0, len(e.PrimaryKey))
	for _, i := range e.PrimaryKey {
		out = append(out, e.Fields[i].Column)
	}
	return out
}

// AutoField: автогенерируемое поле первичного ключа, если есть.
func (e *Entity) AutoField() *Field {
	for _, i := range e.PrimaryKey {
		if e.Fields[i].Auto {
			return &e.Fields[i]
		}
	}
	return nil
}

// Relations: поля-ссылки указанной роли.
func (e *Entity) Relations(role Role) []*Field {
	var out []*Field
	for i := range e.Fields {
		if e.Fields[i].Role == role {
			out = append(out, &e.Fields[i])
		}
	}
	return out
}

var timeType = reflect.TypeOf(time.Time{})
