package engine

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"

	"protorm/internal/dsl"
)

// validate проверяет экземпляр перед записью: обязательные поля, domain, range
// и значения, которые не пережили бы чтение обратно.
// Обращения к хранилищу нет. forUpdate: незаданный первичный ключ допустим
// (строку ищут по unique-полям).
func validate(e *dsl.Entity, v reflect.Value, forUpdate bool) error {
	var errs []error
	add := func(f *dsl.Field, code, msg string) {
		errs = append(errs, &FieldError{Entity: e.Name, Field: f.Name, Code: code, Message: msg})
	}

	for i := range e.Fields {
		f := &e.Fields[i]
		if f.Role == dsl.RoleToMany {
			continue
		}
		if f.IsUnset(v) {
			switch {
			case f.Auto, forUpdate && f.Role == dsl.RolePrimaryKey:
			case f.NotNull && !f.HasDefault():
				add(f, CodeRequired, "field is required")
			}
			continue
		}
		if f.Role == dsl.RoleToOne {
			continue
		}
		val := sqlValue(f.Kind, f.Value(v))
		// default на sentinel-поле хранит «не задано» и читается обратно как sentinel
		if f.HasSentinel() && f.HasDefault() && val == f.Default {
			add(f, CodeReserved, fmt.Sprintf("value %v is reserved: the stored default reads back as unset (%v)", val, f.Sentinel))
			continue
		}
		if d := f.Constraint.Domain; len(d) > 0 {
			s := fmt.Sprint(val)
			if !slices.Contains(d, s) {
				add(f, CodeDomain, fmt.Sprintf("value %q is not one of %v", s, d))
			}
		}
		if rg := f.Constraint.Range; rg != nil {
			x := toFloat(val)
			if x < rg.Low || x > rg.High {
				add(f, CodeRange, fmt.Sprintf("value %s is outside [%s, %s]", fmtNum(x), fmtNum(rg.Low), fmtNum(rg.High)))
			}
		}
	}
	return errors.Join(errs...)
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

func fmtNum(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
