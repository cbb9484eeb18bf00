package engine

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"protorm/internal/dsl"
)

// sqlValue приводит заданное значение поля к типу драйвера.
func sqlValue(k dsl.Kind, fv reflect.Value) any {
	if fv.Kind() == reflect.Pointer {
		fv = fv.Elem()
	}
	switch k {
	case dsl.KindString, dsl.KindEnum:
		return fv.String()
	case dsl.KindInt:
		switch fv.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(fv.Uint())
		}
		return fv.Int()
	case dsl.KindFloat:
		return fv.Float()
	case dsl.KindBool:
		return fv.Bool()
	case dsl.KindDate:
		t, _ := fv.Interface().(time.Time)
		return t
	}
	return fv.Interface()
}

// writeValue: значение для записи: не заданное поле → default или NULL.
func writeValue(f *dsl.Field, v reflect.Value) any {
	if f.IsUnset(v) {
		if f.HasDefault() {
			return f.Default
		}
		return nil
	}
	return sqlValue(f.Kind, f.Value(v))
}

// filterValue: значение для предиката: не заданное поле → NULL (джокер).
func filterValue(f *dsl.Field, v reflect.Value) any {
	if f.IsUnset(v) {
		return nil
	}
	return sqlValue(f.Kind, f.Value(v))
}

func scanDest(k dsl.Kind) any {
	switch k {
	case dsl.KindInt:
		return new(sql.NullInt64)
	case dsl.KindFloat:
		return new(sql.NullFloat64)
	case dsl.KindBool:
		return new(sql.NullBool)
	case dsl.KindDate:
		return new(sql.NullTime)
	default:
		return new(sql.NullString)
	}
}

// nullValue разворачивает sql.Null*; false: SQL NULL.
func nullValue(dest any) (any, bool) {
	switch d := dest.(type) {
	case *sql.NullInt64:
		return d.Int64, d.Valid
	case *sql.NullFloat64:
		return d.Float64, d.Valid
	case *sql.NullBool:
		return d.Bool, d.Valid
	case *sql.NullTime:
		return d.Time, d.Valid
	case *sql.NullString:
		return d.String, d.Valid
	}
	return nil, false
}

// assign записывает прочитанное значение в поле.
// NULL → sentinel / nil / zero; на sentinel-поле значение, равное default, → sentinel.
func assign(f *dsl.Field, fv reflect.Value, val any, valid bool) {
	switch {
	case !valid && f.HasSentinel():
		setScalar(fv, f.Sentinel)
	case !valid:
		fv.Set(reflect.Zero(fv.Type()))
	case f.HasSentinel() && f.HasDefault() && val == f.Default:
		setScalar(fv, f.Sentinel)
	default:
		setScalar(fv, val)
	}
}

func setScalar(fv reflect.Value, val any) {
	if fv.Kind() == reflect.Pointer {
		p := reflect.New(fv.Type().Elem())
		setBase(p.Elem(), val)
		fv.Set(p)
		return
	}
	setBase(fv, val)
}

func setBase(dst reflect.Value, val any) {
	switch x := val.(type) {
	case string:
		dst.SetString(x)
	case int64:
		switch dst.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			dst.SetUint(uint64(x))
		default:
			dst.SetInt(x)
		}
	case float64:
		dst.SetFloat(x)
	case bool:
		dst.SetBool(x)
	case time.Time:
		dst.Set(reflect.ValueOf(x))
	}
}

// identity: ключ identity-кэша: таблица + кортеж первичного ключа.
// Каждая часть пишется с длиной, так что разделитель внутри значения не склеивает кортежи.
func identity(table string, vals []any) string {
	var b strings.Builder
	part := func(s string) { fmt.Fprintf(&b, "%d:%s", len(s), s) }
	part(table)
	for _, v := range vals {
		if t, ok := v.(time.Time); ok {
			part(t.UTC().Format(time.RFC3339Nano))
			continue
		}
		part(fmt.Sprint(v))
	}
	return b.String()
}
