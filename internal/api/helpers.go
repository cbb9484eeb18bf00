package api

import (
	"encoding/json"
	"fmt"
	"reflect"

	"protorm/internal/dsl"
	"protorm/internal/engine"
)

// maxRefDepth ограничивает вложенность ссылок во входном JSON.
const maxRefDepth = 8

// newInstance: пустой экземпляр сущности: sentinel-поля сразу «не заданы».
func newInstance(e *dsl.Entity) reflect.Value {
	p := reflect.New(e.Type)
	v := p.Elem()
	for i := range e.Fields {
		f := &e.Fields[i]
		if !f.HasSentinel() || f.Pointer {
			continue
		}
		fv := f.Value(v)
		switch s := f.Sentinel.(type) {
		case int64:
			if fv.CanInt() {
				fv.SetInt(s)
			} else if fv.CanUint() && s >= 0 {
				fv.SetUint(uint64(s))
			}
		case float64:
			if fv.CanFloat() {
				fv.SetFloat(s)
			}
		}
	}
	return p
}

// decode собирает экземпляр (*T) из JSON-объекта. Ключи: имя поля Go или колонка;
// null оставляет поле незаданным. Ссылки: объект с ключом цели или сам ключ.
func decode(c *dsl.Catalog, e *dsl.Entity, body map[string]json.RawMessage) (reflect.Value, error) {
	p := newInstance(e)
	if err := decodeInto(c, e, body, p.Elem(), 0); err != nil {
		return reflect.Value{}, err
	}
	return p, nil
}

func decodeInto(c *dsl.Catalog, e *dsl.Entity, body map[string]json.RawMessage, v reflect.Value, depth int) error {
	for name, raw := range body {
		f, ok := e.Field(name)
		if !ok {
			return fmt.Errorf("%w: %s has no field %q", engine.ErrInvalidDescriptor, e.Name, name)
		}
		if string(raw) == "null" {
			continue
		}
		fv := f.Value(v)
		switch f.Role {
		case dsl.RoleToOne:
			ref, err := decodeRef(c, f, raw, depth)
			if err != nil {
				return err
			}
			fv.Set(ref)
		case dsl.RoleToMany:
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return fmt.Errorf("%w: %s.%s: expected an array: %v", engine.ErrInvalidDescriptor, e.Name, f.Name, err)
			}
			coll := reflect.MakeSlice(fv.Type(), 0, len(items))
			for _, item := range items {
				ref, err := decodeRef(c, f, item, depth)
				if err != nil {
					return err
				}
				coll = reflect.Append(coll, ref)
			}
			fv.Set(coll)
		default:
			if err := json.Unmarshal(raw, fv.Addr().Interface()); err != nil {
				return fmt.Errorf("%w: %s.%s: %v", engine.ErrInvalidDescriptor, e.Name, f.Name, err)
			}
		}
	}
	return nil
}

func decodeRef(c *dsl.Catalog, f *dsl.Field, raw json.RawMessage, depth int) (reflect.Value, error) {
	target, ok := c.ByType(f.TargetType)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %s is not attached", engine.ErrInvalidRelationTarget, f.Target)
	}
	if depth >= maxRefDepth {
		return reflect.Value{}, fmt.Errorf("%w: %s: references nested deeper than %d", engine.ErrInvalidDescriptor, f.Name, maxRefDepth)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		p := newInstance(target)
		if err := decodeInto(c, target, obj, p.Elem(), depth+1); err != nil {
			return reflect.Value{}, err
		}
		return p, nil
	}

	// сокращённая форма: значение единственного ключевого поля
	keys := target.KeyFields()
	if len(keys) != 1 {
		return reflect.Value{}, fmt.Errorf("%w: %s: %s has a composite key, pass an object", engine.ErrInvalidDescriptor, f.Name, target.Name)
	}
	p := newInstance(target)
	if err := json.Unmarshal(raw, keys[0].Value(p.Elem()).Addr().Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %s: %v", engine.ErrInvalidDescriptor, f.Name, err)
	}
	return p, nil
}

// flatten: плоское JSON-представление экземпляра по колонкам.
// Ссылки выводятся только ключами цели, поэтому циклы графа не мешают.
func flatten(c *dsl.Catalog, e *dsl.Entity, v reflect.Value) map[string]any {
	out := make(map[string]any, len(e.Fields))
	for i := range e.Fields {
		f := &e.Fields[i]
		fv := f.Value(v)
		switch f.Role {
		case dsl.RoleToOne:
			target, ok := c.ByType(f.TargetType)
			if !ok || fv.IsNil() {
				out[f.Column] = nil
				continue
			}
			out[f.Column] = keyObject(target, fv.Elem())
		case dsl.RoleToMany:
			target, ok := c.ByType(f.TargetType)
			items := make([]map[string]any, 0, fv.Len())
			for j := 0; ok && j < fv.Len(); j++ {
				if el := fv.Index(j); !el.IsNil() {
					items = append(items, keyObject(target, el.Elem()))
				}
			}
			out[f.Column] = items
		default:
			switch {
			case f.HasSentinel() && f.IsUnset(v):
				out[f.Column] = nil
			case fv.Kind() == reflect.Pointer && fv.IsNil():
				out[f.Column] = nil
			case fv.Kind() == reflect.Pointer:
				out[f.Column] = fv.Elem().Interface()
			default:
				out[f.Column] = fv.Interface()
			}
		}
	}
	return out
}

func keyObject(e *dsl.Entity, v reflect.Value) map[string]any {
	out := make(map[string]any, len(e.PrimaryKey))
	for _, kf := range e.KeyFields() {
		out[kf.Column] = kf.Value(v).Interface()
	}
	return out
}

func flattenAll(c *dsl.Catalog, e *dsl.Entity, found []any) []map[string]any {
	out := make([]map[string]any, 0, len(found))
	for _, x := range found {
		out = append(out, flatten(c, e, reflect.ValueOf(x).Elem()))
	}
	return out
}
