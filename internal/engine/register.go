package engine

import (
	"context"
	"fmt"
	"reflect"

	"github.com/oklog/ulid/v2"

	"protorm/internal/dsl"
)

// Register вставляет экземпляр и строки связи его коллекций в одной транзакции.
// Автогенерируемый ключ записывается обратно в экземпляр.
func (s *Session) Register(ctx context.Context, instance any) error {
	if err := s.ready(); err != nil {
		return err
	}
	m, v, err := s.resolve(instance)
	if err != nil {
		return err
	}
	return s.run(ctx, "register", m.name(), func(r *runner) error {
		return r.register(ctx, m, v)
	})
}

// AttemptRegister: как Register, но конфликт ключа даёт 0 вместо ошибки.
func (s *Session) AttemptRegister(ctx context.Context, instance any) (int64, error) {
	return attempt(s.Register(ctx, instance))
}

func attempt(err error) (int64, error) {
	switch {
	case err == nil:
		return 1, nil
	case IsDuplicateKeyErr(err):
		return 0, nil
	default:
		return 0, err
	}
}

func (r *runner) register(ctx context.Context, m *entityMeta, v reflect.Value) error {
	return r.atomic(ctx, func() error {
		restore, err := r.insert(ctx, m, v)
		if restore == nil {
			return err
		}
		if err != nil {
			restore()
			return err
		}
		r.undo = append(r.undo, restore)
		return nil
	})
}

// insert возвращает restore для отката сгенерированного ключа при ошибке.
func (r *runner) insert(ctx context.Context, m *entityMeta, v reflect.Value) (func(), error) {
	if err := validate(m.e, v, false); err != nil {
		return nil, err
	}

	var restore func()
	withIdentity := true
	idCol, hasIdentity := m.identityCol()
	if hasIdentity && m.cols[idCol].field.IsUnset(v) {
		withIdentity = false
	}
	if af := m.e.AutoField(); af != nil && af.Kind != dsl.KindInt && af.IsUnset(v) {
		fv := af.Value(v)
		old := reflect.New(fv.Type()).Elem()
		old.Set(fv)
		setScalar(fv, ulid.Make().String())
		restore = func() { fv.Set(old) }
	}

	var selfKey []any
	if withIdentity {
		selfKey, _ = m.instanceKey(v)
	}
	args, deferred, err := r.writeArgs(m, v, selfKey, !withIdentity, false)
	if err != nil {
		return restore, err
	}

	key, shape := "insert:"+m.name(), true
	if hasIdentity && !withIdentity {
		key, shape = "insert_generated:"+m.name(), false
	}
	st, err := r.stmt(ctx, key, func() string { return m.insertSQL(shape) })
	if err != nil {
		return restore, err
	}
	dest := make([]any, len(m.keys))
	for k, i := range m.keys {
		dest[k] = scanDest(m.cols[i].kind)
	}
	if err := st.QueryRowContext(ctx, args...).Scan(dest...); err != nil {
		return restore, classify("register", m.name(), err)
	}
	keyVals := make([]any, len(dest))
	for k := range dest {
		keyVals[k], _ = nullValue(dest[k])
	}
	if hasIdentity && !withIdentity {
		f := m.cols[idCol].field
		fv := f.Value(v)
		old := reflect.New(fv.Type()).Elem()
		old.Set(fv)
		assign(f, fv, keyVals[0], true)
		restore = func() { fv.Set(old) }
	}

	// ссылка на самого себя при ключе, известном только после вставки
	for _, one := range deferred {
		_, err := r.exec(ctx, "selflink:"+m.name()+"."+one.field.Name,
			func() string { return m.selfLinkSQL(one) }, keyVals...)
		if err != nil {
			return restore, classify("register", m.name(), err)
		}
	}

	if err := r.writeLinks(ctx, "register", m, v, keyVals); err != nil {
		return restore, err
	}
	r.s.log.Debug("registered", "entity", m.name(), "key", keyVals)
	return restore, nil
}

// writeArgs: значения колонок для записи.
// selfKey: ключ самого экземпляра (nil, если он ещё не известен: такие
// ссылки на себя возвращаются в deferred и пишутся после вставки).
func (r *runner) writeArgs(m *entityMeta, v reflect.Value, selfKey []any, skipIdentity, skipKeys bool) ([]any, []toOneMeta, error) {
	self := v.Addr().Pointer()
	args := make([]any, 0, len(m.cols))
	var deferred []toOneMeta
	for i, c := range m.cols {
		if (c.identity && skipIdentity) || (skipKeys && m.isKey(i)) {
			continue
		}
		if c.part < 0 {
			args = append(args, writeValue(c.field, v))
			continue
		}
		tv := c.field.Value(v)
		switch {
		case tv.IsNil():
			args = append(args, nil)
		case tv.Pointer() == self && selfKey != nil:
			args = append(args, selfKey[c.part])
		case tv.Pointer() == self:
			args = append(args, nil)
			if c.part == 0 {
				deferred = append(deferred, m.toOne(c.field))
			}
		default:
			kf := c.target.KeyFields()[c.part]
			target := tv.Elem()
			if kf.IsUnset(target) {
				return nil, nil, &FieldError{
					Entity: m.name(), Field: c.field.Name, Code: CodeRelation,
					Message: fmt.Sprintf("referenced %s has no primary key value (register it first)", c.target.Name),
				}
			}
			args = append(args, sqlValue(kf.Kind, kf.Value(target)))
		}
	}
	return args, deferred, nil
}

func (m *entityMeta) toOne(f *dsl.Field) toOneMeta {
	for _, one := range m.one {
		if one.field == f {
			return one
		}
	}
	return toOneMeta{field: f}
}

// writeLinks вставляет строки связи всех коллекций владельца.
func (r *runner) writeLinks(ctx context.Context, op string, m *entityMeta, v reflect.Value, owner []any) error {
	self := v.Addr().Pointer()
	for _, tm := range m.many {
		coll := tm.field.Value(v)
		target := r.s.metaOf(tm.field.TargetType)
		for i := 0; i < coll.Len(); i++ {
			el := coll.Index(i)
			if el.IsNil() {
				continue
			}
			tkey := owner
			if el.Pointer() != self {
				k, ok := target.instanceKey(el.Elem())
				if !ok {
					return &FieldError{
						Entity: m.name(), Field: tm.field.Name, Code: CodeRelation,
						Message: fmt.Sprintf("element %d (%s) has no primary key value (register it first)", i, target.name()),
					}
				}
				tkey = k
			}
			args := make([]any, 0, len(owner)+len(tkey)+1)
			args = append(append(args, owner...), tkey...)
			if tm.j.Ordered {
				args = append(args, int64(i))
			}
			if _, err := r.exec(ctx, "link_insert:"+m.name()+"."+tm.field.Name,
				func() string { return insertLinkSQL(tm) }, args...); err != nil {
				return classify(op, m.name(), err)
			}
		}
	}
	return nil
}
