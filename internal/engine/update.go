package engine

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
)

// Update перезаписывает строку, найденную по первичному ключу и/или unique-полям.
// Должна найтись ровно одна строка. Коллекции заменяются текущим содержимым.
func (s *Session) Update(ctx context.Context, instance any) error {
	if err := s.ready(); err != nil {
		return err
	}
	m, v, err := s.resolve(instance)
	if err != nil {
		return err
	}
	return s.run(ctx, "update", m.name(), func(r *runner) error {
		return r.update(ctx, m, v)
	})
}

func (r *runner) update(ctx context.Context, m *entityMeta, v reflect.Value) error {
	return r.atomic(ctx, func() error {
		if err := validate(m.e, v, true); err != nil {
			return err
		}
		owner, err := r.locate(ctx, m, v)
		if err != nil {
			return err
		}

		args, _, err := r.writeArgs(m, v, owner, false, true)
		if err != nil {
			return err
		}
		if m.updateSQL() != "" {
			args = append(args, owner...)
			if _, err := r.exec(ctx, "update:"+m.name(), m.updateSQL, args...); err != nil {
				return classify("update", m.name(), err)
			}
		}

		for _, tm := range m.many {
			if _, err := r.exec(ctx, "link_clear:"+m.name()+"."+tm.field.Name,
				func() string { return clearLinksSQL(tm) }, owner...); err != nil {
				return classify("update", m.name(), err)
			}
		}
		if err := r.writeLinks(ctx, "update", m, v, owner); err != nil {
			return err
		}
		r.s.log.Debug("updated", "entity", m.name(), "key", owner)
		return nil
	})
}

// locate блокирует строку, идентифицированную заданными ключевыми полями,
// и возвращает её первичный ключ.
func (r *runner) locate(ctx context.Context, m *entityMeta, v reflect.Value) ([]any, error) {
	var (
		groups [][]int
		names  []string
		args   []any
	)
	if key, ok := m.instanceKey(v); ok {
		groups = append(groups, m.keys)
		names = append(names, "pk")
		args = append(args, key...)
	}
	for i, c := range m.cols {
		if c.part >= 0 || !c.field.Unique || c.field.IsUnset(v) {
			continue
		}
		groups = append(groups, []int{i})
		names = append(names, c.name)
		args = append(args, sqlValue(c.kind, c.field.Value(v)))
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: %s: neither the primary key nor a unique field is set", ErrNoUniqueField, m.name())
	}

	rows, err := r.query(ctx, "lock:"+m.name()+":"+strings.Join(names, ","),
		func() string { return m.lockSQL(groups) }, args...)
	if err != nil {
		return nil, classify("update", m.name(), err)
	}
	keys, err := readKeys(rows, m)
	if err != nil {
		return nil, classify("update", m.name(), err)
	}
	if len(keys) != 1 {
		return nil, fmt.Errorf("%w: %s: %d rows match (%s)", ErrNoUniqueField, m.name(), len(keys), strings.Join(names, ", "))
	}
	return keys[0], nil
}

func readKeys(rows *sql.Rows, m *entityMeta) ([][]any, error) {
	defer rows.Close()
	var out [][]any
	for rows.Next() {
		dest := make([]any, len(m.keys))
		for k, i := range m.keys {
			dest[k] = scanDest(m.cols[i].kind)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		vals := make([]any, len(dest))
		for k := range dest {
			vals[k], _ = nullValue(dest[k])
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}
