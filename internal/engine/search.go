package engine

import (
	"context"
	"fmt"
	"reflect"

	"protorm/internal/dsl"
)

// Search возвращает экземпляры (*T), совпадающие с заданными полями прототипа.
// Незаданные поля: джокеры; строки сравниваются через LIKE.
func (s *Session) Search(ctx context.Context, prototype any) ([]any, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	m, v, err := s.resolve(prototype)
	if err != nil {
		return nil, err
	}
	var out []any
	err = s.run(ctx, "search", m.name(), func(r *runner) error {
		out, err = r.search(ctx, m, v)
		return err
	})
	return out, err
}

// SearchFields сравнивает только перечисленные поля (имя Go или колонка);
// незаданное поле из списка совпадает с NULL.
func (s *Session) SearchFields(ctx context.Context, prototype any, fields ...string) ([]any, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	m, v, err := s.resolve(prototype)
	if err != nil {
		return nil, err
	}
	named, err := searchableFields(m.e, fields)
	if err != nil {
		return nil, err
	}
	var out []any
	err = s.run(ctx, "search", m.name(), func(r *runner) error {
		out, err = r.searchFields(ctx, m, v, named)
		return err
	})
	return out, err
}

// SearchSieve: Search с последующей фильтрацией в памяти.
func (s *Session) SearchSieve(ctx context.Context, prototype any, sieve func(any) bool) ([]any, error) {
	found, err := s.Search(ctx, prototype)
	if err != nil {
		return nil, err
	}
	return sift(found, sieve), nil
}

func sift(found []any, sieve func(any) bool) []any {
	if sieve == nil {
		return found
	}
	out := found[:0]
	for _, x := range found {
		if sieve(x) {
			out = append(out, x)
		}
	}
	return out
}

func searchableFields(e *dsl.Entity, names []string) ([]*dsl.Field, error) {
	out := make([]*dsl.Field, 0, len(names))
	for _, n := range names {
		f, ok := e.Field(n)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no field %q", ErrInvalidDescriptor, e.Name, n)
		}
		if f.Role == dsl.RoleToMany {
			return nil, fmt.Errorf("%w: %s.%s: collections cannot be searched by value", ErrInvalidDescriptor, e.Name, f.Name)
		}
		out = append(out, f)
	}
	return out, nil
}

func (r *runner) search(ctx context.Context, m *entityMeta, v reflect.Value) ([]any, error) {
	rows, err := r.query(ctx, "search:"+m.name(), m.searchSQL, m.prototypeArgs(v)...)
	if err != nil {
		return nil, classify("search", m.name(), err)
	}
	data, err := readAll(rows, m)
	if err != nil {
		return nil, classify("search", m.name(), err)
	}
	return newMaterializer(r).load(ctx, m, data)
}

func (r *runner) searchFields(ctx context.Context, m *entityMeta, v reflect.Value, fields []*dsl.Field) ([]any, error) {
	where, args := m.fieldsPredicate(v, fields)
	query := fmt.Sprintf("select %s from %s where %s order by %s", m.selectList(""), m.table, where, m.keyList(""))
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("search", m.name(), err)
	}
	data, err := readAll(rows, m)
	if err != nil {
		return nil, classify("search", m.name(), err)
	}
	return newMaterializer(r).load(ctx, m, data)
}
