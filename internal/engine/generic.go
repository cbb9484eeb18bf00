package engine

import (
	"context"
	"fmt"
)

// Find: типизированный Search.
func Find[T any](ctx context.Context, st Store, prototype *T) ([]*T, error) {
	found, err := st.Search(ctx, prototype)
	if err != nil {
		return nil, err
	}
	return typed[T](found)
}

// FindFields: типизированный SearchFields.
func FindFields[T any](ctx context.Context, st Store, prototype *T, fields ...string) ([]*T, error) {
	found, err := st.SearchFields(ctx, prototype, fields...)
	if err != nil {
		return nil, err
	}
	return typed[T](found)
}

// FindWhere: типизированный SearchSieve.
func FindWhere[T any](ctx context.Context, st Store, prototype *T, sieve func(*T) bool) ([]*T, error) {
	found, err := st.SearchSieve(ctx, prototype, func(x any) bool {
		t, ok := x.(*T)
		return ok && (sieve == nil || sieve(t))
	})
	if err != nil {
		return nil, err
	}
	return typed[T](found)
}

// Only возвращает единственное совпадение; ни одного или несколько: ErrNoUniqueField.
func Only[T any](ctx context.Context, st Store, prototype *T) (*T, error) {
	found, err := Find(ctx, st, prototype)
	if err != nil {
		return nil, err
	}
	if len(found) != 1 {
		return nil, fmt.Errorf("%w: %d rows match", ErrNoUniqueField, len(found))
	}
	return found[0], nil
}

func typed[T any](found []any) ([]*T, error) {
	out := make([]*T, 0, len(found))
	for _, x := range found {
		t, ok := x.(*T)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected %T", ErrNotEntity, x)
		}
		out = append(out, t)
	}
	return out, nil
}
