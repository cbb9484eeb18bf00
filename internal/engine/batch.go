package engine

import "context"

// Store: операции над сущностями; реализуют Session и Scope.
type Store interface {
	Register(ctx context.Context, instance any) error
	AttemptRegister(ctx context.Context, instance any) (int64, error)
	Search(ctx context.Context, prototype any) ([]any, error)
	SearchFields(ctx context.Context, prototype any, fields ...string) ([]any, error)
	SearchSieve(ctx context.Context, prototype any, sieve func(any) bool) ([]any, error)
	Update(ctx context.Context, instance any) error
	Delete(ctx context.Context, prototype any) (int64, error)
}

var (
	_ Store = (*Session)(nil)
	_ Store = (*Scope)(nil)
)

// Scope: операции внутри Batch: одна транзакция на все вызовы.
// Ошибка операции откатывает только её (savepoint); Scope остаётся пригодным.
type Scope struct {
	r *runner
}

// Batch исполняет fn в одной транзакции. Ошибка fn (или фиксации) откатывает всё.
// Внешние ключи отложены до фиксации, поэтому взаимно ссылающиеся строки
// можно регистрировать в любом порядке.
func (s *Session) Batch(ctx context.Context, fn func(*Scope) error) error {
	return s.run(ctx, "batch", "scope", func(r *runner) error {
		r.scope = true
		return fn(&Scope{r: r})
	})
}

func (sc *Scope) Register(ctx context.Context, instance any) error {
	m, v, err := sc.r.s.resolve(instance)
	if err != nil {
		return err
	}
	return sc.r.register(ctx, m, v)
}

func (sc *Scope) AttemptRegister(ctx context.Context, instance any) (int64, error) {
	return attempt(sc.Register(ctx, instance))
}

func (sc *Scope) Search(ctx context.Context, prototype any) ([]any, error) {
	m, v, err := sc.r.s.resolve(prototype)
	if err != nil {
		return nil, err
	}
	var out []any
	err = sc.r.atomic(ctx, func() error {
		out, err = sc.r.search(ctx, m, v)
		return err
	})
	return out, err
}

func (sc *Scope) SearchFields(ctx context.Context, prototype any, fields ...string) ([]any, error) {
	m, v, err := sc.r.s.resolve(prototype)
	if err != nil {
		return nil, err
	}
	named, err := searchableFields(m.e, fields)
	if err != nil {
		return nil, err
	}
	var out []any
	err = sc.r.atomic(ctx, func() error {
		out, err = sc.r.searchFields(ctx, m, v, named)
		return err
	})
	return out, err
}

func (sc *Scope) SearchSieve(ctx context.Context, prototype any, sieve func(any) bool) ([]any, error) {
	found, err := sc.Search(ctx, prototype)
	if err != nil {
		return nil, err
	}
	return sift(found, sieve), nil
}

func (sc *Scope) Update(ctx context.Context, instance any) error {
	m, v, err := sc.r.s.resolve(instance)
	if err != nil {
		return err
	}
	return sc.r.update(ctx, m, v)
}

func (sc *Scope) Delete(ctx context.Context, prototype any) (int64, error) {
	m, v, err := sc.r.s.resolve(prototype)
	if err != nil {
		return 0, err
	}
	return sc.r.delete(ctx, m, v)
}
