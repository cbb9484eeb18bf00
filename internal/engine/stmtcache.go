package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
)

// stmtCache: подготовленные запросы по ключу (сущность, форма).
// Формы готовятся на пуле в Build, пока операции не держат соединений.
// Операция привязывает запрос к своей транзакции и второго соединения не берёт.
type stmtCache struct {
	db     *sql.DB
	log    *slog.Logger
	m      sync.Map // string -> *sql.Stmt
	misses atomic.Int64
}

// prepare готовит запрос на пуле; повторный и гоночный вызовы сходятся к одному Stmt.
func (c *stmtCache) prepare(ctx context.Context, key, query string) error {
	if _, ok := c.m.Load(key); ok {
		return nil
	}
	st, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", key, err)
	}
	if _, loaded := c.m.LoadOrStore(key, st); loaded {
		_ = st.Close()
		return nil
	}
	c.log.Debug("statement compiled", "key", key)
	return nil
}

// bind возвращает запрос, привязанный к tx. Форма, которой нет в кэше,
// готовится на соединении самой транзакции и закрывается вместе с ней.
func (c *stmtCache) bind(ctx context.Context, tx *sql.Tx, key string, build func() string) (*sql.Stmt, error) {
	if v, ok := c.m.Load(key); ok {
		return tx.StmtContext(ctx, v.(*sql.Stmt)), nil
	}
	c.misses.Add(1)
	st, err := tx.PrepareContext(ctx, build())
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", key, err)
	}
	c.log.Debug("statement prepared in transaction", "key", key)
	return st, nil
}

// warm готовит все постоянные формы запросов сущностей.
func (c *stmtCache) warm(ctx context.Context, metas map[reflect.Type]*entityMeta) error {
	for _, m := range metas {
		for key, build := range m.shapes(metas) {
			if err := c.prepare(ctx, key, build()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *stmtCache) len() int {
	n := 0
	c.m.Range(func(_, _ any) bool { n++; return true })
	return n
}

func (c *stmtCache) close() {
	c.m.Range(func(k, v any) bool {
		_ = v.(*sql.Stmt).Close()
		c.m.Delete(k)
		return true
	})
}
