package engine

import (
	"context"
	"database/sql"
	"fmt"
)

// runner исполняет запросы одной операции (или Batch) в общей транзакции.
type runner struct {
	s     *Session
	tx    *sql.Tx
	scope bool // внутри Batch: каждая операция под своим savepoint
	sp    int
	undo  []func() // откат ключей, записанных в экземпляры
}

// stmt берёт запрос из кэша сессии, привязанный к транзакции.
func (r *runner) stmt(ctx context.Context, key string, build func() string) (*sql.Stmt, error) {
	return r.s.stmts.bind(ctx, r.tx, key, build)
}

// revert возвращает экземплярам ключи, которые были до неудавшейся транзакции.
func (r *runner) revert() {
	for i := len(r.undo) - 1; i >= 0; i-- {
		r.undo[i]()
	}
	r.undo = nil
}

func (r *runner) exec(ctx context.Context, key string, build func() string, args ...any) (sql.Result, error) {
	st, err := r.stmt(ctx, key, build)
	if err != nil {
		return nil, err
	}
	return st.ExecContext(ctx, args...)
}

func (r *runner) query(ctx context.Context, key string, build func() string, args ...any) (*sql.Rows, error) {
	st, err := r.stmt(ctx, key, build)
	if err != nil {
		return nil, err
	}
	return st.QueryContext(ctx, args...)
}

// readAll дочитывает и закрывает курсор до любых вложенных запросов.
func readAll(rows *sql.Rows, m *entityMeta) ([][]any, error) {
	defer rows.Close()
	var out [][]any
	for rows.Next() {
		dest := m.scanDests()
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, dest)
	}
	return out, rows.Err()
}

// atomic изолирует операцию внутри Batch: ошибка откатывает только её.
func (r *runner) atomic(ctx context.Context, fn func() error) error {
	if !r.scope {
		return fn()
	}
	r.sp++
	name := fmt.Sprintf("protorm_op_%d", r.sp)
	if _, err := r.tx.ExecContext(ctx, "savepoint "+name); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(); err != nil {
		if _, rerr := r.tx.ExecContext(ctx, "rollback to savepoint "+name); rerr != nil {
			return fmt.Errorf("%w (rollback to savepoint: %v)", err, rerr)
		}
		return err
	}
	if _, err := r.tx.ExecContext(ctx, "release savepoint "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}
