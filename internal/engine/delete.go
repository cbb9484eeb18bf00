package engine

import (
	"context"
	"reflect"
)

// Delete удаляет строки, совпадающие с прототипом, и возвращает их число.
// Прототип без заданных полей удаляет все строки. Строки связи владельца
// удаляются первыми; зависимые строки следуют политике внешних ключей,
// нарушение RESTRICT отменяет удаление целиком (ErrCascadeViolation).
func (s *Session) Delete(ctx context.Context, prototype any) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	m, v, err := s.resolve(prototype)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.run(ctx, "delete", m.name(), func(r *runner) error {
		n, err = r.delete(ctx, m, v)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *runner) delete(ctx context.Context, m *entityMeta, v reflect.Value) (int64, error) {
	var n int64
	err := r.atomic(ctx, func() error {
		args := m.prototypeArgs(v)
		for _, tm := range m.many {
			if _, err := r.exec(ctx, "link_delete:"+m.name()+"."+tm.field.Name,
				func() string { return m.deleteLinksSQL(tm) }, args...); err != nil {
				return classify("delete", m.name(), err)
			}
		}
		res, err := r.exec(ctx, "delete:"+m.name(), m.deleteSQL, args...)
		if err != nil {
			return classify("delete", m.name(), err)
		}
		n, err = res.RowsAffected()
		if err != nil {
			return err
		}
		r.s.log.Debug("deleted", "entity", m.name(), "rows", n)
		return nil
	})
	return n, err
}
