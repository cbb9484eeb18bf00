package engine

import (
	"context"
	"reflect"
)

// pendingRel: экземпляр, чьи связи ещё не разрешены.
type pendingRel struct {
	m   *entityMeta
	ptr reflect.Value
	row []any
}

// materializer собирает графы объектов из строк. Identity-кэш живёт один вызов:
// каждая строка (таблица, ключ) превращается ровно в один экземпляр, поэтому
// циклы и ссылки на себя замыкаются на уже созданные указатели.
// Связи разрешаются через очередь, без рекурсии.
type materializer struct {
	r     *runner
	seen  map[string]reflect.Value
	queue []pendingRel
}

func newMaterializer(r *runner) *materializer {
	return &materializer{r: r, seen: map[string]reflect.Value{}}
}

// load превращает строки в экземпляры и разрешает все достижимые связи.
func (mt *materializer) load(ctx context.Context, m *entityMeta, rows [][]any) ([]any, error) {
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, mt.instance(m, row).Interface())
	}
	if err := mt.drain(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// instance возвращает кэшированный экземпляр или создаёт новый. Новый экземпляр
// попадает в кэш до разрешения связей.
func (mt *materializer) instance(m *entityMeta, row []any) reflect.Value {
	key := m.rowIdentity(row)
	if p, ok := mt.seen[key]; ok {
		return p
	}
	p := reflect.New(m.e.Type)
	v := p.Elem()
	for i, c := range m.cols {
		if c.part >= 0 {
			continue
		}
		val, ok := nullValue(row[i])
		assign(c.field, c.field.Value(v), val, ok)
	}
	mt.seen[key] = p
	if len(m.one) > 0 || len(m.many) > 0 {
		mt.queue = append(mt.queue, pendingRel{m: m, ptr: p, row: row})
	}
	return p
}

func (mt *materializer) drain(ctx context.Context) error {
	for len(mt.queue) > 0 {
		next := mt.queue[0]
		mt.queue = mt.queue[1:]
		if err := mt.resolve(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

func (mt *materializer) resolve(ctx context.Context, p pendingRel) error {
	v := p.ptr.Elem()
	for _, one := range p.m.one {
		vals := make([]any, len(one.cols))
		complete := true
		for k, i := range one.cols {
			val, ok := nullValue(p.row[i])
			if !ok {
				complete = false
				break
			}
			vals[k] = val
		}
		if !complete {
			continue
		}
		target := mt.r.s.metaOf(one.field.TargetType)
		tp, ok := mt.seen[identity(target.e.Table, vals)]
		if !ok {
			rows, err := mt.r.query(ctx, "bykey:"+target.name(), target.byKeySQL, vals...)
			if err != nil {
				return classify("search", target.name(), err)
			}
			data, err := readAll(rows, target)
			if err != nil {
				return classify("search", target.name(), err)
			}
			if len(data) == 0 {
				continue
			}
			tp = mt.instance(target, data[0])
		}
		one.field.Value(v).Set(tp)
	}

	if len(p.m.many) == 0 {
		return nil
	}
	owner := p.m.keyValues(p.row)
	for _, tm := range p.m.many {
		target := mt.r.s.metaOf(tm.field.TargetType)
		rows, err := mt.r.query(ctx, "links:"+p.m.name()+"."+tm.field.Name,
			func() string { return linksSQL(tm, target) }, owner...)
		if err != nil {
			return classify("search", p.m.name(), err)
		}
		data, err := readAll(rows, target)
		if err != nil {
			return classify("search", p.m.name(), err)
		}
		if len(data) == 0 {
			continue
		}
		fv := tm.field.Value(v)
		coll := reflect.MakeSlice(fv.Type(), 0, len(data))
		for _, row := range data {
			coll = reflect.Append(coll, mt.instance(target, row))
		}
		fv.Set(coll)
	}
	return nil
}
