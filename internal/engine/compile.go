package engine

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/lib/pq"

	"protorm/internal/dsl"
	"protorm/internal/pg"
)

// column: хранимая колонка сущности: скаляр или часть внешнего ключа.
type column struct {
	name     string
	field    *dsl.Field
	part     int // номер колонки ключа цели для FK, -1 для скаляров
	kind     dsl.Kind
	identity bool
	target   *dsl.Entity // для FK-колонок
}

type toOneMeta struct {
	field *dsl.Field
	cols  []int // индексы FK-колонок в entityMeta.cols
}

type toManyMeta struct {
	field *dsl.Field
	j     *pg.Junction
	table string
}

// entityMeta: скомпилированное представление сущности для построения SQL.
type entityMeta struct {
	e     *dsl.Entity
	table string // экранированное имя с namespace
	cols  []column
	keys  []int // индексы pk-колонок в cols
	one   []toOneMeta
	many  []toManyMeta
}

func compileEntity(e *dsl.Entity, p *pg.Planner) *entityMeta {
	m := &entityMeta{e: e, table: p.Qualify(e.Table)}
	for i := range e.Fields {
		f := &e.Fields[i]
		switch f.Role {
		case dsl.RoleToMany:
			j, _ := p.JunctionFor(e, f)
			m.many = append(m.many, toManyMeta{field: f, j: j, table: p.Qualify(j.Table)})
		case dsl.RoleToOne:
			target, _ := p.Catalog().ByType(f.TargetType)
			one := toOneMeta{field: f}
			for k, kf := range target.KeyFields() {
				one.cols = append(one.cols, len(m.cols))
				m.cols = append(m.cols, column{name: f.RefColumns[k], field: f, part: k, kind: kf.Kind, target: target})
			}
			m.one = append(m.one, one)
		default:
			if f.Role == dsl.RolePrimaryKey {
				m.keys = append(m.keys, len(m.cols))
			}
			m.cols = append(m.cols, column{
				name:     f.Column,
				field:    f,
				part:     -1,
				kind:     f.Kind,
				identity: f.Auto && f.Kind == dsl.KindInt,
			})
		}
	}
	return m
}

func (m *entityMeta) name() string { return m.e.Name }

func (m *entityMeta) identityCol() (int, bool) {
	for _, i := range m.keys {
		if m.cols[i].identity {
			return i, true
		}
	}
	return -1, false
}

func (m *entityMeta) scanDests() []any {
	out := make([]any, len(m.cols))
	for i, c := range m.cols {
		out[i] = scanDest(c.kind)
	}
	return out
}

// keyValues: значения первичного ключа из прочитанной строки.
func (m *entityMeta) keyValues(row []any) []any {
	out := make([]any, len(m.keys))
	for k, i := range m.keys {
		out[k], _ = nullValue(row[i])
	}
	return out
}

func (m *entityMeta) rowIdentity(row []any) string {
	return identity(m.e.Table, m.keyValues(row))
}

// instanceKey: значения первичного ключа экземпляра; false, если ключ не задан.
func (m *entityMeta) instanceKey(v reflect.Value) ([]any, bool) {
	out := make([]any, len(m.keys))
	for k, i := range m.keys {
		f := m.cols[i].field
		if f.IsUnset(v) {
			return nil, false
		}
		out[k] = sqlValue(f.Kind, f.Value(v))
	}
	return out, true
}

// --- SQL ---

func quote(name string) string { return pq.QuoteIdentifier(name) }

func (m *entityMeta) selectList(alias string) string {
	parts := make([]string, len(m.cols))
	for i, c := range m.cols {
		if alias != "" {
			parts[i] = alias + "." + quote(c.name)
		} else {
			parts[i] = quote(c.name)
		}
	}
	return strings.Join(parts, ", ")
}

func (m *entityMeta) keyList(alias string) string {
	parts := make([]string, len(m.keys))
	for k, i := range m.keys {
		if alias != "" {
			parts[k] = alias + "." + quote(m.cols[i].name)
		} else {
			parts[k] = quote(m.cols[i].name)
		}
	}
	return strings.Join(parts, ", ")
}

func (m *entityMeta) keyMatch(start int) string {
	parts := make([]string, len(m.keys))
	for k, i := range m.keys {
		parts[k] = fmt.Sprintf("%s = $%d", quote(m.cols[i].name), start+k)
	}
	return strings.Join(parts, " and ")
}

func textual(k dsl.Kind) bool { return k == dsl.KindString || k == dsl.KindEnum }

// matchExpr: строки сравниваются шаблоном (% и _), обратная косая черта литеральна.
func matchExpr(col string, pattern bool, param int) string {
	if pattern {
		return fmt.Sprintf("%s like $%d escape ''", col, param)
	}
	return fmt.Sprintf("%s = $%d", col, param)
}

// prototypePredicate: null-терпимый предикат по всем колонкам: $n is null: джокер.
func (m *entityMeta) prototypePredicate() string {
	parts := make([]string, len(m.cols))
	for i, c := range m.cols {
		parts[i] = fmt.Sprintf("($%d::%s is null or %s)", i+1, pg.CastType(c.kind), matchExpr(quote(c.name), textual(c.kind), i+1))
	}
	return strings.Join(parts, "\n  and ")
}

func (m *entityMeta) searchSQL() string {
	return fmt.Sprintf("select %s from %s\nwhere %s\norder by %s",
		m.selectList(""), m.table, m.prototypePredicate(), m.keyList(""))
}

func (m *entityMeta) byKeySQL() string {
	return fmt.Sprintf("select %s from %s where %s", m.selectList(""), m.table, m.keyMatch(1))
}

// insertSQL; withIdentity=false пропускает identity-колонку (её генерирует база).
func (m *entityMeta) insertSQL(withIdentity bool) string {
	var names, params []string
	for _, c := range m.cols {
		if c.identity && !withIdentity {
			continue
		}
		names = append(names, quote(c.name))
		params = append(params, fmt.Sprintf("$%d", len(params)+1))
	}
	if len(names) == 0 {
		return fmt.Sprintf("insert into %s default values returning %s", m.table, m.keyList(""))
	}
	return fmt.Sprintf("insert into %s (%s) values (%s) returning %s",
		m.table, strings.Join(names, ", "), strings.Join(params, ", "), m.keyList(""))
}

// updateSQL пишет все колонки, кроме первичного ключа; ключ: в конце параметров.
// Пустая строка: обновлять нечего.
func (m *entityMeta) updateSQL() string {
	var sets []string
	for i, c := range m.cols {
		if m.isKey(i) {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", quote(c.name), len(sets)+1))
	}
	if len(sets) == 0 {
		return ""
	}
	return fmt.Sprintf("update %s set %s where %s", m.table, strings.Join(sets, ", "), m.keyMatch(len(sets)+1))
}

func (m *entityMeta) isKey(i int) bool {
	for _, k := range m.keys {
		if k == i {
			return true
		}
	}
	return false
}

func (m *entityMeta) selfLinkSQL(one toOneMeta) string {
	sets := make([]string, len(one.cols))
	for k, i := range one.cols {
		sets[k] = fmt.Sprintf("%s = $%d", quote(m.cols[i].name), k+1)
	}
	return fmt.Sprintf("update %s set %s where %s", m.table, strings.Join(sets, ", "), m.keyMatch(1))
}

// lockSQL: строки, найденные по группам идентифицирующих колонок (OR), под блокировкой.
func (m *entityMeta) lockSQL(groups [][]int) string {
	var ors []string
	n := 0
	for _, g := range groups {
		ands := make([]string, len(g))
		for k, i := range g {
			n++
			ands[k] = fmt.Sprintf("%s = $%d", quote(m.cols[i].name), n)
		}
		ors = append(ors, "("+strings.Join(ands, " and ")+")")
	}
	return fmt.Sprintf("select %s from %s where %s for update", m.keyList(""), m.table, strings.Join(ors, " or "))
}

func (m *entityMeta) deleteSQL() string {
	return fmt.Sprintf("delete from %s\nwhere %s", m.table, m.prototypePredicate())
}

func ownerList(tm toManyMeta) string {
	parts := make([]string, len(tm.j.OwnerColumns))
	for i, c := range tm.j.OwnerColumns {
		parts[i] = quote(c)
	}
	return strings.Join(parts, ", ")
}

func ownerMatch(tm toManyMeta, alias string) string {
	parts := make([]string, len(tm.j.OwnerColumns))
	for i, c := range tm.j.OwnerColumns {
		col := quote(c)
		if alias != "" {
			col = alias + "." + col
		}
		parts[i] = fmt.Sprintf("%s = $%d", col, i+1)
	}
	return strings.Join(parts, " and ")
}

// deleteLinksSQL удаляет строки связи владельцев, подходящих под прототип.
func (m *entityMeta) deleteLinksSQL(tm toManyMeta) string {
	return fmt.Sprintf("delete from %s\nwhere (%s) in (select %s from %s\nwhere %s)",
		tm.table, ownerList(tm), m.keyList(""), m.table, m.prototypePredicate())
}

func clearLinksSQL(tm toManyMeta) string {
	return fmt.Sprintf("delete from %s where %s", tm.table, ownerMatch(tm, ""))
}

func insertLinkSQL(tm toManyMeta) string {
	cols := append(append([]string{}, tm.j.OwnerColumns...), tm.j.TargetColumns...)
	if tm.j.Ordered {
		cols = append(cols, pg.PositionColumn)
	}
	names := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quote(c)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("insert into %s (%s) values (%s)", tm.table, strings.Join(names, ", "), strings.Join(params, ", "))
}

// linksSQL читает цели коллекции владельца одним запросом (join по ключу цели).
func linksSQL(tm toManyMeta, target *entityMeta) string {
	on := make([]string, len(tm.j.TargetColumns))
	for k, c := range tm.j.TargetColumns {
		on[k] = fmt.Sprintf("t.%s = j.%s", quote(target.cols[target.keys[k]].name), quote(c))
	}
	order := target.keyList("t")
	if tm.j.Ordered {
		order = "j." + quote(pg.PositionColumn)
	}
	return fmt.Sprintf("select %s from %s j join %s t on %s where %s order by %s",
		target.selectList("t"), tm.table, target.table, strings.Join(on, " and "), ownerMatch(tm, "j"), order)
}

// fieldsPredicate: ad hoc предикат SearchFields: незаданное поле → is null.
func (m *entityMeta) fieldsPredicate(v reflect.Value, fields []*dsl.Field) (string, []any) {
	var parts []string
	var args []any
	for _, f := range fields {
		for i, c := range m.cols {
			if c.field != f {
				continue
			}
			val := m.columnFilter(i, v)
			if val == nil {
				parts = append(parts, quote(c.name)+" is null")
				continue
			}
			args = append(args, val)
			parts = append(parts, matchExpr(quote(c.name), textual(c.kind), len(args)))
		}
	}
	if len(parts) == 0 {
		return "true", nil
	}
	return strings.Join(parts, " and "), args
}

// columnFilter: значение колонки для предиката; nil: поле не задано.
func (m *entityMeta) columnFilter(i int, v reflect.Value) any {
	c := m.cols[i]
	if c.part < 0 {
		return filterValue(c.field, v)
	}
	tv := c.field.Value(v)
	if tv.IsNil() {
		return nil
	}
	target := tv.Elem()
	kf := c.target.KeyFields()[c.part]
	if kf.IsUnset(target) {
		return nil
	}
	return sqlValue(kf.Kind, kf.Value(target))
}

// prototypeArgs: параметры prototypePredicate.
func (m *entityMeta) prototypeArgs(v reflect.Value) []any {
	args := make([]any, len(m.cols))
	for i := range m.cols {
		args[i] = m.columnFilter(i, v)
	}
	return args
}

// shapes: постоянные формы запросов сущности по ключам кэша.
// Блокировка по нескольким идентифицирующим группам сразу сюда не входит.
func (m *entityMeta) shapes(metas map[reflect.Type]*entityMeta) map[string]func() string {
	n := m.name()
	out := map[string]func() string{
		"search:" + n:       m.searchSQL,
		"bykey:" + n:        m.byKeySQL,
		"delete:" + n:       m.deleteSQL,
		"insert:" + n:       func() string { return m.insertSQL(true) },
		"lock:" + n + ":pk": func() string { return m.lockSQL([][]int{m.keys}) },
	}
	if _, ok := m.identityCol(); ok {
		out["insert_generated:"+n] = func() string { return m.insertSQL(false) }
	}
	if m.updateSQL() != "" {
		out["update:"+n] = m.updateSQL
	}
	for i, c := range m.cols {
		if c.part < 0 && c.field.Unique {
			out["lock:"+n+":"+c.name] = func() string { return m.lockSQL([][]int{{i}}) }
		}
	}
	for _, one := range m.one {
		if one.field.TargetType == m.e.Type {
			out["selflink:"+n+"."+one.field.Name] = func() string { return m.selfLinkSQL(one) }
		}
	}
	for _, tm := range m.many {
		target := metas[tm.field.TargetType]
		f := n + "." + tm.field.Name
		out["link_delete:"+f] = func() string { return m.deleteLinksSQL(tm) }
		out["link_clear:"+f] = func() string { return clearLinksSQL(tm) }
		out["link_insert:"+f] = func() string { return insertLinkSQL(tm) }
		out["links:"+f] = func() string { return linksSQL(tm, target) }
	}
	return out
}
