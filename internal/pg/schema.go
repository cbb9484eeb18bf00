package pg

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/lib/pq"

	"protorm/internal/dsl"
)

// Column: колонка таблицы в плане.
type Column struct {
	Name     string
	Type     string // тип для DDL
	DataType string // как в information_schema.columns.data_type
	NotNull  bool
	Identity bool
	Default  string // SQL-литерал
	Check    string
	// CheckName содержит хэш выражения: изменённый domain/range даёт другое имя.
	CheckName string
}

// ForeignKey: ограничение второй фазы.
type ForeignKey struct {
	Name       string
	Columns    []string
	RefTable   string
	RefColumns []string
	OnDelete   dsl.Policy
	OnUpdate   dsl.Policy
}

// Table: таблица сущности или junction-таблица.
type Table struct {
	Name        string
	Entity      *dsl.Entity // nil для junction
	Junction    *Junction
	Columns     []Column
	PrimaryKey  []string
	Unique      [][]string
	ForeignKeys []ForeignKey
}

// Junction: таблица связи для to-many поля.
type Junction struct {
	Table         string
	Owner         *dsl.Entity
	Field         *dsl.Field
	Target        *dsl.Entity
	OwnerColumns  []string
	TargetColumns []string
	Ordered       bool
	OnDelete      dsl.Policy // сторона цели; SET NULL вырождается в CASCADE
	OnUpdate      dsl.Policy
}

// PositionColumn: порядковый номер элемента упорядоченной коллекции.
const PositionColumn = "position"

// Planner строит схему по замороженному каталогу.
type Planner struct {
	catalog   *dsl.Catalog
	namespace string
	order     []*dsl.Entity
	junctions []*Junction
	byField   map[string]*Junction // "Entity.Field"
}

// NewPlanner вычисляет порядок создания и junction-таблицы.
// Имя junction-таблицы не должно совпадать с таблицей сущности.
func NewPlanner(c *dsl.Catalog, namespace string) (*Planner, error) {
	p := &Planner{
		catalog:   c,
		namespace: strings.TrimSpace(namespace),
		byField:   map[string]*Junction{},
	}
	p.order = creationOrder(c)

	tables := map[string]string{}
	for _, e := range c.Entities() {
		tables[e.Table] = e.Name
	}
	for _, e := range p.order {
		for _, f := range e.Relations(dsl.RoleToMany) {
			target, _ := c.ByType(f.TargetType)
			j := newJunction(e, f, target)
			if owner, clash := tables[j.Table]; clash {
				return nil, fmt.Errorf("%w: junction table %q for %s.%s collides with %s", dsl.ErrAmbiguousName, j.Table, e.Name, f.Name, owner)
			}
			tables[j.Table] = e.Name + "." + f.Name
			p.junctions = append(p.junctions, j)
			p.byField[e.Name+"."+f.Name] = j
		}
	}
	return p, nil
}

func newJunction(owner *dsl.Entity, f *dsl.Field, target *dsl.Entity) *Junction {
	j := &Junction{
		Table:    owner.Table + "_" + f.Column,
		Owner:    owner,
		Field:    f,
		Target:   target,
		Ordered:  f.Ordered,
		OnDelete: f.OnDelete,
		OnUpdate: f.OnUpdate,
	}
	if j.OnDelete == dsl.PolicySetNull {
		j.OnDelete = dsl.PolicyCascade
	}
	if j.OnUpdate == dsl.PolicySetNull {
		j.OnUpdate = dsl.PolicyCascade
	}
	for _, c := range owner.KeyColumns() {
		j.OwnerColumns = append(j.OwnerColumns, "owner_"+c)
	}
	for _, c := range target.KeyColumns() {
		j.TargetColumns = append(j.TargetColumns, "target_"+c)
	}
	return j
}

// creationOrder: алгоритм Кана: сначала цели ссылок, при равенстве по имени.
// Участники циклов добавляются в конец по имени; их FK создаются второй фазой.
func creationOrder(c *dsl.Catalog) []*dsl.Entity {
	names := c.Names()
	pending := make(map[string]int, len(names))
	dependents := map[string][]string{}
	for _, n := range names {
		for _, d := range c.Dependencies(n) {
			if d == n {
				continue
			}
			pending[n]++
			dependents[d] = append(dependents[d], n)
		}
	}

	var ready []string
	for _, n := range names {
		if pending[n] == 0 {
			ready = append(ready, n)
		}
	}

	out := make([]*dsl.Entity, 0, len(names))
	placed := map[string]bool{}
	for len(ready) > 0 {
		sort.Strings(ready)
		n := ready[0]
		ready = ready[1:]
		e, _ := c.Entity(n)
		out = append(out, e)
		placed[n] = true
		for _, dep := range dependents[n] {
			pending[dep]--
			if pending[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	for _, n := range names {
		if !placed[n] {
			e, _ := c.Entity(n)
			out = append(out, e)
		}
	}
	return out
}

func (p *Planner) Catalog() *dsl.Catalog { return p.catalog }
func (p *Planner) Namespace() string     { return p.namespace }

// CreationOrder: сущности в порядке создания таблиц.
func (p *Planner) CreationOrder() []*dsl.Entity { return slices.Clone(p.order) }

// Junctions: junction-таблицы в порядке создания владельцев.
func (p *Planner) Junctions() []*Junction { return slices.Clone(p.junctions) }

// JunctionFor возвращает junction-таблицу to-many поля.
func (p *Planner) JunctionFor(e *dsl.Entity, f *dsl.Field) (*Junction, bool) {
	j, ok := p.byField[e.Name+"."+f.Name]
	return j, ok
}

// Qualify: экранированное имя таблицы с учётом namespace.
func (p *Planner) Qualify(table string) string {
	if p.namespace == "" {
		return pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(p.namespace) + "." + pq.QuoteIdentifier(table)
}

// Tables: таблицы сущностей в порядке создания, затем junction-таблицы.
func (p *Planner) Tables() []Table {
	out := make([]Table, 0, len(p.order)+len(p.junctions))
	for _, e := range p.order {
		out = append(out, p.entityTable(e))
	}
	for _, j := range p.junctions {
		out = append(out, p.junctionTable(j))
	}
	return out
}

func (p *Planner) entityTable(e *dsl.Entity) Table {
	t := Table{Name: e.Table, Entity: e, PrimaryKey: e.KeyColumns()}
	for i := range e.Fields {
		f := &e.Fields[i]
		switch f.Role {
		case dsl.RoleToMany:
			continue
		case dsl.RoleToOne:
			target, _ := p.catalog.ByType(f.TargetType)
			for k, kf := range target.KeyFields() {
				typ, dt := columnType(kf.Kind)
				t.Columns = append(t.Columns, Column{Name: f.RefColumns[k], Type: typ, DataType: dt, NotNull: f.NotNull})
			}
			t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
				Name:       e.Table + "_" + f.Column + "_fk",
				Columns:    f.RefColumns,
				RefTable:   target.Table,
				RefColumns: target.KeyColumns(),
				OnDelete:   f.OnDelete,
				OnUpdate:   f.OnUpdate,
			})
		default:
			typ, dt := columnType(f.Kind)
			col := Column{Name: f.Column, Type: typ, DataType: dt, NotNull: f.NotNull, Identity: f.Auto && f.Kind == dsl.KindInt}
			if f.HasDefault() {
				col.Default = Literal(f.Default)
			}
			if col.Check = checkExpr(f); col.Check != "" {
				col.CheckName = checkName(e.Table, f.Column, col.Check)
			}
			t.Columns = append(t.Columns, col)
			if f.Unique {
				t.Unique = append(t.Unique, []string{f.Column})
			}
		}
	}
	return t
}

func (p *Planner) junctionTable(j *Junction) Table {
	t := Table{Name: j.Table, Junction: j}
	for k, kf := range j.Owner.KeyFields() {
		typ, dt := columnType(kf.Kind)
		t.Columns = append(t.Columns, Column{Name: j.OwnerColumns[k], Type: typ, DataType: dt, NotNull: true})
	}
	for k, kf := range j.Target.KeyFields() {
		typ, dt := columnType(kf.Kind)
		t.Columns = append(t.Columns, Column{Name: j.TargetColumns[k], Type: typ, DataType: dt, NotNull: true})
	}
	if j.Ordered {
		t.Columns = append(t.Columns, Column{Name: PositionColumn, Type: "bigint", DataType: "bigint", NotNull: true})
	}
	t.PrimaryKey = append(slices.Clone(j.OwnerColumns), j.TargetColumns...)
	// строки связи принадлежат владельцу
	t.ForeignKeys = []ForeignKey{
		{
			Name:       j.Table + "_owner_fk",
			Columns:    j.OwnerColumns,
			RefTable:   j.Owner.Table,
			RefColumns: j.Owner.KeyColumns(),
			OnDelete:   dsl.PolicyCascade,
			OnUpdate:   dsl.PolicyCascade,
		},
		{
			Name:       j.Table + "_target_fk",
			Columns:    j.TargetColumns,
			RefTable:   j.Target.Table,
			RefColumns: j.Target.KeyColumns(),
			OnDelete:   j.OnDelete,
			OnUpdate:   j.OnUpdate,
		},
	}
	return t
}

func columnType(k dsl.Kind) (ddl, dataType string) {
	switch k {
	case dsl.KindInt:
		return "bigint", "bigint"
	case dsl.KindFloat:
		return "double precision", "double precision"
	case dsl.KindBool:
		return "boolean", "boolean"
	case dsl.KindDate:
		return "timestamp with time zone", "timestamp with time zone"
	default:
		// string, enum
		return "text", "text"
	}
}

// CastType: тип для приведения параметра в null-терпимых предикатах.
func CastType(k dsl.Kind) string {
	t, _ := columnType(k)
	if t == "timestamp with time zone" {
		return "timestamptz"
	}
	return t
}

// Literal рендерит нормализованное значение как SQL-литерал.
func Literal(v any) string {
	switch x := v.(type) {
	case string:
		return pq.QuoteLiteral(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return pq.QuoteLiteral(x.Format(time.RFC3339Nano)) + "::timestamptz"
	default:
		return pq.QuoteLiteral(fmt.Sprint(x))
	}
}

func checkExpr(f *dsl.Field) string {
	col := pq.QuoteIdentifier(f.Column)
	var parts []string
	if d := f.Constraint.Domain; len(d) > 0 {
		vals := make([]string, 0, len(d))
		for _, v := range d {
			if f.Kind == dsl.KindInt {
				vals = append(vals, v)
			} else {
				vals = append(vals, pq.QuoteLiteral(v))
			}
		}
		parts = append(parts, fmt.Sprintf("%s in (%s)", col, strings.Join(vals, ", ")))
	}
	if rg := f.Constraint.Range; rg != nil {
		parts = append(parts, fmt.Sprintf("%s between %s and %s", col, Literal(rg.Low), Literal(rg.High)))
	}
	return strings.Join(parts, " and ")
}

// checkName: <table>_<column>_ck_<хэш выражения>, не длиннее 63 байт.
func checkName(table, column, expr string) string {
	prefix := table + "_" + column
	if len(prefix) > 48 {
		prefix = prefix[:48]
	}
	return fmt.Sprintf("%s_ck_%08x", prefix, uint32(xxhash.Sum64String(expr)))
}

func quoteList(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(q, ", ")
}

// Statement: одна DDL-команда плана.
type Statement struct {
	Name string
	SQL  string
}

// Plan: двухфазный DDL: таблицы и индексы, затем внешние ключи.
type Plan struct {
	Namespace   string
	Tables      []Table
	Create      []Statement
	Constraints []Statement
}

// Plan строит DDL, ничего не исполняя.
func (p *Planner) Plan() *Plan {
	plan := &Plan{Namespace: p.namespace, Tables: p.Tables()}
	if p.namespace != "" {
		plan.Create = append(plan.Create, Statement{
			Name: "schema " + p.namespace,
			SQL:  "create schema if not exists " + pq.QuoteIdentifier(p.namespace),
		})
	}

	// --- Phase A: tables + unique ---
	for _, t := range plan.Tables {
		defs := make([]string, 0, len(t.Columns)+1)
		for _, c := range t.Columns {
			defs = append(defs, columnDef(c))
		}
		defs = append(defs, "primary key ("+quoteList(t.PrimaryKey)+")")
		plan.Create = append(plan.Create, Statement{
			Name: "table " + t.Name,
			SQL: fmt.Sprintf("create table if not exists %s (\n  %s\n)",
				p.Qualify(t.Name), strings.Join(defs, ",\n  ")),
		})
		for _, set := range t.Unique {
			idx := t.Name + "_" + strings.Join(set, "_") + "_uq"
			plan.Create = append(plan.Create, Statement{
				Name: "index " + idx,
				SQL: fmt.Sprintf("create unique index if not exists %s on %s (%s)",
					pq.QuoteIdentifier(idx), p.Qualify(t.Name), quoteList(set)),
			})
		}
	}

	// --- Phase B: foreign keys (после создания всех таблиц) ---
	for _, t := range plan.Tables {
		for _, fk := range t.ForeignKeys {
			plan.Constraints = append(plan.Constraints, Statement{
				Name: "constraint " + fk.Name,
				SQL: fmt.Sprintf("alter table %s add constraint %s foreign key (%s) references %s (%s) on delete %s on update %s deferrable initially deferred",
					p.Qualify(t.Name), pq.QuoteIdentifier(fk.Name), quoteList(fk.Columns),
					p.Qualify(fk.RefTable), quoteList(fk.RefColumns),
					strings.ToLower(string(fk.OnDelete)), strings.ToLower(string(fk.OnUpdate))),
			})
		}
	}
	return plan
}

func columnDef(c Column) string {
	var b strings.Builder
	b.WriteString(pq.QuoteIdentifier(c.Name))
	b.WriteString(" ")
	b.WriteString(c.Type)
	if c.Identity {
		b.WriteString(" generated by default as identity")
	}
	if c.NotNull {
		b.WriteString(" not null")
	} else {
		b.WriteString(" null")
	}
	if c.Default != "" {
		b.WriteString(" default ")
		b.WriteString(c.Default)
	}
	if c.Check != "" {
		b.WriteString(" constraint ")
		b.WriteString(pq.QuoteIdentifier(c.CheckName))
		b.WriteString(" check (")
		b.WriteString(c.Check)
		b.WriteString(")")
	}
	return b.String()
}

// SQL: весь план одним скриптом (для `protorm plan` и /api/schema).
func (p *Plan) SQL() string {
	var b strings.Builder
	b.WriteString("-- phase A: tables\n")
	for _, s := range p.Create {
		b.WriteString(s.SQL)
		b.WriteString(";\n")
	}
	if len(p.Constraints) > 0 {
		b.WriteString("\n-- phase B: foreign keys\n")
		for _, s := range p.Constraints {
			b.WriteString(s.SQL)
			b.WriteString(";\n")
		}
	}
	return b.String()
}
