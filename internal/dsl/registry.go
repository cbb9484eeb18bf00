package dsl

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"protorm/internal/reference"
)

// Tabler позволяет сущности задать имя таблицы явно.
type Tabler interface {
	TableName() string
}

// Registry собирает дескрипторы сущностей до построения схемы.
// Attach/Detach меняют только pending-набор, хранилище не трогают.
type Registry struct {
	mu      sync.Mutex
	pending map[reflect.Type]*Entity
	enums   map[string]reference.EnumDirectory
}

// NewRegistry: enums используются для domain=@catalog (может быть nil).
func NewRegistry(enums map[string]reference.EnumDirectory) *Registry {
	return &Registry{
		pending: make(map[reflect.Type]*Entity),
		enums:   enums,
	}
}

// StructType приводит T, *T или reflect.Type к типу структуры.
func StructType(v any) (reflect.Type, error) {
	var t reflect.Type
	switch x := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil", ErrNotEntity)
	case reflect.Type:
		t = x
	default:
		t = reflect.TypeOf(v)
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t == timeType || t.Name() == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotEntity, t)
	}
	return t, nil
}

// Attach регистрирует пачку типов. Ссылки проверяются против pending ∪ пачки,
// поэтому взаимно ссылающиеся типы регистрируются одним вызовом.
// Пачка применяется целиком или не применяется вовсе.
func (r *Registry) Attach(types ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch := make(map[reflect.Type]struct{}, len(types))
	ordered := make([]reflect.Type, 0, len(types))
	for _, v := range types {
		t, err := StructType(v)
		if err != nil {
			return err
		}
		if _, dup := batch[t]; dup {
			continue
		}
		batch[t] = struct{}{}
		ordered = append(ordered, t)
	}

	known := func(t reflect.Type) bool {
		if _, ok := batch[t]; ok {
			return true
		}
		_, ok := r.pending[t]
		return ok
	}

	built := make([]*Entity, 0, len(ordered))
	for _, t := range ordered {
		e, err := r.buildEntity(t, known)
		if err != nil {
			return err
		}
		built = append(built, e)
	}

	// имена сущностей и таблиц должны быть уникальны
	names := map[string]reflect.Type{}
	tables := map[string]reflect.Type{}
	for t, e := range r.pending {
		if _, replaced := batch[t]; replaced {
			continue
		}
		names[strings.ToLower(e.Name)] = t
		tables[e.Table] = t
	}
	for _, e := range built {
		if other, ok := names[strings.ToLower(e.Name)]; ok && other != e.Type {
			return fmt.Errorf("%w: entity name %q used by %s and %s", ErrAmbiguousName, e.Name, other, e.Type)
		}
		if other, ok := tables[e.Table]; ok && other != e.Type {
			return fmt.Errorf("%w: table %q used by %s and %s", ErrAmbiguousName, e.Table, other, e.Type)
		}
		names[strings.ToLower(e.Name)] = e.Type
		tables[e.Table] = e.Type
	}

	for _, e := range built {
		r.pending[e.Type] = e
	}
	return nil
}

// Detach убирает типы из pending-набора. Неизвестные типы игнорируются.
func (r *Registry) Detach(types ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range types {
		if t, err := StructType(v); err == nil {
			delete(r.pending, t)
		}
	}
}

// Len: размер pending-набора.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) buildEntity(t reflect.Type, known func(reflect.Type) bool) (*Entity, error) {
	e := &Entity{Name: t.Name(), Type: t, Table: tableName(t)}

	if err := r.collectFields(e, t, nil, known); err != nil {
		return nil, err
	}
	if len(e.Fields) == 0 {
		return nil, fmt.Errorf("%w: %s has no mapped fields", ErrInvalidDescriptor, t)
	}

	seen := map[string]string{}
	for i := range e.Fields {
		f := &e.Fields[i]
		if prev, ok := seen[f.Column]; ok {
			return nil, fmt.Errorf("%w: %s: column %q used by %s and %s", ErrAmbiguousName, t, f.Column, prev, f.Name)
		}
		seen[f.Column] = f.Name
		switch {
		case f.Role == RolePrimaryKey:
			e.PrimaryKey = append(e.PrimaryKey, i)
		case f.Unique:
			e.Unique = append(e.Unique, i)
		}
		if f.IsRelation() && f.TargetType == t {
			e.SelfRef = true
		}
	}
	if len(e.PrimaryKey) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, t)
	}
	if len(e.PrimaryKey) > 1 {
		for _, i := range e.PrimaryKey {
			if e.Fields[i].Auto {
				return nil, fmt.Errorf("%w: %s.%s: auto is only supported on a single-column primary key", ErrInvalidDescriptor, t, e.Fields[i].Name)
			}
		}
	}
	return e, nil
}

// collectFields обходит поля структуры; встроенные структуры без тега раскрываются.
func (r *Registry) collectFields(e *Entity, t reflect.Type, prefix []int, known func(reflect.Type) bool) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append([]int{}, prefix...), i)
		raw, tagged := sf.Tag.Lookup(TagName)

		if sf.Anonymous && !tagged {
			ft := sf.Type
			if ft.Kind() == reflect.Struct && ft != timeType {
				if err := r.collectFields(e, ft, index, known); err != nil {
					return err
				}
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}

		spec, err := parseTag(raw)
		if err != nil {
			return fmt.Errorf("%w: %s.%s: %v", ErrInvalidDescriptor, e.Type, sf.Name, err)
		}
		if spec.Skip {
			continue
		}
		f, err := r.buildField(e.Type, sf, index, spec, known)
		if err != nil {
			return err
		}
		e.Fields = append(e.Fields, f)
	}
	return nil
}

func (r *Registry) buildField(owner reflect.Type, sf reflect.StructField, index []int, spec tagSpec, known func(reflect.Type) bool) (Field, error) {
	where := owner.String() + "." + sf.Name
	bad := func(format string, args ...any) (Field, error) {
		return Field{}, fmt.Errorf("%w: %s: %s", ErrInvalidDescriptor, where, fmt.Sprintf(format, args...))
	}

	f := Field{
		Name:     sf.Name,
		Column:   spec.Column,
		Index:    index,
		GoType:   sf.Type,
		OnDelete: PolicyRestrict,
		OnUpdate: PolicyRestrict,
	}
	if f.Column == "" {
		f.Column = SnakeCase(sf.Name)
	}

	ft := sf.Type
	switch {
	case ft.Kind() == reflect.Slice && ft.Elem().Kind() == reflect.Pointer && ft.Elem().Elem().Kind() == reflect.Struct && ft.Elem().Elem() != timeType:
		f.Role, f.Kind, f.TargetType = RoleToMany, KindArray, ft.Elem().Elem()
	case ft.Kind() == reflect.Pointer && ft.Elem().Kind() == reflect.Struct && ft.Elem() != timeType:
		f.Role, f.Kind, f.TargetType = RoleToOne, KindRef, ft.Elem()
		f.Pointer = true
	case ft.Kind() == reflect.Struct && ft != timeType:
		return Field{}, fmt.Errorf("%w: %s: to-one relations must be pointers (*%s)", ErrInvalidRelationTarget, where, ft.Name())
	case ft.Kind() == reflect.Slice && ft.Elem().Kind() == reflect.Struct && ft.Elem() != timeType:
		return Field{}, fmt.Errorf("%w: %s: to-many relations must be []*%s", ErrInvalidRelationTarget, where, ft.Elem().Name())
	default:
		base := ft
		if base.Kind() == reflect.Pointer {
			f.Pointer = true
			base = base.Elem()
		}
		k, ok := scalarKind(base)
		if !ok {
			return bad("unsupported type %s", ft)
		}
		f.Kind = k
	}

	if f.IsRelation() {
		if !known(f.TargetType) {
			return Field{}, fmt.Errorf("%w: %s -> %s", ErrInvalidRelationTarget, where, f.TargetType)
		}
		f.Target = f.TargetType.Name()
		for _, k := range []string{"pk", "auto", "unique", "domain", "range", "sentinel", "default"} {
			if spec.has(k) {
				return bad("option %q is not allowed on a relation", k)
			}
		}
		var err error
		if f.OnDelete, err = parsePolicy(spec.Options["on_delete"]); err != nil {
			return bad("on_delete: %v", err)
		}
		if f.OnUpdate, err = parsePolicy(spec.Options["on_update"]); err != nil {
			return bad("on_update: %v", err)
		}
		if f.Role == RoleToMany {
			f.Ordered = spec.has("ordered")
			if spec.has("notnull") {
				return bad("notnull is not allowed on a to-many relation")
			}
		} else if spec.has("ordered") {
			return bad("ordered is only allowed on a to-many relation")
		}
		f.NotNull = spec.has("notnull")
		return f, nil
	}

	for _, k := range []string{"on_delete", "on_update", "ordered"} {
		if spec.has(k) {
			return bad("option %q is only allowed on a relation", k)
		}
	}

	if spec.has("pk") {
		f.Role = RolePrimaryKey
		f.NotNull = true
		if spec.has("unique") || spec.has("default") || spec.has("sentinel") {
			return bad("pk cannot be combined with unique, default or sentinel")
		}
	} else {
		f.NotNull = spec.has("notnull")
		f.Unique = spec.has("unique")
	}
	if spec.has("auto") {
		if f.Role != RolePrimaryKey || (f.Kind != KindInt && f.Kind != KindString) {
			return bad("auto requires an integer or string pk")
		}
		f.Auto = true
	}

	if raw, ok := spec.Options["domain"]; ok {
		values, err := r.resolveDomain(raw)
		if err != nil {
			return bad("domain: %v", err)
		}
		if f.Kind == KindString {
			f.Kind = KindEnum
		} else if f.Kind != KindInt {
			return bad("domain requires a string or integer field")
		}
		if f.Kind == KindInt {
			for _, v := range values {
				if _, err := ParseLiteral(KindInt, v); err != nil {
					return bad("domain value %q is not an integer", v)
				}
			}
		}
		f.Constraint.Domain = values
	}
	if raw, ok := spec.Options["range"]; ok {
		if !f.Kind.Numeric() {
			return bad("range requires a numeric field")
		}
		rg, err := parseRange(raw)
		if err != nil {
			return bad("%v", err)
		}
		f.Constraint.Range = rg
	}
	if raw, ok := spec.Options["sentinel"]; ok {
		if !f.Kind.Numeric() {
			return bad("sentinel requires a numeric field")
		}
		v, err := ParseLiteral(f.Kind, raw)
		if err != nil {
			return bad("sentinel: %v", err)
		}
		f.Sentinel = v
	}
	if raw, ok := spec.Options["default"]; ok {
		v, err := ParseLiteral(f.Kind, raw)
		if err != nil {
			return bad("default: %v", err)
		}
		f.Default = v
	}
	return f, nil
}

// resolveDomain: "[a,b]" или "@catalog" (коды из YAML-справочника).
func (r *Registry) resolveDomain(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if name, ok := strings.CutPrefix(raw, "@"); ok {
		dir, found := r.enums[name]
		if !found {
			return nil, fmt.Errorf("unknown enum catalog %q", name)
		}
		codes := dir.Codes()
		if len(codes) == 0 {
			return nil, fmt.Errorf("enum catalog %q is empty", name)
		}
		return codes, nil
	}
	return parseList(raw)
}

func parsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "restrict":
		return PolicyRestrict, nil
	case "set_null", "set null", "setnull":
		return PolicySetNull, nil
	case "cascade":
		return PolicyCascade, nil
	default:
		return "", fmt.Errorf("unknown policy %q (allowed: restrict|set_null|cascade)", raw)
	}
}

func scalarKind(t reflect.Type) (Kind, bool) {
	if t == timeType {
		return KindDate, true
	}
	switch t.Kind() {
	case reflect.String:
		return KindString, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInt, true
	case reflect.Float32, reflect.Float64:
		return KindFloat, true
	case reflect.Bool:
		return KindBool, true
	}
	return "", false
}

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

// элементарная плюрализация (достаточно для users, projects, ...)
func plural(s string) string {
	switch {
	case strings.HasSuffix(s, "s"), strings.HasSuffix(s, "x"):
		return s
	case strings.HasSuffix(s, "y") && len(s) > 1 && !strings.ContainsRune("aeiou", rune(s[len(s)-2])):
		return s[:len(s)-1] + "ies"
	}
	return s + "s"
}

func tableName(t reflect.Type) string {
	if tn, ok := reflect.New(t).Interface().(Tabler); ok {
		if name := strings.TrimSpace(tn.TableName()); name != "" {
			return strings.ToLower(name)
		}
	}
	tbl := plural(SnakeCase(t.Name()))
	if _, bad := reserved[tbl]; bad {
		// помечаем «опасное» имя префиксом
		tbl = "e_" + tbl
	}
	return tbl
}

// Freeze строит неизменяемый каталог из pending-набора.
func (r *Registry) Freeze() (*Catalog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Catalog{
		byName: make(map[string]*Entity, len(r.pending)),
		byType: make(map[reflect.Type]*Entity, len(r.pending)),
		edges:  make(map[string][]string, len(r.pending)),
	}
	for t, src := range r.pending {
		e := *src
		e.Fields = make([]Field, len(src.Fields))
		copy(e.Fields, src.Fields)
		c.byType[t] = &e
		c.byName[e.Name] = &e
	}

	for _, e := range c.byName {
		deps := map[string]struct{}{}
		cols := map[string]string{}
		for i := range e.Fields {
			f := &e.Fields[i]
			if f.Role != RoleToMany {
				cols[f.Column] = f.Name
			}
		}
		for i := range e.Fields {
			f := &e.Fields[i]
			if !f.IsRelation() {
				continue
			}
			target, ok := c.byType[f.TargetType]
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s -> %s (detached?)", ErrInvalidRelationTarget, e.Name, f.Name, f.TargetType)
			}
			deps[target.Name] = struct{}{}
			if f.Role != RoleToOne {
				continue
			}
			delete(cols, f.Column)
			f.RefColumns = nil
			for _, kc := range target.KeyColumns() {
				col := f.Column + "_" + kc
				if prev, clash := cols[col]; clash {
					return nil, fmt.Errorf("%w: %s: foreign key column %q clashes with field %s", ErrAmbiguousName, e.Name, col, prev)
				}
				cols[col] = f.Name
				f.RefColumns = append(f.RefColumns, col)
			}
		}
		for d := range deps {
			c.edges[e.Name] = append(c.edges[e.Name], d)
		}
		sort.Strings(c.edges[e.Name])
	}

	c.names = make([]string, 0, len(c.byName))
	for n := range c.byName {
		c.names = append(c.names, n)
	}
	sort.Strings(c.names)
	return c, nil
}

// Catalog: неизменяемый результат Freeze: дескрипторы и граф зависимостей.
type Catalog struct {
	names  []string
	byName map[string]*Entity
	byType map[reflect.Type]*Entity
	edges  map[string][]string // A -> [B...]: у A есть ссылка на B
}

// Names: имена сущностей по алфавиту.
func (c *Catalog) Names() []string { return append([]string(nil), c.names...) }

// Entities: дескрипторы в порядке Names.
func (c *Catalog) Entities() []*Entity {
	out := make([]*Entity, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.byName[n])
	}
	return out
}

// Entity ищет дескриптор по имени (регистронезависимо).
func (c *Catalog) Entity(name string) (*Entity, bool) {
	if e, ok := c.byName[name]; ok {
		return e, true
	}
	for n, e := range c.byName {
		if strings.EqualFold(n, name) || strings.EqualFold(e.Table, name) {
			return e, true
		}
	}
	return nil, false
}

// ByType ищет дескриптор по типу структуры.
func (c *Catalog) ByType(t reflect.Type) (*Entity, bool) {
	e, ok := c.byType[t]
	return e, ok
}

// Resolve возвращает дескриптор и адресуемое значение структуры для *T.
func (c *Catalog) Resolve(instance any) (*Entity, reflect.Value, error) {
	v := reflect.ValueOf(instance)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, reflect.Value{}, fmt.Errorf("%w: expected non-nil pointer to struct, got %T", ErrNotEntity, instance)
	}
	e, ok := c.byType[v.Type().Elem()]
	if !ok {
		return nil, reflect.Value{}, fmt.Errorf("%w: %T is not attached", ErrNotEntity, instance)
	}
	return e, v.Elem(), nil
}

// Dependencies: сущности, на которые ссылается name.
func (c *Catalog) Dependencies(name string) []string {
	return append([]string(nil), c.edges[name]...)
}
