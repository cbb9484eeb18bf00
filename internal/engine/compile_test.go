package engine

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_Columns(t *testing.T) {
	m, _ := metaFor(t, "Employee", allTypes()...)

	names := make([]string, len(m.cols))
	for i, c := range m.cols {
		names[i] = c.name
	}
	assert.Equal(t, []string{"id", "name", "email", "age", "level", "status", "hired", "manager_id"}, names)
	assert.Equal(t, []int{0}, m.keys)
	require.Len(t, m.one, 1)
	assert.Equal(t, []int{7}, m.one[0].cols)
	require.Len(t, m.many, 2)
	assert.Equal(t, `"employees_friends"`, m.many[0].table)

	idx, ok := m.identityCol()
	assert.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestCompile_SQL(t *testing.T) {
	m, _ := metaFor(t, "Project", allTypes()...)

	assert.Equal(t, `select "code", "title", "lead_id" from "projects"
where ($1::text is null or "code" like $1 escape '')
  and ($2::text is null or "title" like $2 escape '')
  and ($3::bigint is null or "lead_id" = $3)
order by "code"`, m.searchSQL())

	assert.Equal(t, `insert into "projects" ("code", "title", "lead_id") values ($1, $2, $3) returning "code"`, m.insertSQL(true))
	assert.Equal(t, `update "projects" set "title" = $1, "lead_id" = $2 where "code" = $3`, m.updateSQL())
	assert.Equal(t, `select "code" from "projects" where ("code" = $1) for update`, m.lockSQL([][]int{m.keys}))
	assert.Equal(t, `select "code", "title", "lead_id" from "projects" where "code" = $1`, m.byKeySQL())
}

func TestCompile_IdentityInsert(t *testing.T) {
	m, _ := metaFor(t, "Note", &Note{})
	// строковый auto-ключ генерируется клиентом и всегда пишется
	assert.Equal(t, `insert into "notes" ("id", "text") values ($1, $2) returning "id"`, m.insertSQL(false))

	type Counter struct {
		ID int64 `orm:"id,pk,auto"`
	}
	c, _ := metaFor(t, "Counter", &Counter{})
	assert.Equal(t, `insert into "counters" default values returning "id"`, c.insertSQL(false))
	assert.Empty(t, c.updateSQL())
}

func TestCompile_Junctions(t *testing.T) {
	m, p := metaFor(t, "Employee", allTypes()...)
	project, _ := metaFor(t, "Project", allTypes()...)

	var projects toManyMeta
	for _, tm := range m.many {
		if tm.field.Name == "Projects" {
			projects = tm
		}
	}
	require.NotNil(t, projects.j)
	assert.Equal(t, `insert into "employees_projects" ("owner_id", "target_code", "position") values ($1, $2, $3)`, insertLinkSQL(projects))
	assert.Equal(t, `delete from "employees_projects" where "owner_id" = $1`, clearLinksSQL(projects))
	assert.Equal(t, `select t."code", t."title", t."lead_id" from "employees_projects" j join "projects" t on t."code" = j."target_code" where j."owner_id" = $1 order by j."position"`,
		linksSQL(projects, project))
	assert.Contains(t, m.deleteLinksSQL(projects), `delete from "employees_projects"
where ("owner_id") in (select "id" from "employees"`)
	assert.Len(t, p.Junctions(), 2)
}

func TestPrototypeArgs(t *testing.T) {
	m, _ := metaFor(t, "Employee", allTypes()...)
	boss := &Employee{ID: 7}
	proto := employee("a%")
	proto.Manager = boss

	args := m.prototypeArgs(reflect.ValueOf(proto).Elem())
	assert.Equal(t, []any{nil, "a%", nil, nil, nil, nil, nil, int64(7)}, args)

	// ноль на sentinel-поле: заданное значение
	proto.Age = 0
	args = m.prototypeArgs(reflect.ValueOf(proto).Elem())
	assert.Equal(t, int64(0), args[3])
}

func TestFieldsPredicate(t *testing.T) {
	m, _ := metaFor(t, "Employee", allTypes()...)
	proto := employee("z")
	fields, err := searchableFields(m.e, []string{"name", "email", "Manager"})
	require.NoError(t, err)

	where, args := m.fieldsPredicate(reflect.ValueOf(proto).Elem(), fields)
	assert.Equal(t, `"name" like $1 escape '' and "email" is null and "manager_id" is null`, where)
	assert.Equal(t, []any{"z"}, args)

	_, err = searchableFields(m.e, []string{"nope"})
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
	_, err = searchableFields(m.e, []string{"friends"})
	assert.Error(t, err)
}
