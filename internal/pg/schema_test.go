package pg

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protorm/internal/dsl"
)

type Department struct {
	ID   int64  `orm:"id,pk,auto"`
	Name string `orm:"name,unique,notnull"`
	Head *Employee
}

type Employee struct {
	ID      int64       `orm:"id,pk,auto"`
	Grade   int         `orm:"grade,sentinel=-1,range=[1,10],default=5"`
	Role    string      `orm:"role,domain=[dev,ops]"`
	Dept    *Department `orm:"dept,notnull,on_delete=cascade"`
	Manager *Employee   `orm:"manager,on_delete=set_null"`
	Skills  []*Skill    `orm:"skills,ordered,on_delete=set_null"`
}

type Skill struct {
	Code  string `orm:"code,pk"`
	Level int    `orm:"level,pk"`
}

type Badge struct {
	ID int64 `orm:"id,pk"`
}

func catalog(t *testing.T, types ...any) *dsl.Catalog {
	t.Helper()
	r := dsl.NewRegistry(nil)
	require.NoError(t, r.Attach(types...))
	c, err := r.Freeze()
	require.NoError(t, err)
	return c
}

func names(es []*dsl.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Name
	}
	return out
}

func TestCreationOrder(t *testing.T) {
	c := catalog(t, &Department{}, &Employee{}, &Skill{}, &Badge{})
	p, err := NewPlanner(c, "")
	require.NoError(t, err)

	// Badge и Skill без зависимостей; Department<->Employee: цикл, в конце по имени
	assert.Equal(t, []string{"Badge", "Skill", "Department", "Employee"}, names(p.CreationOrder()))
}

func TestCreationOrder_Chain(t *testing.T) {
	type C struct {
		ID int `orm:"id,pk"`
	}
	type B struct {
		ID int `orm:"id,pk"`
		C  *C
	}
	type A struct {
		ID int `orm:"id,pk"`
		B  *B
	}
	c := catalog(t, &A{}, &B{}, &C{})
	p, err := NewPlanner(c, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B", "A"}, names(p.CreationOrder()))
}

func TestJunctions(t *testing.T) {
	c := catalog(t, &Department{}, &Employee{}, &Skill{})
	p, err := NewPlanner(c, "")
	require.NoError(t, err)

	js := p.Junctions()
	require.Len(t, js, 1)
	j := js[0]
	assert.Equal(t, "employees_skills", j.Table)
	assert.Equal(t, []string{"owner_id"}, j.OwnerColumns)
	assert.Equal(t, []string{"target_code", "target_level"}, j.TargetColumns)
	assert.True(t, j.Ordered)
	assert.Equal(t, dsl.PolicyCascade, j.OnDelete, "set null degrades to cascade on link rows")

	emp, _ := c.Entity("Employee")
	f, _ := emp.Field("skills")
	got, ok := p.JunctionFor(emp, f)
	require.True(t, ok)
	assert.Same(t, j, got)
}

func TestJunction_TableCollision(t *testing.T) {
	type Tag struct {
		ID int `orm:"id,pk"`
	}
	type Post struct {
		ID   int    `orm:"id,pk"`
		Tags []*Tag `orm:"tags"`
	}
	type PostTag struct {
		ID int `orm:"id,pk"`
	}
	c := catalog(t, &Tag{}, &Post{}, &PostTag{})
	// posts_tags vs post_tags: разные имена, коллизии нет
	_, err := NewPlanner(c, "")
	require.NoError(t, err)

	type PostsTags struct {
		ID int `orm:"id,pk"`
	}
	c = catalog(t, &Tag{}, &Post{}, &PostsTags{})
	_, err = NewPlanner(c, "")
	require.Error(t, err)
	assert.True(t, dsl.IsAmbiguousNameErr(err))
}

func TestPlan_DDL(t *testing.T) {
	c := catalog(t, &Department{}, &Employee{}, &Skill{})
	p, err := NewPlanner(c, "hr")
	require.NoError(t, err)
	plan := p.Plan()

	require.NotEmpty(t, plan.Create)
	assert.Equal(t, `create schema if not exists "hr"`, plan.Create[0].SQL)

	ddl := plan.SQL()
	assert.Contains(t, ddl, `create table if not exists "hr"."employees"`)
	assert.Contains(t, ddl, `"id" bigint generated by default as identity not null`)
	grade := checkName("employees", "grade", `"grade" between 1 and 10`)
	assert.Contains(t, ddl, `"grade" bigint null default 5 constraint "`+grade+`" check ("grade" between 1 and 10)`)
	assert.Contains(t, ddl, `"role" text null constraint "employees_role_ck_`)
	assert.Contains(t, ddl, `check ("role" in ('dev', 'ops'))`)
	assert.Contains(t, ddl, `"dept_id" bigint not null`)
	assert.Contains(t, ddl, `"manager_id" bigint null`)
	assert.Contains(t, ddl, `create unique index if not exists "departments_name_uq" on "hr"."departments" ("name")`)
	assert.Contains(t, ddl, `create table if not exists "hr"."employees_skills"`)
	assert.Contains(t, ddl, `"position" bigint not null`)
	assert.Contains(t, ddl, `primary key ("owner_id", "target_code", "target_level")`)

	// внешние ключи: только во второй фазе
	for _, s := range plan.Create {
		assert.NotContains(t, s.SQL, "foreign key", s.Name)
	}
	fks := make([]string, 0, len(plan.Constraints))
	for _, s := range plan.Constraints {
		fks = append(fks, s.SQL)
	}
	all := strings.Join(fks, "\n")
	assert.Contains(t, all, `alter table "hr"."employees" add constraint "employees_dept_fk" foreign key ("dept_id") references "hr"."departments" ("id") on delete cascade on update restrict deferrable initially deferred`)
	assert.Contains(t, all, `add constraint "employees_manager_fk" foreign key ("manager_id") references "hr"."employees" ("id") on delete set null`)
	assert.Contains(t, all, `add constraint "departments_head_fk" foreign key ("head_id") references "hr"."employees" ("id")`)
	assert.Contains(t, all, `foreign key ("target_code", "target_level") references "hr"."skills" ("code", "level") on delete cascade`)
	assert.Len(t, plan.Constraints, 5)
}

func TestCheckName(t *testing.T) {
	a := checkName("items", "price", `"price" between 0 and 10`)
	assert.Equal(t, a, checkName("items", "price", `"price" between 0 and 10`))
	assert.True(t, strings.HasPrefix(a, "items_price_ck_"), a)
	assert.NotEqual(t, a, checkName("items", "price", `"price" between 0 and 20`))

	long := checkName(strings.Repeat("t", 40), strings.Repeat("c", 40), "x")
	assert.LessOrEqual(t, len(long), 63)
}

func TestLiteral(t *testing.T) {
	assert.Equal(t, "'it''s'", Literal("it's"))
	assert.Equal(t, "42", Literal(int64(42)))
	assert.Equal(t, "1.5", Literal(1.5))
	assert.Equal(t, "true", Literal(true))
}

func TestSQLState(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_uq"}
	wrapped := errors.Join(errors.New("insert"), pgErr)
	assert.True(t, IsUniqueViolation(wrapped))
	assert.Equal(t, "users_email_uq", Constraint(wrapped))

	pqErr := &pq.Error{Code: "23503"}
	assert.True(t, IsForeignKeyViolation(pqErr))
	assert.True(t, IsDuplicateObject(&pq.Error{Code: "42710"}))
	assert.Empty(t, SQLState(errors.New("plain")))
}
