package engine

import (
	"context"
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	m, _ := metaFor(t, "Employee", allTypes()...)

	ok := employee("ann")
	ok.Age, ok.Status = 42, "retired"
	require.NoError(t, validate(m.e, reflect.ValueOf(ok).Elem(), false))

	bad := &Employee{Age: 200, Level: -1, Status: "fired"}
	err := validate(m.e, reflect.ValueOf(bad).Elem(), false)
	require.Error(t, err)
	assert.True(t, IsConstraintViolationErr(err))

	codes := map[string]string{}
	for _, fe := range FieldErrors(err) {
		codes[fe.Field] = fe.Code
	}
	assert.Equal(t, map[string]string{"Name": CodeRequired, "Age": CodeRange, "Status": CodeDomain}, codes)
}

func TestValidate_ReservedDefault(t *testing.T) {
	m, _ := metaFor(t, "Employee", allTypes()...)

	e := employee("lev")
	e.Level = 1
	err := validate(m.e, reflect.ValueOf(e).Elem(), false)
	require.True(t, IsConstraintViolationErr(err))
	fe := FieldErrors(err)
	require.Len(t, fe, 1)
	assert.Equal(t, "Level", fe[0].Field)
	assert.Equal(t, CodeReserved, fe[0].Code)
	assert.True(t, IsConstraintViolationErr(validate(m.e, reflect.ValueOf(e).Elem(), true)), "update too")

	e.Level = 2
	assert.NoError(t, validate(m.e, reflect.ValueOf(e).Elem(), false))
}

func TestValidate_UpdateWithoutKey(t *testing.T) {
	m, _ := metaFor(t, "Project", allTypes()...)
	p := &Project{Title: "x"}
	assert.Error(t, validate(m.e, reflect.ValueOf(p).Elem(), false), "pk is required on register")
	assert.NoError(t, validate(m.e, reflect.ValueOf(p).Elem(), true))
}

func TestWriteValue(t *testing.T) {
	m, _ := metaFor(t, "Employee", allTypes()...)
	v := reflect.ValueOf(employee("w")).Elem()

	level, _ := m.e.Field("level")
	assert.Equal(t, int64(1), writeValue(level, v), "unset sentinel field writes its default")
	age, _ := m.e.Field("age")
	assert.Nil(t, writeValue(age, v), "unset without default writes NULL")
	status, _ := m.e.Field("status")
	assert.Equal(t, "active", writeValue(status, v))
	name, _ := m.e.Field("name")
	assert.Equal(t, "w", writeValue(name, v))
}

func TestAssign(t *testing.T) {
	m, _ := metaFor(t, "Employee", allTypes()...)
	var e Employee
	v := reflect.ValueOf(&e).Elem()

	age, _ := m.e.Field("age")
	assign(age, age.Value(v), nil, false)
	assert.Equal(t, -1, e.Age, "NULL reads back as sentinel")

	level, _ := m.e.Field("level")
	assign(level, level.Value(v), int64(1), true)
	assert.Equal(t, -1, e.Level, "stored default reads back as sentinel")
	assign(level, level.Value(v), int64(4), true)
	assert.Equal(t, 4, e.Level)

	hired, _ := m.e.Field("hired")
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	assign(hired, hired.Value(v), ts, true)
	assert.True(t, ts.Equal(e.Hired))
	assign(hired, hired.Value(v), nil, false)
	assert.True(t, e.Hired.IsZero())
}

func TestAssign_Pointer(t *testing.T) {
	type Opt struct {
		ID    int64    `orm:"id,pk"`
		Score *float64 `orm:"score"`
		Count *uint16  `orm:"count"`
	}
	m, _ := metaFor(t, "Opt", &Opt{})
	var o Opt
	v := reflect.ValueOf(&o).Elem()

	score, _ := m.e.Field("score")
	assign(score, score.Value(v), 2.5, true)
	require.NotNil(t, o.Score)
	assert.Equal(t, 2.5, *o.Score)
	assign(score, score.Value(v), nil, false)
	assert.Nil(t, o.Score)

	count, _ := m.e.Field("count")
	assign(count, count.Value(v), int64(9), true)
	require.NotNil(t, o.Count)
	assert.Equal(t, uint16(9), *o.Count)
	assert.Equal(t, int64(9), sqlValue(count.Kind, count.Value(v)))
}

func TestNullValueAndIdentity(t *testing.T) {
	val, ok := nullValue(&sql.NullInt64{Int64: 5, Valid: true})
	assert.True(t, ok)
	assert.Equal(t, int64(5), val)
	_, ok = nullValue(&sql.NullString{})
	assert.False(t, ok)

	assert.Equal(t, identity("t", []any{int64(5), "a"}), identity("t", []any{int64(5), "a"}))
	assert.NotEqual(t, identity("t", []any{int64(5)}), identity("u", []any{int64(5)}))
	assert.NotEqual(t, identity("t", []any{"a\x1fb", "c"}), identity("t", []any{"a", "b\x1fc"}))
	assert.NotEqual(t, identity("t", []any{"1:a"}), identity("t", []any{"1", "a"}))
	assert.NotEqual(t, identity("t1", []any{"x"}), identity("t", []any{"1x"}))
}

func TestSession_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := New(nil, WithLogger(quietLogger()))
	assert.Equal(t, StateUninitialized, s.State())

	_, err := s.Search(ctx, &Note{})
	assert.True(t, IsNotReadyErr(err))
	err = s.Register(ctx, &Note{})
	assert.True(t, IsNotReadyErr(err))
	_, err = s.Delete(ctx, &Note{})
	assert.True(t, IsNotReadyErr(err))
	err = s.Batch(ctx, func(*Scope) error { return nil })
	assert.True(t, IsNotReadyErr(err))
	assert.Nil(t, s.Catalog())

	require.NoError(t, s.Attach(&Note{}, &Employee{}, &Project{}))
	require.NoError(t, s.Detach(&Note{}))
	plan, err := s.Plan()
	require.NoError(t, err)
	assert.NotContains(t, plan.SQL(), `"notes"`)
	assert.Contains(t, plan.SQL(), `"employees_projects"`)

	// попытка без цели ссылки
	err = s.Detach(&Project{})
	require.NoError(t, err)
	_, err = s.Plan()
	assert.ErrorIs(t, err, ErrInvalidRelationTarget)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, IsBuildStartedErr(s.Attach(&Note{})))
	_, err = s.Search(ctx, &Note{})
	assert.True(t, IsNotReadyErr(err))
}
