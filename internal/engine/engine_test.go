package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func count(t *testing.T, s *Session, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow(query, args...).Scan(&n))
	return n
}

func names(found []*Employee) []string {
	out := make([]string, len(found))
	for i, e := range found {
		out[i] = e.Name
	}
	return out
}

func TestRegisterSearch_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	hired := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	e := employee("ann")
	e.Email, e.Age, e.Level, e.Status, e.Hired = "ann@example.com", 34, 3, "retired", hired
	require.NoError(t, s.Register(ctx, e))
	assert.NotZero(t, e.ID, "generated key is written back")

	found, err := Find(ctx, s, employee("ann"))
	require.NoError(t, err)
	require.Len(t, found, 1)
	got := found[0]
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, "ann@example.com", got.Email)
	assert.Equal(t, 34, got.Age)
	assert.Equal(t, 3, got.Level)
	assert.Equal(t, "retired", got.Status)
	assert.True(t, hired.Equal(got.Hired))
	assert.Nil(t, got.Manager)
	assert.Nil(t, got.Friends)
	assert.Nil(t, got.Projects)
}

func TestSentinel_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	require.NoError(t, s.Register(ctx, employee("sam")))

	var age sql.NullInt64
	var level int64
	var status string
	require.NoError(t, s.DB().QueryRow(`select age, level, status from employees where name = 'sam'`).Scan(&age, &level, &status))
	assert.False(t, age.Valid, "unset field without default is stored as NULL")
	assert.Equal(t, int64(1), level, "unset field with default stores the default")
	assert.Equal(t, "active", status)

	got, err := Only(ctx, s, employee("sam"))
	require.NoError(t, err)
	assert.Equal(t, -1, got.Age)
	assert.Equal(t, -1, got.Level)
	assert.Equal(t, "active", got.Status)

	// значение default на sentinel-поле не записывается: оно читалось бы как -1
	one := employee("uno")
	one.Level = 1
	err = s.Register(ctx, one)
	require.True(t, IsConstraintViolationErr(err))
	assert.Equal(t, CodeReserved, FieldErrors(err)[0].Code)
	assert.Zero(t, one.ID)

	two := employee("duo")
	two.Level = 2
	require.NoError(t, s.Register(ctx, two))
	back, err := Only(ctx, s, employee("duo"))
	require.NoError(t, err)
	assert.Equal(t, 2, back.Level)

	// ноль на sentinel-поле: заданное значение
	zero := employee("zed")
	zero.Age = 0
	require.NoError(t, s.Register(ctx, zero))
	proto := employee("%")
	proto.Age = 0
	found, err := Find(ctx, s, proto)
	require.NoError(t, err)
	assert.Equal(t, []string{"zed"}, names(found))
}

func TestSelfReference(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	x := employee("narcissus")
	x.Manager = x
	x.Friends = []*Employee{x}
	require.NoError(t, s.Register(ctx, x))

	got, err := Only(ctx, s, employee("narcissus"))
	require.NoError(t, err)
	assert.Same(t, got, got.Manager)
	assert.Same(t, got, got.Manager.Manager)
	require.Len(t, got.Friends, 1)
	assert.Same(t, got, got.Friends[0])
}

func TestBatch_MutualReferences(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	a, b := employee("alpha"), employee("beta")
	a.ID, b.ID = 1001, 1002
	a.Manager, b.Manager = b, a
	err := s.Batch(ctx, func(sc *Scope) error {
		if err := sc.Register(ctx, a); err != nil {
			return err
		}
		return sc.Register(ctx, b)
	})
	require.NoError(t, err)

	got, err := Only(ctx, s, employee("alpha"))
	require.NoError(t, err)
	require.NotNil(t, got.Manager)
	assert.Equal(t, "beta", got.Manager.Name)
	assert.Same(t, got, got.Manager.Manager)
}

func TestManyToMany_OrderedCollection(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	p1, p2, p3 := &Project{Code: "p1"}, &Project{Code: "p2"}, &Project{Code: "p3"}
	for _, p := range []*Project{p1, p2, p3} {
		require.NoError(t, s.Register(ctx, p))
	}
	e := employee("dev")
	e.Projects = []*Project{p3, p1, p2}
	require.NoError(t, s.Register(ctx, e))
	assert.Equal(t, 3, count(t, s, `select count(*) from employees_projects`))

	codes := func() []string {
		got, err := Only(ctx, s, employee("dev"))
		require.NoError(t, err)
		out := make([]string, len(got.Projects))
		for i, p := range got.Projects {
			out[i] = p.Code
		}
		return out
	}
	assert.Equal(t, []string{"p3", "p1", "p2"}, codes())

	e.Projects = []*Project{p2, p1}
	require.NoError(t, s.Update(ctx, e))
	assert.Equal(t, 2, count(t, s, `select count(*) from employees_projects`))
	assert.Equal(t, []string{"p2", "p1"}, codes())

	// элемент коллекции без ключа
	e.Projects = []*Project{{Title: "draft"}}
	assert.True(t, IsConstraintViolationErr(s.Update(ctx, e)))
	assert.Equal(t, 2, count(t, s, `select count(*) from employees_projects`))
}

func TestSearch_Wildcards(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	for _, n := range []string{"a1", "b1", "a10"} {
		require.NoError(t, s.Register(ctx, employee(n)))
	}
	found, err := Find(ctx, s, employee("a1%"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a10"}, names(found))

	found, err = Find(ctx, s, employee("c%"))
	require.NoError(t, err)
	assert.Empty(t, found)

	for _, text := range []string{"one", "two"} {
		n := &Note{Text: text}
		require.NoError(t, s.Register(ctx, n))
		assert.Len(t, n.ID, 26)
	}
	notes, err := Find(ctx, s, &Note{})
	require.NoError(t, err)
	assert.Len(t, notes, 2)

	// обратная косая черта в шаблоне: обычный символ
	require.NoError(t, s.Register(ctx, &Note{Text: `a\b`}))
	notes, err = Find(ctx, s, &Note{Text: `a\b`})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, `a\b`, notes[0].Text)
	notes, err = Find(ctx, s, &Note{Text: `a\%`})
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestSearchFields(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	with := employee("with")
	with.Email = "w@example.com"
	require.NoError(t, s.Register(ctx, with))
	require.NoError(t, s.Register(ctx, employee("without")))

	found, err := FindFields(ctx, s, employee("%"), "email")
	require.NoError(t, err)
	assert.Equal(t, []string{"without"}, names(found), "unset listed field matches NULL")

	proto := &Employee{Email: "w@%"}
	found, err = FindFields(ctx, s, proto, "Email")
	require.NoError(t, err)
	assert.Equal(t, []string{"with"}, names(found))

	_, err = s.SearchFields(ctx, proto, "salary")
	assert.True(t, errors.Is(err, ErrInvalidDescriptor))
}

func TestFindWhereAndOnly(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	for i, n := range []string{"x1", "x2", "x3"} {
		e := employee(n)
		e.Age = 20 + i*10
		require.NoError(t, s.Register(ctx, e))
	}
	found, err := FindWhere(ctx, s, employee("x%"), func(e *Employee) bool { return e.Age >= 30 })
	require.NoError(t, err)
	assert.Equal(t, []string{"x2", "x3"}, names(found))

	_, err = Only(ctx, s, employee("x%"))
	assert.True(t, IsNoUniqueFieldErr(err))
	_, err = Only(ctx, s, employee("nobody"))
	assert.True(t, IsNoUniqueFieldErr(err))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	for range 2 {
		n, err := s.Delete(ctx, &Note{})
		require.NoError(t, err)
		assert.Zero(t, n)
	}

	require.NoError(t, s.Register(ctx, &Note{Text: "keep"}))
	require.NoError(t, s.Register(ctx, &Note{Text: "drop"}))
	n, err := s.Delete(ctx, &Note{Text: "dr%"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Delete(ctx, &Note{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Zero(t, count(t, s, `select count(*) from notes`))
}

func TestDelete_RemovesLinks(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	p := &Project{Code: "apollo"}
	require.NoError(t, s.Register(ctx, p))
	pal := employee("pal")
	require.NoError(t, s.Register(ctx, pal))
	e := employee("lead")
	e.Projects = []*Project{p}
	e.Friends = []*Employee{pal}
	require.NoError(t, s.Register(ctx, e))

	n, err := s.Delete(ctx, employee("lead"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Zero(t, count(t, s, `select count(*) from employees_projects`))
	assert.Zero(t, count(t, s, `select count(*) from employees_friends`))
	assert.Equal(t, 1, count(t, s, `select count(*) from projects`))
}

func TestDuplicateKey(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	require.NoError(t, s.Register(ctx, &Note{ID: "n1", Text: "first"}))
	err := s.Register(ctx, &Note{ID: "n1", Text: "second"})
	assert.True(t, IsDuplicateKeyErr(err))

	n, err := s.AttemptRegister(ctx, &Note{ID: "n1"})
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = s.AttemptRegister(ctx, &Note{ID: "n2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	a := employee("a")
	a.Email = "same@example.com"
	require.NoError(t, s.Register(ctx, a))
	b := employee("b")
	b.Email = "same@example.com"
	assert.True(t, IsDuplicateKeyErr(s.Register(ctx, b)))
	assert.Zero(t, b.ID, "key is not written back on failure")
}

func TestUpdate_Uniqueness(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	a, b := employee("a"), employee("b")
	a.Email, b.Email = "a@example.com", "b@example.com"
	require.NoError(t, s.Register(ctx, a))
	require.NoError(t, s.Register(ctx, b))

	assert.True(t, IsNoUniqueFieldErr(s.Update(ctx, employee("a"))), "no key and no unique field")

	ghost := employee("ghost")
	ghost.ID = 999
	assert.True(t, IsNoUniqueFieldErr(s.Update(ctx, ghost)), "no row matches")

	both := employee("both")
	both.ID, both.Email = a.ID, "b@example.com"
	assert.True(t, IsNoUniqueFieldErr(s.Update(ctx, both)), "two rows match")

	byEmail := employee("renamed")
	byEmail.Email = "b@example.com"
	require.NoError(t, s.Update(ctx, byEmail))
	got, err := Only(ctx, s, &Employee{Email: "b@example.com", Age: -1, Level: -1})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, b.ID, got.ID)
}

func TestConstraintViolations(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	old := employee("old")
	old.Age = 151
	err := s.Register(ctx, old)
	require.True(t, IsConstraintViolationErr(err))
	fe := FieldErrors(err)
	require.Len(t, fe, 1)
	assert.Equal(t, CodeRange, fe[0].Code)

	odd := employee("odd")
	odd.Status = "fired"
	assert.True(t, IsConstraintViolationErr(s.Register(ctx, odd)))

	assert.True(t, IsConstraintViolationErr(s.Register(ctx, &Employee{Age: -1, Level: -1})))
	assert.Zero(t, count(t, s, `select count(*) from employees`))

	// цель ссылки не сохранена: ключа нет
	lost := &Project{Code: "lost", Lead: employee("nobody")}
	assert.True(t, IsConstraintViolationErr(s.Register(ctx, lost)))

	// ключ есть, строки нет: проверка внешнего ключа при фиксации
	ghost := employee("ghost")
	ghost.ID = 4242
	err = s.Register(ctx, &Project{Code: "haunted", Lead: ghost})
	assert.ErrorIs(t, err, ErrInvalidRelationTarget)
	assert.Zero(t, count(t, s, `select count(*) from projects`))

	// вставка прошла, фиксация отвергнута: сгенерированный ключ не остаётся в экземпляре
	orphan := employee("orphan")
	orphan.Manager = ghost
	err = s.Register(ctx, orphan)
	assert.ErrorIs(t, err, ErrInvalidRelationTarget)
	assert.Zero(t, orphan.ID)
	assert.Zero(t, count(t, s, `select count(*) from employees`))
}

func TestDelete_Policies(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	owner := employee("owner")
	require.NoError(t, s.Register(ctx, owner))
	require.NoError(t, s.Register(ctx, &Account{ID: 1, Owner: owner}))

	_, err := s.Delete(ctx, employee("owner"))
	assert.True(t, IsCascadeViolationErr(err))
	assert.Equal(t, 1, count(t, s, `select count(*) from employees`))

	boss := employee("boss")
	require.NoError(t, s.Register(ctx, boss))
	worker := employee("worker")
	worker.Manager = boss
	require.NoError(t, s.Register(ctx, worker))
	require.NoError(t, s.Register(ctx, &Project{Code: "x", Lead: boss}))

	n, err := s.Delete(ctx, employee("boss"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := Only(ctx, s, employee("worker"))
	require.NoError(t, err)
	assert.Nil(t, got.Manager)
	p, err := Only(ctx, s, &Project{Code: "x"})
	require.NoError(t, err)
	assert.Nil(t, p.Lead)
}

type otherNote struct {
	Key int64 `orm:"key,pk"`
}

func (otherNote) TableName() string { return "notes" }

func TestBuild_ImproperSchema(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	other := New(s.DB(), WithLogger(quietLogger()))
	require.NoError(t, other.Attach(&otherNote{}))
	err := other.Build(ctx)
	assert.True(t, IsImproperSchemaErr(err))
	assert.Equal(t, StateUninitialized, other.State())

	// готовая сессия строится повторно без ошибок
	require.NoError(t, s.Build(ctx))
	twin := New(s.DB(), WithLogger(quietLogger()))
	require.NoError(t, twin.Attach(allTypes()...))
	require.NoError(t, twin.Build(ctx))
	require.NoError(t, twin.Close())
}

func TestBatch(t *testing.T) {
	ctx := context.Background()
	s := readySession(t)

	boom := errors.New("boom")
	lost, temp := &Note{Text: "lost"}, employee("temp")
	err := s.Batch(ctx, func(sc *Scope) error {
		require.NoError(t, sc.Register(ctx, lost))
		require.NoError(t, sc.Register(ctx, temp))
		require.NotEmpty(t, lost.ID)
		require.NotZero(t, temp.ID)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, count(t, s, `select count(*) from notes`))
	assert.Empty(t, lost.ID, "rolled back batch returns generated keys")
	assert.Zero(t, temp.ID)

	err = s.Batch(ctx, func(sc *Scope) error {
		n, err := sc.AttemptRegister(ctx, &Note{ID: "dup"})
		if err != nil || n != 1 {
			return fmt.Errorf("first attempt: %d, %v", n, err)
		}
		n, err = sc.AttemptRegister(ctx, &Note{ID: "dup"})
		if err != nil || n != 0 {
			return fmt.Errorf("second attempt: %d, %v", n, err)
		}
		found, err := sc.Search(ctx, &Note{})
		if err != nil {
			return err
		}
		if len(found) != 1 {
			return fmt.Errorf("found %d notes", len(found))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, s, `select count(*) from notes`))
}
