package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"protorm/internal/dsl"
	"protorm/internal/pg"
	"protorm/internal/testutil"
)

type Employee struct {
	ID       int64       `orm:"id,pk,auto"`
	Name     string      `orm:"name,notnull"`
	Email    string      `orm:"email,unique"`
	Age      int         `orm:"age,sentinel=-1,range=[0,150]"`
	Level    int         `orm:"level,sentinel=-1,default=1"`
	Status   string      `orm:"status,domain=[active,retired],default=active"`
	Hired    time.Time   `orm:"hired"`
	Manager  *Employee   `orm:"manager,on_delete=set_null"`
	Friends  []*Employee `orm:"friends,on_delete=cascade"`
	Projects []*Project  `orm:"projects,ordered"`
}

type Project struct {
	Code  string    `orm:"code,pk"`
	Title string    `orm:"title"`
	Lead  *Employee `orm:"lead,on_delete=set_null"`
}

type Note struct {
	ID   string `orm:"id,pk,auto"`
	Text string `orm:"text"`
}

type Account struct {
	ID    int64     `orm:"id,pk"`
	Owner *Employee `orm:"owner"`
}

// employee: прототип, в котором sentinel-поля не заданы.
func employee(name string) *Employee { return &Employee{Name: name, Age: -1, Level: -1} }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func allTypes() []any { return []any{&Employee{}, &Project{}, &Note{}, &Account{}} }

// metaFor компилирует метаданные без базы.
func metaFor(t *testing.T, name string, types ...any) (*entityMeta, *pg.Planner) {
	t.Helper()
	r := dsl.NewRegistry(nil)
	require.NoError(t, r.Attach(types...))
	c, err := r.Freeze()
	require.NoError(t, err)
	p, err := pg.NewPlanner(c, "")
	require.NoError(t, err)
	e, ok := c.Entity(name)
	require.True(t, ok)
	return compileEntity(e, p), p
}

// readySession: сессия над свежей базой с собранной схемой.
func readySession(t *testing.T) *Session {
	t.Helper()
	db := testutil.DB(t)
	s := New(db, WithLogger(quietLogger()))
	require.NoError(t, s.Attach(allTypes()...))
	require.NoError(t, s.Build(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}
