// Package engine compiles prototype instances into SQL against the schema
// derived from attached entity types, and rebuilds object graphs from rows.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"protorm/internal/dsl"
	"protorm/internal/pg"
	"protorm/internal/reference"
)

// State: этап жизненного цикла сессии.
type State int32

const (
	StateUninitialized State = iota
	StateBuilding
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// Option настраивает Session.
type Option func(*Session)

// WithLogger задаёт логгер (по умолчанию slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithNamespace создаёт таблицы в отдельной схеме PostgreSQL.
func WithNamespace(ns string) Option { return func(s *Session) { s.namespace = ns } }

// WithEnums подключает YAML-справочники для domain=@catalog.
func WithEnums(enums map[string]reference.EnumDirectory) Option {
	return func(s *Session) { s.enums = enums }
}

// Session: результат сборки схемы, кэш запросов и пул соединений.
type Session struct {
	db        *sql.DB
	log       *slog.Logger
	namespace string
	enums     map[string]reference.EnumDirectory

	mu       sync.Mutex // переходы состояний
	state    atomic.Int32
	registry *dsl.Registry
	catalog  *dsl.Catalog
	planner  *pg.Planner
	metas    map[reflect.Type]*entityMeta
	stmts    stmtCache
}

// New создаёт сессию в состоянии UNINITIALIZED. Пул остаётся во владении вызывающего.
func New(db *sql.DB, opts ...Option) *Session {
	s := &Session{db: db, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.registry = dsl.NewRegistry(s.enums)
	s.stmts.db, s.stmts.log = db, s.log
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

// DB: пул, с которым работает сессия.
func (s *Session) DB() *sql.DB { return s.db }

// Catalog: дескрипторы сущностей; nil до успешного Build.
func (s *Session) Catalog() *dsl.Catalog {
	if s.State() != StateReady {
		return nil
	}
	return s.catalog
}

// Planner: план схемы; nil до успешного Build.
func (s *Session) Planner() *pg.Planner {
	if s.State() != StateReady {
		return nil
	}
	return s.planner
}

// Attach регистрирует типы сущностей (T или *T). Взаимно ссылающиеся типы: одним вызовом.
func (s *Session) Attach(types ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.State(); st != StateUninitialized {
		return fmt.Errorf("%w: attach in state %s", ErrBuildStarted, st)
	}
	return s.registry.Attach(types...)
}

// Detach убирает типы из набора до сборки.
func (s *Session) Detach(types ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.State(); st != StateUninitialized {
		return fmt.Errorf("%w: detach in state %s", ErrBuildStarted, st)
	}
	s.registry.Detach(types...)
	return nil
}

// Plan возвращает DDL для текущего набора сущностей, не трогая хранилище.
func (s *Session) Plan() (*pg.Plan, error) {
	if s.State() == StateReady {
		return s.planner.Plan(), nil
	}
	_, p, err := s.prepare()
	if err != nil {
		return nil, err
	}
	return p.Plan(), nil
}

func (s *Session) prepare() (*dsl.Catalog, *pg.Planner, error) {
	c, err := s.registry.Freeze()
	if err != nil {
		return nil, nil, err
	}
	p, err := pg.NewPlanner(c, s.namespace)
	if err != nil {
		return nil, nil, err
	}
	return c, p, nil
}

// Build замораживает набор сущностей, создаёт схему и переводит сессию в READY.
// При ошибке сессия возвращается в UNINITIALIZED и сборку можно повторить.
func (s *Session) Build(ctx context.Context) error {
	s.mu.Lock()
	switch st := s.State(); st {
	case StateReady:
		s.mu.Unlock()
		return nil
	case StateUninitialized:
		s.state.Store(int32(StateBuilding))
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: build in state %s", ErrBuildStarted, st)
	}
	s.mu.Unlock()

	s.log.Info("building schema", "entities", s.registry.Len(), "namespace", s.namespace)
	c, p, metas, err := s.build(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state.Store(int32(StateUninitialized))
		s.log.Error("schema build failed", "err", err)
		return err
	}
	s.catalog, s.planner, s.metas = c, p, metas
	s.state.Store(int32(StateReady))
	s.log.Info("session ready", "entities", len(metas), "junctions", len(p.Junctions()))
	return nil
}

func (s *Session) build(ctx context.Context) (*dsl.Catalog, *pg.Planner, map[reflect.Type]*entityMeta, error) {
	c, p, err := s.prepare()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := pg.Apply(ctx, s.db, p.Plan(), s.log); err != nil {
		return nil, nil, nil, err
	}
	metas := make(map[reflect.Type]*entityMeta, len(c.Names()))
	for _, e := range c.Entities() {
		metas[e.Type] = compileEntity(e, p)
	}
	if err := s.stmts.warm(ctx, metas); err != nil {
		s.stmts.close()
		return nil, nil, nil, err
	}
	return c, p, metas, nil
}

// Close закрывает подготовленные запросы; пул не закрывается.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Store(int32(StateClosed))
	s.stmts.close()
	return nil
}

func (s *Session) ready() error {
	if st := s.State(); st != StateReady {
		return fmt.Errorf("%w (state %s)", ErrNotReady, st)
	}
	return nil
}

// resolve находит метаданные и значение структуры для *T.
func (s *Session) resolve(instance any) (*entityMeta, reflect.Value, error) {
	_, v, err := s.catalog.Resolve(instance)
	if err != nil {
		return nil, reflect.Value{}, err
	}
	return s.metas[v.Type()], v, nil
}

func (s *Session) metaOf(t reflect.Type) *entityMeta { return s.metas[t] }

// run исполняет одну операцию на выделенном соединении в одной транзакции.
func (s *Session) run(ctx context.Context, op, entity string, fn func(r *runner) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%s %s: acquire connection: %w", op, entity, err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s %s: begin: %w", op, entity, err)
	}
	defer func() { _ = tx.Rollback() }()

	r := &runner{s: s, tx: tx}
	if err := fn(r); err != nil {
		r.revert()
		return err
	}
	if err := tx.Commit(); err != nil {
		r.revert()
		return classify(op, entity, err)
	}
	return nil
}
