package pg

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"protorm/internal/dsl"
)

// Beginner: *sql.DB или *sql.Conn.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Querier: минимальный интерфейс для чтения каталога.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Apply исполняет план в одной транзакции.
// Существующие таблицы сначала сверяются с планом; при расхождении ничего не меняется.
// Уже существующие внешние ключи (42710) пропускаются через savepoint.
func Apply(ctx context.Context, db Beginner, plan *Plan, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range plan.Tables {
		exists, err := VerifyTable(ctx, tx, plan.Namespace, t)
		if err != nil {
			return err
		}
		if exists {
			log.Debug("table exists and matches", "table", t.Name)
		}
	}

	for _, s := range plan.Create {
		if _, err := tx.ExecContext(ctx, s.SQL); err != nil {
			return fmt.Errorf("DDL apply failed (%s): %w", s.Name, err)
		}
		log.Debug("DDL applied", "stmt", s.Name)
	}

	for _, s := range plan.Constraints {
		if _, err := tx.ExecContext(ctx, "savepoint protorm_fk"); err != nil {
			return fmt.Errorf("savepoint: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.SQL); err != nil {
			if IsDuplicateObject(err) {
				if _, rerr := tx.ExecContext(ctx, "rollback to savepoint protorm_fk"); rerr != nil {
					return fmt.Errorf("rollback to savepoint: %w", rerr)
				}
				log.Info("DDL skipped (already exists)", "stmt", s.Name)
				continue
			}
			return fmt.Errorf("DDL apply failed (%s): %w", s.Name, err)
		}
		if _, err := tx.ExecContext(ctx, "release savepoint protorm_fk"); err != nil {
			return fmt.Errorf("release savepoint: %w", err)
		}
		log.Debug("DDL applied", "stmt", s.Name)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit DDL: %w", err)
	}
	log.Info("schema built", "tables", len(plan.Tables), "constraints", len(plan.Constraints))
	return nil
}

type columnShape struct {
	dataType string
	nullable bool
}

// VerifyTable сравнивает существующую таблицу с планом: колонки (имя, тип,
// допустимость NULL), первичный ключ, check-ограничения и внешние ключи плана.
// Отсутствующая таблица: не ошибка.
func VerifyTable(ctx context.Context, q Querier, namespace string, t Table) (bool, error) {
	rows, err := q.QueryContext(ctx, `
select column_name, data_type, is_nullable
from information_schema.columns
where table_schema = coalesce(nullif($1, ''), current_schema())
  and table_name = $2`, namespace, t.Name)
	if err != nil {
		return false, fmt.Errorf("read columns of %s: %w", t.Name, err)
	}
	defer rows.Close()

	actual := map[string]columnShape{}
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return false, err
		}
		actual[name] = columnShape{dataType: dataType, nullable: strings.EqualFold(nullable, "YES")}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	if len(actual) == 0 {
		return false, nil
	}

	var problems []string
	for _, c := range t.Columns {
		got, ok := actual[c.Name]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing column %q", c.Name))
			continue
		}
		delete(actual, c.Name)
		if got.dataType != c.DataType {
			problems = append(problems, fmt.Sprintf("column %q is %s, want %s", c.Name, got.dataType, c.DataType))
		}
		if got.nullable == c.NotNull {
			problems = append(problems, fmt.Sprintf("column %q nullability differs (nullable=%t)", c.Name, got.nullable))
		}
	}
	for name := range actual {
		problems = append(problems, fmt.Sprintf("unexpected column %q", name))
	}
	more, err := verifyConstraints(ctx, q, namespace, t)
	if err != nil {
		return true, err
	}
	problems = append(problems, more...)
	if len(problems) > 0 {
		return true, fmt.Errorf("%w: table %s: %s", ErrImproperSchema, t.Name, strings.Join(problems, "; "))
	}
	return true, nil
}

type constraintShape struct {
	kind     string // p, f, c
	cols     string
	refTable string
	refCols  string
	onDelete string
	onUpdate string
}

const constraintsQuery = `
select c.conname, c.contype::text,
  coalesce((select string_agg(a.attname, ',' order by k.i)
    from unnest(c.conkey) with ordinality k(n, i)
    join pg_attribute a on a.attrelid = c.conrelid and a.attnum = k.n), ''),
  coalesce(r.relname::text, ''),
  coalesce((select string_agg(a.attname, ',' order by k.i)
    from unnest(c.confkey) with ordinality k(n, i)
    join pg_attribute a on a.attrelid = c.confrelid and a.attnum = k.n), ''),
  c.confdeltype::text, c.confupdtype::text
from pg_constraint c
join pg_class t on t.oid = c.conrelid
join pg_namespace ns on ns.oid = t.relnamespace
left join pg_class r on r.oid = c.confrelid
where ns.nspname = coalesce(nullif($1, ''), current_schema())
  and t.relname = $2
  and c.contype in ('p', 'f', 'c')`

// policyCode: pg_constraint.confdeltype / confupdtype.
func policyCode(p dsl.Policy) string {
	switch p {
	case dsl.PolicyCascade:
		return "c"
	case dsl.PolicySetNull:
		return "n"
	default:
		return "r"
	}
}

func verifyConstraints(ctx context.Context, q Querier, namespace string, t Table) ([]string, error) {
	rows, err := q.QueryContext(ctx, constraintsQuery, namespace, t.Name)
	if err != nil {
		return nil, fmt.Errorf("read constraints of %s: %w", t.Name, err)
	}
	defer rows.Close()

	actual := map[string]constraintShape{}
	for rows.Next() {
		var name string
		var c constraintShape
		if err := rows.Scan(&name, &c.kind, &c.cols, &c.refTable, &c.refCols, &c.onDelete, &c.onUpdate); err != nil {
			return nil, err
		}
		actual[name] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var problems []string
	pk := ""
	for _, c := range actual {
		if c.kind == "p" {
			pk = c.cols
		}
	}
	if want := strings.Join(t.PrimaryKey, ","); pk != want {
		problems = append(problems, fmt.Sprintf("primary key is (%s), want (%s)", pk, want))
	}

	checks := map[string]bool{}
	for _, c := range t.Columns {
		if c.CheckName == "" {
			continue
		}
		checks[c.CheckName] = true
		if got, ok := actual[c.CheckName]; !ok || got.kind != "c" {
			problems = append(problems, fmt.Sprintf("column %q: check constraint %q is missing or differs", c.Name, c.CheckName))
		}
	}

	fks := map[string]bool{}
	for _, fk := range t.ForeignKeys {
		fks[fk.Name] = true
		got, ok := actual[fk.Name]
		if !ok {
			continue // добавится во второй фазе
		}
		want := constraintShape{
			kind:     "f",
			cols:     strings.Join(fk.Columns, ","),
			refTable: fk.RefTable,
			refCols:  strings.Join(fk.RefColumns, ","),
			onDelete: policyCode(fk.OnDelete),
			onUpdate: policyCode(fk.OnUpdate),
		}
		if got != want {
			problems = append(problems, fmt.Sprintf("foreign key %q differs: (%s) references %s (%s) on delete %s on update %s",
				fk.Name, got.cols, got.refTable, got.refCols, got.onDelete, got.onUpdate))
		}
	}

	for name, c := range actual {
		switch {
		case c.kind == "c" && !checks[name]:
			problems = append(problems, fmt.Sprintf("unexpected check constraint %q", name))
		case c.kind == "f" && !fks[name]:
			problems = append(problems, fmt.Sprintf("unexpected foreign key %q", name))
		}
	}
	return problems, nil
}
