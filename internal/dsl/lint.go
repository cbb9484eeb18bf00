package dsl

import (
	"fmt"
	"slices"
)

// SchemaIssue: найденное противоречие в метаданных (не блокирует сборку).
type SchemaIssue struct {
	Entity  string `json:"entity"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Lint проверяет базовые противоречия в дескрипторах.
func (c *Catalog) Lint() []SchemaIssue {
	var issues []SchemaIssue
	add := func(e *Entity, f *Field, code, msg string) {
		issues = append(issues, SchemaIssue{Entity: e.Name, Field: f.Name, Code: code, Message: msg})
	}

	for _, e := range c.Entities() {
		for i := range e.Fields {
			f := &e.Fields[i]

			// required ref + set_null: конфликт
			if f.Role == RoleToOne && f.NotNull && f.OnDelete == PolicySetNull {
				add(e, f, "required_conflicts_on_delete",
					"required ref cannot have on_delete=set_null; use restrict or cascade (or make field optional)")
			}
			if f.Role == RoleToMany && f.OnDelete == PolicySetNull {
				add(e, f, "set_null_on_collection",
					"on_delete=set_null on a collection removes the link row (same as cascade)")
			}

			if f.HasDefault() && !f.Constraint.Empty() && !satisfies(f, f.Default) {
				add(e, f, "default_violates_constraint",
					fmt.Sprintf("default %v violates the field constraint", f.Default))
			}

			if f.HasSentinel() && f.Constraint.Range != nil {
				if s := toFloat(f.Sentinel); s >= f.Constraint.Range.Low && s <= f.Constraint.Range.High {
					add(e, f, "sentinel_inside_range",
						fmt.Sprintf("sentinel %v lies inside range [%v,%v]; that value can never be stored", f.Sentinel, f.Constraint.Range.Low, f.Constraint.Range.High))
				}
			}

			// default на sentinel-поле читается обратно как sentinel
			if f.HasSentinel() && f.HasDefault() {
				add(e, f, "default_shadows_value",
					fmt.Sprintf("stored value %v is read back as sentinel %v", f.Default, f.Sentinel))
			}
		}
	}
	return issues
}

// satisfies проверяет нормализованное значение против domain/range.
func satisfies(f *Field, v any) bool {
	if len(f.Constraint.Domain) > 0 && !slices.Contains(f.Constraint.Domain, fmt.Sprint(v)) {
		return false
	}
	if rg := f.Constraint.Range; rg != nil {
		x := toFloat(v)
		if x < rg.Low || x > rg.High {
			return false
		}
	}
	return true
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	}
	return 0
}
