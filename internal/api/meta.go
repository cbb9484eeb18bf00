package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"protorm/internal/dsl"
	"protorm/internal/engine"
)

// ===== META HANDLERS =====

type metaEntityListItem struct {
	Entity string `json:"entity"`
	Table  string `json:"table"`
}

func MetaListHandler(s *engine.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat := s.Catalog()
		if cat == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session is not ready", "state": s.State().String()})
			return
		}
		out := make([]metaEntityListItem, 0, len(cat.Names()))
		for _, e := range cat.Entities() {
			out = append(out, metaEntityListItem{Entity: e.Name, Table: e.Table})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaField struct {
	Name       string     `json:"name"`
	Column     string     `json:"column"`
	Kind       string     `json:"kind"`
	Role       string     `json:"role"`
	Ref        string     `json:"ref,omitempty"`
	RefColumns []string   `json:"refColumns,omitempty"`
	NotNull    bool       `json:"notNull,omitempty"`
	Unique     bool       `json:"unique,omitempty"`
	Auto       bool       `json:"auto,omitempty"`
	Ordered    bool       `json:"ordered,omitempty"`
	Enum       []string   `json:"enum,omitempty"`
	Range      *dsl.Range `json:"range,omitempty"`
	Default    any        `json:"default,omitempty"`
	Sentinel   any        `json:"sentinel,omitempty"`
	OnDelete   string     `json:"onDelete,omitempty"`
	OnUpdate   string     `json:"onUpdate,omitempty"`
}

type metaEntity struct {
	Entity     string      `json:"entity"`
	Table      string      `json:"table"`
	PrimaryKey []string    `json:"primaryKey"`
	Fields     []metaField `json:"fields"`
	DependsOn  []string    `json:"dependsOn,omitempty"`
}

func MetaEntityHandler(s *engine.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat, e, ok := entityOf(c, s)
		if !ok {
			return
		}

		fields := make([]metaField, 0, len(e.Fields))
		for i := range e.Fields {
			f := &e.Fields[i]
			mf := metaField{
				Name:     f.Name,
				Column:   f.Column,
				Kind:     string(f.Kind),
				Role:     f.Role.String(),
				NotNull:  f.NotNull,
				Unique:   f.Unique,
				Auto:     f.Auto,
				Ordered:  f.Ordered,
				Enum:     append([]string(nil), f.Constraint.Domain...),
				Range:    f.Constraint.Range,
				Default:  f.Default,
				Sentinel: f.Sentinel,
			}
			// политики имеют смысл только у ссылок
			if f.IsRelation() {
				mf.Ref = f.Target
				mf.RefColumns = append([]string(nil), f.RefColumns...)
				mf.OnDelete = string(f.OnDelete)
				mf.OnUpdate = string(f.OnUpdate)
			}
			fields = append(fields, mf)
		}

		c.JSON(http.StatusOK, metaEntity{
			Entity:     e.Name,
			Table:      e.Table,
			PrimaryKey: e.KeyColumns(),
			Fields:     fields,
			DependsOn:  cat.Dependencies(e.Name),
		})
	}
}

// GET /api/schema: DDL текущего набора сущностей (text/plain).
func SchemaHandler(s *engine.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		plan, err := s.Plan()
		if err != nil {
			respondError(c, err)
			return
		}
		c.String(http.StatusOK, plan.SQL())
	}
}
