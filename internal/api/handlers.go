package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"protorm/internal/dsl"
	"protorm/internal/engine"
)

// GET /healthz
func HealthHandler(s *engine.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := s.State()
		if st != engine.StateReady {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "state": st.String()})
			return
		}
		if err := s.DB().PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "state": st.String(), "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "state": st.String()})
	}
}

// POST /api/:entity
// POST /api/:entity?attempt=true: конфликт ключа даёт 200 и registered=0
func RegisterHandler(s *engine.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat, e, ok := entityOf(c, s)
		if !ok {
			return
		}
		var body map[string]json.RawMessage
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		inst, err := decode(cat, e, body)
		if err != nil {
			respondError(c, err)
			return
		}

		if attempt, _ := strconv.ParseBool(c.Query("attempt")); attempt {
			n, err := s.AttemptRegister(c.Request.Context(), inst.Interface())
			if err != nil {
				respondError(c, err)
				return
			}
			status := http.StatusCreated
			if n == 0 {
				status = http.StatusOK
			}
			c.JSON(status, gin.H{"registered": n, "record": flatten(cat, e, inst.Elem())})
			return
		}

		if err := s.Register(c.Request.Context(), inst.Interface()); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, flatten(cat, e, inst.Elem()))
	}
}

// POST /api/:entity/_search
// Тело: прототип (пустое тело: все строки); ?fields=a,b: сравнивать только эти поля.
func SearchHandler(s *engine.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat, e, ok := entityOf(c, s)
		if !ok {
			return
		}
		inst, ok := bindPrototype(c, cat, e)
		if !ok {
			return
		}

		var (
			found []any
			err   error
		)
		if fields := splitList(c.Query("fields")); len(fields) > 0 {
			found, err = s.SearchFields(c.Request.Context(), inst.Interface(), fields...)
		} else {
			found, err = s.Search(c.Request.Context(), inst.Interface())
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.Header("X-Total-Count", strconv.Itoa(len(found)))
		c.JSON(http.StatusOK, flattenAll(cat, e, found))
	}
}

// PUT /api/:entity
// Строка ищется по первичному ключу и/или unique-полям тела.
func UpdateHandler(s *engine.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat, e, ok := entityOf(c, s)
		if !ok {
			return
		}
		var body map[string]json.RawMessage
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		inst, err := decode(cat, e, body)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := s.Update(c.Request.Context(), inst.Interface()); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, flatten(cat, e, inst.Elem()))
	}
}

// POST /api/:entity/_delete
func DeleteHandler(s *engine.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat, e, ok := entityOf(c, s)
		if !ok {
			return
		}
		inst, ok := bindPrototype(c, cat, e)
		if !ok {
			return
		}
		n, err := s.Delete(c.Request.Context(), inst.Interface())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n})
	}
}

// bindPrototype читает необязательное тело-прототип.
func bindPrototype(c *gin.Context, cat *dsl.Catalog, e *dsl.Entity) (reflect.Value, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid body"})
		return reflect.Value{}, false
	}
	body := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return reflect.Value{}, false
		}
	}
	inst, err := decode(cat, e, body)
	if err != nil {
		respondError(c, err)
		return reflect.Value{}, false
	}
	return inst, true
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// statusForError сопоставляет ошибки движка с HTTP-статусами.
func statusForError(err error) int {
	switch {
	case engine.IsNotReadyErr(err):
		return http.StatusServiceUnavailable
	case engine.IsDuplicateKeyErr(err), engine.IsNoUniqueFieldErr(err), engine.IsCascadeViolationErr(err):
		return http.StatusConflict
	case engine.IsConstraintViolationErr(err), errors.Is(err, engine.ErrInvalidRelationTarget):
		return http.StatusUnprocessableEntity
	case dsl.IsInvalidDescriptorErr(err), errors.Is(err, engine.ErrNotEntity):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	resp := gin.H{"error": err.Error()}
	if fe := engine.FieldErrors(err); len(fe) > 0 {
		resp["errors"] = fe
	}
	c.JSON(status, resp)
}
