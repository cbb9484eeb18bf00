// api/names.go
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"protorm/internal/dsl"
	"protorm/internal/engine"
)

// entityOf находит сущность по параметру :entity (имя типа или таблицы,
// регистронезависимо). При неудаче ответ уже отправлен.
func entityOf(c *gin.Context, s *engine.Session) (*dsl.Catalog, *dsl.Entity, bool) {
	cat := s.Catalog()
	if cat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session is not ready", "state": s.State().String()})
		return nil, nil, false
	}
	e, ok := cat.Entity(c.Param("entity"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entity not found"})
		return nil, nil, false
	}
	return cat, e, true
}
