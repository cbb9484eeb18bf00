// api/schema_lint.go
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"protorm/internal/dsl"
	"protorm/internal/engine"
)

// GET /api/schema/lint: противоречия в метаданных; сборку они не блокируют.
func SchemaLintHandler(s *engine.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat := s.Catalog()
		if cat == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session is not ready", "state": s.State().String()})
			return
		}
		issues := cat.Lint()
		if issues == nil {
			issues = []dsl.SchemaIssue{}
		}
		c.JSON(http.StatusOK, gin.H{"issues": issues, "count": len(issues)})
	}
}
