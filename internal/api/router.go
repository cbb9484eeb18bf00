// api/router.go
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"protorm/internal/engine"
)

// NewRouter собирает маршруты над готовой (или собираемой) сессией.
func NewRouter(s *engine.Session) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", HealthHandler(s))

	apiGroup := r.Group("/api")
	{
		// статические "служебные" маршруты: СНАЧАЛА
		apiGroup.GET("/meta", MetaListHandler(s))
		apiGroup.GET("/meta/:entity", MetaEntityHandler(s))
		apiGroup.GET("/schema", SchemaHandler(s))
		apiGroup.GET("/schema/lint", SchemaLintHandler(s))

		apiGroup.POST("/:entity/_search", SearchHandler(s))
		apiGroup.POST("/:entity/_delete", DeleteHandler(s))

		apiGroup.POST("/:entity", RegisterHandler(s))
		apiGroup.PUT("/:entity", UpdateHandler(s))
	}
	return r
}

// RunServer обслуживает запросы до отмены ctx, затем корректно останавливается.
func RunServer(ctx context.Context, addr string, handler http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
