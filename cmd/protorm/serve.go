package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"protorm/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build the schema and serve the HTTP API",
	Long: `Serve register/search/update/delete for the sample catalog over HTTP.
With build.auto the schema is built on startup; otherwise only /healthz and
/api/schema respond and the data endpoints return 503.`,
	Example: `  protorm serve --db postgres://localhost/app --port 8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		s, err := newSession(db)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		if cfg.Build.Auto {
			if err := s.Build(ctx); err != nil {
				return schemaError("building schema", err)
			}
		} else {
			logger.Warn("build.auto is off; schema is not built")
		}

		if cfg.Log.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		return api.RunServer(ctx, ":"+cfg.Server.Port, api.NewRouter(s), logger)
	},
}
