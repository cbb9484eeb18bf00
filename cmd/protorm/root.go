package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"protorm/internal/config"
)

var (
	// заполняются в PersistentPreRunE
	cfg        *config.Config
	configPath string
	logger     *slog.Logger

	cfgFile string
)

// flagKeys: глобальные флаги и соответствующие ключи конфигурации.
var flagKeys = map[string]string{
	"db":         "database.url",
	"driver":     "database.driver",
	"namespace":  "database.namespace",
	"port":       "server.port",
	"enums-dir":  "enums_dir",
	"log-level":  "log.level",
	"log-format": "log.format",
}

var rootCmd = &cobra.Command{
	Use:   "protorm",
	Short: "Prototype-driven object-relational mapping over PostgreSQL",
	Long: `protorm - prototype-driven object-relational mapping over PostgreSQL

Entity types are plain Go structs annotated with orm tags. protorm derives the
relational schema from them, creates it, and serves register/search/update/delete
over HTTP for the built-in sample catalog.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		var err error
		cfg, configPath, err = config.LoadWithPath(cfgFile, cmd.Flags(), flagKeys)
		if err != nil {
			return configError("loading configuration", err)
		}
		logger = newLogger(cmd.ErrOrStderr(), cfg.Log)
		slog.SetDefault(logger)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

const (
	groupSchema  = "schema"
	groupServe   = "serve"
	groupUtility = "utility"
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: auto-discover protorm.yaml)")
	pf.String("db", "", "PostgreSQL URL (database.url)")
	pf.String("driver", "", "database/sql driver: pgx|postgres (database.driver)")
	pf.String("namespace", "", "PostgreSQL schema for created tables (database.namespace)")
	pf.String("port", "", "HTTP port (server.port)")
	pf.String("enums-dir", "", "directory with YAML enum catalogs (enums_dir)")
	pf.String("log-level", "", "debug|info|warn|error (log.level)")
	pf.String("log-format", "", "text|json (log.format)")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupSchema, Title: "Schema:"},
		&cobra.Group{ID: groupServe, Title: "Server:"},
		&cobra.Group{ID: groupUtility, Title: "Utility:"},
	)

	planCmd.GroupID = groupSchema
	buildCmd.GroupID = groupSchema
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(buildCmd)

	serveCmd.GroupID = groupServe
	rootCmd.AddCommand(serveCmd)

	configCmd.GroupID = groupUtility
	rootCmd.AddCommand(configCmd)
}

// Execute запускает корневую команду.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		exitWithError(err)
	}
}
