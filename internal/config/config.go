package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"protorm/internal/pg"
)

const maxWalkDepth = 25

// FileNames: имена конфигурационного файла, которые ищутся автоматически.
var FileNames = []string{"protorm.yaml", "protorm.yml"}

// Config: эффективная конфигурация protorm.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	EnumsDir string         `mapstructure:"enums_dir" json:"enums_dir"`
	Build    BuildConfig    `mapstructure:"build" json:"build"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url" json:"url"`
	Driver          string        `mapstructure:"driver" json:"driver"` // pgx | postgres
	MaxOpenConns    int           `mapstructure:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" json:"conn_max_lifetime"`
	Namespace       string        `mapstructure:"namespace" json:"namespace"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" json:"port"`
}

type BuildConfig struct {
	Auto bool `mapstructure:"auto" json:"auto"` // собирать схему при serve
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug | info | warn | error
	Format string `mapstructure:"format" json:"format"` // text | json
}

// PoolOptions: параметры пула для pg.Open.
func (c *Config) PoolOptions() pg.PoolOptions {
	return pg.PoolOptions{
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// LoadWithPath читает конфигурацию с приоритетом: флаги > ENV (PROTORM_*) > файл > defaults.
// flags может быть nil; связываются только флаги, имена которых есть в bindings.
// Возвращает конфиг и путь к прочитанному файлу (пусто, если файла нет).
func LoadWithPath(explicitPath string, flags *pflag.FlagSet, bindings map[string]string) (*Config, string, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PROTORM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := findConfigFile(explicitPath)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, path, fmt.Errorf("reading config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range bindings {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, path, fmt.Errorf("binding flag --%s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, path, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return &cfg, path, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("database.driver", pg.DriverPgx)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.namespace", "")

	v.SetDefault("server.port", "8080")
	v.SetDefault("enums_dir", "")
	v.SetDefault("build.auto", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate проверяет значения, которые нельзя исправить молча.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case pg.DriverPgx, pg.DriverPq:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q (allowed: %s|%s)", c.Database.Driver, pg.DriverPgx, pg.DriverPq))
	}
	if c.Database.MaxOpenConns < 0 {
		errs = append(errs, fmt.Errorf("database.max_open_conns: must not be negative (0 selects the default)"))
	}
	if c.Database.MaxIdleConns < 0 {
		errs = append(errs, fmt.Errorf("database.max_idle_conns: must not be negative"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q (allowed: text|json)", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// findConfigFile: явный путь должен существовать; иначе поиск protorm.yaml
// вверх от cwd до корня репозитория (.git) или maxWalkDepth уровней.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}
	dir := cwd
	for i := 0; i < maxWalkDepth; i++ {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil
}
