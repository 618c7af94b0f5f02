package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"natsvisor/internal/logging"
)

type Config struct {
	Server      ServerConfig     `mapstructure:"server"`
	Log         logging.Config   `mapstructure:"log"`
	Stage       StageConfig      `mapstructure:"stage"`
	Supervisor  SupervisorConfig `mapstructure:"supervisor"`
	History     HistoryConfig    `mapstructure:"history"`
	StorageRoot string           `mapstructure:"storage_root"`
	PresetsFile string           `mapstructure:"presets_file"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address" validate:"required"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" validate:"gte=1"`
}

// StageConfig locates the bundled gnatsd asset and where it is staged.
type StageConfig struct {
	AssetsDir string `mapstructure:"assets_dir" validate:"required"`
	AssetPath string `mapstructure:"asset_path" validate:"required"`
	Dir       string `mapstructure:"dir" validate:"required"`
	Name      string `mapstructure:"name"`
}

type SupervisorConfig struct {
	// WaitDelay is how long stdout may stay open after gnatsd exits, e.g.
	// held by a forked child, before it is closed.
	WaitDelay time.Duration `mapstructure:"wait_delay" validate:"gte=0"`
}

type HistoryConfig struct {
	// DSN is a go-sqlite3 data source. Empty disables run history.
	DSN string `mapstructure:"dsn"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatConsole)
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.no_color", false)
	v.SetDefault("stage.assets_dir", "assets")
	v.SetDefault("stage.asset_path", "gnatsd-v1.0.4-linux-arm/gnatsd")
	v.SetDefault("stage.dir", filepath.Join("data", "gnatsd-v1.0.4-linux-arm"))
	v.SetDefault("stage.name", "")
	v.SetDefault("supervisor.wait_delay", "2s")
	v.SetDefault("history.dsn", "")
	v.SetDefault("storage_root", "")
	v.SetDefault("presets_file", "natsvisor.yaml")
}

// LoadConfig reads defaults, then the optional YAML file at path, then
// environment variables. A .env file in the working directory is loaded
// first if present. Nested keys map to env vars with dots replaced by
// underscores, e.g. server.address is SERVER_ADDRESS.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.StorageRoot == "" {
		cfg.StorageRoot = DefaultStorageRoot()
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultStorageRoot is where relative log and config file names resolve
// when storage_root is not configured: $EXTERNAL_STORAGE on Android hosts,
// otherwise the user's home directory, otherwise the working directory.
func DefaultStorageRoot() string {
	if root := os.Getenv("EXTERNAL_STORAGE"); root != "" {
		return root
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
