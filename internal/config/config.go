package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Features  FeaturesConfig  `yaml:"features" mapstructure:"features"`
	Train     TrainConfig     `yaml:"train" mapstructure:"train"`
	Score     ScoreConfig     `yaml:"score" mapstructure:"score"`
	Artifacts ArtifactsConfig `yaml:"artifacts" mapstructure:"artifacts"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// IngestConfig configures transaction file loading.
type IngestConfig struct {
	Strict            bool     `yaml:"strict" mapstructure:"strict"`
	SheetName         string   `yaml:"sheet_name" mapstructure:"sheet_name"`
	DateLayouts       []string `yaml:"date_layouts" mapstructure:"date_layouts"`
	FTPTimeoutSeconds int      `yaml:"ftp_timeout_seconds" mapstructure:"ftp_timeout_seconds"`
}

// FeaturesConfig configures the feature engineering engine. The cancellation
// prefix and snapshot offset are dataset conventions, so both are settable.
type FeaturesConfig struct {
	CancellationPrefix  string   `yaml:"cancellation_prefix" mapstructure:"cancellation_prefix"`
	SnapshotOffsetHours int      `yaml:"snapshot_offset_hours" mapstructure:"snapshot_offset_hours"`
	SnapshotDate        string   `yaml:"snapshot_date" mapstructure:"snapshot_date"`
	Columns             []string `yaml:"columns" mapstructure:"columns"`
	Workers             int      `yaml:"workers" mapstructure:"workers"`
}

// TrainConfig configures model fitting.
type TrainConfig struct {
	K             int     `yaml:"k" mapstructure:"k"`
	Seed          int64   `yaml:"seed" mapstructure:"seed"`
	Restarts      int     `yaml:"restarts" mapstructure:"restarts"`
	MaxIterations int     `yaml:"max_iterations" mapstructure:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance" mapstructure:"tolerance"`
	Labeler       string  `yaml:"labeler" mapstructure:"labeler"`
}

// ScoreConfig configures batch scoring.
type ScoreConfig struct {
	Workers         int  `yaml:"workers" mapstructure:"workers"`
	SaveAssignments bool `yaml:"save_assignments" mapstructure:"save_assignments"`
}

// ArtifactsConfig selects where model artifacts live.
type ArtifactsConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // file, sqlite, postgres
	Dir     string `yaml:"dir" mapstructure:"dir"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	MaxBodyMB      int      `yaml:"max_body_mb" mapstructure:"max_body_mb"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SEGMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ingest.strict", false)
	v.SetDefault("ingest.ftp_timeout_seconds", 30)
	v.SetDefault("features.cancellation_prefix", "C")
	v.SetDefault("features.snapshot_offset_hours", 24)
	v.SetDefault("features.columns", []string{"recency", "frequency", "monetary"})
	v.SetDefault("features.workers", 4)
	v.SetDefault("train.k", 4)
	v.SetDefault("train.seed", 42)
	v.SetDefault("train.restarts", 10)
	v.SetDefault("train.max_iterations", 300)
	v.SetDefault("train.tolerance", 1e-4)
	v.SetDefault("train.labeler", "rfm")
	v.SetDefault("score.workers", 4)
	v.SetDefault("score.save_assignments", false)
	v.SetDefault("artifacts.backend", "file")
	v.SetDefault("artifacts.dir", "artifacts")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "segment.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.max_body_mb", 64)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "train":
		if c.Train.K < 2 {
			errs = append(errs, "train.k must be >= 2")
		}
		if c.Train.Restarts < 1 {
			errs = append(errs, "train.restarts must be >= 1")
		}
		if c.Train.MaxIterations < 1 {
			errs = append(errs, "train.max_iterations must be >= 1")
		}
		if c.Train.Tolerance < 0 {
			errs = append(errs, "train.tolerance must be >= 0")
		}
		errs = append(errs, c.validateFeatures()...)
		errs = append(errs, c.validateArtifacts()...)
	case "score":
		if c.Score.Workers < 1 {
			errs = append(errs, "score.workers must be >= 1")
		}
		errs = append(errs, c.validateFeatures()...)
		errs = append(errs, c.validateArtifacts()...)
	case "features":
		errs = append(errs, c.validateFeatures()...)
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitRPS <= 0 {
			errs = append(errs, "server.rate_limit_rps must be > 0")
		}
		errs = append(errs, c.validateArtifacts()...)
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateFeatures() []string {
	var errs []string
	if c.Features.SnapshotOffsetHours < 0 {
		errs = append(errs, "features.snapshot_offset_hours must be >= 0")
	}
	if c.Features.Workers < 1 {
		errs = append(errs, "features.workers must be >= 1")
	}
	if len(c.Features.Columns) == 0 {
		errs = append(errs, "features.columns must not be empty")
	}
	return errs
}

func (c *Config) validateArtifacts() []string {
	switch c.Artifacts.Backend {
	case "file":
		if c.Artifacts.Dir == "" {
			return []string{"artifacts.dir is required for the file backend"}
		}
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for the " + c.Artifacts.Backend + " backend"}
		}
	default:
		return []string{fmt.Sprintf("artifacts.backend must be file, sqlite or postgres, got %q", c.Artifacts.Backend)}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
