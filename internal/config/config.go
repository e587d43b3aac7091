package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Google   GoogleConfig   `yaml:"google" mapstructure:"google"`
	Facebook FacebookConfig `yaml:"facebook" mapstructure:"facebook"`
	Hunter   HunterConfig   `yaml:"hunter" mapstructure:"hunter"`
	ICP      ICPConfig      `yaml:"icp" mapstructure:"icp"`
	Enrich   EnrichConfig   `yaml:"enrich" mapstructure:"enrich"`
	Publish  PublishConfig  `yaml:"publish" mapstructure:"publish"`
	Importer ImporterConfig `yaml:"importer" mapstructure:"importer"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
}

// FacebookConfig holds Graph API settings for page statistics.
type FacebookConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// HunterConfig holds email finder settings.
type HunterConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ICPConfig configures signal detection.
type ICPConfig struct {
	RulesPath              string `yaml:"rules_path" mapstructure:"rules_path"`
	BatchLimit             int    `yaml:"batch_limit" mapstructure:"batch_limit"`
	AddressLengthThreshold int    `yaml:"address_length_threshold" mapstructure:"address_length_threshold"`
}

// RetrySettings holds retry knobs for outbound calls.
type RetrySettings struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitSettings holds circuit breaker knobs for outbound calls.
type CircuitSettings struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// EnrichConfig configures lead enrichment.
type EnrichConfig struct {
	MinIcpScore      int             `yaml:"min_icp_score" mapstructure:"min_icp_score"`
	DefaultRegion    string          `yaml:"default_region" mapstructure:"default_region"`
	CallIntervalMs   int             `yaml:"call_interval_ms" mapstructure:"call_interval_ms"`
	FetchTimeoutSecs int             `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	BatchLimit       int             `yaml:"batch_limit" mapstructure:"batch_limit"`
	Retry            RetrySettings   `yaml:"retry" mapstructure:"retry"`
	Circuit          CircuitSettings `yaml:"circuit" mapstructure:"circuit"`
}

// PublishConfig configures profile generation.
type PublishConfig struct {
	MinGrade      string `yaml:"min_grade" mapstructure:"min_grade"`
	Brand         string `yaml:"brand" mapstructure:"brand"`
	Language      string `yaml:"language" mapstructure:"language"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	TemplatesPath string `yaml:"templates_path" mapstructure:"templates_path"`
	BatchLimit    int    `yaml:"batch_limit" mapstructure:"batch_limit"`
}

// ImporterConfig configures the progressive batch importer.
type ImporterConfig struct {
	ChunkSize        int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	MaxRetries       int    `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	Checkpoint       string `yaml:"checkpoint" mapstructure:"checkpoint"` // file, postgres, redis, sqlite
	CheckpointDir    string `yaml:"checkpoint_dir" mapstructure:"checkpoint_dir"`
	CheckpointDSN    string `yaml:"checkpoint_dsn" mapstructure:"checkpoint_dsn"`
	RedisURL         string `yaml:"redis_url" mapstructure:"redis_url"`
}

// Search is one query/location pair run by the daily batch.
type Search struct {
	Query    string `yaml:"query" mapstructure:"query"`
	Location string `yaml:"location" mapstructure:"location"`
}

// PipelineConfig configures the discovery-to-publish orchestrator.
type PipelineConfig struct {
	Sources       []string `yaml:"sources" mapstructure:"sources"`
	DailySearches []Search `yaml:"daily_searches" mapstructure:"daily_searches"`
	DailySchedule string   `yaml:"daily_schedule" mapstructure:"daily_schedule"`
	FixturePath   string   `yaml:"fixture_path" mapstructure:"fixture_path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env is optional; existing environment variables win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("google.key", "")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.rate_limit", 5.0)
	v.SetDefault("facebook.token", "")
	v.SetDefault("facebook.base_url", "https://graph.facebook.com/v19.0")
	v.SetDefault("hunter.key", "")
	v.SetDefault("hunter.base_url", "https://api.hunter.io/v2")
	v.SetDefault("icp.rules_path", "")
	v.SetDefault("icp.batch_limit", 500)
	v.SetDefault("icp.address_length_threshold", 100)
	v.SetDefault("enrich.min_icp_score", 40)
	v.SetDefault("enrich.default_region", "US")
	v.SetDefault("enrich.call_interval_ms", 1000)
	v.SetDefault("enrich.fetch_timeout_secs", 10)
	v.SetDefault("enrich.batch_limit", 100)
	v.SetDefault("enrich.retry.max_attempts", 3)
	v.SetDefault("enrich.retry.initial_backoff_ms", 500)
	v.SetDefault("enrich.retry.max_backoff_ms", 10000)
	v.SetDefault("enrich.circuit.failure_threshold", 5)
	v.SetDefault("enrich.circuit.reset_timeout_secs", 60)
	v.SetDefault("publish.min_grade", "B")
	v.SetDefault("publish.brand", "Directorio Local")
	v.SetDefault("publish.language", "en")
	v.SetDefault("publish.base_url", "https://example.com/negocios")
	v.SetDefault("publish.templates_path", "")
	v.SetDefault("publish.batch_limit", 100)
	v.SetDefault("importer.chunk_size", 10000)
	v.SetDefault("importer.max_retries", 3)
	v.SetDefault("importer.initial_backoff_ms", 1000)
	v.SetDefault("importer.checkpoint", "file")
	v.SetDefault("importer.checkpoint_dir", ".leadflow/checkpoints")
	v.SetDefault("importer.checkpoint_dsn", ".leadflow/checkpoints.db")
	v.SetDefault("importer.redis_url", "")
	v.SetDefault("pipeline.sources", []string{"google"})
	v.SetDefault("pipeline.daily_schedule", "0 6 * * *")
	v.SetDefault("pipeline.fixture_path", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

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

// Validate checks that the keys a command mode depends on are present.
// Modes: "store", "pipeline", "daily", "import", "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	requireStore := func() {
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}

	switch mode {
	case "store":
		requireStore()
	case "pipeline", "daily":
		requireStore()
		for _, src := range c.Pipeline.Sources {
			switch src {
			case "google":
				if c.Google.Key == "" {
					errs = append(errs, "google.key is required for the google source")
				}
			case "fixture":
				if c.Pipeline.FixturePath == "" {
					errs = append(errs, "pipeline.fixture_path is required for the fixture source")
				}
			default:
				errs = append(errs, "unknown pipeline source "+strconv.Quote(src))
			}
		}
		if mode == "daily" && len(c.Pipeline.DailySearches) == 0 {
			errs = append(errs, "pipeline.daily_searches is empty")
		}
	case "import":
		if c.Importer.ChunkSize <= 0 {
			errs = append(errs, "importer.chunk_size must be > 0")
		}
		switch c.Importer.Checkpoint {
		case "file", "sqlite":
		case "postgres":
			requireStore()
		case "redis":
			if c.Importer.RedisURL == "" {
				errs = append(errs, "importer.redis_url is required for redis checkpoints")
			}
		default:
			errs = append(errs, "unknown importer.checkpoint "+strconv.Quote(c.Importer.Checkpoint))
		}
	case "serve":
		requireStore()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Enrich.MinIcpScore < 0 || c.Enrich.MinIcpScore > 100 {
		errs = append(errs, "enrich.min_icp_score must be between 0 and 100")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
