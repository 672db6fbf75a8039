package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Feed     FeedConfig     `yaml:"feed" mapstructure:"feed"`
	Refresh  RefreshConfig  `yaml:"refresh" mapstructure:"refresh"`
	Backfill BackfillConfig `yaml:"backfill" mapstructure:"backfill"`
	Stats    StatsConfig    `yaml:"stats" mapstructure:"stats"`
	Backup   BackupConfig   `yaml:"backup" mapstructure:"backup"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// FeedConfig configures the upstream events endpoint.
type FeedConfig struct {
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetrySecs   int    `yaml:"retry_secs" mapstructure:"retry_secs"`
}

// RefreshConfig configures the staleness-gated refresh cycle.
type RefreshConfig struct {
	CacheIntervalSecs int `yaml:"cache_interval_secs" mapstructure:"cache_interval_secs"`
	BackfillThreshold int `yaml:"backfill_threshold" mapstructure:"backfill_threshold"`
	LogRetentionDays  int `yaml:"log_retention_days" mapstructure:"log_retention_days"`
}

// BackfillConfig configures the historical catch-up walk.
type BackfillConfig struct {
	HighWater    int `yaml:"high_water" mapstructure:"high_water"`
	MaxDays      int `yaml:"max_days" mapstructure:"max_days"`
	DayDelayMsec int `yaml:"day_delay_msec" mapstructure:"day_delay_msec"`
}

// StatsConfig configures the statistics aggregator.
type StatsConfig struct {
	Timezone          string `yaml:"timezone" mapstructure:"timezone"`
	TopN              int    `yaml:"top_n" mapstructure:"top_n"`
	ExcludeTypePrefix string `yaml:"exclude_type_prefix" mapstructure:"exclude_type_prefix"`
}

// BackupConfig configures SQLite backups.
type BackupConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	RetentionDays int    `yaml:"retention_days" mapstructure:"retention_days"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	APIKey      string   `yaml:"api_key" mapstructure:"api_key"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CacheInterval returns the refresh spacing as a duration.
func (r RefreshConfig) CacheInterval() time.Duration {
	return time.Duration(r.CacheIntervalSecs) * time.Second
}

// LogRetention returns the fetch-log retention as a duration.
func (r RefreshConfig) LogRetention() time.Duration {
	return time.Duration(r.LogRetentionDays) * 24 * time.Hour
}

// Timeout returns the per-attempt feed timeout as a duration.
func (f FeedConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSecs) * time.Second
}

// RetryDelay returns the fixed delay between feed attempts.
func (f FeedConfig) RetryDelay() time.Duration {
	return time.Duration(f.RetrySecs) * time.Second
}

// DayDelay returns the pause between backfill day queries.
func (b BackfillConfig) DayDelay() time.Duration {
	return time.Duration(b.DayDelayMsec) * time.Millisecond
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SAMBAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/events.db")
	v.SetDefault("feed.endpoint", "https://polisen.se/api/events")
	v.SetDefault("feed.timeout_secs", 30)
	v.SetDefault("feed.max_attempts", 3)
	v.SetDefault("feed.retry_secs", 2)
	v.SetDefault("refresh.cache_interval_secs", 300)
	v.SetDefault("refresh.backfill_threshold", 100)
	v.SetDefault("refresh.log_retention_days", 30)
	v.SetDefault("backfill.high_water", 500)
	v.SetDefault("backfill.max_days", 30)
	v.SetDefault("backfill.day_delay_msec", 500)
	v.SetDefault("stats.timezone", "Europe/Stockholm")
	v.SetDefault("stats.top_n", 10)
	v.SetDefault("stats.exclude_type_prefix", "Sammanfattning")
	v.SetDefault("backup.retention_days", 14)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
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
