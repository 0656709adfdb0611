package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Logger     Logger     `mapstructure:"logger"`
	Database   Database   `mapstructure:"database"`
	Server     Server     `mapstructure:"server"`
	Redis      Redis      `mapstructure:"redis"`
	PriceFeed  PriceFeed  `mapstructure:"price_feed"`
	Reconciler Reconciler `mapstructure:"reconciler"`
	Audit      Audit      `mapstructure:"audit"`
	Report     Report     `mapstructure:"report"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Database holds the configuration for the signal/outcome database.
type Database struct {
	Driver          string        `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Server holds the configuration for the HTTP API.
type Server struct {
	Port            int           `mapstructure:"port"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Redis is shared by the price cache and the redis change feed.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PriceFeed configures where the reconciler gets "current price" snapshots.
type PriceFeed struct {
	QuoteBaseURL   string        `mapstructure:"quote_base_url"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	MaxAge         time.Duration `mapstructure:"max_age"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Reconciler holds the knobs of the outcome repair job.
type Reconciler struct {
	ScanLimit        int    `mapstructure:"scan_limit"`
	BatchSize        int    `mapstructure:"batch_size"`
	MaxRepairsPerRun int    `mapstructure:"max_repairs_per_run"`
	Schedule         string `mapstructure:"schedule"`
}

// Audit configures the expiration audit listener.
type Audit struct {
	Feed            string        `mapstructure:"feed"` // redis, pgnotify, poll or none
	CheckDelay      time.Duration `mapstructure:"check_delay"`
	RedisChannel    string        `mapstructure:"redis_channel"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	RepairOnMissing bool          `mapstructure:"repair_on_missing"`
}

// Report configures the verification report.
type Report struct {
	ActiveLimit      int    `mapstructure:"active_limit"`
	ExpiredWindow    int    `mapstructure:"expired_window"`
	OutcomeSample    int    `mapstructure:"outcome_sample"`
	MissingThreshold int    `mapstructure:"missing_threshold"`
	Schedule         string `mapstructure:"schedule"`
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and FXA_* variables still apply.
func LoadConfig(path string) (config Config, err error) {
	// Optional .env for local runs
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.SetEnvPrefix("FXA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "signals.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("price_feed.quote_base_url", "")
	v.SetDefault("price_feed.rate_limit", 10)      // requests per second
	v.SetDefault("price_feed.rate_limit_burst", 5) // burst size
	v.SetDefault("price_feed.cache_ttl", "15s")
	v.SetDefault("price_feed.max_age", "0s")
	v.SetDefault("price_feed.timeout", "10s")

	v.SetDefault("reconciler.scan_limit", 100)
	v.SetDefault("reconciler.batch_size", 10)
	v.SetDefault("reconciler.max_repairs_per_run", 10)
	v.SetDefault("reconciler.schedule", "@every 5m")

	v.SetDefault("audit.feed", "poll")
	v.SetDefault("audit.check_delay", "30s")
	v.SetDefault("audit.redis_channel", "signal_status_changes")
	v.SetDefault("audit.poll_interval", "15s")
	v.SetDefault("audit.repair_on_missing", false)

	v.SetDefault("report.active_limit", 500)
	v.SetDefault("report.expired_window", 100)
	v.SetDefault("report.outcome_sample", 100)
	v.SetDefault("report.missing_threshold", 5)
	v.SetDefault("report.schedule", "@every 15m")
}
