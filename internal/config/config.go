/**
 * @description
 * Configuration for the ledger-service, read from environment variables (and an
 * optional .env file) through Viper.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-service.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	DBMaxConns                int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                int32  `mapstructure:"DB_MIN_CONNS"`
	DBMigrate                 bool   `mapstructure:"DB_MIGRATE"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	LedgerEventsExchange      string `mapstructure:"LEDGER_EVENTS_EXCHANGE"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	SchedulerLockKey          string `mapstructure:"SCHEDULER_LOCK_KEY"`
	SchedulerLockTTLSeconds   int    `mapstructure:"SCHEDULER_LOCK_TTL_SECONDS"`
	SchedulerEnabled          bool   `mapstructure:"SCHEDULER_ENABLED"`
	RecurringTransferSchedule string `mapstructure:"RECURRING_TRANSFER_SCHEDULE"`
	MaturityPayoutSchedule    string `mapstructure:"MATURITY_PAYOUT_SCHEDULE"`
	SchedulerTimezone         string `mapstructure:"SCHEDULER_TIMEZONE"`
	LockTimeoutMS             int    `mapstructure:"LOCK_TIMEOUT_MS"`
	InternalAPIKey            string `mapstructure:"INTERNAL_API_KEY"`
	JWTSecret                 string `mapstructure:"JWT_SECRET"`
	CORSAllowedOrigins        string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RateLimitPerMinute        int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`

	// Location is SchedulerTimezone resolved during LoadConfig.
	Location *time.Location `mapstructure:"-"`
}

const (
	defaultRecurringSchedule = "0 * * * *"
	defaultMaturitySchedule  = "30 0 * * *"
)

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DB_MAX_CONNS", 20)
	viper.SetDefault("DB_MIN_CONNS", 2)
	viper.SetDefault("DB_MIGRATE", false)
	viper.SetDefault("LEDGER_EVENTS_EXCHANGE", "ledger_events")
	viper.SetDefault("SCHEDULER_LOCK_KEY", "ledger:scheduler:tick")
	viper.SetDefault("SCHEDULER_LOCK_TTL_SECONDS", 300)
	viper.SetDefault("SCHEDULER_ENABLED", true)
	viper.SetDefault("RECURRING_TRANSFER_SCHEDULE", defaultRecurringSchedule)
	viper.SetDefault("MATURITY_PAYOUT_SCHEDULE", defaultMaturitySchedule)
	viper.SetDefault("SCHEDULER_TIMEZONE", "UTC")
	viper.SetDefault("LOCK_TIMEOUT_MS", 2000)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 120)

	// Bind explicitly so Unmarshal sees env-only keys.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL", "DATABASE_URL", "LEDGER_DATABASE_URL")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("DB_MIGRATE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_EVENTS_EXCHANGE")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("SCHEDULER_LOCK_KEY")
	_ = viper.BindEnv("SCHEDULER_LOCK_TTL_SECONDS")
	_ = viper.BindEnv("SCHEDULER_ENABLED")
	_ = viper.BindEnv("RECURRING_TRANSFER_SCHEDULE")
	_ = viper.BindEnv("MATURITY_PAYOUT_SCHEDULE")
	_ = viper.BindEnv("SCHEDULER_TIMEZONE")
	_ = viper.BindEnv("LOCK_TIMEOUT_MS")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("JWT_SECRET", "JWT_SECRET", "AUTH_JWT_SECRET")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("RATE_LIMIT_PER_MINUTE")

	// The .env file is optional.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "error", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)

	if config.LedgerEventsExchange = strings.TrimSpace(config.LedgerEventsExchange); config.LedgerEventsExchange == "" {
		config.LedgerEventsExchange = "ledger_events"
	}
	if config.DBMaxConns < 1 {
		config.DBMaxConns = 20
	}
	if config.DBMinConns < 0 || config.DBMinConns > config.DBMaxConns {
		config.DBMinConns = 0
	}
	if config.LockTimeoutMS <= 0 {
		slog.Warn("non-positive lock timeout configured; using default", "component", "config", "lock_timeout_ms", config.LockTimeoutMS)
		config.LockTimeoutMS = 2000
	}
	if config.SchedulerLockTTLSeconds <= 0 {
		config.SchedulerLockTTLSeconds = 300
	}
	if config.RateLimitPerMinute < 0 {
		config.RateLimitPerMinute = 0
	}

	config.RecurringTransferSchedule = strings.TrimSpace(config.RecurringTransferSchedule)
	config.MaturityPayoutSchedule = strings.TrimSpace(config.MaturityPayoutSchedule)
	for _, schedule := range []string{config.RecurringTransferSchedule, config.MaturityPayoutSchedule} {
		if _, parseErr := cron.ParseStandard(schedule); parseErr != nil {
			return config, fmt.Errorf("invalid cron schedule %q: %w", schedule, parseErr)
		}
	}

	tz := strings.TrimSpace(config.SchedulerTimezone)
	if tz == "" {
		tz = "UTC"
	}
	config.Location, err = time.LoadLocation(tz)
	if err != nil {
		return config, fmt.Errorf("invalid SCHEDULER_TIMEZONE %q: %w", tz, err)
	}
	config.SchedulerTimezone = tz

	return config, nil
}

// LockTimeout is the account-lock acquisition timeout.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

func (c Config) SchedulerLockTTL() time.Duration {
	return time.Duration(c.SchedulerLockTTLSeconds) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
