package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

const (
	defaultAppName         = "WalletLedger"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = "10s"
	defaultIdempotencyTTL  = "24h"
	defaultThrottleRate    = "600-M"
	defaultConflictBackoff = "5ms"
	defaultConflictRetries = 3
)

// Config captures application runtime configuration loaded from the
// environment and an optional .env file.
type Config struct {
	AppName         string
	AppEnv          string
	Port            string
	LogLevel        string
	LedgerBackend   string
	RedisURL        string
	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	AllowOverdraft  bool
	ThrottleRate    string
	ConflictRetries int
	ConflictBackoff time.Duration
}

// Load reads configuration values and validates them. Values from the real
// environment win over .env.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("APP_NAME", defaultAppName)
	v.SetDefault("APP_ENV", defaultAppEnv)
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("LEDGER_BACKEND", BackendMemory)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("SHUTDOWN_TIMEOUT", defaultShutdownDelay)
	v.SetDefault("IDEMPOTENCY_TTL", defaultIdempotencyTTL)
	v.SetDefault("ALLOW_OVERDRAFT", true)
	v.SetDefault("THROTTLE_RATE", defaultThrottleRate)
	v.SetDefault("CONFLICT_RETRIES", defaultConflictRetries)
	v.SetDefault("CONFLICT_BACKOFF", defaultConflictBackoff)
	v.AutomaticEnv()

	cfg := Config{
		AppName:         v.GetString("APP_NAME"),
		AppEnv:          v.GetString("APP_ENV"),
		Port:            v.GetString("PORT"),
		LogLevel:        strings.ToLower(v.GetString("LOG_LEVEL")),
		LedgerBackend:   strings.ToLower(strings.TrimSpace(v.GetString("LEDGER_BACKEND"))),
		RedisURL:        v.GetString("REDIS_URL"),
		AllowOverdraft:  v.GetBool("ALLOW_OVERDRAFT"),
		ThrottleRate:    strings.TrimSpace(v.GetString("THROTTLE_RATE")),
		ConflictRetries: v.GetInt("CONFLICT_RETRIES"),
	}

	var err error
	if cfg.ShutdownPeriod, err = duration(v, "SHUTDOWN_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = duration(v, "IDEMPOTENCY_TTL"); err != nil {
		return Config{}, err
	}
	if cfg.ConflictBackoff, err = duration(v, "CONFLICT_BACKOFF"); err != nil {
		return Config{}, err
	}

	switch cfg.LedgerBackend {
	case BackendMemory:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when LEDGER_BACKEND=%s", BackendRedis)
		}
	default:
		return Config{}, fmt.Errorf("invalid LEDGER_BACKEND %q: want %s or %s", cfg.LedgerBackend, BackendMemory, BackendRedis)
	}

	if strings.EqualFold(cfg.ThrottleRate, "off") {
		cfg.ThrottleRate = ""
	}

	if cfg.ConflictRetries < 0 {
		return Config{}, fmt.Errorf("invalid CONFLICT_RETRIES: %d", cfg.ConflictRetries)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// duration accepts either a Go duration string or KEY_SECONDS as an integer,
// the latter taking precedence.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	if raw := v.GetString(key + "_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
