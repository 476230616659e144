package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Env       string
	Port      string
	DB        DB
	Reconcile Reconcile
	Redis     Redis
}

type DB struct {
	Driver   string // postgres | sqlite
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	Path     string // файл sqlite
}

type Reconcile struct {
	Enabled         bool
	Interval        time.Duration
	Grace           time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	LockTTL         time.Duration
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

func (r Redis) Enabled() bool { return r.Addr != "" }

func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// DSN builds a libpq connection string for the postgres driver.
func (d DB) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

// Load reads .env (if present) and the process environment.
func Load(log *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("failed to read .env", zap.Error(err))
	}

	cfg := &Config{
		Env:  getEnv("ENV", "production"),
		Port: getEnv("APP_PORT", "8070"),
		DB: DB{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			Host:     getEnv("DB_HOST", "postgres"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "program"),
			Password: getEnv("DB_PASSWORD", "test"),
			Name:     getEnv("DB_NAME", "reservations"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Path:     getEnv("DB_PATH", "reservations.db"),
		},
		Reconcile: Reconcile{
			Enabled:         getEnv("RECONCILE_ENABLED", "true") == "true",
			Interval:        parseDuration(getEnv("RECONCILE_INTERVAL", "5m")),
			Grace:           parseDuration(getEnv("RECONCILE_GRACE", "30m")),
			BreakerFailures: atoiDefault(getEnv("RECONCILE_BREAKER_FAILURES", "5"), 5),
			BreakerCooldown: parseDuration(getEnv("RECONCILE_BREAKER_COOLDOWN", "10m")),
			LockTTL:         parseDuration(getEnv("RECONCILE_LOCK_TTL", "4m")),
		},
		Redis: Redis{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       atoiDefault(os.Getenv("REDIS_DB"), 0),
		},
	}

	if err := cfg.validate(); err != nil {
		log.Error("invalid configuration", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}

// validate covers what the HTTP service needs to run at all.
func (c *Config) validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.Port == "" {
		return errors.New("APP_PORT must not be empty")
	}
	return nil
}

// ValidateReconcile checks the scheduler settings. Load does not reject them:
// a bad value only keeps the trigger from starting.
func (c *Config) ValidateReconcile() error {
	if c.Reconcile.Interval <= 0 {
		return errors.New("RECONCILE_INTERVAL must be a positive duration")
	}
	if c.Reconcile.Grace <= 0 {
		return errors.New("RECONCILE_GRACE must be a positive duration")
	}
	if c.Reconcile.BreakerFailures < 0 {
		return errors.New("RECONCILE_BREAKER_FAILURES must not be negative")
	}
	if c.Reconcile.BreakerFailures > 0 && c.Reconcile.BreakerCooldown <= 0 {
		return errors.New("RECONCILE_BREAKER_COOLDOWN must be a positive duration")
	}
	if c.Redis.Enabled() && c.Reconcile.LockTTL <= 0 {
		return errors.New("RECONCILE_LOCK_TTL must be a positive duration")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// parseDuration понимает также суффикс "d" (дни). Ошибка разбора даёт 0,
// такое значение отсекается в ValidateReconcile.
func parseDuration(s string) time.Duration {
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0
		}
		return time.Duration(days) * 24 * time.Hour
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
