package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// State backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
	Prefix   string
}

type AppConfig struct {
	Port         string
	StateBackend string
	DBPath       string
	Postgres     PostgresConfig
	Redis        RedisConfig
	DataDir      string
	PollInterval time.Duration
	EpochMargin  time.Duration
	LogLevel     string
	LogFormat    string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loader collects the first conversion error so Load can report it once.
type loader struct {
	err error
}

func (l *loader) atoi(key, def string) int {
	s := getenv(key, def)
	i, err := strconv.Atoi(s)
	if err != nil && l.err == nil {
		l.err = fmt.Errorf("invalid int value %q for %s: %w", s, key, err)
	}
	return i
}

func (l *loader) duration(key, def string) time.Duration {
	s := getenv(key, def)
	d, err := time.ParseDuration(s)
	if err != nil && l.err == nil {
		l.err = fmt.Errorf("invalid duration %q for %s: %w", s, key, err)
	}
	return d
}

// LoadDotEnv reads a .env file into the environment if one exists. Variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func Load() (AppConfig, error) {
	var l loader
	cfg := AppConfig{
		Port:         getenv("PORT", "8080"),
		StateBackend: getenv("STATE_BACKEND", BackendSQLite),
		DBPath:       getenv("DB_PATH", "reconciler.db"),
		Postgres: PostgresConfig{
			Host:     getenv("PG_HOST", "127.0.0.1"),
			Port:     l.atoi("PG_PORT", "5432"),
			User:     getenv("PG_USER", "reconciler"),
			Password: getenv("PG_PASSWORD", ""),
			DBName:   getenv("PG_DBNAME", "reconciler"),
			SSLMode:  getenv("PG_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       l.atoi("REDIS_DB", "0"),
			Timeout:  l.duration("REDIS_TIMEOUT", "5s"),
			Prefix:   getenv("REDIS_PREFIX", "reconciler"),
		},
		DataDir:      getenv("DATA_DIR", "data"),
		PollInterval: l.duration("POLL_INTERVAL", "1m"),
		EpochMargin:  l.duration("EPOCH_MARGIN", "5m"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		LogFormat:    getenv("LOG_FORMAT", "json"),
	}
	if l.err != nil {
		return AppConfig{}, l.err
	}
	switch cfg.StateBackend {
	case BackendSQLite, BackendPostgres, BackendRedis:
	default:
		return AppConfig{}, fmt.Errorf("unknown STATE_BACKEND %q", cfg.StateBackend)
	}
	if cfg.PollInterval <= 0 {
		return AppConfig{}, fmt.Errorf("POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	if cfg.EpochMargin < 0 {
		return AppConfig{}, fmt.Errorf("EPOCH_MARGIN must not be negative, got %s", cfg.EpochMargin)
	}
	return cfg, nil
}
