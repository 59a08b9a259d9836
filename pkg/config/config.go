// Package config loads NexusKnowledge's environment-driven configuration.
// Every recognised option is read once at startup; the resulting Config is
// read-only thereafter.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nexusknowledge/nexusknowledge/pkg/scheduler"
)

// Environment is the deployment class named by APP_ENV.
type Environment string

// Recognised APP_ENV values.
const (
	EnvLocal Environment = "local"
	EnvTest  Environment = "test"
	EnvProd  Environment = "prod"
)

// Config is every environment-derived setting a NexusKnowledge process
// needs, loaded once at startup and read-only thereafter.
type Config struct {
	AppEnv Environment

	DatabaseURL string
	BrokerURL   string // REDIS_URL; the scheduler itself is Postgres-backed, kept for operator tooling that expects a broker URL.
	TrackerURI  string // MLFLOW_TRACKING_URI; http://... or file://...
	SecretKey   string
	LogLevel    string
	APIRoot     string
	NeoURI      string // optional; empty disables pkg/graph
	NeoUsername string
	NeoPassword string
	NATSURL     string // optional; empty disables pkg/notify
	ExportDir   string

	Scheduler scheduler.Config
}

// Load reads configuration from the process environment, first attempting
// to load a .env file at dir/.env; a missing file is not an error, the
// process environment stands on its own. Returns an error if required keys
// are missing or prod-environment hardening rules are violated.
func Load(dir string) (Config, error) {
	envPath := filepath.Join(dir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		// Absence of a .env file is routine outside local development; the
		// load error is discarded and reported nowhere, Load itself does not
		// fail.
		_ = err
	}

	cfg := Config{
		AppEnv:      Environment(getEnvOrDefault("APP_ENV", string(EnvLocal))),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		BrokerURL:   os.Getenv("REDIS_URL"),
		TrackerURI:  os.Getenv("MLFLOW_TRACKING_URI"),
		SecretKey:   os.Getenv("SECRET_KEY"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "INFO"),
		APIRoot:     getEnvOrDefault("API_ROOT", "/api/v1"),
		NeoURI:      os.Getenv("NEO4J_URI"),
		NeoUsername: getEnvOrDefault("NEO4J_USERNAME", "neo4j"),
		NeoPassword: os.Getenv("NEO4J_PASSWORD"),
		NATSURL:     os.Getenv("NATS_URL"),
		ExportDir:   getEnvOrDefault("EXPORT_DIR", "./export"),
	}

	schedCfg, err := loadSchedulerConfig()
	if err != nil {
		return Config{}, err
	}
	cfg.Scheduler = schedCfg

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the required keys and prod-environment
// hardening: a prod deployment must run with a strong SECRET_KEY and never
// logs at DEBUG.
func (c Config) Validate() error {
	switch c.AppEnv {
	case EnvLocal, EnvTest, EnvProd:
	default:
		return fmt.Errorf("config: APP_ENV must be one of local, test, prod, got %q", c.AppEnv)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.BrokerURL == "" {
		return fmt.Errorf("config: REDIS_URL is required")
	}
	if c.TrackerURI == "" {
		return fmt.Errorf("config: MLFLOW_TRACKING_URI is required")
	}
	if !strings.HasPrefix(c.TrackerURI, "http://") && !strings.HasPrefix(c.TrackerURI, "https://") && !strings.HasPrefix(c.TrackerURI, "file://") {
		return fmt.Errorf("config: MLFLOW_TRACKING_URI must be an http(s):// or file:// URI, got %q", c.TrackerURI)
	}
	if c.SecretKey == "" {
		return fmt.Errorf("config: SECRET_KEY is required")
	}
	switch strings.ToUpper(c.LogLevel) {
	case "CRITICAL", "ERROR", "WARNING", "INFO", "DEBUG":
	default:
		return fmt.Errorf("config: LOG_LEVEL must be one of CRITICAL, ERROR, WARNING, INFO, DEBUG, got %q", c.LogLevel)
	}

	if c.AppEnv == EnvProd {
		if len(c.SecretKey) < 32 {
			return fmt.Errorf("config: prod SECRET_KEY must be at least 32 characters")
		}
		if strings.Contains(strings.ToLower(c.DatabaseURL), "sqlite") {
			return fmt.Errorf("config: prod DATABASE_URL must not be sqlite")
		}
		if strings.EqualFold(c.LogLevel, "DEBUG") {
			return fmt.Errorf("config: prod LOG_LEVEL must not be DEBUG")
		}
	}

	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseDurationEnv(key, defaultVal string) (time.Duration, error) {
	raw := getEnvOrDefault(key, defaultVal)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return n, nil
}

// loadSchedulerConfig reads the CELERY_* environment family, falling back
// to scheduler.DefaultConfig for anything unset.
func loadSchedulerConfig() (scheduler.Config, error) {
	d := scheduler.DefaultConfig()

	var err error
	if d.WorkerConcurrency, err = parseIntEnv("CELERY_WORKER_CONCURRENCY", d.WorkerConcurrency); err != nil {
		return scheduler.Config{}, err
	}
	if d.PrefetchMultiplier, err = parseIntEnv("CELERY_PREFETCH_MULTIPLIER", d.PrefetchMultiplier); err != nil {
		return scheduler.Config{}, err
	}
	if d.TaskSoftTimeLimit, err = parseDurationEnv("CELERY_TASK_SOFT_TIME_LIMIT", d.TaskSoftTimeLimit.String()); err != nil {
		return scheduler.Config{}, err
	}
	if d.TaskTimeLimit, err = parseDurationEnv("CELERY_TASK_TIME_LIMIT", d.TaskTimeLimit.String()); err != nil {
		return scheduler.Config{}, err
	}
	if d.TaskRetryDelay, err = parseDurationEnv("CELERY_TASK_RETRY_DELAY", d.TaskRetryDelay.String()); err != nil {
		return scheduler.Config{}, err
	}
	if d.TaskRetryBackoffMax, err = parseDurationEnv("CELERY_TASK_RETRY_BACKOFF_MAX", d.TaskRetryBackoffMax.String()); err != nil {
		return scheduler.Config{}, err
	}
	if d.MaxTasksPerChild, err = parseIntEnv("CELERY_MAX_TASKS_PER_CHILD", d.MaxTasksPerChild); err != nil {
		return scheduler.Config{}, err
	}
	if d.BrokerPoolLimit, err = parseIntEnv("CELERY_BROKER_POOL_LIMIT", d.BrokerPoolLimit); err != nil {
		return scheduler.Config{}, err
	}
	if d.BrokerConnectionTimeout, err = parseDurationEnv("CELERY_BROKER_CONNECTION_TIMEOUT", d.BrokerConnectionTimeout.String()); err != nil {
		return scheduler.Config{}, err
	}

	if d.WorkerConcurrency < 1 {
		return scheduler.Config{}, fmt.Errorf("config: CELERY_WORKER_CONCURRENCY must be at least 1")
	}
	return d, nil
}
