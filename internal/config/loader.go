package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "supportdesk.yaml"

// DefaultEnvFile is the dotenv file loaded into the process environment
// before the environment overlay. Variables already set are not replaced.
const DefaultEnvFile = ".env"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadDotEnv(DefaultEnvFile); err != nil {
		return nil, fmt.Errorf("config dotenv: %w", err)
	}

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// LoadWithCLI loads configuration with CLI flags applied last. It returns
// the resolved YAML path alongside the config.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil && *flags.ConfigPath != "" {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadDotEnv(DefaultEnvFile); err != nil {
		return nil, path, fmt.Errorf("config dotenv: %w", err)
	}
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

// loadDotEnv reads a dotenv file into the process environment.
// Returns nil if the file does not exist.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from flags or the default
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SUPPORTDESK_PORT")
	setString(&cfg.Server.CORSOrigin, "SUPPORTDESK_CORS_ORIGIN")
	setBool(&cfg.Server.DevMode, "SUPPORTDESK_DEV_MODE")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SUPPORTDESK_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SUPPORTDESK_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SUPPORTDESK_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SUPPORTDESK_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SUPPORTDESK_PG_HEALTH_CHECK")

	setString(&cfg.TenantStore.Driver, "SUPPORTDESK_TENANT_DRIVER")
	setInt32(&cfg.TenantStore.MaxConns, "SUPPORTDESK_TENANT_MAX_CONNS")
	setDuration(&cfg.TenantStore.ConnectTimeout, "SUPPORTDESK_TENANT_CONNECT_TIMEOUT")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "SUPPORTDESK_NATS_STREAM")
	setString(&cfg.NATS.InstanceID, "SUPPORTDESK_INSTANCE_ID")

	setString(&cfg.Knowledge.URL, "KNOWLEDGE_URL")
	setString(&cfg.Knowledge.APIKey, "KNOWLEDGE_API_KEY")
	setDuration(&cfg.Knowledge.Timeout, "SUPPORTDESK_KNOWLEDGE_TIMEOUT")

	setString(&cfg.Auth.JWTSecret, "SUPPORTDESK_JWT_SECRET")
	setString(&cfg.Auth.PreviousJWTSecret, "SUPPORTDESK_JWT_SECRET_PREVIOUS")
	setString(&cfg.Auth.Issuer, "SUPPORTDESK_JWT_ISSUER")

	setString(&cfg.Logging.Level, "SUPPORTDESK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SUPPORTDESK_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SUPPORTDESK_LOG_ASYNC")

	setBool(&cfg.OTel.Enabled, "SUPPORTDESK_OTEL_ENABLED")
	setString(&cfg.OTel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTel.Insecure, "SUPPORTDESK_OTEL_INSECURE")
	setFloat64(&cfg.OTel.SampleRate, "SUPPORTDESK_OTEL_SAMPLE_RATE")

	setInt(&cfg.Breaker.MaxFailures, "SUPPORTDESK_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SUPPORTDESK_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "SUPPORTDESK_RATE_RPS")
	setInt(&cfg.Rate.Burst, "SUPPORTDESK_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "SUPPORTDESK_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "SUPPORTDESK_RATE_MAX_IDLE_TIME")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "SUPPORTDESK_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "SUPPORTDESK_CACHE_L1_TTL")
	setString(&cfg.Cache.L2Bucket, "SUPPORTDESK_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "SUPPORTDESK_CACHE_L2_TTL")

	// Sweeper
	setString(&cfg.Sweeper.Schedule, "SUPPORTDESK_SWEEPER_SCHEDULE")
	setDuration(&cfg.Sweeper.IdleTimeout, "SUPPORTDESK_SWEEPER_IDLE_TIMEOUT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.TenantStore.Driver {
	case DriverPostgres:
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("tenant_store.driver %q is not supported", cfg.TenantStore.Driver)
	}
	if cfg.TenantStore.MaxConns < 1 {
		return errors.New("tenant_store.max_conns must be >= 1")
	}
	if cfg.TenantStore.ConnectTimeout <= 0 {
		return errors.New("tenant_store.connect_timeout must be > 0")
	}
	if cfg.Knowledge.Timeout <= 0 {
		return errors.New("knowledge.timeout must be > 0")
	}
	if cfg.OTel.Enabled && cfg.OTel.Endpoint == "" {
		return errors.New("otel.endpoint is required when otel is enabled")
	}
	if cfg.OTel.SampleRate < 0 || cfg.OTel.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0, 1]")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if !cfg.Server.DevMode && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required outside dev mode")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
