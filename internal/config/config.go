package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Server    ServerConfig
	RateLimit RateLimitConfig
	Proxy     ProxyConfig
	Platform  PlatformConfig
}

// DatabaseConfig holds PostgreSQL connection settings. An empty Host disables
// the submission store and the load/save endpoints.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. An empty Addr disables remote
// frames.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// JWTConfig holds session and operator token settings.
type JWTConfig struct {
	Secret       string //nolint:gosec // G117: JWT signing secret config
	SessionTTL   time.Duration
	OperatorTTL  time.Duration
	APIKeyHashes []string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string
	PublicOrigin    string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	WSOrigins       []string
	TasksDir        string
}

// RateLimitConfig bounds requests per client IP on the public endpoints.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// ProxyConfig tunes task proxies.
type ProxyConfig struct {
	HandshakeTick time.Duration
}

// PlatformConfig points at the optional platform file. File holds what was
// loaded from it, or the defaults when File is empty.
type PlatformConfig struct {
	Path string
	File PlatformFile
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password) must be set explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("TASKBRIDGE_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("TASKBRIDGE_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("TASKBRIDGE_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sessionTTL, err := getEnvDuration("TASKBRIDGE_SESSION_TTL", 12*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	operatorTTL, err := getEnvDuration("TASKBRIDGE_OPERATOR_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("TASKBRIDGE_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("TASKBRIDGE_SERVER_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	shutdownTimeout, err := getEnvDuration("TASKBRIDGE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rps, err := getEnvFloat("TASKBRIDGE_RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	burst, err := getEnvInt("TASKBRIDGE_RATE_LIMIT_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	handshakeTick, err := getEnvDuration("TASKBRIDGE_HANDSHAKE_TICK", time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("TASKBRIDGE_DB_HOST", ""),
			Port:     dbPort,
			User:     getEnv("TASKBRIDGE_DB_USER", "taskbridge"),
			Password: getEnv("TASKBRIDGE_DB_PASSWORD", ""),
			DBName:   getEnv("TASKBRIDGE_DB_NAME", "taskbridge"),
			SSLMode:  getEnv("TASKBRIDGE_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("TASKBRIDGE_REDIS_ADDR", ""),
			Password: getEnv("TASKBRIDGE_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:       getEnv("TASKBRIDGE_JWT_SECRET", ""),
			SessionTTL:   sessionTTL,
			OperatorTTL:  operatorTTL,
			APIKeyHashes: getEnvList("TASKBRIDGE_API_KEY_HASHES", nil),
		},
		Server: ServerConfig{
			Addr:            getEnv("TASKBRIDGE_SERVER_ADDR", ":8080"),
			PublicOrigin:    getEnv("TASKBRIDGE_PUBLIC_ORIGIN", "http://localhost:8080"),
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			CORSOrigins:     getEnvList("TASKBRIDGE_CORS_ORIGINS", []string{"http://localhost:5173"}),
			WSOrigins:       getEnvList("TASKBRIDGE_WS_ORIGINS", nil),
			TasksDir:        getEnv("TASKBRIDGE_TASKS_DIR", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: rps,
			Burst:             burst,
		},
		Proxy: ProxyConfig{
			HandshakeTick: handshakeTick,
		},
		Platform: PlatformConfig{
			Path: getEnv("TASKBRIDGE_PLATFORM_FILE", ""),
			File: DefaultPlatformFile(),
		},
	}

	if cfg.Platform.Path != "" {
		cfg.Platform.File, err = LoadPlatformFile(cfg.Platform.Path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: %w", err)
		}
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("TASKBRIDGE_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("TASKBRIDGE_JWT_SECRET must be at least 32 characters")
	}

	if c.Database.Enabled() && c.Database.SSLMode == "disable" {
		log.Warn().Msg("TASKBRIDGE_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("TASKBRIDGE_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("TASKBRIDGE_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.JWT.SessionTTL <= 0 {
		return fmt.Errorf("TASKBRIDGE_SESSION_TTL must be positive, got %s", c.JWT.SessionTTL)
	}
	if c.JWT.OperatorTTL <= 0 {
		return fmt.Errorf("TASKBRIDGE_OPERATOR_TTL must be positive, got %s", c.JWT.OperatorTTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("TASKBRIDGE_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("TASKBRIDGE_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("TASKBRIDGE_SHUTDOWN_TIMEOUT must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("TASKBRIDGE_RATE_LIMIT_RPS must be positive, got %g", c.RateLimit.RequestsPerSecond)
	}
	if c.RateLimit.Burst < 1 {
		return fmt.Errorf("TASKBRIDGE_RATE_LIMIT_BURST must be >= 1, got %d", c.RateLimit.Burst)
	}
	if c.Proxy.HandshakeTick <= 0 {
		return fmt.Errorf("TASKBRIDGE_HANDSHAKE_TICK must be positive, got %s", c.Proxy.HandshakeTick)
	}

	return nil
}

// Enabled reports whether a database is configured.
func (c *DatabaseConfig) Enabled() bool { return c.Host != "" }

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
