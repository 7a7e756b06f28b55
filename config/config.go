package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Server          ServerConfig
	Database        DatabaseConfig
	Redis           RedisConfig
	Kafka           KafkaConfig
	Mpesa           MpesaConfig
	Reconciliation  ReconciliationConfig
	Auth            AuthConfig
	CallbackBaseURL string
}

type ServerConfig struct {
	Port            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type MpesaConfig struct {
	HTTPTimeout       time.Duration
	CacheTokens       bool
	CertPath          string
	SandboxBaseURL    string
	ProductionBaseURL string
}

type ReconciliationConfig struct {
	PendingTTL      time.Duration
	SweepSchedule   string
	SweepBatchSize  int
	CallbackTimeout time.Duration
}

type AuthConfig struct {
	AdminJWTSecret string
}

// Load reads configuration from the environment, after an optional .env file.
func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no .env file, using process environment")
		} else {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8030"),
			Env:             getEnv("ENVIRONMENT", "development"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "mchango"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "payments.events"),
		},
		Mpesa: MpesaConfig{
			HTTPTimeout:       getEnvDuration("MPESA_HTTP_TIMEOUT", 15*time.Second),
			CacheTokens:       getEnvBool("MPESA_CACHE_TOKENS", true),
			CertPath:          getEnv("MPESA_CERT_PATH", ""),
			SandboxBaseURL:    getEnv("MPESA_SANDBOX_BASE_URL", ""),
			ProductionBaseURL: getEnv("MPESA_PRODUCTION_BASE_URL", ""),
		},
		Reconciliation: ReconciliationConfig{
			PendingTTL:      getEnvDuration("PENDING_PAYMENT_TTL", 10*time.Minute),
			SweepSchedule:   getEnv("SWEEP_SCHEDULE", "@every 1m"),
			SweepBatchSize:  getEnvInt("SWEEP_BATCH_SIZE", 200),
			CallbackTimeout: getEnvDuration("CALLBACK_PROCESS_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		},
		CallbackBaseURL: strings.TrimRight(getEnv("CALLBACK_BASE_URL", ""), "/"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.Bool("redis", cfg.Redis.Addr != ""),
		zap.Int("kafka_brokers", len(cfg.Kafka.Brokers)),
		zap.Bool("admin_auth", cfg.Auth.AdminJWTSecret != ""),
		zap.Duration("pending_ttl", cfg.Reconciliation.PendingTTL))
	return cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) Validate() error {
	if c.IsProduction() && c.CallbackBaseURL == "" {
		return errors.New("CALLBACK_BASE_URL is required in production")
	}
	if c.Reconciliation.PendingTTL < time.Minute {
		return fmt.Errorf("PENDING_PAYMENT_TTL must be at least 1m, got %s", c.Reconciliation.PendingTTL)
	}
	if c.Mpesa.HTTPTimeout <= 0 {
		return errors.New("MPESA_HTTP_TIMEOUT must be positive")
	}
	return nil
}

// DSN prefers DATABASE_URL over the discrete DB_* settings.
func (c *Config) DSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	d := c.Database
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, d.Port),
		Path:     "/" + d.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s&pool_max_conns=%d", url.QueryEscape(d.SSLMode), d.MaxConns),
	}
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
