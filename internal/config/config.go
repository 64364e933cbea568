package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the complete service configuration, loaded from the environment.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	GRPC     GRPCConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Clients  ClientsConfig
	Orders   OrdersConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
	LogLevel    string
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	CORSOrigins     []string
}

type GRPCConfig struct {
	Port int
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
}

// DSN renders the connection string understood by pgxpool.ParseConfig.
func (d DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Database, d.SSLMode)
	if d.Password != "" {
		dsn += fmt.Sprintf(" password=%s", d.Password)
	}
	return dsn
}

type AuthConfig struct {
	JWTSecret string
}

type ClientsConfig struct {
	// EligibilityMode selects the approval authorization collaborator:
	// "directory" resolves heads of department locally, "grpc" asks the
	// remote authorization service at EligibilityGRPCAddr.
	EligibilityMode     string
	EligibilityGRPCAddr string
	EvidenceStoreURL    string
	EvidenceTimeout     time.Duration
	NATSURL             string
	NATSSubjectPrefix   string
}

type OrdersConfig struct {
	DefaultCurrency string
	DefaultTaxRate  decimal.Decimal
	CatalogPath     string
	StoreBackend    string
}

// Load reads the configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	taxRate, err := decimal.NewFromString(getEnv("ORDER_DEFAULT_TAX_RATE", "0.16"))
	if err != nil {
		return nil, fmt.Errorf("invalid ORDER_DEFAULT_TAX_RATE: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "be-po-approvals"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("HTTP_PORT", 8086),
			ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvDuration("HTTP_REQUEST_TIMEOUT", 30*time.Second),
			CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"*"}),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 9086),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    os.Getenv("DB_PASSWORD"),
			Database:    getEnv("DB_NAME", "po_approvals"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns:    int32(getEnvInt("DB_MIN_CONNS", 1)),
			MaxConnTime: getEnvDuration("DB_MAX_CONN_TIME", time.Hour),
			MaxIdleTime: getEnvDuration("DB_MAX_IDLE_TIME", 30*time.Minute),
			HealthCheck: getEnvDuration("DB_HEALTH_CHECK", time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		Clients: ClientsConfig{
			EligibilityMode:     getEnv("ELIGIBILITY_MODE", "directory"),
			EligibilityGRPCAddr: getEnv("ELIGIBILITY_GRPC_URL", "localhost:9081"),
			EvidenceStoreURL:    os.Getenv("EVIDENCE_STORE_URL"),
			EvidenceTimeout:     getEnvDuration("EVIDENCE_STORE_TIMEOUT", 20*time.Second),
			NATSURL:             os.Getenv("NATS_URL"),
			NATSSubjectPrefix:   getEnv("NATS_SUBJECT_PREFIX", "purchasing.orders"),
		},
		Orders: OrdersConfig{
			DefaultCurrency: strings.ToUpper(getEnv("ORDER_DEFAULT_CURRENCY", "MXN")),
			DefaultTaxRate:  taxRate,
			CatalogPath:     getEnv("DEPARTMENT_CATALOG", "departments.yaml"),
			StoreBackend:    getEnv("STORE_BACKEND", "postgres"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations no command can run with.
func (c *Config) Validate() error {
	switch c.Clients.EligibilityMode {
	case "directory", "grpc":
	default:
		return fmt.Errorf("unknown ELIGIBILITY_MODE %q", c.Clients.EligibilityMode)
	}
	switch c.Orders.StoreBackend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Orders.StoreBackend)
	}
	if len(c.Orders.DefaultCurrency) != 3 {
		return fmt.Errorf("ORDER_DEFAULT_CURRENCY must be a 3-letter ISO code")
	}
	if c.Orders.DefaultTaxRate.IsNegative() || c.Orders.DefaultTaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("ORDER_DEFAULT_TAX_RATE must be between 0 and 1")
	}
	return nil
}

// RequireAuth is checked by commands that serve authenticated traffic.
func (c *Config) RequireAuth() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
