package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Reconcile     ReconcileConfig     `mapstructure:"reconcile"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	HTTPClient    HTTPClientConfig    `mapstructure:"http_client"`
	Gateways      GatewaysConfig      `mapstructure:"gateways"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
	RateLimit       int           `mapstructure:"rate_limit"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// ReconcileConfig controls per-transaction serialization of status updates.
type ReconcileConfig struct {
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	LockRetries    int           `mapstructure:"lock_retries"`
	LockRetryDelay time.Duration `mapstructure:"lock_retry_delay"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// WorkerConfig drives one run of cmd/worker, which polls providers for
// payments whose webhook never arrived. Runs are scheduled externally.
type WorkerConfig struct {
	PendingAge  time.Duration `mapstructure:"pending_age"`
	BatchSize   int           `mapstructure:"batch_size"`
	Concurrency int           `mapstructure:"concurrency"`
}

// HTTPClientConfig is shared by every outbound gateway client.
type HTTPClientConfig struct {
	Timeout                 time.Duration `mapstructure:"timeout"`
	VerifyRetries           uint          `mapstructure:"verify_retries"`
	VerifyRetryDelay        time.Duration `mapstructure:"verify_retry_delay"`
	CircuitBreakerThreshold uint32        `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
}

type GatewaysConfig struct {
	Default string       `mapstructure:"default"`
	GCash   GCashConfig  `mapstructure:"gcash"`
	Maya    MayaConfig   `mapstructure:"maya"`
	Stripe  StripeConfig `mapstructure:"stripe"`
	PayPal  PayPalConfig `mapstructure:"paypal"`
}

type GCashConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	SecretKey     string `mapstructure:"secret_key"`
	MerchantID    string `mapstructure:"merchant_id"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type MayaConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	PublicKey     string `mapstructure:"public_key"`
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type StripeConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type PayPalConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	WebhookID    string `mapstructure:"webhook_id"`
	BrandName    string `mapstructure:"brand_name"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

var knownGateways = []string{"gcash", "maya", "stripe", "paypal"}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PAYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/paygate")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}
	if c.Reconcile.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.lock_ttl must be positive"))
	}
	if c.Worker.PendingAge <= 0 {
		errs = append(errs, fmt.Errorf("worker.pending_age must be positive"))
	}
	if c.HTTPClient.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("http_client.timeout must be positive"))
	}
	if c.Gateways.Default != "" && !isKnownGateway(c.Gateways.Default) {
		errs = append(errs, fmt.Errorf("gateways.default must be one of %s, got %q",
			strings.Join(knownGateways, ", "), c.Gateways.Default))
	}

	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		errs = append(errs, c.Gateways.productionErrors()...)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

// productionErrors requires a webhook secret for every gateway that has
// credentials configured.
func (g GatewaysConfig) productionErrors() []error {
	var errs []error
	if g.GCash.SecretKey != "" && g.GCash.WebhookSecret == "" {
		errs = append(errs, fmt.Errorf("gateways.gcash.webhook_secret required in production"))
	}
	if g.Maya.SecretKey != "" && g.Maya.WebhookSecret == "" {
		errs = append(errs, fmt.Errorf("gateways.maya.webhook_secret required in production"))
	}
	if g.Stripe.SecretKey != "" && g.Stripe.WebhookSecret == "" {
		errs = append(errs, fmt.Errorf("gateways.stripe.webhook_secret required in production"))
	}
	if g.PayPal.ClientID != "" && g.PayPal.WebhookID == "" {
		errs = append(errs, fmt.Errorf("gateways.paypal.webhook_id required in production"))
	}
	return errs
}

func isKnownGateway(name string) bool {
	name = strings.ToLower(name)
	for _, g := range knownGateways {
		if g == name {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.rate_limit", 100)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "paygate")
	v.SetDefault("database.database", "paygate")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Reconciliation defaults
	v.SetDefault("reconcile.lock_ttl", "30s")
	v.SetDefault("reconcile.lock_retries", 20)
	v.SetDefault("reconcile.lock_retry_delay", "100ms")
	v.SetDefault("reconcile.idempotency_ttl", "24h")

	// Worker defaults
	v.SetDefault("worker.pending_age", "15m")
	v.SetDefault("worker.batch_size", 50)
	v.SetDefault("worker.concurrency", 4)

	// Outbound client defaults
	v.SetDefault("http_client.timeout", "20s")
	v.SetDefault("http_client.verify_retries", 3)
	v.SetDefault("http_client.verify_retry_delay", "500ms")
	v.SetDefault("http_client.circuit_breaker_threshold", 10)
	v.SetDefault("http_client.circuit_breaker_timeout", "30s")

	// Gateway defaults
	v.SetDefault("gateways.default", "gcash")
	v.SetDefault("gateways.gcash.base_url", "https://api.sandbox.gcash.com")
	v.SetDefault("gateways.maya.base_url", "https://pg-sandbox.paymaya.com")
	v.SetDefault("gateways.stripe.base_url", "https://api.stripe.com")
	v.SetDefault("gateways.paypal.base_url", "https://api-m.sandbox.paypal.com")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	// Auth defaults
	v.SetDefault("auth.jwt_expiry", "24h")

	v.SetDefault("instance_id", "paygate-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
