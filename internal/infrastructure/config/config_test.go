package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "test",
			Password: "test",
			Database: "test_db",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Reconcile:  ReconcileConfig{LockTTL: 30 * time.Second},
		Worker:     WorkerConfig{PendingAge: 15 * time.Minute},
		HTTPClient: HTTPClientConfig{Timeout: 20 * time.Second},
		Gateways:   GatewaysConfig{Default: "gcash"},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_InvalidServerPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"port too low", 0},
		{"port negative", -1},
		{"port too high", 99999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = tt.port

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestConfig_Validate_InvalidReadTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ReadTimeout = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "read_timeout")
}

func TestConfig_Validate_MissingDatabaseHost(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Host = ""

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.host")
}

func TestConfig_Validate_InvalidLockTTL(t *testing.T) {
	cfg := validConfig()
	cfg.Reconcile.LockTTL = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile.lock_ttl")
}

func TestConfig_Validate_InvalidHTTPClientTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.HTTPClient.Timeout = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "http_client.timeout")
}

func TestConfig_Validate_DefaultGateway(t *testing.T) {
	tests := []struct {
		name    string
		gateway string
		wantErr bool
	}{
		{"empty falls back", "", false},
		{"lower case", "stripe", false},
		{"mixed case", "PayPal", false},
		{"unknown", "venmo", true},
		{"cash is not a gateway", "cash", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Gateways.Default = tt.gateway

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "gateways.default")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConfig_Validate_ProductionRequiresWebhookSecrets(t *testing.T) {
	t.Setenv("ENV", "production")

	cfg := validConfig()
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Gateways.GCash.SecretKey = "sk_gcash"
	cfg.Gateways.Stripe.SecretKey = "sk_test"
	cfg.Gateways.Stripe.WebhookSecret = "whsec_test"
	cfg.Gateways.PayPal.ClientID = "client"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateways.gcash.webhook_secret")
	assert.Contains(t, err.Error(), "gateways.paypal.webhook_id")
	assert.NotContains(t, err.Error(), "gateways.stripe.webhook_secret")
	assert.NotContains(t, err.Error(), "gateways.maya.webhook_secret")
}

func TestConfig_Validate_ShortJWTSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.JWTSecret = "short"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret")
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate()
	require.Error(t, err)

	errStr := err.Error()
	assert.Contains(t, errStr, "server.port")
	assert.Contains(t, errStr, "read_timeout")
	assert.Contains(t, errStr, "write_timeout")
	assert.Contains(t, errStr, "database.host")
	assert.Contains(t, errStr, "database.port")
	assert.Contains(t, errStr, "redis.port")
	assert.Contains(t, errStr, "reconcile.lock_ttl")
	assert.Contains(t, errStr, "http_client.timeout")
	assert.Contains(t, errStr, "worker.pending_age")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.example.com",
		Port:     5432,
		User:     "app_user",
		Password: "secret",
		Database: "paygate_db",
		SSLMode:  "require",
	}

	assert.Equal(t, "host=db.example.com port=5432 user=app_user password=secret dbname=paygate_db sslmode=require", cfg.DatabaseDSN())
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "redis.example.com", Port: 6380}
	assert.Equal(t, "redis.example.com:6380", cfg.RedisAddr())
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "gcash", cfg.Gateways.Default)
	assert.Equal(t, 20*time.Second, cfg.HTTPClient.Timeout)
	assert.Equal(t, uint(3), cfg.HTTPClient.VerifyRetries)
	assert.Equal(t, "https://api.stripe.com", cfg.Gateways.Stripe.BaseURL)
	assert.Equal(t, 15*time.Minute, cfg.Worker.PendingAge)
	assert.Equal(t, 50, cfg.Worker.BatchSize)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("ENV", "")
	t.Chdir(t.TempDir())
	t.Setenv("PAYGATE_GATEWAYS_DEFAULT", "maya")
	t.Setenv("PAYGATE_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "maya", cfg.Gateways.Default)
	assert.Equal(t, 9090, cfg.Server.Port)
}
