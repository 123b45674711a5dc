package redis

import (
	"context"
	"testing"
	"time"

	"github.com/cassiomorais/paygate/internal/infrastructure/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRetry_Defaults(t *testing.T) {
	rc := connectRetry(&config.RedisConfig{})
	assert.Equal(t, uint(5), rc.MaxAttempts)
	assert.Equal(t, time.Second, rc.InitialDelay)
	assert.Equal(t, 8*time.Second, rc.MaxDelay)

	rc = connectRetry(&config.RedisConfig{ConnectRetries: 2, ConnectRetryDelay: 10 * time.Millisecond})
	assert.Equal(t, uint(2), rc.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, rc.InitialDelay)
}

func TestNewClient_UnreachableFailsAfterRetries(t *testing.T) {
	cfg := &config.RedisConfig{
		Host:              "127.0.0.1",
		Port:              1,
		ConnectRetries:    2,
		ConnectRetryDelay: time.Millisecond,
	}

	client, err := NewClient(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "127.0.0.1:1 after 2 attempts")
}
