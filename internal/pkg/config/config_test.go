package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	cfg.JWT.Secret = "0123456789abcdef0123456789abcdef"
	cfg.Database.Host = "localhost"
	cfg.Database.User = "postgres"
	cfg.Database.DBName = "qi_api"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, 5*time.Minute, cfg.Payment.OrderTTL)
	assert.Equal(t, 10*time.Second, cfg.Payment.GatewayTimeout)
	assert.Equal(t, "order_", cfg.Payment.OrderPrefix)
	assert.Equal(t, time.Minute, cfg.Sweeper.Interval)
	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	t.Run("short jwt secret", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.JWT.Secret = "short"
		assert.Error(t, cfg.Validate())
	})

	t.Run("gateway timeout longer than order ttl", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Payment.GatewayTimeout = 10 * time.Minute
		assert.Error(t, cfg.Validate())
	})

	t.Run("unknown lock backend", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Lock.Backend = "etcd"
		assert.Error(t, cfg.Validate())
	})

	t.Run("local lock does not need redis", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Lock.Backend = "local"
		cfg.Redis.Addr = ""
		assert.NoError(t, cfg.Validate())
	})
}
