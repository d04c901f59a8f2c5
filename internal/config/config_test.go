package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()

	t.Setenv("RECOVERYD_RPC_PROVIDERS", "alchemy=https://starknet-mainnet.g.alchemy.com/v2/demo,blast=https://starknet-mainnet.blastapi.io/demo")
	t.Setenv("RECOVERYD_SOURCE_ADDRESS", "0x00a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3")
	t.Setenv("RECOVERYD_DESTINATION_ADDRESS", "0x04f39d1f1f0c3b6ef56d168b27ad16cbd55e1473aa7eec5893d28bbcefe52a7a")
	t.Setenv("RECOVERYD_BRIDGE_MAKER_ADDRESS", "0xe530d28960d48708ccf3e62aa7b42a80bc427aef")
}

func TestLoad(t *testing.T) {
	t.Run("should apply defaults", func(t *testing.T) {
		setRequiredEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
		assert.EqualValues(t, 3, cfg.ProviderMaxRetries)
		assert.Equal(t, 4, cfg.ProbeFanOut)
		assert.Equal(t, 15*time.Second, cfg.PollInterval)
		assert.Equal(t, "data/state.json", cfg.StatePath)
		assert.Equal(t, "0.001", cfg.BridgeReserve.String())
		assert.False(t, cfg.MintThreshold.IsPositive())
		assert.False(t, cfg.Redis.Enabled())
	})

	t.Run("should parse the ordered provider list", func(t *testing.T) {
		setRequiredEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		require.Len(t, cfg.Providers, 2)
		assert.Equal(t, ProviderSpec{Name: "alchemy", URL: "https://starknet-mainnet.g.alchemy.com/v2/demo"}, cfg.Providers[0])
		assert.Equal(t, "blast", cfg.Providers[1].Name)
	})

	t.Run("should fail on a malformed provider entry", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("RECOVERYD_RPC_PROVIDERS", "just-a-name")

		_, err := Load()
		require.Error(t, err)
	})

	t.Run("should fail when the source address is missing", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("RECOVERYD_SOURCE_ADDRESS", "")

		_, err := Load()
		require.Error(t, err)
	})

	t.Run("should enable the redis mirror when an address is set", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("RECOVERYD_REDIS_ADDR", "localhost:6379")

		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.Redis.Enabled())
	})

	t.Run("should parse amounts from decimal strings", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("RECOVERYD_BRIDGE_RESERVE", "0.002")
		t.Setenv("RECOVERYD_MINT_THRESHOLD", "0.01")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "0.002", cfg.BridgeReserve.String())
		assert.Equal(t, "0.01", cfg.MintThreshold.String())
	})
}
