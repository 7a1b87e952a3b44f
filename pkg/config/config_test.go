package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 30*time.Second, cfg.PriceCacheTTL)
	assert.Equal(t, 60*time.Second, cfg.FxCacheTTL)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "legacy", cfg.ShortCashPolicy)
	assert.Equal(t, "10000", cfg.InitialCash.String())
	assert.Equal(t, "BTCUSDT", cfg.Pairs["BTC"])
	assert.Len(t, cfg.Pairs, len(DefaultPairs))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PRICE_CACHE_TTL_MS", "1500")
	t.Setenv("ETH_PAIR", "ethbusd")
	t.Setenv("SHORT_CASH_POLICY", "Symmetric")
	t.Setenv("INITIAL_CASH", "2500.50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1500*time.Millisecond, cfg.PriceCacheTTL)
	assert.Equal(t, "ETHBUSD", cfg.Pairs["ETH"])
	assert.Equal(t, "symmetric", cfg.ShortCashPolicy)
	assert.Equal(t, "2500.5", cfg.InitialCash.String())
}

func TestLoadPairsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pairs:\n  ltc: ltcusdt\n  BTC: BTCFDUSD\n"), 0o600))
	t.Setenv("PAIRS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "LTCUSDT", cfg.Pairs["LTC"])
	assert.Equal(t, "BTCFDUSD", cfg.Pairs["BTC"])
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("policy", func(t *testing.T) {
		t.Setenv("SHORT_CASH_POLICY", "margin")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("driver", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "mysql")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("cash", func(t *testing.T) {
		t.Setenv("INITIAL_CASH", "lots")
		_, err := Load()
		assert.Error(t, err)
	})
}
