package app

import (
	"path/filepath"
	"testing"

	"coin-trader/internal/config"
	"coin-trader/internal/connector"
	"coin-trader/internal/notify"
	"coin-trader/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		UpbitURL:      "http://127.0.0.1:0",
		TargetMarket:  "btc",
		MockTrading:   true,
		MockPortfolio: filepath.Join(dir, "portfolio.json"),
		StateFile:     filepath.Join(dir, "state.json"),
		Strategy:      config.DefaultParams(),
	}
}

func TestMarkets(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"KRW-BTC", "KRW-BTC"},
		{"btc", "KRW-BTC"},
		{"krw_eth", "KRW-ETH"},
		{"XRP/KRW", "KRW-XRP"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			a := NewApp(&config.Config{TargetMarket: tt.input}, zap.NewNop())
			got := a.markets()
			if got[0] != tt.expected {
				t.Errorf("markets() for %q = %q; want %q", tt.input, got[0], tt.expected)
			}
		})
	}
}

func TestNewTraderDeps_Mock(t *testing.T) {
	cfg := testConfig(t)

	deps, err := NewTraderDeps(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &connector.MockExchange{}, deps.Exchange)
	assert.IsType(t, &storage.FileStateStore{}, deps.Store)
	assert.IsType(t, notify.Nop{}, deps.Notifier)
	assert.FileExists(t, cfg.MockPortfolio)
}

func TestNewTraderDeps_RealNeedsKeys(t *testing.T) {
	cfg := testConfig(t)
	cfg.MockTrading = false

	_, err := NewTraderDeps(cfg, nil, zap.NewNop())
	require.Error(t, err)

	cfg.UpbitAccessKey, cfg.UpbitSecretKey = "access", "secret"
	deps, err := NewTraderDeps(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &connector.UpbitClient{}, deps.Exchange)
}
