package app

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseEnv(vars map[string]string) (Config, error) {
	return parseConfig(env.Options{Environment: vars})
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parseEnv(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, "0x8502496d6739dd6e18ced318c4b5fc12a5fb2c2c", cfg.RewardTokenAddress)
	assert.Equal(t, 100000.0, cfg.Principal)
	assert.Equal(t, 5*time.Second, cfg.SettlementInterval)
	assert.Equal(t, 15*time.Second, cfg.RPCTimeout)
	assert.Equal(t, 120*time.Second, cfg.ReceiptTimeout)
	assert.Equal(t, uint64(200000), cfg.GasLimit)
	assert.Equal(t, int64(20), cfg.GasPriceBufferPercent)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.EthRPCURL)
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := parseEnv(map[string]string{
		"PORT":                "9090",
		"ALCHEMY_API_KEY":     "k123",
		"SETTLEMENT_INTERVAL": "30s",
		"CORS_ORIGINS":        "https://a.example,https://b.example",
		"SQLITE_PATH":         "/tmp/journal.db",
		"LOG_FORMAT":          "text",
		"TRUSTED_PROXIES":     "10.0.0.0/8,192.168.1.5",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.5"}, cfg.TrustedProxies)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "https://eth-mainnet.g.alchemy.com/v2/k123", cfg.EthRPCURL)
	assert.Equal(t, 30*time.Second, cfg.SettlementInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "sqlite", journalKind(cfg))
}

func TestParseConfig_ExplicitRPCWins(t *testing.T) {
	cfg, err := parseEnv(map[string]string{
		"ETH_RPC_URL":     "http://localhost:8545",
		"ALCHEMY_API_KEY": "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", cfg.EthRPCURL)
}

func TestParseConfig_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"bad token":          {"REWARD_TOKEN_ADDRESS": "0x1234"},
		"both journals":      {"POSTGRES_URL": "postgres://x", "SQLITE_PATH": "/tmp/x.db"},
		"telegram no chat":   {"TELEGRAM_TOKEN": "123:abc"},
		"bad cron":           {"TELEGRAM_TOKEN": "123:abc", "TELEGRAM_CHAT_ID": "5", "SUMMARY_CRON": "0 9 * *"},
		"zero interval":      {"SETTLEMENT_INTERVAL": "0s"},
		"bad duration":       {"RECEIPT_TIMEOUT": "soon"},
		"zero rpc timeout":   {"RPC_TIMEOUT": "0s"},
		"bad log format":     {"LOG_FORMAT": "xml"},
		"negative principal": {"PRINCIPAL": "-1"},
		"bad proxy":          {"TRUSTED_PROXIES": "10.0.0.0/8,proxy.local"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseEnv(vars)
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger("debug", "text")
	require.NoError(t, err)
	assert.Equal(t, "debug", l.GetLevel().String())

	_, err = newLogger("loud", "json")
	assert.Error(t, err)
}
