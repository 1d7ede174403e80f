package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/pvzzle/yieldmint/internal/api"
	"github.com/pvzzle/yieldmint/internal/notify"
)

const alchemyMainnetURL = "https://eth-mainnet.g.alchemy.com/v2/"

type Config struct {
	Port int `env:"PORT"`

	EthRPCURL          string `env:"ETH_RPC_URL"`
	AlchemyAPIKey      string `env:"ALCHEMY_API_KEY"`
	AdminPrivateKey    string `env:"ADMIN_PRIVATE_KEY"`
	RewardTokenAddress string `env:"REWARD_TOKEN_ADDRESS"`

	StrategiesFile     string        `env:"STRATEGIES_FILE"`
	Principal          float64       `env:"PRINCIPAL"`
	SettlementInterval time.Duration `env:"SETTLEMENT_INTERVAL"`

	RPCTimeout            time.Duration `env:"RPC_TIMEOUT"`
	ReceiptTimeout        time.Duration `env:"RECEIPT_TIMEOUT"`
	ReceiptPollInterval   time.Duration `env:"RECEIPT_POLL_INTERVAL"`
	GasLimit              uint64        `env:"GAS_LIMIT"`
	GasPriceBufferPercent int64         `env:"GAS_PRICE_BUFFER_PERCENT"`
	HealthInterval        time.Duration `env:"HEALTH_INTERVAL"`

	PostgresURL string `env:"POSTGRES_URL"`
	SQLitePath  string `env:"SQLITE_PATH"`

	TelegramToken  string `env:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`
	SummaryCron    string `env:"SUMMARY_CRON"`
	NotifyBuffer   int    `env:"NOTIFY_BUFFER"`

	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST"`
	CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:","`
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`
}

func defaultConfig() Config {
	return Config{
		Port:                  8000,
		RewardTokenAddress:    "0x8502496d6739dd6e18ced318c4b5fc12a5fb2c2c",
		Principal:             100000,
		SettlementInterval:    5 * time.Second,
		RPCTimeout:            15 * time.Second,
		ReceiptTimeout:        120 * time.Second,
		ReceiptPollInterval:   time.Second,
		GasLimit:              200000,
		GasPriceBufferPercent: 20,
		HealthInterval:        15 * time.Second,
		SummaryCron:           notify.DefaultSummarySpec,
		NotifyBuffer:          notify.DefaultBuffer,
		RateLimitRPS:          20,
		RateLimitBurst:        40,
		CORSOrigins:           []string{"*"},
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

func LoadConfig() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		fmt.Println("Warning: .env file not found, relying on environment variables")
	}
	return parseConfig(env.Options{})
}

func parseConfig(opts env.Options) (Config, error) {
	config := defaultConfig()

	if err := env.ParseWithOptions(&config, opts); err != nil {
		return Config{}, err
	}

	if config.EthRPCURL == "" && config.AlchemyAPIKey != "" {
		config.EthRPCURL = alchemyMainnetURL + config.AlchemyAPIKey
	}

	if err := config.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return config, nil
}

func (c Config) validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if !common.IsHexAddress(c.RewardTokenAddress) {
		errs = append(errs, fmt.Errorf("REWARD_TOKEN_ADDRESS %q is not a hex address", c.RewardTokenAddress))
	}
	if c.Principal <= 0 {
		errs = append(errs, errors.New("PRINCIPAL must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"SETTLEMENT_INTERVAL":   c.SettlementInterval,
		"RPC_TIMEOUT":           c.RPCTimeout,
		"RECEIPT_TIMEOUT":       c.ReceiptTimeout,
		"RECEIPT_POLL_INTERVAL": c.ReceiptPollInterval,
		"HEALTH_INTERVAL":       c.HealthInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.GasLimit == 0 {
		errs = append(errs, errors.New("GAS_LIMIT must be positive"))
	}
	if c.GasPriceBufferPercent <= 0 {
		errs = append(errs, errors.New("GAS_PRICE_BUFFER_PERCENT must be positive"))
	}
	if c.PostgresURL != "" && c.SQLitePath != "" {
		errs = append(errs, errors.New("POSTGRES_URL and SQLITE_PATH are mutually exclusive"))
	}
	if c.TelegramToken != "" {
		if c.TelegramChatID == 0 {
			errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set"))
		}
		if err := notify.ValidateSpec(c.SummaryCron); err != nil {
			errs = append(errs, fmt.Errorf("SUMMARY_CRON: %w", err))
		}
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if _, err := api.ParseTrustedProxies(c.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %w", err))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q: want json or text", c.LogFormat))
	}

	return errors.Join(errs...)
}
