package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	DB_DSN         string `mapstructure:"DB_DSN"`
	NatsURL        string `mapstructure:"NATS_URL"`
	Port           string `mapstructure:"PORT"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	UpbitURL       string `mapstructure:"UPBIT_URL"`
	UpbitAccessKey string `mapstructure:"UPBIT_ACCESS_KEY"`
	UpbitSecretKey string `mapstructure:"UPBIT_SECRET_KEY"`
	TelegramToken  string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `mapstructure:"TELEGRAM_CHAT_ID"`
	TelegramPrefix string `mapstructure:"TELEGRAM_PREFIX"`
	TargetMarket   string `mapstructure:"TARGET_MARKET"`
	MockTrading    bool   `mapstructure:"MOCK_TRADING"`
	MockPortfolio  string `mapstructure:"MOCK_PORTFOLIO_FILE"`
	StateFile      string `mapstructure:"STATE_FILE"`
	TradeEnabled   bool   `mapstructure:"TRADE_ENABLED"`
	DataDir        string `mapstructure:"DATA_DIR"`
	SweepWorkers   int    `mapstructure:"SWEEP_WORKERS"`

	Strategy StrategyParams `mapstructure:",squash"`
}

func LoadConfig() (config Config, err error) {
	viper.AddConfigPath(".")
	viper.SetConfigName("app")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("NATS_URL", "nats://localhost:4222")
	viper.SetDefault("DB_DSN", "")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("UPBIT_URL", "https://api.upbit.com")
	viper.SetDefault("UPBIT_ACCESS_KEY", "")
	viper.SetDefault("UPBIT_SECRET_KEY", "")
	viper.SetDefault("TELEGRAM_BOT_TOKEN", "")
	viper.SetDefault("TELEGRAM_CHAT_ID", 0)
	viper.SetDefault("TELEGRAM_PREFIX", "[coin-trader]")
	viper.SetDefault("TARGET_MARKET", "KRW-BTC")
	viper.SetDefault("MOCK_TRADING", true)
	viper.SetDefault("MOCK_PORTFOLIO_FILE", "mock_portfolio.json")
	viper.SetDefault("STATE_FILE", "trader_state.json")
	viper.SetDefault("TRADE_ENABLED", false)
	viper.SetDefault("DATA_DIR", "data")
	viper.SetDefault("SWEEP_WORKERS", 0)
	setStrategyDefaults(viper.GetViper())

	err = viper.ReadInConfig()
	// If config file not found, we can still use env vars
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	}

	if err != nil {
		return Config{}, err
	}
	if err = viper.Unmarshal(&config); err != nil {
		return Config{}, err
	}
	if err = config.Strategy.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid strategy config: %w", err)
	}
	return
}
