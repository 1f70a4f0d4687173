package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"coin-trader/api"
	"coin-trader/internal/config"
	"coin-trader/internal/connector"
	"coin-trader/internal/infrastructure"
	"coin-trader/internal/model"
	"coin-trader/internal/storage"
	"coin-trader/internal/strategy"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg     config.Config
	logger  *zap.Logger
	verbose bool
	market  string
	variant string
	rsi     float64
	days    int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coin-trader",
		Short: "Backtest, optimize and run a rule-based Upbit trading strategy",
		Long: `coin-trader simulates a mean-reversion or trend-following strategy on hourly
candles, sweeps its parameters, collects market data from Upbit and runs the
same rules live against a real or mock account.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	// Flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging with the console encoder")
	rootCmd.PersistentFlags().StringVarP(&market, "market", "m", "", "Market, e.g. KRW-BTC (default: TARGET_MARKET)")
	rootCmd.PersistentFlags().StringVarP(&variant, "strategy", "s", "", "Strategy variant: mean_reversion or trend_following (default: STRATEGY_VARIANT)")
	rootCmd.PersistentFlags().Float64Var(&rsi, "rsi", 0, "RSI oversold threshold (default: RSI_OVERSOLD)")
	rootCmd.PersistentFlags().IntVarP(&days, "days", "d", 365, "Days of history")

	// Subcommands
	rootCmd.AddCommand(backtestCmd())
	rootCmd.AddCommand(optimizeCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(collectCmd())
	rootCmd.AddCommand(tradeCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration, applies per-run flag overrides and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = loaded

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	if err := infrastructure.Init(level, verbose); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	logger = infrastructure.Logger

	if market == "" {
		market = cfg.TargetMarket
	}
	market = api.NormalizeMarket(market)

	overrides := map[string]interface{}{}
	if cmd.Flags().Changed("rsi") {
		overrides["rsi_oversold"] = rsi
	}
	params, err := strategy.NewParams(cfg.Strategy, variant, overrides)
	if err != nil {
		return err
	}
	cfg.Strategy = params
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadCandles reads the CSV cache, falling back to Upbit when fetch is set and no cache exists.
func loadCandles(ctx context.Context, m string, n int, fetch bool) ([]model.Candle, error) {
	cache := storage.NewCandleCache(cfg.DataDir, logger)
	candles, err := cache.Load(m, n)
	if err == nil {
		logger.Info("loaded candles", zap.String("market", m), zap.Int("rows", len(candles)))
		return candles, nil
	}
	if !errors.Is(err, storage.ErrNoData) || !fetch {
		return nil, err
	}

	logger.Info("no cached data, fetching from upbit", zap.String("market", m), zap.Int("days", n))
	upbit := connector.NewUpbitClient(cfg.UpbitURL, "", "", logger)
	return upbit.GetOHLCV(ctx, m, 60, n)
}
