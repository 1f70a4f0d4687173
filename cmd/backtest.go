package main

import (
	"errors"
	"fmt"
	"strings"

	"coin-trader/internal/config"
	"coin-trader/internal/engine"
	"coin-trader/internal/model"
	"coin-trader/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var batchCoins = []struct {
	Code string
	Name string
}{
	{"KRW-BTC", "Bitcoin"},
	{"KRW-ETH", "Ethereum"},
	{"KRW-XRP", "Ripple"},
	{"KRW-SOL", "Solana"},
	{"KRW-DOGE", "Dogecoin"},
	{"KRW-ADA", "Cardano"},
}

func backtestCmd() *cobra.Command {
	var (
		output string
		fetch  bool
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a single backtest over cached candles",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			candles, err := loadCandles(ctx, market, days, fetch)
			if err != nil {
				if errors.Is(err, storage.ErrNoData) {
					return fmt.Errorf("%w: run 'coin-trader collect' first", err)
				}
				return err
			}

			result := engine.Simulate(candles, cfg.Strategy, engine.TalibFactory, logger)
			result.Market = market
			printSummary(result, cfg.Strategy)

			if output == "" {
				output = fmt.Sprintf("backtest_details_%s.csv", market)
			}
			if err := storage.WriteLedgerCSV(output, result.Trades); err != nil {
				return err
			}
			logger.Info("saved trade ledger", zap.String("path", output), zap.Int("trades", len(result.Trades)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Ledger CSV path (default: backtest_details_<market>.csv)")
	cmd.Flags().BoolVar(&fetch, "fetch", false, "Fetch from Upbit when no cached data exists")
	return cmd
}

func batchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch",
		Short: "Backtest the default coin set and print a comparison table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache := storage.NewCandleCache(cfg.DataDir, logger)

			fmt.Println("Loading data and running backtests...")
			var rows []batchRow
			for _, coin := range batchCoins {
				candles, err := cache.Load(coin.Code, days)
				if err != nil {
					if errors.Is(err, storage.ErrNoData) {
						fmt.Printf("Skipping %s (No Data. Run coin-trader collect)\n", coin.Name)
						continue
					}
					fmt.Printf("Error processing %s: %v\n", coin.Name, err)
					continue
				}
				result := engine.Simulate(candles, cfg.Strategy, engine.TalibFactory, logger)
				rows = append(rows, batchRow{Code: coin.Code, Name: coin.Name, Result: result})
			}

			printBatch(rows)
			return nil
		},
	}
}

type batchRow struct {
	Code   string
	Name   string
	Result model.SimulationResult
}

func printSummary(r model.SimulationResult, p config.StrategyParams) {
	line := strings.Repeat("=", 40)
	fmt.Println()
	fmt.Println(line)
	fmt.Printf(" BACKTEST RESULTS (%s, %s)\n", r.Market, r.Variant)
	fmt.Println(line)
	fmt.Printf("Period:          %d days\n", days)
	if p.Variant == config.VariantMeanReversion {
		fmt.Printf("RSI Oversold:    %.0f\n", p.RSIOversold)
	}
	fmt.Printf("Initial Balance: %s KRW\n", r.InitialBalance.StringFixed(0))
	fmt.Printf("Final Balance:   %s KRW\n", r.FinalBalance.StringFixed(0))
	fmt.Printf("Return:          %.2f%%\n", r.ReturnPct)
	fmt.Printf("Total Trades:    %d\n", r.TotalClosedTrades)
	fmt.Printf("Win Rate:        %.1f%%\n", r.Stats.WinRate*100)
	fmt.Printf("Max Drawdown:    %.2f%%\n", r.Stats.MaxDrawdown*100)
	fmt.Printf("Total Fees:      %s KRW\n", r.Stats.TotalFees.StringFixed(0))
	if r.OpenPosition != nil {
		fmt.Printf("Open Position:   %s @ %s\n", r.OpenPosition.Quantity.String(), r.OpenPosition.EntryPrice.StringFixed(0))
	}
	fmt.Println(strings.Repeat("-", 40))
}

func printBatch(rows []batchRow) {
	rule := strings.Repeat("=", 105)
	fmt.Println()
	fmt.Println(rule)
	fmt.Printf("%-8s | %-15s | %-9s | %-6s | %-4s | %-4s | %-4s | %-4s | %-5s | %-5s | %-7s\n",
		"Code", "Name", "Return", "Trades", "Win", "SL", "TS", "TP", "MH(W)", "MH(L)", "Fees")
	fmt.Println(strings.Repeat("-", 105))
	for _, r := range rows {
		s := r.Result.Stats
		fmt.Printf("%-8s | %-15s | %8.2f%% | %-6d | %-4d | %-4d | %-4d | %-4d | %-5d | %-5d | %-7s\n",
			strings.TrimPrefix(r.Code, "KRW-"), r.Name, r.Result.ReturnPct, r.Result.TotalClosedTrades,
			s.Wins, s.StopLoss, s.TrailingStop, s.TakeProfit, s.MaxHoldWins, s.MaxHoldLosses,
			s.TotalFees.StringFixed(0))
	}
	fmt.Println(rule)
}
