package main

import (
	"fmt"
	"strings"

	"coin-trader/internal/config"
	"coin-trader/internal/engine"
	"coin-trader/internal/model"
	"coin-trader/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func optimizeCmd() *cobra.Command {
	var (
		gridFile string
		output   string
		from     int
		to       int
		step     int
		fetch    bool
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Sweep strategy parameters and rank the combinations by return",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			candles, err := loadCandles(ctx, market, days, fetch)
			if err != nil {
				return err
			}
			logger.Info("data loaded", zap.Int("rows", len(candles)))

			var combos []config.StrategyParams
			if gridFile != "" {
				grid, err := engine.LoadGrid(gridFile)
				if err != nil {
					return err
				}
				combos = grid.Combinations(cfg.Strategy)
			} else {
				combos = engine.RSIGrid(cfg.Strategy, from, to, step)
			}
			if len(combos) == 0 {
				return fmt.Errorf("%w: empty parameter grid", config.ErrInvalidParams)
			}

			results, err := engine.NewSweeper(cfg.SweepWorkers, engine.TalibFactory, logger).Run(ctx, candles, combos)
			if err != nil {
				return err
			}
			printSweep(results)

			if output == "" {
				output = fmt.Sprintf("optimization_results_%s.csv", market)
			}
			if err := storage.WriteSweepCSV(output, results); err != nil {
				return err
			}
			logger.Info("saved optimization results", zap.String("path", output), zap.Int("combinations", len(results)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&gridFile, "grid", "g", "", "YAML grid file; overrides the RSI range flags")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Results CSV path (default: optimization_results_<market>.csv)")
	cmd.Flags().IntVar(&from, "rsi-from", 20, "First RSI oversold threshold")
	cmd.Flags().IntVar(&to, "rsi-to", 50, "Last RSI oversold threshold")
	cmd.Flags().IntVar(&step, "rsi-step", 2, "RSI threshold step")
	cmd.Flags().BoolVar(&fetch, "fetch", false, "Fetch from Upbit when no cached data exists")
	return cmd
}

func printSweep(results []model.SweepResult) {
	fmt.Println("\n--- Optimization Results ---")
	fmt.Printf("%4s  %-16s %6s %6s %6s %6s %5s %10s %7s %16s\n",
		"rank", "variant", "rsi", "sl", "tp", "mh", "atr_k", "return", "trades", "final_balance")
	for i, r := range results {
		p := r.Params
		fmt.Printf("%4d  %-16s %6.1f %6.2f %6.2f %6.1f %5.2f %9.2f%% %7d %16s\n",
			i+1, p.Variant, p.RSIOversold, p.StopLossPct, p.TakeProfitPct, p.MaxHoldDays, p.ATRK,
			r.ReturnPct, r.TotalClosedTrades, r.FinalBalance.StringFixed(0))
	}

	best, ok := engine.Best(results)
	if !ok {
		return
	}
	fmt.Println("\nBest Parameter:")
	fmt.Println(strings.Join([]string{
		fmt.Sprintf("  rsi_oversold    %.1f", best.Params.RSIOversold),
		fmt.Sprintf("  stop_loss_pct   %.2f", best.Params.StopLossPct),
		fmt.Sprintf("  take_profit_pct %.2f", best.Params.TakeProfitPct),
		fmt.Sprintf("  max_hold_days   %.1f", best.Params.MaxHoldDays),
		fmt.Sprintf("  atr_k           %.2f", best.Params.ATRK),
		fmt.Sprintf("  return_pct      %.2f", best.ReturnPct),
		fmt.Sprintf("  total_trades    %d", best.TotalClosedTrades),
		fmt.Sprintf("  final_balance   %s", best.FinalBalance.StringFixed(0)),
	}, "\n"))
}
