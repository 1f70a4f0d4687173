package main

import (
	"fmt"
	"strings"

	"coin-trader/api"
	"coin-trader/internal/connector"
	"coin-trader/internal/infrastructure"
	"coin-trader/internal/storage"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var defaultCoins = []string{"KRW-BTC", "KRW-ETH", "KRW-XRP", "KRW-SOL", "KRW-DOGE", "KRW-ADA"}

func collectCmd() *cobra.Command {
	var (
		coins  string
		toDB   bool
		failed []string
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Download hourly candles from Upbit into the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			markets := defaultCoins
			if coins != "" {
				markets = lo.Uniq(lo.FilterMap(strings.Split(coins, ","), func(c string, _ int) (string, bool) {
					c = strings.TrimSpace(c)
					return api.NormalizeMarket(c), c != ""
				}))
			}

			var saver *storage.CandleSaver
			if toDB {
				if cfg.DB_DSN == "" {
					return fmt.Errorf("--db requires DB_DSN")
				}
				pool, err := pgxpool.Connect(ctx, cfg.DB_DSN)
				if err != nil {
					return fmt.Errorf("failed to connect to database: %w", err)
				}
				defer pool.Close()
				saver = storage.NewCandleSaver(pool, logger, 500)
			}

			upbit := connector.NewUpbitClient(cfg.UpbitURL, "", "", logger)
			cache := storage.NewCandleCache(cfg.DataDir, logger)

			for _, m := range markets {
				logger.Info("collecting data", zap.String("market", m), zap.Int("days", days))
				candles, err := upbit.GetOHLCV(ctx, m, 60, days)
				if err != nil {
					logger.Error("failed to collect", zap.String("market", m), zap.Error(err))
					failed = append(failed, m)
					continue
				}
				if len(candles) == 0 {
					logger.Warn("no data found", zap.String("market", m))
					continue
				}
				infrastructure.CandlesFetched.WithLabelValues(m).Add(float64(len(candles)))

				if err := cache.Save(m, candles); err != nil {
					logger.Error("failed to save candles", zap.String("market", m), zap.Error(err))
					failed = append(failed, m)
					continue
				}
				if saver != nil {
					if err := saver.Save(ctx, candles); err != nil {
						logger.Error("failed to store candles", zap.String("market", m), zap.Error(err))
						failed = append(failed, m)
					}
				}
			}

			if len(failed) > 0 {
				return fmt.Errorf("collection failed for %s", strings.Join(lo.Uniq(failed), ", "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&coins, "coins", "", "Comma-separated markets (default: "+strings.Join(defaultCoins, ",")+")")
	cmd.Flags().BoolVar(&toDB, "db", false, "Also upsert candles into market_candles")
	return cmd
}
