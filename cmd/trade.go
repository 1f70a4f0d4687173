package main

import (
	"context"
	"fmt"

	"coin-trader/internal/app"
	"coin-trader/internal/infrastructure"
	"coin-trader/internal/trader"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func tradeCmd() *cobra.Command {
	var (
		mock bool
		real bool
		once bool
	)

	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Run the strategy live against a mock or real Upbit account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mock && real {
				return fmt.Errorf("--mock and --real are mutually exclusive")
			}
			if mock {
				cfg.MockTrading = true
			}
			if real {
				cfg.MockTrading = false
			}
			cfg.TargetMarket = market

			ctx, cancel := signalContext()
			defer cancel()

			var pool *pgxpool.Pool
			if cfg.DB_DSN != "" {
				p, err := pgxpool.Connect(ctx, cfg.DB_DSN)
				if err != nil {
					return fmt.Errorf("failed to connect to database: %w", err)
				}
				defer p.Close()
				pool = p
			}

			deps, err := app.NewTraderDeps(&cfg, pool, logger)
			if err != nil {
				return err
			}

			t := trader.NewTrader(market, cfg.Strategy, deps.Exchange, deps.Store, deps.Notifier, logger)
			if nc, js, err := infrastructure.InitNATS(cfg.NatsURL, logger); err != nil {
				logger.Warn("NATS unavailable, trader events not published", zap.Error(err))
			} else {
				defer nc.Close()
				t.WithEvents(trader.NewJetStreamPublisher(js, logger))
			}
			if err := t.Restore(ctx); err != nil {
				return err
			}

			if once {
				return t.RunCycle(ctx)
			}
			app.NotifyStart(deps.Notifier, &cfg, logger)
			t.Run(ctx, cfg.Strategy.Interval)
			return nil
		},
	}

	cmd.Flags().BoolVar(&mock, "mock", false, "Trade against the mock portfolio file")
	cmd.Flags().BoolVar(&real, "real", false, "Trade against the real Upbit account")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, websocket gateway, ingestion and optional live trader",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.TargetMarket = market
			application := app.NewApp(&cfg, logger)

			ctx := context.Background()
			if err := application.Init(ctx); err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			logger.Info("serving", zap.String("port", cfg.Port), zap.Bool("trade_enabled", cfg.TradeEnabled))
			return application.Run(ctx)
		},
	}
}
