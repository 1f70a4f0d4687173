package app

import (
	"context"
	"encoding/json"
	"fmt"

	"coin-trader/api"
	"coin-trader/internal/config"
	"coin-trader/internal/connector"
	"coin-trader/internal/infrastructure"
	"coin-trader/internal/model"
	"coin-trader/internal/notify"
	"coin-trader/internal/processor"
	"coin-trader/internal/storage"
	"coin-trader/internal/trader"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// markets is the target market in canonical form.
func (a *App) markets() []string {
	return []string{api.NormalizeMarket(a.Config.TargetMarket)}
}

// startIngestionWorker streams live ticks from Upbit into NATS.
func (a *App) startIngestionWorker(ctx context.Context, markets []string) {
	tickChan := make(chan connector.Tick, 1000)
	stream := connector.NewUpbitTickerStream(a.Logger, "", markets...)
	go stream.Run(ctx, tickChan)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick := <-tickChan:
				data, err := json.Marshal(tick)
				if err != nil {
					a.Logger.Error("failed to marshal tick", zap.Error(err))
					continue
				}
				if _, err := a.JS.Publish(infrastructure.TickSubject(tick.Market), data); err != nil {
					a.Logger.Error("failed to publish to NATS", zap.Error(err))
				}
			}
		}
	}()
}

// startPersistenceService aggregates ticks into candles and records trader events when a database is configured.
func (a *App) startPersistenceService(ctx context.Context) error {
	var sink processor.CandleSink
	if a.DB != nil {
		sink = storage.NewCandleSaver(a.DB, a.Logger, 500)
	}
	candleProcessor := processor.NewCandleProcessor(a.JS, sink, a.Config.Strategy.Interval, a.Logger)
	if err := candleProcessor.Run(ctx); err != nil {
		return fmt.Errorf("failed to start candle processor: %w", err)
	}

	if a.DB == nil {
		return nil
	}
	events := storage.NewEventStore(a.DB)
	_, err := a.JS.Subscribe(infrastructure.TraderEventSubjects, func(m *nats.Msg) {
		var ev model.TraderEvent
		if err := json.Unmarshal(m.Data, &ev); err != nil {
			a.Logger.Error("failed to unmarshal trader event", zap.Error(err))
			m.Ack()
			return
		}
		if err := events.Save(ctx, ev); err != nil {
			a.Logger.Error("failed to record trader event", zap.Error(err))
			m.Nak()
			return
		}
		m.Ack()
	}, nats.Durable("event_recorder"), nats.ManualAck())
	if err != nil {
		return fmt.Errorf("failed to subscribe to trader events: %w", err)
	}
	return nil
}

// startTradingWorker runs the live trader for the target market in the background.
func (a *App) startTradingWorker(ctx context.Context) error {
	deps, err := NewTraderDeps(a.Config, a.DB, a.Logger)
	if err != nil {
		return err
	}

	t := trader.NewTrader(a.markets()[0], a.Config.Strategy, deps.Exchange, deps.Store, deps.Notifier, a.Logger).
		WithEvents(trader.NewJetStreamPublisher(a.JS, a.Logger))
	if err := t.Restore(ctx); err != nil {
		return err
	}

	NotifyStart(deps.Notifier, a.Config, a.Logger)
	go t.Run(ctx, a.Config.Strategy.Interval)
	return nil
}

// TraderDeps are the collaborators a live trader is built from.
type TraderDeps struct {
	Exchange trader.Exchange
	Store    trader.StateStore
	Notifier notify.Notifier
}

// NewTraderDeps picks the mock or real exchange, the Postgres or file state store and the notifier from cfg.
func NewTraderDeps(cfg *config.Config, db *pgxpool.Pool, logger *zap.Logger) (TraderDeps, error) {
	var deps TraderDeps

	upbit := connector.NewUpbitClient(cfg.UpbitURL, cfg.UpbitAccessKey, cfg.UpbitSecretKey, logger)
	if cfg.MockTrading {
		mock, err := connector.NewMockExchange(upbit, cfg.MockPortfolio, cfg.Strategy.FeeRate, logger)
		if err != nil {
			return TraderDeps{}, fmt.Errorf("failed to open mock portfolio: %w", err)
		}
		deps.Exchange = mock
	} else {
		if cfg.UpbitAccessKey == "" || cfg.UpbitSecretKey == "" {
			return TraderDeps{}, fmt.Errorf("real trading requires UPBIT_ACCESS_KEY and UPBIT_SECRET_KEY")
		}
		deps.Exchange = upbit
	}

	deps.Store = storage.NewFileStateStore(cfg.StateFile)
	if db != nil {
		deps.Store = storage.NewPGStateStore(db)
	}

	n, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, cfg.TelegramPrefix, logger)
	if err != nil {
		logger.Warn("telegram unavailable, notifications disabled", zap.Error(err))
		n = notify.Nop{}
	}
	deps.Notifier = n
	return deps, nil
}

// NotifyStart announces the trading mode on startup.
func NotifyStart(n notify.Notifier, cfg *config.Config, logger *zap.Logger) {
	mode := "REAL"
	if cfg.MockTrading {
		mode = "MOCK"
	}
	logger.Info("starting coin trading bot", zap.String("mode", mode), zap.String("market", cfg.TargetMarket))
	if err := n.Notify(fmt.Sprintf("Coin trading bot started (%s)\nMarket: %s\nStrategy: %s",
		mode, cfg.TargetMarket, cfg.Strategy.Variant)); err != nil {
		logger.Warn("start notification failed", zap.Error(err))
	}
}
