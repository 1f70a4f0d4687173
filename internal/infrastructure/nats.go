package infrastructure

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	TraderStream        = "TRADER"
	TraderEventSubjects = "trader.event.*"

	MarketStream   = "MARKET"
	TickSubjects   = "market.tick.*"
	CandleSubjects = "market.candle.*"
)

func TickSubject(market string) string {
	return fmt.Sprintf("market.tick.%s", market)
}

func CandleSubject(market string) string {
	return fmt.Sprintf("market.candle.%s", market)
}

func InitNATS(url string, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url, nats.Name("coin-trader"))
	if err != nil {
		return nil, nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	streams := []*nats.StreamConfig{
		{Name: TraderStream, Subjects: []string{TraderEventSubjects}},
		{Name: MarketStream, Subjects: []string{TickSubjects, CandleSubjects}},
	}
	for _, cfg := range streams {
		// Create stream if it doesn't exist
		if _, err = js.AddStream(cfg); err != nil {
			if _, err = js.UpdateStream(cfg); err != nil {
				logger.Warn("failed to create or update stream", zap.String("stream", cfg.Name), zap.Error(err))
			}
		}
	}

	return nc, js, nil
}
