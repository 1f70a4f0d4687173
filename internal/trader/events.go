package trader

import (
	"context"
	"encoding/json"
	"fmt"

	"coin-trader/internal/infrastructure"
	"coin-trader/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// EventPublisher fans trader events out to other processes.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.TraderEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.TraderEvent) error { return nil }

// JetStreamPublisher publishes events to trader.event.<market>.
type JetStreamPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

func NewJetStreamPublisher(js nats.JetStreamContext, logger *zap.Logger) *JetStreamPublisher {
	return &JetStreamPublisher{js: js, logger: logger}
}

func EventSubject(market string) string {
	return fmt.Sprintf("trader.event.%s", market)
}

func (p *JetStreamPublisher) Publish(ctx context.Context, ev model.TraderEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal trader event: %w", err)
	}
	if _, err := p.js.Publish(EventSubject(ev.Market), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish trader event: %w", err)
	}
	infrastructure.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	p.logger.Debug("published trader event", zap.String("type", string(ev.Type)), zap.String("market", ev.Market))
	return nil
}
