package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"coin-trader/internal/connector"
	"coin-trader/internal/infrastructure"
	"coin-trader/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// CandleSink stores completed candles.
type CandleSink interface {
	Save(ctx context.Context, candles []model.Candle) error
}

// CandleProcessor builds interval candles from the live tick stream and flushes them once closed.
type CandleProcessor struct {
	js       nats.JetStreamContext
	sink     CandleSink
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
	candles  map[string]*model.Candle
	mu       sync.Mutex
}

func NewCandleProcessor(js nats.JetStreamContext, sink CandleSink, interval time.Duration, logger *zap.Logger) *CandleProcessor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CandleProcessor{
		js:       js,
		sink:     sink,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		candles:  make(map[string]*model.Candle),
	}
}

func (p *CandleProcessor) Run(ctx context.Context) error {
	_, err := p.js.Subscribe(infrastructure.TickSubjects, func(msg *nats.Msg) {
		var tick connector.Tick
		if err := json.Unmarshal(msg.Data, &tick); err != nil {
			p.logger.Error("failed to unmarshal tick in processor", zap.Error(err))
			msg.Ack()
			return
		}
		p.processTick(tick)
		msg.Ack()
	}, nats.Durable("candle-processor"), nats.ManualAck())
	if err != nil {
		return err
	}

	go p.flushLoop(ctx)
	p.logger.Info("candle processor started", zap.Duration("interval", p.interval))
	return nil
}

func (p *CandleProcessor) processTick(tick connector.Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()

	window := tick.Time.UTC().Truncate(p.interval)
	key := fmt.Sprintf("%s:%s", tick.Market, window.Format(time.RFC3339))

	candle, ok := p.candles[key]
	if !ok {
		// A past window without a buffered candle was already flushed; a single late tick must not replace it.
		if window.Before(p.now().UTC().Truncate(p.interval)) {
			p.logger.Debug("dropping late tick for closed window",
				zap.String("market", tick.Market), zap.Time("window", window))
			return
		}
		p.candles[key] = &model.Candle{
			Market: tick.Market,
			Time:   window,
			Open:   tick.Price,
			High:   tick.Price,
			Low:    tick.Price,
			Close:  tick.Price,
			Volume: tick.Volume,
		}
		return
	}

	if tick.Price.GreaterThan(candle.High) {
		candle.High = tick.Price
	}
	if tick.Price.LessThan(candle.Low) {
		candle.Low = tick.Price
	}
	candle.Close = tick.Price
	candle.Volume = candle.Volume.Add(tick.Volume)
}

func (p *CandleProcessor) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

// completed removes and returns the candles whose window closed before now, oldest first.
func (p *CandleProcessor) completed() []model.Candle {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.now().UTC().Truncate(p.interval)
	out := make([]model.Candle, 0)
	for key, candle := range p.candles {
		if candle.Time.Before(current) {
			out = append(out, *candle)
			delete(p.candles, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].Market < out[j].Market
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

func (p *CandleProcessor) flush(ctx context.Context) {
	done := p.completed()
	if len(done) == 0 {
		return
	}

	if p.sink != nil {
		if err := p.sink.Save(ctx, done); err != nil {
			p.logger.Error("failed to save candles", zap.Int("count", len(done)), zap.Error(err))
		}
	}

	if p.js == nil {
		return
	}
	for _, candle := range done {
		data, err := json.Marshal(candle)
		if err != nil {
			p.logger.Error("failed to marshal candle", zap.Error(err))
			continue
		}
		if _, err := p.js.Publish(infrastructure.CandleSubject(candle.Market), data); err != nil {
			p.logger.Error("failed to publish candle", zap.Error(err))
		}
	}
}
