package processor

import (
	"context"
	"testing"
	"time"

	"coin-trader/internal/connector"
	"coin-trader/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recSink struct{ saved [][]model.Candle }

func (s *recSink) Save(_ context.Context, candles []model.Candle) error {
	s.saved = append(s.saved, candles)
	return nil
}

func TestCandleProcessor_ProcessTick(t *testing.T) {
	p := NewCandleProcessor(nil, nil, time.Hour, zap.NewNop())

	hour := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	market := "KRW-BTC"
	p.now = func() time.Time { return hour.Add(5 * time.Minute) }

	// 1. First tick opens the candle
	p.processTick(connector.Tick{
		Market: market,
		Price:  decimal.NewFromFloat(50000),
		Volume: decimal.NewFromFloat(1),
		Time:   hour.Add(10 * time.Minute),
	})

	key := "KRW-BTC:" + hour.Format(time.RFC3339)
	candle, ok := p.candles[key]
	require.True(t, ok)
	assert.True(t, candle.Open.Equal(decimal.NewFromFloat(50000)))
	assert.True(t, candle.High.Equal(decimal.NewFromFloat(50000)))
	assert.True(t, candle.Low.Equal(decimal.NewFromFloat(50000)))
	assert.True(t, candle.Close.Equal(decimal.NewFromFloat(50000)))
	assert.True(t, candle.Volume.Equal(decimal.NewFromFloat(1)))

	// 2. Higher tick moves high and close
	p.processTick(connector.Tick{
		Market: market,
		Price:  decimal.NewFromFloat(50100),
		Volume: decimal.NewFromFloat(0.5),
		Time:   hour.Add(20 * time.Minute),
	})
	assert.True(t, candle.High.Equal(decimal.NewFromFloat(50100)))
	assert.True(t, candle.Low.Equal(decimal.NewFromFloat(50000)))
	assert.True(t, candle.Close.Equal(decimal.NewFromFloat(50100)))
	assert.True(t, candle.Volume.Equal(decimal.NewFromFloat(1.5)))

	// 3. Lower tick moves low and close
	p.processTick(connector.Tick{
		Market: market,
		Price:  decimal.NewFromFloat(49900),
		Volume: decimal.NewFromFloat(2),
		Time:   hour.Add(59 * time.Minute),
	})
	assert.True(t, candle.High.Equal(decimal.NewFromFloat(50100)))
	assert.True(t, candle.Low.Equal(decimal.NewFromFloat(49900)))
	assert.True(t, candle.Close.Equal(decimal.NewFromFloat(49900)))
	assert.True(t, candle.Volume.Equal(decimal.NewFromFloat(3.5)))

	// 4. Next hour opens a new candle
	p.processTick(connector.Tick{
		Market: market,
		Price:  decimal.NewFromFloat(49950),
		Volume: decimal.NewFromFloat(1),
		Time:   hour.Add(time.Hour),
	})
	assert.Len(t, p.candles, 2)
	assert.True(t, candle.Close.Equal(decimal.NewFromFloat(49900)))
}

func TestCandleProcessor_FlushOnlyClosedWindows(t *testing.T) {
	sink := &recSink{}
	p := NewCandleProcessor(nil, sink, time.Hour, zap.NewNop())

	hour := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return hour }
	for i, market := range []string{"KRW-ETH", "KRW-BTC"} {
		p.processTick(connector.Tick{Market: market, Price: decimal.NewFromInt(int64(100 + i)), Volume: decimal.NewFromInt(1), Time: hour.Add(time.Minute)})
	}
	p.processTick(connector.Tick{Market: "KRW-BTC", Price: decimal.NewFromInt(102), Volume: decimal.NewFromInt(1), Time: hour.Add(61 * time.Minute)})

	p.now = func() time.Time { return hour.Add(30 * time.Minute) }
	p.flush(context.Background())
	assert.Empty(t, sink.saved, "current window stays open")

	p.now = func() time.Time { return hour.Add(90 * time.Minute) }
	p.flush(context.Background())
	require.Len(t, sink.saved, 1)
	require.Len(t, sink.saved[0], 2)
	assert.Equal(t, "KRW-BTC", sink.saved[0][0].Market)
	assert.Equal(t, "KRW-ETH", sink.saved[0][1].Market)
	assert.Len(t, p.candles, 1, "11:00 candle still open")
}

func TestCandleProcessor_LateTicks(t *testing.T) {
	sink := &recSink{}
	p := NewCandleProcessor(nil, sink, time.Hour, zap.NewNop())

	hour := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := func(price int64, at time.Time) connector.Tick {
		return connector.Tick{Market: "KRW-BTC", Price: decimal.NewFromInt(price), Volume: decimal.NewFromInt(1), Time: at}
	}

	p.now = func() time.Time { return hour }
	p.processTick(tick(100, hour.Add(time.Minute)))
	p.processTick(tick(110, hour.Add(2*time.Minute)))

	// window closed but not flushed yet: the late tick still counts
	p.now = func() time.Time { return hour.Add(61 * time.Minute) }
	p.processTick(tick(90, hour.Add(59*time.Minute)))
	p.flush(context.Background())

	require.Len(t, sink.saved, 1)
	closed := sink.saved[0][0]
	assert.True(t, closed.Low.Equal(decimal.NewFromInt(90)))
	assert.True(t, closed.High.Equal(decimal.NewFromInt(110)))
	assert.True(t, closed.Volume.Equal(decimal.NewFromInt(3)))

	// after the flush a late tick for that window is dropped
	p.processTick(tick(50, hour.Add(59*time.Minute)))
	assert.Empty(t, p.candles)
	p.flush(context.Background())
	assert.Len(t, sink.saved, 1)
}
