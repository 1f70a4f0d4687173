package indicator

import (
	"math"
	"testing"
	"time"

	"coin-trader/internal/config"
	"coin-trader/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCandles(n int) []model.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]model.Candle, n)
	for i := range candles {
		price := 100 + 10*math.Sin(float64(i)/7) + float64(i)*0.1
		candles[i] = model.Candle{
			Market: "KRW-BTC",
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   decimal.NewFromFloat(price - 0.5),
			High:   decimal.NewFromFloat(price + 1),
			Low:    decimal.NewFromFloat(price - 1),
			Close:  decimal.NewFromFloat(price),
			Volume: decimal.NewFromFloat(10 + float64(i%5)),
		}
	}
	return candles
}

func TestTalibProvider_WarmupIsUndefined(t *testing.T) {
	params := config.DefaultParams()
	raw := makeCandles(200)
	out := NewTalibProvider(params).Augment(raw)
	require.Len(t, out, len(raw))

	assert.True(t, model.Undefined(out[0].RSI))
	assert.True(t, model.Undefined(out[params.RSIPeriod-1].RSI))
	assert.False(t, model.Undefined(out[params.RSIPeriod].RSI))

	macdLookback := params.MACDSlow - 1 + params.MACDSignal - 1
	assert.True(t, model.Undefined(out[macdLookback-1].MACD))
	assert.False(t, model.Undefined(out[macdLookback].MACDSignal))

	assert.True(t, model.Undefined(out[params.EMASlow-2].EMASlow))
	assert.False(t, model.Undefined(out[params.EMASlow-1].EMASlow))

	last := out[len(out)-1]
	assert.False(t, model.Undefined(last.ATR))
	assert.Equal(t, out[len(out)-2].ATR, last.PrevATR)
	assert.InDelta(t, last.ATR/out[len(out)-1-params.ATRRatioLookback].ATR, last.ATRRatio, 1e-12)
	assert.Greater(t, last.UpperBand, last.LowerBand)
	assert.Greater(t, last.RSI, 0.0)
	assert.Less(t, last.RSI, 100.0)
}

func TestTalibProvider_DoesNotMutateInput(t *testing.T) {
	raw := makeCandles(80)
	NewTalibProvider(config.DefaultParams()).Augment(raw)

	for _, c := range raw {
		assert.Equal(t, 0.0, c.RSI)
		assert.Equal(t, 0.0, c.ATR)
	}
}

func TestTalibProvider_ShortSeriesStaysUndefined(t *testing.T) {
	out := NewTalibProvider(config.DefaultParams()).Augment(makeCandles(5))
	require.Len(t, out, 5)
	for _, c := range out {
		assert.True(t, model.Undefined(c.RSI))
		assert.True(t, model.Undefined(c.MACD))
		assert.True(t, model.Undefined(c.ATR))
	}

	assert.Empty(t, NewTalibProvider(config.DefaultParams()).Augment(nil))
}
