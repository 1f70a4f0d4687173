package strategy

import (
	"coin-trader/internal/config"
	"coin-trader/internal/model"
)

// Evaluator is the stateless entry rule set for both strategy variants.
type Evaluator struct {
	variant         config.Variant
	rsiOversold     float64
	volatilityRatio float64
}

func NewEvaluator(params config.StrategyParams) *Evaluator {
	return &Evaluator{
		variant:         params.Variant,
		rsiOversold:     params.RSIOversold,
		volatilityRatio: params.ATRVolatilityRatio,
	}
}

func (e *Evaluator) Name() string {
	return string(e.variant)
}

// Ready reports whether every indicator the variant reads is defined on this candle.
func (e *Evaluator) Ready(c model.Candle) bool {
	if model.Undefined(c.RSI) || model.Undefined(c.ATR) {
		return false
	}
	switch e.variant {
	case config.VariantMeanReversion:
		return !model.Undefined(c.MACD) && !model.Undefined(c.MACDSignal)
	case config.VariantTrendFollowing:
		return !model.Undefined(c.EMAFast) && !model.Undefined(c.EMASlow) &&
			!model.Undefined(c.UpperBand) && !model.Undefined(c.VolSMA)
	}
	return false
}

func (e *Evaluator) ShouldEnter(c model.Candle) bool {
	switch e.variant {
	case config.VariantMeanReversion:
		return e.MeanReversionEntry(c)
	case config.VariantTrendFollowing:
		return e.TrendFollowingEntry(c)
	}
	return false
}

// MeanReversionEntry fires when MACD is above its signal line while RSI is oversold.
func (e *Evaluator) MeanReversionEntry(c model.Candle) bool {
	if e.VolatilityVeto(c) {
		return false
	}
	return c.MACD > c.MACDSignal && c.RSI < e.rsiOversold
}

// TrendFollowingEntry fires on an EMA uptrend breaking the upper band on above-average volume.
func (e *Evaluator) TrendFollowingEntry(c model.Candle) bool {
	if e.VolatilityVeto(c) {
		return false
	}
	closePrice := c.Close.InexactFloat64()
	return c.EMAFast > c.EMASlow &&
		closePrice > c.UpperBand &&
		c.Volume.InexactFloat64() > c.VolSMA
}

// VolatilityVeto blocks entries while ATR has expanded past the configured ratio.
// An undefined ratio counts as zero.
func (e *Evaluator) VolatilityVeto(c model.Candle) bool {
	r := c.ATRRatio
	if model.Undefined(r) {
		r = 0
	}
	return r > e.volatilityRatio
}
