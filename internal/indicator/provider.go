package indicator

import (
	"math"

	"coin-trader/internal/config"
	"coin-trader/internal/model"

	"github.com/markcheno/go-talib"
)

// Provider augments a raw candle series with indicator columns.
// Implementations must return a new slice and leave the input untouched.
type Provider interface {
	Augment(candles []model.Candle) []model.Candle
}

// TalibProvider computes RSI, MACD, ATR, EMA, Bollinger bands and volume SMA with go-talib.
type TalibProvider struct {
	params config.StrategyParams
}

func NewTalibProvider(params config.StrategyParams) *TalibProvider {
	return &TalibProvider{params: params}
}

func (p *TalibProvider) Augment(candles []model.Candle) []model.Candle {
	n := len(candles)
	out := make([]model.Candle, n)
	copy(out, candles)
	if n == 0 {
		return out
	}

	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, c := range candles {
		high[i] = c.High.InexactFloat64()
		low[i] = c.Low.InexactFloat64()
		closes[i] = c.Close.InexactFloat64()
		volume[i] = c.Volume.InexactFloat64()
		out[i].ClearIndicators()
	}

	prm := p.params

	if n > prm.RSIPeriod {
		rsi := mask(talib.Rsi(closes, prm.RSIPeriod), prm.RSIPeriod)
		set(out, rsi, func(c *model.Candle, v float64) { c.RSI = v })
	}

	macdLookback := prm.MACDSlow - 1 + prm.MACDSignal - 1
	if n > macdLookback {
		macd, signal, hist := talib.Macd(closes, prm.MACDFast, prm.MACDSlow, prm.MACDSignal)
		set(out, mask(macd, macdLookback), func(c *model.Candle, v float64) { c.MACD = v })
		set(out, mask(signal, macdLookback), func(c *model.Candle, v float64) { c.MACDSignal = v })
		set(out, mask(hist, macdLookback), func(c *model.Candle, v float64) { c.MACDHist = v })
	}

	if n > prm.ATRPeriod {
		atr := mask(talib.Atr(high, low, closes, prm.ATRPeriod), prm.ATRPeriod)
		for i := range out {
			out[i].ATR = atr[i]
			if i >= 1 {
				out[i].PrevATR = atr[i-1]
			}
			if i >= prm.ATRRatioLookback {
				out[i].ATRRatio = ratio(atr[i], atr[i-prm.ATRRatioLookback])
			}
		}
	}

	if n >= prm.EMAFast {
		set(out, mask(talib.Ema(closes, prm.EMAFast), prm.EMAFast-1), func(c *model.Candle, v float64) { c.EMAFast = v })
	}
	if n >= prm.EMASlow {
		set(out, mask(talib.Ema(closes, prm.EMASlow), prm.EMASlow-1), func(c *model.Candle, v float64) { c.EMASlow = v })
	}

	if n >= prm.BBPeriod {
		upper, _, lower := talib.BBands(closes, prm.BBPeriod, prm.BBStdDev, prm.BBStdDev, talib.SMA)
		set(out, mask(upper, prm.BBPeriod-1), func(c *model.Candle, v float64) { c.UpperBand = v })
		set(out, mask(lower, prm.BBPeriod-1), func(c *model.Candle, v float64) { c.LowerBand = v })
	}

	if n >= prm.VolSMAPeriod {
		set(out, mask(talib.Sma(volume, prm.VolSMAPeriod), prm.VolSMAPeriod-1), func(c *model.Candle, v float64) { c.VolSMA = v })
	}

	return out
}

// mask replaces the first lookback values, which talib leaves as zeros, with NaN.
func mask(values []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(values); i++ {
		values[i] = math.NaN()
	}
	return values
}

func set(out []model.Candle, values []float64, assign func(c *model.Candle, v float64)) {
	for i := range out {
		if i < len(values) {
			assign(&out[i], values[i])
		}
	}
}

func ratio(cur, prev float64) float64 {
	if model.Undefined(cur) || model.Undefined(prev) || prev == 0 {
		return math.NaN()
	}
	return cur / prev
}
