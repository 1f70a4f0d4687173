package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar plus the indicator columns computed for it.
// Indicator values are NaN inside the warm-up window.
type Candle struct {
	Market string          `json:"market" db:"market"`
	Time   time.Time       `json:"t" db:"time"`
	Open   decimal.Decimal `json:"o" db:"open"`
	High   decimal.Decimal `json:"h" db:"high"`
	Low    decimal.Decimal `json:"l" db:"low"`
	Close  decimal.Decimal `json:"c" db:"close"`
	Volume decimal.Decimal `json:"v" db:"volume"`

	RSI        float64 `json:"-"`
	MACD       float64 `json:"-"`
	MACDSignal float64 `json:"-"`
	MACDHist   float64 `json:"-"`
	ATR        float64 `json:"-"`
	PrevATR    float64 `json:"-"`
	ATRRatio   float64 `json:"-"`
	EMAFast    float64 `json:"-"`
	EMASlow    float64 `json:"-"`
	UpperBand  float64 `json:"-"`
	LowerBand  float64 `json:"-"`
	VolSMA     float64 `json:"-"`
}

// Undefined reports whether an indicator value is missing.
func Undefined(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// ClearIndicators marks every indicator column as undefined.
func (c *Candle) ClearIndicators() {
	nan := math.NaN()
	c.RSI, c.MACD, c.MACDSignal, c.MACDHist = nan, nan, nan, nan
	c.ATR, c.PrevATR, c.ATRRatio = nan, nan, nan
	c.EMAFast, c.EMASlow = nan, nan
	c.UpperBand, c.LowerBand, c.VolSMA = nan, nan, nan
}

// Fill is what an exchange reports back for an executed market order.
type Fill struct {
	OrderID  string          `json:"order_id"`
	Side     TradeType       `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Fee      decimal.Decimal `json:"fee"`
	Time     time.Time       `json:"time"`
}
