package model

import (
	"time"

	"coin-trader/internal/config"

	"github.com/shopspring/decimal"
)

// SweepResult is one ranked row of a parameter sweep.
type SweepResult struct {
	Index             int                   `json:"index"`
	Params            config.StrategyParams `json:"params"`
	ReturnPct         float64               `json:"return_pct"`
	TotalClosedTrades int                   `json:"total_closed_trades"`
	FinalBalance      decimal.Decimal       `json:"final_balance"`
}

// LiveState is the trader state that must survive a process restart.
type LiveState struct {
	Market    string    `json:"market"`
	Position  *Position `json:"position,omitempty"`
	Risk      RiskState `json:"risk"`
	UpdatedAt time.Time `json:"updated_at"`
}

type EventType string

const (
	EventSignal EventType = "signal"
	EventBuy    EventType = "buy"
	EventSell   EventType = "sell"
	EventError  EventType = "error"
)

// TraderEvent is published by the live trader for dashboards and the push gateway.
type TraderEvent struct {
	Type     EventType       `json:"type"`
	Market   string          `json:"market"`
	Time     time.Time       `json:"time"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Reason   string          `json:"reason,omitempty"`
	PnL      decimal.Decimal `json:"pnl"`
}
