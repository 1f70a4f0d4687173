package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

type ExitReason string

const (
	ReasonStopLoss     ExitReason = "Stop Loss"
	ReasonTrailingStop ExitReason = "Trailing Stop"
	ReasonTakeProfit   ExitReason = "Take Profit"
	ReasonMaxHold      ExitReason = "Max Hold Days"
)

// Position is the single open long position of a run.
type Position struct {
	EntryPrice   decimal.Decimal `json:"entry_price"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryTime    time.Time       `json:"entry_time"`
	EntryATR     float64         `json:"entry_atr"`
	HighestPrice decimal.Decimal `json:"highest_price"`
}

// Observe ratchets the highest price seen since entry. It never lowers it.
func (p *Position) Observe(price decimal.Decimal) {
	if price.GreaterThan(p.HighestPrice) {
		p.HighestPrice = price
	}
}

// PnLPct is the unrealised percentage move of price against the entry price.
func (p *Position) PnLPct(price decimal.Decimal) float64 {
	if p.EntryPrice.IsZero() {
		return 0
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// RiskState carries the consecutive-loss counter and cooldown window across a run.
type RiskState struct {
	ConsecutiveLosses int        `json:"consecutive_losses"`
	CooldownUntil     *time.Time `json:"cooldown_until,omitempty"`
}

// InCooldown reports whether entries are blocked at now, clearing an expired window.
func (r *RiskState) InCooldown(now time.Time) bool {
	if r.CooldownUntil == nil {
		return false
	}
	if now.Before(*r.CooldownUntil) {
		return true
	}
	r.CooldownUntil = nil
	return false
}

// Trade is one ledger entry. Reason, PnLPct and RealizedPnL are only set on sells.
type Trade struct {
	Type           TradeType       `json:"type"`
	Time           time.Time       `json:"time"`
	SignalPrice    decimal.Decimal `json:"signal_price"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Fee            decimal.Decimal `json:"fee"`
	SlippageCost   decimal.Decimal `json:"slippage_cost"`
	Reason         ExitReason      `json:"reason,omitempty"`
	PnLPct         float64         `json:"pnl_pct,omitempty"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
}

// SimulationResult is the read-only outcome of one simulation run.
type SimulationResult struct {
	Market            string          `json:"market,omitempty"`
	Variant           string          `json:"variant"`
	InitialBalance    decimal.Decimal `json:"initial_balance"`
	FinalBalance      decimal.Decimal `json:"final_balance"`
	ReturnPct         float64         `json:"return_pct"`
	TotalClosedTrades int             `json:"total_closed_trades"`
	Trades            []Trade         `json:"trades"`
	OpenPosition      *Position       `json:"open_position,omitempty"`
	Stats             TradeStats      `json:"stats"`
}

// TradeStats breaks closed trades down by outcome and exit reason.
type TradeStats struct {
	Wins          int             `json:"wins"`
	StopLoss      int             `json:"stop_loss"`
	TrailingStop  int             `json:"trailing_stop"`
	TakeProfit    int             `json:"take_profit"`
	MaxHoldWins   int             `json:"max_hold_wins"`
	MaxHoldLosses int             `json:"max_hold_losses"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	WinRate       float64         `json:"win_rate"`
	MaxDrawdown   float64         `json:"max_drawdown"`
	SharpeRatio   float64         `json:"sharpe_ratio"`
}
