package engine

import (
	"time"

	"coin-trader/internal/config"
	"coin-trader/internal/model"

	"github.com/shopspring/decimal"
)

// QuantityPrecision is the number of decimal places an exchange accepts for order volume.
const QuantityPrecision = 8

var (
	one        = decimal.NewFromInt(1)
	hundred    = decimal.NewFromInt(100)
	cashBuffer = decimal.NewFromFloat(0.999)
	minLot     = decimal.New(1, -QuantityPrecision)
)

// PositionMachine holds the FLAT/OPEN transition rules for one parameter set.
// It keeps no run state; callers thread the position and risk state through it.
type PositionMachine struct {
	variant              config.Variant
	feeRate              decimal.Decimal
	slippage             decimal.Decimal
	atrK                 decimal.Decimal
	riskPct              decimal.Decimal
	minOrderValue        decimal.Decimal
	stopLossPct          float64
	takeProfitPct        float64
	maxHoldDays          float64
	minProfitPct         float64
	maxConsecutiveLosses int
	cooldown             time.Duration
	minProfitFloor       bool
}

func NewPositionMachine(params config.StrategyParams) *PositionMachine {
	return &PositionMachine{
		variant:              params.Variant,
		feeRate:              decimal.NewFromFloat(params.FeeRate),
		slippage:             decimal.NewFromFloat(params.SlippageRate),
		atrK:                 decimal.NewFromFloat(params.ATRK),
		riskPct:              decimal.NewFromFloat(params.RiskPerTradePct),
		minOrderValue:        decimal.NewFromFloat(params.MinOrderValue),
		stopLossPct:          params.StopLossPct,
		takeProfitPct:        params.TakeProfitPct,
		maxHoldDays:          params.MaxHoldDays,
		minProfitPct:         params.MinProfitPct,
		maxConsecutiveLosses: params.MaxConsecutiveLosses,
		cooldown:             time.Duration(params.CooldownCandles) * params.Interval,
	}
}

// NewLivePositionMachine only honours Max Hold Days once the position is at least MinProfitPct in profit.
func NewLivePositionMachine(params config.StrategyParams) *PositionMachine {
	m := NewPositionMachine(params)
	m.minProfitFloor = true
	return m
}

func (m *PositionMachine) BuyPrice(signal decimal.Decimal) decimal.Decimal {
	return signal.Mul(one.Add(m.slippage))
}

func (m *PositionMachine) SellPrice(signal decimal.Decimal) decimal.Decimal {
	return signal.Mul(one.Sub(m.slippage))
}

func (m *PositionMachine) Fee(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(m.feeRate)
}

// Size returns how much to buy at the candle close with balance, or false when the entry must be skipped.
func (m *PositionMachine) Size(balance decimal.Decimal, c model.Candle) (decimal.Decimal, bool) {
	price := m.BuyPrice(c.Close)
	if !price.IsPositive() || !balance.IsPositive() {
		return decimal.Zero, false
	}
	affordable := balance.Div(price.Mul(one.Add(m.feeRate)))

	var qty decimal.Decimal
	switch m.variant {
	case config.VariantMeanReversion:
		qty = affordable
	case config.VariantTrendFollowing:
		if model.Undefined(c.PrevATR) || c.PrevATR <= 0 {
			return decimal.Zero, false
		}
		stopDistance := decimal.NewFromFloat(c.PrevATR).Mul(m.atrK)
		if !stopDistance.IsPositive() {
			return decimal.Zero, false
		}
		riskAmount := balance.Mul(m.riskPct).Div(hundred)
		target := riskAmount.Div(stopDistance)
		maxQty := balance.Mul(cashBuffer).Div(price)
		qty = decimal.Min(target, maxQty, affordable)
	default:
		return decimal.Zero, false
	}

	qty = qty.Truncate(QuantityPrecision)
	notional := qty.Mul(price)
	if notional.Add(m.Fee(notional)).GreaterThan(balance) {
		qty = qty.Sub(minLot)
	}
	if !qty.IsPositive() {
		return decimal.Zero, false
	}
	if m.variant == config.VariantTrendFollowing && qty.Mul(c.Close).LessThan(m.minOrderValue) {
		return decimal.Zero, false
	}
	return qty, true
}

// ExitReason checks the exit rules in precedence order against price at now.
// The caller is expected to have already called pos.Observe(price).
func (m *PositionMachine) ExitReason(pos *model.Position, price decimal.Decimal, now time.Time) (model.ExitReason, bool) {
	switch m.variant {
	case config.VariantTrendFollowing:
		// No stop distance without an entry ATR; the ATR exits stay off until one is known.
		if model.Undefined(pos.EntryATR) || pos.EntryATR <= 0 {
			return "", false
		}
		stopDistance := decimal.NewFromFloat(pos.EntryATR).Mul(m.atrK)
		if price.LessThanOrEqual(pos.EntryPrice.Sub(stopDistance)) {
			return model.ReasonStopLoss, true
		}
		if price.LessThanOrEqual(pos.HighestPrice.Sub(stopDistance)) {
			return model.ReasonTrailingStop, true
		}
	case config.VariantMeanReversion:
		pnlPct := pos.PnLPct(price)
		if pnlPct <= -m.stopLossPct {
			return model.ReasonStopLoss, true
		}
		if pnlPct >= m.takeProfitPct {
			return model.ReasonTakeProfit, true
		}
		daysHeld := now.Sub(pos.EntryTime).Hours() / 24
		if daysHeld >= m.maxHoldDays && (!m.minProfitFloor || pnlPct >= m.minProfitPct) {
			return model.ReasonMaxHold, true
		}
	}
	return "", false
}

// TrailingStopPrice is the current trailing exit level, or zero for variants without one.
func (m *PositionMachine) TrailingStopPrice(pos *model.Position) decimal.Decimal {
	if m.variant != config.VariantTrendFollowing {
		return decimal.Zero
	}
	return pos.HighestPrice.Sub(decimal.NewFromFloat(pos.EntryATR).Mul(m.atrK))
}

// RecordExit updates the consecutive-loss counter and opens a cooldown window when it reaches the limit.
func (m *PositionMachine) RecordExit(risk *model.RiskState, reason model.ExitReason, at time.Time) {
	if m.variant != config.VariantTrendFollowing {
		return
	}
	if reason != model.ReasonStopLoss {
		risk.ConsecutiveLosses = 0
		return
	}
	risk.ConsecutiveLosses++
	if risk.ConsecutiveLosses >= m.maxConsecutiveLosses {
		until := at.Add(m.cooldown)
		risk.CooldownUntil = &until
		risk.ConsecutiveLosses = 0
	}
}

// runState is the mutable state of one simulation run.
type runState struct {
	balance  decimal.Decimal
	position *model.Position
	risk     model.RiskState
	trades   []model.Trade
}

func (s *runState) equity(price decimal.Decimal) decimal.Decimal {
	if s.position == nil {
		return s.balance
	}
	return s.balance.Add(s.position.Quantity.Mul(price))
}

func (m *PositionMachine) enter(st *runState, c model.Candle) bool {
	qty, ok := m.Size(st.balance, c)
	if !ok {
		return false
	}

	price := m.BuyPrice(c.Close)
	notional := qty.Mul(price)
	fee := m.Fee(notional)
	st.balance = st.balance.Sub(notional).Sub(fee)

	entryATR := c.PrevATR
	if model.Undefined(entryATR) {
		entryATR = 0
	}
	st.position = &model.Position{
		EntryPrice:   price,
		Quantity:     qty,
		EntryTime:    c.Time,
		EntryATR:     entryATR,
		HighestPrice: price,
	}

	st.trades = append(st.trades, model.Trade{
		Type:           model.TradeBuy,
		Time:           c.Time,
		SignalPrice:    c.Close,
		ExecutionPrice: price,
		Quantity:       qty,
		Fee:            fee,
		SlippageCost:   price.Sub(c.Close).Mul(qty),
		BalanceAfter:   st.balance,
	})
	return true
}

func (m *PositionMachine) exit(st *runState, c model.Candle, reason model.ExitReason) {
	pos := st.position
	price := m.SellPrice(c.Close)
	proceeds := pos.Quantity.Mul(price)
	fee := m.Fee(proceeds)
	st.balance = st.balance.Add(proceeds.Sub(fee))

	// cost basis excludes the entry fee
	realized := proceeds.Sub(fee).Sub(pos.Quantity.Mul(pos.EntryPrice))
	m.RecordExit(&st.risk, reason, c.Time)

	st.trades = append(st.trades, model.Trade{
		Type:           model.TradeSell,
		Time:           c.Time,
		SignalPrice:    c.Close,
		ExecutionPrice: price,
		Quantity:       pos.Quantity,
		Fee:            fee,
		SlippageCost:   c.Close.Sub(price).Mul(pos.Quantity),
		Reason:         reason,
		PnLPct:         pos.PnLPct(c.Close),
		RealizedPnL:    realized,
		BalanceAfter:   st.balance,
	})
	st.position = nil
}
