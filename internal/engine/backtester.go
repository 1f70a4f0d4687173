package engine

import (
	"math"

	"coin-trader/internal/config"
	"coin-trader/internal/model"
	"coin-trader/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Backtester replays an augmented candle series against one parameter set.
// It holds only immutable configuration, so one instance may run many series concurrently.
type Backtester struct {
	params  config.StrategyParams
	signal  strategy.Signal
	machine *PositionMachine
	logger  *zap.Logger
}

func NewBacktester(params config.StrategyParams, signal strategy.Signal, logger *zap.Logger) *Backtester {
	return &Backtester{
		params:  params,
		signal:  signal,
		machine: NewPositionMachine(params),
		logger:  logger,
	}
}

func (b *Backtester) Run(candles []model.Candle) model.SimulationResult {
	initialBalance := decimal.NewFromFloat(b.params.InitialCapital)
	result := model.SimulationResult{
		Variant:        string(b.params.Variant),
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
		Trades:         []model.Trade{},
	}

	if len(candles) == 0 {
		b.logger.Warn("backtest started with empty candle sequence")
		return result
	}
	result.Market = candles[0].Market

	st := &runState{balance: initialBalance}
	equityCurve := make([]decimal.Decimal, 0, len(candles))

	for _, candle := range candles {
		// Skip if indicators are NaN (start of data)
		if !b.signal.Ready(candle) {
			continue
		}

		if st.position != nil {
			st.position.Observe(candle.Close)
			if reason, ok := b.machine.ExitReason(st.position, candle.Close, candle.Time); ok {
				b.machine.exit(st, candle, reason)
			}
		} else if !st.risk.InCooldown(candle.Time) && b.signal.ShouldEnter(candle) {
			if !b.machine.enter(st, candle) {
				b.logger.Debug("entry signal skipped by sizing",
					zap.Time("time", candle.Time),
					zap.String("close", candle.Close.String()),
				)
			}
		}

		equityCurve = append(equityCurve, st.equity(candle.Close))
	}

	// Value the open position at the last close; it stays open in the ledger.
	finalBalance := st.balance
	if st.position != nil {
		lastPrice := candles[len(candles)-1].Close
		value := st.position.Quantity.Mul(lastPrice)
		finalBalance = finalBalance.Add(value.Sub(b.machine.Fee(value)))
		open := *st.position
		result.OpenPosition = &open
	}

	result.FinalBalance = finalBalance
	result.ReturnPct = finalBalance.Sub(initialBalance).Div(initialBalance).Mul(hundred).InexactFloat64()
	result.Trades = st.trades
	if result.Trades == nil {
		result.Trades = []model.Trade{}
	}
	result.TotalClosedTrades = countSells(st.trades)
	result.Stats = calculateStats(st.trades)
	result.Stats.MaxDrawdown = calculateMaxDrawdown(equityCurve)
	result.Stats.SharpeRatio = calculateSharpeRatio(equityCurve)
	return result
}

func countSells(trades []model.Trade) int {
	n := 0
	for _, t := range trades {
		if t.Type == model.TradeSell {
			n++
		}
	}
	return n
}

func calculateStats(trades []model.Trade) model.TradeStats {
	stats := model.TradeStats{TotalFees: decimal.Zero, TotalPnL: decimal.Zero}
	sells := 0
	for _, t := range trades {
		stats.TotalFees = stats.TotalFees.Add(t.Fee)
		if t.Type != model.TradeSell {
			continue
		}
		sells++
		win := t.RealizedPnL.IsPositive()
		if win {
			stats.Wins++
		}
		stats.TotalPnL = stats.TotalPnL.Add(t.RealizedPnL)

		switch t.Reason {
		case model.ReasonStopLoss:
			stats.StopLoss++
		case model.ReasonTrailingStop:
			stats.TrailingStop++
		case model.ReasonTakeProfit:
			stats.TakeProfit++
		case model.ReasonMaxHold:
			if win {
				stats.MaxHoldWins++
			} else {
				stats.MaxHoldLosses++
			}
		}
	}
	if sells > 0 {
		stats.WinRate = float64(stats.Wins) / float64(sells)
	}
	return stats
}

func calculateMaxDrawdown(equityCurve []decimal.Decimal) float64 {
	if len(equityCurve) == 0 {
		return 0
	}
	maxEquity := equityCurve[0]
	maxDD := decimal.Zero
	for _, equity := range equityCurve {
		if equity.GreaterThan(maxEquity) {
			maxEquity = equity
		}
		if !maxEquity.IsPositive() {
			continue
		}
		dd := maxEquity.Sub(equity).Div(maxEquity)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD.InexactFloat64()
}

func calculateSharpeRatio(equityCurve []decimal.Decimal) float64 {
	if len(equityCurve) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(equityCurve)-1)
	for i := 1; i < len(equityCurve); i++ {
		prev := equityCurve[i-1]
		if !prev.IsPositive() {
			continue
		}
		returns = append(returns, equityCurve[i].Sub(prev).Div(prev).InexactFloat64())
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	avgReturn := sum / float64(len(returns))

	var sumSqDiff float64
	for _, r := range returns {
		diff := r - avgReturn
		sumSqDiff += diff * diff
	}
	stdDev := math.Sqrt(sumSqDiff / float64(len(returns)))
	if stdDev == 0 {
		return 0
	}
	// per-candle ratio, not annualized
	return avgReturn / stdDev
}
