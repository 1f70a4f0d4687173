package strategy

import (
	"fmt"

	"coin-trader/internal/config"
)

var overrideSetters = map[string]func(p *config.StrategyParams, v float64){
	"rsi_oversold":           func(p *config.StrategyParams, v float64) { p.RSIOversold = v },
	"rsi_period":             func(p *config.StrategyParams, v float64) { p.RSIPeriod = int(v) },
	"macd_fast":              func(p *config.StrategyParams, v float64) { p.MACDFast = int(v) },
	"macd_slow":              func(p *config.StrategyParams, v float64) { p.MACDSlow = int(v) },
	"macd_signal":            func(p *config.StrategyParams, v float64) { p.MACDSignal = int(v) },
	"stop_loss_pct":          func(p *config.StrategyParams, v float64) { p.StopLossPct = v },
	"take_profit_pct":        func(p *config.StrategyParams, v float64) { p.TakeProfitPct = v },
	"max_hold_days":          func(p *config.StrategyParams, v float64) { p.MaxHoldDays = v },
	"min_profit_pct":         func(p *config.StrategyParams, v float64) { p.MinProfitPct = v },
	"fee_rate":               func(p *config.StrategyParams, v float64) { p.FeeRate = v },
	"slippage_rate":          func(p *config.StrategyParams, v float64) { p.SlippageRate = v },
	"atr_period":             func(p *config.StrategyParams, v float64) { p.ATRPeriod = int(v) },
	"atr_k":                  func(p *config.StrategyParams, v float64) { p.ATRK = v },
	"risk_per_trade_pct":     func(p *config.StrategyParams, v float64) { p.RiskPerTradePct = v },
	"max_consecutive_losses": func(p *config.StrategyParams, v float64) { p.MaxConsecutiveLosses = int(v) },
	"cooldown_candles":       func(p *config.StrategyParams, v float64) { p.CooldownCandles = int(v) },
	"atr_volatility_ratio":   func(p *config.StrategyParams, v float64) { p.ATRVolatilityRatio = v },
	"ema_fast":               func(p *config.StrategyParams, v float64) { p.EMAFast = int(v) },
	"ema_slow":               func(p *config.StrategyParams, v float64) { p.EMASlow = int(v) },
	"bb_period":              func(p *config.StrategyParams, v float64) { p.BBPeriod = int(v) },
	"bb_std_dev":             func(p *config.StrategyParams, v float64) { p.BBStdDev = v },
	"vol_sma_period":         func(p *config.StrategyParams, v float64) { p.VolSMAPeriod = int(v) },
	"initial_capital":        func(p *config.StrategyParams, v float64) { p.InitialCapital = v },
}

// NewParams applies JSON-style overrides on top of base for the given variant and validates the result.
func NewParams(base config.StrategyParams, strategyType string, overrides map[string]interface{}) (config.StrategyParams, error) {
	p := base
	if strategyType != "" {
		p.Variant = config.Variant(strategyType)
	}
	if !p.Variant.Valid() {
		return config.StrategyParams{}, fmt.Errorf("unknown strategy type: %s", strategyType)
	}

	for key, raw := range overrides {
		setter, ok := overrideSetters[key]
		if !ok {
			return config.StrategyParams{}, fmt.Errorf("unknown parameter %q for %s", key, p.Variant)
		}
		v, ok := raw.(float64)
		if !ok {
			return config.StrategyParams{}, fmt.Errorf("invalid value for %s: need a number", key)
		}
		setter(&p, v)
	}

	if err := p.Validate(); err != nil {
		return config.StrategyParams{}, err
	}
	return p, nil
}
