package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

var ErrInvalidParams = errors.New("invalid strategy params")

// Variant selects which entry and exit rule set a run uses.
type Variant string

const (
	// VariantMeanReversion enters on MACD/RSI oversold and exits on fixed percentages.
	VariantMeanReversion Variant = "mean_reversion"
	// VariantTrendFollowing enters on EMA/Bollinger breakouts and exits on ATR stops with cooldown.
	VariantTrendFollowing Variant = "trend_following"
)

func (v Variant) Valid() bool {
	return v == VariantMeanReversion || v == VariantTrendFollowing
}

// StrategyParams is the immutable parameter set of one simulation run.
// Sweeps copy it and change a few fields per combination.
type StrategyParams struct {
	Variant Variant `mapstructure:"STRATEGY_VARIANT" yaml:"variant" json:"variant"`

	RSIOversold float64 `mapstructure:"RSI_OVERSOLD" yaml:"rsi_oversold" json:"rsi_oversold"`
	RSIPeriod   int     `mapstructure:"RSI_PERIOD" yaml:"rsi_period" json:"rsi_period"`
	MACDFast    int     `mapstructure:"MACD_FAST" yaml:"macd_fast" json:"macd_fast"`
	MACDSlow    int     `mapstructure:"MACD_SLOW" yaml:"macd_slow" json:"macd_slow"`
	MACDSignal  int     `mapstructure:"MACD_SIGNAL" yaml:"macd_signal" json:"macd_signal"`

	StopLossPct   float64 `mapstructure:"STOP_LOSS_PCT" yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct float64 `mapstructure:"TAKE_PROFIT_PCT" yaml:"take_profit_pct" json:"take_profit_pct"`
	MaxHoldDays   float64 `mapstructure:"MAX_HOLD_DAYS" yaml:"max_hold_days" json:"max_hold_days"`
	MinProfitPct  float64 `mapstructure:"MIN_PROFIT_PCT" yaml:"min_profit_pct" json:"min_profit_pct"`

	FeeRate      float64 `mapstructure:"TRADE_FEE_RATE" yaml:"fee_rate" json:"fee_rate"`
	SlippageRate float64 `mapstructure:"SLIPPAGE_RATE" yaml:"slippage_rate" json:"slippage_rate"`

	ATRPeriod            int     `mapstructure:"ATR_PERIOD" yaml:"atr_period" json:"atr_period"`
	ATRK                 float64 `mapstructure:"ATR_K" yaml:"atr_k" json:"atr_k"`
	RiskPerTradePct      float64 `mapstructure:"RISK_PER_TRADE_PCT" yaml:"risk_per_trade_pct" json:"risk_per_trade_pct"`
	MaxConsecutiveLosses int     `mapstructure:"MAX_CONSECUTIVE_LOSSES" yaml:"max_consecutive_losses" json:"max_consecutive_losses"`
	CooldownCandles      int     `mapstructure:"COOLDOWN_CANDLES" yaml:"cooldown_candles" json:"cooldown_candles"`
	ATRVolatilityRatio   float64 `mapstructure:"ATR_VOLATILITY_RATIO" yaml:"atr_volatility_ratio" json:"atr_volatility_ratio"`
	ATRRatioLookback     int     `mapstructure:"ATR_RATIO_LOOKBACK" yaml:"atr_ratio_lookback" json:"atr_ratio_lookback"`

	EMAFast      int     `mapstructure:"EMA_FAST" yaml:"ema_fast" json:"ema_fast"`
	EMASlow      int     `mapstructure:"EMA_SLOW" yaml:"ema_slow" json:"ema_slow"`
	BBPeriod     int     `mapstructure:"BB_PERIOD" yaml:"bb_period" json:"bb_period"`
	BBStdDev     float64 `mapstructure:"BB_STD_DEV" yaml:"bb_std_dev" json:"bb_std_dev"`
	VolSMAPeriod int     `mapstructure:"VOL_SMA_PERIOD" yaml:"vol_sma_period" json:"vol_sma_period"`

	InitialCapital float64       `mapstructure:"INITIAL_CAPITAL" yaml:"initial_capital" json:"initial_capital"`
	MinOrderValue  float64       `mapstructure:"MIN_ORDER_VALUE" yaml:"min_order_value" json:"min_order_value"`
	Interval       time.Duration `mapstructure:"CANDLE_INTERVAL" yaml:"interval" json:"interval"`
}

var defaultParams = StrategyParams{
	Variant:              VariantTrendFollowing,
	RSIOversold:          30,
	RSIPeriod:            14,
	MACDFast:             12,
	MACDSlow:             26,
	MACDSignal:           9,
	StopLossPct:          3.0,
	TakeProfitPct:        35.0,
	MaxHoldDays:          5,
	MinProfitPct:         1.0,
	FeeRate:              0.0005, // Upbit KRW market fee
	SlippageRate:         0.0005,
	ATRPeriod:            14,
	ATRK:                 1.5,
	RiskPerTradePct:      1.0,
	MaxConsecutiveLosses: 3,
	CooldownCandles:      5,
	ATRVolatilityRatio:   2.0,
	ATRRatioLookback:     5,
	EMAFast:              20,
	EMASlow:              50,
	BBPeriod:             20,
	BBStdDev:             2.0,
	VolSMAPeriod:         20,
	InitialCapital:       1000000,
	MinOrderValue:        5000,
	Interval:             time.Hour,
}

func DefaultParams() StrategyParams {
	return defaultParams
}

func setStrategyDefaults(v *viper.Viper) {
	d := defaultParams
	v.SetDefault("STRATEGY_VARIANT", string(d.Variant))
	v.SetDefault("RSI_OVERSOLD", d.RSIOversold)
	v.SetDefault("RSI_PERIOD", d.RSIPeriod)
	v.SetDefault("MACD_FAST", d.MACDFast)
	v.SetDefault("MACD_SLOW", d.MACDSlow)
	v.SetDefault("MACD_SIGNAL", d.MACDSignal)
	v.SetDefault("STOP_LOSS_PCT", d.StopLossPct)
	v.SetDefault("TAKE_PROFIT_PCT", d.TakeProfitPct)
	v.SetDefault("MAX_HOLD_DAYS", d.MaxHoldDays)
	v.SetDefault("MIN_PROFIT_PCT", d.MinProfitPct)
	v.SetDefault("TRADE_FEE_RATE", d.FeeRate)
	v.SetDefault("SLIPPAGE_RATE", d.SlippageRate)
	v.SetDefault("ATR_PERIOD", d.ATRPeriod)
	v.SetDefault("ATR_K", d.ATRK)
	v.SetDefault("RISK_PER_TRADE_PCT", d.RiskPerTradePct)
	v.SetDefault("MAX_CONSECUTIVE_LOSSES", d.MaxConsecutiveLosses)
	v.SetDefault("COOLDOWN_CANDLES", d.CooldownCandles)
	v.SetDefault("ATR_VOLATILITY_RATIO", d.ATRVolatilityRatio)
	v.SetDefault("ATR_RATIO_LOOKBACK", d.ATRRatioLookback)
	v.SetDefault("EMA_FAST", d.EMAFast)
	v.SetDefault("EMA_SLOW", d.EMASlow)
	v.SetDefault("BB_PERIOD", d.BBPeriod)
	v.SetDefault("BB_STD_DEV", d.BBStdDev)
	v.SetDefault("VOL_SMA_PERIOD", d.VolSMAPeriod)
	v.SetDefault("INITIAL_CAPITAL", d.InitialCapital)
	v.SetDefault("MIN_ORDER_VALUE", d.MinOrderValue)
	v.SetDefault("CANDLE_INTERVAL", d.Interval.String())
}

// Validate rejects parameter sets that would make a run meaningless.
// It is meant to be called once at startup or request time, never inside a run.
func (p StrategyParams) Validate() error {
	switch {
	case !p.Variant.Valid():
		return fmt.Errorf("%w: unknown variant %q", ErrInvalidParams, p.Variant)
	case p.RSIPeriod < 2:
		return fmt.Errorf("%w: rsi_period must be >= 2", ErrInvalidParams)
	case p.RSIOversold <= 0 || p.RSIOversold >= 100:
		return fmt.Errorf("%w: rsi_oversold must be in (0, 100)", ErrInvalidParams)
	case p.MACDFast < 1 || p.MACDSlow < 1 || p.MACDSignal < 1:
		return fmt.Errorf("%w: macd periods must be positive", ErrInvalidParams)
	case p.MACDFast >= p.MACDSlow:
		return fmt.Errorf("%w: macd_fast must be < macd_slow", ErrInvalidParams)
	case p.EMAFast < 1 || p.EMAFast >= p.EMASlow:
		return fmt.Errorf("%w: ema_fast must be positive and < ema_slow", ErrInvalidParams)
	case p.ATRPeriod < 1 || p.BBPeriod < 2 || p.VolSMAPeriod < 1:
		return fmt.Errorf("%w: atr, bollinger and volume periods must be positive", ErrInvalidParams)
	case p.ATRRatioLookback < 1:
		return fmt.Errorf("%w: atr_ratio_lookback must be positive", ErrInvalidParams)
	case p.BBStdDev <= 0:
		return fmt.Errorf("%w: bb_std_dev must be positive", ErrInvalidParams)
	case p.FeeRate < 0 || p.FeeRate >= 1 || p.SlippageRate < 0 || p.SlippageRate >= 1:
		return fmt.Errorf("%w: fee and slippage rates must be in [0, 1)", ErrInvalidParams)
	case p.StopLossPct <= 0 || p.TakeProfitPct <= 0 || p.MaxHoldDays <= 0:
		return fmt.Errorf("%w: stop loss, take profit and max hold must be positive", ErrInvalidParams)
	case p.ATRK <= 0 || p.RiskPerTradePct <= 0 || p.RiskPerTradePct > 100:
		return fmt.Errorf("%w: atr_k must be positive and risk_per_trade_pct in (0, 100]", ErrInvalidParams)
	case p.MaxConsecutiveLosses < 1 || p.CooldownCandles < 0:
		return fmt.Errorf("%w: invalid cooldown settings", ErrInvalidParams)
	case p.InitialCapital <= 0 || p.MinOrderValue < 0:
		return fmt.Errorf("%w: initial_capital must be positive", ErrInvalidParams)
	case p.Interval <= 0:
		return fmt.Errorf("%w: candle interval must be positive", ErrInvalidParams)
	}
	return nil
}
