package engine

import (
	"fmt"
	"os"

	"coin-trader/internal/config"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// RangeSpec is an inclusive integer range.
type RangeSpec struct {
	From int `yaml:"from" json:"from"`
	To   int `yaml:"to" json:"to"`
	Step int `yaml:"step" json:"step"`
}

// GridSpec describes a sweep as value lists per parameter. Empty lists keep the base value.
type GridSpec struct {
	RSIOversold   *RangeSpec `yaml:"rsi_oversold" json:"rsi_oversold,omitempty"`
	StopLossPct   []float64  `yaml:"stop_loss_pct" json:"stop_loss_pct,omitempty"`
	TakeProfitPct []float64  `yaml:"take_profit_pct" json:"take_profit_pct,omitempty"`
	MaxHoldDays   []float64  `yaml:"max_hold_days" json:"max_hold_days,omitempty"`
	ATRK          []float64  `yaml:"atr_k" json:"atr_k,omitempty"`
}

func LoadGrid(path string) (GridSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return GridSpec{}, fmt.Errorf("failed to read grid file: %w", err)
	}
	var spec GridSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return GridSpec{}, fmt.Errorf("failed to parse grid file: %w", err)
	}
	if r := spec.RSIOversold; r != nil && (r.Step <= 0 || r.From > r.To) {
		return GridSpec{}, fmt.Errorf("%w: invalid rsi_oversold range %d..%d step %d", config.ErrInvalidParams, r.From, r.To, r.Step)
	}
	return spec, nil
}

// RSIGrid varies the oversold threshold from..to inclusive.
func RSIGrid(base config.StrategyParams, from, to, step int) []config.StrategyParams {
	if step <= 0 || from > to {
		return nil
	}
	return lo.Map(lo.RangeWithSteps(from, to+1, step), func(v int, _ int) config.StrategyParams {
		p := base
		p.RSIOversold = float64(v)
		return p
	})
}

// ExitGrid is the cross product of stop-loss, take-profit and max-hold values.
func ExitGrid(base config.StrategyParams, stopLoss, takeProfit, maxHold []float64) []config.StrategyParams {
	return lo.CrossJoinBy3(
		orDefault(stopLoss, base.StopLossPct),
		orDefault(takeProfit, base.TakeProfitPct),
		orDefault(maxHold, base.MaxHoldDays),
		func(sl, tp, mh float64) config.StrategyParams {
			p := base
			p.StopLossPct = sl
			p.TakeProfitPct = tp
			p.MaxHoldDays = mh
			return p
		},
	)
}

func (g GridSpec) Combinations(base config.StrategyParams) []config.StrategyParams {
	combos := []config.StrategyParams{base}

	if r := g.RSIOversold; r != nil {
		combos = lo.FlatMap(combos, func(p config.StrategyParams, _ int) []config.StrategyParams {
			return RSIGrid(p, r.From, r.To, r.Step)
		})
	}
	if len(g.StopLossPct) > 0 || len(g.TakeProfitPct) > 0 || len(g.MaxHoldDays) > 0 {
		combos = lo.FlatMap(combos, func(p config.StrategyParams, _ int) []config.StrategyParams {
			return ExitGrid(p, g.StopLossPct, g.TakeProfitPct, g.MaxHoldDays)
		})
	}
	if len(g.ATRK) > 0 {
		combos = lo.FlatMap(combos, func(p config.StrategyParams, _ int) []config.StrategyParams {
			return lo.Map(g.ATRK, func(k float64, _ int) config.StrategyParams {
				q := p
				q.ATRK = k
				return q
			})
		})
	}
	return combos
}

func orDefault(values []float64, fallback float64) []float64 {
	if len(values) == 0 {
		return []float64{fallback}
	}
	return values
}
