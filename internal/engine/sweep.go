package engine

import (
	"cmp"
	"context"
	"fmt"
	"runtime"
	"slices"
	"time"

	"coin-trader/internal/config"
	"coin-trader/internal/indicator"
	"coin-trader/internal/infrastructure"
	"coin-trader/internal/model"
	"coin-trader/internal/strategy"

	"go.uber.org/zap"
)

// ProviderFactory builds the indicator provider for one parameter combination.
type ProviderFactory func(params config.StrategyParams) indicator.Provider

func TalibFactory(params config.StrategyParams) indicator.Provider {
	return indicator.NewTalibProvider(params)
}

// Sweeper runs one independent simulation per parameter combination.
type Sweeper struct {
	workers     int
	newProvider ProviderFactory
	logger      *zap.Logger
}

func NewSweeper(workers int, newProvider ProviderFactory, logger *zap.Logger) *Sweeper {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if newProvider == nil {
		newProvider = TalibFactory
	}
	return &Sweeper{
		workers:     workers,
		newProvider: newProvider,
		logger:      logger,
	}
}

// Simulate augments a private copy of candles and runs a single backtest over it.
func Simulate(candles []model.Candle, params config.StrategyParams, newProvider ProviderFactory, logger *zap.Logger) model.SimulationResult {
	start := time.Now()
	series := slices.Clone(candles)
	augmented := newProvider(params).Augment(series)
	result := NewBacktester(params, strategy.NewEvaluator(params), logger).Run(augmented)

	infrastructure.BacktestRuns.WithLabelValues(string(params.Variant)).Inc()
	infrastructure.BacktestDuration.WithLabelValues(string(params.Variant)).Observe(time.Since(start).Seconds())
	return result
}

// Run evaluates every combination against candles and returns the results ranked by return.
// candles is shared read-only; every run works on its own copy.
func (s *Sweeper) Run(ctx context.Context, candles []model.Candle, combos []config.StrategyParams) ([]model.SweepResult, error) {
	for i, p := range combos {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("combination %d: %w", i, err)
		}
	}

	results := make([]model.SweepResult, len(combos))
	pool := NewWorkerPool(s.workers, s.workers, func(workerID int, job sweepJob) {
		res := Simulate(job.candles, job.params, s.newProvider, s.logger)
		results[job.index] = model.SweepResult{
			Index:             job.index,
			Params:            job.params,
			ReturnPct:         res.ReturnPct,
			TotalClosedTrades: res.TotalClosedTrades,
			FinalBalance:      res.FinalBalance,
		}
		s.logger.Debug("sweep combination finished",
			zap.Int("worker_id", workerID),
			zap.Int("index", job.index),
			zap.Float64("return_pct", res.ReturnPct),
		)
	}, s.logger)

	pool.Start(ctx)
	for i, p := range combos {
		if err := pool.Submit(ctx, sweepJob{index: i, params: p, candles: candles}); err != nil {
			pool.Close()
			pool.Wait()
			return nil, err
		}
	}
	pool.Close()
	pool.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infrastructure.SweepCombinations.Add(float64(len(combos)))

	Rank(results)
	return results, nil
}

// Rank orders results by return descending, keeping submission order on ties.
func Rank(results []model.SweepResult) {
	slices.SortStableFunc(results, func(a, b model.SweepResult) int {
		return cmp.Compare(b.ReturnPct, a.ReturnPct)
	})
}

func Best(results []model.SweepResult) (model.SweepResult, bool) {
	if len(results) == 0 {
		return model.SweepResult{}, false
	}
	return results[0], true
}
