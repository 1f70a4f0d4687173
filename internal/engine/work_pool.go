package engine

import (
	"context"
	"sync"

	"coin-trader/internal/config"
	"coin-trader/internal/model"

	"go.uber.org/zap"
)

type sweepJob struct {
	index   int
	params  config.StrategyParams
	candles []model.Candle
}

// WorkerPool runs sweep jobs on a fixed number of goroutines.
type WorkerPool struct {
	jobQueue    chan sweepJob
	workerCount int
	handler     func(workerID int, job sweepJob)
	logger      *zap.Logger
	wg          sync.WaitGroup
}

func NewWorkerPool(workerCount int, bufferSize int, handler func(workerID int, job sweepJob), logger *zap.Logger) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &WorkerPool{
		jobQueue:    make(chan sweepJob, bufferSize),
		workerCount: workerCount,
		handler:     handler,
		logger:      logger,
	}
}

func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Debug("started worker pool", zap.Int("workers", p.workerCount))
}

// Submit blocks until the job is queued or ctx is cancelled. Sweep jobs are never dropped.
func (p *WorkerPool) Submit(ctx context.Context, job sweepJob) error {
	select {
	case p.jobQueue <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs; Wait returns once queued jobs are drained.
func (p *WorkerPool) Close() {
	close(p.jobQueue)
}

func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.handler(id, job)
		}
	}
}
