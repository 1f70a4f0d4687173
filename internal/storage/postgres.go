package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coin-trader/internal/config"
	"coin-trader/internal/infrastructure"
	"coin-trader/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

// CandleSaver upserts candles into market_candles in batches.
type CandleSaver struct {
	pool      *pgxpool.Pool
	logger    *zap.Logger
	batchSize int
}

func NewCandleSaver(pool *pgxpool.Pool, logger *zap.Logger, batchSize int) *CandleSaver {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &CandleSaver{pool: pool, logger: logger, batchSize: batchSize}
}

func (s *CandleSaver) Save(ctx context.Context, candles []model.Candle) error {
	for start := 0; start < len(candles); start += s.batchSize {
		end := min(start+s.batchSize, len(candles))
		if err := s.flush(ctx, candles[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *CandleSaver) flush(ctx context.Context, candles []model.Candle) error {
	batch := &pgx.Batch{}
	for _, k := range candles {
		batch.Queue(`
			INSERT INTO market_candles (time, market, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (market, time) DO UPDATE SET
				open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
				close = EXCLUDED.close, volume = EXCLUDED.volume`,
			k.Time, k.Market, k.Open, k.High, k.Low, k.Close, k.Volume)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range candles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert candle: %w", err)
		}
	}
	infrastructure.DBInsertRate.WithLabelValues("market_candles").Add(float64(len(candles)))
	s.logger.Debug("flushed candles", zap.Int("count", len(candles)))
	return nil
}

// RunRecord is one persisted backtest run.
type RunRecord struct {
	ID                string                `json:"id"`
	Market            string                `json:"market"`
	Params            config.StrategyParams `json:"params"`
	ReturnPct         float64               `json:"return_pct"`
	TotalClosedTrades int                   `json:"total_closed_trades"`
	FinalBalance      string                `json:"final_balance"`
	CreatedAt         time.Time             `json:"created_at"`
}

// RunStore records backtest runs in backtest_runs.
type RunStore struct {
	pool *pgxpool.Pool
}

func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

func (s *RunStore) SaveRun(ctx context.Context, params config.StrategyParams, res model.SimulationResult) (string, error) {
	id := uuid.NewString()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	tradesJSON, err := json.Marshal(res.Trades)
	if err != nil {
		return "", fmt.Errorf("failed to encode trades: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO backtest_runs (id, market, variant, params, trades, return_pct, total_trades, final_balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
		id, res.Market, res.Variant, paramsJSON, tradesJSON, res.ReturnPct, res.TotalClosedTrades, res.FinalBalance)
	if err != nil {
		return "", fmt.Errorf("failed to save backtest run: %w", err)
	}
	infrastructure.DBInsertRate.WithLabelValues("backtest_runs").Inc()
	return id, nil
}

func (s *RunStore) RecentRuns(ctx context.Context, market string, limit int) ([]RunRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, market, params, return_pct, total_trades, final_balance::text, created_at
		FROM backtest_runs WHERE market = $1 ORDER BY created_at DESC LIMIT $2`,
		market, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0)
	for rows.Next() {
		var r RunRecord
		var paramsJSON []byte
		if err := rows.Scan(&r.ID, &r.Market, &paramsJSON, &r.ReturnPct, &r.TotalClosedTrades, &r.FinalBalance, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
			return nil, fmt.Errorf("failed to decode run params: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PGStateStore keeps the live trader state in trader_state.
type PGStateStore struct {
	pool *pgxpool.Pool
}

func NewPGStateStore(pool *pgxpool.Pool) *PGStateStore {
	return &PGStateStore{pool: pool}
}

func (s *PGStateStore) Load(ctx context.Context, market string) (*model.LiveState, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM trader_state WHERE market = $1`, market).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load trader state: %w", err)
	}
	var st model.LiveState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode trader state: %w", err)
	}
	return &st, nil
}

func (s *PGStateStore) Save(ctx context.Context, st model.LiveState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode trader state: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO trader_state (market, state, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (market) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		st.Market, data, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save trader state: %w", err)
	}
	return nil
}

// EventStore appends published trader events to trader_events.
type EventStore struct {
	pool *pgxpool.Pool
}

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func (s *EventStore) Save(ctx context.Context, ev model.TraderEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trader_events (market, type, time, price, quantity, pnl, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.Market, string(ev.Type), ev.Time, ev.Price, ev.Quantity, ev.PnL, ev.Reason)
	if err != nil {
		return fmt.Errorf("failed to save trader event: %w", err)
	}
	infrastructure.DBInsertRate.WithLabelValues("trader_events").Inc()
	return nil
}
