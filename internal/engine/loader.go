package engine

import (
	"context"
	"fmt"
	"time"

	"coin-trader/internal/model"

	"github.com/jackc/pgx/v4/pgxpool"
)

// DataLoader reads persisted candles for a market, ordered ascending by time.
type DataLoader struct {
	pool *pgxpool.Pool
}

func NewDataLoader(pool *pgxpool.Pool) *DataLoader {
	return &DataLoader{pool: pool}
}

func (l *DataLoader) LoadCandles(ctx context.Context, market string, start, end time.Time) ([]model.Candle, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT time, market, open, high, low, close, volume
		FROM market_candles
		WHERE market = $1 AND time >= $2 AND time <= $3
		ORDER BY time ASC`,
		market, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Time, &c.Market, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// LoadRecent loads the last days of candles counted back from the newest stored candle.
func (l *DataLoader) LoadRecent(ctx context.Context, market string, days int) ([]model.Candle, error) {
	var last time.Time
	err := l.pool.QueryRow(ctx, `SELECT COALESCE(MAX(time), 'epoch'::timestamptz) FROM market_candles WHERE market = $1`, market).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest candle: %w", err)
	}
	start := last.AddDate(0, 0, -days)
	return l.LoadCandles(ctx, market, start.Add(time.Nanosecond), last)
}
