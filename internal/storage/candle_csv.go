package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"coin-trader/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrNoData is returned when no cached candles exist for a market.
var ErrNoData = errors.New("no cached candle data")

var candleHeader = []string{"datetime", "open", "high", "low", "close", "volume"}

// CandleCache stores hourly candles as data/<market>.csv.
type CandleCache struct {
	dir    string
	logger *zap.Logger
}

func NewCandleCache(dir string, logger *zap.Logger) *CandleCache {
	return &CandleCache{dir: dir, logger: logger}
}

func (c *CandleCache) Path(market string) string {
	return filepath.Join(c.dir, market+".csv")
}

// Save overwrites the cache file for market with candles.
func (c *CandleCache) Save(market string, candles []model.Candle) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	f, err := os.Create(c.Path(market))
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(candleHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, k := range candles {
		row := []string{
			k.Time.UTC().Format(time.DateTime),
			k.Open.String(),
			k.High.String(),
			k.Low.String(),
			k.Close.String(),
			k.Volume.String(),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write candle row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush cache file: %w", err)
	}

	c.logger.Info("saved candles", zap.String("market", market), zap.Int("rows", len(candles)), zap.String("path", c.Path(market)))
	return nil
}

// Load reads the cached candles for market in ascending order. When days > 0 only candles
// newer than the last candle minus days are returned.
func (c *CandleCache) Load(market string, days int) ([]model.Candle, error) {
	f, err := os.Open(c.Path(market))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w for %s", ErrNoData, market)
		}
		return nil, fmt.Errorf("failed to open cache file: %w", err)
	}
	defer f.Close()

	// spreadsheet exports may carry a UTF-8 or UTF-16 byte order mark
	r := transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	candles, err := readCandles(r, market, c.logger)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, market)
	}
	if days > 0 {
		candles = LastDays(candles, days)
	}
	return candles, nil
}

// LoadRecent serves the cache as a candle source. A market without data yields no candles.
func (c *CandleCache) LoadRecent(_ context.Context, market string, days int) ([]model.Candle, error) {
	candles, err := c.Load(market, days)
	if errors.Is(err, ErrNoData) {
		return nil, nil
	}
	return candles, err
}

// LoadCandles returns the cached candles with start <= time <= end.
func (c *CandleCache) LoadCandles(ctx context.Context, market string, start, end time.Time) ([]model.Candle, error) {
	candles, err := c.LoadRecent(ctx, market, 0)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(candles, func(k model.Candle) bool {
		return k.Time.Before(start) || k.Time.After(end)
	}), nil
}

// LastDays keeps candles strictly newer than the last candle's time minus days.
func LastDays(candles []model.Candle, days int) []model.Candle {
	if len(candles) == 0 {
		return candles
	}
	start := candles[len(candles)-1].Time.AddDate(0, 0, -days)
	i, _ := slices.BinarySearchFunc(candles, start, func(c model.Candle, t time.Time) int {
		if c.Time.After(t) {
			return 1
		}
		return -1
	})
	return candles[i:]
}

func readCandles(r io.Reader, market string, logger *zap.Logger) ([]model.Candle, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < len(candleHeader) {
		return nil, fmt.Errorf("unexpected candle header %v", header)
	}

	var candles []model.Candle
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read candle row %d: %w", line, err)
		}
		k, err := parseCandle(rec, market)
		if err != nil {
			logger.Warn("skipping malformed candle row", zap.String("market", market), zap.Int("line", line), zap.Error(err))
			continue
		}
		candles = append(candles, k)
	}

	slices.SortStableFunc(candles, func(a, b model.Candle) int { return a.Time.Compare(b.Time) })
	return slices.CompactFunc(candles, func(a, b model.Candle) bool { return a.Time.Equal(b.Time) }), nil
}

func parseCandle(rec []string, market string) (model.Candle, error) {
	t, err := parseTime(rec[0])
	if err != nil {
		return model.Candle{}, err
	}
	vals := make([]decimal.Decimal, 5)
	for i := range vals {
		vals[i], err = decimal.NewFromString(rec[i+1])
		if err != nil {
			return model.Candle{}, fmt.Errorf("column %s: %w", candleHeader[i+1], err)
		}
	}
	k := model.Candle{
		Market: market,
		Time:   t,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}
	k.ClearIndicators()
	return k, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.DateTime, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable datetime %q", s)
}
