package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"coin-trader/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInsufficientBalance is returned by the mock exchange when an order exceeds the holdings.
var ErrInsufficientBalance = errors.New("insufficient balance")

// MockInitialKRW seeds a new mock portfolio.
var MockInitialKRW = decimal.NewFromInt(10_000_000)

// MarketData is the read-only part of an exchange.
type MarketData interface {
	GetOHLCV(ctx context.Context, market string, unit, days int) ([]model.Candle, error)
	GetCurrentPrice(ctx context.Context, market string) (decimal.Decimal, error)
}

// MockExchange fills market orders at the live ticker price against a JSON portfolio file.
type MockExchange struct {
	data    MarketData
	path    string
	feeRate decimal.Decimal
	logger  *zap.Logger
	mu      sync.Mutex
}

func NewMockExchange(data MarketData, portfolioPath string, feeRate float64, logger *zap.Logger) (*MockExchange, error) {
	m := &MockExchange{
		data:    data,
		path:    portfolioPath,
		feeRate: decimal.NewFromFloat(feeRate),
		logger:  logger,
	}
	if _, err := os.Stat(portfolioPath); errors.Is(err, os.ErrNotExist) {
		if err := m.save(map[string]decimal.Decimal{"KRW": MockInitialKRW}); err != nil {
			return nil, err
		}
		logger.Info("initialized mock portfolio", zap.String("path", portfolioPath), zap.String("krw", MockInitialKRW.String()))
	}
	return m, nil
}

func (m *MockExchange) GetOHLCV(ctx context.Context, market string, unit, days int) ([]model.Candle, error) {
	return m.data.GetOHLCV(ctx, market, unit, days)
}

func (m *MockExchange) GetCurrentPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	return m.data.GetCurrentPrice(ctx, market)
}

func (m *MockExchange) GetBalance(_ context.Context, currency string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.load()
	if err != nil {
		return decimal.Zero, err
	}
	return p[currency], nil
}

func (m *MockExchange) BuyMarket(ctx context.Context, market string, krwAmount decimal.Decimal) (model.Fill, error) {
	price, err := m.data.GetCurrentPrice(ctx, market)
	if err != nil {
		return model.Fill{}, fmt.Errorf("failed to price mock buy: %w", err)
	}
	if !price.IsPositive() || !krwAmount.IsPositive() {
		return model.Fill{}, fmt.Errorf("invalid mock buy: amount %s at %s", krwAmount, price)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.load()
	if err != nil {
		return model.Fill{}, err
	}
	if p["KRW"].LessThan(krwAmount) {
		return model.Fill{}, fmt.Errorf("%w: KRW %s < %s", ErrInsufficientBalance, p["KRW"], krwAmount)
	}

	fee := krwAmount.Mul(m.feeRate)
	volume := krwAmount.Sub(fee).Div(price).Truncate(8)
	coin := currencyOf(market)
	p["KRW"] = p["KRW"].Sub(krwAmount)
	p[coin] = p[coin].Add(volume)
	if err := m.save(p); err != nil {
		return model.Fill{}, err
	}
	return m.fill(model.TradeBuy, price, volume, fee), nil
}

func (m *MockExchange) SellMarket(ctx context.Context, market string, volume decimal.Decimal) (model.Fill, error) {
	price, err := m.data.GetCurrentPrice(ctx, market)
	if err != nil {
		return model.Fill{}, fmt.Errorf("failed to price mock sell: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.load()
	if err != nil {
		return model.Fill{}, err
	}
	coin := currencyOf(market)
	if p[coin].LessThan(volume) {
		return model.Fill{}, fmt.Errorf("%w: %s %s < %s", ErrInsufficientBalance, coin, p[coin], volume)
	}

	value := volume.Mul(price)
	fee := value.Mul(m.feeRate)
	p[coin] = p[coin].Sub(volume)
	p["KRW"] = p["KRW"].Add(value.Sub(fee))
	if err := m.save(p); err != nil {
		return model.Fill{}, err
	}
	return m.fill(model.TradeSell, price, volume, fee), nil
}

func (m *MockExchange) fill(side model.TradeType, price, volume, fee decimal.Decimal) model.Fill {
	f := model.Fill{
		OrderID:  "mock-" + uuid.NewString(),
		Side:     side,
		Price:    price,
		Quantity: volume,
		Fee:      fee,
		Time:     time.Now(),
	}
	m.logger.Info("mock order filled",
		zap.String("side", string(side)),
		zap.String("price", price.String()),
		zap.String("volume", volume.String()),
		zap.String("fee", fee.String()),
	)
	return f
}

func (m *MockExchange) load() (map[string]decimal.Decimal, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mock portfolio: %w", err)
	}
	p := make(map[string]decimal.Decimal)
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode mock portfolio: %w", err)
	}
	return p, nil
}

func (m *MockExchange) save(p map[string]decimal.Decimal) error {
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create portfolio dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode mock portfolio: %w", err)
	}
	return os.WriteFile(m.path, data, 0o644)
}

// currencyOf returns the coin symbol of a quote-base market such as KRW-BTC.
func currencyOf(market string) string {
	if _, coin, ok := strings.Cut(market, "-"); ok {
		return coin
	}
	return market
}
