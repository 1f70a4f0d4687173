package trader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coin-trader/internal/config"
	"coin-trader/internal/engine"
	"coin-trader/internal/indicator"
	"coin-trader/internal/infrastructure"
	"coin-trader/internal/model"
	"coin-trader/internal/notify"
	"coin-trader/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// CandleUnit is the candle width in minutes fetched on every cycle.
	CandleUnit = 60
	// LookbackDays covers the indicator warm-up of the slowest default indicator.
	LookbackDays = 10
)

var (
	// MinBuyKRW is the smallest KRW balance worth a market buy, above the exchange's 5000 KRW minimum.
	MinBuyKRW = decimal.NewFromInt(5500)

	ErrNoCandles = errors.New("no candle data")
)

// Exchange is everything a live cycle needs from an account, real or mock.
type Exchange interface {
	GetOHLCV(ctx context.Context, market string, unit, days int) ([]model.Candle, error)
	GetCurrentPrice(ctx context.Context, market string) (decimal.Decimal, error)
	GetBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	BuyMarket(ctx context.Context, market string, krwAmount decimal.Decimal) (model.Fill, error)
	SellMarket(ctx context.Context, market string, volume decimal.Decimal) (model.Fill, error)
}

// StateStore persists the open position and risk counters between restarts.
type StateStore interface {
	Load(ctx context.Context, market string) (*model.LiveState, error)
	Save(ctx context.Context, st model.LiveState) error
}

// Trader runs the backtest rules against a live account, one cycle per candle.
type Trader struct {
	market   string
	params   config.StrategyParams
	exchange Exchange
	store    StateStore
	notifier notify.Notifier
	events   EventPublisher
	provider indicator.Provider
	signal   strategy.Signal
	machine  *engine.PositionMachine
	logger   *zap.Logger
	now      func() time.Time

	state model.LiveState
}

func NewTrader(market string, params config.StrategyParams, exchange Exchange, store StateStore, notifier notify.Notifier, logger *zap.Logger) *Trader {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Trader{
		market:   market,
		params:   params,
		exchange: exchange,
		store:    store,
		notifier: notifier,
		events:   nopPublisher{},
		provider: indicator.NewTalibProvider(params),
		signal:   strategy.NewEvaluator(params),
		machine:  engine.NewLivePositionMachine(params),
		logger:   logger.With(zap.String("market", market)),
		now:      time.Now,
		state:    model.LiveState{Market: market},
	}
}

// WithEvents publishes every signal, fill and cycle error through p.
func (t *Trader) WithEvents(p EventPublisher) *Trader {
	if p != nil {
		t.events = p
	}
	return t
}

// State returns a copy of the current live state.
func (t *Trader) State() model.LiveState {
	st := t.state
	if st.Position != nil {
		pos := *st.Position
		st.Position = &pos
	}
	return st
}

// Restore loads persisted state. Without any, an existing coin holding worth more than the
// exchange minimum is adopted as a position entered at the current price.
func (t *Trader) Restore(ctx context.Context) error {
	st, err := t.store.Load(ctx, t.market)
	if err != nil {
		return fmt.Errorf("failed to load trader state: %w", err)
	}
	if st != nil {
		t.state = *st
		t.state.Market = t.market
		if t.state.Position != nil {
			t.logger.Info("restored open position",
				zap.String("entry_price", t.state.Position.EntryPrice.String()),
				zap.String("quantity", t.state.Position.Quantity.String()),
				zap.Time("entry_time", t.state.Position.EntryTime))
		}
		return nil
	}

	holding, err := t.exchange.GetBalance(ctx, currencyOf(t.market))
	if err != nil {
		return fmt.Errorf("failed to get coin balance: %w", err)
	}
	if !holding.IsPositive() {
		return nil
	}
	price, err := t.exchange.GetCurrentPrice(ctx, t.market)
	if err != nil {
		return fmt.Errorf("failed to get current price: %w", err)
	}
	if holding.Mul(price).LessThanOrEqual(decimal.NewFromFloat(t.params.MinOrderValue)) {
		return nil
	}

	t.state.Position = &model.Position{
		EntryPrice:   price,
		Quantity:     holding,
		EntryTime:    t.now(),
		EntryATR:     t.adoptedATR(ctx),
		HighestPrice: price,
	}
	t.logger.Warn("adopted existing holding without saved state, entry set to current price",
		zap.String("quantity", holding.String()),
		zap.String("price", price.String()),
		zap.Float64("entry_atr", t.state.Position.EntryATR))
	return t.save(ctx)
}

// adoptedATR is the ATR an adopted trend position uses for its stops: the latest candle's
// previous ATR, falling back to its own. Zero when neither is known, which leaves the ATR exits off.
func (t *Trader) adoptedATR(ctx context.Context) float64 {
	if t.params.Variant != config.VariantTrendFollowing {
		return 0
	}
	candles, err := t.exchange.GetOHLCV(ctx, t.market, CandleUnit, LookbackDays)
	if err != nil || len(candles) == 0 {
		t.logger.Warn("no candles for adopted position, ATR stops disabled until re-entry", zap.Error(err))
		return 0
	}
	last := t.provider.Augment(candles)[len(candles)-1]
	for _, atr := range []float64{last.PrevATR, last.ATR} {
		if !model.Undefined(atr) && atr > 0 {
			return atr
		}
	}
	t.logger.Warn("ATR undefined on latest candle, ATR stops disabled until re-entry")
	return 0
}

// RunCycle fetches fresh candles, manages the open position and evaluates a new entry on the
// latest candle. At most one order is placed per cycle.
func (t *Trader) RunCycle(ctx context.Context) error {
	candles, err := t.exchange.GetOHLCV(ctx, t.market, CandleUnit, LookbackDays)
	if err != nil {
		return fmt.Errorf("failed to fetch candles: %w", err)
	}
	if len(candles) == 0 {
		return ErrNoCandles
	}

	augmented := t.provider.Augment(candles)
	last := augmented[len(augmented)-1]
	now := t.now()

	t.logger.Info("trading cycle",
		zap.String("price", last.Close.String()),
		zap.Float64("rsi", last.RSI),
		zap.Float64("macd", last.MACD),
		zap.Bool("in_position", t.state.Position != nil))

	if pos := t.state.Position; pos != nil {
		return t.manage(ctx, pos, last.Close, now)
	}
	return t.evaluateEntry(ctx, last, now)
}

func (t *Trader) manage(ctx context.Context, pos *model.Position, price decimal.Decimal, now time.Time) error {
	pos.Observe(price)
	reason, ok := t.machine.ExitReason(pos, price, now)
	if !ok {
		t.logger.Debug("holding position",
			zap.Float64("pnl_pct", pos.PnLPct(price)),
			zap.String("trailing_stop", t.machine.TrailingStopPrice(pos).String()))
		return t.save(ctx)
	}
	return t.sell(ctx, pos, reason, now)
}

func (t *Trader) evaluateEntry(ctx context.Context, last model.Candle, now time.Time) error {
	if t.state.Risk.InCooldown(now) {
		t.logger.Info("entries paused by cooldown", zap.Time("until", *t.state.Risk.CooldownUntil))
		return nil
	}
	if !t.signal.Ready(last) {
		t.logger.Warn("indicators not ready on latest candle, skipping entry")
		return nil
	}
	if !t.signal.ShouldEnter(last) {
		t.logger.Info("no buy signal")
		return nil
	}

	t.logger.Info("buy signal detected")
	t.notify(fmt.Sprintf("Buy signal detected (%s)\nPrice: %s\nRSI: %.2f\nMACD: %.2f",
		t.signal.Name(), last.Close.String(), last.RSI, last.MACD))
	t.publish(ctx, model.TraderEvent{Type: model.EventSignal, Time: now, Price: last.Close})

	return t.buy(ctx, last, now)
}

func (t *Trader) buy(ctx context.Context, last model.Candle, now time.Time) error {
	krw, err := t.exchange.GetBalance(ctx, "KRW")
	if err != nil {
		return fmt.Errorf("failed to get KRW balance: %w", err)
	}

	amount, ok := t.orderAmount(krw, last)
	if !ok {
		return nil
	}

	fill, err := t.exchange.BuyMarket(ctx, t.market, amount)
	if err != nil {
		return fmt.Errorf("failed to place buy order: %w", err)
	}
	infrastructure.OrdersPlaced.WithLabelValues(t.market, string(model.TradeBuy)).Inc()

	entryATR := last.PrevATR
	if model.Undefined(entryATR) {
		entryATR = 0
	}
	t.state.Position = &model.Position{
		EntryPrice:   fill.Price,
		Quantity:     fill.Quantity,
		EntryTime:    now,
		EntryATR:     entryATR,
		HighestPrice: fill.Price,
	}
	if err := t.save(ctx); err != nil {
		return err
	}

	t.logger.Info("buy executed",
		zap.String("order_id", fill.OrderID),
		zap.String("price", fill.Price.String()),
		zap.String("quantity", fill.Quantity.String()),
		zap.String("fee", fill.Fee.String()))
	t.notify(fmt.Sprintf("BUY executed\nAmount: %s KRW\nPrice: %s\nVolume: %s",
		amount.String(), fill.Price.String(), fill.Quantity.String()))
	t.publish(ctx, model.TraderEvent{Type: model.EventBuy, Time: now, Price: fill.Price, Quantity: fill.Quantity})
	return nil
}

// orderAmount is the KRW to spend on a market buy. The fixed-fraction variant spends the whole
// balance net of fee; the ATR variant spends what its risk sizing allows at the latest close.
func (t *Trader) orderAmount(krw decimal.Decimal, last model.Candle) (decimal.Decimal, bool) {
	if krw.LessThan(MinBuyKRW) {
		t.logger.Warn("insufficient KRW balance to buy", zap.String("krw", krw.String()))
		return decimal.Zero, false
	}

	if t.params.Variant == config.VariantTrendFollowing {
		qty, ok := t.machine.Size(krw, last)
		if !ok {
			t.logger.Info("position sizing rejected entry", zap.Float64("prev_atr", last.PrevATR))
			return decimal.Zero, false
		}
		return qty.Mul(t.machine.BuyPrice(last.Close)).Floor(), true
	}

	return krw.Sub(t.machine.Fee(krw)).Floor(), true
}

func (t *Trader) sell(ctx context.Context, pos *model.Position, reason model.ExitReason, now time.Time) error {
	fill, err := t.exchange.SellMarket(ctx, t.market, pos.Quantity)
	if err != nil {
		return fmt.Errorf("failed to place sell order: %w", err)
	}
	infrastructure.OrdersPlaced.WithLabelValues(t.market, string(model.TradeSell)).Inc()

	proceeds := fill.Price.Mul(fill.Quantity).Sub(fill.Fee)
	pnl := proceeds.Sub(fill.Quantity.Mul(pos.EntryPrice))
	pnlPct := pos.PnLPct(fill.Price)

	t.machine.RecordExit(&t.state.Risk, reason, now)
	t.state.Position = nil
	if err := t.save(ctx); err != nil {
		return err
	}

	t.logger.Info("sell executed",
		zap.String("reason", string(reason)),
		zap.String("order_id", fill.OrderID),
		zap.String("price", fill.Price.String()),
		zap.String("pnl", pnl.StringFixed(0)),
		zap.Float64("pnl_pct", pnlPct))
	t.notify(fmt.Sprintf("SELL executed\nReason: %s (%.2f%%)\nVolume: %s\nPnL: %s KRW",
		reason, pnlPct, fill.Quantity.String(), pnl.StringFixed(0)))
	t.publish(ctx, model.TraderEvent{
		Type:     model.EventSell,
		Time:     now,
		Price:    fill.Price,
		Quantity: fill.Quantity,
		Reason:   string(reason),
		PnL:      pnl,
	})
	return nil
}

func (t *Trader) save(ctx context.Context) error {
	t.state.UpdatedAt = t.now()
	if err := t.store.Save(ctx, t.state); err != nil {
		return fmt.Errorf("failed to save trader state: %w", err)
	}
	return nil
}

func (t *Trader) notify(text string) {
	if err := t.notifier.Notify(text); err != nil {
		t.logger.Warn("notification failed", zap.Error(err))
	}
}

func (t *Trader) publish(ctx context.Context, ev model.TraderEvent) {
	ev.Market = t.market
	if err := t.events.Publish(ctx, ev); err != nil {
		t.logger.Warn("failed to publish trader event", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func currencyOf(market string) string {
	if i := strings.IndexByte(market, '-'); i >= 0 {
		return market[i+1:]
	}
	return market
}
