package trader

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"coin-trader/internal/config"
	"coin-trader/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now0 = time.Date(2024, 3, 1, 10, 1, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeExchange struct {
	mu       sync.Mutex
	candles  []model.Candle
	fetchErr error
	price    decimal.Decimal
	balances map[string]decimal.Decimal
	buyFill  model.Fill
	sellFill model.Fill

	fetches int
	buys    []decimal.Decimal
	sells   []decimal.Decimal
}

func (f *fakeExchange) GetOHLCV(_ context.Context, _ string, _, _ int) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.candles, f.fetchErr
}

func (f *fakeExchange) GetCurrentPrice(context.Context, string) (decimal.Decimal, error) {
	return f.price, nil
}

func (f *fakeExchange) GetBalance(_ context.Context, currency string) (decimal.Decimal, error) {
	return f.balances[currency], nil
}

func (f *fakeExchange) BuyMarket(_ context.Context, _ string, krwAmount decimal.Decimal) (model.Fill, error) {
	f.buys = append(f.buys, krwAmount)
	return f.buyFill, nil
}

func (f *fakeExchange) SellMarket(_ context.Context, _ string, volume decimal.Decimal) (model.Fill, error) {
	f.sells = append(f.sells, volume)
	return f.sellFill, nil
}

type memStore struct {
	states map[string]model.LiveState
	saves  int
}

func newMemStore() *memStore { return &memStore{states: map[string]model.LiveState{}} }

func (s *memStore) Load(_ context.Context, market string) (*model.LiveState, error) {
	st, ok := s.states[market]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *memStore) Save(_ context.Context, st model.LiveState) error {
	s.saves++
	s.states[st.Market] = st
	return nil
}

type recNotifier struct{ msgs []string }

func (n *recNotifier) Notify(text string) error {
	n.msgs = append(n.msgs, text)
	return nil
}

type recPublisher struct{ events []model.TraderEvent }

func (p *recPublisher) Publish(_ context.Context, ev model.TraderEvent) error {
	p.events = append(p.events, ev)
	return nil
}

// passthrough keeps whatever indicator values the test put on the candles.
type passthrough struct{}

func (passthrough) Augment(c []model.Candle) []model.Candle {
	return append([]model.Candle(nil), c...)
}

type stubSignal struct{ ready, enter bool }

func (stubSignal) Name() string                    { return "stub" }
func (s stubSignal) Ready(model.Candle) bool       { return s.ready }
func (s stubSignal) ShouldEnter(model.Candle) bool { return s.enter }

func lastCandle(close string, prevATR float64) []model.Candle {
	c := model.Candle{Market: "KRW-BTC", Time: now0.Add(-time.Hour), Close: dec(close)}
	c.ClearIndicators()
	c.PrevATR = prevATR
	c.RSI = 25
	c.MACD = 1
	return []model.Candle{c}
}

type harness struct {
	trader    *Trader
	exchange  *fakeExchange
	store     *memStore
	notifier  *recNotifier
	publisher *recPublisher
}

func newHarness(params config.StrategyParams, sig stubSignal) *harness {
	h := &harness{
		exchange:  &fakeExchange{balances: map[string]decimal.Decimal{}},
		store:     newMemStore(),
		notifier:  &recNotifier{},
		publisher: &recPublisher{},
	}
	h.trader = NewTrader("KRW-BTC", params, h.exchange, h.store, h.notifier, zap.NewNop()).WithEvents(h.publisher)
	h.trader.provider = passthrough{}
	h.trader.signal = sig
	h.trader.now = func() time.Time { return now0 }
	return h
}

func meanReversion() config.StrategyParams {
	p := config.DefaultParams()
	p.Variant = config.VariantMeanReversion
	return p
}

func trendFollowing() config.StrategyParams {
	p := config.DefaultParams()
	p.Variant = config.VariantTrendFollowing
	return p
}

func eventTypes(events []model.TraderEvent) []model.EventType {
	out := make([]model.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestRunCycle_MeanReversionBuySpendsBalanceNetOfFee(t *testing.T) {
	h := newHarness(meanReversion(), stubSignal{ready: true, enter: true})
	h.exchange.candles = lastCandle("100", math.NaN())
	h.exchange.balances["KRW"] = dec("1000000")
	h.exchange.buyFill = model.Fill{Price: dec("100.05"), Quantity: dec("9990"), Fee: dec("499.75")}

	require.NoError(t, h.trader.RunCycle(context.Background()))

	require.Len(t, h.exchange.buys, 1)
	assert.True(t, h.exchange.buys[0].Equal(dec("999500")), h.exchange.buys[0].String())

	pos := h.trader.State().Position
	require.NotNil(t, pos)
	assert.True(t, pos.EntryPrice.Equal(dec("100.05")), "entry books the reported fill")
	assert.True(t, pos.Quantity.Equal(dec("9990")))
	assert.True(t, pos.HighestPrice.Equal(dec("100.05")))
	assert.Equal(t, now0, pos.EntryTime)
	assert.Zero(t, pos.EntryATR)

	saved := h.store.states["KRW-BTC"]
	require.NotNil(t, saved.Position)
	assert.Equal(t, []model.EventType{model.EventSignal, model.EventBuy}, eventTypes(h.publisher.events))
	assert.Len(t, h.notifier.msgs, 2)
}

func TestRunCycle_TrendBuyUsesRiskSizing(t *testing.T) {
	h := newHarness(trendFollowing(), stubSignal{ready: true, enter: true})
	h.exchange.candles = lastCandle("100", 2)
	h.exchange.balances["KRW"] = dec("1000000")
	h.exchange.buyFill = model.Fill{Price: dec("100"), Quantity: dec("3334.99"), Fee: dec("166.75")}

	require.NoError(t, h.trader.RunCycle(context.Background()))

	// risk 10000 / stop 3 = 3333.33333333 units at 100.05
	require.Len(t, h.exchange.buys, 1)
	assert.True(t, h.exchange.buys[0].Equal(dec("333499")), h.exchange.buys[0].String())

	pos := h.trader.State().Position
	require.NotNil(t, pos)
	assert.Equal(t, 2.0, pos.EntryATR)
}

func TestRunCycle_NoBuy(t *testing.T) {
	tests := []struct {
		name   string
		signal stubSignal
		krw    string
	}{
		{"insufficient balance", stubSignal{ready: true, enter: true}, "5000"},
		{"no signal", stubSignal{ready: true, enter: false}, "1000000"},
		{"indicators warming up", stubSignal{ready: false, enter: true}, "1000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(meanReversion(), tt.signal)
			h.exchange.candles = lastCandle("100", math.NaN())
			h.exchange.balances["KRW"] = dec(tt.krw)

			require.NoError(t, h.trader.RunCycle(context.Background()))
			assert.Empty(t, h.exchange.buys)
			assert.Nil(t, h.trader.State().Position)
		})
	}
}

func TestRunCycle_StopLossSellsWithoutReentering(t *testing.T) {
	h := newHarness(meanReversion(), stubSignal{ready: true, enter: true})
	h.store.states["KRW-BTC"] = model.LiveState{
		Market: "KRW-BTC",
		Position: &model.Position{
			EntryPrice:   dec("100"),
			Quantity:     dec("10"),
			EntryTime:    now0.Add(-time.Hour),
			HighestPrice: dec("100"),
		},
	}
	require.NoError(t, h.trader.Restore(context.Background()))

	h.exchange.candles = lastCandle("96", math.NaN())
	h.exchange.balances["KRW"] = dec("1000000")
	h.exchange.sellFill = model.Fill{Price: dec("96"), Quantity: dec("10"), Fee: dec("0.48")}

	require.NoError(t, h.trader.RunCycle(context.Background()))

	require.Len(t, h.exchange.sells, 1)
	assert.True(t, h.exchange.sells[0].Equal(dec("10")))
	assert.Empty(t, h.exchange.buys, "one order per cycle")
	assert.Nil(t, h.trader.State().Position)
	assert.Nil(t, h.store.states["KRW-BTC"].Position)

	require.Len(t, h.publisher.events, 1)
	sell := h.publisher.events[0]
	assert.Equal(t, model.EventSell, sell.Type)
	assert.Equal(t, string(model.ReasonStopLoss), sell.Reason)
	assert.True(t, sell.PnL.Equal(dec("-40.48")), sell.PnL.String())
}

func TestRunCycle_HoldRatchetsHighestPrice(t *testing.T) {
	h := newHarness(meanReversion(), stubSignal{ready: true, enter: true})
	h.store.states["KRW-BTC"] = model.LiveState{
		Market: "KRW-BTC",
		Position: &model.Position{
			EntryPrice:   dec("100"),
			Quantity:     dec("10"),
			EntryTime:    now0.Add(-time.Hour),
			HighestPrice: dec("100"),
		},
	}
	require.NoError(t, h.trader.Restore(context.Background()))
	h.exchange.candles = lastCandle("101", math.NaN())

	require.NoError(t, h.trader.RunCycle(context.Background()))

	assert.Empty(t, h.exchange.sells)
	assert.Empty(t, h.exchange.buys)
	pos := h.store.states["KRW-BTC"].Position
	require.NotNil(t, pos)
	assert.True(t, pos.HighestPrice.Equal(dec("101")))
}

func TestRunCycle_MaxHoldNeedsMinimumProfit(t *testing.T) {
	tests := []struct {
		name     string
		close    string
		wantSell bool
	}{
		{"below floor keeps holding", "100.5", false},
		{"at floor exits", "101", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(meanReversion(), stubSignal{ready: true})
			h.store.states["KRW-BTC"] = model.LiveState{
				Market: "KRW-BTC",
				Position: &model.Position{
					EntryPrice:   dec("100"),
					Quantity:     dec("1"),
					EntryTime:    now0.Add(-6 * 24 * time.Hour),
					HighestPrice: dec("100"),
				},
			}
			require.NoError(t, h.trader.Restore(context.Background()))
			h.exchange.candles = lastCandle(tt.close, math.NaN())
			h.exchange.sellFill = model.Fill{Price: dec(tt.close), Quantity: dec("1")}

			require.NoError(t, h.trader.RunCycle(context.Background()))
			assert.Equal(t, tt.wantSell, len(h.exchange.sells) == 1)
		})
	}
}

func TestRunCycle_TrendStopLossStartsCooldown(t *testing.T) {
	params := trendFollowing()
	params.MaxConsecutiveLosses = 1
	h := newHarness(params, stubSignal{ready: true, enter: true})
	h.store.states["KRW-BTC"] = model.LiveState{
		Market: "KRW-BTC",
		Position: &model.Position{
			EntryPrice:   dec("100"),
			Quantity:     dec("10"),
			EntryTime:    now0.Add(-2 * time.Hour),
			EntryATR:     2,
			HighestPrice: dec("100"),
		},
	}
	require.NoError(t, h.trader.Restore(context.Background()))

	// stop at 100 - 2*1.5 = 97
	h.exchange.candles = lastCandle("96", 2)
	h.exchange.balances["KRW"] = dec("1000000")
	h.exchange.sellFill = model.Fill{Price: dec("96"), Quantity: dec("10")}

	require.NoError(t, h.trader.RunCycle(context.Background()))
	require.Len(t, h.exchange.sells, 1)

	risk := h.trader.State().Risk
	require.NotNil(t, risk.CooldownUntil)
	assert.Equal(t, now0.Add(5*time.Hour), *risk.CooldownUntil)

	require.NoError(t, h.trader.RunCycle(context.Background()))
	assert.Empty(t, h.exchange.buys, "entries blocked during cooldown")

	h.trader.now = func() time.Time { return now0.Add(5 * time.Hour) }
	require.NoError(t, h.trader.RunCycle(context.Background()))
	assert.Len(t, h.exchange.buys, 1, "cooldown expired")
}

func TestRestore_AdoptsExistingHolding(t *testing.T) {
	tests := []struct {
		name    string
		holding string
		adopt   bool
	}{
		{"worth more than minimum order", "0.1", true},
		{"dust", "0.00001", false},
		{"nothing held", "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(meanReversion(), stubSignal{})
			h.exchange.balances["BTC"] = dec(tt.holding)
			h.exchange.price = dec("50000000")

			require.NoError(t, h.trader.Restore(context.Background()))

			pos := h.trader.State().Position
			if !tt.adopt {
				assert.Nil(t, pos)
				return
			}
			require.NotNil(t, pos)
			assert.True(t, pos.EntryPrice.Equal(dec("50000000")))
			assert.True(t, pos.Quantity.Equal(dec(tt.holding)))
			assert.Equal(t, now0, pos.EntryTime)
			assert.NotNil(t, h.store.states["KRW-BTC"].Position)
		})
	}
}

func TestRestore_AdoptedTrendHoldingKeepsATRStops(t *testing.T) {
	withATR := func(prevATR, atr float64) []model.Candle {
		c := lastCandle("50000000", prevATR)
		c[0].ATR = atr
		return c
	}

	tests := []struct {
		name     string
		candles  []model.Candle
		entryATR float64
	}{
		{"previous ATR", withATR(400000, 380000), 400000},
		{"falls back to current ATR", withATR(math.NaN(), 380000), 380000},
		{"no candles at restore", nil, 0},
		{"ATR undefined", withATR(math.NaN(), math.NaN()), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(trendFollowing(), stubSignal{})
			h.exchange.balances["BTC"] = dec("0.1")
			h.exchange.price = dec("50000000")
			h.exchange.candles = tt.candles

			require.NoError(t, h.trader.Restore(context.Background()))
			pos := h.trader.State().Position
			require.NotNil(t, pos)
			assert.Equal(t, tt.entryATR, pos.EntryATR)

			// unchanged price on the first cycle
			h.exchange.candles = lastCandle("50000000", 400000)
			require.NoError(t, h.trader.RunCycle(context.Background()))

			assert.Empty(t, h.exchange.sells)
			assert.NotNil(t, h.trader.State().Position)
			assert.Equal(t, 0, h.trader.State().Risk.ConsecutiveLosses)
			assert.NotContains(t, eventTypes(h.publisher.events), model.EventSell)
		})
	}
}

func TestRunCycle_FetchFailures(t *testing.T) {
	h := newHarness(meanReversion(), stubSignal{})

	h.exchange.fetchErr = errors.New("boom")
	err := h.trader.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch candles")

	h.exchange.fetchErr = nil
	assert.ErrorIs(t, h.trader.RunCycle(context.Background()), ErrNoCandles)
}

func TestCycle_ErrorIsNotifiedAndPublished(t *testing.T) {
	h := newHarness(meanReversion(), stubSignal{})
	h.trader.cycle(context.Background())

	require.Len(t, h.notifier.msgs, 1)
	assert.Contains(t, h.notifier.msgs[0], "Error in bot")
	assert.Equal(t, []model.EventType{model.EventError}, eventTypes(h.publisher.events))
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(meanReversion(), stubSignal{ready: true})
	h.exchange.candles = lastCandle("100", math.NaN())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		h.trader.Run(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("trader did not stop")
	}
	assert.Equal(t, 1, h.exchange.fetches, "first cycle runs immediately")
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), time.Date(2024, 3, 1, 11, 1, 0, 0, time.UTC)},
		{time.Date(2024, 3, 1, 10, 0, 30, 0, time.UTC), time.Date(2024, 3, 1, 10, 1, 0, 0, time.UTC)},
		{time.Date(2024, 3, 1, 10, 1, 0, 0, time.UTC), time.Date(2024, 3, 1, 11, 1, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.now.Format(time.TimeOnly), func(t *testing.T) {
			assert.Equal(t, tt.want, nextRun(tt.now, time.Hour, ScheduleOffset))
		})
	}
}
