package connector

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"coin-trader/internal/infrastructure"
	"coin-trader/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultUpbitURL = "https://api.upbit.com"
	// CandlesPerRequest is the page size limit of the candle endpoint.
	CandlesPerRequest = 200

	upbitTimeLayout = "2006-01-02T15:04:05"
)

// UpbitClient talks to the Upbit REST API. Public endpoints work without keys.
type UpbitClient struct {
	baseURL   string
	accessKey string
	secretKey string
	client    *http.Client
	logger    *zap.Logger

	pageDelay    time.Duration
	pollInterval time.Duration
	pollAttempts int
}

func NewUpbitClient(baseURL, accessKey, secretKey string, logger *zap.Logger) *UpbitClient {
	if baseURL == "" {
		baseURL = DefaultUpbitURL
	}
	return &UpbitClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		accessKey:    accessKey,
		secretKey:    secretKey,
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
		pageDelay:    100 * time.Millisecond,
		pollInterval: 500 * time.Millisecond,
		pollAttempts: 10,
	}
}

// UpbitCandle is the raw candle returned by /v1/candles.
type UpbitCandle struct {
	Market               string          `json:"market"`
	CandleDateTimeUTC    string          `json:"candle_date_time_utc"`
	CandleDateTimeKST    string          `json:"candle_date_time_kst"`
	OpeningPrice         decimal.Decimal `json:"opening_price"`
	HighPrice            decimal.Decimal `json:"high_price"`
	LowPrice             decimal.Decimal `json:"low_price"`
	TradePrice           decimal.Decimal `json:"trade_price"`
	CandleAccTradeVolume decimal.Decimal `json:"candle_acc_trade_volume"`
}

type upbitTicker struct {
	Market     string          `json:"market"`
	TradePrice decimal.Decimal `json:"trade_price"`
}

type upbitAccount struct {
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	Locked   decimal.Decimal `json:"locked"`
}

// UpbitOrder is the order record returned by /v1/orders and /v1/order.
type UpbitOrder struct {
	UUID           string          `json:"uuid"`
	Side           string          `json:"side"`
	OrdType        string          `json:"ord_type"`
	State          string          `json:"state"`
	Market         string          `json:"market"`
	CreatedAt      time.Time       `json:"created_at"`
	ExecutedVolume decimal.Decimal `json:"executed_volume"`
	PaidFee        decimal.Decimal `json:"paid_fee"`
	Trades         []struct {
		Price  decimal.Decimal `json:"price"`
		Volume decimal.Decimal `json:"volume"`
		Funds  decimal.Decimal `json:"funds"`
	} `json:"trades"`
}

type upbitError struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// param keeps request parameters in the order they are signed.
type param struct{ key, value string }

func encodeParams(params []param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = url.QueryEscape(p.key) + "=" + url.QueryEscape(p.value)
	}
	return strings.Join(parts, "&")
}

// authHeader builds the Bearer JWT Upbit expects on private endpoints.
func (u *UpbitClient) authHeader(query string) (string, error) {
	claims := jwt.MapClaims{
		"access_key": u.accessKey,
		"nonce":      uuid.NewString(),
	}
	if query != "" {
		sum := sha512.Sum512([]byte(query))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(u.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign upbit token: %w", err)
	}
	return "Bearer " + token, nil
}

func (u *UpbitClient) do(ctx context.Context, method, path string, params []param, private bool, out interface{}) error {
	query := encodeParams(params)
	endpoint := u.baseURL + path

	var body io.Reader
	if method == http.MethodGet {
		if query != "" {
			endpoint += "?" + query
		}
	} else {
		m := make(map[string]string, len(params))
		for _, p := range params {
			m[p.key] = p.value
		}
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if private {
		auth, err := u.authHeader(query)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", auth)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call upbit %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr upbitError
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Name != "" {
			return fmt.Errorf("upbit %s: %s: %s (status %d)", path, apiErr.Error.Name, apiErr.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("upbit %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode upbit %s response: %w", path, err)
	}
	return nil
}

// GetCandles fetches up to count minute candles of the given unit ending before to, newest first.
// A zero to means now.
func (u *UpbitClient) GetCandles(ctx context.Context, market string, unit, count int, to time.Time) ([]model.Candle, error) {
	params := []param{{"market", market}, {"count", fmt.Sprint(count)}}
	if !to.IsZero() {
		params = append(params, param{"to", to.UTC().Format(upbitTimeLayout) + "Z"})
	}

	var raw []UpbitCandle
	if err := u.do(ctx, http.MethodGet, fmt.Sprintf("/v1/candles/minutes/%d", unit), params, false, &raw); err != nil {
		return nil, err
	}

	candles := make([]model.Candle, 0, len(raw))
	for _, r := range raw {
		c, err := u.convertToModel(r)
		if err != nil {
			u.logger.Warn("skipping malformed upbit candle", zap.String("market", market), zap.Error(err))
			continue
		}
		candles = append(candles, c)
	}
	infrastructure.CandlesFetched.WithLabelValues(market).Add(float64(len(candles)))
	return candles, nil
}

func (u *UpbitClient) convertToModel(r UpbitCandle) (model.Candle, error) {
	t, err := time.ParseInLocation(upbitTimeLayout, r.CandleDateTimeUTC, time.UTC)
	if err != nil {
		return model.Candle{}, fmt.Errorf("invalid candle time %q: %w", r.CandleDateTimeUTC, err)
	}
	c := model.Candle{
		Market: r.Market,
		Time:   t,
		Open:   r.OpeningPrice,
		High:   r.HighPrice,
		Low:    r.LowPrice,
		Close:  r.TradePrice,
		Volume: r.CandleAccTradeVolume,
	}
	c.ClearIndicators()
	return c, nil
}

// GetOHLCV pages backwards through history until days worth of unit-minute candles are
// collected or the exchange runs out. The result is ascending with duplicate timestamps removed.
func (u *UpbitClient) GetOHLCV(ctx context.Context, market string, unit, days int) ([]model.Candle, error) {
	if unit <= 0 {
		unit = 60
	}
	want := days * 24 * 60 / unit
	maxPages := want/CandlesPerRequest + 2

	var all []model.Candle
	var cursor time.Time
	for page := 0; page < maxPages && len(all) < want; page++ {
		batch, err := u.GetCandles(ctx, market, unit, CandlesPerRequest, cursor)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		cursor = batch[len(batch)-1].Time

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(u.pageDelay):
		}
	}

	slices.SortStableFunc(all, func(a, b model.Candle) int { return a.Time.Compare(b.Time) })
	all = slices.CompactFunc(all, func(a, b model.Candle) bool { return a.Time.Equal(b.Time) })

	u.logger.Info("fetched historical candles",
		zap.String("market", market),
		zap.Int("unit", unit),
		zap.Int("days", days),
		zap.Int("count", len(all)),
	)
	return all, nil
}

func (u *UpbitClient) GetCurrentPrice(ctx context.Context, market string) (decimal.Decimal, error) {
	var tickers []upbitTicker
	if err := u.do(ctx, http.MethodGet, "/v1/ticker", []param{{"markets", market}}, false, &tickers); err != nil {
		return decimal.Zero, err
	}
	if len(tickers) == 0 {
		return decimal.Zero, fmt.Errorf("upbit returned no ticker for %s", market)
	}
	return tickers[0].TradePrice, nil
}

// GetBalance returns the free balance of currency, zero when the account holds none.
func (u *UpbitClient) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	var accounts []upbitAccount
	if err := u.do(ctx, http.MethodGet, "/v1/accounts", nil, true, &accounts); err != nil {
		return decimal.Zero, err
	}
	for _, a := range accounts {
		if a.Currency == currency {
			return a.Balance, nil
		}
	}
	return decimal.Zero, nil
}

// BuyMarket spends krwAmount on market at the best available price.
func (u *UpbitClient) BuyMarket(ctx context.Context, market string, krwAmount decimal.Decimal) (model.Fill, error) {
	params := []param{
		{"market", market},
		{"side", "bid"},
		{"ord_type", "price"},
		{"price", krwAmount.Truncate(0).String()},
	}
	return u.placeOrder(ctx, market, model.TradeBuy, params)
}

// SellMarket sells volume of the market's coin at the best available price.
func (u *UpbitClient) SellMarket(ctx context.Context, market string, volume decimal.Decimal) (model.Fill, error) {
	params := []param{
		{"market", market},
		{"side", "ask"},
		{"ord_type", "market"},
		{"volume", volume.String()},
	}
	return u.placeOrder(ctx, market, model.TradeSell, params)
}

func (u *UpbitClient) placeOrder(ctx context.Context, market string, side model.TradeType, params []param) (model.Fill, error) {
	var order UpbitOrder
	if err := u.do(ctx, http.MethodPost, "/v1/orders", params, true, &order); err != nil {
		return model.Fill{}, fmt.Errorf("failed to place %s order: %w", side, err)
	}
	infrastructure.OrdersPlaced.WithLabelValues(market, string(side)).Inc()
	u.logger.Info("order placed", zap.String("market", market), zap.String("side", string(side)), zap.String("uuid", order.UUID))

	// market orders settle asynchronously; poll until the exchange reports them finished
	for attempt := 0; attempt < u.pollAttempts; attempt++ {
		if order.State == "done" || (order.State == "cancel" && order.ExecutedVolume.IsPositive()) {
			return orderFill(order, side)
		}
		select {
		case <-ctx.Done():
			return model.Fill{}, ctx.Err()
		case <-time.After(u.pollInterval):
		}
		next, err := u.GetOrder(ctx, order.UUID)
		if err != nil {
			return model.Fill{}, err
		}
		order = next
	}
	return model.Fill{}, fmt.Errorf("order %s not filled after %d checks (state %s)", order.UUID, u.pollAttempts, order.State)
}

func (u *UpbitClient) GetOrder(ctx context.Context, orderID string) (UpbitOrder, error) {
	var order UpbitOrder
	if err := u.do(ctx, http.MethodGet, "/v1/order", []param{{"uuid", orderID}}, true, &order); err != nil {
		return UpbitOrder{}, fmt.Errorf("failed to fetch order: %w", err)
	}
	return order, nil
}

// orderFill averages the order's trades into a single fill.
func orderFill(o UpbitOrder, side model.TradeType) (model.Fill, error) {
	volume := decimal.Zero
	funds := decimal.Zero
	for _, t := range o.Trades {
		volume = volume.Add(t.Volume)
		funds = funds.Add(t.Funds)
	}
	if !volume.IsPositive() {
		return model.Fill{}, fmt.Errorf("order %s has no executed trades", o.UUID)
	}
	at := o.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return model.Fill{
		OrderID:  o.UUID,
		Side:     side,
		Price:    funds.Div(volume),
		Quantity: volume,
		Fee:      o.PaidFee,
		Time:     at,
	}, nil
}
