package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coin-trader/internal/config"
	"coin-trader/internal/model"
	"coin-trader/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	candles    []model.Candle
	lastMarket string
	lastDays   int
	ranged     bool
}

func (f *fakeSource) LoadCandles(_ context.Context, market string, _, _ time.Time) ([]model.Candle, error) {
	f.lastMarket, f.ranged = market, true
	return f.candles, nil
}

func (f *fakeSource) LoadRecent(_ context.Context, market string, days int) ([]model.Candle, error) {
	f.lastMarket, f.lastDays = market, days
	return f.candles, nil
}

type fakeRuns struct {
	saved []storage.RunRecord
}

func (f *fakeRuns) SaveRun(_ context.Context, params config.StrategyParams, res model.SimulationResult) (string, error) {
	id := fmt.Sprintf("run-%d", len(f.saved)+1)
	f.saved = append(f.saved, storage.RunRecord{ID: id, Market: res.Market, Params: params, ReturnPct: res.ReturnPct})
	return id, nil
}

func (f *fakeRuns) RecentRuns(_ context.Context, market string, limit int) ([]storage.RunRecord, error) {
	out := make([]storage.RunRecord, 0)
	for i := len(f.saved) - 1; i >= 0 && len(out) < limit; i-- {
		if f.saved[i].Market == market {
			out = append(out, f.saved[i])
		}
	}
	return out, nil
}

func walk(n int) []model.Candle {
	rng := rand.New(rand.NewSource(7))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	out := make([]model.Candle, n)
	for i := range out {
		open := price
		price *= 1 + (rng.Float64()-0.5)*0.04
		high := max(open, price) * 1.01
		low := min(open, price) * 0.99
		out[i] = model.Candle{
			Market: "KRW-BTC",
			Time:   start.Add(time.Duration(i) * time.Hour),
			Open:   decimal.NewFromFloat(open),
			High:   decimal.NewFromFloat(high),
			Low:    decimal.NewFromFloat(low),
			Close:  decimal.NewFromFloat(price),
			Volume: decimal.NewFromFloat(10 + rng.Float64()*5),
		}
	}
	return out
}

func setupRouter(src CandleSource, runs RunStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(src, runs, config.DefaultParams(), 2, zap.NewNop()).Register(r.Group("/api/v1"))
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNormalizeMarket(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"KRW-BTC", "KRW-BTC"},
		{"krw-btc", "KRW-BTC"},
		{"btc", "KRW-BTC"},
		{"KRW_ETH", "KRW-ETH"},
		{"BTC/KRW", "KRW-BTC"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeMarket(tt.input))
		})
	}
}

func TestGetCandles(t *testing.T) {
	src := &fakeSource{candles: walk(3)}
	r := setupRouter(src, nil)

	w := doJSON(r, http.MethodGet, "/api/v1/candles/btc?days=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "KRW-BTC", src.lastMarket)
	assert.Equal(t, 2, src.lastDays)

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 3)

	w = doJSON(r, http.MethodGet, "/api/v1/candles/btc?days=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunBacktest(t *testing.T) {
	src := &fakeSource{candles: walk(400)}
	runs := &fakeRuns{}
	r := setupRouter(src, runs)

	w := doJSON(r, http.MethodPost, "/api/v1/backtest", map[string]interface{}{
		"market":        "KRW-BTC",
		"strategy_type": "mean_reversion",
		"config":        map[string]interface{}{"rsi_oversold": 40},
		"save":          true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, defaultBacktestDays, src.lastDays)
	require.Len(t, runs.saved, 1)

	var resp struct {
		RunID  string                 `json:"run_id"`
		Result model.SimulationResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "KRW-BTC", resp.Result.Market)
	assert.True(t, resp.Result.InitialBalance.Equal(decimal.NewFromInt(1000000)))

	w = doJSON(r, http.MethodGet, "/api/v1/runs/krw-btc?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed []storage.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "run-1", listed[0].ID)
	assert.Equal(t, config.VariantMeanReversion, listed[0].Params.Variant)
	assert.Equal(t, 40.0, listed[0].Params.RSIOversold)
}

func TestGetRuns_WithoutDatabase(t *testing.T) {
	r := setupRouter(&fakeSource{}, nil)
	w := doJSON(r, http.MethodGet, "/api/v1/runs/KRW-BTC", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRunBacktest_UsesTimeRange(t *testing.T) {
	src := &fakeSource{candles: walk(100)}
	r := setupRouter(src, nil)

	w := doJSON(r, http.MethodPost, "/api/v1/backtest", map[string]interface{}{
		"market":     "eth",
		"start_time": "2024-01-01T00:00:00Z",
		"end_time":   "2024-01-05T00:00:00Z",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, src.ranged)
	assert.Equal(t, "KRW-ETH", src.lastMarket)
}

func TestRunBacktest_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		candles []model.Candle
		body    map[string]interface{}
		code    int
	}{
		{"missing market", walk(10), map[string]interface{}{"strategy_type": "mean_reversion"}, http.StatusBadRequest},
		{"unknown strategy", walk(10), map[string]interface{}{"market": "KRW-BTC", "strategy_type": "martingale"}, http.StatusBadRequest},
		{"unknown parameter", walk(10), map[string]interface{}{"market": "KRW-BTC", "config": map[string]interface{}{"leverage": 3}}, http.StatusBadRequest},
		{"invalid parameter", walk(10), map[string]interface{}{"market": "KRW-BTC", "config": map[string]interface{}{"rsi_period": 0}}, http.StatusBadRequest},
		{"reversed range", walk(10), map[string]interface{}{"market": "KRW-BTC", "start_time": "2024-02-01T00:00:00Z", "end_time": "2024-01-01T00:00:00Z"}, http.StatusBadRequest},
		{"no data", nil, map[string]interface{}{"market": "KRW-BTC"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(&fakeSource{candles: tt.candles}, nil)
			w := doJSON(r, http.MethodPost, "/api/v1/backtest", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestRunOptimize(t *testing.T) {
	r := setupRouter(&fakeSource{candles: walk(300)}, nil)

	w := doJSON(r, http.MethodPost, "/api/v1/optimize", map[string]interface{}{
		"market":        "KRW-BTC",
		"strategy_type": "mean_reversion",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Combinations int                 `json:"combinations"`
		Best         model.SweepResult   `json:"best"`
		Results      []model.SweepResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 16, resp.Combinations)
	require.Len(t, resp.Results, 16)
	assert.Equal(t, resp.Results[0].Index, resp.Best.Index)
	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].ReturnPct, resp.Results[i].ReturnPct)
	}
}

func TestRunOptimize_Grid(t *testing.T) {
	r := setupRouter(&fakeSource{candles: walk(200)}, nil)

	w := doJSON(r, http.MethodPost, "/api/v1/optimize", map[string]interface{}{
		"market": "KRW-BTC",
		"grid": map[string]interface{}{
			"stop_loss_pct": []float64{2, 3},
			"atr_k":         []float64{1, 1.5, 2},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Combinations int `json:"combinations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.Combinations)

	w = doJSON(r, http.MethodPost, "/api/v1/optimize", map[string]interface{}{
		"market": "KRW-BTC",
		"grid":   map[string]interface{}{"atr_k": []float64{-1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
