package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coin-trader/internal/config"
	"coin-trader/internal/engine"
	"coin-trader/internal/model"
	"coin-trader/internal/storage"
	"coin-trader/internal/strategy"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultBacktestDays = 365
	defaultCandleDays   = 7
	maxSweepResults     = 50
)

// CandleSource loads stored candles for a market in ascending order.
type CandleSource interface {
	LoadCandles(ctx context.Context, market string, start, end time.Time) ([]model.Candle, error)
	LoadRecent(ctx context.Context, market string, days int) ([]model.Candle, error)
}

// RunStore persists finished backtests.
type RunStore interface {
	SaveRun(ctx context.Context, params config.StrategyParams, res model.SimulationResult) (string, error)
	RecentRuns(ctx context.Context, market string, limit int) ([]storage.RunRecord, error)
}

type Handler struct {
	candles CandleSource
	runs    RunStore
	base    config.StrategyParams
	workers int
	logger  *zap.Logger
}

func NewHandler(candles CandleSource, runs RunStore, base config.StrategyParams, workers int, logger *zap.Logger) *Handler {
	return &Handler{
		candles: candles,
		runs:    runs,
		base:    base,
		workers: workers,
		logger:  logger,
	}
}

// Register mounts the v1 routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/candles/:market", h.GetCandles)
	g.POST("/backtest", h.RunBacktest)
	g.POST("/optimize", h.RunOptimize)
	g.GET("/runs/:market", h.GetRuns)
}

// NormalizeMarket turns btc, krw-btc, KRW_BTC or BTC/KRW into the KRW-BTC form.
func NormalizeMarket(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("_", "-", "/", "-").Replace(s)
	if s == "" {
		return s
	}
	if !strings.Contains(s, "-") {
		return "KRW-" + s
	}
	parts := strings.SplitN(s, "-", 2)
	if parts[1] == "KRW" {
		return "KRW-" + parts[0]
	}
	return s
}

type runRequest struct {
	Market       string                 `json:"market" binding:"required"`
	StrategyType string                 `json:"strategy_type"`
	Config       map[string]interface{} `json:"config"`
	StartTime    time.Time              `json:"start_time"`
	EndTime      time.Time              `json:"end_time"`
	Days         int                    `json:"days"`
}

// Data Handlers

func (h *Handler) GetCandles(c *gin.Context) {
	market := NormalizeMarket(c.Param("market"))
	days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(defaultCandleDays)))
	if err != nil || days <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
		return
	}

	candles, err := h.candles.LoadRecent(c.Request.Context(), market, days)
	if err != nil {
		h.logger.Error("failed to query candles", zap.String("market", market), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, candles)
}

func (h *Handler) GetRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run history requires a database"})
		return
	}
	market := NormalizeMarket(c.Param("market"))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be in 1..500"})
		return
	}

	runs, err := h.runs.RecentRuns(c.Request.Context(), market, limit)
	if err != nil {
		h.logger.Error("failed to query runs", zap.String("market", market), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

// Simulation Handlers

func (h *Handler) RunBacktest(c *gin.Context) {
	var req struct {
		runRequest
		Save bool `json:"save"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params, candles, ok := h.prepare(c, req.runRequest)
	if !ok {
		return
	}

	result := engine.Simulate(candles, params, engine.TalibFactory, h.logger)
	result.Market = NormalizeMarket(req.Market)

	resp := gin.H{"result": result}
	if req.Save && h.runs != nil {
		id, err := h.runs.SaveRun(c.Request.Context(), params, result)
		if err != nil {
			h.logger.Error("failed to save backtest run", zap.Error(err))
		} else {
			resp["run_id"] = id
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) RunOptimize(c *gin.Context) {
	var req struct {
		runRequest
		Grid *engine.GridSpec `json:"grid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params, candles, ok := h.prepare(c, req.runRequest)
	if !ok {
		return
	}

	var combos []config.StrategyParams
	if req.Grid != nil {
		combos = req.Grid.Combinations(params)
	} else {
		combos = engine.RSIGrid(params, 20, 50, 2)
	}
	if len(combos) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty parameter grid"})
		return
	}

	results, err := engine.NewSweeper(h.workers, engine.TalibFactory, h.logger).Run(c.Request.Context(), candles, combos)
	if err != nil {
		if errors.Is(err, config.ErrInvalidParams) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("sweep failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}

	best, _ := engine.Best(results)
	if len(results) > maxSweepResults {
		results = results[:maxSweepResults]
	}
	c.JSON(http.StatusOK, gin.H{
		"market":       NormalizeMarket(req.Market),
		"combinations": len(combos),
		"best":         best,
		"results":      results,
	})
}

// prepare resolves the run parameters and loads the candles, writing the error response itself.
func (h *Handler) prepare(c *gin.Context, req runRequest) (config.StrategyParams, []model.Candle, bool) {
	params, err := strategy.NewParams(h.base, req.StrategyType, req.Config)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return config.StrategyParams{}, nil, false
	}

	market := NormalizeMarket(req.Market)
	ctx := c.Request.Context()

	var candles []model.Candle
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() {
		if !req.EndTime.After(req.StartTime) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_time must be after start_time"})
			return config.StrategyParams{}, nil, false
		}
		candles, err = h.candles.LoadCandles(ctx, market, req.StartTime, req.EndTime)
	} else {
		days := req.Days
		if days <= 0 {
			days = defaultBacktestDays
		}
		candles, err = h.candles.LoadRecent(ctx, market, days)
	}
	if err != nil {
		h.logger.Error("failed to fetch history for backtest", zap.String("market", market), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch data"})
		return config.StrategyParams{}, nil, false
	}
	if len(candles) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no candle data for " + market})
		return config.StrategyParams{}, nil, false
	}
	return params, candles, true
}
