package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BacktestRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_runs_total",
		Help: "Total number of completed simulation runs",
	}, []string{"variant"})

	BacktestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backtest_duration_seconds",
		Help:    "Wall time of a single simulation run including indicator computation",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"variant"})

	SweepCombinations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweep_combinations_total",
		Help: "Total number of parameter combinations evaluated by sweeps",
	})

	CandlesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candles_fetched_total",
		Help: "Total number of candles fetched from the exchange",
	}, []string{"market"})

	TicksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticks_received_total",
		Help: "Total number of real-time ticker updates received",
	}, []string{"market"})

	TraderCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_cycles_total",
		Help: "Total number of live trading cycles by outcome",
	}, []string{"market", "result"})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Total number of orders placed by the live trader",
	}, []string{"market", "side"})

	DBInsertRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "db_insert_total",
		Help: "Total number of records inserted into DB",
	}, []string{"table"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_events_published_total",
		Help: "Total number of trader events published to NATS",
	}, []string{"type"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_total",
		Help: "Total number of active WebSocket connections",
	})
)
