package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coin-trader/api"
	"coin-trader/internal/config"
	"coin-trader/internal/engine"
	"coin-trader/internal/infrastructure"
	"coin-trader/internal/push"
	"coin-trader/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// App defines the application structure and its dependencies
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	DB          *pgxpool.Pool
	NC          *nats.Conn
	JS          nats.JetStreamContext
	PushGateway *push.PushGateway
	HTTPServer  *http.Server
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config, logger *zap.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger,
	}
}

// Init initializes all application components. The database is optional; without it
// candles come from the CSV cache and trader state from the state file.
func (a *App) Init(ctx context.Context) error {
	// 1. Database
	if a.Config.DB_DSN != "" {
		dbPool, err := pgxpool.Connect(ctx, a.Config.DB_DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = dbPool

		if err := a.initDatabase(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	} else {
		a.Logger.Warn("DB_DSN not set, using CSV candle cache and file state store")
	}

	// 2. NATS
	nc, js, err := infrastructure.InitNATS(a.Config.NatsURL, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	a.NC = nc
	a.JS = js

	// 3. Services
	a.PushGateway = push.NewPushGateway(js, a.Logger)

	return nil
}

// Run starts the application services and the HTTP server
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start Persistence Service
	if err := a.startPersistenceService(ctx); err != nil {
		return err
	}

	// Start Ingestion Worker
	a.startIngestionWorker(ctx, a.markets())

	// Start Trading Worker
	if a.Config.TradeEnabled {
		if err := a.startTradingWorker(ctx); err != nil {
			return fmt.Errorf("failed to start trading worker: %w", err)
		}
	}

	// Setup HTTP Server
	a.HTTPServer = &http.Server{
		Addr:    ":" + a.Config.Port,
		Handler: a.setupRouter(),
	}

	go func() {
		a.Logger.Info("starting http server", zap.String("port", a.Config.Port))
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	return a.waitForShutdown(cancel)
}

// waitForShutdown handles graceful shutdown signals
func (a *App) waitForShutdown(cancel context.CancelFunc) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	a.Logger.Info("shutting down...")
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	a.NC.Close()
	if a.DB != nil {
		a.DB.Close()
	}

	return nil
}

// initDatabase runs the database initialization script
func (a *App) initDatabase(ctx context.Context) error {
	sqlFile := "scripts/init.sql"
	content, err := os.ReadFile(sqlFile)
	if err != nil {
		return fmt.Errorf("failed to read init script: %w", err)
	}

	_, err = a.DB.Exec(ctx, string(content))
	if err != nil {
		return fmt.Errorf("failed to execute init script: %w", err)
	}

	a.Logger.Info("database initialized successfully")
	return nil
}

// setupRouter configures the Gin router and its routes
func (a *App) setupRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	var (
		candles api.CandleSource = storage.NewCandleCache(a.Config.DataDir, a.Logger)
		runs    api.RunStore
	)
	if a.DB != nil {
		candles = engine.NewDataLoader(a.DB)
		runs = storage.NewRunStore(a.DB)
	}
	apiHandler := api.NewHandler(candles, runs, a.Config.Strategy, a.Config.SweepWorkers, a.Logger)
	apiHandler.Register(r.Group("/api/v1"))

	r.GET("/ws", func(c *gin.Context) {
		a.PushGateway.ServeHTTP(c.Writer, c.Request)
	})

	return r
}
