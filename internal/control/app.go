package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/orderwatch/internal/api"
	"github.com/vietddude/orderwatch/internal/core/config"
	"github.com/vietddude/orderwatch/internal/core/domain"
	"github.com/vietddude/orderwatch/internal/indexing/batcher"
	"github.com/vietddude/orderwatch/internal/indexing/emitter"
	"github.com/vietddude/orderwatch/internal/indexing/health"
	"github.com/vietddude/orderwatch/internal/indexing/revalidate"
	"github.com/vietddude/orderwatch/internal/indexing/tipwatcher"
	"github.com/vietddude/orderwatch/internal/infra/ethereum"
	redisclient "github.com/vietddude/orderwatch/internal/infra/redis"
	"github.com/vietddude/orderwatch/internal/infra/storage"
	"github.com/vietddude/orderwatch/internal/infra/storage/memory"
	"github.com/vietddude/orderwatch/internal/infra/storage/postgres"
)

// App is the main application struct that wires the order watcher together:
// chain tip watcher, state batcher, revalidation loop, submission API and
// health server.
type App struct {
	cfg *config.AppConfig

	watcher      *tipwatcher.Watcher
	batcher      *batcher.Batcher
	revalidator  *revalidate.Revalidator
	apiServer    *api.Server
	healthServer *health.Server

	db          *postgres.DB
	redisClient *redisclient.Client
	monitor     *health.Monitor
	sub         *tipwatcher.Subscription
	healthSub   *tipwatcher.Subscription
	cancel      context.CancelFunc
	log         *slog.Logger
}

// NewApp creates an App with all dependencies initialized.
func NewApp(cfg *config.AppConfig) (*App, error) {
	if cfg.Ethereum.URL == "" {
		return nil, fmt.Errorf("ethereum.url is required")
	}
	if cfg.Ethereum.HTTPURL == "" {
		return nil, fmt.Errorf("ethereum.http_url is required")
	}
	if cfg.Ethereum.Exchange == "" {
		return nil, fmt.Errorf("ethereum.exchange is required")
	}

	// 1. Storage
	var repo storage.OrderRepository
	var db *postgres.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		repo = postgres.NewOrderRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		repo = memory.NewOrderStorage()
		slog.Info("Using Memory storage")
	}

	// 2. Event sink
	var redisClient *redisclient.Client
	var sink emitter.Sink
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, order events will be logged", "error", err)
		} else {
			redisClient = client
			sink = client
		}
	}
	em := emitter.New(sink)

	// 3. Ethereum clients: headers over WebSocket, contract calls over HTTP
	source, err := ethereum.NewWSClient(cfg.Ethereum.URL)
	if err != nil {
		return nil, err
	}
	caller := ethereum.NewHTTPClient(cfg.Ethereum.HTTPURL, cfg.Ethereum.CallTimeout)
	exchange := ethereum.NewExchange(cfg.Ethereum.Exchange, caller)

	// 4. Core components
	watcher := tipwatcher.New(source, tipwatcher.Config{
		PollDelay:     cfg.Watcher.PollDelay,
		FetchTimeout:  cfg.Watcher.FetchTimeout,
		RetryDelay:    cfg.Watcher.RetryDelay,
		MaxRetries:    cfg.Watcher.MaxRetries,
		MaxReorg:      cfg.Watcher.MaxReorg,
		QueueCapacity: cfg.Watcher.QueueCapacity,
	})
	stateBatcher := batcher.New(exchange, batcher.Config{
		BatchSize:    cfg.Batcher.BatchSize,
		Concurrent:   cfg.Batcher.Concurrent,
		QueueCork:    cfg.Batcher.QueueCork,
		PriorityCork: cfg.Batcher.PriorityCork,
	})

	chain := domain.ChainInfo{
		ChainID:     cfg.Ethereum.ChainID,
		Exchange:    cfg.Ethereum.Exchange,
		FlashWallet: cfg.Ethereum.FlashWallet,
	}
	revalidator := revalidate.New(repo, stateBatcher, em, revalidate.Config{
		MaxReorg: cfg.Watcher.MaxReorg,
	})
	apiServer := api.NewServer(cfg.Server.SubmitPort, chain, stateBatcher, repo, em)

	// 5. Health
	healthMon := health.NewMonitor()
	healthMon.Register("ethereum", true, caller.Health)
	if db != nil {
		healthMon.Register("database", true, db.Health)
	}
	if redisClient != nil {
		healthMon.Register("redis", false, redisClient.Health)
	}
	healthServer := health.NewServer(healthMon, cfg.Server.Port)

	return &App{
		cfg:          cfg,
		watcher:      watcher,
		batcher:      stateBatcher,
		revalidator:  revalidator,
		apiServer:    apiServer,
		healthServer: healthServer,
		db:           db,
		redisClient:  redisClient,
		monitor:      healthMon,
		log:          slog.Default(),
	}, nil
}

// Start starts all components.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go func() {
		if err := a.healthServer.Start(); err != nil && err != http.ErrServerClosed {
			a.log.Error("Health server failed", "error", err)
		}
	}()
	go func() {
		if err := a.apiServer.Start(); err != nil && err != http.ErrServerClosed {
			a.log.Error("API server failed", "error", err)
		}
	}()

	a.batcher.Start(runCtx)

	a.sub = a.watcher.Subscribe()
	a.healthSub = a.watcher.Subscribe()
	a.watcher.Start(runCtx)
	go a.revalidator.Run(runCtx, a.sub.Events())
	go func() {
		for ev := range a.healthSub.Events() {
			if ev.Type == domain.EventHeaderAccepted {
				a.monitor.ObserveHeader(ev.Header.Number)
			}
		}
	}()

	a.log.Info("Order watcher started",
		"submit_port", a.cfg.Server.SubmitPort,
		"health_port", a.cfg.Server.Port,
		"chain_id", a.cfg.Ethereum.ChainID,
	)
	return nil
}

// Fatal reports an unrecoverable failure of the header stream. The process
// should shut down when it fires: without headers no order state is
// revalidated.
func (a *App) Fatal() <-chan error {
	return a.watcher.Fatal()
}

// Stop stops all components.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping order watcher...")

	if a.cancel != nil {
		a.cancel()
	}
	if a.sub != nil {
		a.sub.Unsubscribe()
	}
	if a.healthSub != nil {
		a.healthSub.Unsubscribe()
	}

	if err := a.apiServer.Stop(ctx); err != nil {
		a.log.Warn("Failed to stop API server", "error", err)
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}

	return a.healthServer.Stop(ctx)
}
