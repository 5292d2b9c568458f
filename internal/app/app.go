// Package app wires the gateway together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"futures-gateway/internal/account"
	"futures-gateway/internal/audit"
	"futures-gateway/internal/binance/rest"
	"futures-gateway/internal/binance/ws"
	"futures-gateway/internal/config"
	"futures-gateway/internal/leverage"
	"futures-gateway/internal/market"
	"futures-gateway/internal/metrics"
	"futures-gateway/internal/order"
	"futures-gateway/internal/position"
	"futures-gateway/internal/server"
	"futures-gateway/internal/state/sqlite"

	"go.uber.org/zap"
)

const shutdownGrace = 10 * time.Second

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	rest      *rest.Client
	market    *market.Cache
	executor  *order.Executor
	positions *position.Service
	accounts  *account.Service
	sink      audit.Sink
	pgSink    *audit.PostgresSink
	feed      *ws.MarkPriceFeed
	server    *http.Server
	metrics   *metrics.Prometheus
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	prom := metrics.NewPrometheus()

	creds := rest.Credentials{APIKey: config.APIKey(), APISecret: config.APISecret()}
	// Jitter is left nil so the policy uses its full-jitter default.
	policy := rest.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	restClient := rest.NewClient(cfg.Binance.BaseURL, cfg.Binance.Timeout, creds, policy, log)
	restClient.SetMetrics(prom.Metrics)

	marketCache := market.NewCache(restClient, cfg.Cache.ExchangeInfoTTL, cfg.Cache.MarkPriceTTL, cfg.Cache.MarkPriceCapacity, log)
	marketCache.SetMetrics(prom.Metrics)

	leverageManager := leverage.New(restClient, cfg.Leverage.TTL, store, log)
	leverageManager.SetMetrics(prom.Metrics)

	sink, pgSink, err := buildAuditSink(cfg.Audit, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	executor := order.NewExecutor(restClient, marketCache, leverageManager, sink, cfg.Leverage.Max, log)
	executor.SetMetrics(prom.Metrics)

	positions := position.NewService(restClient, cfg.Cache.PositionTTL, sink, log)
	accounts := account.NewService(restClient, cfg.Cache.PositionTTL, log)

	var feed *ws.MarkPriceFeed
	if cfg.WS.Enabled {
		wsClient := ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
		feed = ws.NewMarkPriceFeed(wsClient, marketCache, cfg.WS.Symbols, log)
	}

	srv := server.New(executor, positions, accounts, marketCache, prom.Handler(), config.AuthToken(), log)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		rest:      restClient,
		market:    marketCache,
		executor:  executor,
		positions: positions,
		accounts:  accounts,
		sink:      sink,
		pgSink:    pgSink,
		feed:      feed,
		server:    httpServer,
		metrics:   prom,
	}, nil
}

func buildAuditSink(cfg config.AuditConfig, log *zap.Logger) (audit.Sink, *audit.PostgresSink, error) {
	var sinks audit.Tee
	if cfg.CSVPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.CSVPath), 0o755); err != nil {
			return nil, nil, err
		}
		csvSink, err := audit.NewCSVSink(cfg.CSVPath)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, csvSink)
	}
	var pgSink *audit.PostgresSink
	if cfg.PostgresDSN != "" {
		sink, err := audit.NewPostgresSink(cfg.PostgresDSN, 0, log)
		if err != nil {
			// CSV still records everything, so a dead database only
			// degrades the audit trail.
			log.Warn("postgres audit sink unavailable", zap.Error(err))
		} else {
			pgSink = sink
			sinks = append(sinks, sink)
		}
	}
	if len(sinks) == 0 {
		return audit.Noop{}, nil, nil
	}
	return sinks, pgSink, nil
}

// Run serves until ctx is cancelled, then drains with a grace period.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer func() {
		if err := a.sink.Close(); err != nil {
			a.log.Warn("audit sink close failed", zap.Error(err))
		}
	}()

	if a.pgSink != nil {
		a.pgSink.Start(ctx)
	}

	// Best-effort clock sync before the first signed call; the client
	// retries lazily if this fails.
	syncCtx, cancel := context.WithTimeout(ctx, a.cfg.Binance.Timeout)
	if err := a.rest.SyncTime(syncCtx); err != nil {
		a.log.Warn("initial time sync failed", zap.Error(err))
	}
	cancel()

	if a.feed != nil {
		go func() {
			if err := a.feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("mark price feed stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", zap.String("addr", a.cfg.Server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("server shutdown failed", zap.Error(err))
	}
	<-errCh
	return ctx.Err()
}
