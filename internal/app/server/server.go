// Package server wires storage, executors, the auction engine and the HTTP transport
// into one process.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"ad-selection-engine/internal/api"
	"ad-selection-engine/internal/bidding"
	"ad-selection-engine/internal/config"
	"ad-selection-engine/internal/engine"
	"ad-selection-engine/internal/evaluator"
	"ad-selection-engine/internal/executor"
	"ad-selection-engine/internal/fetch"
	"ad-selection-engine/internal/filtering"
	"ad-selection-engine/internal/listener"
	"ad-selection-engine/internal/observability"
	"ad-selection-engine/internal/remote"
	"ad-selection-engine/internal/requestfilter"
	"ad-selection-engine/internal/scoring"
	"ad-selection-engine/internal/storage"
	"ad-selection-engine/internal/throttle"
	"ad-selection-engine/props"
)

const (
	histogramRetention = 30 * 24 * time.Hour
	requestSlack       = 2 * time.Second
)

type Server struct {
	cfg      config.Config
	exec     *executor.Executors
	runner   *engine.Runner
	handler  http.Handler
	store    *storage.Store
	snapshot *storage.Snapshotted
}

// New builds every collaborator from cfg. Collectors are registered with reg.
func New(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*Server, error) {
	clk := clock.New()
	ad := cfg.AdSelection.WithDefaults()
	s := &Server{cfg: cfg, exec: executor.New(ad, clk)}

	var (
		inv       storage.Inventory
		results   storage.Results
		overrides storage.Overrides
	)
	switch cfg.Storage.Backend {
	case "", "memory":
		mem := storage.NewMemory()
		inv, results, overrides = mem, mem, mem
	case "postgres":
		store, err := storage.New(ctx, cfg)
		if err != nil {
			s.exec.Stop()
			return nil, fmt.Errorf("init storage: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			s.exec.Stop()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		s.store = store
		s.snapshot = storage.NewSnapshotted(store)
		inv, results, overrides = s.snapshot, store, store
	default:
		s.exec.Stop()
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	apps := filtering.NewAppInstallStore()
	if cfg.Storage.Fixtures != "" {
		fx, err := props.LoadFixtures(cfg.Storage.Fixtures)
		if err == nil {
			err = fx.Apply(ctx, clk.Now(), inv, overrides, apps)
		}
		if err != nil {
			s.Close()
			return nil, err
		}
		log.Info().Str("path", cfg.Storage.Fixtures).Int("custom_audiences", len(fx.CustomAudiences)).Msg("fixtures loaded")
	}
	if s.snapshot != nil {
		if err := s.snapshot.Refresh(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("initial snapshot build: %w", err)
		}
	}

	httpClient := &http.Client{Timeout: ad.OverallTimeout}
	fetcher := fetch.NewHTTPFetcher(httpClient, ad.FetchCacheTTL)
	ev := evaluator.NewExprEvaluator(ad.FetchCacheTTL)
	telemetry := observability.NewTelemetry(reg)
	histogram := filtering.NewHistogram(histogramRetention, clk)

	var strategy engine.Strategy
	if ad.TrustedServer.Enabled {
		strategy = engine.NewTrustedServer(remote.NewHTTPClient(ad.TrustedServer.Endpoint, httpClient), ad.TrustedServer.Compression, s.exec, telemetry)
	} else {
		strategy = engine.NewOnDevice(
			bidding.New(ev, fetcher, overrides, s.exec, ad),
			scoring.New(ev, fetcher),
			s.exec, ad, telemetry,
		)
	}

	s.runner = engine.New(engine.Deps{
		Config:     ad,
		Exec:       s.exec,
		Filter:     requestfilter.NewPolicyFilter(ad, throttle.New(ad.RateLimitPerSecond, clk), nil),
		Inventory:  inv,
		Results:    results,
		Overrides:  overrides,
		Strategy:   strategy,
		Fetcher:    fetcher,
		Evaluator:  ev,
		AdFilterer: filtering.NewPolicyFilterer(apps, histogram, clk),
		Enricher:   filtering.NewAdCounterEnricher(histogram),
		Telemetry:  telemetry,
	})
	s.handler = api.Router(api.NewAdSelectionHandler(s.runner), ad.OverallTimeout+requestSlack)
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Runner() *engine.Runner { return s.runner }

// Listen refreshes the inventory snapshot on database notifications until ctx ends.
// It returns at once for the memory backend.
func (s *Server) Listen(ctx context.Context) {
	if s.store == nil || s.snapshot == nil {
		return
	}
	listener.ListenAndRefresh(ctx, s.store.PgxPool(), s.snapshot, s.store.ListenChannel(), s.cfg.Backoff())
}

// Close drains the pools and releases the database.
func (s *Server) Close() {
	s.exec.Stop()
	if s.store != nil {
		s.store.Close()
	}
}

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := New(rootCtx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("init server")
	}
	defer s.Close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.AdSelection.WithDefaults().OverallTimeout + 2*requestSlack,
		IdleTimeout:  60 * time.Second,
	}

	// Listener (LISTEN/NOTIFY)
	go s.Listen(rootCtx)

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("backend", cfg.Storage.Backend).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	waitForSignal()
	log.Info().Msg("shutdown...")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
