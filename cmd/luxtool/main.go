// Package main runs the motolight API: the fog-light wattage wizard, saved
// reports and the catalog admin endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/motolight/motolight/engine/capacity"
	"github.com/motolight/motolight/engine/catalog"
	"github.com/motolight/motolight/engine/report"
	"github.com/motolight/motolight/engine/session"
	"github.com/motolight/motolight/pkg/config"
	"github.com/motolight/motolight/pkg/metrics"
	"github.com/motolight/motolight/pkg/mid"
	"github.com/motolight/motolight/pkg/natsutil"
)

const reportCacheSize = 1024

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Neo4j ---
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(context.Background())

	// --- NATS (optional) ---
	nc, err := natsutil.Connect(cfg.NATSURL, "luxtool")
	if err != nil {
		return err
	}
	var events natsutil.Publisher
	if nc != nil {
		events = nc
		defer nc.Drain()
	}

	reg := metrics.New()

	// --- Catalog ---
	store := catalog.NewStore(driver)
	cache, err := catalog.OpenBadgerCache(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer cache.Close()

	provider := catalog.NewProvider(store,
		catalog.WithCache(cache),
		catalog.WithMaxAge(cfg.CatalogMaxAge),
		catalog.WithLogger(logger),
		catalog.WithMetrics(catalog.NewMetrics(reg)),
	)
	provider.Start()
	defer provider.Close()
	if nc != nil {
		if err := provider.Listen(nc); err != nil {
			return err
		}
	}

	// --- Reports ---
	reports, err := report.NewCachedStore(report.NewNeo4jStore(driver), reportCacheSize)
	if err != nil {
		return err
	}
	saverOpts := []report.SaverOption{report.WithLogger(logger)}
	if events != nil {
		saverOpts = append(saverOpts, report.WithEvents(events))
	}
	sharer, err := report.NewSharer(cfg.BaseURL, cfg.ShareTemplate)
	if err != nil {
		return err
	}

	// --- Sessions ---
	sessions := session.NewRegistry(
		session.Config{TTL: cfg.SessionTTL, Limit: cfg.SessionLimit},
		session.Deps{
			Catalog: provider,
			Calculator: capacity.New(capacity.Config{
				RecommendedFraction:   cfg.RecommendedFraction,
				AssumedFixtureCeiling: cfg.AssumedFixtureCeiling,
			}),
			Builder: report.NewBuilder(),
			Saver:   report.NewSaver(reports, saverOpts...),
			Reports: reports,
		},
		session.WithLogger(logger),
		session.WithMetrics(session.NewMetrics(reg)),
	)
	defer sessions.Close()

	// --- HTTP ---
	api := &Server{
		Catalog:         provider,
		Sessions:        sessions,
		Reports:         reports,
		Sharer:          sharer,
		Admin:           store,
		Events:          events,
		Metrics:         reg,
		Logger:          logger,
		AdminToken:      cfg.AdminToken,
		ShareRatePerSec: cfg.ShareRatePerSec,
		ShareBurst:      cfg.ShareBurst,
	}
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set; admin endpoints are disabled")
	}

	handler := mid.Chain(api.Routes(),
		mid.OTel("luxtool"),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "nats", nc != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
