package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"bus-relay/internal/catalog"
	"bus-relay/internal/config"
	"bus-relay/internal/directions"
	"bus-relay/internal/metrics"
	"bus-relay/internal/relay"
	"bus-relay/internal/sim"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cat, closeCatalog, err := catalog.OpenSource(ctx, cfg.CatalogSource, cfg.CatalogFile, cfg.DatabaseURL, cfg.CatalogDB)
	if err != nil {
		log.Fatalf("catalog error: %v", err)
	}
	defer closeCatalog()

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrvCancel context.CancelFunc
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.EtaRefreshInterval, cfg.PublishInterval, cfg.SpeedMultiplier)
		mctx, mcancel := context.WithCancel(ctx)
		metricsSrvCancel = mcancel
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-mctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Without a directions key vehicles drive straight between stops
	var gw directions.Gateway
	if cfg.DirectionsAPIKey != "" {
		dm := mcol.Directions()
		gw = directions.NewCachedGateway(
			directions.NewGoogleClient(cfg.DirectionsBaseURL, cfg.DirectionsAPIKey, cfg.DirectionsTimeout, dm),
			cfg.PathCacheSize, cfg.PathCacheTTL, dm,
		)
	}

	load := func(ctx context.Context) ([]catalog.Route, error) {
		routes, err := cat.ListRoutes(ctx, cfg.SimCity)
		if err != nil {
			return nil, err
		}
		selected := sim.FilterRoutes(routes, cfg.SimRoutes)
		if len(selected) == 0 {
			log.Printf("no routes selected in city %q", cfg.SimCity)
		}
		return selected, nil
	}
	dial := func(ctx context.Context) (sim.Sender, error) {
		c, err := relay.Dial(ctx, cfg.RelayURL)
		if err != nil {
			return nil, err
		}
		c.DiscardIncoming()
		return c, nil
	}

	mgr := sim.NewManager(dial, load, gw, cfg.SimVehiclesPerRoute, cfg.PublishInterval, cfg.SimSpeedMps, cfg.SpeedMultiplier, cfg.SimRefreshInterval, mcol)
	if err := mgr.Refresh(ctx); err != nil {
		log.Fatalf("load routes error: %v", err)
	}
	log.Printf("simulating %d vehicles in %s against %s", mgr.Running(), cfg.SimCity, cfg.RelayURL)
	// Pick up vehicles assigned to routes after startup
	mgr.StartRefresher(ctx)

	// Block until context cancelled
	<-ctx.Done()
	mgr.Stop()
	if metricsSrvCancel != nil {
		metricsSrvCancel()
	}
	log.Println("shutdown complete")
}
