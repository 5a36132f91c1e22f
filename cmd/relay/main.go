package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bus-relay/internal/api"
	"bus-relay/internal/catalog"
	"bus-relay/internal/config"
	"bus-relay/internal/directions"
	"bus-relay/internal/eta"
	"bus-relay/internal/metrics"
	"bus-relay/internal/presence"
	"bus-relay/internal/publisher"
	"bus-relay/internal/relay"
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

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.EtaRefreshInterval, cfg.PublishInterval, cfg.SpeedMultiplier)
		msrv := mcol.Serve(cfg.MetricsAddr)
		defer shutdown(msrv)
	}

	// Optional broker mirror of relay events
	var sink relay.EventSink
	switch cfg.EventsBackend {
	case config.EventsNATS:
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
		sink = pub
	case config.EventsAMQP:
		pub, err := publisher.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("amqp error: %v", err)
		}
		defer pub.Close()
		sink = pub
	}

	if cfg.DirectionsAPIKey == "" {
		log.Printf("no directions api key configured; eta and path requests will report upstream errors")
	}
	dm := mcol.Directions()
	gw := directions.NewCachedGateway(
		directions.NewGoogleClient(cfg.DirectionsBaseURL, cfg.DirectionsAPIKey, cfg.DirectionsTimeout, dm),
		cfg.PathCacheSize, cfg.PathCacheTTL, dm,
	)

	hub := relay.NewHub(presence.New(), sink, wrapRelayMetrics(mcol), cfg.LogRelayMessages)
	engine := eta.NewEngine(gw, cfg.EtaRefreshInterval, cfg.Location, wrapEtaMetrics(mcol))
	nav := &eta.Navigator{
		Gateway:         gw,
		ViewerThreshold: cfg.NextStopThreshold,
		DriverThreshold: cfg.DriverStopThreshold,
		StartProximity:  cfg.StartProximity,
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewServer(hub, cat, gw, engine, nav).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("relay listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
			cancel()
		}
	}()

	// Block until context cancelled
	<-ctx.Done()
	shutdown(srv)
	log.Println("shutdown complete")
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
