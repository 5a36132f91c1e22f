package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Sessions        prometheus.Gauge
	SessionsOpened  prometheus.Counter
	OnlineVehicles  prometheus.Gauge
	UpdatesAccepted prometheus.Counter
	MessagesDropped *prometheus.CounterVec // reason label: malformed|invalid|unknown_type|rebind|disconnected
	MessagesSent    *prometheus.CounterVec // type label
	SendsDropped    *prometheus.CounterVec // type label

	DirectionsRequests *prometheus.CounterVec // op, result labels
	PathCacheHits      prometheus.Counter

	EtaCycleDuration prometheus.Histogram
	EtaUnavailable   prometheus.Counter

	EventsPublished  *prometheus.CounterVec // backend label: nats|amqp
	EventPublishErrs *prometheus.CounterVec
	EventsConnected  *prometheus.GaugeVec
	PublishDuration  prometheus.Histogram

	SimVehicles     prometheus.Gauge
	SimSendErrs     prometheus.Counter
	TickDuration    prometheus.Histogram
	SpeedMultiplier prometheus.Gauge
	PublishInterval prometheus.Gauge // seconds
	EtaInterval     prometheus.Gauge // seconds
}

func NewCollector(etaInterval, publishInterval time.Duration, speedMultiplier float64) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions",
			Help: "Number of live relay connections.",
		}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_opened_total",
			Help: "Total relay connections accepted.",
		}),
		OnlineVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_online_vehicles",
			Help: "Number of vehicles in the presence registry.",
		}),
		UpdatesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_updates_accepted_total",
			Help: "Total position updates applied to the registry.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_dropped_total",
			Help: "Inbound relay messages dropped, by reason.",
		}, []string{"reason"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_sent_total",
			Help: "Outbound relay messages queued, by type.",
		}, []string{"type"}),
		SendsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sends_dropped_total",
			Help: "Outbound relay messages dropped on a full session queue, by type.",
		}, []string{"type"}),
		DirectionsRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "directions_requests_total",
			Help: "Directions provider requests, by operation and result.",
		}, []string{"op", "result"}),
		PathCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "directions_path_cache_hits_total",
			Help: "Route paths served from cache.",
		}),
		EtaCycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eta_cycle_duration_seconds",
			Help:    "Duration of one per-route ETA table computation.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		EtaUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eta_unavailable_stops_total",
			Help: "Stops reported without an estimate.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Relay events mirrored to the event backend.",
		}, []string{"backend"}),
		EventPublishErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_publish_errors_total",
			Help: "Relay event publish errors.",
		}, []string{"backend"}),
		EventsConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "events_connected",
			Help: "1 if the event backend connection is established, 0 otherwise.",
		}, []string{"backend"}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "events_publish_duration_seconds",
			Help:    "Duration to marshal and publish a relay event.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SimVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_active_vehicles",
			Help: "Number of simulated vehicles currently driving.",
		}),
		SimSendErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_send_errors_total",
			Help: "Position updates the simulator failed to send.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_tick_duration_seconds",
			Help:    "Duration of simulation tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_speed_multiplier",
			Help: "Current speed multiplier.",
		}),
		PublishInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_publish_interval_seconds",
			Help: "Publish interval in seconds.",
		}),
		EtaInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eta_refresh_interval_seconds",
			Help: "ETA recompute interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.Sessions, c.SessionsOpened, c.OnlineVehicles, c.UpdatesAccepted,
		c.MessagesDropped, c.MessagesSent, c.SendsDropped,
		c.DirectionsRequests, c.PathCacheHits,
		c.EtaCycleDuration, c.EtaUnavailable,
		c.EventsPublished, c.EventPublishErrs, c.EventsConnected, c.PublishDuration,
		c.SimVehicles, c.SimSendErrs, c.TickDuration,
		c.SpeedMultiplier, c.PublishInterval, c.EtaInterval,
	)

	c.EtaInterval.Set(etaInterval.Seconds())
	c.PublishInterval.Set(publishInterval.Seconds())
	c.SpeedMultiplier.Set(speedMultiplier)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
