package main

import (
	"time"

	"bus-relay/internal/eta"
	"bus-relay/internal/metrics"
	"bus-relay/internal/publisher"
	"bus-relay/internal/relay"
)

// wrapRelayMetrics adapts our Collector to the hub's Metrics interface.
func wrapRelayMetrics(c *metrics.Collector) relay.Metrics {
	if c == nil {
		return nil
	}
	return &relayMetrics{c: c}
}

type relayMetrics struct{ c *metrics.Collector }

func (r *relayMetrics) SessionOpened() {
	r.c.Sessions.Inc()
	r.c.SessionsOpened.Inc()
}

func (r *relayMetrics) SessionClosed()               { r.c.Sessions.Dec() }
func (r *relayMetrics) UpdateAccepted()              { r.c.UpdatesAccepted.Inc() }
func (r *relayMetrics) MessageDropped(reason string) { r.c.MessagesDropped.WithLabelValues(reason).Inc() }
func (r *relayMetrics) MessageSent(msgType string)   { r.c.MessagesSent.WithLabelValues(msgType).Inc() }
func (r *relayMetrics) SendDropped(msgType string)   { r.c.SendsDropped.WithLabelValues(msgType).Inc() }
func (r *relayMetrics) OnlineVehicles(n int)         { r.c.OnlineVehicles.Set(float64(n)) }

func wrapEtaMetrics(c *metrics.Collector) eta.Metrics {
	if c == nil {
		return nil
	}
	return &etaMetrics{c: c}
}

type etaMetrics struct{ c *metrics.Collector }

func (e *etaMetrics) EtaCycleObserve(d time.Duration, unavailable int) {
	e.c.EtaCycleDuration.Observe(d.Seconds())
	e.c.EtaUnavailable.Add(float64(unavailable))
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) PublishedInc(backend string)    { p.c.EventsPublished.WithLabelValues(backend).Inc() }
func (p *pubMetrics) PublishErrInc(backend string)   { p.c.EventPublishErrs.WithLabelValues(backend).Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) SetConnected(backend string, b bool) {
	if b {
		p.c.EventsConnected.WithLabelValues(backend).Set(1)
	} else {
		p.c.EventsConnected.WithLabelValues(backend).Set(0)
	}
}
