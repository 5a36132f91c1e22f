package metrics

import "bus-relay/internal/directions"

// Directions adapts c to directions.Metrics. A nil collector yields nil.
func (c *Collector) Directions() directions.Metrics {
	if c == nil {
		return nil
	}
	return dirMetrics{c: c}
}

type dirMetrics struct{ c *Collector }

func (d dirMetrics) PathCacheHit() { d.c.PathCacheHits.Inc() }
func (d dirMetrics) DirectionsRequestObserve(op string, err error) {
	d.c.DirectionsRequests.WithLabelValues(op, directions.ErrorKind(err)).Inc()
}
