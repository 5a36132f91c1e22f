// Package eta computes per-stop arrival estimates for a route from the
// positions of the route's online vehicles.
package eta

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"bus-relay/internal/catalog"
	"bus-relay/internal/directions"
	"bus-relay/internal/geo"
)

const DefaultInterval = 30 * time.Second

// Reasons an entry in a Table can be unavailable.
const (
	ReasonNoVehicles = "no_vehicles"
	ReasonNoRoute    = "no_route"
	ReasonUpstream   = "upstream"
)

// StopETA is the estimate for one stop. When Available is false only the stop
// fields and Reason are set.
type StopETA struct {
	StopIndex       int            `json:"stopIndex"`
	StopName        string         `json:"stopName"`
	ScheduledTime   string         `json:"scheduledTime,omitempty"`
	Available       bool           `json:"available"`
	Reason          string         `json:"reason,omitempty"`
	VehicleID       string         `json:"vehicleId,omitempty"`
	DurationSeconds float64        `json:"duration,omitempty"`
	DistanceMeters  float64        `json:"distance,omitempty"`
	Arrival         *time.Time     `json:"arrival,omitempty"`
	Deviation       *geo.Deviation `json:"deviation,omitempty"`
}

type Table struct {
	RouteID    string    `json:"routeId"`
	ComputedAt time.Time `json:"computedAt"`
	Stops      []StopETA `json:"stops"`
}

// Metrics receives one observation per computed table.
type Metrics interface {
	EtaCycleObserve(d time.Duration, unavailable int)
}

type Engine struct {
	gateway  directions.Gateway
	interval time.Duration
	loc      *time.Location
	metrics  Metrics

	// now is swapped in tests.
	now func() time.Time
}

// NewEngine returns an engine recomputing every interval (DefaultInterval
// when zero). Schedule deviations are evaluated in loc.
func NewEngine(gw directions.Gateway, interval time.Duration, loc *time.Location, m Metrics) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if loc == nil {
		loc = time.Local
	}
	return &Engine{gateway: gw, interval: interval, loc: loc, metrics: m, now: time.Now}
}

func (e *Engine) Interval() time.Duration { return e.interval }

// Compute builds the table for route from the online vehicle positions.
// Vehicles not assigned to route are ignored. Gateway failures mark the
// affected stop unavailable and never fail the whole table.
func (e *Engine) Compute(ctx context.Context, route catalog.Route, online map[string]geo.Position) Table {
	start := time.Now()
	now := e.now().In(e.loc)
	table := Table{RouteID: route.ID, ComputedAt: now, Stops: make([]StopETA, len(route.Stops))}
	visible := route.VisibleVehicles(online)

	var wg sync.WaitGroup
	for i, stop := range route.Stops {
		entry := &table.Stops[i]
		entry.StopIndex = i
		entry.StopName = stop.Name
		entry.ScheduledTime = stop.ScheduledTime

		vehicleID, pos, ok := nearestVehicle(route, visible, stop.Position)
		if !ok {
			entry.Reason = ReasonNoVehicles
			continue
		}
		wg.Add(1)
		go func(stop catalog.Stop) {
			defer wg.Done()
			res, err := e.gateway.ETA(ctx, pos, stop.Position)
			if err != nil {
				entry.Reason = ReasonUpstream
				if errors.Is(err, directions.ErrNoRouteFound) {
					entry.Reason = ReasonNoRoute
				}
				if !errors.Is(err, context.Canceled) {
					log.Printf("eta %s/%s via %s: %v", route.ID, stop.Name, vehicleID, err)
				}
				return
			}
			arrival := now.Add(time.Duration(res.DurationSeconds * float64(time.Second)))
			entry.Available = true
			entry.VehicleID = vehicleID
			entry.DurationSeconds = res.DurationSeconds
			entry.DistanceMeters = res.DistanceMeters
			entry.Arrival = &arrival
			if stop.ScheduledTime != "" {
				if dev, err := geo.ClassifyDeviation(stop.ScheduledTime, arrival); err == nil {
					entry.Deviation = &dev
				}
			}
		}(stop)
	}
	wg.Wait()

	if e.metrics != nil {
		e.metrics.EtaCycleObserve(time.Since(start), table.Unavailable())
	}
	return table
}

// Unavailable counts the stops without an estimate.
func (t Table) Unavailable() int {
	n := 0
	for _, s := range t.Stops {
		if !s.Available {
			n++
		}
	}
	return n
}

// Run emits a fresh table immediately and then every interval until ctx is
// done. snapshot is read on every cycle.
func (e *Engine) Run(ctx context.Context, route catalog.Route, snapshot func() map[string]geo.Position, emit func(Table)) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		table := e.Compute(ctx, route, snapshot())
		if ctx.Err() != nil {
			return
		}
		emit(table)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// nearestVehicle picks the assigned online vehicle closest to target. Ties go
// to the vehicle listed first on the route.
func nearestVehicle(route catalog.Route, online map[string]geo.Position, target geo.Position) (string, geo.Position, bool) {
	bestID := ""
	var bestPos geo.Position
	bestDist := 0.0
	for _, id := range route.VehicleIDs {
		p, ok := online[id]
		if !ok {
			continue
		}
		d := geo.Haversine(p, target)
		if bestID == "" || d < bestDist {
			bestID, bestPos, bestDist = id, p, d
		}
	}
	return bestID, bestPos, bestID != ""
}
