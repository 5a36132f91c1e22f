// Package sim drives simulated vehicles along catalog routes and reports
// their positions to a relay like real onboard devices.
package sim

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"bus-relay/internal/catalog"
	"bus-relay/internal/directions"
	"bus-relay/internal/geo"
	mmetrics "bus-relay/internal/metrics"
)

// Sender is a vehicle's connection to the relay.
type Sender interface {
	SendPosition(vehicleID string, pos geo.Position) error
	Close() error
}

type Dialer func(ctx context.Context) (Sender, error)

// RouteLoader returns the routes to simulate.
type RouteLoader func(ctx context.Context) ([]catalog.Route, error)

type Manager struct {
	dial             Dialer
	load             RouteLoader
	gateway          directions.Gateway
	vehiclesPerRoute int
	publishInterval  time.Duration
	speedMps         float64
	speedMultiplier  float64
	refreshInterval  time.Duration
	metrics          *mmetrics.Collector

	mu      sync.Mutex
	running map[string]context.CancelFunc // vehicleID -> cancel
	wg      sync.WaitGroup

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

// NewManager returns a manager. gw may be nil, in which case vehicles drive
// straight lines between stops.
func NewManager(dial Dialer, load RouteLoader, gw directions.Gateway, vehiclesPerRoute int, publishInterval time.Duration, speedMps, speedMultiplier float64, refreshInterval time.Duration, metrics *mmetrics.Collector) *Manager {
	return &Manager{
		dial:             dial,
		load:             load,
		gateway:          gw,
		vehiclesPerRoute: vehiclesPerRoute,
		publishInterval:  publishInterval,
		speedMps:         speedMps,
		speedMultiplier:  speedMultiplier,
		refreshInterval:  refreshInterval,
		metrics:          metrics,
		running:          make(map[string]context.CancelFunc),
	}
}

// Start launches up to vehiclesPerRoute vehicles on each route.
func (m *Manager) Start(ctx context.Context, routes []catalog.Route) {
	for _, r := range routes {
		n := min(m.vehiclesPerRoute, len(r.VehicleIDs))
		for i := 0; i < n; i++ {
			m.startVehicle(ctx, r, r.VehicleIDs[i], float64(i)/float64(n))
		}
	}
}

// Running returns the number of vehicles currently driving.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *Manager) startVehicle(parent context.Context, r catalog.Route, vehicleID string, offset float64) {
	m.mu.Lock()
	if _, exists := m.running[vehicleID]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[vehicleID] = cancel
	m.wg.Add(1)
	if m.metrics != nil {
		m.metrics.SimVehicles.Set(float64(len(m.running)))
	}
	m.mu.Unlock()

	log.Printf("starting vehicle %s on %s", vehicleID, r.ID)
	go func() {
		defer m.wg.Done()
		if err := m.runVehicle(ctx, r, vehicleID, offset); err != nil && ctx.Err() == nil {
			log.Printf("vehicle %s error: %v", vehicleID, err)
		}
		m.mu.Lock()
		delete(m.running, vehicleID)
		if m.metrics != nil {
			m.metrics.SimVehicles.Set(float64(len(m.running)))
		}
		m.mu.Unlock()
	}()
}

func (m *Manager) runVehicle(ctx context.Context, r catalog.Route, vehicleID string, offset float64) error {
	path := m.routePath(ctx, r)
	if len(path) == 0 {
		return fmt.Errorf("route %s has no stops", r.ID)
	}
	cum := geo.CumulativeDistances(path)
	total := cum[len(cum)-1]
	startDist := offset * 2 * total

	tick := time.NewTicker(m.publishInterval)
	defer tick.Stop()

	var sender Sender
	defer func() {
		if sender != nil {
			_ = sender.Close()
		}
	}()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			tickStart := time.Now()
			if sender == nil {
				s, err := m.dial(ctx)
				if err != nil {
					log.Printf("vehicle %s dial: %v", vehicleID, err)
					continue
				}
				sender = s
			}
			traveled := startDist + now.Sub(start).Seconds()*m.speedMps*m.speedMultiplier
			pos, _ := geo.Interpolate(path, cum, pingPong(traveled, total))
			if err := sender.SendPosition(vehicleID, pos); err != nil {
				log.Printf("send error for %s: %v", vehicleID, err)
				if m.metrics != nil {
					m.metrics.SimSendErrs.Inc()
				}
				_ = sender.Close()
				sender = nil
			}
			if m.metrics != nil {
				m.metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
			}
		}
	}
}

// routePath asks the gateway for the road path through the stops and falls
// back to straight lines between them.
func (m *Manager) routePath(ctx context.Context, r catalog.Route) []geo.Position {
	stops := r.StopPositions()
	if m.gateway == nil || len(stops) < 2 {
		return stops
	}
	path, err := m.gateway.RoutePath(ctx, stops)
	if err != nil || len(path) == 0 {
		log.Printf("route path for %s unavailable, using stop polyline: %v", r.ID, err)
		return stops
	}
	return path
}

// pingPong folds a distance traveled into a position along a path of length
// total driven back and forth.
func pingPong(traveled, total float64) float64 {
	if total <= 0 {
		return 0
	}
	x := math.Mod(traveled, 2*total)
	if x < 0 {
		x += 2 * total
	}
	if x > total {
		return 2*total - x
	}
	return x
}

func (m *Manager) Stop() {
	if m.refreshCancel != nil {
		m.refreshCancel()
	}
	m.refreshWG.Wait()
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// StartRefresher launches a background loop that periodically reloads the
// routes and starts vehicles newly assigned to them.
func (m *Manager) StartRefresher(parent context.Context) {
	if m.refreshInterval <= 0 || m.load == nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.refreshCancel = cancel
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Refresh(parent); err != nil {
					log.Printf("refresh routes error: %v", err)
				}
			}
		}
	}()
}

// Refresh loads the routes and starts any vehicle not yet running.
func (m *Manager) Refresh(ctx context.Context) error {
	routes, err := m.load(ctx)
	if err != nil {
		return err
	}
	m.Start(ctx, routes)
	return nil
}

// FilterRoutes keeps the routes whose ids are listed, in catalog order. An
// empty list keeps every route.
func FilterRoutes(routes []catalog.Route, ids []string) []catalog.Route {
	if len(ids) == 0 {
		return routes
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []catalog.Route
	for _, r := range routes {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out
}
