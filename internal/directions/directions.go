// Package directions talks to the road-routing provider used for arrival
// estimates and road-snapped route geometry.
package directions

import (
	"context"
	"errors"

	"bus-relay/internal/geo"
)

var (
	// ErrUpstream covers an unreachable or misconfigured provider and
	// non-success HTTP responses.
	ErrUpstream = errors.New("directions upstream error")
	// ErrNoRouteFound means the provider answered but had no usable route.
	ErrNoRouteFound = errors.New("no route found")
	// ErrInsufficientStops is returned before any request when fewer than
	// two stops are given to RoutePath.
	ErrInsufficientStops = errors.New("at least two stops are required")
)

// Result is the travel estimate between two points.
type Result struct {
	DurationSeconds float64        `json:"duration"`
	DistanceMeters  float64        `json:"distance"`
	Path            []geo.Position `json:"path,omitempty"`
}

// Gateway is the contract the rest of the service needs from a directions provider.
type Gateway interface {
	// ETA returns travel time, distance and decoded path from origin to destination.
	ETA(ctx context.Context, origin, destination geo.Position) (Result, error)
	// RoutePath returns the road-snapped path through stops in order. The
	// first and last stops are origin and destination, the rest waypoints.
	RoutePath(ctx context.Context, stops []geo.Position) ([]geo.Position, error)
}

// Metrics receives per-request outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	DirectionsRequestObserve(op string, err error)
	PathCacheHit()
}

// ErrorKind labels err for metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoRouteFound):
		return "no_route"
	case errors.Is(err, ErrInsufficientStops):
		return "insufficient_stops"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "upstream"
	}
}
