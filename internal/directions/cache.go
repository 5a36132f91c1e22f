package directions

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bluele/gcache"

	"bus-relay/internal/geo"
)

// CachedGateway memoizes RoutePath results for a bounded time. Route
// geometry between fixed stops rarely changes, while ETAs must stay fresh,
// so ETA calls always reach the wrapped gateway.
type CachedGateway struct {
	next    Gateway
	paths   gcache.Cache
	metrics Metrics
}

func NewCachedGateway(next Gateway, size int, ttl time.Duration, m Metrics) *CachedGateway {
	return &CachedGateway{
		next:    next,
		paths:   gcache.New(size).LRU().Expiration(ttl).Build(),
		metrics: m,
	}
}

func (g *CachedGateway) ETA(ctx context.Context, origin, destination geo.Position) (Result, error) {
	return g.next.ETA(ctx, origin, destination)
}

func (g *CachedGateway) RoutePath(ctx context.Context, stops []geo.Position) ([]geo.Position, error) {
	if len(stops) < 2 {
		return nil, ErrInsufficientStops
	}
	key := pathCacheKey(stops)
	if cached, err := g.paths.Get(key); err == nil {
		if path, ok := cached.([]geo.Position); ok {
			if g.metrics != nil {
				g.metrics.PathCacheHit()
			}
			return clonePath(path), nil
		}
	}
	path, err := g.next.RoutePath(ctx, stops)
	if err != nil {
		return nil, err
	}
	_ = g.paths.Set(key, clonePath(path))
	return path, nil
}

// pathCacheKey rounds to 5 decimals, the precision of the polyline format.
func pathCacheKey(stops []geo.Position) string {
	parts := make([]string, len(stops))
	for i, s := range stops {
		parts[i] = fmt.Sprintf("%.5f,%.5f", quantize(s.Lat), quantize(s.Lng))
	}
	return strings.Join(parts, ";")
}

func quantize(v float64) float64 {
	return math.Round(v*polylinePrecision) / polylinePrecision
}

func clonePath(path []geo.Position) []geo.Position {
	out := make([]geo.Position, len(path))
	copy(out, path)
	return out
}
