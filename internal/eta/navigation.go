package eta

import (
	"context"
	"errors"
	"fmt"
	"log"

	"bus-relay/internal/catalog"
	"bus-relay/internal/directions"
	"bus-relay/internal/geo"
)

var ErrNoStops = errors.New("route has no stops")

// Navigator picks the stop a vehicle is heading to and fetches the road path
// to it.
type Navigator struct {
	Gateway directions.Gateway
	// ViewerThreshold and DriverThreshold are the distances in meters under
	// which a vehicle counts as at its closest stop and moves on to the next.
	ViewerThreshold float64
	DriverThreshold float64
	// StartProximity is how close in meters a driver must be to the first
	// stop before the route is followed.
	StartProximity float64
}

type Navigation struct {
	VehicleID     string             `json:"vehicleId"`
	Position      geo.Position       `json:"position"`
	NextStopIndex int                `json:"nextStopIndex"`
	NextStop      catalog.Stop       `json:"nextStop"`
	AwayFromStart bool               `json:"awayFromStart"`
	Available     bool               `json:"available"`
	ETA           *directions.Result `json:"eta,omitempty"`
}

// ForViewer targets the next stop of a vehicle seen on the map.
func (n *Navigator) ForViewer(ctx context.Context, route catalog.Route, vehicleID string, pos geo.Position) (Navigation, error) {
	if len(route.Stops) == 0 {
		return Navigation{}, fmt.Errorf("%w: %s", ErrNoStops, route.ID)
	}
	nav := Navigation{VehicleID: vehicleID, Position: pos}
	nav.NextStopIndex = route.NextStopIndex(pos, n.ViewerThreshold)
	return n.finish(ctx, route, nav), nil
}

// ForDriver targets the first stop while the driver is farther than
// StartProximity from it, and the next stop otherwise.
func (n *Navigator) ForDriver(ctx context.Context, route catalog.Route, vehicleID string, pos geo.Position) (Navigation, error) {
	if len(route.Stops) == 0 {
		return Navigation{}, fmt.Errorf("%w: %s", ErrNoStops, route.ID)
	}
	nav := Navigation{VehicleID: vehicleID, Position: pos}
	if geo.Haversine(pos, route.Stops[0].Position) > n.StartProximity {
		nav.AwayFromStart = true
		nav.NextStopIndex = 0
	} else {
		nav.NextStopIndex = route.NextStopIndex(pos, n.DriverThreshold)
	}
	return n.finish(ctx, route, nav), nil
}

// finish fills the stop and asks the gateway for the path. A gateway failure
// leaves the navigation unavailable.
func (n *Navigator) finish(ctx context.Context, route catalog.Route, nav Navigation) Navigation {
	nav.NextStop = route.Stops[nav.NextStopIndex]
	res, err := n.Gateway.ETA(ctx, nav.Position, nav.NextStop.Position)
	if err != nil {
		log.Printf("navigation %s to stop %q: %v", nav.VehicleID, nav.NextStop.Name, err)
		return nav
	}
	nav.Available = true
	nav.ETA = &res
	return nav
}
