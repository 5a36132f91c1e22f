// Package catalog holds the static city, route and stop definitions.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"bus-relay/internal/geo"
)

var (
	ErrCityNotFound  = errors.New("city not found")
	ErrRouteNotFound = errors.New("route not found")
)

type City struct {
	ID     string       `json:"id" yaml:"id" validate:"required"`
	Name   string       `json:"name" yaml:"name" validate:"required"`
	Center geo.Position `json:"center" yaml:"center"`
}

// Stop order within a Route is the direction of travel.
type Stop struct {
	Name          string       `json:"name" yaml:"name" validate:"required"`
	Position      geo.Position `json:"position" yaml:"position"`
	ScheduledTime string       `json:"scheduledTime" yaml:"scheduledTime"`
}

type Route struct {
	ID         string   `json:"id" yaml:"id" validate:"required"`
	Name       string   `json:"name" yaml:"name" validate:"required"`
	Stops      []Stop   `json:"stops" yaml:"stops" validate:"dive"`
	VehicleIDs []string `json:"buses" yaml:"buses" validate:"dive,required"`
}

// Catalog is the read-only source of route definitions.
type Catalog interface {
	ListCities(ctx context.Context) ([]City, error)
	ListRoutes(ctx context.Context, cityID string) ([]Route, error)
}

// FindRoute looks up a single route of a city.
func FindRoute(ctx context.Context, c Catalog, cityID, routeID string) (Route, error) {
	routes, err := c.ListRoutes(ctx, cityID)
	if err != nil {
		return Route{}, err
	}
	for _, r := range routes {
		if r.ID == routeID {
			return r, nil
		}
	}
	return Route{}, fmt.Errorf("%w: %s/%s", ErrRouteNotFound, cityID, routeID)
}

// RouteForVehicle returns the first route the vehicle is assigned to.
func RouteForVehicle(routes []Route, vehicleID string) (Route, bool) {
	for _, r := range routes {
		if r.HasVehicle(vehicleID) {
			return r, true
		}
	}
	return Route{}, false
}

func (r Route) HasVehicle(vehicleID string) bool {
	return r.VehicleIndex(vehicleID) >= 0
}

// VehicleIndex is the position of vehicleID in the route's vehicle list, or -1.
func (r Route) VehicleIndex(vehicleID string) int {
	for i, v := range r.VehicleIDs {
		if v == vehicleID {
			return i
		}
	}
	return -1
}

func (r Route) StopPositions() []geo.Position {
	out := make([]geo.Position, len(r.Stops))
	for i, s := range r.Stops {
		out[i] = s.Position
	}
	return out
}

// StopIndex returns the index of the first stop named name, or -1.
func (r Route) StopIndex(name string) int {
	for i, s := range r.Stops {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// NearestStop returns the closest stop index and its distance in meters.
func (r Route) NearestStop(p geo.Position) (int, float64) {
	return geo.NearestStopIndex(r.StopPositions(), p)
}

// NextStopIndex guesses the stop a vehicle at p is heading to: the closest
// stop, or the one after it once the vehicle is within threshold meters of
// the closest. It ignores direction of travel and visit history, so on routes
// that loop back near earlier stops it can pick a stop already served.
// Returns -1 for a route without stops.
func (r Route) NextStopIndex(p geo.Position, threshold float64) int {
	idx, d := r.NearestStop(p)
	if idx < 0 {
		return -1
	}
	if d < threshold && idx < len(r.Stops)-1 {
		return idx + 1
	}
	return idx
}

// VisibleVehicles restricts a presence snapshot to the vehicles assigned to r.
func (r Route) VisibleVehicles(online map[string]geo.Position) map[string]geo.Position {
	out := make(map[string]geo.Position)
	for _, id := range r.VehicleIDs {
		if p, ok := online[id]; ok {
			out[id] = p
		}
	}
	return out
}
