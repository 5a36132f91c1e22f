package eta

import (
	"bus-relay/internal/catalog"
	"bus-relay/internal/geo"
)

// Segments splits a route path around a rider's journey. Adjacent segments
// share their boundary vertex. Without a usable journey the whole path is in
// Before and the other two are empty.
type Segments struct {
	Before  []geo.Position `json:"before"`
	Journey []geo.Position `json:"journey"`
	After   []geo.Position `json:"after"`
	// Stops lists the stops from source to destination inclusive, or every
	// stop of the route without a usable journey.
	Stops []catalog.Stop `json:"stops"`
}

// HasJourney reports whether the segmentation found a journey.
func (s Segments) HasJourney() bool { return len(s.Journey) > 0 }

// SegmentJourney partitions path between the path vertices nearest to the
// source stop src and destination stop dst of route.
func SegmentJourney(path []geo.Position, route catalog.Route, src, dst int) Segments {
	whole := Segments{
		Before:  path,
		Journey: []geo.Position{},
		After:   []geo.Position{},
		Stops:   route.Stops,
	}
	if src < 0 || dst >= len(route.Stops) || src >= dst {
		return whole
	}
	s := geo.NearestIndexOnPath(path, route.Stops[src].Position)
	d := geo.NearestIndexOnPath(path, route.Stops[dst].Position)
	if s < 0 || d < 0 || s > d {
		return whole
	}
	return Segments{
		Before:  path[:s+1],
		Journey: path[s : d+1],
		After:   path[d:],
		Stops:   route.Stops[src : dst+1],
	}
}

// SegmentJourneyByName is SegmentJourney with stops given by name.
func SegmentJourneyByName(path []geo.Position, route catalog.Route, source, destination string) Segments {
	return SegmentJourney(path, route, route.StopIndex(source), route.StopIndex(destination))
}
