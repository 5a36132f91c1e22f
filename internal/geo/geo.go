package geo

import (
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by Haversine.
const EarthRadiusMeters = 6371000.0

// Position is a WGS-84 coordinate in degrees.
type Position struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Position) IsFinite() bool {
	return !math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0) && !math.IsNaN(p.Lng) && !math.IsInf(p.Lng, 0)
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Position) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h just past 1 for near-antipodal points
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Bearing returns the initial bearing from a to b in degrees [0,360).
func Bearing(a, b Position) float64 {
	y := math.Sin((b.Lng-a.Lng)*math.Pi/180.0) * math.Cos(b.Lat*math.Pi/180.0)
	x := math.Cos(a.Lat*math.Pi/180.0)*math.Sin(b.Lat*math.Pi/180.0) - math.Sin(a.Lat*math.Pi/180.0)*math.Cos(b.Lat*math.Pi/180.0)*math.Cos((b.Lng-a.Lng)*math.Pi/180.0)
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// NearestIndexOnPath returns the index of the path vertex closest to p using
// planar distance in degree space. Only meant for dense, city-scale polylines.
// Returns -1 for an empty path.
func NearestIndexOnPath(path []Position, p Position) int {
	best := -1
	bestD := math.Inf(1)
	for i, v := range path {
		dLat := v.Lat - p.Lat
		dLng := v.Lng - p.Lng
		d := math.Sqrt(dLat*dLat + dLng*dLng)
		if d < bestD {
			bestD = d
			best = i
		}
	}
	return best
}

// NearestStopIndex scans stops linearly and returns the index and haversine
// distance of the closest one. Ties keep the lowest index.
// Returns -1 and +Inf when stops is empty.
func NearestStopIndex(stops []Position, p Position) (int, float64) {
	best := -1
	bestD := math.Inf(1)
	for i, s := range stops {
		d := Haversine(s, p)
		if d < bestD {
			bestD = d
			best = i
		}
	}
	return best, bestD
}
