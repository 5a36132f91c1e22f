package geo

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine(t *testing.T) {
	tests := []struct {
		name string
		a, b Position
		want float64
		tol  float64
	}{
		{name: "same point", a: Position{22.706, 75.873}, b: Position{22.706, 75.873}, want: 0, tol: 0},
		{name: "one degree of latitude", a: Position{0, 0}, b: Position{1, 0}, want: 111195, tol: 1},
		{name: "city scale", a: Position{22.706, 75.873}, b: Position{22.715, 75.880}, want: 1232, tol: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Haversine(tt.a, tt.b), tt.tol)
		})
	}
}

func TestHaversineSymmetric(t *testing.T) {
	points := []Position{
		{22.706, 75.873},
		{23.1793, 75.7849},
		{-33.86, 151.21},
		{51.5, -0.12},
		{0, 179.9},
	}
	for _, a := range points {
		assert.Zero(t, Haversine(a, a))
		for _, b := range points {
			assert.InDelta(t, Haversine(a, b), Haversine(b, a), 1e-6)
		}
	}
}

func TestHaversineNearAntipodal(t *testing.T) {
	halfCircumference := math.Pi * EarthRadiusMeters
	for lat := -89.0; lat <= 89.0; lat += 0.0089 {
		a := Position{lat, 10.123456}
		b := Position{-lat, -169.876544}
		d := Haversine(a, b)
		require.False(t, math.IsNaN(d), "distance between %v and %v", a, b)
		assert.Equal(t, d, Haversine(b, a))
		assert.InDelta(t, halfCircumference, d, 1)
	}
}

func TestNearestIndexOnPath(t *testing.T) {
	path := []Position{{0, 0}, {0, 1}, {0, 2}, {0, 3}}

	assert.Equal(t, -1, NearestIndexOnPath(nil, Position{0, 0}))
	assert.Equal(t, 0, NearestIndexOnPath(path, Position{-1, -1}))
	assert.Equal(t, 2, NearestIndexOnPath(path, Position{0.1, 2.2}))
	assert.Equal(t, 3, NearestIndexOnPath(path, Position{5, 9}))
	// equidistant between 1 and 2 keeps the first
	assert.Equal(t, 1, NearestIndexOnPath(path, Position{0, 1.5}))
}

func TestNearestStopIndex(t *testing.T) {
	stops := []Position{{22.706, 75.873}, {22.715, 75.880}, {22.706, 75.873}}

	idx, d := NearestStopIndex(stops, Position{22.706, 75.873})
	assert.Equal(t, 0, idx, "ties resolve to the lowest index")
	assert.Zero(t, d)

	idx, _ = NearestStopIndex(stops, Position{22.716, 75.881})
	assert.Equal(t, 1, idx)

	idx, d = NearestStopIndex(nil, Position{})
	assert.Equal(t, -1, idx)
	assert.True(t, math.IsInf(d, 1))
}

func TestIsFinite(t *testing.T) {
	assert.True(t, Position{10, 20}.IsFinite())
	assert.False(t, Position{math.NaN(), 20}.IsFinite())
	assert.False(t, Position{10, math.Inf(-1)}.IsFinite())
}

func TestInterpolate(t *testing.T) {
	path := []Position{{0, 0}, {0, 1}, {0, 2}}
	cum := CumulativeDistances(path)
	require.Len(t, cum, 3)
	assert.Zero(t, cum[0])
	assert.InDelta(t, 2*cum[1], cum[2], 1e-6)

	pos, bearing := Interpolate(path, cum, cum[1]/2)
	assert.InDelta(t, 0.5, pos.Lng, 1e-9)
	assert.InDelta(t, 90, bearing, 1e-6)

	pos, _ = Interpolate(path, cum, -10)
	assert.Equal(t, path[0], pos)

	pos, _ = Interpolate(path, cum, cum[2]+100)
	assert.Equal(t, path[2], pos)

	pos, bearing = Interpolate(path[:1], cum[:1], 10)
	assert.Equal(t, path[0], pos)
	assert.Zero(t, bearing)
}

func TestClassifyDeviation(t *testing.T) {
	day := func(h, m int) time.Time { return time.Date(2025, 3, 14, h, m, 0, 0, time.Local) }
	tests := []struct {
		name      string
		scheduled string
		predicted time.Time
		want      Deviation
	}{
		{name: "five minutes late", scheduled: "10:00 AM", predicted: day(10, 5), want: Deviation{Late, 5}},
		{name: "three minutes early", scheduled: "10:00 AM", predicted: day(9, 57), want: Deviation{Early, 3}},
		{name: "one minute late is on time", scheduled: "10:00 AM", predicted: day(10, 1), want: Deviation{OnTime, 1}},
		{name: "two minutes early is on time", scheduled: "10:00 AM", predicted: day(9, 58), want: Deviation{OnTime, 2}},
		{name: "afternoon", scheduled: "01:40 PM", predicted: day(13, 50), want: Deviation{Late, 10}},
		{name: "noon", scheduled: "12:00 PM", predicted: day(12, 0), want: Deviation{OnTime, 0}},
		{name: "midnight", scheduled: "12:00 AM", predicted: day(0, 4), want: Deviation{Late, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ClassifyDeviation(tt.scheduled, tt.predicted)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyDeviationInvalid(t *testing.T) {
	_, err := ClassifyDeviation("25:99", time.Now())
	assert.ErrorIs(t, err, ErrInvalidScheduledTime)
}
