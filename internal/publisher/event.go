// Package publisher mirrors relay events to a message broker so other
// services can follow vehicle presence without holding a websocket.
package publisher

import (
	"time"

	"bus-relay/internal/geo"
)

const (
	EventPosition = "position"
	EventRemoved  = "removed"
)

type Event struct {
	Type      string        `json:"type"`
	VehicleID string        `json:"vehicleId"`
	Position  *geo.Position `json:"position,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type PublisherMetrics interface {
	PublishedInc(backend string)
	PublishErrInc(backend string)
	PublishObserve(d time.Duration)
	SetConnected(backend string, connected bool)
}
