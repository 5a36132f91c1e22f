package relay

import (
	"encoding/json"

	"bus-relay/internal/geo"
)

// Message types carried in Envelope.Type.
const (
	TypeInitialSync    = "initial_sync"
	TypePositionUpdate = "position_update"
	TypeVehicleRemoved = "vehicle_removed"
	TypeRefreshRequest = "refresh_request"
)

// Envelope is the frame exchanged over the websocket in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type InitialSync struct {
	Vehicles map[string]geo.Position `json:"vehicles"`
}

type PositionUpdate struct {
	VehicleID string       `json:"vehicleId"`
	Position  geo.Position `json:"position"`
}

type VehicleRemoved struct {
	VehicleID string `json:"vehicleId"`
}

// inboundUpdate keeps coordinates as pointers so a missing field can be told
// apart from zero.
type inboundUpdate struct {
	VehicleID string `json:"vehicleId"`
	Position  *struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	} `json:"position"`
}

func (u inboundUpdate) position() (geo.Position, bool) {
	if u.Position == nil || u.Position.Lat == nil || u.Position.Lng == nil {
		return geo.Position{}, false
	}
	return geo.Position{Lat: *u.Position.Lat, Lng: *u.Position.Lng}, true
}

func encode(typ string, payload any) ([]byte, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses a frame produced by the hub.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
