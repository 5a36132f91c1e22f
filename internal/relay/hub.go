// Package relay fans vehicle position updates out to every connected viewer
// and keeps the presence registry in step with vehicle connections.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"

	"bus-relay/internal/geo"
	"bus-relay/internal/presence"
)

// sendBuffer is the per-session outbound queue length. A message that does
// not fit is dropped for that session only.
const sendBuffer = 64

type SessionState int

const (
	Connected SessionState = iota
	Bound
	Disconnected
)

func (s SessionState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Bound:
		return "bound"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is one live relay connection. It becomes Bound to a vehicle id on
// its first valid position update and keeps that id until it disconnects.
type Session struct {
	ID   string
	send chan []byte

	// guarded by Hub.mu
	state     SessionState
	vehicleID string
}

// Outbound yields encoded frames for the session. It is closed on disconnect.
func (s *Session) Outbound() <-chan []byte { return s.send }

// EventSink mirrors accepted relay events to an external system.
type EventSink interface {
	PositionUpdated(ctx context.Context, vehicleID string, pos geo.Position)
	VehicleRemoved(ctx context.Context, vehicleID string)
}

// Metrics receives relay counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	UpdateAccepted()
	MessageDropped(reason string)
	MessageSent(msgType string)
	SendDropped(msgType string)
	OnlineVehicles(n int)
}

// Hub owns the set of live sessions and applies their messages to the registry.
type Hub struct {
	registry    *presence.Registry
	sink        EventSink
	metrics     Metrics
	logMessages bool

	mu       sync.Mutex
	sessions map[string]*Session
	bindings map[string]int // vehicleID -> bound live sessions

	// sink events queued in the order the hub applied them; lock order is
	// mu before sinkMu
	sinkMu   sync.Mutex
	pending  []sinkEvent
	draining bool
}

type sinkEvent struct {
	removed   bool
	vehicleID string
	pos       geo.Position
}

// NewHub returns a hub over reg. sink and m may be nil.
func NewHub(reg *presence.Registry, sink EventSink, m Metrics, logMessages bool) *Hub {
	return &Hub{
		registry:    reg,
		sink:        sink,
		metrics:     m,
		logMessages: logMessages,
		sessions:    make(map[string]*Session),
		bindings:    make(map[string]int),
	}
}

func (h *Hub) Registry() *presence.Registry { return h.registry }

// Sessions returns the number of live sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Connect registers a new session and queues an initial_sync with the
// current registry contents.
func (h *Hub) Connect() *Session {
	s := &Session{ID: uuid.NewString(), send: make(chan []byte, sendBuffer), state: Connected}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.sendSync(s)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SessionOpened()
	}
	return s
}

// HandleMessage dispatches a raw inbound frame. Malformed frames and unknown
// types are dropped.
func (h *Hub) HandleMessage(s *Session, data []byte) {
	env, err := Decode(data)
	if err != nil {
		h.dropped("malformed")
		return
	}
	switch env.Type {
	case TypePositionUpdate:
		var u inboundUpdate
		if len(env.Payload) == 0 || json.Unmarshal(env.Payload, &u) != nil {
			h.dropped("malformed")
			return
		}
		pos, ok := u.position()
		if !ok {
			h.dropped("invalid")
			return
		}
		h.OnUpdate(s, u.VehicleID, pos)
	case TypeRefreshRequest:
		h.OnRefresh(s)
	default:
		h.dropped("unknown_type")
	}
}

// OnUpdate applies a position report from s and forwards it to every other
// session. Invalid reports are dropped without notifying the sender.
func (h *Hub) OnUpdate(s *Session, vehicleID string, pos geo.Position) {
	if vehicleID == "" || !pos.IsFinite() {
		h.dropped("invalid")
		return
	}
	h.mu.Lock()
	switch {
	case s.state == Disconnected:
		h.mu.Unlock()
		h.dropped("disconnected")
		return
	case s.state == Bound && s.vehicleID != vehicleID:
		h.mu.Unlock()
		h.dropped("rebind")
		return
	}
	if err := h.registry.Upsert(vehicleID, pos); err != nil {
		h.mu.Unlock()
		h.dropped("invalid")
		return
	}
	if s.state == Connected {
		s.state = Bound
		s.vehicleID = vehicleID
		h.bindings[vehicleID]++
	}
	msg, _ := encode(TypePositionUpdate, PositionUpdate{VehicleID: vehicleID, Position: pos})
	for id, other := range h.sessions {
		if id != s.ID {
			h.enqueue(other, TypePositionUpdate, msg)
		}
	}
	online := h.registry.Len()
	h.queueEvent(sinkEvent{vehicleID: vehicleID, pos: pos})
	h.mu.Unlock()

	if h.logMessages {
		log.Printf("relay: %s at %.6f,%.6f", vehicleID, pos.Lat, pos.Lng)
	}
	if h.metrics != nil {
		h.metrics.UpdateAccepted()
		h.metrics.OnlineVehicles(online)
	}
	h.drainEvents()
}

// OnRefresh re-sends the full snapshot to s only.
func (h *Hub) OnRefresh(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.state != Disconnected {
		h.sendSync(s)
	}
}

// Disconnect ends s. It is safe to call more than once. The vehicle entry is
// removed, and removal broadcast, once no live session is bound to it.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	if s.state == Disconnected {
		h.mu.Unlock()
		return
	}
	wasBound := s.state == Bound
	vehicleID := s.vehicleID
	s.state = Disconnected
	delete(h.sessions, s.ID)
	close(s.send)

	removed := false
	if wasBound {
		h.bindings[vehicleID]--
		if h.bindings[vehicleID] <= 0 {
			delete(h.bindings, vehicleID)
			h.registry.Remove(vehicleID)
			removed = true
			msg, _ := encode(TypeVehicleRemoved, VehicleRemoved{VehicleID: vehicleID})
			for _, other := range h.sessions {
				h.enqueue(other, TypeVehicleRemoved, msg)
			}
			h.queueEvent(sinkEvent{removed: true, vehicleID: vehicleID})
		}
	}
	online := h.registry.Len()
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SessionClosed()
		h.metrics.OnlineVehicles(online)
	}
	if removed && h.logMessages {
		log.Printf("relay: %s went offline", vehicleID)
	}
	h.drainEvents()
}

// queueEvent must be called with h.mu held.
func (h *Hub) queueEvent(ev sinkEvent) {
	if h.sink == nil {
		return
	}
	h.sinkMu.Lock()
	h.pending = append(h.pending, ev)
	h.sinkMu.Unlock()
}

// drainEvents delivers queued sink events one at a time. Only one caller
// delivers at once; the others leave their events to it.
func (h *Hub) drainEvents() {
	if h.sink == nil {
		return
	}
	h.sinkMu.Lock()
	if h.draining {
		h.sinkMu.Unlock()
		return
	}
	h.draining = true
	for len(h.pending) > 0 {
		ev := h.pending[0]
		h.pending = h.pending[1:]
		h.sinkMu.Unlock()
		if ev.removed {
			h.sink.VehicleRemoved(context.Background(), ev.vehicleID)
		} else {
			h.sink.PositionUpdated(context.Background(), ev.vehicleID, ev.pos)
		}
		h.sinkMu.Lock()
	}
	h.draining = false
	h.sinkMu.Unlock()
}

// sendSync must be called with h.mu held.
func (h *Hub) sendSync(s *Session) {
	msg, _ := encode(TypeInitialSync, InitialSync{Vehicles: h.registry.Snapshot()})
	h.enqueue(s, TypeInitialSync, msg)
}

// enqueue must be called with h.mu held and s not yet disconnected.
func (h *Hub) enqueue(s *Session, msgType string, msg []byte) {
	select {
	case s.send <- msg:
		if h.metrics != nil {
			h.metrics.MessageSent(msgType)
		}
	default:
		if h.metrics != nil {
			h.metrics.SendDropped(msgType)
		}
	}
}

func (h *Hub) dropped(reason string) {
	if h.metrics != nil {
		h.metrics.MessageDropped(reason)
	}
}
