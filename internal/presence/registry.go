// Package presence tracks the last known position of every online vehicle.
package presence

import (
	"errors"
	"sync"

	"bus-relay/internal/geo"
)

var (
	ErrEmptyVehicleID  = errors.New("empty vehicle id")
	ErrInvalidPosition = errors.New("position is not finite")
)

// Registry maps vehicle ids to their last reported position. The zero value
// is not usable; call New. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	vehicles map[string]geo.Position
}

func New() *Registry {
	return &Registry{vehicles: make(map[string]geo.Position)}
}

// Upsert records pos for id, replacing any previous position.
func (r *Registry) Upsert(id string, pos geo.Position) error {
	if id == "" {
		return ErrEmptyVehicleID
	}
	if !pos.IsFinite() {
		return ErrInvalidPosition
	}
	r.mu.Lock()
	r.vehicles[id] = pos
	r.mu.Unlock()
	return nil
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.vehicles[id]
	delete(r.vehicles, id)
	return ok
}

func (r *Registry) Get(id string) (geo.Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.vehicles[id]
	return p, ok
}

// Snapshot returns a copy of every entry. Later writes do not affect it.
func (r *Registry) Snapshot() map[string]geo.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]geo.Position, len(r.vehicles))
	for id, p := range r.vehicles {
		out[id] = p
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vehicles)
}
