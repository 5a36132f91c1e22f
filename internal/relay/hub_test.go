package relay

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-relay/internal/geo"
	"bus-relay/internal/presence"
)

type recordedEvent struct {
	kind      string
	vehicleID string
	pos       geo.Position
}

type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingSink) PositionUpdated(ctx context.Context, vehicleID string, pos geo.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{"position", vehicleID, pos})
}

func (r *recordingSink) VehicleRemoved(ctx context.Context, vehicleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind: "removed", vehicleID: vehicleID})
}

// drain returns every frame queued for s without blocking.
func drain(t *testing.T, s *Session) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case msg, ok := <-s.Outbound():
			if !ok {
				return out
			}
			env, err := Decode(msg)
			require.NoError(t, err)
			out = append(out, env)
		default:
			return out
		}
	}
}

func syncPayload(t *testing.T, env Envelope) map[string]geo.Position {
	t.Helper()
	require.Equal(t, TypeInitialSync, env.Type)
	var p InitialSync
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p.Vehicles
}

func updatePayload(t *testing.T, env Envelope) PositionUpdate {
	t.Helper()
	require.Equal(t, TypePositionUpdate, env.Type)
	var p PositionUpdate
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}

func TestConnectSendsInitialSync(t *testing.T) {
	reg := presence.New()
	require.NoError(t, reg.Upsert("MP-09-1A", geo.Position{Lat: 22.706, Lng: 75.873}))
	h := NewHub(reg, nil, nil, false)

	s := h.Connect()
	msgs := drain(t, s)
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]geo.Position{"MP-09-1A": {Lat: 22.706, Lng: 75.873}}, syncPayload(t, msgs[0]))
	assert.Equal(t, 1, h.Sessions())
}

func TestViewerSeesBothVehiclesAndLaterUpdates(t *testing.T) {
	h := NewHub(presence.New(), nil, nil, false)
	a, b := h.Connect(), h.Connect()
	h.OnUpdate(a, "A", geo.Position{Lat: 10, Lng: 20})
	h.OnUpdate(b, "B", geo.Position{Lat: 30, Lng: 40})

	viewer := h.Connect()
	msgs := drain(t, viewer)
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]geo.Position{"A": {Lat: 10, Lng: 20}, "B": {Lat: 30, Lng: 40}}, syncPayload(t, msgs[0]))

	drain(t, a)
	drain(t, b)
	h.OnUpdate(a, "A", geo.Position{Lat: 11, Lng: 21})

	msgs = drain(t, viewer)
	require.Len(t, msgs, 1)
	assert.Equal(t, PositionUpdate{VehicleID: "A", Position: geo.Position{Lat: 11, Lng: 21}}, updatePayload(t, msgs[0]))
	assert.Len(t, drain(t, b), 1)
	assert.Empty(t, drain(t, a), "sender must not receive its own update")
}

func TestSenderExcludedFromOwnUpdate(t *testing.T) {
	h := NewHub(presence.New(), nil, nil, false)
	sender := h.Connect()
	drain(t, sender)

	h.OnUpdate(sender, "bus-1", geo.Position{Lat: 1, Lng: 2})
	assert.Empty(t, drain(t, sender))

	p, ok := h.Registry().Get("bus-1")
	assert.True(t, ok)
	assert.Equal(t, geo.Position{Lat: 1, Lng: 2}, p)
}

func TestDisconnectRemovesBoundVehicle(t *testing.T) {
	sink := &recordingSink{}
	h := NewHub(presence.New(), sink, nil, false)
	bus, viewer := h.Connect(), h.Connect()
	h.OnUpdate(bus, "bus-1", geo.Position{Lat: 1, Lng: 2})
	drain(t, viewer)

	h.Disconnect(bus)

	_, ok := h.Registry().Get("bus-1")
	assert.False(t, ok)
	msgs := drain(t, viewer)
	require.Len(t, msgs, 1)
	assert.Equal(t, TypeVehicleRemoved, msgs[0].Type)
	var rm VehicleRemoved
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &rm))
	assert.Equal(t, "bus-1", rm.VehicleID)

	assert.Equal(t, []recordedEvent{
		{kind: "position", vehicleID: "bus-1", pos: geo.Position{Lat: 1, Lng: 2}},
		{kind: "removed", vehicleID: "bus-1"},
	}, sink.events)

	// second call is a no-op
	h.Disconnect(bus)
	assert.Empty(t, drain(t, viewer))
	assert.Len(t, sink.events, 2)
	assert.Equal(t, 1, h.Sessions())
}

func TestDisconnectUnboundLeavesRegistry(t *testing.T) {
	reg := presence.New()
	require.NoError(t, reg.Upsert("bus-1", geo.Position{Lat: 1, Lng: 2}))
	h := NewHub(reg, nil, nil, false)
	viewer, other := h.Connect(), h.Connect()
	drain(t, other)

	h.Disconnect(viewer)

	assert.Equal(t, 1, reg.Len())
	assert.Empty(t, drain(t, other))
}

func TestDisconnectedSessionReceivesNothing(t *testing.T) {
	h := NewHub(presence.New(), nil, nil, false)
	gone, bus := h.Connect(), h.Connect()
	drain(t, gone)
	h.Disconnect(gone)

	h.OnUpdate(bus, "bus-1", geo.Position{Lat: 1, Lng: 2})
	h.OnRefresh(gone)

	_, open := <-gone.Outbound()
	assert.False(t, open)

	h.OnUpdate(gone, "bus-2", geo.Position{Lat: 1, Lng: 2})
	_, ok := h.Registry().Get("bus-2")
	assert.False(t, ok)
}

func TestRefreshGoesToRequesterOnly(t *testing.T) {
	h := NewHub(presence.New(), nil, nil, false)
	a, b := h.Connect(), h.Connect()
	h.OnUpdate(a, "A", geo.Position{Lat: 10, Lng: 20})
	drain(t, a)
	drain(t, b)

	h.HandleMessage(b, []byte(`{"type":"refresh_request"}`))

	msgs := drain(t, b)
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]geo.Position{"A": {Lat: 10, Lng: 20}}, syncPayload(t, msgs[0]))
	assert.Empty(t, drain(t, a))
}

func TestInvalidUpdatesDropped(t *testing.T) {
	frames := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{"type":`},
		{name: "unknown type", raw: `{"type":"teleport","payload":{}}`},
		{name: "no payload", raw: `{"type":"position_update"}`},
		{name: "empty vehicle id", raw: `{"type":"position_update","payload":{"vehicleId":"","position":{"lat":1,"lng":2}}}`},
		{name: "missing lat", raw: `{"type":"position_update","payload":{"vehicleId":"bus-1","position":{"lng":2}}}`},
		{name: "missing position", raw: `{"type":"position_update","payload":{"vehicleId":"bus-1"}}`},
		{name: "lat as string", raw: `{"type":"position_update","payload":{"vehicleId":"bus-1","position":{"lat":"1","lng":2}}}`},
	}
	for _, tt := range frames {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(presence.New(), nil, nil, false)
			s, viewer := h.Connect(), h.Connect()
			drain(t, s)
			drain(t, viewer)

			h.HandleMessage(s, []byte(tt.raw))

			assert.Zero(t, h.Registry().Len())
			assert.Empty(t, drain(t, viewer))
			assert.Empty(t, drain(t, s))
		})
	}

	h := NewHub(presence.New(), nil, nil, false)
	s := h.Connect()
	h.OnUpdate(s, "bus-1", geo.Position{Lat: math.NaN(), Lng: 2})
	assert.Zero(t, h.Registry().Len())
	// an invalid update must not bind the session
	h.OnUpdate(s, "bus-2", geo.Position{Lat: 1, Lng: 2})
	_, ok := h.Registry().Get("bus-2")
	assert.True(t, ok)
}

func TestHandleMessageZeroCoordinatesAccepted(t *testing.T) {
	h := NewHub(presence.New(), nil, nil, false)
	s := h.Connect()
	h.HandleMessage(s, []byte(`{"type":"position_update","payload":{"vehicleId":"bus-1","position":{"lat":0,"lng":0}}}`))
	p, ok := h.Registry().Get("bus-1")
	assert.True(t, ok)
	assert.Equal(t, geo.Position{}, p)
}

func TestBindingIsImmutable(t *testing.T) {
	h := NewHub(presence.New(), nil, nil, false)
	s := h.Connect()
	h.OnUpdate(s, "bus-1", geo.Position{Lat: 1, Lng: 2})
	h.OnUpdate(s, "bus-2", geo.Position{Lat: 3, Lng: 4})

	_, ok := h.Registry().Get("bus-2")
	assert.False(t, ok)

	h.Disconnect(s)
	assert.Zero(t, h.Registry().Len())
}

func TestSharedVehicleIDRemovedWithLastSession(t *testing.T) {
	h := NewHub(presence.New(), nil, nil, false)
	first, second, viewer := h.Connect(), h.Connect(), h.Connect()
	h.OnUpdate(first, "bus-1", geo.Position{Lat: 1, Lng: 2})
	h.OnUpdate(second, "bus-1", geo.Position{Lat: 3, Lng: 4})

	p, _ := h.Registry().Get("bus-1")
	assert.Equal(t, geo.Position{Lat: 3, Lng: 4}, p, "last write wins")
	drain(t, viewer)

	h.Disconnect(first)
	_, ok := h.Registry().Get("bus-1")
	assert.True(t, ok)
	assert.Empty(t, drain(t, viewer))

	h.Disconnect(second)
	_, ok = h.Registry().Get("bus-1")
	assert.False(t, ok)
	msgs := drain(t, viewer)
	require.Len(t, msgs, 1)
	assert.Equal(t, TypeVehicleRemoved, msgs[0].Type)
}

func TestFullQueueDropsForThatSessionOnly(t *testing.T) {
	h := NewHub(presence.New(), nil, nil, false)
	slow, fast, bus := h.Connect(), h.Connect(), h.Connect()
	drain(t, bus)

	for i := 0; i < sendBuffer+10; i++ {
		h.OnUpdate(bus, "bus-1", geo.Position{Lat: float64(i), Lng: 0})
		if i%8 == 0 {
			drain(t, fast)
		}
	}
	assert.Len(t, drain(t, slow), sendBuffer)
	assert.Equal(t, 1, h.Registry().Len())

	h.OnUpdate(bus, "bus-1", geo.Position{Lat: 99, Lng: 0})
	msgs := drain(t, fast)
	require.NotEmpty(t, msgs)
	assert.Equal(t, 99.0, updatePayload(t, msgs[len(msgs)-1]).Position.Lat)
}

func TestIndependentHubs(t *testing.T) {
	h1 := NewHub(presence.New(), nil, nil, false)
	h2 := NewHub(presence.New(), nil, nil, false)
	h1.OnUpdate(h1.Connect(), "bus-1", geo.Position{Lat: 1, Lng: 2})

	assert.Equal(t, 1, h1.Registry().Len())
	assert.Zero(t, h2.Registry().Len())
}

// gatedSink blocks its first PositionUpdated until release is closed.
type gatedSink struct {
	recordingSink
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSink) PositionUpdated(ctx context.Context, vehicleID string, pos geo.Position) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	g.recordingSink.PositionUpdated(ctx, vehicleID, pos)
}

func TestSinkEventsFollowHubOrder(t *testing.T) {
	sink := &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
	h := NewHub(presence.New(), sink, nil, false)
	bus := h.Connect()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.OnUpdate(bus, "bus-1", geo.Position{Lat: 1, Lng: 2})
	}()
	<-sink.entered

	// the position event is still being delivered; removal must queue behind it
	h.Disconnect(bus)
	sink.mu.Lock()
	assert.Empty(t, sink.events)
	sink.mu.Unlock()

	close(sink.release)
	<-done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []recordedEvent{
		{kind: "position", vehicleID: "bus-1", pos: geo.Position{Lat: 1, Lng: 2}},
		{kind: "removed", vehicleID: "bus-1"},
	}, sink.events)
}
