package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-relay/internal/geo"
)

type fakeMetrics struct {
	mu        sync.Mutex
	published map[string]int
	errs      map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{published: map[string]int{}, errs: map[string]int{}}
}

func (f *fakeMetrics) PublishedInc(b string) {
	f.mu.Lock()
	f.published[b]++
	f.mu.Unlock()
}

func (f *fakeMetrics) PublishErrInc(b string) {
	f.mu.Lock()
	f.errs[b]++
	f.mu.Unlock()
}

func (f *fakeMetrics) PublishObserve(time.Duration) {}
func (f *fakeMetrics) SetConnected(string, bool)    {}

type natsMsg struct {
	subject string
	data    []byte
}

type fakeNATS struct {
	msgs    []natsMsg
	err     error
	drained bool
	closed  bool
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.msgs = append(f.msgs, natsMsg{subject, data})
	return f.err
}

func (f *fakeNATS) Drain() error {
	f.drained = true
	return nil
}

func (f *fakeNATS) Close() { f.closed = true }

func TestNATSPublisherSubjects(t *testing.T) {
	nc := &fakeNATS{}
	m := newFakeMetrics()
	p := newNATSPublisher(nc, "", false, m)

	p.PositionUpdated(context.Background(), "MP-09-1A", geo.Position{Lat: 22.706, Lng: 75.873})
	p.VehicleRemoved(context.Background(), "Bus 42.x")

	require.Len(t, nc.msgs, 2)
	assert.Equal(t, "vehicles.MP-09-1A.position", nc.msgs[0].subject)
	assert.Equal(t, "vehicles.Bus_42_x.removed", nc.msgs[1].subject)

	var ev Event
	require.NoError(t, json.Unmarshal(nc.msgs[0].data, &ev))
	assert.Equal(t, EventPosition, ev.Type)
	assert.Equal(t, "MP-09-1A", ev.VehicleID)
	require.NotNil(t, ev.Position)
	assert.Equal(t, geo.Position{Lat: 22.706, Lng: 75.873}, *ev.Position)

	require.NoError(t, json.Unmarshal(nc.msgs[1].data, &ev))
	assert.Equal(t, EventRemoved, ev.Type)
	assert.Nil(t, ev.Position)
	assert.Equal(t, 2, m.published[backendNATS])

	p.Close()
	assert.True(t, nc.drained)
	assert.True(t, nc.closed)
}

func TestNATSPublisherErrorCounted(t *testing.T) {
	nc := &fakeNATS{err: errors.New("nats: connection closed")}
	m := newFakeMetrics()
	p := newNATSPublisher(nc, "fleet", false, m)

	err := p.Publish(Event{Type: EventRemoved, VehicleID: "a"})
	assert.Error(t, err)
	assert.Equal(t, "fleet.a.removed", nc.msgs[0].subject)
	assert.Equal(t, 1, m.errs[backendNATS])
	assert.Zero(t, m.published[backendNATS])
}

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"MP-09-1A":  "MP-09-1A",
		" bus 7 ":   "bus_7",
		"a.b*c>d/e": "a_b_c_d_e",
		"":          "_",
	}
	for in, want := range tests {
		assert.Equal(t, want, subjectToken(in), in)
	}
}

type fakeChannel struct {
	mu       sync.Mutex
	keys     []string
	msgs     []amqp.Publishing
	exchange string
	err      error
	closed   bool
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	f.exchange = exchange
	f.keys = append(f.keys, key)
	f.msgs = append(f.msgs, msg)
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{}
	m := newFakeMetrics()
	p := newAMQPPublisher(ch, "vehicle_locations", m)

	p.PositionUpdated(context.Background(), "MP-09-1A", geo.Position{Lat: 1, Lng: 2})
	p.VehicleRemoved(context.Background(), "MP-09-1A")

	assert.Equal(t, "vehicle_locations", ch.exchange)
	assert.Equal(t, []string{"vehicle.position", "vehicle.removed"}, ch.keys)
	require.Len(t, ch.msgs, 2)
	assert.Equal(t, "application/json", ch.msgs[0].ContentType)
	assert.Equal(t, EventPosition, ch.msgs[0].Type)

	var ev Event
	require.NoError(t, json.Unmarshal(ch.msgs[0].Body, &ev))
	assert.Equal(t, "MP-09-1A", ev.VehicleID)
	assert.Equal(t, 2, m.published[backendAMQP])

	p.Close()
	assert.True(t, ch.closed)
}

func TestAMQPPublisherError(t *testing.T) {
	ch := &fakeChannel{err: amqp.ErrClosed}
	m := newFakeMetrics()
	p := newAMQPPublisher(ch, "x", m)

	err := p.Publish(context.Background(), Event{Type: EventPosition, VehicleID: "a"})
	assert.ErrorIs(t, err, amqp.ErrClosed)
	assert.Equal(t, 1, m.errs[backendAMQP])
}
