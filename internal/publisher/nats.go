package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"bus-relay/internal/geo"
)

const backendNATS = "nats"

type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATSPublisher publishes events on <prefix>.<vehicle>.<type>.
type NATSPublisher struct {
	nc          natsConn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("bus-relay"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.SetConnected(backendNATS, false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(backendNATS, true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(backendNATS, false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.SetConnected(backendNATS, true)
	}
	return newNATSPublisher(nc, prefix, logSubjects, m), nil
}

func newNATSPublisher(nc natsConn, prefix string, logSubjects bool, m PublisherMetrics) *NATSPublisher {
	if prefix == "" {
		prefix = "vehicles"
	}
	return &NATSPublisher{nc: nc, prefix: prefix, logSubjects: logSubjects, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

func (p *NATSPublisher) PositionUpdated(ctx context.Context, vehicleID string, pos geo.Position) {
	p.publish(Event{Type: EventPosition, VehicleID: vehicleID, Position: &pos, Timestamp: time.Now().UTC()})
}

func (p *NATSPublisher) VehicleRemoved(ctx context.Context, vehicleID string) {
	p.publish(Event{Type: EventRemoved, VehicleID: vehicleID, Timestamp: time.Now().UTC()})
}

func (p *NATSPublisher) publish(ev Event) {
	if err := p.Publish(ev); err != nil {
		log.Printf("nats publish %s for %s: %v", ev.Type, ev.VehicleID, err)
	}
}

// Publish sends ev on its subject.
func (p *NATSPublisher) Publish(ev Event) error {
	subject := fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(ev.VehicleID), ev.Type)
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.PublishErrInc(backendNATS)
		} else {
			p.metrics.PublishedInc(backendNATS)
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
