package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"bus-relay/internal/geo"
)

const (
	backendAMQP    = "amqp"
	publishTimeout = 5 * time.Second
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a durable fanout exchange with routing
// key vehicle.<type>.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string
	metrics  PublisherMetrics

	mu sync.Mutex
	ch amqpChannel
}

func NewAMQPPublisher(url, exchange string, m PublisherMetrics) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			log.Printf("amqp connection closed: %v", err)
		}
		if m != nil {
			m.SetConnected(backendAMQP, false)
		}
	}()
	if m != nil {
		m.SetConnected(backendAMQP, true)
	}
	log.Printf("connected to RabbitMQ, exchange %s", exchange)

	p := newAMQPPublisher(ch, exchange, m)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, exchange string, m PublisherMetrics) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, metrics: m}
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

func (p *AMQPPublisher) PositionUpdated(ctx context.Context, vehicleID string, pos geo.Position) {
	p.publish(ctx, Event{Type: EventPosition, VehicleID: vehicleID, Position: &pos, Timestamp: time.Now().UTC()})
}

func (p *AMQPPublisher) VehicleRemoved(ctx context.Context, vehicleID string) {
	p.publish(ctx, Event{Type: EventRemoved, VehicleID: vehicleID, Timestamp: time.Now().UTC()})
}

func (p *AMQPPublisher) publish(ctx context.Context, ev Event) {
	if err := p.Publish(ctx, ev); err != nil {
		log.Printf("amqp publish %s for %s: %v", ev.Type, ev.VehicleID, err)
	}
}

// Publish sends ev to the exchange.
func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	start := time.Now()
	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, p.exchange, "vehicle."+ev.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    ev.Timestamp,
		Type:         ev.Type,
		Body:         body,
	})
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.PublishErrInc(backendAMQP)
		} else {
			p.metrics.PublishedInc(backendAMQP)
		}
	}
	return err
}
