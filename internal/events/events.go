// Package events publishes the domain events named by each response's
// event_topic.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/00Mars/pet-pawket-sub000/internal/logger"
	"github.com/00Mars/pet-pawket-sub000/internal/metrics"
)

// Event is the envelope written to the bus.
type Event struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Source     string    `json:"source"`
	CustomerID string    `json:"customer_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data,omitempty"`
}

// NewEvent stamps an event with an id and the current time.
func NewEvent(source, topic, customerID string, data any) Event {
	return Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		Source:     source,
		CustomerID: customerID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher delivers events. Publishing is best effort; handlers log and
// carry on when it fails.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// ---------------------------------------------------------------------------
// NATS
// ---------------------------------------------------------------------------

// NATS publishes each event on the subject equal to its topic.
type NATS struct {
	conn    *nats.Conn
	log     *logger.Logger
	metrics *metrics.Metrics
}

// Connect dials url with the reconnect settings the services use.
func Connect(url, name string, log *logger.Logger, m *metrics.Metrics) (*NATS, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("nats").With("client", name)
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("connected to nats", "url", conn.ConnectedUrl())
	return &NATS{conn: conn, log: log, metrics: m}, nil
}

// Open connects to NATS when url is set and returns Nop otherwise, or when
// the server cannot be reached.
func Open(url, name string, log *logger.Logger, m *metrics.Metrics) Publisher {
	if url == "" {
		return Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	n, err := Connect(url, name, log, m)
	if err != nil {
		log.Warn("nats unavailable, events disabled", "error", err)
		return Nop{}
	}
	return n
}

func (n *NATS) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Topic, err)
	}
	err = n.conn.Publish(ev.Topic, b)
	n.metrics.EventPublished(ev.Topic, err)
	return err
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}

// ---------------------------------------------------------------------------
// Nop / Recorder
// ---------------------------------------------------------------------------

// Nop drops every event. It is used when NATS_URL is unset.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Topics lists the topics of recorded events in publish order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Topic)
	}
	return out
}
