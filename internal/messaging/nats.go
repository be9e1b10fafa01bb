// Package messaging fans committed pool events out over NATS.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hicpool/pool-engine/internal/model"
)

// SubjectPrefix is prepended to every published subject.
const SubjectPrefix = "pool.events"

// Config holds NATS configuration
type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// DefaultConfig returns sensible connection settings for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		Name:           "pool-engine",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// Publisher wraps a NATS connection and publishes audit events.
type Publisher struct {
	conn *nats.Conn

	mu         sync.RWMutex
	connected  bool
	reconnects int
}

// NewPublisher connects to NATS.
func NewPublisher(cfg Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := &Publisher{conn: conn, connected: true}

	conn.SetReconnectHandler(func(*nats.Conn) {
		p.mu.Lock()
		p.reconnects++
		p.connected = true
		p.mu.Unlock()
	})
	conn.SetDisconnectErrHandler(func(*nats.Conn, error) {
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
	})

	return p, nil
}

// Publish sends each event as JSON on Subject(ev). Publishing stops at the
// first failure.
func (p *Publisher) Publish(ctx context.Context, events []model.Event) error {
	if p.conn == nil {
		return fmt.Errorf("not connected")
	}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event %d: %w", ev.Seq, err)
		}
		if err := p.conn.Publish(Subject(ev), payload); err != nil {
			return fmt.Errorf("publish event %d: %w", ev.Seq, err)
		}
	}
	return nil
}

// IsConnected reports the last known connection state.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// Subject is the NATS subject an event is published on, e.g.
// "pool.events.bank" or "pool.events.pool.BondYieldPpb".
func Subject(ev model.Event) string {
	if ev.Category == model.CategoryPool && ev.Name != "" {
		return fmt.Sprintf("%s.%s.%s", SubjectPrefix, ev.Category, ev.Name)
	}
	return fmt.Sprintf("%s.%s", SubjectPrefix, ev.Category)
}
