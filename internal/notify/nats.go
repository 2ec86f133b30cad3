// Package notify announces newly seen posts on NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/letieu/reddit-trends/internal/record"
)

type msgConn interface {
	PublishMsg(msg *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
}

// headerCarrier adapts nats.Msg headers for OTel propagation.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

const flushTimeout = 5 * time.Second

// Publisher sends records as JSON to "<subject>.<forum>".
type Publisher struct {
	conn    msgConn
	subject string
}

func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	return newPublisher(conn, subject)
}

func newPublisher(conn msgConn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

// Connect dials url and returns a Publisher owning the connection.
func Connect(url, subject string) (*Publisher, func(), error) {
	nc, err := nats.Connect(url, nats.Name("reddit-trends"))
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	return NewPublisher(nc, subject), nc.Close, nil
}

// Publish sends one message per record and flushes. It stops at the first
// failure.
func (p *Publisher) Publish(ctx context.Context, forum string, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	subject := p.subject + "." + forum
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		msg := &nats.Msg{Subject: subject, Data: data}
		otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("publish %s: %w", r.Permalink, err)
		}
	}
	return p.conn.FlushTimeout(flushTimeout)
}
