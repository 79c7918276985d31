// pkg/bus/bus.go
// Copyright(c) 2024-2026 vatevents contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package bus adapts RabbitMQ for the snapshot pipelines: confirmed topic
// publishes on the outbound side and manually-acknowledged consumption on
// the inbound side. Consumers ack a delivery only after the engine has
// finished all processing it triggers; unacked deliveries are redelivered
// by the broker.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mmp/vatevents/pkg/log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is the topic exchange all raw snapshots and derived events flow
// through.
const Exchange = "vatsim"

var ErrClosed = errors.New("bus: connection closed")

// Conn wraps a RabbitMQ connection with a dedicated confirm-mode publish
// channel. Consumers get their own AMQP channels.
type Conn struct {
	conn     *amqp.Connection
	exchange string
	lg       *log.Logger

	pubMu    sync.Mutex
	pub      *amqp.Channel
	confirms chan amqp.Confirmation
}

func Dial(url, exchange string, lg *log.Logger) (*Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", url, err)
	}

	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := pub.ExchangeDeclare(exchange, "topic", true /* durable */, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := pub.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Conn{
		conn:     conn,
		exchange: exchange,
		lg:       lg,
		pub:      pub,
		confirms: pub.NotifyPublish(make(chan amqp.Confirmation, 1)),
	}, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// NotifyClose returns a channel that receives the connection-level error
// when the underlying connection is lost.
func (c *Conn) NotifyClose() <-chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// DeclareQueue declares a durable queue and binds it to the exchange under
// the given routing keys.
func (c *Conn) DeclareQueue(name string, keys ...string) error {
	if _, err := c.pub.QueueDeclare(name, true /* durable */, false, false, false, nil); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	for _, key := range keys {
		if err := c.pub.QueueBind(name, key, c.exchange, false, nil); err != nil {
			return fmt.Errorf("%s: bind %s: %w", name, key, err)
		}
	}
	return nil
}

// Publish marshals event as JSON and publishes it persistently to route,
// returning once the broker has confirmed it. Publishes are serialized so
// that confirmations pair up with their publish.
func (c *Conn) Publish(ctx context.Context, route string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: %w", route, err)
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	err = c.pub.PublishWithContext(ctx, c.exchange, route, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", route, err)
	}

	select {
	case confirm, ok := <-c.confirms:
		if !ok {
			return ErrClosed
		}
		if !confirm.Ack {
			return fmt.Errorf("%s: publish nacked by broker", route)
		}
		c.lg.Debugf("%s: published %d bytes", route, len(body))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume opens a dedicated channel consuming the named queue with manual
// acknowledgement.
func (c *Conn) Consume(queue string) (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(64, 0, false); err != nil {
		_ = ch.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(queue, "", false /* autoAck */, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: %w", queue, err)
	}
	return deliveries, nil
}
