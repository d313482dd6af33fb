// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// =============================================================================
// AMQP PUBLISHER
// =============================================================================

// DefaultQueue is the queue turn events are published to.
const DefaultQueue = "backroom.turns"

// publishTimeout bounds a single publish so a stalled broker cannot hold up a turn.
const publishTimeout = 2 * time.Second

// publisher is the subset of *amqp.Channel the publisher needs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes turn events as persistent JSON messages.
type AMQPPublisher struct {
	ch    publisher
	conn  io.Closer
	queue string
}

// DialAMQP connects to url and declares a durable queue.
func DialAMQP(url, queue string) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		queue = DefaultQueue
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", queue, err)
	}
	log.Printf("EVENTS_CONNECTED | queue=%s", queue)
	return &AMQPPublisher{ch: ch, conn: conn, queue: queue}, nil
}

// newAMQPPublisher builds a publisher over an existing channel.
func newAMQPPublisher(ch publisher, queue string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, queue: queue}
}

// Publish sends one event.
func (p *AMQPPublisher) Publish(ctx context.Context, ev TurnEvent) error {
	if p == nil || p.ch == nil {
		return errors.New("amqp publisher not initialized")
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.At,
		Type:         string(ev.State),
		Body:         body,
	})
}

// Record implements Recorder. Publish failures are logged and dropped.
func (p *AMQPPublisher) Record(ctx context.Context, ev TurnEvent) {
	if !ev.State.Terminal() {
		return
	}
	if err := p.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.Printf("EVENTS_PUBLISH_FAILED | queue=%s event=%s error=%v", p.queue, ev.ID, err)
	}
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
