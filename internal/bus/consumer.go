// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bus

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"cybernetic/internal/errs"
	"cybernetic/pkg/envelope"
)

// Handler processes a decoded, verified envelope's payload. The type
// discriminator is read from routingKey by the caller's registered handlers
// map key, not passed separately.
type Handler func(ctx context.Context, env envelope.Envelope) error

// Dialer opens a fresh AMQP connection. It returns the concrete
// *amqp.Connection, so a test cannot use it to stand in for a broker.
type Dialer func() (*amqp.Connection, error)

// ConsumerConfig bounds a Consumer's behaviour.
type ConsumerConfig struct {
	Queue          string
	Prefetch       int
	MaxRetries     int32
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	Policy         envelope.Policy
}

// DefaultConsumerConfig returns the documented prefetch, retry, and backoff
// defaults.
func DefaultConsumerConfig(queue string) ConsumerConfig {
	return ConsumerConfig{
		Queue:        queue,
		Prefetch:     32,
		MaxRetries:   5,
		ReconnectMin: 500 * time.Millisecond,
		ReconnectMax: 30 * time.Second,
		Policy:       envelope.DefaultPolicy(),
	}
}

// Seen reports whether a nonce has already been admitted; consumers back
// this with pkg/replay.Ledger.CheckAndRemember.
type Seen func(nonce string) bool

// Consumer subscribes to a queue, verifies every delivery's envelope, and
// dispatches by routing key to a registered handler. On channel-down or
// consumer-cancel it reconnects with bounded exponential backoff via a
// ticker-and-select retry loop.
type Consumer struct {
	dial     Dialer
	keys     *envelope.KeyRing
	seen     Seen
	handlers map[string]Handler
	cfg      ConsumerConfig
	log      *zap.Logger

	stopCh  chan struct{}
	stopped int32
}

// NewConsumer builds a Consumer that dials fresh connections via dial.
func NewConsumer(dial Dialer, keys *envelope.KeyRing, seen Seen, handlers map[string]Handler, cfg ConsumerConfig, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = DefaultConsumerConfig(cfg.Queue).Prefetch
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConsumerConfig(cfg.Queue).MaxRetries
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = DefaultConsumerConfig(cfg.Queue).ReconnectMin
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = DefaultConsumerConfig(cfg.Queue).ReconnectMax
	}
	return &Consumer{
		dial:     dial,
		keys:     keys,
		seen:     seen,
		handlers: handlers,
		cfg:      cfg,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks, consuming cfg.Queue and reconnecting on failure, until ctx is
// cancelled or Stop is called.
func (c *Consumer) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return nil
		default:
		}

		err := c.runOnce(ctx)
		if err == nil {
			return nil // ctx cancelled cleanly inside runOnce
		}
		if errors.Is(err, context.Canceled) {
			return err
		}

		attempt++
		backoff := c.backoffFor(attempt)
		c.log.Warn("bus consumer disconnected, reconnecting",
			zap.String("queue", c.cfg.Queue), zap.Error(err), zap.Duration("backoff", backoff))

		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-c.stopCh:
			t.Stop()
			return nil
		}
	}
}

// backoffFor computes a jittered exponential delay capped at ReconnectMax.
func (c *Consumer) backoffFor(attempt int) time.Duration {
	d := c.cfg.ReconnectMin << uint(attempt-1)
	if d <= 0 || d > c.cfg.ReconnectMax {
		d = c.cfg.ReconnectMax
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2 + 1))
	return d/2 + jitter
}

func (c *Consumer) runOnce(ctx context.Context) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		case cerr, ok := <-closed:
			if cerr != nil {
				return cerr
			}
			if !ok {
				return errs.ErrChannelDown
			}
			return errs.ErrChannelDown
		case d, ok := <-deliveries:
			if !ok {
				return errs.ErrChannelDown
			}
			c.handle(ctx, ch, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, ch *amqp.Channel, d amqp.Delivery) {
	env, err := decode(d)
	if err != nil {
		c.log.Warn("decode failure", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if verr := envelope.Verify(env, c.keys, c.cfg.Policy, c.seen); verr != nil {
		if errors.Is(verr, errs.ErrReplayDetected) {
			c.log.Info("replay detected, rejecting without requeue", zap.String("routing_key", env.RoutingKey))
		} else {
			c.log.Warn("envelope verification failed", zap.Error(verr), zap.String("routing_key", env.RoutingKey))
		}
		_ = d.Nack(false, false)
		return
	}

	handler, ok := c.handlers[env.RoutingKey]
	if !ok {
		handler, ok = c.handlers[""] // fallback/default handler, if registered
	}
	if !ok {
		c.log.Warn("no handler registered", zap.String("routing_key", env.RoutingKey))
		_ = d.Nack(false, false)
		return
	}

	if herr := handler(ctx, env); herr != nil {
		c.retryOrFail(ch, d)
		return
	}
	_ = d.Ack(false)
}

// retryOrFail republishes d to the retry queue with its x-cyb-retry header
// incremented and acks the original, until that header reaches MaxRetries,
// at which point it republishes to the terminal failure queue instead. It
// never nacks with requeue (a bare nack-requeue redelivers immediately and
// would starve the consumer; the retry queue's TTL provides the delay).
func (c *Consumer) retryOrFail(ch *amqp.Channel, d amqp.Delivery) {
	retries := retryCount(d)
	if retries >= c.cfg.MaxRetries {
		headers := amqp.Table{}
		for k, v := range d.Headers {
			headers[k] = v
		}
		headers["x-cyb-retry"] = retries
		_ = ch.Publish("", QueueEventsFailed, false, false, amqp.Publishing{
			ContentType:  d.ContentType,
			DeliveryMode: amqp.Persistent,
			Body:         d.Body,
			Headers:      headers,
		})
		_ = d.Ack(false)
		return
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers["x-cyb-retry"] = retries + 1
	_ = ch.Publish("", QueueEventsRetry, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Headers:      headers,
	})
	_ = d.Ack(false)
}

func retryCount(d amqp.Delivery) int32 {
	v, ok := d.Headers["x-cyb-retry"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return n
	case int:
		return int32(n)
	case int64:
		return int32(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return int32(i)
	default:
		return 0
	}
}

func decode(d amqp.Delivery) (envelope.Envelope, error) {
	get := func(key string) string {
		v, ok := d.Headers[key]
		if !ok {
			return ""
		}
		s, _ := v.(string)
		return s
	}
	ts, _ := d.Headers["x-cyb-timestamp"].(int64)

	env := envelope.Envelope{
		RoutingKey:  d.RoutingKey,
		Exchange:    d.Exchange,
		ContentType: d.ContentType,
		Payload:     d.Body,
		Headers: envelope.Headers{
			CorrelationID: get("x-cyb-correlation-id"),
			Source:        get("x-cyb-source"),
		},
		Security: envelope.Security{
			Nonce:     get("x-cyb-nonce"),
			Timestamp: ts,
			Site:      get("x-cyb-site"),
			Signature: get("x-cyb-signature"),
			KeyID:     get("x-cyb-key-id"),
		},
	}
	if env.Security.Nonce == "" {
		return envelope.Envelope{}, errs.ErrDecode
	}
	return env, nil
}

// Stop halts Run's reconnect loop; idempotent.
func (c *Consumer) Stop() {
	if atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		close(c.stopCh)
	}
}
