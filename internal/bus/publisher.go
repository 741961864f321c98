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
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"cybernetic/internal/errs"
	"cybernetic/pkg/envelope"
)

// PublishOptions overrides per-call publish behaviour.
type PublishOptions struct {
	ConfirmTimeout time.Duration
	Priority       uint8
}

// DefaultPublishOptions returns the documented confirm timeout.
func DefaultPublishOptions() PublishOptions {
	return PublishOptions{ConfirmTimeout: 5 * time.Second}
}

// Publisher publishes envelopes with broker confirms on a dedicated channel.
type Publisher struct {
	ch     *amqp.Channel
	confs  chan amqp.Confirmation
	site   string
	keys   *envelope.KeyRing
	log    *zap.Logger
}

// NewPublisher puts ch into confirm mode and returns a Publisher that signs
// every outbound envelope with keys under site's identity.
func NewPublisher(ch *amqp.Channel, site string, keys *envelope.KeyRing, log *zap.Logger) (*Publisher, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	confs := ch.NotifyPublish(make(chan amqp.Confirmation, 64))
	return &Publisher{ch: ch, confs: confs, site: site, keys: keys, log: log}, nil
}

// Publish enriches payload into a signed envelope and publishes it to
// exchange under routingKey, persistent and content-typed, blocking until
// the broker confirms or opts.ConfirmTimeout elapses.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, payload []byte, meta envelope.RoutingMeta, opts PublishOptions) error {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultPublishOptions().ConfirmTimeout
	}
	meta.RoutingKey = routingKey
	meta.Exchange = exchange
	if meta.ContentType == "" {
		meta.ContentType = "application/json"
	}

	env, err := envelope.Enrich(payload, meta, p.site, p.keys)
	if err != nil {
		return err
	}

	headers := amqp.Table{
		"x-cyb-nonce":          env.Security.Nonce,
		"x-cyb-timestamp":      env.Security.Timestamp,
		"x-cyb-site":           env.Security.Site,
		"x-cyb-signature":      env.Security.Signature,
		"x-cyb-key-id":         env.Security.KeyID,
		"x-cyb-correlation-id": env.Headers.CorrelationID,
		"x-cyb-source":         env.Headers.Source,
		"x-cyb-retry":          int32(0),
	}

	msg := amqp.Publishing{
		ContentType:  env.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         env.Payload,
		Headers:      headers,
		Priority:     opts.Priority,
		Timestamp:    time.Now(),
	}

	confirmCtx, cancel := context.WithTimeout(ctx, opts.ConfirmTimeout)
	defer cancel()

	if err := p.ch.PublishWithContext(confirmCtx, exchange, routingKey, false, false, msg); err != nil {
		return errs.ErrPublishNack
	}

	select {
	case conf, ok := <-p.confs:
		if !ok || !conf.Ack {
			p.log.Warn("publish nacked by broker", zap.String("exchange", exchange), zap.String("routing_key", routingKey))
			return errs.ErrPublishNack
		}
		return nil
	case <-confirmCtx.Done():
		p.log.Warn("publish confirm timed out", zap.String("exchange", exchange), zap.String("routing_key", routingKey))
		return errs.ErrConfirmTimeout
	}
}
