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

// Package bus wraps AMQP 0-9-1 (via amqp091-go) with the control plane's
// fixed topology, a confirm-gated publisher, and a verify-then-dispatch
// consumer with bounded exponential reconnect.
package bus

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// System names the five VSM subsystems that own a durable queue.
type System int

const (
	S1 System = iota + 1
	S2
	S3
	S4
	S5
)

func (s System) String() string {
	return fmt.Sprintf("s%d", int(s))
}

// QueueTTL is the default message TTL applied to per-system queues.
const QueueTTL = 300 * time.Second

// RetryTTL is the dead-letter TTL on the retry queue: a message sits here
// before the broker routes it back to cyb.events for another attempt.
const RetryTTL = 15 * time.Second

const (
	ExchangeEvents    = "cyb.events"
	ExchangeCommands  = "cyb.commands"
	ExchangeTelemetry = "cyb.telemetry"
	ExchangeMCPTools  = "cyb.mcp.tools"
	ExchangeVSM       = "cyb.vsm"
	ExchangePriority  = "cyb.priority"
	ExchangeDLX       = "cyb.dlx"

	QueueTelemetryMetrics = "telemetry.metrics"
	QueueTelemetryLogs    = "telemetry.logs"
	QueueEventsStream     = "events.stream"
	QueuePriorityAlerts   = "priority.alerts"
	QueueDLQ              = "dlq"
	QueueEventsRetry      = "cyb.events.retry"
	QueueEventsFailed     = "cyb.events.failed"
)

// systemExchange returns the per-system topic exchange name, e.g. cyb.vsm.s3.
func systemExchange(s System) string {
	return fmt.Sprintf("cyb.vsm.%s", s.String())
}

// systemQueue returns the durable queue name for a system's given role.
func systemQueue(s System, role string) string {
	return fmt.Sprintf("vsm.system%d.%s", int(s), role)
}

// Topology declares the control plane's fixed exchange/queue/binding layout.
// Declare is idempotent: every AMQP declare call here is itself idempotent on
// the broker, so running Topology.Declare on every boot is safe and never
// destroys or redeclares conflicting topology.
type Topology struct {
	ch *amqp.Channel
}

// NewTopology wraps an already-open channel.
func NewTopology(ch *amqp.Channel) *Topology {
	return &Topology{ch: ch}
}

// Declare creates every exchange, queue, and binding the control plane needs,
// for the given set of VSM systems that have a queue on this node (an empty
// roles map uses "work" for every system).
func (t *Topology) Declare(systems []System, roles map[System]string) error {
	if err := t.declareExchanges(); err != nil {
		return err
	}
	if err := t.declareSharedQueues(); err != nil {
		return err
	}
	for _, s := range systems {
		role := "work"
		if roles != nil {
			if r, ok := roles[s]; ok {
				role = r
			}
		}
		if err := t.declareSystemQueue(s, role); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topology) declareExchanges() error {
	type exDecl struct {
		name string
		kind string
	}
	exchanges := []exDecl{
		{ExchangeEvents, "topic"},
		{ExchangeCommands, "topic"},
		{ExchangeTelemetry, "topic"},
		{ExchangeMCPTools, "topic"},
		{ExchangeVSM, "topic"},
		{ExchangePriority, "direct"},
		{ExchangeDLX, "fanout"},
	}
	for _, s := range []System{S1, S2, S3, S4, S5} {
		exchanges = append(exchanges, exDecl{systemExchange(s), "topic"})
	}
	for _, ex := range exchanges {
		if err := t.ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("bus: declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

func (t *Topology) declareSharedQueues() error {
	if _, err := t.ch.QueueDeclare(QueueTelemetryMetrics, true, false, false, false, nil); err != nil {
		return fmt.Errorf("bus: declare queue %s: %w", QueueTelemetryMetrics, err)
	}
	if _, err := t.ch.QueueDeclare(QueueTelemetryLogs, true, false, false, false, nil); err != nil {
		return fmt.Errorf("bus: declare queue %s: %w", QueueTelemetryLogs, err)
	}
	if err := t.ch.QueueBind(QueueTelemetryMetrics, "metrics.#", ExchangeTelemetry, false, nil); err != nil {
		return fmt.Errorf("bus: bind queue %s: %w", QueueTelemetryMetrics, err)
	}
	if err := t.ch.QueueBind(QueueTelemetryLogs, "logs.#", ExchangeTelemetry, false, nil); err != nil {
		return fmt.Errorf("bus: bind queue %s: %w", QueueTelemetryLogs, err)
	}

	if _, err := t.ch.QueueDeclare(QueueEventsStream, true, false, false, false, nil); err != nil {
		return fmt.Errorf("bus: declare queue %s: %w", QueueEventsStream, err)
	}
	if err := t.ch.QueueBind(QueueEventsStream, "#", ExchangeEvents, false, nil); err != nil {
		return fmt.Errorf("bus: bind queue %s: %w", QueueEventsStream, err)
	}

	if _, err := t.ch.QueueDeclare(QueuePriorityAlerts, true, false, false, false, amqp.Table{
		"x-max-priority": int32(10),
	}); err != nil {
		return fmt.Errorf("bus: declare queue %s: %w", QueuePriorityAlerts, err)
	}
	if err := t.ch.QueueBind(QueuePriorityAlerts, "alert", ExchangePriority, false, nil); err != nil {
		return fmt.Errorf("bus: bind queue %s: %w", QueuePriorityAlerts, err)
	}

	if _, err := t.ch.QueueDeclare(QueueDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("bus: declare queue %s: %w", QueueDLQ, err)
	}
	if err := t.ch.QueueBind(QueueDLQ, "", ExchangeDLX, false, nil); err != nil {
		return fmt.Errorf("bus: bind queue %s: %w", QueueDLQ, err)
	}

	if _, err := t.ch.QueueDeclare(QueueEventsRetry, true, false, false, false, amqp.Table{
		"x-message-ttl":             int32(RetryTTL / time.Millisecond),
		"x-dead-letter-exchange":    ExchangeEvents,
		"x-dead-letter-routing-key": "#",
	}); err != nil {
		return fmt.Errorf("bus: declare queue %s: %w", QueueEventsRetry, err)
	}

	if _, err := t.ch.QueueDeclare(QueueEventsFailed, true, false, false, false, nil); err != nil {
		return fmt.Errorf("bus: declare queue %s: %w", QueueEventsFailed, err)
	}
	return nil
}

func (t *Topology) declareSystemQueue(s System, role string) error {
	name := systemQueue(s, role)
	if _, err := t.ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-message-ttl":          int32(QueueTTL / time.Millisecond),
		"x-dead-letter-exchange": ExchangeDLX,
	}); err != nil {
		return fmt.Errorf("bus: declare queue %s: %w", name, err)
	}
	if err := t.ch.QueueBind(name, fmt.Sprintf("vsm.%s.*", s.String()), ExchangeEvents, false, nil); err != nil {
		return fmt.Errorf("bus: bind queue %s to events: %w", name, err)
	}
	if err := t.ch.QueueBind(name, fmt.Sprintf("%s.#", s.String()), ExchangeVSM, false, nil); err != nil {
		return fmt.Errorf("bus: bind queue %s to vsm: %w", name, err)
	}
	return nil
}
