package bus

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cybernetic/internal/errs"
)

func TestDecode_MissingNonceFails(t *testing.T) {
	d := amqp.Delivery{RoutingKey: "s1.foo", Headers: amqp.Table{}}
	_, err := decode(d)
	assert.ErrorIs(t, err, errs.ErrDecode)
}

func TestDecode_RoundTripsHeaders(t *testing.T) {
	d := amqp.Delivery{
		RoutingKey:  "s1.foo",
		Exchange:    ExchangeEvents,
		ContentType: "application/json",
		Body:        []byte(`{"a":1}`),
		Headers: amqp.Table{
			"x-cyb-nonce":          "abc123",
			"x-cyb-timestamp":      int64(1000),
			"x-cyb-site":           "site-a",
			"x-cyb-signature":      "deadbeef",
			"x-cyb-key-id":         "k1",
			"x-cyb-correlation-id": "corr-1",
			"x-cyb-source":         "gateway-1",
		},
	}
	env, err := decode(d)
	require.NoError(t, err)
	assert.Equal(t, "abc123", env.Security.Nonce)
	assert.Equal(t, int64(1000), env.Security.Timestamp)
	assert.Equal(t, "corr-1", env.Headers.CorrelationID)
	assert.Equal(t, []byte(`{"a":1}`), env.Payload)
}

func TestRetryCount_DefaultsToZero(t *testing.T) {
	d := amqp.Delivery{Headers: amqp.Table{}}
	assert.Equal(t, int32(0), retryCount(d))
}

func TestRetryCount_ReadsInt32(t *testing.T) {
	d := amqp.Delivery{Headers: amqp.Table{"x-cyb-retry": int32(3)}}
	assert.Equal(t, int32(3), retryCount(d))
}

func TestBackoffFor_CapsAtReconnectMax(t *testing.T) {
	c := &Consumer{cfg: ConsumerConfig{ReconnectMin: time.Second, ReconnectMax: 5 * time.Second}}
	for attempt := 1; attempt <= 20; attempt++ {
		d := c.backoffFor(attempt)
		assert.LessOrEqual(t, d, 5*time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestConsumer_StopIsIdempotent(t *testing.T) {
	c := NewConsumer(nil, nil, nil, nil, ConsumerConfig{Queue: "q"}, nil)
	assert.NotPanics(t, func() {
		c.Stop()
		c.Stop()
	})
}
