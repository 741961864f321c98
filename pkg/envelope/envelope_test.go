package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cybernetic/internal/errs"
)

func testKeys() *KeyRing {
	return NewKeyRing("k1", []byte("super-secret-signing-key"))
}

func alwaysFresh(string) bool { return false }

func TestEnrichThenVerify_Succeeds(t *testing.T) {
	keys := testKeys()
	env, err := Enrich([]byte(`{"hello":"world"}`), RoutingMeta{
		RoutingKey:  "s4.intelligence.analyze",
		Exchange:    "events",
		ContentType: "application/json",
		Source:      "gateway-1",
	}, "site-a", keys)
	require.NoError(t, err)

	assert.NoError(t, Verify(env, keys, DefaultPolicy(), alwaysFresh))
}

func TestVerify_MissingHeadersFailsClosed(t *testing.T) {
	env := Envelope{RoutingKey: "x", Exchange: "events"}
	err := Verify(env, testKeys(), DefaultPolicy(), alwaysFresh)
	assert.ErrorIs(t, err, errs.ErrMissingSecurityHeaders)
}

func TestVerify_TamperedPayloadFailsSignature(t *testing.T) {
	keys := testKeys()
	env, err := Enrich([]byte("original"), RoutingMeta{RoutingKey: "r", Exchange: "events", ContentType: "text/plain"}, "site-a", keys)
	require.NoError(t, err)

	env.Payload = []byte("tampered")
	assert.ErrorIs(t, Verify(env, keys, DefaultPolicy(), alwaysFresh), errs.ErrInvalidSignature)
}

func TestVerify_TamperedRoutingKeyFailsSignature(t *testing.T) {
	keys := testKeys()
	env, err := Enrich([]byte("p"), RoutingMeta{RoutingKey: "r.one", Exchange: "events", ContentType: "text/plain"}, "site-a", keys)
	require.NoError(t, err)

	env.RoutingKey = "r.two"
	assert.ErrorIs(t, Verify(env, keys, DefaultPolicy(), alwaysFresh), errs.ErrInvalidSignature)
}

func TestVerify_FutureTimestampRejected(t *testing.T) {
	keys := testKeys()
	env, err := Enrich([]byte("p"), RoutingMeta{RoutingKey: "r", Exchange: "events", ContentType: "text/plain"}, "site-a", keys)
	require.NoError(t, err)

	env.Security.Timestamp = time.Now().Add(time.Hour).UnixMilli()
	assert.ErrorIs(t, Verify(env, keys, DefaultPolicy(), alwaysFresh), errs.ErrClockSkewFuture)
}

func TestVerify_ExpiredTimestampRejected(t *testing.T) {
	keys := testKeys()
	env, err := Enrich([]byte("p"), RoutingMeta{RoutingKey: "r", Exchange: "events", ContentType: "text/plain"}, "site-a", keys)
	require.NoError(t, err)

	env.Security.Timestamp = time.Now().Add(-time.Hour).UnixMilli()
	assert.ErrorIs(t, Verify(env, keys, DefaultPolicy(), alwaysFresh), errs.ErrExpiredTimestamp)
}

func TestVerify_ReplayDetectedRejected(t *testing.T) {
	keys := testKeys()
	env, err := Enrich([]byte("p"), RoutingMeta{RoutingKey: "r", Exchange: "events", ContentType: "text/plain"}, "site-a", keys)
	require.NoError(t, err)

	alwaysSeen := func(string) bool { return true }
	assert.ErrorIs(t, Verify(env, keys, DefaultPolicy(), alwaysSeen), errs.ErrReplayDetected)
}

func TestKeyRing_RotationVerifiesOldAndNewSignatures(t *testing.T) {
	keys := testKeys()
	oldEnv, err := Enrich([]byte("p"), RoutingMeta{RoutingKey: "r", Exchange: "events", ContentType: "text/plain"}, "site-a", keys)
	require.NoError(t, err)

	keys.Rotate("k2", []byte("next-secret"))

	newEnv, err := Enrich([]byte("p"), RoutingMeta{RoutingKey: "r", Exchange: "events", ContentType: "text/plain"}, "site-a", keys)
	require.NoError(t, err)
	assert.Equal(t, "k2", newEnv.Security.KeyID)

	assert.NoError(t, Verify(oldEnv, keys, DefaultPolicy(), alwaysFresh), "envelope signed before rotation must still verify")
	assert.NoError(t, Verify(newEnv, keys, DefaultPolicy(), alwaysFresh))
}

func TestKeyRing_RetireRemovesOldKey(t *testing.T) {
	keys := testKeys()
	env, err := Enrich([]byte("p"), RoutingMeta{RoutingKey: "r", Exchange: "events", ContentType: "text/plain"}, "site-a", keys)
	require.NoError(t, err)

	keys.Rotate("k2", []byte("next-secret"))
	keys.Retire("k1")

	assert.ErrorIs(t, Verify(env, keys, DefaultPolicy(), alwaysFresh), errs.ErrInvalidSignature)
}

func TestStripSecurity_ZeroesSecurityHeaders(t *testing.T) {
	keys := testKeys()
	env, err := Enrich([]byte("p"), RoutingMeta{RoutingKey: "r", Exchange: "events", ContentType: "text/plain"}, "site-a", keys)
	require.NoError(t, err)

	stripped := StripSecurity(env)
	assert.Empty(t, stripped.Security.Nonce)
	assert.Empty(t, stripped.Security.Signature)
	assert.Equal(t, env.Payload, stripped.Payload)
}
