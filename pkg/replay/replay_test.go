package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLedger_FirstSeenIsNotReplay(t *testing.T) {
	l := New(Config{ExpectedItems: 100, FalsePositiveRate: 1e-3, Window: time.Minute})
	defer l.Close()

	assert.False(t, l.CheckAndRemember("nonce-1"))
}

func TestLedger_RepeatedNonceIsReplay(t *testing.T) {
	l := New(Config{ExpectedItems: 100, FalsePositiveRate: 1e-3, Window: time.Minute})
	defer l.Close()

	assert.False(t, l.CheckAndRemember("nonce-1"))
	assert.True(t, l.CheckAndRemember("nonce-1"), "second sighting within the window must be flagged")
}

func TestLedger_ExpiredNonceIsAllowedAgain(t *testing.T) {
	l := New(Config{ExpectedItems: 100, FalsePositiveRate: 1e-3, Window: 20 * time.Millisecond})
	defer l.Close()

	assert.False(t, l.CheckAndRemember("nonce-1"))
	time.Sleep(30 * time.Millisecond)
	assert.False(t, l.CheckAndRemember("nonce-1"), "nonce outside the window is no longer a replay")
}

func TestLedger_CompactionEvictsExpiredEntries(t *testing.T) {
	l := New(Config{ExpectedItems: 100, FalsePositiveRate: 1e-3, Window: 20 * time.Millisecond})
	defer l.Close()

	l.CheckAndRemember("nonce-1")
	assert.Equal(t, 1, l.Len())

	assert.Eventually(t, func() bool {
		return l.Len() == 0
	}, time.Second, 10*time.Millisecond, "compaction sweep should evict the expired entry")
}

func TestLedger_DistinctNoncesDoNotCollide(t *testing.T) {
	l := New(Config{ExpectedItems: 100, FalsePositiveRate: 1e-3, Window: time.Minute})
	defer l.Close()

	assert.False(t, l.CheckAndRemember("a"))
	assert.False(t, l.CheckAndRemember("b"))
	assert.True(t, l.CheckAndRemember("a"))
	assert.True(t, l.CheckAndRemember("b"))
}
