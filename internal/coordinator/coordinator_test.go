package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReserveSlot_GuaranteesAtLeastOneSlotPerTopic(t *testing.T) {
	c := New(Config{MaxSlots: 10, AgingMs: time.Second, AgingCap: 10, AgingBoost: 1}, nil)
	c.SetPriority("hi", 100)
	c.SetPriority("lo", 1)

	assert.True(t, c.ReserveSlot("lo"))
}

func TestReserveSlot_FairShareAndAging(t *testing.T) {
	c := New(Config{MaxSlots: 4, AgingMs: 20 * time.Millisecond, AgingCap: 1000, AgingBoost: 1}, nil)
	c.SetPriority("hi", 100)
	c.SetPriority("lo", 1)

	for i := 0; i < 4; i++ {
		assert.True(t, c.ReserveSlot("hi"), "reservation %d for hi should succeed", i)
	}

	assert.False(t, c.ReserveSlot("lo"), "global budget is exhausted by hi")

	time.Sleep(30 * time.Millisecond)
	c.ReleaseSlot("hi")

	assert.True(t, c.ReserveSlot("lo"), "after aging and a release, lo must get its guaranteed slot")
}

func TestReleaseSlot_NeverGoesNegative(t *testing.T) {
	c := New(DefaultConfig(), nil)
	c.SetPriority("t", 1)

	assert.NotPanics(t, func() {
		c.ReleaseSlot("t")
		c.ReleaseSlot("t")
	})
	assert.Equal(t, int64(0), c.Occupied("t"))
}

func TestReserveSlot_DifferentTopicsDoNotInteractUnderSpareBudget(t *testing.T) {
	c := New(Config{MaxSlots: 100, AgingMs: time.Second, AgingCap: 10, AgingBoost: 1}, nil)
	c.SetPriority("a", 1)
	c.SetPriority("b", 1)

	assert.True(t, c.ReserveSlot("a"))
	assert.True(t, c.ReserveSlot("b"))
	assert.Equal(t, int64(1), c.Occupied("a"))
	assert.Equal(t, int64(1), c.Occupied("b"))
}
