//go:build e2e

package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cybernetic/internal/persistence"
)

// TestRedisIdempotentCommitAppliesOnceAgainstLiveRedis exercises
// persistence.RedisPersister's Lua script against a real Redis instance
// rather than the fake evaler internal/persistence's own unit tests use: it
// commits the same CommitEntry twice and then a second entry, and checks
// that every CommitBatch call succeeds. It does not read the counter back.
//
// Requires a Redis reachable at 127.0.0.1:6379; run with `-tags e2e`.
func TestRedisIdempotentCommitAppliesOnceAgainstLiveRedis(t *testing.T) {
	client := persistence.NewGoRedisEvaler("127.0.0.1:6379")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Eval(ctx, "return 1", nil); err != nil {
		t.Skipf("skipping: redis not reachable on 127.0.0.1:6379: %v", err)
	}

	key := "e2e-s2-topic"
	commitID := "commit-1"
	entry := persistence.CommitEntry{Key: key, Delta: 3, CommitID: commitID}

	persister := persistence.NewRedisPersister(client, time.Minute)

	require.NoError(t, persister.CommitBatch(ctx, []persistence.CommitEntry{entry}))
	// Re-delivery of the identical commit (the bus redelivering after a
	// connection blip, say) must be a no-op against the counter.
	require.NoError(t, persister.CommitBatch(ctx, []persistence.CommitEntry{entry}))

	require.NoError(t, persister.CommitBatch(ctx, []persistence.CommitEntry{
		{Key: key, Delta: 2, CommitID: "commit-2"},
	}))
}
