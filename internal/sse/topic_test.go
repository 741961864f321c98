package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePattern_Wildcard(t *testing.T) {
	p, err := parsePattern("episode.*")
	require.NoError(t, err)
	assert.Equal(t, "episode", p.base)
	assert.True(t, p.wildcard)
	assert.True(t, p.matches("created"))
	assert.True(t, p.matches("anything"))
}

func TestParsePattern_Exact(t *testing.T) {
	p, err := parsePattern("episode.created")
	require.NoError(t, err)
	assert.Equal(t, "episode", p.base)
	assert.False(t, p.wildcard)
	assert.True(t, p.matches("created"))
	assert.False(t, p.matches("deleted"))
}

func TestParsePattern_RejectsInvalidGrammar(t *testing.T) {
	for _, bad := range []string{"", "Episode.*", "episode", "episode.*.created", "episode.Created"} {
		_, err := parsePattern(bad)
		assert.Error(t, err, bad)
	}
}

func TestParsePatterns_CommaSeparated(t *testing.T) {
	ps, err := parsePatterns("a.*, b.created")
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "a", ps[0].base)
	assert.Equal(t, "b", ps[1].base)
}

func TestTenantKey_ScopesByTenant(t *testing.T) {
	assert.NotEqual(t, tenantKey("x", "episode"), tenantKey("y", "episode"))
}
