package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAgentIdShape(t *testing.T) {
	id := NewAgentId()
	require.True(t, IsValidAgentId(string(id)))
	assert.Len(t, string(id), len(agentPrefix)+hexLen)
}

func TestNewHostIdShape(t *testing.T) {
	id := NewHostId()
	require.True(t, IsValidHostId(string(id)))
}

func TestIdsAreUnique(t *testing.T) {
	a := NewAgentId()
	b := NewAgentId()
	assert.NotEqual(t, a, b)
}

func TestIsValidAgentIdRejectsWrongPrefix(t *testing.T) {
	assert.False(t, IsValidAgentId("host-1234567890abcdef1234567890abcdef"))
}

func TestIsValidAgentIdRejectsBadHex(t *testing.T) {
	assert.False(t, IsValidAgentId("agent-1234567890abcdefghij567890abcdef"))
}

func TestIsValidAgentIdRejectsWrongLength(t *testing.T) {
	assert.False(t, IsValidAgentId("agent-1234"))
	assert.False(t, IsValidAgentId("agent-1234567890abcdef1234567890abcdef12"))
}

func TestIsValidAgentIdAcceptsKnownGoodValue(t *testing.T) {
	assert.True(t, IsValidAgentId("agent-00000000000000000000000000000001"))
}
