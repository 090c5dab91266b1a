package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caxton-io/router/types"
)

func TestCapabilityIndex_ProvidersReflectAddAndRemove(t *testing.T) {
	idx := NewCapabilityIndex()
	sum, err := types.NewCapabilityName("summarize")
	require.NoError(t, err)

	a := types.NewAgentId()
	b := types.NewAgentId()
	idx.addAgent(a, []types.CapabilityName{sum})
	idx.addAgent(b, []types.CapabilityName{sum})

	providers := idx.Providers(sum)
	assert.Len(t, providers, 2)

	idx.removeAgent(a, []types.CapabilityName{sum})
	providers = idx.Providers(sum)
	require.Len(t, providers, 1)
	assert.True(t, providers[0].Equal(b))

	idx.removeAgent(b, []types.CapabilityName{sum})
	assert.Nil(t, idx.Providers(sum))
}

func TestCapabilityIndex_UnknownCapabilityReturnsNil(t *testing.T) {
	idx := NewCapabilityIndex()
	unknown, err := types.NewCapabilityName("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, idx.Providers(unknown))
}
