package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentId_MintedUnique(t *testing.T) {
	a := NewAgentId()
	b := NewAgentId()
	assert.False(t, a.IsZero())
	assert.False(t, a.Equal(b))
}

func TestAgentId_RoundTrip(t *testing.T) {
	a := NewAgentId()
	parsed, err := ParseAgentId(a.String())
	require.NoError(t, err)
	assert.True(t, a.Equal(parsed))
}

func TestParseAgentId_Rejects(t *testing.T) {
	_, err := ParseAgentId("")
	require.Error(t, err)

	_, err = ParseAgentId("not-a-uuid")
	require.Error(t, err)
}

func TestCapabilityName_Validates(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"summarize", false},
		{"image-gen.v2", false},
		{"a", false},
		{"", true},
		{"1bad", true},
		{"has space", true},
		{string(make([]byte, 65)), true},
	}
	for _, tc := range cases {
		_, err := NewCapabilityName(tc.in)
		if tc.wantErr {
			assert.Error(t, err, "expected error for %q", tc.in)
		} else {
			assert.NoError(t, err, "expected no error for %q", tc.in)
		}
	}
}

func TestConversationId_RoundTrip(t *testing.T) {
	c := NewConversationId()
	parsed, err := ParseConversationId(c.String())
	require.NoError(t, err)
	assert.True(t, c.Equal(parsed))
}
