package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixtureProviderReturnsRegisteredResult(t *testing.T) {
	p := NewFixtureProvider()
	brief := "Ship the Q3 migration"
	p.Register(brief, DraftResult{RawGraphJSON: `{"nodes":[]}`, ModelID: "fixture"})

	out, err := p.Draft(context.Background(), brief)
	require.NoError(t, err)
	assert.Equal(t, `{"nodes":[]}`, out.RawGraphJSON)
}

func TestFixtureProviderErrorsOnUnknownBrief(t *testing.T) {
	p := NewFixtureProvider()
	_, err := p.Draft(context.Background(), "never registered")
	assert.Error(t, err)
}

func TestFixtureProviderKeyedByHashNotString(t *testing.T) {
	p := NewFixtureProvider()
	p.Register("brief A", DraftResult{ModelID: "a"})
	p.Register("brief B", DraftResult{ModelID: "b"})

	outA, err := p.Draft(context.Background(), "brief A")
	require.NoError(t, err)
	assert.Equal(t, "a", outA.ModelID)

	outB, err := p.Draft(context.Background(), "brief B")
	require.NoError(t, err)
	assert.Equal(t, "b", outB.ModelID)
}
