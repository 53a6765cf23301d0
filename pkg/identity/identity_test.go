package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexsia228/M55-soul/pkg/halt"
)

type memSeeds map[string][]byte

func (m memSeeds) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memSeeds) Set(_ context.Context, key string, value []byte) error {
	m[key] = value
	return nil
}

func TestRequire_RejectsBlank(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t"} {
		_, err := Require(raw)
		f, ok := halt.AsFatal(err)
		require.True(t, ok, "raw=%q", raw)
		assert.Equal(t, halt.CodeUserHashMissing, f.Code)
	}

	h, err := Require("  uh_abc  ")
	require.NoError(t, err)
	assert.Equal(t, Hash("uh_abc"), h)
}

func TestNormalizePlan(t *testing.T) {
	assert.Equal(t, PlanPremium, NormalizePlan("PREMIUM"))
	assert.Equal(t, PlanStandard, NormalizePlan(" standard "))
	assert.Equal(t, PlanFree, NormalizePlan("free"))
	// The one designed fallback: unknown coerces to free.
	assert.Equal(t, PlanFree, NormalizePlan("enterprise"))
	assert.Equal(t, PlanFree, NormalizePlan(""))
}

func TestResolve_DirectWinsOverSeed(t *testing.T) {
	seeds := memSeeds{SeedKey: []byte("uh_seeded")}
	h, err := Resolve(context.Background(), "uh_direct", seeds)
	require.NoError(t, err)
	assert.Equal(t, Hash("uh_direct"), h)
}

func TestResolve_FallsBackToSeed(t *testing.T) {
	seeds := memSeeds{SeedKey: []byte("uh_seeded")}
	h, err := Resolve(context.Background(), "", seeds)
	require.NoError(t, err)
	assert.Equal(t, Hash("uh_seeded"), h)
}

func TestResolve_NothingPresentIsFatal(t *testing.T) {
	_, err := Resolve(context.Background(), "", memSeeds{})
	f, ok := halt.AsFatal(err)
	require.True(t, ok)
	assert.Equal(t, halt.CodeUserHashMissing, f.Code)
}

func TestSeed_RoundTrip(t *testing.T) {
	seeds := memSeeds{}
	require.NoError(t, Seed(context.Background(), "uh_abc", seeds))
	h, err := Resolve(context.Background(), "", seeds)
	require.NoError(t, err)
	assert.Equal(t, Hash("uh_abc"), h)
}
