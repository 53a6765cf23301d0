package purchase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexsia228/M55-soul/pkg/halt"
	"github.com/lexsia228/M55-soul/pkg/identity"
	"github.com/lexsia228/M55-soul/pkg/trustedstore"
)

const userHash = identity.Hash("uh_purchase_1")

func newCache() *Cache {
	store := trustedstore.New(trustedstore.NewMemoryBackend(), func() int64 { return 1700000000000 })
	return New(store)
}

func TestRegister_CoreIsPermanentAndIdempotent(t *testing.T) {
	ctx := context.Background()
	cache := newCache()

	require.NoError(t, cache.Register(ctx, "core", userHash, Meta{}))
	require.NoError(t, cache.Register(ctx, "core", userHash, Meta{}))

	owned, err := cache.HasRight(ctx, KindCore, Args{}, userHash, 0)
	require.NoError(t, err)
	assert.True(t, owned)
}

func TestHasRight_UnownedCoreIsFalseNotFatal(t *testing.T) {
	owned, err := newCache().HasRight(context.Background(), KindCore, Args{}, userHash, 0)
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestRegister_SynastryIndexHasNoDuplicates(t *testing.T) {
	ctx := context.Background()
	cache := newCache()

	require.NoError(t, cache.Register(ctx, "synastry_ph1", userHash, Meta{}))
	require.NoError(t, cache.Register(ctx, "synastry_ph1", userHash, Meta{}))
	require.NoError(t, cache.Register(ctx, "synastry_ph2", userHash, Meta{}))

	owned, err := cache.HasRight(ctx, KindSynastry, Args{PartnerHash: "ph1"}, userHash, 0)
	require.NoError(t, err)
	assert.True(t, owned)

	partners, err := cache.SynastryPartners(ctx, userHash)
	require.NoError(t, err)
	assert.Equal(t, []string{"ph1", "ph2"}, partners)
}

func TestSynastryPartners_EmptyWithoutPurchases(t *testing.T) {
	partners, err := newCache().SynastryPartners(context.Background(), userHash)
	require.NoError(t, err)
	assert.Empty(t, partners)
}

func TestRegister_WeeklyExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	cache := newCache()
	const expiresAt = int64(1800000000000)

	require.NoError(t, cache.Register(ctx, "weekly", userHash, Meta{
		WeekKey:   "2025-W10",
		ExpiresAt: expiresAt,
	}))

	args := Args{WeekKey: "2025-W10"}
	owned, err := cache.HasRight(ctx, KindWeek, args, userHash, expiresAt-1)
	require.NoError(t, err)
	assert.True(t, owned)

	// Boundary: now == expiresAt is already expired.
	owned, err = cache.HasRight(ctx, KindWeek, args, userHash, expiresAt)
	require.NoError(t, err)
	assert.False(t, owned)

	owned, err = cache.HasRight(ctx, KindWeek, args, userHash, expiresAt+1)
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestRegister_WeeklyWithoutMetaIsContractError(t *testing.T) {
	err := newCache().Register(context.Background(), "weekly", userHash, Meta{WeekKey: "2025-W10"})
	require.ErrorIs(t, err, ErrWeeklyMetaRequired)

	err = newCache().Register(context.Background(), "weekly", userHash, Meta{ExpiresAt: 1})
	require.ErrorIs(t, err, ErrWeeklyMetaRequired)
}

func TestRegister_DailyCanonicalAndLegacy(t *testing.T) {
	ctx := context.Background()
	cache := newCache()
	const expiresAt = int64(1800000000000)

	require.NoError(t, cache.Register(ctx, "daily", userHash, Meta{
		DateKey:   "2025-03-04",
		ExpiresAt: expiresAt,
	}))
	owned, err := cache.HasRight(ctx, KindDay, Args{DateKey: "2025-03-04"}, userHash, expiresAt-1)
	require.NoError(t, err)
	assert.True(t, owned)

	// Deprecated suffixed form writes the same record shape.
	require.NoError(t, cache.Register(ctx, "daily_2025-03-05", userHash, Meta{ExpiresAt: expiresAt}))
	owned, err = cache.HasRight(ctx, KindDay, Args{DateKey: "2025-03-05"}, userHash, expiresAt-1)
	require.NoError(t, err)
	assert.True(t, owned)

	err = cache.Register(ctx, "daily", userHash, Meta{DateKey: "2025-03-06"})
	require.ErrorIs(t, err, ErrDailyMetaRequired)

	err = cache.Register(ctx, "daily_2025-03-07", userHash, Meta{})
	require.ErrorIs(t, err, ErrDailyMetaRequired)
}

func TestRegister_UnknownProductIsFatal(t *testing.T) {
	err := newCache().Register(context.Background(), "lifetime_vip", userHash, Meta{})
	f, ok := halt.AsFatal(err)
	require.True(t, ok)
	assert.Equal(t, halt.CodeUnknownProductID, f.Code)
}

func TestRegister_MissingInputsAreFatal(t *testing.T) {
	err := newCache().Register(context.Background(), "", userHash, Meta{})
	f, ok := halt.AsFatal(err)
	require.True(t, ok)
	assert.Equal(t, halt.CodePurchaseInputError, f.Code)

	err = newCache().Register(context.Background(), "core", "", Meta{})
	f, ok = halt.AsFatal(err)
	require.True(t, ok)
	assert.Equal(t, halt.CodePurchaseInputError, f.Code)
}

func TestHasRight_MissingHashIsFatal(t *testing.T) {
	_, err := newCache().HasRight(context.Background(), KindCore, Args{}, "", 0)
	f, ok := halt.AsFatal(err)
	require.True(t, ok)
	assert.Equal(t, halt.CodeUserHashMissing, f.Code)
}

func TestHasRight_MissingArgsReadAsUnowned(t *testing.T) {
	ctx := context.Background()
	cache := newCache()
	for _, tc := range []struct {
		kind Kind
		args Args
	}{
		{KindSynastry, Args{}},
		{KindWeek, Args{}},
		{KindDay, Args{}},
	} {
		owned, err := cache.HasRight(ctx, tc.kind, tc.args, userHash, 0)
		require.NoError(t, err)
		assert.False(t, owned, "kind=%s", tc.kind)
	}
}
