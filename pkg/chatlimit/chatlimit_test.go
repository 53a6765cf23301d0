package chatlimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexsia228/M55-soul/pkg/halt"
	"github.com/lexsia228/M55-soul/pkg/identity"
	"github.com/lexsia228/M55-soul/pkg/policy"
	"github.com/lexsia228/M55-soul/pkg/trustedstore"
)

const userHash = identity.Hash("uh_chat_1")

const entitlementsJSON = `{
  "plans": {
    "free":     {"ai_chat_send_per_day": 3,  "tarot_draws_per_day": 1,  "dtr_monthly_included": 0, "weekly_view": false},
    "standard": {"ai_chat_send_per_day": 30, "tarot_draws_per_day": 5,  "dtr_monthly_included": 1, "weekly_view": true},
    "premium":  {"ai_chat_send_per_day": -1, "tarot_draws_per_day": 10, "dtr_monthly_included": 3, "weekly_view": true}
  }
}`

func newLimiter(t *testing.T) *Limiter {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/"+policy.EntitlementsPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(entitlementsJSON))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store := trustedstore.New(trustedstore.NewMemoryBackend(), func() int64 { return 1700000000000 })
	return New(store, policy.NewLoader(srv.URL, srv.Client()), time.UTC)
}

// Noon UTC, so the local day is unambiguous in these tests.
var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC).UnixMilli()

func TestAllow_FreePlanConsumesDownToBlocked(t *testing.T) {
	ctx := context.Background()
	limiter := newLimiter(t)

	for i, wantRemaining := range []int{2, 1, 0} {
		d, err := limiter.Allow(ctx, userHash, "general", identity.PlanFree, noon)
		require.NoError(t, err, "send %d", i+1)
		assert.True(t, d.OK)
		assert.Equal(t, ReasonWithinLimit, d.Reason)
		assert.Equal(t, wantRemaining, d.Remaining)
	}

	d, err := limiter.Allow(ctx, userHash, "general", identity.PlanFree, noon)
	require.NoError(t, err)
	assert.False(t, d.OK)
	assert.Equal(t, ReasonDailyLimit, d.Reason)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, BlockedMessage, d.Message)
}

func TestAllow_CounterResetsOnNextLocalDay(t *testing.T) {
	ctx := context.Background()
	limiter := newLimiter(t)

	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(ctx, userHash, "general", identity.PlanFree, noon)
		require.NoError(t, err)
	}

	nextDay := noon + 24*60*60*1000
	d, err := limiter.Allow(ctx, userHash, "general", identity.PlanFree, nextDay)
	require.NoError(t, err)
	assert.True(t, d.OK)
	assert.Equal(t, 2, d.Remaining)
}

func TestCheck_DoesNotConsume(t *testing.T) {
	ctx := context.Background()
	limiter := newLimiter(t)

	for i := 0; i < 5; i++ {
		d, err := limiter.Check(ctx, userHash, "general", identity.PlanFree, noon)
		require.NoError(t, err)
		assert.True(t, d.OK)
		assert.Equal(t, 3, d.Remaining)
	}
}

func TestDecision_ResetAtIsNextLocalMidnight(t *testing.T) {
	limiter := newLimiter(t)
	d, err := limiter.Check(context.Background(), userHash, "general", identity.PlanFree, noon)
	require.NoError(t, err)

	want := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, want, d.ResetAt)
}

func TestAllow_RightContextBypassesQuota(t *testing.T) {
	ctx := context.Background()
	limiter := newLimiter(t)

	// Exhaust the free quota first; the right context must still pass.
	for i := 0; i < 3; i++ {
		_, err := limiter.Allow(ctx, userHash, "general", identity.PlanFree, noon)
		require.NoError(t, err)
	}

	d, err := limiter.Allow(ctx, userHash, "CTX_dtr_202603", identity.PlanFree, noon)
	require.NoError(t, err)
	assert.True(t, d.OK)
	assert.Equal(t, ReasonDTRRight, d.Reason)
	assert.Equal(t, -1, d.Remaining)

	// And it never touched the counter.
	d, err = limiter.Check(ctx, userHash, "general", identity.PlanFree, noon)
	require.NoError(t, err)
	assert.False(t, d.OK)
}

func TestAllow_PremiumIsUnlimited(t *testing.T) {
	ctx := context.Background()
	limiter := newLimiter(t)

	for i := 0; i < 50; i++ {
		d, err := limiter.Allow(ctx, userHash, "general", identity.PlanPremium, noon)
		require.NoError(t, err)
		assert.True(t, d.OK)
		assert.Equal(t, ReasonUnlimited, d.Reason)
		assert.Equal(t, -1, d.Remaining)
	}
}

func TestAllow_MissingHashIsFatal(t *testing.T) {
	_, err := newLimiter(t).Allow(context.Background(), "", "general", identity.PlanFree, noon)
	f, ok := halt.AsFatal(err)
	require.True(t, ok)
	assert.Equal(t, halt.CodeUserHashMissing, f.Code)
}

func TestAllow_UnknownPlanIsPolicyMissing(t *testing.T) {
	_, err := newLimiter(t).Allow(context.Background(), userHash, "general", identity.Plan("vip"), noon)
	f, ok := halt.AsFatal(err)
	require.True(t, ok)
	assert.Equal(t, halt.CodePolicyMissing, f.Code)
}
