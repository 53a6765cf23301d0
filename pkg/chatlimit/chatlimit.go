// Package chatlimit enforces the per-day AI chat send quota. The cap
// comes from the entitlement policy, usage is a signed per-day counter
// in the trusted store, and the window resets at local midnight.
package chatlimit

import (
	"context"
	"strings"
	"time"

	"github.com/lexsia228/M55-soul/pkg/identity"
	"github.com/lexsia228/M55-soul/pkg/policy"
	"github.com/lexsia228/M55-soul/pkg/trustedstore"
)

// Contexts carrying this prefix are covered by a standing right and are
// never counted against the daily quota.
const RightContextPrefix = "CTX_"

// BlockedMessage is product copy, kept verbatim.
const BlockedMessage = "今日はここまで。明日また、続きましょう。"

type Reason string

const (
	ReasonDTRRight    Reason = "DTR_RIGHT"
	ReasonUnlimited   Reason = "UNLIMITED"
	ReasonWithinLimit Reason = "WITHIN_LIMIT"
	ReasonDailyLimit  Reason = "DAILY_LIMIT"
)

// Decision is the outcome of a quota check. Remaining is -1 when the
// plan is uncapped; ResetAt is the next local midnight in unix
// milliseconds, and zero when no window applies.
type Decision struct {
	OK        bool   `json:"ok"`
	Reason    Reason `json:"reason"`
	Remaining int    `json:"remaining"`
	ResetAt   int64  `json:"reset_at,omitempty"`
	Message   string `json:"message,omitempty"`
}

// DefaultZone anchors the quota day when no timezone is supplied.
var DefaultZone = time.FixedZone("Asia/Tokyo", 9*60*60)

type Limiter struct {
	store    *trustedstore.Store
	policies *policy.Loader
	loc      *time.Location
}

func New(store *trustedstore.Store, policies *policy.Loader, loc *time.Location) *Limiter {
	if loc == nil {
		loc = DefaultZone
	}
	return &Limiter{store: store, policies: policies, loc: loc}
}

func usageKey(day string) string { return "chat_usage_" + day }

// Check reports whether a send would be admitted, without consuming.
func (l *Limiter) Check(ctx context.Context, h identity.Hash, chatContext string, plan identity.Plan, now int64) (Decision, error) {
	return l.decide(ctx, h, chatContext, plan, now, false)
}

// Allow admits and consumes one send when the quota permits. The
// returned Remaining reflects the consumption.
func (l *Limiter) Allow(ctx context.Context, h identity.Hash, chatContext string, plan identity.Plan, now int64) (Decision, error) {
	return l.decide(ctx, h, chatContext, plan, now, true)
}

func (l *Limiter) decide(ctx context.Context, h identity.Hash, chatContext string, plan identity.Plan, now int64, consume bool) (Decision, error) {
	if _, err := identity.Require(string(h)); err != nil {
		return Decision{}, err
	}
	if strings.HasPrefix(chatContext, RightContextPrefix) {
		return Decision{OK: true, Reason: ReasonDTRRight, Remaining: -1}, nil
	}

	ent, err := l.policies.Entitlements(ctx)
	if err != nil {
		return Decision{}, err
	}
	limit, err := ent.ChatCap(plan)
	if err != nil {
		return Decision{}, err
	}
	if limit == policy.Unlimited {
		return Decision{OK: true, Reason: ReasonUnlimited, Remaining: -1}, nil
	}

	local := time.UnixMilli(now).In(l.loc)
	day := local.Format("2006-01-02")
	resetAt := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.loc).
		AddDate(0, 0, 1).UnixMilli()

	used, err := l.readCount(ctx, usageKey(day), h)
	if err != nil {
		return Decision{}, err
	}
	if used >= limit {
		return Decision{
			OK:        false,
			Reason:    ReasonDailyLimit,
			Remaining: 0,
			ResetAt:   resetAt,
			Message:   BlockedMessage,
		}, nil
	}
	if consume {
		used++
		if err := l.store.Set(ctx, usageKey(day), used, h); err != nil {
			return Decision{}, err
		}
	}
	return Decision{
		OK:        true,
		Reason:    ReasonWithinLimit,
		Remaining: limit - used,
		ResetAt:   resetAt,
	}, nil
}

// readCount treats an absent counter as zero; a fresh day has no packet
// yet and that is not an integrity failure.
func (l *Limiter) readCount(ctx context.Context, key string, h identity.Hash) (int, error) {
	ok, err := l.store.Contains(ctx, key, h)
	if err != nil || !ok {
		return 0, err
	}
	var used int
	if err := l.store.Get(ctx, key, h, &used); err != nil {
		return 0, err
	}
	return used, nil
}
