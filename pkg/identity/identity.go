// Package identity defines the boundary types for who the user is: the
// opaque identity hash that partitions and signs all persisted records,
// and the closed plan-tier enum. Raw external shapes never travel deeper
// into the system than this package.
package identity

import (
	"context"
	"strings"

	"github.com/lexsia228/M55-soul/pkg/halt"
)

// Hash is the per-user key used as HMAC signing material and storage
// partition key. It is supplied by the host or a previous seed; it is
// never generated and never defaulted.
type Hash string

func (h Hash) String() string { return string(h) }

// Require validates a raw hash. Absence is an identity error, not a
// value: entitlement-bearing operations must halt on it.
func Require(raw string) (Hash, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", halt.New(halt.CodeUserHashMissing, "user hash is required", "")
	}
	return Hash(trimmed), nil
}

type Plan string

const (
	PlanFree     Plan = "free"
	PlanStandard Plan = "standard"
	PlanPremium  Plan = "premium"
)

// NormalizePlan coerces external plan metadata to the closed enum.
// Unrecognized values become free: the one designed fallback in the
// system, because an unknown plan must never widen access.
func NormalizePlan(raw string) Plan {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "premium":
		return PlanPremium
	case "standard":
		return PlanStandard
	default:
		return PlanFree
	}
}

func ValidPlan(p Plan) bool {
	return p == PlanFree || p == PlanStandard || p == PlanPremium
}

// SeedKey is the plain (unsigned) local key holding a previously synced
// identity hash. The seed itself cannot be signed: there is no key
// material before the identity exists.
const SeedKey = "user_hash"

// SeedStore is the unsigned corner of the local backend used for the
// identity seed. Implemented by the trusted-store backends.
type SeedStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Resolve returns the identity hash for this context: a directly supplied
// value wins, otherwise the persisted seed. Neither present is fatal;
// no anonymous or generated identity is ever substituted.
func Resolve(ctx context.Context, direct string, seeds SeedStore) (Hash, error) {
	if trimmed := strings.TrimSpace(direct); trimmed != "" {
		return Hash(trimmed), nil
	}
	raw, ok, err := seeds.Get(ctx, SeedKey)
	if err != nil {
		return "", halt.New(halt.CodeStorageReadFailed, "unable to read local state", err.Error())
	}
	if ok {
		if trimmed := strings.TrimSpace(string(raw)); trimmed != "" {
			return Hash(trimmed), nil
		}
	}
	return "", halt.New(halt.CodeUserHashMissing, "user context is missing",
		"supply a hash directly or seed the "+SeedKey+" key before boot")
}

// Seed persists the hash for later sessions.
func Seed(ctx context.Context, h Hash, seeds SeedStore) error {
	if _, err := Require(string(h)); err != nil {
		return err
	}
	if err := seeds.Set(ctx, SeedKey, []byte(h)); err != nil {
		return halt.New(halt.CodeStorageWriteFailed, "unable to persist identity seed", err.Error())
	}
	return nil
}
