// Package purchase maps product purchase events onto typed entitlement
// records inside the trusted store. Records are permanent (core,
// synastry) or time-bounded (weekly, daily); the client cache is a local
// mirror of the server-side grant, never the source of truth.
package purchase

import (
	"context"
	"errors"
	"strings"

	"github.com/lexsia228/M55-soul/pkg/halt"
	"github.com/lexsia228/M55-soul/pkg/identity"
	"github.com/lexsia228/M55-soul/pkg/trustedstore"
)

// Canonical product identifiers.
const (
	ProductCore   = "core"
	ProductWeekly = "weekly"
	ProductDaily  = "daily"

	synastryPrefix = "synastry_"
	// Deprecated suffixed form (daily_<dateKey>), accepted for
	// backward compatibility.
	dailyLegacyPrefix = "daily_"
)

// Purchase key schema inside the trusted store.
const (
	keyCore     = "p:core"
	keySynIndex = "p:syn_index"
)

func keySyn(partnerHash string) string { return "p:syn:" + partnerHash }
func keyWeek(weekKey string) string    { return "p:week:" + weekKey }
func keyDay(dateKey string) string     { return "p:day:" + dateKey }

// Contract errors: the caller supplied incomplete metadata for a
// time-bounded purchase. Raised before any persistence, so no partial
// state exists; these are programmer-contract violations, not halts.
var (
	ErrWeeklyMetaRequired = errors.New("weekly purchase requires meta.weekKey and meta.expiresAt")
	ErrDailyMetaRequired  = errors.New("daily purchase requires meta.dateKey and meta.expiresAt")
)

// Meta carries the required metadata for time-bounded purchases.
// ExpiresAt is an absolute unix-millisecond timestamp.
type Meta struct {
	WeekKey   string
	DateKey   string
	ExpiresAt int64
}

// Kind selects the record shape for ownership checks.
type Kind string

const (
	KindCore     Kind = "core"
	KindSynastry Kind = "synastry"
	KindWeek     Kind = "week"
	KindDay      Kind = "day"
)

// Args identifies the record instance for ownership checks.
type Args struct {
	PartnerHash string
	WeekKey     string
	DateKey     string
}

type Cache struct {
	store *trustedstore.Store
}

func New(store *trustedstore.Store) *Cache {
	return &Cache{store: store}
}

// KnownProduct reports whether productID is one of the recognized
// forms. The server-side grant path uses this before persisting.
func KnownProduct(productID string) bool {
	productID = strings.TrimSpace(productID)
	switch {
	case productID == ProductCore, productID == ProductWeekly, productID == ProductDaily:
		return true
	case strings.HasPrefix(productID, synastryPrefix):
		return len(productID) > len(synastryPrefix)
	case strings.HasPrefix(productID, dailyLegacyPrefix):
		return len(productID) > len(dailyLegacyPrefix)
	}
	return false
}

// Register persists the entitlement record for productID. Unknown
// products are fatal: an unrecognized purchase must never silently
// succeed.
func (c *Cache) Register(ctx context.Context, productID string, h identity.Hash, meta Meta) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return halt.New(halt.CodePurchaseInputError, "productId and userHash are required", "")
	}
	if _, err := identity.Require(string(h)); err != nil {
		return halt.New(halt.CodePurchaseInputError, "productId and userHash are required", productID)
	}

	switch {
	case productID == ProductCore:
		return c.store.Set(ctx, keyCore, true, h)

	case strings.HasPrefix(productID, synastryPrefix):
		partnerHash := strings.TrimPrefix(productID, synastryPrefix)
		if partnerHash == "" {
			return halt.New(halt.CodeUnknownProductID, "unknown productId", productID)
		}
		return c.registerSynastry(ctx, partnerHash, h)

	case productID == ProductWeekly:
		if meta.WeekKey == "" || meta.ExpiresAt == 0 {
			return ErrWeeklyMetaRequired
		}
		return c.store.Set(ctx, keyWeek(meta.WeekKey), meta.ExpiresAt, h)

	case productID == ProductDaily:
		if meta.DateKey == "" || meta.ExpiresAt == 0 {
			return ErrDailyMetaRequired
		}
		return c.store.Set(ctx, keyDay(meta.DateKey), meta.ExpiresAt, h)

	case strings.HasPrefix(productID, dailyLegacyPrefix):
		dateKey := strings.TrimPrefix(productID, dailyLegacyPrefix)
		if meta.ExpiresAt == 0 {
			return ErrDailyMetaRequired
		}
		return c.store.Set(ctx, keyDay(dateKey), meta.ExpiresAt, h)
	}

	return halt.New(halt.CodeUnknownProductID, "unknown productId", productID)
}

// registerSynastry stores the individual marker and keeps the partner
// index as an idempotent union, so enumeration never sees duplicates.
func (c *Cache) registerSynastry(ctx context.Context, partnerHash string, h identity.Hash) error {
	index, err := c.readSynIndex(ctx, h)
	if err != nil {
		return err
	}
	found := false
	for _, existing := range index {
		if existing == partnerHash {
			found = true
			break
		}
	}
	if !found {
		index = append(index, partnerHash)
	}
	if err := c.store.Set(ctx, keySynIndex, index, h); err != nil {
		return err
	}
	return c.store.Set(ctx, keySyn(partnerHash), true, h)
}

// HasRight reports ownership. Absence of a record is the one place where
// "missing" means false rather than fatal: checking a right that was
// never purchased is an expected negative. Time-bounded rights are
// active iff now < expiresAt (strict; now == expiresAt is expired).
func (c *Cache) HasRight(ctx context.Context, kind Kind, args Args, h identity.Hash, now int64) (bool, error) {
	if _, err := identity.Require(string(h)); err != nil {
		return false, err
	}

	switch kind {
	case KindCore:
		return c.readBool(ctx, keyCore, h)

	case KindSynastry:
		if args.PartnerHash == "" {
			return false, nil
		}
		return c.readBool(ctx, keySyn(args.PartnerHash), h)

	case KindWeek:
		if args.WeekKey == "" {
			return false, nil
		}
		return c.readActiveExpiry(ctx, keyWeek(args.WeekKey), h, now)

	case KindDay:
		if args.DateKey == "" {
			return false, nil
		}
		return c.readActiveExpiry(ctx, keyDay(args.DateKey), h, now)
	}

	return false, nil
}

// SynastryPartners returns the purchased partner hashes. Each index
// member is re-validated against its individual record, so a partial
// write can never surface a phantom partner.
func (c *Cache) SynastryPartners(ctx context.Context, h identity.Hash) ([]string, error) {
	index, err := c.readSynIndex(ctx, h)
	if err != nil {
		return nil, err
	}
	confirmed := make([]string, 0, len(index))
	for _, partnerHash := range index {
		owned, err := c.readBool(ctx, keySyn(partnerHash), h)
		if err != nil {
			return nil, err
		}
		if owned {
			confirmed = append(confirmed, partnerHash)
		}
	}
	return confirmed, nil
}

func (c *Cache) readSynIndex(ctx context.Context, h identity.Hash) ([]string, error) {
	ok, err := c.store.Contains(ctx, keySynIndex, h)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var index []string
	if err := c.store.Get(ctx, keySynIndex, h, &index); err != nil {
		return nil, err
	}
	return index, nil
}

func (c *Cache) readBool(ctx context.Context, key string, h identity.Hash) (bool, error) {
	ok, err := c.store.Contains(ctx, key, h)
	if err != nil || !ok {
		return false, err
	}
	var owned bool
	if err := c.store.Get(ctx, key, h, &owned); err != nil {
		return false, err
	}
	return owned, nil
}

func (c *Cache) readActiveExpiry(ctx context.Context, key string, h identity.Hash, now int64) (bool, error) {
	ok, err := c.store.Contains(ctx, key, h)
	if err != nil || !ok {
		return false, err
	}
	var expiresAt int64
	if err := c.store.Get(ctx, key, h, &expiresAt); err != nil {
		return false, err
	}
	return now < expiresAt, nil
}
