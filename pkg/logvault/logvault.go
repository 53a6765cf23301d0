// Package logvault keeps the append-only usage log: capacity- and
// retention-bounded, pruned by an absolute expiry computed from the
// retention policy at write time. The cache adoption rule is always
// now < expires_at; an entry without a finite expiry is never adopted.
package logvault

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/lexsia228/M55-soul/pkg/halt"
	"github.com/lexsia228/M55-soul/pkg/identity"
	"github.com/lexsia228/M55-soul/pkg/policy"
	"github.com/lexsia228/M55-soul/pkg/trustedstore"
)

const (
	// logsKey is the raw list key. Like the identity seed, the log list
	// lives outside the signed namespace; corruption is still fatal on
	// read.
	logsKey = "logs_v1"

	// MaxEntries bounds the stored list; oldest entries are discarded
	// first once the cap is exceeded.
	MaxEntries = 10000

	dayMs = int64(24 * 60 * 60 * 1000)
)

type Entry struct {
	ID        string   `json:"id"`
	Timestamp int64    `json:"ts"`
	ExpiresAt int64    `json:"expires_at"`
	Type      string   `json:"type"`
	Body      string   `json:"body"`
	Tags      []string `json:"tags"`
	DayKey    string   `json:"dayKey,omitempty"`
}

type Vault struct {
	backend  trustedstore.Backend
	policies *policy.Loader
	seq      atomic.Int64
}

func New(backend trustedstore.Backend, policies *policy.Loader) *Vault {
	return &Vault{backend: backend, policies: policies}
}

// Push appends an entry with expiry derived from the tier's retention
// window, prunes expired entries and enforces capacity, then persists.
// A zero retention window means "do not remember": the entry is not
// persisted and the current list is returned unchanged.
func (v *Vault) Push(ctx context.Context, draft Entry, tier identity.Plan, now int64) ([]Entry, error) {
	if !identity.ValidPlan(tier) {
		return nil, halt.New(halt.CodePolicyMissing, "log push requires a plan tier", string(tier))
	}
	retention, err := v.policies.Retention(ctx)
	if err != nil {
		return nil, err
	}
	days, err := retention.Days(tier)
	if err != nil {
		return nil, err
	}
	if days == 0 {
		return v.All(ctx)
	}

	entry := draft
	entry.ID = v.newID(now)
	entry.Timestamp = now
	entry.ExpiresAt = now + int64(days)*dayMs
	if entry.Type == "" {
		entry.Type = "generic"
	}
	if entry.Tags == nil {
		entry.Tags = []string{}
	}

	logs, err := v.All(ctx)
	if err != nil {
		return nil, err
	}
	logs = append(logs, entry)
	logs = keepNotExpired(logs, now)
	logs = capOldestFirst(logs)

	raw, err := json.Marshal(logs)
	if err != nil {
		return nil, halt.New(halt.CodeLogWriteFailed, "log list not serializable", err.Error())
	}
	if err := v.backend.Set(ctx, logsKey, raw); err != nil {
		return nil, halt.New(halt.CodeLogWriteFailed, "log write failed", err.Error())
	}
	return logs, nil
}

// Vacuum returns the prune-and-cap view of the stored list without
// appending or writing. Maintenance reads use this.
func (v *Vault) Vacuum(ctx context.Context, now int64) ([]Entry, error) {
	logs, err := v.All(ctx)
	if err != nil {
		return nil, err
	}
	logs = keepNotExpired(logs, now)
	return capOldestFirst(logs), nil
}

// All returns the raw persisted list. Corruption is fatal: it must not
// masquerade as "no logs".
func (v *Vault) All(ctx context.Context) ([]Entry, error) {
	raw, ok, err := v.backend.Get(ctx, logsKey)
	if err != nil {
		return nil, halt.New(halt.CodeStorageReadFailed, "log read failed", err.Error())
	}
	if !ok {
		return []Entry{}, nil
	}
	var logs []Entry
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, halt.New(halt.CodeLogsPacketInvalid, "log list invalid", err.Error())
	}
	return logs, nil
}

// newID prefers a random UUID. If the secure generator is unavailable
// the fallback is a deterministic runtime sequence; a non-cryptographic
// pseudo-random id is forbidden.
func (v *Vault) newID(now int64) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("m55_%d_%d", now, v.seq.Add(1))
	}
	return id.String()
}

func keepNotExpired(logs []Entry, now int64) []Entry {
	kept := logs[:0]
	for _, entry := range logs {
		// Strict: expires_at must exist and still be ahead of now.
		if entry.ExpiresAt > 0 && now < entry.ExpiresAt {
			kept = append(kept, entry)
		}
	}
	return kept
}

func capOldestFirst(logs []Entry) []Entry {
	if len(logs) > MaxEntries {
		return logs[len(logs)-MaxEntries:]
	}
	return logs
}
