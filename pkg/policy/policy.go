// Package policy loads the versioned policy documents (entitlement caps
// and log retention windows). Documents are fetched once per process and
// never defaulted: unreachable or malformed policy is fatal, and the
// failure is memoized so a broken session fails fast instead of retrying.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/lexsia228/M55-soul/pkg/halt"
	"github.com/lexsia228/M55-soul/pkg/identity"
)

// Versioned document paths, relative to the policy base URL.
const (
	EntitlementsPath = "policies/m55_entitlements_v1_0.json"
	RetentionPath    = "policies/m55_retention_v1_0.json"
)

// Unlimited is the policy sentinel for "no cap".
const Unlimited = -1

// PlanCaps is the per-tier entitlement shape. The wildcard fields are
// required to be present but their values are owned by other layers.
type PlanCaps struct {
	AIChatSendPerDay   *float64        `json:"ai_chat_send_per_day"`
	TarotDrawsPerDay   *float64        `json:"tarot_draws_per_day"`
	DTRMonthlyIncluded json.RawMessage `json:"dtr_monthly_included"`
	WeeklyView         json.RawMessage `json:"weekly_view"`
}

type Entitlements struct {
	Plans map[string]PlanCaps `json:"plans"`
}

// ChatCap returns the daily AI-chat send cap for a plan. A missing key is
// a policy error, never a default; Unlimited (-1) means no cap.
func (e *Entitlements) ChatCap(plan identity.Plan) (int, error) {
	caps, ok := e.Plans[string(plan)]
	if !ok || caps.AIChatSendPerDay == nil {
		return 0, halt.New(halt.CodePolicyMissing, "policy key is missing",
			fmt.Sprintf("missing ai_chat_send_per_day for plan=%s", plan))
	}
	raw := *caps.AIChatSendPerDay
	if raw == Unlimited {
		return Unlimited, nil
	}
	if raw < 0 || raw != float64(int(raw)) {
		return 0, halt.New(halt.CodePolicyInvalid, "policy value is invalid",
			fmt.Sprintf("ai_chat_send_per_day must be -1 or >=0 (plan=%s, value=%v)", plan, raw))
	}
	return int(raw), nil
}

type RetentionLogs struct {
	FreeDays     *float64 `json:"free_days"`
	StandardDays *float64 `json:"standard_days"`
	PremiumDays  *float64 `json:"premium_days"`
}

type Retention struct {
	Logs *RetentionLogs `json:"logs"`
}

// Days returns the log retention window for a tier.
func (r *Retention) Days(tier identity.Plan) (int, error) {
	if r.Logs == nil {
		return 0, halt.New(halt.CodePolicyMissing, "retention policy missing", "logs")
	}
	var days *float64
	switch tier {
	case identity.PlanPremium:
		days = r.Logs.PremiumDays
	case identity.PlanStandard:
		days = r.Logs.StandardDays
	default:
		days = r.Logs.FreeDays
	}
	if days == nil || *days < 0 || *days != float64(int(*days)) {
		return 0, halt.New(halt.CodePolicyInvalid, "retention days invalid",
			fmt.Sprintf("tier=%s", tier))
	}
	return int(*days), nil
}

// Loader fetches and caches the policy documents for the lifetime of the
// process. Both success and failure are memoized.
type Loader struct {
	baseURL string
	client  *http.Client

	mu        sync.Mutex
	ent       *Entitlements
	ret       *Retention
	entFailed bool
	retFailed bool
}

func NewLoader(baseURL string, client *http.Client) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{baseURL: baseURL, client: client}
}

// Entitlements returns the cached entitlement caps, fetching on first
// use. After one failure every call halts without touching the network.
func (l *Loader) Entitlements(ctx context.Context) (*Entitlements, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ent != nil {
		return l.ent, nil
	}
	if l.entFailed {
		return nil, halt.New(halt.CodePolicyMissing, "policy is missing or invalid", EntitlementsPath)
	}
	doc := &Entitlements{}
	if err := l.fetchInto(ctx, EntitlementsPath, doc); err != nil {
		l.entFailed = true
		return nil, halt.New(halt.CodePolicyMissing, "policy is missing or invalid", err.Error())
	}
	if err := validateEntitlements(doc); err != nil {
		l.entFailed = true
		return nil, err
	}
	l.ent = doc
	return doc, nil
}

// Retention returns the cached retention windows, fetching on first use.
func (l *Loader) Retention(ctx context.Context) (*Retention, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ret != nil {
		return l.ret, nil
	}
	if l.retFailed {
		return nil, halt.New(halt.CodePolicyMissing, "policy is missing or invalid", RetentionPath)
	}
	doc := &Retention{}
	if err := l.fetchInto(ctx, RetentionPath, doc); err != nil {
		l.retFailed = true
		return nil, halt.New(halt.CodePolicyMissing, "policy is missing or invalid", err.Error())
	}
	if err := validateRetention(doc); err != nil {
		l.retFailed = true
		return nil, err
	}
	l.ret = doc
	return doc, nil
}

func (l *Loader) fetchInto(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/"+path, nil)
	if err != nil {
		return fmt.Errorf("build policy request: %w", err)
	}
	// Stale policy must never be served from an intermediary cache.
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")

	res, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("policy fetch failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("policy fetch failed: %s %s", path, res.Status)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("policy read failed: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("policy invalid shape: %w", err)
	}
	return nil
}

var requiredTiers = []identity.Plan{identity.PlanFree, identity.PlanStandard, identity.PlanPremium}

func validateEntitlements(doc *Entitlements) error {
	if len(doc.Plans) == 0 {
		return halt.New(halt.CodePolicyMissing, "policy is missing or invalid", "plans")
	}
	for _, tier := range requiredTiers {
		caps, ok := doc.Plans[string(tier)]
		if !ok {
			return halt.New(halt.CodePolicyMissing, "policy is missing or invalid",
				fmt.Sprintf("missing plan %s", tier))
		}
		if _, err := doc.ChatCap(tier); err != nil {
			return err
		}
		if caps.TarotDrawsPerDay == nil || *caps.TarotDrawsPerDay < 0 {
			return halt.New(halt.CodePolicyInvalid, "policy value is invalid",
				fmt.Sprintf("tarot_draws_per_day (plan=%s)", tier))
		}
		if caps.DTRMonthlyIncluded == nil || caps.WeeklyView == nil {
			return halt.New(halt.CodePolicyMissing, "policy key is missing",
				fmt.Sprintf("dtr_monthly_included/weekly_view (plan=%s)", tier))
		}
	}
	return nil
}

func validateRetention(doc *Retention) error {
	if doc.Logs == nil {
		return halt.New(halt.CodePolicyMissing, "policy is missing or invalid", "logs")
	}
	for _, tier := range requiredTiers {
		if _, err := doc.Days(tier); err != nil {
			return err
		}
	}
	return nil
}
