// Package ingress accepts payment-provider webhooks and turns verified
// checkout completions into authoritative entitlement grants.
package ingress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lexsia228/M55-soul/pkg/httpx"
	"github.com/lexsia228/M55-soul/pkg/purchase"
	"github.com/lexsia228/M55-soul/pkg/webhooks"
	"github.com/lexsia228/M55-soul/services/entitlements/internal/config"
	"github.com/lexsia228/M55-soul/services/entitlements/internal/store"
)

const maxBodyBytes = 1 << 20 // 1MB

type GrantStore interface {
	InsertEvent(ctx context.Context, evt store.Event) (inserted bool, err error)
	UpsertGrant(ctx context.Context, g store.Grant) error
}

type Handler struct {
	store    GrantStore
	webhooks map[string]config.Webhook
	logger   *slog.Logger
	now      func() time.Time
}

func New(grants GrantStore, hooks map[string]config.Webhook, logger *slog.Logger) *Handler {
	return &Handler{store: grants, webhooks: hooks, logger: logger, now: time.Now}
}

func (h *Handler) verifier(provider string, hook config.Webhook) webhooks.Verifier {
	if hook.Scheme == "stripe-v1" {
		return webhooks.NewStripeV1Verifier(provider, 0)
	}
	return webhooks.NewGenericHMACVerifier(provider)
}

// HandleWebhook is POST /webhooks/{provider}. An unverified body never
// reaches the grant store; a redelivered event never re-grants.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	hook, ok := h.webhooks[provider]
	if !ok {
		httpx.WriteError(w, http.StatusNotFound, "UNKNOWN_PROVIDER", "no webhook configured for provider", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "payload exceeds limit", nil)
			return
		}
		httpx.WriteError(w, http.StatusBadRequest, "BAD_BODY", err.Error(), nil)
		return
	}

	receivedAt := h.now().UTC()
	result, err := h.verifier(provider, hook).Verify(r.Header, rawBody, receivedAt, hook.Secret)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "VERIFIER_ERROR", err.Error(), nil)
		return
	}
	if !result.Valid {
		h.logger.Warn("webhook signature rejected", "provider", provider, "scheme", result.Scheme)
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "webhook signature verification failed", nil)
		return
	}

	dedupeKey := result.EventID
	if dedupeKey == "" {
		dedupeKey = webhooks.Fingerprint(r.Method, r.URL.Path, rawBody)
	}
	inserted, err := h.store.InsertEvent(r.Context(), store.Event{
		Provider:       provider,
		DedupeKey:      dedupeKey,
		EventType:      result.Type,
		SignatureValid: true,
		ReceivedAt:     receivedAt,
	})
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "DB_ERROR", err.Error(), nil)
		return
	}
	if !inserted {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "duplicate", "granted": false})
		return
	}

	granted := false
	if c := result.Checkout; c != nil {
		if !purchase.KnownProduct(c.ProductID) {
			httpx.WriteError(w, http.StatusUnprocessableEntity, "UNKNOWN_PRODUCT", "unrecognized productId in checkout session", nil)
			return
		}
		if err := h.store.UpsertGrant(r.Context(), store.Grant{
			UserID:        c.UserID,
			ProductID:     c.ProductID,
			WeekKey:       c.WeekKey,
			DateKey:       c.DateKey,
			ExpiresAt:     c.ExpiresAt,
			SourceEventID: result.EventID,
			GrantedAt:     receivedAt,
		}); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "DB_ERROR", err.Error(), nil)
			return
		}
		granted = true
		h.logger.Info("entitlement granted",
			"provider", provider, "user_id", c.UserID, "product_id", c.ProductID)
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "accepted", "granted": granted})
}
