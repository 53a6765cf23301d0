// Package webhooks verifies payment-provider checkout notifications.
// The successful-checkout webhook is the authoritative trigger for a
// server-side entitlement grant; an unverified body must never reach
// the grant store.
package webhooks

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// CheckoutSession is the slice of a completed checkout event the grant
// path needs: who bought (client_reference_id carries the user id) and
// what they bought.
type CheckoutSession struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	WeekKey   string `json:"week_key,omitempty"`
	DateKey   string `json:"date_key,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

type Result struct {
	Valid    bool             `json:"valid"`
	Scheme   string           `json:"scheme"`
	EventID  string           `json:"event_id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Checkout *CheckoutSession `json:"checkout,omitempty"`
}

// Verifier authenticates one provider's webhook scheme. Verify returns
// a non-nil error only for operator mistakes (missing secret); a bad
// signature is an invalid Result, not an error.
type Verifier interface {
	Provider() string
	Verify(headers http.Header, rawBody []byte, receivedAt time.Time, secret string) (Result, error)
}

// checkoutEvent is the provider envelope both schemes share.
type checkoutEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID                string            `json:"id"`
			ClientReferenceID string            `json:"client_reference_id"`
			Metadata          map[string]string `json:"metadata"`
			ExpiresAt         int64             `json:"expires_at"`
		} `json:"object"`
	} `json:"data"`
}

// extractCheckout pulls the grant fields out of a verified body. The
// session is nil when the event is not a checkout completion or does
// not identify both a user and a product.
func extractCheckout(rawBody []byte) (eventID, eventType string, session *CheckoutSession) {
	var evt checkoutEvent
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return "", "unknown", nil
	}
	eventID = strings.TrimSpace(evt.ID)
	eventType = strings.TrimSpace(evt.Type)
	if eventType == "" {
		eventType = "unknown"
	}
	if eventType != "checkout.session.completed" {
		return eventID, eventType, nil
	}

	obj := evt.Data.Object
	session = &CheckoutSession{
		SessionID: strings.TrimSpace(obj.ID),
		UserID:    strings.TrimSpace(obj.ClientReferenceID),
		ProductID: strings.TrimSpace(obj.Metadata["productId"]),
		WeekKey:   strings.TrimSpace(obj.Metadata["weekKey"]),
		DateKey:   strings.TrimSpace(obj.Metadata["dateKey"]),
		ExpiresAt: obj.ExpiresAt,
	}
	if session.UserID == "" || session.ProductID == "" {
		return eventID, eventType, nil
	}
	return eventID, eventType, session
}
