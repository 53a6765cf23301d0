// Package store persists the authoritative entitlement grants and the
// webhook delivery ledger. The client-side cache mirrors these rows;
// this table is the source of truth for paid access.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

// Grant is one entitlement row. WeekKey/DateKey scope the time-bounded
// products; ExpiresAt is unix milliseconds, zero for permanent rights.
type Grant struct {
	UserID        string    `json:"user_id"`
	ProductID     string    `json:"product_id"`
	WeekKey       string    `json:"week_key,omitempty"`
	DateKey       string    `json:"date_key,omitempty"`
	ExpiresAt     int64     `json:"expires_at,omitempty"`
	SourceEventID string    `json:"source_event_id,omitempty"`
	GrantedAt     time.Time `json:"granted_at"`
}

// Event is one webhook delivery, recorded whether or not it produced a
// grant. DedupeKey is the provider event id, or a request fingerprint
// when the provider sends none.
type Event struct {
	Provider       string
	DedupeKey      string
	EventType      string
	SignatureValid bool
	ReceivedAt     time.Time
}

// InsertEvent records a delivery exactly once per (provider, dedupe
// key). A redelivery reports inserted=false and must not re-grant.
func (s *Store) InsertEvent(ctx context.Context, evt Event) (inserted bool, err error) {
	var id string
	err = s.DB.QueryRow(ctx, `
INSERT INTO webhook_events(provider, dedupe_key, event_type, signature_valid, received_at)
VALUES($1, $2, $3, $4, $5)
ON CONFLICT (provider, dedupe_key) DO NOTHING
RETURNING event_id::text
`, evt.Provider, evt.DedupeKey, evt.EventType, evt.SignatureValid, evt.ReceivedAt.UTC()).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpsertGrant writes the grant, last write wins on the scope key. The
// scope key mirrors the client cache's record identity: product plus
// week/date discriminator.
func (s *Store) UpsertGrant(ctx context.Context, g Grant) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO entitlement_grants(user_id, product_id, week_key, date_key, expires_at, source_event_id, granted_at)
VALUES($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, product_id, week_key, date_key)
DO UPDATE SET expires_at=EXCLUDED.expires_at,
              source_event_id=EXCLUDED.source_event_id,
              granted_at=EXCLUDED.granted_at
`, g.UserID, g.ProductID, g.WeekKey, g.DateKey, g.ExpiresAt, g.SourceEventID, g.GrantedAt.UTC())
	return err
}

// ListGrants returns every grant for a user, newest first.
func (s *Store) ListGrants(ctx context.Context, userID string) ([]Grant, error) {
	userID = strings.TrimSpace(userID)
	rows, err := s.DB.Query(ctx, `
SELECT user_id, product_id, week_key, date_key, expires_at, source_event_id, granted_at
FROM entitlement_grants
WHERE user_id=$1
ORDER BY granted_at DESC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := make([]Grant, 0, 8)
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.UserID, &g.ProductID, &g.WeekKey, &g.DateKey,
			&g.ExpiresAt, &g.SourceEventID, &g.GrantedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
