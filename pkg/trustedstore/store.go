// Package trustedstore persists signed JSON packets keyed by the user's
// identity hash. Tampering with a stored value or signature is detected
// on every read; required-key absence and any storage fault are fatal.
package trustedstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/lexsia228/M55-soul/pkg/halt"
	"github.com/lexsia228/M55-soul/pkg/identity"
)

// Namespace prefixes every signed packet key. Unsigned seed keys live
// outside this namespace.
const Namespace = "secure:"

// Backend is the raw keyed persistence under the store. Implementations
// must be durable within a context's lifetime; they are never trusted
// with integrity (that is the packet signature's job).
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Packet is the stored envelope. The signature is an HMAC-SHA256 over
// the serialized value, keyed by the identity hash itself; there is no
// cross-identity access because the key material is the partition key.
type Packet struct {
	Value     string `json:"v"`
	Signature string `json:"s"`
	WrittenAt int64  `json:"t"`
}

type Store struct {
	backend Backend
	nowMs   func() int64
}

func New(backend Backend, nowMs func() int64) *Store {
	return &Store{backend: backend, nowMs: nowMs}
}

func sign(payload string, h identity.Hash) string {
	mac := hmac.New(sha256.New, []byte(h))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Set serializes value, signs it with the identity hash and persists the
// packet under Namespace+key. Persistence failure is fatal.
func (s *Store) Set(ctx context.Context, key string, value any, h identity.Hash) error {
	if _, err := identity.Require(string(h)); err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return halt.New(halt.CodeStorageWriteFailed, "value not serializable", err.Error())
	}
	packet := Packet{
		Value:     string(payload),
		Signature: sign(string(payload), h),
		WrittenAt: s.nowMs(),
	}
	raw, err := json.Marshal(packet)
	if err != nil {
		return halt.New(halt.CodeStorageWriteFailed, "packet not serializable", err.Error())
	}
	if err := s.backend.Set(ctx, Namespace+key, raw); err != nil {
		return halt.New(halt.CodeStorageWriteFailed, "trusted storage write failed", err.Error())
	}
	return nil
}

// Get reads and verifies the packet under Namespace+key, then decodes
// the value into dst. Absence, corruption and signature mismatch are all
// fatal: for a required key, "missing" is an integrity failure, not a
// zero value. Callers with optional semantics use Contains first.
func (s *Store) Get(ctx context.Context, key string, h identity.Hash, dst any) error {
	if _, err := identity.Require(string(h)); err != nil {
		return err
	}
	raw, ok, err := s.backend.Get(ctx, Namespace+key)
	if err != nil {
		return halt.New(halt.CodeStorageReadFailed, "trusted storage read failed", err.Error())
	}
	if !ok {
		return halt.New(halt.CodePacketMissing, "trusted storage packet missing", key)
	}
	var packet Packet
	if err := json.Unmarshal(raw, &packet); err != nil {
		return halt.New(halt.CodePacketInvalid, "trusted storage packet invalid", err.Error())
	}
	expected := sign(packet.Value, h)
	if !hmac.Equal([]byte(expected), []byte(packet.Signature)) {
		return halt.New(halt.CodeTamperDetected, "trusted storage tamper detected", key)
	}
	if err := json.Unmarshal([]byte(packet.Value), dst); err != nil {
		return halt.New(halt.CodePacketInvalid, "trusted storage packet invalid", err.Error())
	}
	return nil
}

// Contains reports whether a packet exists for key. It performs no
// signature check; a subsequent Get still verifies before any value is
// returned.
func (s *Store) Contains(ctx context.Context, key string, h identity.Hash) (bool, error) {
	if _, err := identity.Require(string(h)); err != nil {
		return false, err
	}
	_, ok, err := s.backend.Get(ctx, Namespace+key)
	if err != nil {
		return false, halt.New(halt.CodeStorageReadFailed, "trusted storage read failed", err.Error())
	}
	return ok, nil
}

// Backend exposes the raw backend for the unsigned corners of the local
// state (identity seed, raw log list).
func (s *Store) RawBackend() Backend { return s.backend }
