// Package bridge is the one-way identity channel from the hosting shell
// into the embedded content. A message carries who the user is and what
// plan they are on, never what they own; entitlement truth stays in the
// purchase cache. The channel is unreliable: a message may arrive zero
// or multiple times, so handling is idempotent.
package bridge

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/lexsia228/M55-soul/pkg/identity"
)

// MessageType tags every identity sync message.
const MessageType = "SOUL_SYNC"

// Payload is the host-side shape. Plan arrives in the host's uppercase
// convention and is normalized at this boundary; Profile is opaque
// pass-through.
type Payload struct {
	UserName string          `json:"user_name"`
	Plan     string          `json:"plan"`
	Profile  json.RawMessage `json:"profile,omitempty"`
}

type Message struct {
	Type      string  `json:"type"`
	Payload   Payload `json:"payload"`
	Timestamp int64   `json:"timestamp"`
}

// NewMessage builds the sync message the host sends on every content
// frame load.
func NewMessage(userName string, plan identity.Plan, profile json.RawMessage, now int64) Message {
	return Message{
		Type: MessageType,
		Payload: Payload{
			UserName: userName,
			Plan:     strings.ToUpper(string(plan)),
			Profile:  profile,
		},
		Timestamp: now,
	}
}

// Identity is the normalized result delivered to the receiver's sink.
type Identity struct {
	UserName string
	Plan     identity.Plan
	Profile  json.RawMessage
	SyncedAt int64
}

// Sink consumes accepted identity updates. Implementations must be
// idempotent; the same message can be delivered more than once.
type Sink interface {
	SyncIdentity(id Identity) error
}

// Receiver validates inbound messages at the trust boundary. Origin
// must strictly equal the receiver's own origin; anything else is
// discarded without effect, as is an unknown type or a malformed body.
type Receiver struct {
	origin string
	sink   Sink

	mu   sync.Mutex
	last Identity
	seen bool
}

func NewReceiver(origin string, sink Sink) *Receiver {
	return &Receiver{origin: origin, sink: sink}
}

// Handle processes one raw inbound message. It reports whether the
// message was accepted; a discard is not an error (hostile or stray
// messages are expected and must have no effect).
func (r *Receiver) Handle(origin string, raw []byte) (bool, error) {
	if origin != r.origin {
		return false, nil
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return false, nil
	}
	if msg.Type != MessageType || msg.Payload.UserName == "" {
		return false, nil
	}

	id := Identity{
		UserName: msg.Payload.UserName,
		Plan:     identity.NormalizePlan(msg.Payload.Plan),
		Profile:  msg.Payload.Profile,
		SyncedAt: msg.Timestamp,
	}

	r.mu.Lock()
	if r.seen && sameIdentity(r.last, id) {
		r.mu.Unlock()
		return true, nil
	}
	r.mu.Unlock()

	if err := r.sink.SyncIdentity(id); err != nil {
		return false, err
	}

	r.mu.Lock()
	r.last = id
	r.seen = true
	r.mu.Unlock()
	return true, nil
}

// Last returns the most recently accepted identity, if any.
func (r *Receiver) Last() (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.seen
}

func sameIdentity(a, b Identity) bool {
	return a.UserName == b.UserName &&
		a.Plan == b.Plan &&
		string(a.Profile) == string(b.Profile)
}
