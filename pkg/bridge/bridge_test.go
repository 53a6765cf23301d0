package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexsia228/M55-soul/pkg/identity"
)

const origin = "https://app.m55.example"

type recordingSink struct {
	calls []Identity
}

func (s *recordingSink) SyncIdentity(id Identity) error {
	s.calls = append(s.calls, id)
	return nil
}

func encode(t *testing.T, msg Message) []byte {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return raw
}

func TestHandle_AcceptsAndNormalizes(t *testing.T) {
	sink := &recordingSink{}
	recv := NewReceiver(origin, sink)

	msg := NewMessage("luna", identity.PlanPremium, json.RawMessage(`{"sign":"aries"}`), 1700000000000)
	assert.Equal(t, "PREMIUM", msg.Payload.Plan)

	accepted, err := recv.Handle(origin, encode(t, msg))
	require.NoError(t, err)
	assert.True(t, accepted)

	require.Len(t, sink.calls, 1)
	got := sink.calls[0]
	assert.Equal(t, "luna", got.UserName)
	assert.Equal(t, identity.PlanPremium, got.Plan)
	assert.JSONEq(t, `{"sign":"aries"}`, string(got.Profile))
	assert.Equal(t, int64(1700000000000), got.SyncedAt)
}

func TestHandle_ForeignOriginDiscardedWithoutEffect(t *testing.T) {
	sink := &recordingSink{}
	recv := NewReceiver(origin, sink)

	msg := NewMessage("luna", identity.PlanFree, nil, 1)
	accepted, err := recv.Handle("https://evil.example", encode(t, msg))
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Empty(t, sink.calls)

	_, seen := recv.Last()
	assert.False(t, seen)
}

func TestHandle_MalformedOrUnknownDiscarded(t *testing.T) {
	sink := &recordingSink{}
	recv := NewReceiver(origin, sink)

	for _, raw := range []string{
		`{not json`,
		`{"type":"OTHER","payload":{"user_name":"luna","plan":"FREE"},"timestamp":1}`,
		`{"type":"SOUL_SYNC","payload":{"plan":"FREE"},"timestamp":1}`,
	} {
		accepted, err := recv.Handle(origin, []byte(raw))
		require.NoError(t, err)
		assert.False(t, accepted, raw)
	}
	assert.Empty(t, sink.calls)
}

func TestHandle_RedeliveryIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	recv := NewReceiver(origin, sink)
	raw := encode(t, NewMessage("luna", identity.PlanStandard, nil, 42))

	for i := 0; i < 3; i++ {
		accepted, err := recv.Handle(origin, raw)
		require.NoError(t, err)
		assert.True(t, accepted)
	}
	// Re-sent on every frame load, applied once.
	assert.Len(t, sink.calls, 1)

	last, seen := recv.Last()
	assert.True(t, seen)
	assert.Equal(t, identity.PlanStandard, last.Plan)
}

func TestHandle_PlanChangeIsDeliveredAgain(t *testing.T) {
	sink := &recordingSink{}
	recv := NewReceiver(origin, sink)

	_, err := recv.Handle(origin, encode(t, NewMessage("luna", identity.PlanFree, nil, 1)))
	require.NoError(t, err)
	_, err = recv.Handle(origin, encode(t, NewMessage("luna", identity.PlanPremium, nil, 2)))
	require.NoError(t, err)

	require.Len(t, sink.calls, 2)
	assert.Equal(t, identity.PlanFree, sink.calls[0].Plan)
	assert.Equal(t, identity.PlanPremium, sink.calls[1].Plan)
}

func TestHandle_UnknownPlanCoercesToFree(t *testing.T) {
	sink := &recordingSink{}
	recv := NewReceiver(origin, sink)

	raw := []byte(`{"type":"SOUL_SYNC","payload":{"user_name":"luna","plan":"VIP"},"timestamp":1}`)
	accepted, err := recv.Handle(origin, raw)
	require.NoError(t, err)
	assert.True(t, accepted)

	require.Len(t, sink.calls, 1)
	assert.Equal(t, identity.PlanFree, sink.calls[0].Plan)
}
