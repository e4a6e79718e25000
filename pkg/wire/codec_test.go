package wire_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lightforgemedia/go-actioncable/pkg/channel"
	"github.com/lightforgemedia/go-actioncable/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWelcome(t *testing.T) {
	msg, err := wire.Decode(`{"type":"welcome"}`)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeWelcome, msg.Type)
	assert.Nil(t, msg.Identifier)
	assert.Equal(t, wire.BodyNone, msg.Body.Kind)
	assert.Equal(t, `{"type":"welcome"}`, msg.Text)
}

func TestDecodePing(t *testing.T) {
	msg, err := wire.Decode(`{"type":"ping","message":1599874600}`)
	require.NoError(t, err)
	assert.Equal(t, wire.TypePing, msg.Type)
	assert.Equal(t, wire.BodyPing, msg.Body.Kind)
	assert.Equal(t, int64(1599874600), msg.Body.Ping)

	msg, err = wire.Decode(`{"type":"ping","message":1599874600.75}`)
	require.NoError(t, err)
	assert.Equal(t, int64(1599874600), msg.Body.Ping)
}

func TestDecodeDisconnect(t *testing.T) {
	msg, err := wire.Decode(`{"type":"disconnect","reason":"unauthorized","reconnect":false}`)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeDisconnect, msg.Type)
	assert.Equal(t, wire.ReasonUnauthorized, msg.DisconnectReason)
	require.NotNil(t, msg.Reconnect)
	assert.False(t, *msg.Reconnect)
	assert.False(t, msg.ShouldReconnect())
}

func TestDecodeDisconnectReasons(t *testing.T) {
	tests := []struct {
		in   string
		want wire.DisconnectReason
	}{
		{`{"type":"disconnect","reason":"server_restart","reconnect":true}`, wire.ReasonServerRestart},
		{`{"type":"disconnect","reason":"invalid_request"}`, wire.ReasonInvalidRequest},
		{`{"type":"disconnect","reason":"remote"}`, wire.ReasonUnrecognized},
		{`{"type":"disconnect","disconnect_reason":"unauthorized"}`, wire.ReasonUnauthorized},
		{`{"type":"disconnect"}`, wire.ReasonNone},
	}
	for _, tt := range tests {
		msg, err := wire.Decode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, msg.DisconnectReason, tt.in)
		assert.True(t, msg.ShouldReconnect(), tt.in)
	}
}

func TestDecodeSubscriptionReplies(t *testing.T) {
	id := `{\"channel\":\"TestChannel\",\"test_id\":32}`

	msg, err := wire.Decode(`{"type":"confirm_subscription","identifier":"` + id + `"}`)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeConfirmSubscription, msg.Type)
	require.NotNil(t, msg.Identifier)
	assert.True(t, msg.Identifier.Equal(testChannel))

	msg, err = wire.Decode(`{"type":"reject_subscription","identifier":"{\"test_id\":32,\"channel\":\"TestChannel\"}"}`)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeRejectSubscription, msg.Type)
	assert.Equal(t, testChannel.Key(), msg.IdentifierKey())
}

func TestDecodeInfersMessageType(t *testing.T) {
	msg, err := wire.Decode(`{"identifier":"{\"channel\":\"TestChannel\",\"test_id\":32}","message":{"text":"hi"}}`)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeMessage, msg.Type)
	assert.Equal(t, wire.BodyRaw, msg.Body.Kind)
	assert.JSONEq(t, `{"text":"hi"}`, string(msg.Body.Raw))

	msg, err = wire.Decode(`{"identifier":"{\"channel\":\"TestChannel\"}"}`)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeUnrecognized, msg.Type)

	msg, err = wire.Decode(`{"type":"something_new","message":1}`)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeUnrecognized, msg.Type)
}

func TestDecodeIsLenient(t *testing.T) {
	msg, err := wire.Decode(`{"type":42,"identifier":"not json","message":null}`)
	require.NoError(t, err)
	assert.Equal(t, wire.TypeUnrecognized, msg.Type)
	assert.Nil(t, msg.Identifier)
	assert.Equal(t, wire.BodyNone, msg.Body.Kind)
}

func TestDecodeRejectsNonObjects(t *testing.T) {
	for _, in := range []string{``, `nope`, `[]`, `"welcome"`, `null`, `12`} {
		_, err := wire.Decode(in)
		assert.ErrorIs(t, err, wire.ErrMalformedEnvelope, "input %q", in)
	}
}

type barBaz struct {
	Value string `json:"value"`
}

type foo struct {
	Count int `json:"count"`
}

func TestRegisteredKeyDecoders(t *testing.T) {
	reg := wire.NewRegistry()
	wire.Register[barBaz](reg, "bar_baz")
	wire.Register[foo](reg, "foo")
	codec := wire.NewCodec(wire.WithRegistry(reg))
	assert.Equal(t, 2, reg.Len())

	msg, err := codec.Decode(`{"identifier":"{\"channel\":\"TestChannel\",\"test_id\":32}","message":{"bar_baz":{"value":"x"}}}`)
	require.NoError(t, err)
	assert.Equal(t, wire.BodyObject, msg.Body.Kind)
	assert.Equal(t, "bar_baz", msg.Body.Key)
	assert.Equal(t, barBaz{Value: "x"}, msg.Body.Object)

	msg, err = codec.Decode(`{"message":{"foo":{"count":3}}}`)
	require.NoError(t, err)
	assert.Equal(t, foo{Count: 3}, msg.Body.Object)

	// Two top-level keys never match a key decoder.
	msg, err = codec.Decode(`{"message":{"foo":{"count":3},"bar_baz":{}}}`)
	require.NoError(t, err)
	assert.Equal(t, wire.BodyRaw, msg.Body.Kind)

	assert.True(t, reg.Unregister("foo"))
	assert.False(t, reg.Unregister("foo"))
	msg, err = codec.Decode(`{"message":{"foo":{"count":3}}}`)
	require.NoError(t, err)
	assert.Equal(t, wire.BodyRaw, msg.Body.Kind)
}

func TestIdentifierDecoderTakesPrecedence(t *testing.T) {
	reg := wire.NewRegistry()
	wire.RegisterForIdentifier[map[string]int](reg, testChannel)
	wire.Register[foo](reg, "foo")
	codec := wire.NewCodec(wire.WithRegistry(reg))

	msg, err := codec.Decode(`{"identifier":"{\"channel\":\"TestChannel\",\"test_id\":32}","message":{"foo":7}}`)
	require.NoError(t, err)
	assert.Equal(t, wire.BodyObject, msg.Body.Kind)
	assert.Empty(t, msg.Body.Key)
	assert.Equal(t, map[string]int{"foo": 7}, msg.Body.Object)

	other := channel.MustNew("Other", nil)
	msg, err = codec.Decode(`{"identifier":` + mustQuote(t, other.String()) + `,"message":{"foo":{"count":1}}}`)
	require.NoError(t, err)
	assert.Equal(t, foo{Count: 1}, msg.Body.Object)

	assert.True(t, reg.UnregisterIdentifier(testChannel))
	reg.Clear()
	assert.Equal(t, 0, reg.Len())
}

func TestFailingDecoderFallsThrough(t *testing.T) {
	reg := wire.NewRegistry()
	reg.RegisterIdentifierFunc(testChannel, func(json.RawMessage, wire.UnmarshalFunc) (any, error) {
		return nil, errors.New("boom")
	})
	wire.Register[foo](reg, "foo")
	codec := wire.NewCodec(wire.WithRegistry(reg))

	msg, err := codec.Decode(`{"identifier":"{\"channel\":\"TestChannel\",\"test_id\":32}","message":{"foo":{"count":2}}}`)
	require.NoError(t, err)
	assert.Equal(t, foo{Count: 2}, msg.Body.Object)

	// Type mismatch in a key decoder leaves the raw body.
	msg, err = codec.Decode(`{"message":{"foo":"not an object"}}`)
	require.NoError(t, err)
	assert.Equal(t, wire.BodyRaw, msg.Body.Kind)
}

type event struct {
	At wire.Timestamp `json:"at"`
}

func TestTimestampSeconds(t *testing.T) {
	reg := wire.NewRegistry()
	wire.Register[event](reg, "event")
	codec := wire.NewCodec(wire.WithRegistry(reg))

	msg, err := codec.Decode(`{"message":{"event":{"at":1599874600}}}`)
	require.NoError(t, err)
	got := msg.Body.Object.(event)
	assert.True(t, got.At.Equal(time.Unix(1599874600, 0)))

	var e event
	require.NoError(t, json.Unmarshal([]byte(`{"at":"2020-09-12T01:36:40Z"}`), &e))
	assert.True(t, e.At.Equal(time.Unix(1599874600, 0)))

	require.NoError(t, json.Unmarshal([]byte(`{"at":1.5}`), &e))
	assert.Equal(t, int64(1500), e.At.UnixMilli())

	assert.Error(t, json.Unmarshal([]byte(`{"at":"yesterday"}`), &e))
	assert.Error(t, json.Unmarshal([]byte(`{"at":true}`), &e))

	raw, err := json.Marshal(event{At: wire.Timestamp{Time: time.Unix(42, 0)}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":42}`, string(raw))
}

func TestTimestampMillis(t *testing.T) {
	var v struct {
		At wire.TimestampMillis `json:"at"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"at":1599874600123}`), &v))
	assert.Equal(t, int64(1599874600123), v.At.UnixMilli())
}

func TestCustomUnmarshalStrategy(t *testing.T) {
	calls := 0
	reg := wire.NewRegistry()
	wire.Register[foo](reg, "foo")
	codec := wire.NewCodec(wire.WithRegistry(reg), wire.WithUnmarshal(func(data []byte, v any) error {
		calls++
		return json.Unmarshal(data, v)
	}))

	msg, err := codec.Decode(`{"message":{"foo":{"count":9}}}`)
	require.NoError(t, err)
	assert.Equal(t, foo{Count: 9}, msg.Body.Object)
	assert.Equal(t, 1, calls)
	assert.Same(t, reg, codec.Registry())
}

func mustQuote(t *testing.T, s string) string {
	t.Helper()
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	return string(raw)
}
