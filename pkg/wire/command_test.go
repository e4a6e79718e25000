package wire_test

import (
	"testing"

	"github.com/lightforgemedia/go-actioncable/pkg/channel"
	"github.com/lightforgemedia/go-actioncable/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChannel = channel.MustNew("TestChannel", map[string]any{"test_id": 32})

func TestEncodeSubscribe(t *testing.T) {
	text, err := wire.EncodeSubscribe(testChannel)
	require.NoError(t, err)
	assert.Equal(t, `{"command":"subscribe","identifier":"{\"channel\":\"TestChannel\",\"test_id\":32}"}`, text)
}

func TestEncodeUnsubscribe(t *testing.T) {
	text, err := wire.EncodeUnsubscribe(testChannel)
	require.NoError(t, err)
	assert.Equal(t, `{"command":"unsubscribe","identifier":"{\"channel\":\"TestChannel\",\"test_id\":32}"}`, text)
}

func TestEncodeMessageActionOnly(t *testing.T) {
	text, err := wire.EncodeMessage(testChannel, "speak", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"command":"message","data":"{\"action\":\"speak\"}","identifier":"{\"channel\":\"TestChannel\",\"test_id\":32}"}`, text)
}

func TestEncodeMessageActionAndPayload(t *testing.T) {
	text, err := wire.EncodeMessage(testChannel, "my_action", map[string]any{"my_property": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"command":"message","data":"{\"action\":\"my_action\",\"my_property\":1}","identifier":"{\"channel\":\"TestChannel\",\"test_id\":32}"}`, text)
}

func TestEncodeMessageStructPayload(t *testing.T) {
	type speak struct {
		Body string `json:"body"`
		At   int    `json:"at,omitempty"`
	}
	cmd, err := wire.NewMessageCommand(testChannel, "", speak{Body: "<hi>"})
	require.NoError(t, err)
	assert.Equal(t, wire.CommandMessage, cmd.Type())
	assert.Empty(t, cmd.Action())

	text, err := cmd.Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"command":"message","data":"{\"body\":\"<hi>\"}","identifier":"{\"channel\":\"TestChannel\",\"test_id\":32}"}`, text)
}

func TestActionOverridesPayloadField(t *testing.T) {
	cmd, err := wire.NewMessageCommand(testChannel, "real", map[string]any{"action": "fake"})
	require.NoError(t, err)
	assert.Equal(t, "real", cmd.Action())
}

func TestMessageCommandErrors(t *testing.T) {
	_, err := wire.NewMessageCommand(testChannel, "", nil)
	assert.ErrorIs(t, err, wire.ErrEmptyMessage)

	_, err = wire.NewMessageCommand(testChannel, "", map[string]any{})
	assert.ErrorIs(t, err, wire.ErrEmptyMessage)

	_, err = wire.NewMessageCommand(testChannel, "x", []int{1, 2})
	assert.ErrorIs(t, err, wire.ErrInvalidPayload)

	_, err = wire.NewMessageCommand(testChannel, "x", make(chan int))
	assert.ErrorIs(t, err, wire.ErrInvalidPayload)

	_, err = wire.NewMessageCommand(channel.Identifier{}, "x", nil)
	assert.ErrorIs(t, err, wire.ErrMissingIdentifier)
}

func TestNewCommandRejectsOtherTypes(t *testing.T) {
	_, err := wire.NewCommand(wire.CommandMessage, testChannel)
	assert.ErrorIs(t, err, wire.ErrUnknownCommand)

	_, err = wire.NewCommand("bogus", testChannel)
	assert.ErrorIs(t, err, wire.ErrUnknownCommand)

	_, err = wire.NewCommand(wire.CommandSubscribe, channel.Identifier{})
	assert.ErrorIs(t, err, wire.ErrMissingIdentifier)

	cmd, err := wire.NewCommand(wire.CommandSubscribe, testChannel)
	require.NoError(t, err)
	assert.True(t, cmd.Identifier().Equal(testChannel))
}
