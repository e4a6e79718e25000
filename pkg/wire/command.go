// Package wire implements the ActionCable JSON wire format: outbound commands,
// inbound envelopes and a registry of per-channel payload decoders.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lightforgemedia/go-actioncable/pkg/channel"
)

// CommandType is the value of the "command" field of an outbound envelope.
type CommandType string

const (
	CommandSubscribe   CommandType = "subscribe"
	CommandUnsubscribe CommandType = "unsubscribe"
	CommandMessage     CommandType = "message"
)

var (
	// ErrEmptyMessage is returned when a message command has neither an action
	// nor payload fields.
	ErrEmptyMessage = errors.New("wire: message command has no action and no data")
	// ErrInvalidPayload is returned when a message payload does not encode to a JSON object.
	ErrInvalidPayload = errors.New("wire: message payload must encode to a JSON object")
	// ErrMissingIdentifier is returned when a command is built with a zero identifier.
	ErrMissingIdentifier = errors.New("wire: command has no channel identifier")
	// ErrUnknownCommand is returned for command types outside CommandType's constants.
	ErrUnknownCommand = errors.New("wire: unknown command type")
)

// Command is an outbound envelope. Build it with NewCommand or NewMessageCommand.
type Command struct {
	typ        CommandType
	identifier channel.Identifier
	data       map[string]json.RawMessage
}

// commandEnvelope fields are declared in sorted order so the encoded object
// has sorted keys.
type commandEnvelope struct {
	Command    CommandType `json:"command"`
	Data       string      `json:"data,omitempty"`
	Identifier string      `json:"identifier"`
}

// NewCommand builds a subscribe or unsubscribe command.
func NewCommand(typ CommandType, id channel.Identifier) (Command, error) {
	if id.IsZero() {
		return Command{}, ErrMissingIdentifier
	}
	switch typ {
	case CommandSubscribe, CommandUnsubscribe:
		return Command{typ: typ, identifier: id}, nil
	case CommandMessage:
		return Command{}, fmt.Errorf("%w: use NewMessageCommand for %q", ErrUnknownCommand, typ)
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, typ)
	}
}

// NewMessageCommand builds a "message" command. The data object is payload's
// fields with "action" set to action when action is not empty. payload may be
// nil, a map or any value that encodes to a JSON object.
func NewMessageCommand(id channel.Identifier, action string, payload any) (Command, error) {
	if id.IsZero() {
		return Command{}, ErrMissingIdentifier
	}

	data := map[string]json.RawMessage{}
	if payload != nil {
		raw, err := marshalNoEscape(payload)
		if err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			if err := json.Unmarshal(raw, &data); err != nil {
				return Command{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
		}
	}
	if action != "" {
		raw, err := marshalNoEscape(action)
		if err != nil {
			return Command{}, err
		}
		data["action"] = raw
	}
	if len(data) == 0 {
		return Command{}, ErrEmptyMessage
	}
	return Command{typ: CommandMessage, identifier: id, data: data}, nil
}

// Type returns the command type.
func (c Command) Type() CommandType { return c.typ }

// Identifier returns the command's channel identifier.
func (c Command) Identifier() channel.Identifier { return c.identifier }

// Action returns the "action" field of a message command, if any.
func (c Command) Action() string {
	var action string
	if raw, ok := c.data["action"]; ok {
		_ = json.Unmarshal(raw, &action)
	}
	return action
}

// Encode serializes the command. For message commands the "data" field is
// itself a JSON string.
func (c Command) Encode() (string, error) {
	if c.identifier.IsZero() {
		return "", ErrMissingIdentifier
	}
	env := commandEnvelope{Command: c.typ, Identifier: c.identifier.String()}
	if c.typ == CommandMessage {
		if len(c.data) == 0 {
			return "", ErrEmptyMessage
		}
		data, err := marshalNoEscape(c.data)
		if err != nil {
			return "", fmt.Errorf("wire: encode message data: %w", err)
		}
		env.Data = string(data)
	}
	out, err := marshalNoEscape(env)
	if err != nil {
		return "", fmt.Errorf("wire: encode command: %w", err)
	}
	return string(out), nil
}

// EncodeSubscribe returns the subscribe command text for id.
func EncodeSubscribe(id channel.Identifier) (string, error) {
	cmd, err := NewCommand(CommandSubscribe, id)
	if err != nil {
		return "", err
	}
	return cmd.Encode()
}

// EncodeUnsubscribe returns the unsubscribe command text for id.
func EncodeUnsubscribe(id channel.Identifier) (string, error) {
	cmd, err := NewCommand(CommandUnsubscribe, id)
	if err != nil {
		return "", err
	}
	return cmd.Encode()
}

// EncodeMessage returns the message command text for id.
func EncodeMessage(id channel.Identifier, action string, payload any) (string, error) {
	cmd, err := NewMessageCommand(id, action, payload)
	if err != nil {
		return "", err
	}
	return cmd.Encode()
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
