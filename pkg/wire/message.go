package wire

import (
	"encoding/json"

	"github.com/lightforgemedia/go-actioncable/pkg/channel"
)

// MessageType classifies an inbound envelope.
type MessageType string

const (
	TypeWelcome             MessageType = "welcome"
	TypePing                MessageType = "ping"
	TypeDisconnect          MessageType = "disconnect"
	TypeConfirmSubscription MessageType = "confirm_subscription"
	TypeRejectSubscription  MessageType = "reject_subscription"
	// TypeMessage is inferred for envelopes without a "type" but with a body.
	TypeMessage MessageType = "message"
	// TypeUnrecognized covers unknown "type" values and envelopes with
	// neither a type nor a body.
	TypeUnrecognized MessageType = "unrecognized"
)

func parseMessageType(s string) MessageType {
	switch t := MessageType(s); t {
	case TypeWelcome, TypePing, TypeDisconnect, TypeConfirmSubscription, TypeRejectSubscription, TypeMessage:
		return t
	default:
		return TypeUnrecognized
	}
}

// DisconnectReason is the closed set of reasons a server gives in a
// disconnect envelope.
type DisconnectReason string

const (
	ReasonNone           DisconnectReason = ""
	ReasonUnauthorized   DisconnectReason = "unauthorized"
	ReasonInvalidRequest DisconnectReason = "invalid_request"
	ReasonServerRestart  DisconnectReason = "server_restart"
	ReasonUnrecognized   DisconnectReason = "unrecognized"
)

func parseDisconnectReason(s string) DisconnectReason {
	switch r := DisconnectReason(s); r {
	case ReasonUnauthorized, ReasonInvalidRequest, ReasonServerRestart:
		return r
	default:
		return ReasonUnrecognized
	}
}

// BodyKind tags the variant held by a Body.
type BodyKind int

const (
	// BodyNone means the envelope had no "message" field.
	BodyNone BodyKind = iota
	// BodyPing holds the integer timestamp of a ping envelope.
	BodyPing
	// BodyObject holds a value produced by a registered decoder.
	BodyObject
	// BodyRaw holds the undecoded JSON body.
	BodyRaw
)

func (k BodyKind) String() string {
	switch k {
	case BodyNone:
		return "none"
	case BodyPing:
		return "ping"
	case BodyObject:
		return "object"
	case BodyRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Body is the decoded "message" field of an envelope.
type Body struct {
	Kind BodyKind
	// Ping is set when Kind is BodyPing.
	Ping int64
	// Object is set when Kind is BodyObject.
	Object any
	// Key is the single top-level body key the decoder was matched on. Empty
	// when the decoder was registered for the envelope's identifier.
	Key string
	// Raw is the original JSON body for every kind but BodyNone.
	Raw json.RawMessage
}

// Message is one decoded inbound envelope.
type Message struct {
	Type MessageType
	// Identifier is set on subscription-scoped envelopes.
	Identifier *channel.Identifier
	Body       Body
	// DisconnectReason and Reconnect are only meaningful for TypeDisconnect.
	DisconnectReason DisconnectReason
	Reconnect        *bool
	// Text is the envelope as received.
	Text string
}

// ShouldReconnect reports whether a disconnect envelope allows reconnecting.
// An absent "reconnect" field counts as true.
func (m *Message) ShouldReconnect() bool {
	return m.Reconnect == nil || *m.Reconnect
}

// IdentifierKey returns the registry key of the envelope's identifier, or "".
func (m *Message) IdentifierKey() string {
	if m.Identifier == nil {
		return ""
	}
	return m.Identifier.Key()
}
