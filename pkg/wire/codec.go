package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/lightforgemedia/go-actioncable/pkg/channel"
)

// ErrMalformedEnvelope is returned by Decode when the text is not a JSON object.
var ErrMalformedEnvelope = errors.New("wire: envelope is not a JSON object")

// Codec decodes inbound envelopes, consulting a Registry for message bodies.
type Codec struct {
	registry  *Registry
	unmarshal UnmarshalFunc
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithRegistry sets the decoder registry. By default a Codec owns an empty one.
func WithRegistry(r *Registry) CodecOption {
	return func(c *Codec) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithUnmarshal replaces json.Unmarshal as the strategy handed to decoders.
func WithUnmarshal(fn UnmarshalFunc) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.unmarshal = fn
		}
	}
}

// NewCodec returns a Codec.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{
		registry:  NewRegistry(),
		unmarshal: json.Unmarshal,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the codec's decoder registry.
func (c *Codec) Registry() *Registry { return c.registry }

// Decode parses one inbound text frame.
//
// Fields are read leniently: a field of the wrong JSON type is treated as
// absent. Only text that is not a JSON object fails.
//
// The message body is resolved in order: the integer timestamp of a ping, the
// decoder registered for the envelope's identifier, the decoder registered for
// the body's single top-level key, and finally the raw JSON. A decoder that
// fails falls through to the next step.
func (c *Codec) Decode(text string) (*Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if fields == nil {
		return nil, ErrMalformedEnvelope
	}

	msg := &Message{Text: text}

	body, hasBody := fields["message"]
	if hasBody && isNull(body) {
		hasBody = false
	}

	if typ, ok := stringField(fields, "type"); ok {
		msg.Type = parseMessageType(typ)
	} else if hasBody {
		msg.Type = TypeMessage
	} else {
		msg.Type = TypeUnrecognized
	}

	if s, ok := stringField(fields, "identifier"); ok {
		if id, err := channel.Parse(s); err == nil {
			msg.Identifier = &id
		}
	}

	if msg.Type == TypeDisconnect {
		reason, ok := stringField(fields, "reason")
		if !ok {
			reason, ok = stringField(fields, "disconnect_reason")
		}
		if ok {
			msg.DisconnectReason = parseDisconnectReason(reason)
		}
		if raw, ok := fields["reconnect"]; ok {
			var b bool
			if json.Unmarshal(raw, &b) == nil {
				msg.Reconnect = &b
			}
		}
	}

	if hasBody {
		msg.Body = c.decodeBody(msg, body)
	}
	return msg, nil
}

func (c *Codec) decodeBody(msg *Message, raw json.RawMessage) Body {
	if msg.Type == TypePing {
		if n, ok := integerValue(raw); ok {
			return Body{Kind: BodyPing, Ping: n, Raw: raw}
		}
	}

	if msg.Identifier != nil {
		if fn, ok := c.registry.lookupIdentifier(msg.Identifier.Key()); ok {
			if v, err := fn(raw, c.unmarshal); err == nil {
				return Body{Kind: BodyObject, Object: v, Raw: raw}
			}
		}
	}

	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) == nil && len(obj) == 1 {
		for key, inner := range obj {
			if fn, ok := c.registry.lookupKey(key); ok {
				if v, err := fn(inner, c.unmarshal); err == nil {
					return Body{Kind: BodyObject, Object: v, Key: key, Raw: raw}
				}
			}
		}
	}

	return Body{Kind: BodyRaw, Raw: raw}
}

// Decode parses text with a fresh default Codec.
func Decode(text string) (*Message, error) {
	return NewCodec().Decode(text)
}

func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, ok := fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// integerValue accepts any JSON number and truncates fractions.
func integerValue(raw json.RawMessage) (int64, bool) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return int64(f), true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
