// Package channel models ActionCable channel identifiers.
//
// An Identifier is the channel name plus its parameters, serialized as a JSON
// object with sorted keys. The serialized string is the identifier's only
// notion of identity: it is what goes on the wire, what the server echoes back
// and what the client keys its subscription registry on.
package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// NameKey is the parameter key that always carries the channel name.
const NameKey = "channel"

var (
	// ErrInvalidParams is returned by New when the parameters cannot be JSON encoded.
	ErrInvalidParams = errors.New("channel: parameters are not JSON encodable")
	// ErrInvalidIdentifier is returned by Parse when the input is not a JSON object.
	ErrInvalidIdentifier = errors.New("channel: identifier is not a JSON object")
)

// Identifier is an immutable, order-independent channel identity.
// The zero value is not a valid identifier; see IsZero.
type Identifier struct {
	canonical string
	params    map[string]any
}

// New builds an identifier for the named channel. The "channel" key of params
// is overwritten with name. params is copied and never retained.
func New(name string, params map[string]any) (Identifier, error) {
	merged := make(map[string]any, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged[NameKey] = name

	raw, err := json.Marshal(merged)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	id, err := fromJSON(raw)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return id, nil
}

// MustNew is like New but panics on error. Intended for static identifiers.
func MustNew(name string, params map[string]any) Identifier {
	id, err := New(name, params)
	if err != nil {
		panic(err)
	}
	return id
}

// Parse reconstructs an identifier from its serialized form, typically the
// "identifier" string of an inbound envelope. The result is re-canonicalized,
// so key order in s does not matter.
func Parse(s string) (Identifier, error) {
	id, err := fromJSON([]byte(s))
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	return id, nil
}

func fromJSON(raw []byte) (Identifier, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return Identifier{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Identifier{}, errors.New("trailing data after object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Identifier{}, fmt.Errorf("got %T, want object", v)
	}

	canonical, err := encodeCanonical(obj)
	if err != nil {
		return Identifier{}, err
	}
	return Identifier{canonical: canonical, params: obj}, nil
}

// encodeCanonical relies on encoding/json sorting map keys. Because obj only
// holds values produced by a generic decode, every nested object is a map too.
func encodeCanonical(obj map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// String returns the canonical serialization.
func (id Identifier) String() string { return id.canonical }

// Key returns the registry key for the identifier. It is the canonical string.
func (id Identifier) Key() string { return id.canonical }

// IsZero reports whether id was never constructed.
func (id Identifier) IsZero() bool { return id.canonical == "" }

// Equal compares canonical strings.
func (id Identifier) Equal(other Identifier) bool { return id.canonical == other.canonical }

// Name returns the channel name, or "" when the identifier has none.
func (id Identifier) Name() string {
	name, _ := id.params[NameKey].(string)
	return name
}

// Params returns a deep copy of the identifier's parameters, including the
// "channel" key. Numbers are json.Number values.
func (id Identifier) Params() map[string]any {
	out, _ := deepCopy(id.params).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = deepCopy(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = deepCopy(vv)
		}
		return s
	default:
		return v
	}
}

// MarshalJSON encodes the identifier the way it travels inside envelopes: as a
// JSON string holding the canonical object.
func (id Identifier) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(id.canonical)
}

// UnmarshalJSON accepts a JSON string containing a serialized identifier.
func (id *Identifier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
