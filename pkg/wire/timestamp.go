package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Timestamp decodes JSON numbers as seconds since the Unix epoch (fractions
// allowed) and strings as RFC 3339. It encodes back to integer seconds.
//
// Use it in payload types handed to Register so time fields share the
// convention ActionCable servers emit.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	v, err := decodeTime(data, time.Second)
	if err != nil {
		return err
	}
	t.Time = v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Unix())
}

// TimestampMillis is Timestamp with numbers interpreted as milliseconds.
type TimestampMillis struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TimestampMillis) UnmarshalJSON(data []byte) error {
	v, err := decodeTime(data, time.Millisecond)
	if err != nil {
		return err
	}
	t.Time = v
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t TimestampMillis) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UnixMilli())
}

func decodeTime(data []byte, unit time.Duration) (time.Time, error) {
	if isNull(data) {
		return time.Time{}, nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("wire: timestamp %q: %w", s, err)
		}
		return v, nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return time.Time{}, fmt.Errorf("wire: timestamp must be a number or string: %w", err)
	}
	whole, frac := math.Modf(f)
	d := time.Duration(whole)*unit + time.Duration(frac*float64(unit))
	return time.Unix(0, 0).Add(d).UTC(), nil
}
