// Package config loads client settings from a JSON file and keeps a running
// client's headers in sync with it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lightforgemedia/go-actioncable/pkg/channel"
	"github.com/lightforgemedia/go-actioncable/pkg/client"
)

// DefaultFileName is the file cablecat looks for when no path is given.
const DefaultFileName = "actioncable.json"

var (
	// ErrNotFound is returned by LoadFile when the file does not exist.
	ErrNotFound = errors.New("config: file not found")
	// ErrInvalid is returned for files that parse but fail validation.
	ErrInvalid = errors.New("config: invalid")
)

// Duration is a time.Duration written as a Go duration string ("6s") or a
// number of seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or a number: %s", data)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// Channel is one subscription to open at startup.
type Channel struct {
	Name   string         `json:"channel"`
	Params map[string]any `json:"params,omitempty"`
}

// Identifier builds the channel identifier.
func (c Channel) Identifier() (channel.Identifier, error) {
	return channel.New(c.Name, c.Params)
}

// PollConfig bounds the watchdog poll interval.
type PollConfig struct {
	Lower      Duration `json:"lower,omitempty"`
	Upper      Duration `json:"upper,omitempty"`
	Multiplier float64  `json:"multiplier,omitempty"`
}

// Config is the JSON file layout.
type Config struct {
	// URL is the cable endpoint, e.g. "wss://example.com/cable".
	URL string `json:"url"`

	// Transport selects the websocket library: "coder" (default) or "gorilla".
	Transport string `json:"transport,omitempty"`

	// Headers are sent with every handshake. They are reloaded on change.
	Headers map[string]string `json:"headers,omitempty"`

	StaleThreshold         Duration   `json:"stale_threshold,omitempty"`
	AutoReconnect          *bool      `json:"auto_reconnect,omitempty"`
	ResubscribeOnReconnect *bool      `json:"resubscribe_on_reconnect,omitempty"`
	Poll                   PollConfig `json:"poll,omitempty"`
	ReconnectDelay         *Duration  `json:"reconnect_delay,omitempty"`
	ClientID               string     `json:"client_id,omitempty"`

	// PingInterval enables transport-level pings when positive.
	PingInterval Duration `json:"ping_interval,omitempty"`

	// LogLevel is one of debug, info, warn, error (default info).
	LogLevel string `json:"log_level,omitempty"`

	Channels []Channel `json:"channels,omitempty"`

	path string
}

const (
	TransportCoder   = "coder"
	TransportGorilla = "gorilla"
)

// LoadFile reads and validates the configuration at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportCoder
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the fields that have a fixed set of values.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalid)
	}
	if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		return fmt.Errorf("%w: url must use ws:// or wss://, got %q", ErrInvalid, c.URL)
	}
	switch c.Transport {
	case TransportCoder, TransportGorilla:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return fmt.Errorf("%w: channels[%d] has no channel name", ErrInvalid, i)
		}
		if _, err := ch.Identifier(); err != nil {
			return fmt.Errorf("%w: channels[%d]: %v", ErrInvalid, i, err)
		}
	}
	return nil
}

// Path is the file the config was loaded from, empty for Parse.
func (c *Config) Path() string { return c.path }

// Level maps LogLevel to a slog level.
func (c *Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return lvl, nil
}

// ClientOptions maps the file onto client options, starting from
// client.DefaultOptions. Unset fields keep their defaults.
func (c *Config) ClientOptions() client.Options {
	o := client.DefaultOptions()
	if len(c.Headers) > 0 {
		o.Headers = c.Headers
	}
	if c.StaleThreshold > 0 {
		o.StaleThreshold = time.Duration(c.StaleThreshold)
	}
	if c.AutoReconnect != nil {
		o.AutoReconnect = *c.AutoReconnect
	}
	if c.ResubscribeOnReconnect != nil {
		o.ResubscribeOnReconnect = *c.ResubscribeOnReconnect
	}
	if c.Poll.Lower > 0 {
		o.PollLowerBound = time.Duration(c.Poll.Lower)
	}
	if c.Poll.Upper > 0 {
		o.PollUpperBound = time.Duration(c.Poll.Upper)
	}
	if c.Poll.Multiplier > 0 {
		o.PollMultiplier = c.Poll.Multiplier
	}
	if c.ReconnectDelay != nil {
		o.ReconnectDelay = time.Duration(*c.ReconnectDelay)
	}
	o.ClientID = c.ClientID
	return o
}

// Identifiers returns the configured channel identifiers in file order.
func (c *Config) Identifiers() ([]channel.Identifier, error) {
	out := make([]channel.Identifier, 0, len(c.Channels))
	for _, ch := range c.Channels {
		id, err := ch.Identifier()
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
