package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	actioncable "github.com/lightforgemedia/go-actioncable"
	"github.com/lightforgemedia/go-actioncable/pkg/channel"
	"github.com/lightforgemedia/go-actioncable/pkg/client"
	"github.com/lightforgemedia/go-actioncable/pkg/config"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath   string
	url          string
	transport    string
	headers      map[string]string
	logLevel     string
	noReconnect  bool
	pingInterval time.Duration
}

func (g *globalFlags) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&g.configPath, "config", "c", "", "JSON config file (see pkg/config)")
	f.StringVarP(&g.url, "url", "u", "", "cable endpoint, e.g. ws://localhost:3000/cable")
	f.StringVar(&g.transport, "transport", "", "websocket library: coder or gorilla")
	f.StringToStringVarP(&g.headers, "header", "H", nil, "handshake header, key=value (repeatable)")
	f.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")
	f.BoolVar(&g.noReconnect, "no-reconnect", false, "disable the stale-connection watchdog")
	f.DurationVar(&g.pingInterval, "ping-interval", 0, "send websocket pings at this interval")
}

// resolve merges the config file, if any, with the flags.
func (g *globalFlags) resolve() (*config.Config, error) {
	cfg := &config.Config{}
	if g.configPath != "" {
		loaded, err := config.LoadFile(g.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if g.url != "" {
		cfg.URL = g.url
	}
	if g.transport != "" {
		cfg.Transport = g.transport
	}
	if cfg.Transport == "" {
		cfg.Transport = config.TransportCoder
	}
	if len(g.headers) > 0 {
		merged := make(map[string]string, len(cfg.Headers)+len(g.headers))
		for k, v := range cfg.Headers {
			merged[k] = v
		}
		for k, v := range g.headers {
			merged[k] = v
		}
		cfg.Headers = merged
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if g.noReconnect {
		off := false
		cfg.AutoReconnect = &off
	}
	if g.pingInterval > 0 {
		cfg.PingInterval = config.Duration(g.pingInterval)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	lvl, _ := cfg.Level()
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func newClient(cmd *cobra.Command, g *globalFlags) (*client.Client, *config.Config, *slog.Logger, error) {
	cfg, err := g.resolve()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg)
	cli, err := actioncable.FromConfig(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cli, cfg, logger, nil
}

// parseIdentifier reads "Name key=value ...". Values that parse as JSON
// (numbers, booleans, objects) keep their type; anything else is a string.
func parseIdentifier(args []string) (channel.Identifier, error) {
	if len(args) == 0 || args[0] == "" {
		return channel.Identifier{}, fmt.Errorf("channel name required")
	}
	params, err := parseParams(args[1:])
	if err != nil {
		return channel.Identifier{}, err
	}
	return channel.New(args[0], params)
}

func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("param %q: want key=value", p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			params[k] = decoded
		} else {
			params[k] = v
		}
	}
	return params, nil
}
