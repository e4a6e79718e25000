package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightforgemedia/go-actioncable/pkg/channel"
	"github.com/lightforgemedia/go-actioncable/pkg/client"
	"github.com/lightforgemedia/go-actioncable/pkg/config"
	"github.com/lightforgemedia/go-actioncable/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestParseFull(t *testing.T) {
	cfg, err := config.Parse([]byte(`{
		"url": "wss://example.com/cable",
		"transport": "gorilla",
		"headers": {"Authorization": "Bearer abc"},
		"stale_threshold": "10s",
		"auto_reconnect": false,
		"resubscribe_on_reconnect": false,
		"poll": {"lower": "1s", "upper": 20, "multiplier": 2.5},
		"reconnect_delay": "0s",
		"client_id": "cli-1",
		"log_level": "debug",
		"channels": [{"channel": "RoomChannel", "params": {"room": "1"}}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, config.TransportGorilla, cfg.Transport)

	o := cfg.ClientOptions()
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc"}, o.Headers)
	assert.Equal(t, 10*time.Second, o.StaleThreshold)
	assert.False(t, o.AutoReconnect)
	assert.False(t, o.ResubscribeOnReconnect)
	assert.Equal(t, time.Second, o.PollLowerBound)
	assert.Equal(t, 20*time.Second, o.PollUpperBound)
	assert.Equal(t, 2.5, o.PollMultiplier)
	assert.Equal(t, time.Duration(0), o.ReconnectDelay)
	assert.Equal(t, "cli-1", o.ClientID)

	ids, err := cfg.Identifiers()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, `{"channel":"RoomChannel","room":"1"}`, ids[0].String())
}

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`{"url":"ws://localhost:3000/cable"}`))
	require.NoError(t, err)
	assert.Equal(t, config.TransportCoder, cfg.Transport)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.Path())

	o := cfg.ClientOptions()
	d := client.DefaultOptions()
	assert.Equal(t, d.StaleThreshold, o.StaleThreshold)
	assert.Equal(t, d.AutoReconnect, o.AutoReconnect)
	assert.Equal(t, d.ResubscribeOnReconnect, o.ResubscribeOnReconnect)
	assert.Equal(t, d.ReconnectDelay, o.ReconnectDelay)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"missing url":    `{}`,
		"http url":       `{"url":"http://x/cable"}`,
		"bad transport":  `{"url":"ws://x","transport":"carrier-pigeon"}`,
		"bad level":      `{"url":"ws://x","log_level":"loud"}`,
		"nameless chan":  `{"url":"ws://x","channels":[{"params":{}}]}`,
		"bad duration":   `{"url":"ws://x","stale_threshold":"soon"}`,
		"not json":       `url = ws://x`,
		"duration shape": `{"url":"ws://x","stale_threshold":{}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse([]byte(body))
			assert.Error(t, err)
		})
	}

	_, err := config.Parse([]byte(`{"url":"ws://x","transport":"nope"}`))
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	_, err := config.LoadFile(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, config.ErrNotFound)

	path := filepath.Join(dir, config.DefaultFileName)
	writeFile(t, path, `{"url":"ws://localhost/cable"}`)
	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path())
}

func TestDurationNumberIsSeconds(t *testing.T) {
	cfg, err := config.Parse([]byte(`{"url":"ws://x","stale_threshold":1.5}`))
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, time.Duration(cfg.StaleThreshold))
}

func TestWatcherReloadsHeaders(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultFileName)
	writeFile(t, path, `{"url":"ws://localhost/cable","headers":{"Authorization":"old"}}`)

	w, err := config.NewWatcher(path, config.WithWatchLogger(testutil.DefaultLogger), config.WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	ft := testutil.NewFakeTransport()
	cli := testutil.NewTestClient(t, ft, client.WithHeaders(w.Current().Headers))
	w.Bind(cli)
	assert.Equal(t, "old", cli.Headers()["Authorization"])

	writeFile(t, path, `{"url":"ws://localhost/cable","headers":{"Authorization":"new"}}`)
	require.Eventually(t, func() bool { return cli.Headers()["Authorization"] == "new" }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "new", w.Current().Headers["Authorization"])

	// The next connect carries the reloaded headers.
	ft.DropConnection("rotate")
	cli.Connect()
	connects := ft.Connects()
	assert.Equal(t, "new", connects[len(connects)-1]["Authorization"])
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultFileName)
	writeFile(t, path, `{"url":"ws://localhost/cable","client_id":"a"}`)

	w, err := config.NewWatcher(path, config.WithWatchLogger(testutil.DefaultLogger))
	require.NoError(t, err)
	calls := 0
	w.OnChange(func(*config.Config) { calls++ })

	writeFile(t, path, `{"url":`)
	assert.Error(t, w.Reload())
	assert.Equal(t, "a", w.Current().ClientID)
	assert.Zero(t, calls)

	writeFile(t, path, `{"url":"ws://localhost/cable","client_id":"b"}`)
	require.NoError(t, w.Reload())
	assert.Equal(t, "b", w.Current().ClientID)
	assert.Equal(t, 1, calls)
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestChannelIdentifier(t *testing.T) {
	id, err := config.Channel{Name: "ChatChannel", Params: map[string]any{"b": 2, "a": 1}}.Identifier()
	require.NoError(t, err)
	assert.True(t, id.Equal(channel.MustNew("ChatChannel", map[string]any{"a": 1, "b": 2})))
}
