package metrics_test

import (
	"testing"
	"time"

	"github.com/lightforgemedia/go-actioncable/pkg/channel"
	"github.com/lightforgemedia/go-actioncable/pkg/client"
	"github.com/lightforgemedia/go-actioncable/pkg/metrics"
	"github.com/lightforgemedia/go-actioncable/pkg/testutil"
	"github.com/lightforgemedia/go-actioncable/pkg/transport/coderws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var room = channel.MustNew("RoomChannel", map[string]any{"room": "1"})

func observed(t *testing.T, opts ...client.Option) (*prometheus.Registry, *client.Client, *testutil.FakeTransport) {
	t.Helper()
	reg := prometheus.NewRegistry()
	col := metrics.New(metrics.WithRegistry(reg))
	ft := testutil.NewFakeTransport()
	cfg := testutil.DefaultClientOptions()
	cfg.Connect = false
	cli := testutil.NewTestClientWithOptions(t, ft, cfg, opts...)
	col.Observe(cli)
	cli.Connect()
	require.NoError(t, testutil.WaitForConnected(t, cli, 2*time.Second))
	return reg, cli, ft
}

func gather(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			switch {
			case m.Counter != nil:
				total += m.GetCounter().GetValue()
			case m.Gauge != nil:
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total
}

func waitGather(t *testing.T, reg *prometheus.Registry, name string, want float64) {
	t.Helper()
	require.Eventually(t, func() bool { return gather(t, reg, name) == want }, 2*time.Second, 10*time.Millisecond,
		"%s did not reach %v (last %v)", name, want, gather(t, reg, name))
}

func TestCountsMessagesByType(t *testing.T) {
	reg, _, ft := observed(t)

	ft.Ping(1)
	ft.Ping(2)
	ft.Broadcast(room, "hi")
	ft.Receive("not json")

	waitGather(t, reg, "actioncable_texts_total", 4)
	waitGather(t, reg, "actioncable_messages_total", 3)

	families, err := reg.Gather()
	require.NoError(t, err)
	byType := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "actioncable_messages_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "type" {
					byType[lp.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{"ping": 2, "message": 1}, byType)
}

func TestConnectionLifecycle(t *testing.T) {
	reg, cli, ft := observed(t)
	waitGather(t, reg, "actioncable_connections_total", 1)
	waitGather(t, reg, "actioncable_connected", 1)

	ft.DropConnection("net")
	waitGather(t, reg, "actioncable_connected", 0)
	waitGather(t, reg, "actioncable_disconnections_total", 1)

	cli.Connect()
	waitGather(t, reg, "actioncable_connected", 1)
	cli.Disconnect(false)
	waitGather(t, reg, "actioncable_connected", 0)
	waitGather(t, reg, "actioncable_disconnections_total", 2)
	waitGather(t, reg, "actioncable_connections_total", 2)
}

func TestBinaryAndControlFrames(t *testing.T) {
	reg, _, ft := observed(t)
	ft.ReceiveBinary([]byte{1})
	ft.ReceivePing()
	ft.ReceivePong()
	ft.ReceivePong()

	waitGather(t, reg, "actioncable_binary_frames_total", 1)
	waitGather(t, reg, "actioncable_control_frames_total", 3)
}

func TestSubscriptionGauge(t *testing.T) {
	reg, cli, _ := observed(t)
	assert.Equal(t, 0.0, gather(t, reg, "actioncable_subscriptions"))

	_, err := cli.Subscribe(room, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, gather(t, reg, "actioncable_subscriptions"))
}

func TestWatchdogGauges(t *testing.T) {
	reg, cli, _ := observed(t, client.WithAutoReconnect(true))
	require.NotNil(t, cli.Monitor())
	assert.Equal(t, 1.0, gather(t, reg, "actioncable_watchdog_running"))
	assert.Equal(t, 0.0, gather(t, reg, "actioncable_reconnect_attempts"))

	cli.Disconnect(false)
	assert.Equal(t, 0.0, gather(t, reg, "actioncable_watchdog_running"))
}

func TestSharedCollectorAcrossClients(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := metrics.New(metrics.WithRegistry(reg), metrics.WithNamespace("cable"), metrics.WithSubsystem("test"))

	for i := 0; i < 2; i++ {
		ft := testutil.NewFakeTransport()
		cfg := testutil.DefaultClientOptions()
		cfg.Connect = false
		cli := testutil.NewTestClientWithOptions(t, ft, cfg)
		cli.AddTap(col.Tap())
		cli.Connect()
	}
	waitGather(t, reg, "cable_test_connected", 2)
	waitGather(t, reg, "cable_test_connections_total", 2)
}

func TestFailedDialsLeaveConnectedGaugeAlone(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := metrics.New(metrics.WithRegistry(reg))
	cfg := testutil.DefaultClientOptions()
	cfg.Connect = false
	cli := testutil.NewTestClientWithOptions(t, coderws.New("ws://127.0.0.1:1/cable", coderws.WithLogger(testutil.DefaultLogger)), cfg)
	col.Observe(cli)

	for i := 1; i <= 3; i++ {
		cli.Connect()
		waitGather(t, reg, "actioncable_disconnections_total", float64(i))
	}
	assert.Equal(t, 0.0, gather(t, reg, "actioncable_connected"))
	assert.Equal(t, 0.0, gather(t, reg, "actioncable_connections_total"))
}

func TestReplacedSessionCountsOnce(t *testing.T) {
	reg, cli, ft := observed(t)
	cli.Connect()
	waitGather(t, reg, "actioncable_connections_total", 2)
	assert.Equal(t, 1.0, gather(t, reg, "actioncable_connected"))

	ft.DropConnection("net")
	waitGather(t, reg, "actioncable_disconnections_total", 1)
	assert.Equal(t, 0.0, gather(t, reg, "actioncable_connected"))
	ft.DropConnection("again")
	waitGather(t, reg, "actioncable_disconnections_total", 2)
	assert.Equal(t, 0.0, gather(t, reg, "actioncable_connected"))
}

func TestConstLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := metrics.New(metrics.WithRegistry(reg), metrics.WithConstLabels(prometheus.Labels{"app": "chat"}))
	ft := testutil.NewFakeTransport()
	cli := testutil.NewTestClient(t, ft)
	col.Observe(cli)

	ft.Ping(1)
	waitGather(t, reg, "actioncable_texts_total", 1)
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			found := false
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "app" && lp.GetValue() == "chat" {
					found = true
				}
			}
			assert.True(t, found, "%s lacks const label", mf.GetName())
		}
	}
}
