package tapbus_test

import (
	"testing"
	"time"

	"github.com/lightforgemedia/go-actioncable/pkg/channel"
	"github.com/lightforgemedia/go-actioncable/pkg/tapbus"
	"github.com/lightforgemedia/go-actioncable/pkg/testutil"
	"github.com/lightforgemedia/go-actioncable/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	roomA = channel.MustNew("RoomChannel", map[string]any{"room": "a"})
	roomB = channel.MustNew("RoomChannel", map[string]any{"room": "b"})
)

func next(t *testing.T, ch <-chan tapbus.Event) tapbus.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event within 2s")
		return tapbus.Event{}
	}
}

func assertQuiet(t *testing.T, ch <-chan tapbus.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func newBus(t *testing.T) (*tapbus.Bus, *testutil.FakeTransport) {
	t.Helper()
	ft := testutil.NewFakeTransport()
	cli := testutil.NewTestClient(t, ft)
	bus := tapbus.New(8, testutil.DefaultLogger)
	bus.Attach(cli)
	t.Cleanup(bus.Close)
	return bus, ft
}

func TestMessagesPerIdentifier(t *testing.T) {
	bus, ft := newBus(t)
	a, cancelA := bus.Messages(roomA)
	defer cancelA()
	b, cancelB := bus.Messages(roomB)
	defer cancelB()

	ft.Broadcast(roomA, map[string]any{"n": 1})

	ev := next(t, a)
	assert.Equal(t, tapbus.KindMessage, ev.Kind)
	require.NotNil(t, ev.Message.Identifier)
	assert.True(t, ev.Message.Identifier.Equal(roomA))
	assertQuiet(t, b)
}

func TestAllMessagesSeesEveryEnvelope(t *testing.T) {
	bus, ft := newBus(t)
	all, cancel := bus.AllMessages()
	defer cancel()

	ft.Broadcast(roomA, "x")
	ft.Ping(1700000000)
	ft.Broadcast(roomB, "y")

	assert.Equal(t, wire.TypeMessage, next(t, all).Message.Type)
	assert.Equal(t, wire.TypePing, next(t, all).Message.Type)
	assert.Equal(t, roomB.Key(), next(t, all).Message.IdentifierKey())
}

func TestConnectionEvents(t *testing.T) {
	bus, ft := newBus(t)
	conn, cancel := bus.Connection()
	defer cancel()

	ft.DropConnection("gone")
	ev := next(t, conn)
	assert.Equal(t, tapbus.KindDisconnected, ev.Kind)
	assert.Equal(t, "gone", ev.Reason)

	ft.CompleteConnect(map[string]string{"X-Server": "cable"})
	ev = next(t, conn)
	assert.Equal(t, tapbus.KindConnected, ev.Kind)
	assert.Equal(t, "cable", ev.Headers["X-Server"])
}

func TestBinaryEvents(t *testing.T) {
	bus, ft := newBus(t)
	bin, cancel := bus.Binary()
	defer cancel()

	ft.ReceiveBinary([]byte{7})
	ev := next(t, bin)
	assert.Equal(t, tapbus.KindBinary, ev.Kind)
	assert.Equal(t, []byte{7}, ev.Data)
}

func TestCancelClosesChannel(t *testing.T) {
	bus, ft := newBus(t)
	a, cancel := bus.Messages(roomA)
	cancel()
	cancel()

	ft.Broadcast(roomA, "ignored")
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-a:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	// Other subscribers keep working.
	b, cancelB := bus.Messages(roomA)
	defer cancelB()
	ft.Broadcast(roomA, "seen")
	assert.Equal(t, tapbus.KindMessage, next(t, b).Kind)
}

func TestCloseClosesSubscribers(t *testing.T) {
	bus, ft := newBus(t)
	a, _ := bus.AllMessages()
	bus.Close()
	bus.Close()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-a:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	// Publishing after Close is a no-op.
	ft.Broadcast(roomA, "late")

	late, _ := bus.Messages(roomA)
	_, ok := <-late
	assert.False(t, ok)
}

func TestCloseWithIdleSubscriber(t *testing.T) {
	ft := testutil.NewFakeTransport()
	cli := testutil.NewTestClient(t, ft)
	bus := tapbus.New(1, testutil.DefaultLogger)
	bus.Attach(cli)
	idle, _ := bus.AllMessages()

	for i := 0; i < 10; i++ {
		ft.Ping(int64(1700000000 + i))
	}

	closed := make(chan struct{})
	go func() {
		bus.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a subscriber that never reads")
	}

	// Buffered events may remain; the channel still ends.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-idle:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	// The client's text lane is free again.
	got := make(chan struct{})
	_, err := cli.Subscribe(roomA, func(m *wire.Message) {
		if m.Type == wire.TypeMessage {
			close(got)
		}
	})
	require.NoError(t, err)
	ft.Broadcast(roomA, "after close")
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription starved after Close")
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "message", tapbus.KindMessage.String())
	assert.Equal(t, "cancelled", tapbus.KindCancelled.String())
	assert.Equal(t, "kind(42)", tapbus.Kind(42).String())
}
