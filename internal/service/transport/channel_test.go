package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// peer is a scripted websocket server used by the channel tests.
type peer struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	accepted int
}

func (p *peer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	p.mu.Lock()
	p.accepted++
	p.mu.Unlock()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Event {
		case EventPing:
			_ = conn.WriteJSON(Frame{Event: EventPong, Payload: frame.Payload})
		case "echo":
			ack, _ := AckFrame(frame, frame.Payload, nil)
			_ = conn.WriteJSON(ack)
		case "fail":
			ack, _ := AckFrame(frame, nil, errors.New("rejected"))
			_ = conn.WriteJSON(ack)
		case "stream":
			for _, f := range []Frame{
				mustFrame(EventStreamStart, map[string]string{"messageId": "m1"}),
				mustFrame(EventStreamData, map[string]string{"content": "Hel"}),
				mustFrame(EventStreamData, map[string]string{"content": "lo"}),
				mustFrame(EventStreamEnd, map[string]any{}),
			} {
				_ = conn.WriteJSON(f)
			}
		case "drop":
			return
		}
	}
}

func (p *peer) connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accepted
}

func mustFrame(event string, payload any) Frame {
	f, err := NewFrame(event, payload)
	if err != nil {
		panic(err)
	}
	return f
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testOptions(url string) Options {
	opts := DefaultOptions(url)
	opts.BaseDelay = 10 * time.Millisecond
	opts.MaxDelay = 50 * time.Millisecond
	opts.AckTimeout = time.Second
	opts.HeartbeatInterval = 0
	return opts
}

func startPeer(t *testing.T) (*peer, *httptest.Server) {
	t.Helper()
	p := &peer{}
	server := httptest.NewServer(p)
	t.Cleanup(server.Close)
	return p, server
}

func TestSendWhileDisconnectedFails(t *testing.T) {
	ch := NewChannel(testOptions("ws://127.0.0.1:1/ws"))

	_, err := ch.Send(context.Background(), "echo", map[string]string{"a": "b"})
	require.ErrorIs(t, err, ErrNotConnected)
	require.ErrorIs(t, ch.Emit("echo", nil), ErrNotConnected)
	require.Equal(t, StateDisconnected, ch.State())
}

func TestSendResolvesWithAckPayload(t *testing.T) {
	_, server := startPeer(t)
	ch := NewChannel(testOptions(wsURL(server)))
	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()

	require.Equal(t, StateConnected, ch.State())

	payload, err := ch.Send(context.Background(), "echo", map[string]string{"text": "hi"})
	require.NoError(t, err)
	require.JSONEq(t, `{"text":"hi"}`, string(payload))
}

func TestSendSurfacesAckError(t *testing.T) {
	_, server := startPeer(t)
	ch := NewChannel(testOptions(wsURL(server)))
	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()

	_, err := ch.Send(context.Background(), "fail", nil)
	require.EqualError(t, err, "rejected")
}

func TestSendTimesOutWithoutAck(t *testing.T) {
	_, server := startPeer(t)
	opts := testOptions(wsURL(server))
	opts.AckTimeout = 50 * time.Millisecond
	ch := NewChannel(opts)
	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()

	_, err := ch.Send(context.Background(), "silent", nil)
	require.ErrorIs(t, err, ErrAckTimeout)
}

func TestSendHonoursContextCancellation(t *testing.T) {
	_, server := startPeer(t)
	ch := NewChannel(testOptions(wsURL(server)))
	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ch.Send(ctx, "silent", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListenersReceiveFramesInOrder(t *testing.T) {
	_, server := startPeer(t)
	ch := NewChannel(testOptions(wsURL(server)))

	var mu sync.Mutex
	var events []string
	done := make(chan struct{})
	record := func(name string) func(json.RawMessage) {
		return func(payload json.RawMessage) {
			mu.Lock()
			events = append(events, name+":"+string(payload))
			mu.Unlock()
			if name == EventStreamEnd {
				close(done)
			}
		}
	}
	ch.On(EventStreamStart, record(EventStreamStart))
	ch.On(EventStreamData, record(EventStreamData))
	ch.On(EventStreamEnd, record(EventStreamEnd))

	var anyCount int
	ch.OnAny(func(Frame) {
		mu.Lock()
		anyCount++
		mu.Unlock()
	})

	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()
	require.NoError(t, ch.Emit("stream", nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream frames not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		`stream:start:{"messageId":"m1"}`,
		`stream:data:{"content":"Hel"}`,
		`stream:data:{"content":"lo"}`,
		`stream:end:{}`,
	}, events)
	require.Equal(t, 4, anyCount)
}

func TestUnsubscribedListenerIsNotCalled(t *testing.T) {
	_, server := startPeer(t)
	ch := NewChannel(testOptions(wsURL(server)))

	called := make(chan struct{}, 4)
	unsubscribe := ch.On(EventStreamData, func(json.RawMessage) { called <- struct{}{} })
	unsubscribe()

	ended := make(chan struct{})
	ch.On(EventStreamEnd, func(json.RawMessage) { close(ended) })

	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()
	require.NoError(t, ch.Emit("stream", nil))

	<-ended
	require.Len(t, called, 0)
}

func TestReconnectsAfterDrop(t *testing.T) {
	p, server := startPeer(t)
	ch := NewChannel(testOptions(wsURL(server)))

	states := make(chan State, 16)
	ch.OnState(func(s State) { states <- s })

	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()
	require.Equal(t, StateConnecting, <-states)
	require.Equal(t, StateConnected, <-states)

	require.NoError(t, ch.Emit("drop", nil))

	require.Equal(t, StateDisconnected, <-states)
	require.Equal(t, StateConnecting, <-states)
	require.Equal(t, StateConnected, <-states)
	require.Eventually(t, func() bool { return p.connections() == 2 }, time.Second, 5*time.Millisecond)

	_, err := ch.Send(context.Background(), "echo", "again")
	require.NoError(t, err)
}

func TestPendingSendFailsWhenConnectionDrops(t *testing.T) {
	_, server := startPeer(t)
	opts := testOptions(wsURL(server))
	opts.MaxAttempts = 1
	opts.BaseDelay = time.Hour
	ch := NewChannel(opts)
	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.Send(context.Background(), "silent", nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ch.Emit("drop", nil))

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(2 * time.Second):
		t.Fatal("pending send did not fail")
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	opts := testOptions(url)
	opts.MaxAttempts = 2
	ch := NewChannel(opts)
	defer ch.Disconnect()

	reachedError := make(chan struct{})
	var once sync.Once
	ch.OnState(func(s State) {
		if s == StateError {
			once.Do(func() { close(reachedError) })
		}
	})

	require.Error(t, ch.Connect(context.Background()))

	select {
	case <-reachedError:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected error state, got %s", ch.State())
	}
	require.Equal(t, StateError, ch.State())
}

func TestConnectAfterErrorRestartsBackoff(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	opts := testOptions(url)
	opts.MaxAttempts = 2
	ch := NewChannel(opts)
	defer ch.Disconnect()

	var mu sync.Mutex
	var states []State
	failed := make(chan struct{}, 4)
	ch.OnState(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
		if s == StateError {
			failed <- struct{}{}
		}
	})

	waitForError := func() {
		t.Helper()
		select {
		case <-failed:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected error state, got %s", ch.State())
		}
	}

	require.Error(t, ch.Connect(context.Background()))
	waitForError()

	mu.Lock()
	states = nil
	mu.Unlock()

	require.Error(t, ch.Connect(context.Background()))
	waitForError()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, StateConnecting, states[0])
	require.Contains(t, states[:len(states)-1], StateDisconnected, "a fresh connect should retry with backoff before giving up")
	require.Equal(t, StateError, states[len(states)-1])
	require.Equal(t, StateError, ch.State())
}

func TestHiddenChannelDefersReconnect(t *testing.T) {
	p, server := startPeer(t)
	ch := NewChannel(testOptions(wsURL(server)))
	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()

	dropped := make(chan struct{})
	var once sync.Once
	ch.OnState(func(s State) {
		if s == StateDisconnected {
			once.Do(func() { close(dropped) })
		}
	})

	ch.SetVisible(false)
	require.NoError(t, ch.Emit("drop", nil))
	<-dropped

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, StateDisconnected, ch.State())
	require.LessOrEqual(t, p.connections(), 1)

	reconnected := make(chan struct{})
	var again sync.Once
	ch.OnState(func(s State) {
		if s == StateConnected {
			again.Do(func() { close(reconnected) })
		}
	})
	ch.SetVisible(true)

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not reconnect once visible")
	}
	require.Eventually(t, func() bool { return p.connections() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHeartbeatMeasuresLatency(t *testing.T) {
	_, server := startPeer(t)
	opts := testOptions(wsURL(server))
	opts.HeartbeatInterval = 10 * time.Millisecond
	ch := NewChannel(opts)

	pong := make(chan struct{}, 1)
	ch.On(EventPong, func(json.RawMessage) {
		select {
		case pong <- struct{}{}:
		default:
		}
	})

	require.NoError(t, ch.Connect(context.Background()))
	defer ch.Disconnect()

	select {
	case <-pong:
	case <-time.After(2 * time.Second):
		t.Fatal("no pong received")
	}
	require.Greater(t, ch.Latency(), time.Duration(0))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	_, server := startPeer(t)
	ch := NewChannel(testOptions(wsURL(server)))
	require.NoError(t, ch.Connect(context.Background()))

	ch.Disconnect()
	ch.Disconnect()
	require.Equal(t, StateDisconnected, ch.State())
}
