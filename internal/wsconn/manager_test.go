package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"
)

func quietLogger() log.Logger {
	return log.Logger{Level: log.PanicLevel}
}

func testConfig(url string) Config {
	return Config{
		Url:               url,
		ConnectTimeout:    500 * time.Millisecond,
		WriteTimeout:      500 * time.Millisecond,
		MinReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay: 40 * time.Millisecond,
		GrowFactor:        1.3,
		MaxRetries:        3,
	}
}

type testServer struct {
	*httptest.Server
	recv     chan []byte
	accepted int32
	// drop closes each accepted connection right away
	drop int32
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{recv: make(chan []byte, 16)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close(websocket.StatusInternalError, "")
		n := atomic.AddInt32(&ts.accepted, 1)
		if n <= atomic.LoadInt32(&ts.drop) {
			c.Close(websocket.StatusGoingAway, "bye")
			return
		}
		for {
			_, msg, err := c.Read(r.Context())
			if err != nil {
				return
			}
			ts.recv <- msg
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsUrl() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func newTestManager(t *testing.T, config Config) *Manager {
	m := NewManager(config)
	m.SetLogger(quietLogger())
	t.Cleanup(m.Close)
	return m
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state is %s, want %s", m.Status(), want)
}

func TestDelay(t *testing.T) {
	c := DefaultConfig("ws://localhost")
	cases := map[int]time.Duration{
		0:  0,
		1:  1000 * time.Millisecond,
		2:  1300 * time.Millisecond,
		3:  1690 * time.Millisecond,
		10: 4000 * time.Millisecond,
	}
	for retry, want := range cases {
		got := c.delay(retry)
		if got.Round(time.Millisecond) != want {
			t.Errorf("delay(%d) = %s, want %s", retry, got, want)
		}
	}
}

func TestStatusWithoutConnection(t *testing.T) {
	m := newTestManager(t, testConfig("ws://127.0.0.1:1"))
	if m.Status() != Disconnected {
		t.Fatalf("got %s", m.Status())
	}
	m.Close()
	m.Close()
	if m.Status() != Disconnected {
		t.Fatalf("got %s after close", m.Status())
	}
}

func TestSendOpensConnection(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(t, testConfig(ts.wsUrl()))

	if !m.Send(context.Background(), []byte(`{"vehicleId":"V1"}`)) {
		t.Fatal("send failed")
	}
	select {
	case msg := <-ts.recv:
		if string(msg) != `{"vehicleId":"V1"}` {
			t.Fatalf("unexpected frame %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received")
	}
	if m.Status() != Connected {
		t.Fatalf("got %s", m.Status())
	}

	m.Close()
	if m.Status() != Disconnected {
		t.Fatalf("got %s after close", m.Status())
	}
	if !m.Send(context.Background(), []byte(`{}`)) {
		t.Fatal("send after close should reopen")
	}
	select {
	case <-ts.recv:
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received")
	}
	if n := atomic.LoadInt32(&ts.accepted); n != 2 {
		t.Fatalf("accepted %d connections, want 2", n)
	}
}

func TestSendUnreachable(t *testing.T) {
	ts := newTestServer(t)
	url := ts.wsUrl()
	ts.Close()

	m := newTestManager(t, testConfig(url))
	t0 := time.Now()
	if m.Send(context.Background(), []byte(`{}`)) {
		t.Fatal("send should fail")
	}
	if time.Since(t0) > time.Second {
		t.Fatal("send blocked past the connect timeout")
	}
}

func TestSendConnectTimeout(t *testing.T) {
	config := testConfig("ws://unused")
	config.ConnectTimeout = 50 * time.Millisecond
	m := newTestManager(t, config)
	m.dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	t0 := time.Now()
	if m.Send(context.Background(), []byte(`{}`)) {
		t.Fatal("send should fail")
	}
	if time.Since(t0) > 500*time.Millisecond {
		t.Fatal("send not bounded by connect timeout")
	}
}

func TestSendWhileClosedDoesNotRedial(t *testing.T) {
	config := testConfig("ws://unused")
	config.MaxRetries = 0
	m := newTestManager(t, config)
	var dials int32
	m.dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
		atomic.AddInt32(&dials, 1)
		return nil, errConnectFailed
	}
	if m.Send(context.Background(), []byte(`{}`)) {
		t.Fatal("send should fail")
	}
	waitState(t, m, Closed)
	// let the background loop observe the retry limit
	time.Sleep(50 * time.Millisecond)
	if m.Send(context.Background(), []byte(`{}`)) {
		t.Fatal("send on closed connection should fail")
	}
	if n := atomic.LoadInt32(&dials); n != 1 {
		t.Fatalf("dialed %d times, want 1", n)
	}
	if m.Status() != Closed {
		t.Fatalf("got %s", m.Status())
	}
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	m := newTestManager(t, testConfig("ws://unused"))
	var dials int32
	m.dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
		atomic.AddInt32(&dials, 1)
		return nil, errConnectFailed
	}
	m.Send(context.Background(), []byte(`{}`))
	c := m.conn()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect loop did not give up")
	}
	if n := atomic.LoadInt32(&dials); n != 4 {
		t.Fatalf("dialed %d times, want initial attempt plus 3 retries", n)
	}
	if m.Status() != Closed {
		t.Fatalf("got %s", m.Status())
	}
}

func TestReconnectAfterServerClose(t *testing.T) {
	ts := newTestServer(t)
	atomic.StoreInt32(&ts.drop, 1)
	m := newTestManager(t, testConfig(ts.wsUrl()))

	m.Send(context.Background(), []byte(`{}`))
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&ts.accepted) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	waitState(t, m, Connected)
	if !m.Send(context.Background(), []byte(`{"n":2}`)) {
		t.Fatal("send after reconnect failed")
	}
	select {
	case msg := <-ts.recv:
		if string(msg) != `{"n":2}` {
			t.Fatalf("unexpected frame %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received")
	}
}

func TestSendHonoursContext(t *testing.T) {
	m := newTestManager(t, testConfig("ws://unused"))
	var dials int32
	m.dial = func(ctx context.Context, url string) (*websocket.Conn, error) {
		atomic.AddInt32(&dials, 1)
		return nil, errConnectFailed
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if m.Send(ctx, []byte(`{}`)) {
		t.Fatal("send with cancelled context should fail")
	}
	if m.Status() != Disconnected {
		t.Fatalf("cancelled send created a connection: %s", m.Status())
	}
}
