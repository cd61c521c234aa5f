package proflame

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// receivedFrame is one text frame seen by the fake device.
type receivedFrame struct {
	conn int
	data string
}

// MockFireplace is a websocket server speaking the controller protocol.
type MockFireplace struct {
	t   *testing.T
	srv *httptest.Server

	ackHandshake atomic.Bool
	replyPong    atomic.Bool
	refuse       atomic.Bool
	connects     atomic.Int32

	mu      sync.Mutex
	conns   []*websocket.Conn
	writeMu sync.Mutex

	frames chan receivedFrame
}

func newMockFireplace(t *testing.T) *MockFireplace {
	t.Helper()

	d := &MockFireplace{
		t:      t,
		frames: make(chan receivedFrame, 1024),
	}
	d.ackHandshake.Store(true)
	d.replyPong.Store(true)

	upgrader := websocket.Upgrader{}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.refuse.Load() {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		id := int(d.connects.Add(1))

		d.mu.Lock()
		d.conns = append(d.conns, conn)
		d.mu.Unlock()

		d.serve(id, conn)
	}))
	t.Cleanup(d.Close)
	return d
}

func (d *MockFireplace) serve(id int, conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg := string(data)
		select {
		case d.frames <- receivedFrame{conn: id, data: msg}:
		default:
		}

		switch {
		case msg == ControlHandshake && d.ackHandshake.Load():
			d.write(conn, ControlHandshakeAck)
		case msg == ControlPing && d.replyPong.Load():
			d.write(conn, ControlPong)
		}
	}
}

func (d *MockFireplace) write(conn *websocket.Conn, msg string) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	//nolint:errcheck // test server, peer may be gone
	conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Send pushes a frame to the most recent connection.
func (d *MockFireplace) Send(msg string) {
	d.t.Helper()
	d.mu.Lock()
	if len(d.conns) == 0 {
		d.mu.Unlock()
		d.t.Fatal("mock fireplace has no connection")
	}
	conn := d.conns[len(d.conns)-1]
	d.mu.Unlock()
	d.write(conn, msg)
}

// DropAll closes every open connection from the device side.
func (d *MockFireplace) DropAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		c.Close()
	}
	d.conns = nil
}

// Close stops the server and closes all connections.
func (d *MockFireplace) Close() {
	d.DropAll()
	d.srv.Close()
}

// HostPort returns the address a client should dial.
func (d *MockFireplace) HostPort() (string, int) {
	addr := d.srv.Listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// NextWrite returns the next frame that is not a handshake or ping.
func (d *MockFireplace) NextWrite(timeout time.Duration) (receivedFrame, error) {
	deadline := time.After(timeout)
	for {
		select {
		case f := <-d.frames:
			if f.data == ControlHandshake || f.data == ControlPing {
				continue
			}
			return f, nil
		case <-deadline:
			return receivedFrame{}, fmt.Errorf("no write frame within %s", timeout)
		}
	}
}

// NextFrame returns the next frame of any kind.
func (d *MockFireplace) NextFrame(timeout time.Duration) (receivedFrame, error) {
	select {
	case f := <-d.frames:
		return f, nil
	case <-time.After(timeout):
		return receivedFrame{}, fmt.Errorf("no frame within %s", timeout)
	}
}

// testConfig returns fast timings for tests against d.
func testConfig(d *MockFireplace) ClientConfig {
	host, port := d.HostPort()
	return ClientConfig{
		Host:                 host,
		Port:                 port,
		ConnectTimeout:       time.Second,
		ReadTimeout:          2 * time.Hour,
		WriteTimeout:         time.Second,
		PingInterval:         time.Hour,
		HandshakeTimeout:     time.Second,
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectInterval: 50 * time.Millisecond,
	}
}

// waitFor polls cond until it is true or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// testLogger records entries by level.
type testLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level string
	msg   string
}

func (l *testLogger) add(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
	l.mu.Unlock()
}

func (l *testLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *testLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *testLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *testLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *testLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			n++
		}
	}
	return n
}
