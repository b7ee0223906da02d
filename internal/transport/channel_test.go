package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"livemeet/internal/protocol"
)

func newBackend(t *testing.T) (*httptest.Server, <-chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 4)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		conns <- conn
	}))
	t.Cleanup(server.Close)
	return server, conns
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func acceptConn(t *testing.T, conns <-chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for connection")
		return nil
	}
}

func TestChannelSendBeforeConnect(t *testing.T) {
	t.Parallel()

	ch := New(Config{URL: "ws://127.0.0.1:1/ws"}, zerolog.Nop())
	if ch.Ready() {
		t.Fatalf("expected channel not ready")
	}
	if err := ch.Send(protocol.Outbound{Type: protocol.MsgFrame}); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}

func TestChannelSendsTextMessages(t *testing.T) {
	t.Parallel()

	server, conns := newBackend(t)
	ch := New(Config{URL: wsURL(server)}, zerolog.Nop())
	t.Cleanup(func() { _ = ch.Close() })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	remote := acceptConn(t, conns)
	if !ch.Ready() {
		t.Fatalf("expected channel ready")
	}

	if err := ch.Send(protocol.AudioMessage([]byte("abc"))); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	_ = remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, payload, err := remote.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("expected text message, got %d", kind)
	}
	var msg protocol.Outbound
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg.Type != protocol.MsgAudio || msg.Data != "YWJj" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestChannelDeliversInboundInOrderAndSkipsMalformed(t *testing.T) {
	t.Parallel()

	server, conns := newBackend(t)
	ch := New(Config{URL: wsURL(server)}, zerolog.Nop())
	t.Cleanup(func() { _ = ch.Close() })

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	remote := acceptConn(t, conns)

	frames := []string{
		`{"type":"transcript","data":"one"}`,
		`garbage`,
		`{"type":"questions","data":["two"]}`,
		`{"type":"answer","data":"three"}`,
	}
	for _, frame := range frames {
		if err := remote.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	want := []protocol.MessageType{protocol.MsgTranscript, protocol.MsgQuestions, protocol.MsgAnswer}
	for i, typ := range want {
		select {
		case msg := <-ch.Inbound():
			if msg.Type != typ {
				t.Fatalf("message %d: expected %s, got %s", i, typ, msg.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestChannelRemoteCloseStopsSends(t *testing.T) {
	t.Parallel()

	server, conns := newBackend(t)
	ch := New(Config{URL: wsURL(server)}, zerolog.Nop())
	t.Cleanup(func() { _ = ch.Close() })

	var flips atomic.Int32
	readyChanges := make(chan bool, 4)
	ch.OnStateChange(func(ready bool) {
		flips.Add(1)
		readyChanges <- ready
	})

	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	remote := acceptConn(t, conns)
	if ready := <-readyChanges; !ready {
		t.Fatalf("expected ready notification first")
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = remote.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = remote.Close()

	select {
	case ready := <-readyChanges:
		if ready {
			t.Fatalf("expected not-ready notification")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for close notification")
	}

	if ch.Ready() {
		t.Fatalf("expected channel closed")
	}
	if err := ch.Send(protocol.Outbound{Type: protocol.MsgFrame}); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
	if flips.Load() != 2 {
		t.Fatalf("expected two state changes, got %d", flips.Load())
	}
}

func TestChannelSendQueueFullDrops(t *testing.T) {
	t.Parallel()

	ch := New(Config{URL: "ws://unused"}, zerolog.Nop())
	ch.current = &connection{outbound: make(chan []byte, 1), done: make(chan struct{})}

	if err := ch.Send(protocol.Outbound{Type: protocol.MsgFrame, Data: "a"}); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := ch.Send(protocol.Outbound{Type: protocol.MsgFrame, Data: "b"}); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("expected ErrSendQueueFull, got %v", err)
	}
}

func TestChannelCloseClosesInbound(t *testing.T) {
	t.Parallel()

	server, conns := newBackend(t)
	ch := New(Config{URL: wsURL(server)}, zerolog.Nop())
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	acceptConn(t, conns)

	if err := ch.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, ok := <-ch.Inbound(); ok {
		t.Fatalf("expected inbound channel closed")
	}
	if err := ch.Connect(context.Background()); !errors.Is(err, ErrChannelShutdown) {
		t.Fatalf("expected ErrChannelShutdown, got %v", err)
	}
}

func TestChannelReconnectGivesUp(t *testing.T) {
	t.Parallel()

	ch := New(Config{
		URL: "ws://127.0.0.1:1/ws",
		Reconnect: ReconnectConfig{
			MaxRetries: 2,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
		},
	}, zerolog.Nop())

	err := ch.Reconnect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("expected exhausted reconnect error, got %v", err)
	}
}

func TestChannelReconnectSucceeds(t *testing.T) {
	t.Parallel()

	server, conns := newBackend(t)
	ch := New(Config{URL: wsURL(server)}, zerolog.Nop())
	t.Cleanup(func() { _ = ch.Close() })

	if err := ch.Reconnect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	acceptConn(t, conns)
	if !ch.Ready() {
		t.Fatalf("expected ready after reconnect")
	}
}

func TestBackoff(t *testing.T) {
	t.Parallel()

	cfg := ReconnectConfig{BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	cases := map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		5: 16 * time.Second,
		6: 30 * time.Second,
		9: 30 * time.Second,
	}
	for attempt, want := range cases {
		if got := backoff(attempt, cfg); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}
