package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stellarlinkco/chatcounter/internal/bus"
	"github.com/stellarlinkco/chatcounter/internal/config"
)

func newWebUITestServer(t *testing.T, allowFrom []string) (*WebUIChannel, *bus.MessageBus, *httptest.Server) {
	t.Helper()
	b := bus.NewMessageBus(10)
	ch, err := NewWebUIChannel(config.WebUIConfig{Enabled: true, AllowFrom: allowFrom}, config.GatewayConfig{}, b)
	if err != nil {
		t.Fatalf("NewWebUIChannel: %v", err)
	}
	handler, err := ch.Handler()
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return ch, b, srv
}

func dialWebUI(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, msg wsMessage) {
	t.Helper()
	data, _ := json.Marshal(msg)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestNewWebUIChannel(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, err := NewWebUIChannel(config.WebUIConfig{Enabled: true}, config.GatewayConfig{Host: "127.0.0.1"}, b)
	if err != nil {
		t.Fatalf("NewWebUIChannel: %v", err)
	}
	if ch.Name() != "webui" {
		t.Errorf("Name() = %q, want %q", ch.Name(), "webui")
	}
	if ch.addr != "127.0.0.1:18790" {
		t.Errorf("addr = %q, want default port", ch.addr)
	}
}

func TestWebUIChannel_StaticPage(t *testing.T) {
	_, _, srv := newWebUITestServer(t, nil)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d, want 200", resp.StatusCode)
	}
}

func TestWebUIChannel_WebSocket(t *testing.T) {
	ch, b, srv := newWebUITestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWebUI(t, ctx, srv)

	writeFrame(t, ctx, conn, wsMessage{Type: "ping"})
	writeFrame(t, ctx, conn, wsMessage{Type: "message", User: "alice", Community: "den", Content: "hello world"})

	var inbound bus.InboundMessage
	select {
	case inbound = <-b.Inbound:
	case <-ctx.Done():
		t.Fatal("timeout waiting for inbound message")
	}
	if inbound.Channel != "webui" || inbound.SenderID != "alice" || inbound.CommunityID != "den" {
		t.Errorf("inbound = %+v", inbound)
	}
	if inbound.Content != "hello world" {
		t.Errorf("content = %q", inbound.Content)
	}

	if err := ch.Send(bus.OutboundMessage{Channel: "webui", ChatID: inbound.ChatID, Content: "reply"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got wsMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "message" || got.Content != "reply" {
		t.Errorf("reply = %+v", got)
	}
}

func TestWebUIChannel_Defaults(t *testing.T) {
	_, b, srv := newWebUITestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWebUI(t, ctx, srv)
	writeFrame(t, ctx, conn, wsMessage{Type: "message", Content: "anon"})

	select {
	case inbound := <-b.Inbound:
		if inbound.CommunityID != webUIDefaultRoom {
			t.Errorf("community = %q, want %q", inbound.CommunityID, webUIDefaultRoom)
		}
		if inbound.SenderID != inbound.ChatID {
			t.Errorf("anonymous sender %q should be the client id %q", inbound.SenderID, inbound.ChatID)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for inbound message")
	}
}

func TestWebUIChannel_AllowFrom(t *testing.T) {
	_, b, srv := newWebUITestServer(t, []string{"bob"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWebUI(t, ctx, srv)
	writeFrame(t, ctx, conn, wsMessage{Type: "message", User: "mallory", Content: "nope"})
	writeFrame(t, ctx, conn, wsMessage{Type: "message", User: "bob", Content: "yes"})

	select {
	case inbound := <-b.Inbound:
		if inbound.SenderID != "bob" {
			t.Errorf("sender = %q, want bob", inbound.SenderID)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for inbound message")
	}
}

func TestWebUIChannel_SendBroadcast(t *testing.T) {
	ch, b, srv := newWebUITestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWebUI(t, ctx, srv)
	// A round trip guarantees the client is registered before broadcasting.
	writeFrame(t, ctx, conn, wsMessage{Type: "message", Content: "hi"})
	select {
	case <-b.Inbound:
	case <-ctx.Done():
		t.Fatal("timeout waiting for inbound message")
	}

	if err := ch.Send(bus.OutboundMessage{Channel: "webui", ChatID: "nobody", Content: "everyone"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "everyone") {
		t.Errorf("broadcast frame = %s", data)
	}
}

func TestWebUIChannel_StopNotStarted(t *testing.T) {
	ch, err := NewWebUIChannel(config.WebUIConfig{}, config.GatewayConfig{}, bus.NewMessageBus(1))
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
