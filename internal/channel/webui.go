package channel

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/stellarlinkco/chatcounter/internal/bus"
	"github.com/stellarlinkco/chatcounter/internal/config"
)

//go:embed static
var staticFiles embed.FS

const (
	webUIChannelName = "webui"
	// webUIDefaultRoom is the community for frames that name none.
	webUIDefaultRoom = "lobby"
)

type wsMessage struct {
	Type      string `json:"type"`
	User      string `json:"user,omitempty"`
	Community string `json:"community,omitempty"`
	Content   string `json:"content,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

type WebUIChannel struct {
	BaseChannel
	addr    string
	server  *http.Server
	clients sync.Map
	nextID  atomic.Int64
}

func NewWebUIChannel(cfg config.WebUIConfig, gwCfg config.GatewayConfig, b *bus.MessageBus) (*WebUIChannel, error) {
	port := gwCfg.Port
	if port == 0 {
		port = config.DefaultPort
	}

	return &WebUIChannel{
		BaseChannel: NewBaseChannel(webUIChannelName, b, cfg.AllowFrom),
		addr:        fmt.Sprintf("%s:%d", gwCfg.Host, port),
	}, nil
}

// Handler serves the static page at / and the websocket at /ws.
func (w *WebUIChannel) Handler() (http.Handler, error) {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("embed static fs: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", w.handleWS)
	return mux, nil
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	w.bind(ctx)
	handler, err := w.Handler()
	if err != nil {
		return err
	}

	w.server = &http.Server{
		Addr:    w.addr,
		Handler: handler,
	}

	go func() {
		w.logger.Info("webui: listening", "addr", w.addr)
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			w.logger.Error("webui: server error", "error", err)
		}
	}()

	return nil
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		w.logger.Warn("webui: websocket accept error", "error", err)
		return
	}

	clientID := fmt.Sprintf("webui-%d", w.nextID.Add(1))
	client := &wsClient{conn: conn, id: clientID}
	w.clients.Store(clientID, client)
	w.logger.Debug("webui: client connected", "client", clientID)

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		w.logger.Debug("webui: client disconnected", "client", clientID)
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "message" {
			continue
		}

		sender := strings.TrimSpace(msg.User)
		if sender == "" {
			sender = clientID
		}
		if !w.IsAllowed(sender) {
			w.logger.Debug("webui: rejected message", "sender", sender)
			continue
		}
		room := strings.TrimSpace(msg.Community)
		if room == "" {
			room = webUIDefaultRoom
		}

		w.publish(bus.InboundMessage{
			Channel:     webUIChannelName,
			SenderID:    sender,
			SenderName:  sender,
			ChatID:      clientID,
			CommunityID: room,
			Content:     msg.Content,
			Timestamp:   time.Now(),
		})
	}
}

func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	data, err := json.Marshal(wsMessage{
		Type:    "message",
		Content: msg.Content,
	})
	if err != nil {
		return err
	}

	client, ok := w.clients.Load(msg.ChatID)
	if !ok {
		// Broadcast to all clients if no specific target
		w.clients.Range(func(key, value any) bool {
			c := value.(*wsClient)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.conn.Write(ctx, websocket.MessageText, data)
			return true
		})
		return nil
	}

	c := client.(*wsClient)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (w *WebUIChannel) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			w.logger.Warn("webui: shutdown error", "error", err)
		}
	}
	w.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.conn.CloseNow()
		return true
	})
	w.logger.Info("webui: stopped")
	return nil
}
