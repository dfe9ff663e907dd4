package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType 消息类型
type MessageType string

const (
	PredictionResult MessageType = "prediction"
	ModelReloaded    MessageType = "model_reloaded"
	ErrorMessage     MessageType = "error"
	Heartbeat        MessageType = "heartbeat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

// Message is what the server sends to websocket clients.
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	ReplyTo   string          `json:"reply_to,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals payload into a message of the given type.
func NewMessage(t MessageType, replyTo string, payload interface{}) (Message, error) {
	msg := Message{
		Type:      t,
		ID:        uuid.NewString(),
		ReplyTo:   replyTo,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		msg.Data = data
	}
	return msg, nil
}

// ClientMessage is what clients send. Type "ping" is answered by the hub;
// everything else goes to the MessageHandler.
type ClientMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MessageHandler answers a client message. Returning an error sends an
// error message to that client only.
type MessageHandler interface {
	HandleClientMessage(ctx context.Context, clientID string, msg ClientMessage) (Message, error)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, clientID string, msg ClientMessage) (Message, error)

func (f MessageHandlerFunc) HandleClientMessage(ctx context.Context, clientID string, msg ClientMessage) (Message, error) {
	return f(ctx, clientID, msg)
}

// Client WebSocket客户端
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string
}

func (c *Client) ID() string { return c.clientID }

type directMessage struct {
	client  *Client
	payload []byte
}

// HubStats 监控统计
type HubStats struct {
	ConnectedClients int       `json:"connected_clients"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	Dropped          int64     `json:"dropped"`
	StartTime        time.Time `json:"start_time"`
}

// Hub fans broadcast messages out to every connected client and routes
// client requests to a MessageHandler. Only the Run goroutine touches the
// client set and closes send channels.
type Hub struct {
	logger  *zap.Logger
	handler MessageHandler

	clients    map[*Client]bool
	broadcast  chan []byte
	direct     chan directMessage
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	sent      atomic.Int64
	received  atomic.Int64
	dropped   atomic.Int64
	startTime time.Time
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithCheckOrigin replaces the same-origin check of the upgrader.
func WithCheckOrigin(fn func(r *http.Request) bool) HubOption {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

func NewHub(handler MessageHandler, logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		logger:     logger,
		handler:    handler,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		direct:     make(chan directMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes registrations and deliveries until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("websocket client connected", zap.String("client_id", client.clientID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("websocket client disconnected", zap.String("client_id", client.clientID), zap.Int("total", total))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				h.deliver(client, message)
			}
			h.mu.Unlock()

		case dm := <-h.direct:
			h.mu.Lock()
			if _, ok := h.clients[dm.client]; ok {
				h.deliver(dm.client, dm.payload)
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// deliver must be called by Run with mu held.
func (h *Hub) deliver(client *Client, message []byte) {
	select {
	case client.send <- message:
		h.sent.Add(1)
	default:
		h.dropped.Add(1)
		close(client.send)
		delete(h.clients, client)
		h.logger.Warn("websocket client too slow, disconnecting", zap.String("client_id", client.clientID))
	}
}

// Stop closes every connection and waits for Run to return.
func (h *Hub) Stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
	}
}

// HandleWebSocket upgrades the request and serves the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 256),
		clientID: uuid.NewString(),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump(h.logger)
	go client.readPump(h)
}

// Broadcast sends a message to every client.
func (h *Hub) Broadcast(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- payload:
		return nil
	default:
		h.dropped.Add(1)
		return fmt.Errorf("websocket broadcast queue is full")
	}
}

func (h *Hub) sendTo(client *Client, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal websocket reply", zap.Error(err))
		return
	}
	select {
	case h.direct <- directMessage{client: client, payload: payload}:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Stats() HubStats {
	return HubStats{
		ConnectedClients: h.ClientCount(),
		MessagesSent:     h.sent.Load(),
		MessagesReceived: h.received.Load(),
		Dropped:          h.dropped.Load(),
		StartTime:        h.startTime,
	}
}

func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket write error", zap.String("client_id", c.clientID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}
		h.received.Add(1)

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.replyError(c, "", fmt.Errorf("invalid message: %w", err))
			continue
		}
		h.handleClientMessage(c, msg)
	}
}

func (h *Hub) handleClientMessage(c *Client, msg ClientMessage) {
	if msg.Type == "ping" {
		reply, err := NewMessage(Heartbeat, msg.ID, map[string]string{"status": "alive"})
		if err == nil {
			h.sendTo(c, reply)
		}
		return
	}
	if h.handler == nil {
		h.replyError(c, msg.ID, fmt.Errorf("unsupported message type %q", msg.Type))
		return
	}
	reply, err := h.handler.HandleClientMessage(h.ctx, c.clientID, msg)
	if err != nil {
		h.replyError(c, msg.ID, err)
		return
	}
	if reply.ReplyTo == "" {
		reply.ReplyTo = msg.ID
	}
	h.sendTo(c, reply)
}

func (h *Hub) replyError(c *Client, replyTo string, cause error) {
	reply, err := NewMessage(ErrorMessage, replyTo, map[string]string{"error": cause.Error()})
	if err != nil {
		return
	}
	h.sendTo(c, reply)
}
