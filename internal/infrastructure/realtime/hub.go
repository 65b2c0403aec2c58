package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"streamgate/internal/core/domain"
	"streamgate/internal/infrastructure/distributed"
	"streamgate/pkg/utils"
)

type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	ClientBuffer   int
	MaxConnections int
	MaxMessageSize int64
	AllowedOrigins []string
}

// Metrics is implemented by the monitoring collector.
type Metrics interface {
	RealtimeClientConnected()
	RealtimeClientDisconnected()
	RecordRealtimeBroadcast(clients int)
}

// Hub pushes lifecycle envelopes to WebSocket clients. Clients may narrow
// the feed with app_id and stream_key query parameters.
type Hub struct {
	config   Config
	upgrader websocket.Upgrader
	metrics  Metrics
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	appID     domain.AppID
	streamKey domain.StreamKey
	closeOnce sync.Once
}

func NewHub(config Config, metrics Metrics, logger *zap.SugaredLogger) *Hub {
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.PongTimeout <= config.PingInterval {
		config.PongTimeout = 2 * config.PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.ClientBuffer <= 0 {
		config.ClientBuffer = 32
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = 4096
	}

	h := &Hub{
		config:  config,
		metrics: metrics,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Run forwards every envelope from sub to connected clients until ctx ends.
func (h *Hub) Run(ctx context.Context, sub distributed.Subscriber) error {
	return sub.Subscribe(ctx, h.Publish)
}

// Publish encodes env once and queues it for every matching client. A client
// whose buffer is full is disconnected rather than allowed to stall the feed.
func (h *Hub) Publish(env domain.Envelope) {
	data, err := json.Marshal(redact(env))
	if err != nil {
		h.logger.Errorw("Failed to encode event", "event_id", env.EventID, "error", err)
		return
	}

	var slow []*client
	delivered := 0

	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(env) {
			continue
		}
		select {
		case c.send <- data:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warnw("Dropping slow realtime client", "remote_addr", c.conn.RemoteAddr().String())
		h.remove(c)
	}
	if h.metrics != nil {
		h.metrics.RecordRealtimeBroadcast(delivered)
	}
}

// redact strips the publish credential and publisher address before an
// envelope leaves the process on the feed.
func redact(env domain.Envelope) domain.Envelope {
	env.StreamKey = domain.StreamKey(utils.MaskSensitive(string(env.StreamKey), 4))
	if _, ok := env.Data[domain.DataClientIP]; ok {
		data := make(map[string]string, len(env.Data))
		for k, v := range env.Data {
			if k != domain.DataClientIP {
				data[k] = v
			}
		}
		env.Data = data
	}
	return env
}

func (c *client) wants(env domain.Envelope) bool {
	if c.appID != "" && c.appID != env.AppID {
		return false
	}
	if c.streamKey != "" && c.streamKey != env.StreamKey {
		return false
	}
	return true
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := h.config.MaxConnections > 0 && len(h.clients) >= h.config.MaxConnections
	closed := h.closed
	h.mu.RUnlock()
	if closed || full {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:      conn,
		send:      make(chan []byte, h.config.ClientBuffer),
		appID:     domain.AppID(r.URL.Query().Get("app_id")),
		streamKey: domain.StreamKey(r.URL.Query().Get("stream_key")),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.RealtimeClientConnected()
	}
	h.logger.Infow("Realtime client connected",
		"remote_addr", conn.RemoteAddr().String(),
		"app_id", c.appID,
		"stream_key", c.streamKey,
	)

	go h.writePump(c)
	h.readPump(c)
}

// readPump only services control frames; clients never send data.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(h.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("Realtime client read error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	c.closeOnce.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.send)
		if h.metrics != nil {
			h.metrics.RealtimeClientDisconnected()
		}
	})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}
