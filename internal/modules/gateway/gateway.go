// Package gateway pushes server-side events to connected clients over
// socket.io. Each socket is bound to the client scope it connected as and
// only receives events published for that scope.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prism-ai/prism/internal/middleware"
	"github.com/prism-ai/prism/internal/pkg/clientscope"
	"github.com/prism-ai/prism/internal/pkg/jwt"
	pkgredis "github.com/prism-ai/prism/internal/pkg/redis"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

const (
	namespaceEvents = "/events"
	redisChanEvents = "prism:gateway:events"

	EventConnect    = "GATEWAY_CONNECT"
	EventAuthFailed      = "AUTH_FAILED"
	EventFileStatus      = "FILE_STATUS"
	EventSettingsChanged = "SETTINGS_CHANGED"
)

// Message is the envelope used for local delivery and Redis fan-out.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Scope   string      `json:"scope"`
	Origin  string      `json:"origin,omitempty"`

	// local events are not fanned out over Redis.
	local bool
}

type gatewayPayload struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type emitter interface {
	Emit(ev string, args ...any) error
}

type clientMeta struct {
	sid   string
	scope string
	conn  emitter
}

// Hub tracks connected sockets per scope and fans events out across instances.
type Hub struct {
	mu      sync.RWMutex
	sockets map[string]map[string]emitter

	broadcast  chan Message
	register   chan clientMeta
	unregister chan clientMeta
	done       chan struct{}
	stopOnce   sync.Once

	instance string
	rc       *pkgredis.Client
	verifier *jwt.Verifier
	logger   *zap.Logger
	sio      *socketio.Server
}

func NewHub(rc *pkgredis.Client, verifier *jwt.Verifier, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		sockets:    make(map[string]map[string]emitter),
		broadcast:  make(chan Message, 256),
		register:   make(chan clientMeta, 256),
		unregister: make(chan clientMeta, 256),
		done:       make(chan struct{}),
		instance:   uuid.NewString(),
		rc:         rc,
		verifier:   verifier,
		logger:     logger.Named("gateway"),
		sio:        socketio.NewServer(nil, nil),
	}
	h.registerNamespace()
	return h
}

func (h *Hub) registerNamespace() {
	ns := h.sio.Of(namespaceEvents, nil)
	_ = ns.On("connection", func(args ...any) {
		client, ok := args[0].(*socketio.Socket)
		if !ok {
			return
		}
		sid := string(client.Id())
		scope, ok := h.resolveScope(handshakeValue(client, "token", "authorization"), handshakeValue(client, "client_id", middleware.HeaderClientID))
		if !ok {
			_ = client.Emit("message", gatewayPayload{Type: EventAuthFailed, Data: "sign in or send a client_id"})
			client.Disconnect(true)
			return
		}
		h.enqueue(h.register, clientMeta{sid: sid, scope: scope, conn: client})
		_ = client.Emit("message", gatewayPayload{Type: EventConnect, Data: gin.H{"scope": scope}})

		_ = client.On("disconnect", func(_ ...any) {
			h.enqueue(h.unregister, clientMeta{sid: sid, scope: scope})
		})
	})
}

// resolveScope mirrors the HTTP scope resolution: a valid token binds the
// socket to its user, anything else to the client id. Sockets with neither
// are refused.
func (h *Hub) resolveScope(token, clientID string) (string, bool) {
	if token = middleware.NormalizeToken(token); token != "" {
		if claims, err := h.verifier.Parse(token); err == nil {
			return clientscope.ForUser(nil, claims.UserID(), claims.Email, token).ID, true
		}
	}
	client, ok := clientscope.ForClient(nil, clientID)
	return client.ID, ok
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// enqueue hands c to the hub loop, or drops it once Run has returned.
func (h *Hub) enqueue(ch chan<- clientMeta, c clientMeta) {
	select {
	case ch <- c:
	case <-h.done:
	}
}

func handshakeValue(client *socketio.Socket, queryKey, headerKey string) string {
	handshake := client.Handshake()
	if handshake == nil {
		return ""
	}
	if v := firstValueFromMultiMap(handshake.Query, queryKey); v != "" {
		return v
	}
	return firstValueFromMultiMap(handshake.Headers, headerKey)
}

func firstValueFromMultiMap(values map[string][]string, key string) string {
	for k, list := range values {
		if !strings.EqualFold(strings.TrimSpace(k), key) || len(list) == 0 {
			continue
		}
		if v := strings.TrimSpace(list[0]); v != "" {
			return v
		}
	}
	return ""
}

// Run starts the hub loop and the Redis subscriber. It returns when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer h.stop()
	if h.rc != nil {
		go h.subscribeRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			// Disconnect handlers fired by Close must see done already closed.
			h.stop()
			h.sio.Close(nil)
			return

		case c := <-h.register:
			h.registerClient(c)

		case c := <-h.unregister:
			h.unregisterClient(c)

		case msg := <-h.broadcast:
			h.deliver(msg)
			if h.rc == nil || msg.local {
				continue
			}
			msg.Origin = h.instance
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := h.rc.Publish(ctx, redisChanEvents, string(data)); err != nil {
				h.logger.Warn("gateway publish failed", zap.Error(err))
			}
		}
	}
}

func (h *Hub) registerClient(c clientMeta) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.sockets[c.scope]
	if !ok {
		conns = make(map[string]emitter)
		h.sockets[c.scope] = conns
	}
	conns[c.sid] = c.conn
}

func (h *Hub) unregisterClient(c clientMeta) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.sockets[c.scope]
	if !ok {
		return
	}
	delete(conns, c.sid)
	if len(conns) == 0 {
		delete(h.sockets, c.scope)
	}
}

func (h *Hub) deliver(msg Message) {
	h.mu.RLock()
	targets := make([]emitter, 0, len(h.sockets[msg.Scope]))
	for _, conn := range h.sockets[msg.Scope] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	payload := gatewayPayload{Type: msg.Event, Data: msg.Payload}
	for _, conn := range targets {
		if err := conn.Emit("message", payload); err != nil {
			h.logger.Debug("gateway emit failed", zap.String("scope", msg.Scope), zap.Error(err))
		}
	}
}

// subscribeRedis delivers events published by other server instances.
func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.rc.Subscribe(ctx, redisChanEvents)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case redisMsg, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(redisMsg.Payload), &msg); err != nil {
				continue
			}
			if msg.Origin == h.instance {
				continue
			}
			h.deliver(msg)
		}
	}
}

// Publish queues an event for every socket of the given scope. Events are
// dropped when the queue is full.
func (h *Hub) Publish(scope, event string, payload interface{}) {
	h.queue(Message{Event: event, Payload: payload, Scope: scope})
}

// PublishLocal is Publish for events every instance observes on its own,
// such as key-value changes, so they reach each socket once.
func (h *Hub) PublishLocal(scope, event string, payload interface{}) {
	h.queue(Message{Event: event, Payload: payload, Scope: scope, local: true})
}

func (h *Hub) queue(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("gateway queue full, event dropped", zap.String("event", msg.Event), zap.String("scope", msg.Scope))
	}
}

// ClientCount returns the number of connected sockets, optionally for one scope.
func (h *Hub) ClientCount(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if scope != "" {
		return len(h.sockets[scope])
	}
	total := 0
	for _, conns := range h.sockets {
		total += len(conns)
	}
	return total
}

// Handler returns the socket.io HTTP handler mounted at /socket.io.
func (h *Hub) Handler() http.Handler {
	return h.sio.ServeHandler(nil)
}

// RegisterRoutes mounts socket.io and the stats endpoint.
func RegisterRoutes(r gin.IRoutes, rg *gin.RouterGroup, hub *Hub) {
	handler := gin.WrapH(hub.Handler())
	r.Any("/socket.io", handler)
	r.Any("/socket.io/*any", handler)

	// GET /gateway/stats
	rg.GET("/gateway/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"total": hub.ClientCount("")})
	})
}
