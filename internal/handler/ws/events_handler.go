package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vocalink-backend/internal/domain"
	"vocalink-backend/internal/middleware"
	redisrepo "vocalink-backend/internal/repository/redis"
	"vocalink-backend/pkg/env"
	"vocalink-backend/pkg/logger"
	"vocalink-backend/pkg/metrics"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 54 * time.Second
	readDeadline = 60 * time.Second
)

// Event types streamed to clients
const (
	EventStatusChanged = "status_changed"
	EventIncomingCall  = "incoming_call"
	EventCallEnded     = "call_ended"
)

// Event is one call state notification delivered over the socket. Session is
// the full snapshot at the time of the event.
type Event struct {
	Type      string              `json:"type"`
	Session   *domain.CallSession `json:"session"`
	Timestamp time.Time           `json:"timestamp"`
}

// EventsHub fans call events out to every connected device of a user. Events
// travel through Redis pub/sub so engines on other instances reach sockets
// held here.
type EventsHub struct {
	users               map[string]map[*EventsClient]bool
	subscriptionCancels map[string]context.CancelFunc

	redisClient *goredis.Client
	presence    *redisrepo.PresenceRepository
	metrics     *metrics.Metrics

	mu sync.RWMutex

	register   chan *EventsClient
	unregister chan *EventsClient
	broadcast  chan *userEvent

	maxConnections int
	semaphore      chan struct{}
	connections    int
}

type userEvent struct {
	userID  string
	payload []byte
}

// EventsClient represents one connected device of a user
type EventsClient struct {
	hub    *EventsHub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		for _, allowed := range env.GetSlice("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:3000", "http://localhost:8080",
		}) {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

// NewEventsHub creates the hub and starts its dispatch loop
func NewEventsHub(redisClient *goredis.Client, presence *redisrepo.PresenceRepository, m *metrics.Metrics) *EventsHub {
	hub := &EventsHub{
		users:               make(map[string]map[*EventsClient]bool),
		subscriptionCancels: make(map[string]context.CancelFunc),
		redisClient:         redisClient,
		presence:            presence,
		metrics:             m,
		register:            make(chan *EventsClient),
		unregister:          make(chan *EventsClient),
		broadcast:           make(chan *userEvent, 256),
		maxConnections:      env.GetInt("WS_MAX_CONNECTIONS", 1000),
	}
	hub.semaphore = make(chan struct{}, hub.maxConnections)

	go hub.run()
	return hub
}

func eventChannel(userID string) string {
	return fmt.Sprintf("call-events:%s", userID)
}

// Publish pushes an event toward every device of the user, across instances
func (h *EventsHub) Publish(ctx context.Context, userID string, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := h.redisClient.Publish(ctx, eventChannel(userID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (h *EventsHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.users[client.userID] == nil {
				h.users[client.userID] = make(map[*EventsClient]bool)

				ctx, cancel := context.WithCancel(context.Background())
				h.subscriptionCancels[client.userID] = cancel
				go h.subscribeToUser(ctx, client.userID)

				if err := h.presence.SetUserOnline(context.Background(), client.userID); err != nil {
					logger.Warn("Failed to mark user online",
						zap.String("user_id", client.userID),
						zap.Error(err))
				}
			}
			h.users[client.userID][client] = true
			h.connections++
			if h.metrics != nil {
				h.metrics.SetWebSocketConnections(h.connections)
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.users[client.userID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					h.connections--
					if h.metrics != nil {
						h.metrics.SetWebSocketConnections(h.connections)
					}

					if len(clients) == 0 {
						if cancel, ok := h.subscriptionCancels[client.userID]; ok {
							cancel()
							delete(h.subscriptionCancels, client.userID)
						}
						delete(h.users, client.userID)

						if err := h.presence.SetUserOffline(context.Background(), client.userID); err != nil {
							logger.Warn("Failed to mark user offline",
								zap.String("user_id", client.userID),
								zap.Error(err))
						}
					}
				}
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for client := range h.users[event.userID] {
				select {
				case client.send <- event.payload:
					if h.metrics != nil {
						h.metrics.RecordWebSocketMessage("call_event", "out")
					}
				default:
					// Slow consumer; drop the socket rather than block the hub.
					// Mutating under RLock is fine here: run() is the only
					// goroutine that writes hub state, the lock only fences
					// concurrent readers.
					close(client.send)
					delete(h.users[event.userID], client)
					h.connections--
					if h.metrics != nil {
						h.metrics.SetWebSocketConnections(h.connections)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToUser relays the user's Redis channel into the local broadcast
// loop while they have at least one open socket
func (h *EventsHub) subscribeToUser(ctx context.Context, userID string) {
	pubsub := h.redisClient.Subscribe(ctx, eventChannel(userID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		logger.Error("Failed to subscribe to event channel",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			h.broadcast <- &userEvent{userID: userID, payload: []byte(msg.Payload)}
		}
	}
}

// ServeWS upgrades the request and streams the caller's call events
func (h *EventsHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	userID := middleware.UserID(c)
	if userID == "" {
		<-h.semaphore
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := eventsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}

	client := &EventsClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump drains inbound frames; pongs double as presence heartbeats
func (c *EventsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		<-c.hub.semaphore
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		if err := c.hub.presence.RefreshPresence(context.Background(), c.userID); err != nil {
			logger.Debug("Failed to refresh presence",
				zap.String("user_id", c.userID),
				zap.Error(err))
		}
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID),
					zap.Error(err))
			}
			return
		}
	}
}

// writePump pushes queued events and keeps the connection alive with pings
func (c *EventsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
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
