package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verso/internal/interfaces"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope for every message pushed to clients.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler streams job lifecycle and progress events to connected
// clients. Progress events fire per sentence, so they pass through a rate
// limiter before broadcast; lifecycle events are never throttled.
type WebSocketHandler struct {
	logger            arbor.ILogger
	clients           map[*websocket.Conn]bool
	clientMutex       map[*websocket.Conn]*sync.Mutex
	mu                sync.RWMutex
	eventService      interfaces.EventService
	progressThrottler *rate.Limiter
}

// NewWebSocketHandler creates the handler and subscribes it to the job
// event bus. progressInterval bounds the broadcast rate of job_progress
// events; zero disables throttling.
func NewWebSocketHandler(eventService interfaces.EventService, progressInterval time.Duration, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:       logger,
		clients:      make(map[*websocket.Conn]bool),
		clientMutex:  make(map[*websocket.Conn]*sync.Mutex),
		eventService: eventService,
	}
	if progressInterval > 0 {
		h.progressThrottler = rate.NewLimiter(rate.Every(progressInterval), 1)
	}
	if eventService != nil {
		h.subscribeToJobEvents()
	}
	return h
}

// HandleWebSocket upgrades the connection and keeps it registered until
// the client disconnects.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read messages from client (keep connection alive)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast sends one message to every connected client. Writes are
// serialized per connection; a failed write only logs, the read loop
// notices the dead connection and unregisters it.
func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		}
	}
}

// subscribeToJobEvents wires the handler onto the event bus.
func (h *WebSocketHandler) subscribeToJobEvents() {
	h.eventService.Subscribe(interfaces.EventJobSubmitted, func(ctx context.Context, event interfaces.Event) error {
		jobID, ok := event.Payload.(string)
		if !ok {
			h.logger.Warn().Msg("Invalid job submitted event payload type")
			return nil
		}
		h.broadcast(WSMessage{
			Type:    string(interfaces.EventJobSubmitted),
			Payload: map[string]interface{}{"job_id": jobID},
		})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventJobStatusChange, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid status change event payload type")
			return nil
		}
		h.broadcast(WSMessage{
			Type: string(interfaces.EventJobStatusChange),
			Payload: map[string]interface{}{
				"job_id": getString(payload, "job_id"),
				"status": getString(payload, "status"),
			},
		})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventJobProgress, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			h.logger.Warn().Msg("Invalid job progress event payload type")
			return nil
		}
		// Throttle progress events to prevent WebSocket flooding
		if h.progressThrottler != nil && !h.progressThrottler.Allow() {
			return nil
		}
		h.broadcast(WSMessage{
			Type:    string(interfaces.EventJobProgress),
			Payload: payload,
		})
		return nil
	})

	h.eventService.Subscribe(interfaces.EventJobDeleted, func(ctx context.Context, event interfaces.Event) error {
		jobID, ok := event.Payload.(string)
		if !ok {
			h.logger.Warn().Msg("Invalid job deleted event payload type")
			return nil
		}
		h.broadcast(WSMessage{
			Type:    string(interfaces.EventJobDeleted),
			Payload: map[string]interface{}{"job_id": jobID},
		})
		return nil
	})
}

// getString safely extracts a string value from a payload map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
