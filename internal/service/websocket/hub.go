package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"crowdcounter/internal/logger"
	"crowdcounter/internal/service/metrics"

	"github.com/gorilla/websocket"
)

// broadcastBuffer bounds queued progress events. Producers never block on it.
const broadcastBuffer = 64

type registration struct {
	conn *websocket.Conn
	user string
}

// outbound is an encoded event addressed to one user's viewers.
type outbound struct {
	user string
	data []byte
}

// HubService fans scan progress events out to the viewers of the user who
// started the scan.
type HubService struct {
	clients    map[*websocket.Conn]string
	broadcast  chan outbound
	register   chan registration
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	mutex      sync.RWMutex
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewHubService(logger *logger.Logger, metrics *metrics.Metrics) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan outbound, broadcastBuffer),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    metrics,
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes all
// clients. Register and Unregister return immediately once Run has exited.
func (h *HubService) Run(ctx context.Context) error {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil

		case reg := <-h.register:
			h.mutex.Lock()
			h.clients[reg.conn] = reg.user
			total := len(h.clients)
			h.mutex.Unlock()
			h.metrics.IncrementWebSocketConnections()
			h.logger.Info("Viewer connected for %s. Total: %d", reg.user, total)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.metrics.DecrementWebSocketConnections()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", total)

		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

func (h *HubService) send(message outbound) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client, user := range h.clients {
		if user != message.user {
			continue
		}
		if err := client.WriteMessage(websocket.TextMessage, message.data); err != nil {
			h.logger.Error("Error sending message: %v", err)
			delete(h.clients, client)
			client.Close()
			h.metrics.DecrementWebSocketConnections()
			continue
		}
		h.metrics.IncrementWebSocketMessages()
	}
}

func (h *HubService) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
		h.metrics.DecrementWebSocketConnections()
	}
}

// Register adds a viewer for user. After shutdown the connection is closed
// instead.
func (h *HubService) Register(client *websocket.Conn, user string) {
	select {
	case h.register <- registration{conn: client, user: user}:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues v as a JSON text message for the viewers of user. Events
// without a user reach nobody. When the queue is full the event is dropped so
// analysis never waits on slow viewers.
func (h *HubService) Publish(user string, v interface{}) {
	if user == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Error encoding broadcast: %v", err)
		return
	}
	select {
	case h.broadcast <- outbound{user: user, data: data}:
	default:
		h.metrics.IncrementWebSocketDropped()
	}
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
