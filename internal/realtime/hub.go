// Package realtime pushes domain events to browsers over WebSocket.
package realtime

import (
	"context"
	"sort"
	"sync"

	"supportdesk/api/internal/logging"
	"supportdesk/api/internal/metrics"
	"supportdesk/api/internal/rbac"
)

const (
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

// Message is the frame exchanged with clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// broadcast is a message plus its audience. Staff always receive it; a set
// customerID also reaches that customer.
type broadcast struct {
	message    Message
	customerID string
}

// Hub tracks connected clients and routes messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcast
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcast, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run routes messages until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			closed := h.closeAllClients()
			lg := logging.Component("realtime")
			lg.Info().Int("clients_closed", closed).Msg("websocket hub stopped")
			return ctx.Err()

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			lg := logging.Component("realtime")
			lg.Debug().
				Str("user_id", client.userID).
				Int("total_clients", total).
				Msg("websocket client connected")

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Publish queues an event. Staff receive everything; a customer only receives
// events about their own conversations, identified by customerID.
func (h *Hub) Publish(eventType, customerID string, data any) {
	msg := broadcast{message: Message{Type: eventType, Data: data}, customerID: customerID}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		lg := logging.Component("realtime")
		lg.Warn().Str("type", eventType).Msg("broadcast queue full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(msg broadcast) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.wants(msg.customerID) {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, client := range clients {
		select {
		case client.send <- msg.message:
		default:
			// Slow consumer.
			close(client.send)
			delete(h.clients, client)
			metrics.WebSocketClients.Dec()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		metrics.WebSocketClients.Dec()
	}
}

func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
		metrics.WebSocketClients.Dec()
	}
	return count
}

func isStaff(role rbac.Role) bool {
	return rbac.Can(role, rbac.ActionTriage)
}
