package realtime

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"supportdesk/api/internal/logging"
	"supportdesk/api/internal/rbac"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

var clientIDCounter atomic.Uint64

// Client is one WebSocket connection owned by an authenticated user.
type Client struct {
	id     uint64
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message
	pong   chan struct{}
	userID string
	role   rbac.Role
}

func (c *Client) wants(customerID string) bool {
	if isStaff(c.role) {
		return true
	}
	return customerID != "" && customerID == c.userID
}

// Serve upgrades the request and registers the connection for userID.
// allowOrigin is the configured CORS origin; "*" or empty allows any.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string, role rbac.Role, allowOrigin string) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowOrigin == "" || allowOrigin == "*" || origin == "" || origin == allowOrigin
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		lg := logging.Component("realtime")
		lg.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		id:     clientIDCounter.Add(1),
		hub:    h,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		pong:   make(chan struct{}, 1),
		userID: userID,
		role:   role,
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				lg := logging.Component("realtime")
				lg.Debug().Err(err).Msg("unexpected websocket close")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == MessageTypePing {
			// send is owned by the hub and may already be closed.
			select {
			case c.pong <- struct{}{}:
			default:
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(message); err != nil {
				return
			}

		case <-c.pong:
			if err := c.write(Message{Type: MessageTypePong}); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(message Message) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	payload, err := json.Marshal(message)
	if err != nil {
		lg := logging.Component("realtime")
		lg.Error().Err(err).Str("type", message.Type).Msg("encode websocket message")
		return nil
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}
