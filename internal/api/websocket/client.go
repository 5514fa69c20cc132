package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSynthCore/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message after connecting
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// bench network; tokens are checked in the first message
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	logger     *zap.Logger
	remoteAddr string
	userAgent  string

	authenticated bool
	permissions   []auth.Permission

	filterMu sync.RWMutex
	// nil receives every event type
	filter map[MessageType]bool
}

func (c *Client) wants(t MessageType) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return c.filter == nil || c.filter[t]
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	registered := false
	defer func() {
		if registered {
			c.hub.unregisterClient(c)
		} else {
			// never shared with the hub
			close(c.send)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	for {
		var req clientRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr))
			}
			return
		}

		// First message MUST be authentication
		if !c.authenticated {
			if req.Type != requestAuth {
				c.sendDirect(NewMessage(MessageTypeAuthFailed, reasonData{"First message must be authentication"}))
				return
			}
			if req.Token == "" {
				c.sendDirect(NewMessage(MessageTypeAuthFailed, reasonData{"Missing token in auth message"}))
				return
			}

			permissions, err := c.hub.validator.ValidateToken(req.Token, c.remoteAddr, c.userAgent)
			if err != nil {
				c.logger.Warn("WebSocket authentication failed",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr))
				c.sendDirect(NewMessage(MessageTypeAuthFailed, reasonData{"Invalid or expired token"}))
				return
			}

			c.authenticated = true
			c.permissions = permissions
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			c.conn.SetPongHandler(func(string) error {
				return c.conn.SetReadDeadline(time.Now().Add(pongWait))
			})

			names := make([]string, len(permissions))
			for i, p := range permissions {
				names[i] = string(p)
			}
			c.sendDirect(NewMessage(MessageTypeAuthSuccess, authSuccessData{Permissions: names}))
			c.logger.Info("WebSocket client authenticated",
				zap.String("remote_addr", c.remoteAddr),
				zap.Strings("permissions", names))

			// only authenticated clients receive broadcasts
			if !c.hub.registerClient(c) {
				return
			}
			registered = true
			continue
		}

		c.handleMessage(req)
	}
}

// sendDirect queues a message before the client is shared with the hub.
func (c *Client) sendDirect(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}
	c.send <- data
}

func (c *Client) handleMessage(req clientRequest) {
	switch req.Type {
	case requestSubscribe:
		var filter map[MessageType]bool
		if len(req.Events) > 0 {
			filter = make(map[MessageType]bool, len(req.Events))
			for _, e := range req.Events {
				filter[MessageType(e)] = true
			}
		}
		c.filterMu.Lock()
		c.filter = filter
		c.filterMu.Unlock()

		c.hub.reply(c, NewMessage(MessageTypeSubscribed, subscribedData{Events: req.Events}))

	case requestStatus:
		c.hub.reply(c, NewMessage(MessageTypeSystemStatus, c.hub.status()))

	default:
		c.logger.Debug("Unknown client message",
			zap.String("remote_addr", c.remoteAddr),
			zap.String("type", req.Type))
		c.hub.reply(c, NewMessage(MessageTypeError, reasonData{"unknown message type: " + req.Type}))
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one JSON document per frame
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

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		logger:     hub.logger,
		remoteAddr: conn.RemoteAddr().String(),
		userAgent:  r.UserAgent(),
	}

	go client.writePump()
	go client.readPump()
}
