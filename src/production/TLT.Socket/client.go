package socket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxMessageSize = 4096

// Client is one websocket connection owned by an authenticated user.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	email string
	send  chan []byte

	closeOnce sync.Once
	rooms     map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn, email string) *Client {
	return &Client{
		hub:   h,
		conn:  conn,
		email: email,
		send:  make(chan []byte, h.cfg.SendBuffer),
		rooms: make(map[string]struct{}),
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump consumes inbound frames until the connection drops, handling
// device-room subscriptions and control requests.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		c.hub.logger.Logger.Info().Str("user", c.email).Msg("Socket disconnected")
	}()

	pongWait := c.hub.cfg.PingInterval * 2
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Logger.Warn().Err(err).Str("user", c.email).Msg("Socket read error")
			}
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Client) handleFrame(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.hub.logger.Logger.Debug().Str("user", c.email).Msg("Ignoring malformed socket frame")
		return
	}

	switch env.Event {
	case "SUBSCRIBE_DEVICE":
		var p struct {
			Device string `json:"device"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Device == "" {
			return
		}
		c.hub.join(c, DeviceRoom(p.Device))

	case "UNSUBSCRIBE_DEVICE":
		var p struct {
			Device string `json:"device"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Device == "" {
			return
		}
		c.hub.leave(c, DeviceRoom(p.Device))

	case "CONTROL_REQUEST":
		var p struct {
			Hub     string `json:"hub"`
			Command string `json:"command"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Hub == "" || p.Command == "" {
			return
		}
		if c.hub.commander == nil {
			return
		}
		if !c.hub.commander.SendCommand(p.Hub, []byte(p.Command)) {
			c.hub.logger.Logger.Warn().Str("user", c.email).Str("hub_id", p.Hub).Msg("Control command not delivered, broker disconnected")
		}

	default:
		c.hub.logger.Logger.Debug().Str("user", c.email).Str("event", env.Event).Msg("Unknown socket event")
	}
}

// writePump drains the send buffer and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
