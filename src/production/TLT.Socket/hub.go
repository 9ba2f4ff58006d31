// Package socket is the realtime fan-out layer: a gorilla/websocket hub with
// JWT-authenticated connections grouped into rooms. Every connection joins
// its owner's user:{email} room; clients may additionally subscribe to
// device:{mac} rooms for live telemetry.
package socket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	config "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Config"
	logger "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Logger"
)

// Commander publishes a control payload to a hub's command topic. Implemented
// by the MQTT dispatcher.
type Commander interface {
	SendCommand(hubID string, payload []byte) bool
}

// envelope is the wire frame for every event in both directions.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hub tracks connected clients by room and fans events out to them.
type Hub struct {
	cfg       *config.SocketConfig
	commander Commander
	logger    *logger.Logger
	upgrader  websocket.Upgrader

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub(cfg *config.SocketConfig, commander Commander, log *logger.Logger) *Hub {
	return &Hub{
		cfg:       cfg,
		commander: commander,
		logger:    log.WithComponent("socket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]map[*Client]struct{}),
	}
}

// SetCommander wires the control-path publisher once the MQTT client exists.
func (h *Hub) SetCommander(c Commander) {
	h.commander = c
}

func userRoom(email string) string { return "user:" + email }

// DeviceRoom names the room carrying one device's live telemetry.
func DeviceRoom(mac string) string { return "device:" + mac }

// ServeWS authenticates and upgrades one websocket request. The handshake
// token comes from the token query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	email, err := verifyToken(h.cfg.JWTSecret, token)
	if err != nil {
		h.logger.Logger.Warn().Err(err).Msg("Socket handshake rejected")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Logger.Warn().Err(err).Msg("Socket upgrade failed")
		return
	}

	client := newClient(h, conn, email)
	h.join(client, userRoom(email))
	h.logger.Logger.Info().Str("user", email).Msg("Socket connected")

	go client.writePump()
	go client.readPump()
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()
	c.closeSend()
}

// BroadcastToUser delivers an event to every socket the user has open. No-op
// when none are.
func (h *Hub) BroadcastToUser(email, event string, payload interface{}) {
	h.BroadcastToRoom(userRoom(email), event, payload)
}

// BroadcastToRoom delivers an event to every member of a room. Slow
// consumers whose send buffer is full have the frame dropped rather than
// stalling the rest of the room.
func (h *Hub) BroadcastToRoom(room, event string, payload interface{}) {
	frame, err := marshalEnvelope(event, payload)
	if err != nil {
		h.logger.Logger.Error().Err(err).Str("event", event).Msg("Failed to encode socket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		select {
		case c.send <- frame:
		default:
			h.logger.Logger.Warn().Str("user", c.email).Str("room", room).Msg("Dropping frame for slow socket")
		}
	}
}

// RoomSize reports the number of sockets in a room. Used by readiness
// reporting and tests.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func marshalEnvelope(event string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Payload: raw})
}
