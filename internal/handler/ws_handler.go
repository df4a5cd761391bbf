package handler

import (
	"errors"
	"fmt"
	"net/http"

	"collab-notes-server/internal/broadcast"
	"collab-notes-server/internal/middleware"
	"collab-notes-server/internal/presence"
	"collab-notes-server/internal/service"
	"collab-notes-server/internal/websocket"
	"collab-notes-server/pkg/logger"
	"collab-notes-server/pkg/metrics"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	manager  *websocket.Manager
	resolver middleware.IdentityResolver
	upgrader ws.Upgrader
}

type WebSocketOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	// AllowedOrigins is a comma separated list; "*" allows any origin.
	AllowedOrigins  string
}

func NewWebSocketHandler(manager *websocket.Manager, resolver middleware.IdentityResolver, opts WebSocketOptions) *WebSocketHandler {
	allowOrigin := middleware.AllowOrigin(opts.AllowedOrigins)

	return &WebSocketHandler{
		manager:  manager,
		resolver: resolver,
		upgrader: ws.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowOrigin(origin) {
					return true
				}
				logger.Warnf("[WebSocket] rejected origin %q from %s", origin, r.RemoteAddr)
				return false
			},
		},
	}
}

// HandleConnection authenticates the handshake before upgrading. The token
// comes from the token query parameter or a bearer Authorization header.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(r.Header.Get("Authorization"))
	}

	if token == "" {
		logger.Warnf("[WebSocket] missing authorization token from %s", r.RemoteAddr)
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	identity, err := h.resolver.Resolve(r.Context(), token)
	if err != nil {
		var aerr *service.AuthenticationError
		if errors.As(err, &aerr) {
			logger.Warnf("[WebSocket] token rejected: %v", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		logger.Errorf("[WebSocket] failed to resolve identity: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("[WebSocket] failed to upgrade connection: %v", err)
		return
	}

	client := websocket.NewClient(uuid.New().String(), identity.ID, identity.Username, identity.Name, conn, h.manager)

	select {
	case h.manager.Register <- client:
	case <-h.manager.Done():
		conn.Close()
		return
	}
	logger.Debugf("[WebSocket] connection %s opened for %s", client.ID, identity.Username)

	go client.WritePump()
	go client.ReadPump()
}

// PresenceHandler drives the per-connection room state: JOIN_NOTE and
// LEAVE_NOTE move a connection in and out of rooms, and every change is
// announced to the room as NOTE_USERS. It runs on the manager's event
// loop, so calls for different connections never interleave.
type PresenceHandler struct {
	manager     *websocket.Manager
	registry    *presence.Registry
	broadcaster broadcast.Broadcaster
}

func NewPresenceHandler(manager *websocket.Manager, registry *presence.Registry, broadcaster broadcast.Broadcaster) *PresenceHandler {
	return &PresenceHandler{
		manager:     manager,
		registry:    registry,
		broadcaster: broadcaster,
	}
}

func (h *PresenceHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeJoinNote:
		room, err := roomOf(msg)
		if err != nil {
			return h.reject(client, err)
		}
		h.join(client, room)

	case websocket.TypeLeaveNote:
		room, err := roomOf(msg)
		if err != nil {
			return h.reject(client, err)
		}
		h.leave(client, room)

	case websocket.TypePing:
		return h.handlePing(client)

	default:
		logger.Debugf("unknown message type %q from %s", msg.Type, client.ID)
	}

	return nil
}

func roomOf(msg *websocket.Message) (string, error) {
	room, err := msg.RoomID()
	if err != nil {
		return "", fmt.Errorf("malformed %s payload: %w", msg.Type, err)
	}
	if room == "" {
		return "", fmt.Errorf("%s without a note id", msg.Type)
	}
	return room, nil
}

// join subscribes first so the joiner receives the refreshed list.
func (h *PresenceHandler) join(client *websocket.Client, room string) {
	if !h.manager.JoinRoom(client, room) {
		return
	}
	members := h.registry.Join(room, client.Username)
	h.broadcaster.BroadcastRoom(room, broadcast.EventPresenceChanged, members)
	h.recordRooms()
}

// leave unsubscribes first so the leaver does not receive the list. The
// user stays present while another of their connections is still in room;
// the room still gets the (unchanged) list.
func (h *PresenceHandler) leave(client *websocket.Client, room string) {
	h.manager.LeaveRoom(client, room)

	var members []string
	if h.manager.RoomHasUser(room, client.UserID) {
		members = h.registry.Members(room)
	} else {
		members = h.registry.Leave(room, client.Username)
	}
	h.broadcaster.BroadcastRoom(room, broadcast.EventPresenceChanged, members)
	h.recordRooms()
}

// HandleDisconnect runs after the manager dropped the connection from all
// of its rooms. Each room the user no longer occupies gets one update.
func (h *PresenceHandler) HandleDisconnect(client *websocket.Client) {
	var touched map[string][]string

	if h.manager.GetUserConnections(client.UserID) == 0 {
		touched = h.registry.RemoveEverywhere(client.Username)
	} else {
		touched = make(map[string][]string)
		for _, room := range h.registry.Rooms() {
			if !contains(h.registry.Members(room), client.Username) || h.manager.RoomHasUser(room, client.UserID) {
				continue
			}
			touched[room] = h.registry.Leave(room, client.Username)
		}
	}

	for room, members := range touched {
		h.broadcaster.BroadcastRoom(room, broadcast.EventPresenceChanged, members)
	}
	h.recordRooms()
	logger.Debugf("connection %s closed, presence updated in %d rooms", client.ID, len(touched))
}

// reject tells the client why its message was dropped and hands the error
// back to the manager for logging.
func (h *PresenceHandler) reject(client *websocket.Client, err error) error {
	frame, ferr := websocket.NewMessage(websocket.TypeError, websocket.ErrorPayload{Error: err.Error()})
	if ferr != nil {
		return err
	}
	if serr := h.manager.SendToClient(client.ID, frame); serr != nil {
		logger.Warnf("failed to send error frame to %s: %v", client.ID, serr)
	}
	return err
}

func (h *PresenceHandler) handlePing(client *websocket.Client) error {
	pong, err := websocket.NewMessage(websocket.TypePong, nil)
	if err != nil {
		return err
	}
	return h.manager.SendToClient(client.ID, pong)
}

func (h *PresenceHandler) recordRooms() {
	metrics.PresenceRooms.Set(float64(len(h.registry.Rooms())))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
