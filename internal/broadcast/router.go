// Package broadcast routes domain events to connected real-time clients.
//
// Delivery is fire-and-forget: nothing here returns an error to the
// caller, and a client that cannot keep up simply misses the event.
package broadcast

import (
	"encoding/json"

	"collab-notes-server/internal/websocket"
	"collab-notes-server/pkg/logger"
	"collab-notes-server/pkg/metrics"
)

type EventKind string

const (
	EventNoteCreated       EventKind = "NOTE_CREATED"
	EventNoteUpdated       EventKind = "NOTE_UPDATED"
	EventNoteDeleted       EventKind = "NOTE_DELETED"
	EventNoteUpdatedInRoom EventKind = "NOTE_UPDATED_IN_ROOM"
	// EventPresenceChanged goes out on the wire as NOTE_USERS.
	EventPresenceChanged EventKind = "NOTE_USERS"
)

// Event is the {text, data} payload of note events.
type Event struct {
	Text string      `json:"text"`
	Data interface{} `json:"data"`
}

// Broadcaster is what the mutation and presence paths depend on.
type Broadcaster interface {
	BroadcastAll(kind EventKind, payload interface{})
	BroadcastRoom(room string, kind EventKind, payload interface{})
}

// Hub delivers encoded frames. websocket.Manager implements it.
type Hub interface {
	SendAll(data []byte)
	SendRoom(room string, data []byte)
}

type Router struct {
	hub Hub
}

func NewRouter(hub Hub) *Router {
	return &Router{hub: hub}
}

func (r *Router) BroadcastAll(kind EventKind, payload interface{}) {
	data, ok := encode(kind, payload)
	if !ok {
		return
	}
	r.hub.SendAll(data)
	metrics.BroadcastsSent.WithLabelValues(string(kind), "all").Inc()
	logger.Debugf("broadcast %s to all clients", kind)
}

func (r *Router) BroadcastRoom(room string, kind EventKind, payload interface{}) {
	if room == "" {
		metrics.BroadcastsDropped.WithLabelValues("empty_room").Inc()
		return
	}
	data, ok := encode(kind, payload)
	if !ok {
		return
	}
	r.hub.SendRoom(room, data)
	metrics.BroadcastsSent.WithLabelValues(string(kind), "room").Inc()
	logger.Debugf("broadcast %s to room %s", kind, room)
}

func encode(kind EventKind, payload interface{}) ([]byte, bool) {
	msg, err := websocket.NewMessage(websocket.MessageType(kind), payload)
	if err != nil {
		metrics.BroadcastsDropped.WithLabelValues("encode").Inc()
		logger.Errorf("failed to encode %s event: %v", kind, err)
		return nil, false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		metrics.BroadcastsDropped.WithLabelValues("encode").Inc()
		logger.Errorf("failed to encode %s event: %v", kind, err)
		return nil, false
	}
	return data, true
}

// Nop discards every event.
type Nop struct{}

func (Nop) BroadcastAll(EventKind, interface{})          {}
func (Nop) BroadcastRoom(string, EventKind, interface{}) {}
