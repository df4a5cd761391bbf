package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

// Inbound message types. Outbound note and presence events are defined
// by the broadcast package and travel in the same envelope.
const (
	TypeJoinNote  MessageType = "JOIN_NOTE"
	TypeLeaveNote MessageType = "LEAVE_NOTE"
	TypePing      MessageType = "ping"
	TypePong      MessageType = "pong"
	TypeError     MessageType = "error"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// RoomID reads a JOIN_NOTE or LEAVE_NOTE payload. Clients send the room id
// either as a bare JSON string or as {"noteId": "..."}.
func (m *Message) RoomID() (string, error) {
	var room string
	if err := m.UnmarshalPayload(&room); err == nil {
		return room, nil
	}

	var obj struct {
		NoteID string `json:"noteId"`
	}
	if err := m.UnmarshalPayload(&obj); err != nil {
		return "", err
	}
	return obj.NoteID, nil
}
