package realtime

import (
	"encoding/json"
	"fmt"
)

// MessageType is the "type" discriminator of realtime messages.
type MessageType string

const (
	MessageTypeDuelRequest MessageType = "duel_request"
	MessageTypeDuelResult  MessageType = "duel_result"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeUnknown     MessageType = ""
)

// Message is one decoded inbound frame. Raw keeps the frame verbatim.
type Message struct {
	Type MessageType
	Raw  json.RawMessage
}

// DuelEvent is handed from the receive loop to the forwarder.
type DuelEvent struct {
	Tag     string
	Payload json.RawMessage
}

var pongFrame = []byte(`{"type":"pong"}`)

// ParseMessage decodes a frame. Frames that are not JSON objects or carry no
// "type" string are errors; unrecognized types decode as MessageTypeUnknown.
func ParseMessage(data []byte) (Message, error) {
	var envelope struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if envelope.Type == nil {
		return Message{}, fmt.Errorf("message has no type")
	}

	msg := Message{Raw: json.RawMessage(data)}
	switch t := MessageType(*envelope.Type); t {
	case MessageTypeDuelRequest, MessageTypeDuelResult, MessageTypePing, MessageTypePong:
		msg.Type = t
	default:
		msg.Type = MessageTypeUnknown
	}
	return msg, nil
}

// IsDuelEvent reports whether the message is forwarded to duel observers.
func (m Message) IsDuelEvent() bool {
	return m.Type == MessageTypeDuelRequest || m.Type == MessageTypeDuelResult
}
