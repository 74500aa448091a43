// Package realtime tracks which users are online and which connections have
// joined which conversation, and fans events out to them over websockets.
package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// Event names on the wire.
const (
	EventUserConnected      = "user_connected"
	EventUserStatus         = "user_status"
	EventJoinConversation   = "join_conversation"
	EventJoinedConversation = "joined_conversation"
	EventLeaveConversation  = "leave_conversation"
	EventTyping             = "typing"
	EventStopTyping         = "stop_typing"
	EventNewMessage         = "new_message"
	EventError              = "error"
)

// Presence states carried by user_status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event is one frame in either direction: {"event": name, "data": payload}.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// inbound is an Event as read off the socket, payload still undecoded.
type inbound struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// StatusPayload is the data of a user_status event.
type StatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

// JoinedPayload acknowledges a join.
type JoinedPayload struct {
	ConversationID string `json:"conversationId"`
}

type announcePayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type typingPayload struct {
	ConversationID conversationID `json:"conversationId"`
}

// conversationID accepts a JSON string or number.
type conversationID string

func (c *conversationID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return errors.New("conversation id is required")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = conversationID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return errors.New("conversation id must be a string or integer")
	}
	*c = conversationID(n.String())
	return nil
}

// parseConversationID reads a bare id, or an object carrying conversationId.
func parseConversationID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var p typingPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", err
		}
		if p.ConversationID == "" {
			return "", errors.New("conversation id is required")
		}
		return string(p.ConversationID), nil
	}
	var id conversationID
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", err
	}
	if id == "" {
		return "", errors.New("conversation id is required")
	}
	return string(id), nil
}
