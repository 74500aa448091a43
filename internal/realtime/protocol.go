package realtime

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const authorizeTimeout = 5 * time.Second

// Authorizer decides whether a user may join a conversation's room.
type Authorizer interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

func (c *Client) dispatch(ctx context.Context, in inbound) {
	switch in.Name {
	case EventUserConnected:
		c.announce(in.Data)
	case EventJoinConversation:
		c.join(ctx, in.Data)
	case EventLeaveConversation:
		c.leave(in.Data)
	case EventTyping, EventStopTyping:
		c.relayTyping(in)
	default:
		c.sendError(in.Name, "unknown event")
	}
}

func (c *Client) announce(data json.RawMessage) {
	var p announcePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		c.sendError(EventUserConnected, "id is required")
		return
	}
	if p.ID != c.identity.UserID {
		c.log.Warn("user_connected identity mismatch", zap.String("claimed", p.ID))
		c.sendError(EventUserConnected, "id does not match credential")
		return
	}
	c.hub.SetOnline(p.ID, c)
}

func (c *Client) join(ctx context.Context, data json.RawMessage) {
	id, err := parseConversationID(data)
	if err != nil {
		c.sendError(EventJoinConversation, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, authorizeTimeout)
	defer cancel()
	ok, err := c.authz.IsParticipant(ctx, id, c.identity.UserID)
	if err != nil {
		c.log.Error("authorize join", zap.String("conversation_id", id), zap.Error(err))
		c.sendError(EventJoinConversation, "could not join conversation")
		return
	}
	if !ok {
		c.sendError(EventJoinConversation, "conversation not found")
		return
	}

	c.hub.Join(c, id)
	c.Send(Event{Name: EventJoinedConversation, Data: JoinedPayload{ConversationID: id}})
}

func (c *Client) leave(data json.RawMessage) {
	id, err := parseConversationID(data)
	if err != nil {
		c.sendError(EventLeaveConversation, err.Error())
		return
	}
	c.hub.Leave(c, id)
}

// relayTyping forwards the payload untouched to the rest of the room. Only
// members of the room may signal in it.
func (c *Client) relayTyping(in inbound) {
	id, err := parseConversationID(in.Data)
	if err != nil {
		c.sendError(in.Name, err.Error())
		return
	}
	if !c.hub.IsMember(c, id) {
		return
	}
	c.hub.PublishExcept(id, Event{Name: in.Name, Data: in.Data}, c)
}

func (c *Client) sendError(event, msg string) {
	c.Send(Event{Name: EventError, Data: ErrorPayload{Event: event, Error: msg}})
}
