package chat

import (
	"context"
	"errors"

	"github.com/PaulBabatuyi/pairchat/internal/apperr"
	"github.com/PaulBabatuyi/pairchat/internal/data"
	"github.com/PaulBabatuyi/pairchat/internal/normalize"
	"go.uber.org/zap"
)

// FindOrCreate returns the conversation between userID and the owner of
// otherEmail, creating it on first use. Either participant calling it, in
// any order and any number of times, yields the same conversation.
func (s *Service) FindOrCreate(ctx context.Context, userID, otherEmail string) (*data.ConversationDetail, error) {
	otherEmail = normalize.Email(otherEmail)
	if otherEmail == "" {
		return nil, apperr.Validation("participantEmail is required")
	}

	me, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, data.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Storage("find user", err)
	}
	other, err := s.store.GetUserByEmail(ctx, otherEmail)
	if errors.Is(err, data.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, apperr.Storage("find user", err)
	}
	if other.ID == me.ID {
		return nil, apperr.Validation("cannot start a conversation with yourself")
	}

	conv, err := s.store.FindConversationByPair(ctx, me.ID, other.ID)
	switch {
	case err == nil:
	case errors.Is(err, data.ErrNotFound):
		conv, err = s.store.CreateConversation(ctx, me.ID, other.ID)
		if errors.Is(err, data.ErrDuplicate) {
			// lost the race to a concurrent creator
			conv, err = s.store.FindConversationByPair(ctx, me.ID, other.ID)
		}
		if err != nil {
			return nil, apperr.Storage("create conversation", err)
		}
		s.log.Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.String("user_a", conv.UserAID),
			zap.String("user_b", conv.UserBID))
	default:
		return nil, apperr.Storage("find conversation", err)
	}

	detail := &data.ConversationDetail{Conversation: *conv}
	for _, u := range []*data.User{me, other} {
		switch u.ID {
		case conv.UserAID:
			detail.UserA = u.Public()
		case conv.UserBID:
			detail.UserB = u.Public()
		}
	}
	return detail, nil
}

// ListConversations returns the caller's conversations, newest first, each
// with its latest message.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*data.ConversationSummary, error) {
	list, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Storage("list conversations", err)
	}
	return list, nil
}

// IsParticipant reports whether userID belongs to the conversation. Unknown
// or malformed ids are simply not joinable.
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	_, err := s.conversationFor(ctx, conversationID, userID)
	switch {
	case err == nil:
		return true, nil
	case apperr.Is(err, apperr.KindNotFound), apperr.Is(err, apperr.KindValidation):
		return false, nil
	default:
		return false, err
	}
}

// conversationFor loads a conversation the caller participates in. A
// conversation the caller is not part of is reported as not found.
func (s *Service) conversationFor(ctx context.Context, conversationID, userID string) (*data.Conversation, error) {
	if !s.store.ValidID(conversationID) {
		return nil, apperr.Validation("invalid conversation id")
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, data.ErrNotFound) {
		return nil, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return nil, apperr.Storage("find conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.NotFound("conversation not found")
	}
	return conv, nil
}
