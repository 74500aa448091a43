package chat

import (
	"context"
	"mime/multipart"
	"time"

	"github.com/PaulBabatuyi/pairchat/internal/apperr"
	"github.com/PaulBabatuyi/pairchat/internal/data"
	"github.com/PaulBabatuyi/pairchat/internal/media"
	"github.com/PaulBabatuyi/pairchat/internal/normalize"
	"github.com/PaulBabatuyi/pairchat/internal/realtime"
	"go.uber.org/zap"
)

const persistTimeout = 10 * time.Second

var mediaTypes = map[string]bool{
	data.TypeImage: true,
	data.TypeVideo: true,
	data.TypeAudio: true,
}

// ListMessages returns the full history of a conversation the caller is part
// of, oldest first.
func (s *Service) ListMessages(ctx context.Context, userID, conversationID string) ([]*data.Message, error) {
	if _, err := s.conversationFor(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessagesForConversation(ctx, conversationID)
	if err != nil {
		return nil, apperr.Storage("list messages", err)
	}
	return msgs, nil
}

// SendText persists a text message and then delivers it to the room.
func (s *Service) SendText(ctx context.Context, userID, conversationID, content string) (*data.Message, error) {
	if content == "" {
		return nil, apperr.Validation("content is required")
	}
	if _, err := s.conversationFor(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.deliver(ctx, data.NewMessage{
		ConversationID: conversationID,
		SenderID:       userID,
		Type:           data.TypeText,
		Content:        content,
	})
}

// SendMedia stores the file, persists a message whose content is the file's
// public URL, and delivers it. The file is removed if persisting fails.
func (s *Service) SendMedia(ctx context.Context, userID, conversationID string, fh *multipart.FileHeader, kind string) (*data.Message, error) {
	kind = normalize.MessageType(kind)
	if !mediaTypes[kind] {
		return nil, apperr.Validation("type must be one of IMAGE, VIDEO, AUDIO")
	}
	if fh == nil {
		return nil, apperr.Validation("no file received")
	}
	if _, err := s.conversationFor(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	file, err := s.media.Save(fh)
	if err != nil {
		return nil, err
	}
	msg, err := s.deliver(ctx, data.NewMessage{
		ConversationID: conversationID,
		SenderID:       userID,
		Type:           kind,
		Content:        file.URL,
	})
	if err != nil {
		if rerr := s.media.Remove(file.Filename); rerr != nil {
			s.log.Warn("remove orphaned upload", zap.String("file", file.Filename), zap.Error(rerr))
		}
		return nil, err
	}
	return msg, nil
}

// deliver is Persist then Publish. Nothing is published when persisting
// fails. Once started, both steps outlive the caller's context: a sender
// disconnecting mid-persist still gets its message stored and fanned out.
func (s *Service) deliver(ctx context.Context, in data.NewMessage) (*data.Message, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	unlock := s.lockConversation(in.ConversationID)
	defer unlock()

	msg, err := s.store.CreateMessage(ctx, in)
	if err != nil {
		return nil, apperr.Storage("create message", err)
	}
	n := s.hub.Publish(in.ConversationID, realtime.Event{Name: realtime.EventNewMessage, Data: msg})
	s.log.Debug("message delivered",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("message_id", msg.ID),
		zap.String("type", msg.Type),
		zap.Int("recipients", n))
	return msg, nil
}

// Upload stores one file outside any conversation.
func (s *Service) Upload(fh *multipart.FileHeader) (*media.File, error) {
	return s.media.Save(fh)
}

// MaxUploadFiles caps UploadMany.
const MaxUploadFiles = 5

// UploadMany stores up to MaxUploadFiles files. Either all are stored or
// none are.
func (s *Service) UploadMany(fhs []*multipart.FileHeader) ([]*media.File, error) {
	if len(fhs) == 0 {
		return nil, apperr.Validation("no file received")
	}
	if len(fhs) > MaxUploadFiles {
		return nil, apperr.Validationf("at most %d files per upload", MaxUploadFiles)
	}

	files := make([]*media.File, 0, len(fhs))
	for _, fh := range fhs {
		f, err := s.media.Save(fh)
		if err != nil {
			for _, done := range files {
				_ = s.media.Remove(done.Filename)
			}
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}
