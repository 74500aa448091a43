// Package chat implements accounts, conversations and message ingress on top
// of the persistence store and the realtime hub.
package chat

import (
	"hash/fnv"
	"mime/multipart"
	"sync"
	"time"

	"github.com/PaulBabatuyi/pairchat/internal/data"
	"github.com/PaulBabatuyi/pairchat/internal/media"
	"github.com/PaulBabatuyi/pairchat/internal/realtime"
	"go.uber.org/zap"
)

// Broadcaster is the slice of the realtime hub the service uses.
type Broadcaster interface {
	Publish(conversationID string, ev realtime.Event) int
	IsOnline(userID string) bool
}

// TokenIssuer mints credentials for authenticated users.
type TokenIssuer interface {
	GenerateToken(userID, email string) (string, time.Time, error)
}

// MediaStore persists uploaded files.
type MediaStore interface {
	Save(fh *multipart.FileHeader) (*media.File, error)
	Remove(filename string) error
}

const lockStripes = 64

// Service is safe for concurrent use.
type Service struct {
	store  data.Store
	tokens TokenIssuer
	hub    Broadcaster
	media  MediaStore
	log    *zap.Logger

	// persist and publish for one conversation run under the same stripe,
	// so delivery order matches persist order
	stripes [lockStripes]sync.Mutex
}

// New wires a Service.
func New(store data.Store, tokens TokenIssuer, hub Broadcaster, files MediaStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, tokens: tokens, hub: hub, media: files, log: log}
}

func (s *Service) lockConversation(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &s.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
