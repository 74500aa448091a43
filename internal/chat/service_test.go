package chat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/pairchat/internal/apperr"
	"github.com/PaulBabatuyi/pairchat/internal/auth"
	"github.com/PaulBabatuyi/pairchat/internal/data"
	"github.com/PaulBabatuyi/pairchat/internal/db"
	"github.com/PaulBabatuyi/pairchat/internal/media"
	"github.com/PaulBabatuyi/pairchat/internal/realtime"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

type published struct {
	conversationID string
	event          realtime.Event
}

type fakeHub struct {
	mu     sync.Mutex
	events []published
	online map[string]bool
}

func (f *fakeHub) Publish(conversationID string, ev realtime.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, published{conversationID, ev})
	return 1
}

func (f *fakeHub) IsOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakeHub) messages() []*data.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*data.Message
	for _, p := range f.events {
		if p.event.Name == realtime.EventNewMessage {
			out = append(out, p.event.Data.(*data.Message))
		}
	}
	return out
}

// failingStore fails every CreateMessage.
type failingStore struct {
	data.Store
}

func (failingStore) CreateMessage(context.Context, data.NewMessage) (*data.Message, error) {
	return nil, errors.New("disk full")
}

// disconnectingStore cancels the sender's request context while the insert
// is in flight, as a client dropping its connection would.
type disconnectingStore struct {
	data.Store
	cancel context.CancelFunc
}

func (s disconnectingStore) CreateMessage(ctx context.Context, in data.NewMessage) (*data.Message, error) {
	s.cancel()
	time.Sleep(20 * time.Millisecond)
	return s.Store.CreateMessage(ctx, in)
}

type fixture struct {
	svc    *Service
	store  data.Store
	hub    *fakeHub
	upload string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	sqlDB, err := db.OpenSQL(ctx, db.SQLite, filepath.Join(dir, "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, sqlDB.Migrate(ctx))

	files, err := media.NewStore(filepath.Join(dir, "uploads"), "http://chat.test", 1<<20)
	require.NoError(t, err)

	f := &fixture{
		store:  data.NewSQLStore(sqlDB),
		hub:    &fakeHub{online: map[string]bool{}},
		upload: filepath.Join(dir, "uploads"),
	}
	f.svc = New(f.store, auth.NewJWTManager("test-secret", time.Hour), f.hub, files, zaptest.NewLogger(t))
	return f
}

func (f *fixture) register(t *testing.T, email string) *Session {
	t.Helper()
	s, err := f.svc.Register(context.Background(), email, "secret1")
	require.NoError(t, err)
	return s
}

func fileHeader(t *testing.T, filename, contentType string, body []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	t.Cleanup(func() { _ = req.MultipartForm.RemoveAll() })
	return req.MultipartForm.File["file"][0]
}

func uploadedFiles(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.register(t, " A@X.com ")
	assert.Equal(t, "a@x.com", s.User.Email)
	assert.NotEmpty(t, s.Token)
	assert.True(t, s.ExpiresAt.After(time.Now()))

	_, err := f.svc.Register(ctx, "a@x.com", "another")
	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

	_, err = f.svc.Register(ctx, "b@x.com", "short")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.Register(ctx, "not-an-email", "secret1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	logged, err := f.svc.Login(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, s.User, logged.User)

	for _, tc := range []struct{ email, password string }{
		{"a@x.com", "wrong-password"},
		{"nobody@x.com", "secret1"},
	} {
		_, err := f.svc.Login(ctx, tc.email, tc.password)
		var ae *apperr.Error
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, apperr.KindAuth, ae.Kind)
		assert.Equal(t, "invalid credentials", ae.Message)
	}

	me, err := f.svc.Me(ctx, s.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", me.Email)
}

func TestListUsersCarriesPresence(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "a@x.com")
	b := f.register(t, "b@x.com")
	c := f.register(t, "c@x.com")
	f.hub.online[b.User.ID] = true

	users, err := f.svc.ListUsers(context.Background(), a.User.ID)
	require.NoError(t, err)
	assert.Equal(t, []UserStatus{
		{PublicUser: b.User, Online: true},
		{PublicUser: c.User, Online: false},
	}, users)
}

func TestFindOrCreateIsCommutativeAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@x.com")
	b := f.register(t, "b@x.com")

	first, err := f.svc.FindOrCreate(ctx, a.User.ID, "b@x.com")
	require.NoError(t, err)
	assert.Equal(t, a.User, first.UserA)
	assert.Equal(t, b.User, first.UserB)

	again, err := f.svc.FindOrCreate(ctx, a.User.ID, "B@x.com")
	require.NoError(t, err)
	reverse, err := f.svc.FindOrCreate(ctx, b.User.ID, "a@x.com")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.ID, reverse.ID)
	if diff := cmp.Diff(first, reverse); diff != "" {
		t.Fatalf("reverse lookup changed the conversation (-want +got):\n%s", diff)
	}

	list, err := f.svc.ListConversations(ctx, b.User.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFindOrCreateConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@x.com")
	b := f.register(t, "b@x.com")

	const n = 10
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			caller, other := a.User.ID, "b@x.com"
			if i%2 == 1 {
				caller, other = b.User.ID, "a@x.com"
			}
			d, err := f.svc.FindOrCreate(ctx, caller, other)
			if err != nil {
				t.Errorf("FindOrCreate: %v", err)
				return
			}
			ids[i] = d.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestFindOrCreateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@x.com")

	_, err := f.svc.FindOrCreate(ctx, a.User.ID, "ghost@x.com")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.FindOrCreate(ctx, a.User.ID, "a@x.com")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.FindOrCreate(ctx, a.User.ID, "  ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestSendTextPersistsThenPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@x.com")
	f.register(t, "b@x.com")
	conv, err := f.svc.FindOrCreate(ctx, a.User.ID, "b@x.com")
	require.NoError(t, err)

	msg, err := f.svc.SendText(ctx, a.User.ID, conv.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, data.TypeText, msg.Type)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, a.User.ID, msg.SenderID)

	pub := f.hub.messages()
	require.Len(t, pub, 1)
	assert.Equal(t, msg, pub[0])
	assert.Equal(t, conv.ID, f.hub.events[0].conversationID)

	history, err := f.svc.ListMessages(ctx, a.User.ID, conv.ID)
	require.NoError(t, err)
	if diff := cmp.Diff([]*data.Message{msg}, history); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestSendTextValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@x.com")
	f.register(t, "b@x.com")
	c := f.register(t, "c@x.com")
	conv, err := f.svc.FindOrCreate(ctx, a.User.ID, "b@x.com")
	require.NoError(t, err)

	_, err = f.svc.SendText(ctx, a.User.ID, conv.ID, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.SendText(ctx, a.User.ID, "not-a-number", "hi")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.SendText(ctx, a.User.ID, "424242", "hi")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.SendText(ctx, c.User.ID, conv.ID, "intruder")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = f.svc.ListMessages(ctx, c.User.ID, conv.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	assert.Empty(t, f.hub.messages())
}

func TestPersistFailurePublishesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@x.com")
	f.register(t, "b@x.com")
	conv, err := f.svc.FindOrCreate(ctx, a.User.ID, "b@x.com")
	require.NoError(t, err)

	f.svc.store = failingStore{Store: f.store}

	_, err = f.svc.SendText(ctx, a.User.ID, conv.ID, "hi")
	assert.True(t, apperr.Is(err, apperr.KindStorage), "got %v", err)

	_, err = f.svc.SendMedia(ctx, a.User.ID, conv.ID, fileHeader(t, "a.png", "image/png", []byte("png")), "image")
	assert.True(t, apperr.Is(err, apperr.KindStorage), "got %v", err)

	assert.Empty(t, f.hub.messages())
	assert.Empty(t, uploadedFiles(t, f.upload), "orphaned upload should be removed")
}

func TestSendTextAcceptsWhitespaceContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@x.com")
	f.register(t, "b@x.com")
	conv, err := f.svc.FindOrCreate(ctx, a.User.ID, "b@x.com")
	require.NoError(t, err)

	msg, err := f.svc.SendText(ctx, a.User.ID, conv.ID, "   ")
	require.NoError(t, err)
	assert.Equal(t, "   ", msg.Content)
	require.Len(t, f.hub.messages(), 1)
}

func TestSenderDisconnectDuringPersistStillDelivers(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "a@x.com")
	f.register(t, "b@x.com")
	conv, err := f.svc.FindOrCreate(context.Background(), a.User.ID, "b@x.com")
	require.NoError(t, err)

	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.store = disconnectingStore{Store: f.store, cancel: cancel}

	msg, err := f.svc.SendText(reqCtx, a.User.ID, conv.ID, "still here")
	require.NoError(t, err)
	require.Error(t, reqCtx.Err(), "request context should have been cancelled mid-persist")

	pub := f.hub.messages()
	require.Len(t, pub, 1)
	assert.Equal(t, msg, pub[0])

	history, err := f.store.ListMessagesForConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "still here", history[0].Content)
}

func TestSendMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@x.com")
	f.register(t, "b@x.com")
	conv, err := f.svc.FindOrCreate(ctx, a.User.ID, "b@x.com")
	require.NoError(t, err)

	msg, err := f.svc.SendMedia(ctx, a.User.ID, conv.ID, fileHeader(t, "voice.mp3", "audio/mpeg", []byte("id3")), "audio")
	require.NoError(t, err)
	assert.Equal(t, data.TypeAudio, msg.Type)
	assert.True(t, strings.HasPrefix(msg.Content, "http://chat.test/uploads/"), msg.Content)
	assert.True(t, strings.HasSuffix(msg.Content, ".mp3"), msg.Content)
	assert.Len(t, uploadedFiles(t, f.upload), 1)
	assert.Len(t, f.hub.messages(), 1)

	_, err = f.svc.SendMedia(ctx, a.User.ID, conv.ID, fileHeader(t, "x.png", "image/png", nil), "document")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.SendMedia(ctx, a.User.ID, conv.ID, nil, "IMAGE")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.SendMedia(ctx, a.User.ID, conv.ID, fileHeader(t, "x.exe", "application/x-msdownload", []byte("MZ")), "IMAGE")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Len(t, uploadedFiles(t, f.upload), 1)
}

func TestDeliveryOrderMatchesPersistOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@x.com")
	b := f.register(t, "b@x.com")
	conv, err := f.svc.FindOrCreate(ctx, a.User.ID, "b@x.com")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := a.User.ID
			if i%2 == 1 {
				sender = b.User.ID
			}
			if _, err := f.svc.SendText(ctx, sender, conv.ID, fmt.Sprintf("m%d", i)); err != nil {
				t.Errorf("SendText: %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := f.svc.ListMessages(ctx, a.User.ID, conv.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(history, f.hub.messages()); diff != "" {
		t.Fatalf("delivery order differs from persisted order (-history +delivered):\n%s", diff)
	}

	list, err := f.svc.ListConversations(ctx, a.User.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Messages, 1)
	assert.Equal(t, history[len(history)-1].ID, list[0].Messages[0].ID)
}

func TestIsParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@x.com")
	f.register(t, "b@x.com")
	c := f.register(t, "c@x.com")
	conv, err := f.svc.FindOrCreate(ctx, a.User.ID, "b@x.com")
	require.NoError(t, err)

	ok, err := f.svc.IsParticipant(ctx, conv.ID, a.User.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.IsParticipant(ctx, conv.ID, c.User.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.IsParticipant(ctx, "garbage", a.User.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUploadMany(t *testing.T) {
	f := newFixture(t)

	files, err := f.svc.UploadMany([]*multipart.FileHeader{
		fileHeader(t, "a.png", "image/png", []byte("a")),
		fileHeader(t, "b.gif", "image/gif", []byte("b")),
	})
	require.NoError(t, err)
	assert.Len(t, files, 2)
	assert.Len(t, uploadedFiles(t, f.upload), 2)

	_, err = f.svc.UploadMany([]*multipart.FileHeader{
		fileHeader(t, "c.png", "image/png", []byte("c")),
		fileHeader(t, "d.txt", "text/plain", []byte("d")),
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Len(t, uploadedFiles(t, f.upload), 2, "partial batch should be rolled back")

	var six []*multipart.FileHeader
	for i := 0; i < 6; i++ {
		six = append(six, fileHeader(t, "x.png", "image/png", []byte("x")))
	}
	_, err = f.svc.UploadMany(six)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.UploadMany(nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
