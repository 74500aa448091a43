package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/PaulBabatuyi/pairchat/internal/db"
	"github.com/PaulBabatuyi/pairchat/internal/normalize"
)

// SQLStore implements the user, conversation and message stores on top of
// PostgreSQL or SQLite. Identifiers are integer keys rendered as decimal
// strings.
type SQLStore struct {
	sql *db.SQL
}

// NewSQLStore returns a SQLStore over a migrated database.
func NewSQLStore(s *db.SQL) *SQLStore {
	return &SQLStore{sql: s}
}

func parseID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	return n, err == nil && n > 0
}

func formatID(n int64) string {
	return strconv.FormatInt(n, 10)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.sql.DB.QueryRowContext(ctx, s.sql.Rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.sql.DB.QueryContext(ctx, s.sql.Rebind(query), args...)
}

// ValidID reports whether id is a positive integer.
func (s *SQLStore) ValidID(id string) bool {
	_, ok := parseID(id)
	return ok
}

// CreateUser inserts a user; a taken email yields ErrDuplicate.
func (s *SQLStore) CreateUser(ctx context.Context, email, hashedPassword string) (*User, error) {
	ts := now()
	u := &User{Email: normalize.Email(email), Password: hashedPassword, CreatedAt: ts, UpdatedAt: ts}

	var id int64
	err := s.queryRow(ctx,
		`INSERT INTO users (email, password, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (email) DO NOTHING RETURNING id`,
		u.Email, u.Password, u.CreatedAt, u.UpdatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	u.ID = formatID(id)
	return u, nil
}

const userColumns = `id, email, password, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u  User
		id int64
	)
	if err := row.Scan(&id, &u.Email, &u.Password, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.ID = formatID(id)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// GetUserByEmail finds a user by email.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, normalize.Email(email)))
	return oneUser(u, err)
}

// GetUserByID finds a user by id.
func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	n, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, n))
	return oneUser(u, err)
}

func oneUser(u *User, err error) (*User, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// ListUsersExcept returns every user but id, ordered by email.
func (s *SQLStore) ListUsersExcept(ctx context.Context, id string) ([]*User, error) {
	n, _ := parseID(id)
	rows, err := s.query(ctx, `SELECT `+userColumns+` FROM users WHERE id <> ? ORDER BY email`, n)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const conversationColumns = `id, user_a_id, user_b_id, created_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var (
		c          Conversation
		id, ua, ub int64
	)
	if err := row.Scan(&id, &ua, &ub, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.ID, c.UserAID, c.UserBID = formatID(id), formatID(ua), formatID(ub)
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func oneConversation(c *Conversation, err error) (*Conversation, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return c, nil
}

// FindConversationByPair returns the conversation between a and b in either
// stored ordering.
func (s *SQLStore) FindConversationByPair(ctx context.Context, a, b string) (*Conversation, error) {
	c, err := scanConversation(s.queryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE pair_key = ?`, PairKey(a, b)))
	return oneConversation(c, err)
}

// GetConversation finds a conversation by id.
func (s *SQLStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	n, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}
	c, err := scanConversation(s.queryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, n))
	return oneConversation(c, err)
}

// CreateConversation inserts the conversation userA -> userB, or returns
// ErrDuplicate when the unordered pair already has one.
func (s *SQLStore) CreateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	a, okA := parseID(userA)
	b, okB := parseID(userB)
	if !okA || !okB {
		return nil, ErrNotFound
	}

	c := &Conversation{UserAID: userA, UserBID: userB, CreatedAt: now()}
	var id int64
	err := s.queryRow(ctx,
		`INSERT INTO conversations (user_a_id, user_b_id, pair_key, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (pair_key) DO NOTHING RETURNING id`,
		a, b, PairKey(userA, userB), c.CreatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	c.ID = formatID(id)
	return c, nil
}

// ListConversationsForUser returns the conversations where userID is either
// participant, newest first, each with its latest message only.
func (s *SQLStore) ListConversationsForUser(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	uid, ok := parseID(userID)
	if !ok {
		return []*ConversationSummary{}, nil
	}

	rows, err := s.query(ctx, `
		SELECT c.id, c.user_a_id, c.user_b_id, c.created_at,
		       ua.email, ub.email,
		       m.id, m.sender_id, m.type, m.content, m.created_at
		FROM conversations c
		JOIN users ua ON ua.id = c.user_a_id
		JOIN users ub ON ub.id = c.user_b_id
		LEFT JOIN messages m ON m.id = (
			SELECT mm.id FROM messages mm
			WHERE mm.conversation_id = c.id
			ORDER BY mm.created_at DESC, mm.id DESC
			LIMIT 1
		)
		WHERE c.user_a_id = ? OR c.user_b_id = ?
		ORDER BY c.created_at DESC, c.id DESC`, uid, uid)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []*ConversationSummary{}
	for rows.Next() {
		var (
			id, ua, ub     int64
			createdAt      time.Time
			emailA, emailB string
			msgID, sender  sql.NullInt64
			msgType, body  sql.NullString
			msgAt          sql.NullTime
		)
		if err := rows.Scan(&id, &ua, &ub, &createdAt, &emailA, &emailB,
			&msgID, &sender, &msgType, &body, &msgAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}

		cs := &ConversationSummary{
			ConversationDetail: ConversationDetail{
				Conversation: Conversation{
					ID:        formatID(id),
					UserAID:   formatID(ua),
					UserBID:   formatID(ub),
					CreatedAt: createdAt.UTC(),
				},
				UserA: PublicUser{ID: formatID(ua), Email: emailA},
				UserB: PublicUser{ID: formatID(ub), Email: emailB},
			},
			Messages: make([]*Message, 0, 1),
		}
		if msgID.Valid {
			cs.Messages = append(cs.Messages, &Message{
				ID:             formatID(msgID.Int64),
				ConversationID: cs.ID,
				SenderID:       formatID(sender.Int64),
				Type:           msgType.String,
				Content:        body.String,
				CreatedAt:      msgAt.Time.UTC(),
			})
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// CreateMessage inserts a message and returns the stored record.
func (s *SQLStore) CreateMessage(ctx context.Context, in NewMessage) (*Message, error) {
	cid, okC := parseID(in.ConversationID)
	sid, okS := parseID(in.SenderID)
	if !okC || !okS {
		return nil, ErrNotFound
	}

	m := &Message{
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Type:           in.Type,
		Content:        in.Content,
		CreatedAt:      now(),
	}
	var id int64
	err := s.queryRow(ctx,
		`INSERT INTO messages (conversation_id, sender_id, type, content, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		cid, sid, m.Type, m.Content, m.CreatedAt,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	m.ID = formatID(id)
	return m, nil
}

// ListMessagesForConversation returns the full history of a conversation in
// ascending creation order, ties broken by id.
func (s *SQLStore) ListMessagesForConversation(ctx context.Context, conversationID string) ([]*Message, error) {
	cid, ok := parseID(conversationID)
	if !ok {
		return []*Message{}, nil
	}

	rows, err := s.query(ctx,
		`SELECT id, sender_id, type, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`, cid)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		var (
			m          Message
			id, sender int64
		)
		if err := rows.Scan(&id, &sender, &m.Type, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ID, m.SenderID, m.ConversationID = formatID(id), formatID(sender), conversationID
		m.CreatedAt = m.CreatedAt.UTC()
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}
