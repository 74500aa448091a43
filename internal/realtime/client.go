package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/PaulBabatuyi/pairchat/internal/auth"
	"github.com/PaulBabatuyi/pairchat/internal/config"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one websocket session. The token identity is fixed at upgrade;
// presence is only claimed by an explicit user_connected event.
type Client struct {
	id       string
	conn     *websocket.Conn
	hub      *Hub
	authz    Authorizer
	identity auth.Identity
	send     chan Event
	limiter  *rate.Limiter
	maxSize  int64
	// throttled is owned by the read pump.
	throttled bool
	log       *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, hub *Hub, authz Authorizer, identity auth.Identity, cfg config.SocketConfig, log *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:       id,
		conn:     conn,
		hub:      hub,
		authz:    authz,
		identity: identity,
		send:     make(chan Event, cfg.SendBuffer),
		limiter:  rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.EventBurst),
		maxSize:  cfg.MaxMessageSize,
		log:      log.With(zap.String("conn", id), zap.String("user_id", identity.UserID)),
		done:     make(chan struct{}),
	}
}

// ID implements Conn.
func (c *Client) ID() string { return c.id }

// Send implements Conn.
func (c *Client) Send(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// Close implements Conn. The write pump notices and closes the socket, which
// in turn ends the read pump.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Run registers the client and pumps frames until the connection ends.
func (c *Client) Run(ctx context.Context) {
	if !c.hub.Register(c) {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = c.conn.Close()
		return
	}
	c.log.Debug("websocket connected", zap.String("remote", c.conn.RemoteAddr().String()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	c.readPump(ctx)
	<-writerDone
	c.log.Debug("websocket disconnected")
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.maxSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("set read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		var in inbound
		err = json.Unmarshal(raw, &in)
		// leaving is in-memory and must never be lost to throttling
		if in.Name != EventLeaveConversation {
			if !c.limiter.Allow() {
				c.throttle(in.Name)
				continue
			}
			c.throttled = false
		}
		if err != nil || in.Name == "" {
			c.sendError("", "malformed event")
			continue
		}
		c.dispatch(ctx, in)
	}
}

// throttle drops an event over the rate limit. The client is told once per
// run of dropped events.
func (c *Client) throttle(event string) {
	c.log.Warn("event rate exceeded; dropping", zap.String("event", event))
	if !c.throttled {
		c.throttled = true
		c.sendError(event, "rate limit exceeded")
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded size limit", zap.Int64("limit", c.maxSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("client closed connection")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		c.log.Debug("connection closed", zap.Error(err))
	default:
		c.log.Info("websocket read error", zap.Error(err))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("websocket ping failed", zap.Error(err))
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
