package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/shobu13/kindly-kappa/internal/events"
	"github.com/shobu13/kindly-kappa/internal/protocol"
	"github.com/shobu13/kindly-kappa/internal/ratelimit"
	"github.com/shobu13/kindly-kappa/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBuffer     = 512
)

var (
	errClientClosed = errors.New("client closed")
	errSlowClient   = errors.New("client send buffer full")
)

// Client is the websocket end of one session. Other goroutines hand it
// responses through Send; only writePump touches the connection for writing.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	closing []byte

	session *room.Session
	handler *events.Handler
	limiter *ratelimit.Limiter
	remote  string
}

func newClient(conn *websocket.Conn, service *events.Service, limiter *ratelimit.Limiter, remote string) *Client {
	c := &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: limiter,
		remote:  remote,
	}
	c.session = room.NewSession(c)
	c.handler = service.NewHandler(c.session)
	return c
}

// Send queues resp as a text frame. It never blocks: a client whose buffer is
// full misses the event.
func (c *Client) Send(resp protocol.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return errSlowClient
	}
}

// Ends the connection with the given close code. The first call wins.
func (c *Client) shutdown(code int, text string) {
	c.once.Do(func() {
		c.closing = websocket.FormatCloseMessage(code, text)
		close(c.done)
	})
}

func (c *Client) readPump(ctx context.Context) {
	code, text := websocket.CloseNormalClosure, ""
	defer func() {
		c.handler.Leave(ctx)
		c.shutdown(code, text)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				glog.Warningf("[ws] read from %s (%s): %v", c.session.ID, c.remote, err)
			}
			return
		}

		switch c.limiter.Check() {
		case ratelimit.Drop:
			if n := c.limiter.Violations(); n%100 == 1 {
				glog.Warningf("[ws] rate limit exceeded by %s in room %q (violation #%d)", c.session.ID, c.handler.RoomCode(), n)
			}
			continue
		case ratelimit.Disconnect:
			glog.Warningf("[ws] disconnecting %s after %d rate limit violations", c.session.ID, c.limiter.Violations())
			code, text = websocket.ClosePolicyViolation, "rate limit exceeded"
			return
		}

		if err := c.handler.Handle(ctx, message); err != nil {
			var perr *protocol.Error
			if errors.As(err, &perr) {
				code, text = int(perr.Code), perr.Message
			}
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ctx.Done():
			c.shutdown(websocket.CloseGoingAway, "server shutting down")
			c.flush()
			return

		case <-c.done:
			c.flush()
			return
		}
	}
}

// Writes what is still queued, then the close frame
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			c.write(websocket.CloseMessage, c.closing)
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}
