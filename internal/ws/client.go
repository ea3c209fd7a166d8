package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"forumchat/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 << 10
	closeGraceWait = time.Second
)

// Client is one websocket session joined to one room. Outbound frames go
// through a bounded queue drained by a single writer.
type Client struct {
	ID     string
	RoomID int64

	identity atomic.Pointer[domain.Identity]
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once
}

func newClient(conn *websocket.Conn, identity *domain.Identity, roomID int64, queueSize int) *Client {
	c := &Client{
		ID:     uuid.NewString(),
		RoomID: roomID,
		conn:   conn,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
	c.identity.Store(identity)
	return c
}

// Identity is the latest known state of the connected identity.
func (c *Client) Identity() *domain.Identity {
	return c.identity.Load()
}

func (c *Client) setIdentity(identity *domain.Identity) {
	c.identity.Store(identity)
}

// Closed reports whether the session has been closed.
func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Send enqueues payload without blocking. A full queue disconnects the
// client so one slow reader cannot hold up the room.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.CloseWith(websocket.ClosePolicyViolation, "send queue full")
		return false
	}
}

// CloseWith ends the session with code. It returns immediately; the close
// frame is written in the background.
func (c *Client) CloseWith(code int, reason string) {
	c.once.Do(func() {
		close(c.done)
		go func() {
			deadline := time.Now().Add(writeWait)
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			// Give the peer a moment to answer the close handshake.
			time.Sleep(closeGraceWait)
			_ = c.conn.Close()
		}()
	})
}

// writeNow writes directly, bypassing the queue. Only valid before writePump starts.
func (c *Client) writeNow(payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.writeNow(msg); err != nil {
				c.CloseWith(websocket.CloseGoingAway, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.CloseWith(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}
