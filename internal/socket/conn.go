// internal/socket/conn.go
package socket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// outBuffer bounds the per-connection send queue; events beyond it are
// dropped (best-effort fabric).
const outBuffer = 32

// Conn is one user's live socket. Writes go through a buffered channel
// drained by WritePump so the hub never blocks on a slow client.
//
// Write and close share mu: a broadcast snapshots its targets before the
// hub lock is released, so a connection may be unregistered between the
// snapshot and the send. The closed flag turns that late send into a no-op
// instead of a send on a closed channel.
type Conn struct {
	UserID uuid.UUID

	mu     sync.Mutex
	closed bool
	out    chan Event
	Cancel func()
}

// NewConn wraps an accepted websocket for a user. Cancel tears down the
// connection's pumps.
func NewConn(userID uuid.UUID, cancel func()) *Conn {
	return &Conn{
		UserID: userID,
		out:    make(chan Event, outBuffer),
		Cancel: cancel,
	}
}

// Write enqueues an event non-blockingly. Logs if the buffer is full;
// drops silently after close.
func (c *Conn) Write(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- ev:
	default:
		log.Printf("socket: out channel full for user %s, dropped event %q", c.UserID, ev.Event)
	}
}

// close shuts the outgoing channel exactly once.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
	if c.Cancel != nil {
		c.Cancel()
	}
}

// WritePump drains the out channel onto the websocket until the channel
// closes or the context is cancelled. Runs in its own goroutine.
func (c *Conn) WritePump(ctx context.Context, ws *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.out:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("socket: marshal event %q: %v", ev.Event, err)
				continue
			}
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
