package bus

import (
	"time"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

const sendBuffer = 64

// Conn is one client connection. All fields except Send are owned by the
// bus loop.
type Conn struct {
	ID string
	// Send carries frames to the connection writer. The bus closes it when
	// the connection is dropped.
	Send chan Frame

	identity     *domain.Identity
	page         string
	lastActivity time.Time
	rooms        map[string]struct{}
	closed       bool
}

func newConn(id string, now time.Time) *Conn {
	return &Conn{
		ID:           id,
		Send:         make(chan Frame, sendBuffer),
		lastActivity: now,
		rooms:        map[string]struct{}{},
	}
}

func (c *Conn) userID() string {
	if c.identity == nil {
		return ""
	}
	return c.identity.UserID
}

// deliver queues a frame without blocking. A full buffer means the client
// stopped reading; the caller drops the connection.
func (c *Conn) deliver(f Frame) bool {
	if c.closed {
		return false
	}
	select {
	case c.Send <- f:
		return true
	default:
		return false
	}
}
