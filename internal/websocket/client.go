package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// Sent to a client after it missed notifications; it should refetch the tree.
const (
	EntityTree   = "family_tree"
	ActionResync = "resync"
	ActionHello  = "connected"
)

// Client is one listening connection for a family's change notifications.
type Client struct {
	hub      *Hub
	conn     *ws.Conn
	familyID string
	userID   string
	send     chan []byte
	// missed is set by the hub when a broadcast found send full.
	missed atomic.Bool
}

// NewClient creates a Client for one family's notifications.
func NewClient(hub *Hub, conn *ws.Conn, familyID, userID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		familyID: familyID,
		userID:   userID,
		send:     make(chan []byte, sendBufferSize),
	}
}

// Run registers the client and writes notifications until the peer goes away
// or ctx ends. Anything the peer sends is discarded.
func (c *Client) Run(ctx context.Context) {
	ctx = c.conn.CloseRead(ctx)

	c.hub.Register(c)
	defer c.hub.Unregister(c)

	if err := c.write(ctx, c.control(ActionHello)); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(ws.StatusNormalClosure, "")
				return
			}
			if err := c.write(ctx, msg); err != nil {
				return
			}
			if c.missed.Swap(false) {
				if err := c.write(ctx, c.control(ActionResync)); err != nil {
					return
				}
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			c.conn.Close(ws.StatusGoingAway, "")
			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, msg)
}

func (c *Client) control(action string) []byte {
	data, _ := json.Marshal(NewMessage(c.familyID, EntityTree, action, ""))
	return data
}
