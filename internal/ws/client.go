package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrClientClosed = errors.New("client connection closed")
	ErrClientSlow   = errors.New("client send buffer full")
)

// client is one websocket connection. Frames are queued on send and written
// by writePump, so queue order is wire order.
type client struct {
	id         string
	remoteAddr string
	conn       *websocket.Conn
	send       chan []byte

	// onSlow is called, without locks held, when the send buffer overflows.
	onSlow func(*client)

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, remoteAddr string, buffer int, onSlow func(*client)) *client {
	c := &client{
		id:         uuid.NewString(),
		remoteAddr: remoteAddr,
		conn:       conn,
		send:       make(chan []byte, buffer),
		onSlow:     onSlow,
	}
	go c.writePump()
	return c
}

func (c *client) ID() string         { return c.id }
func (c *client) RemoteAddr() string { return c.remoteAddr }

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// enqueue hands a frame to the write pump without blocking.
func (c *client) enqueue(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		return nil
	default:
	}
	c.mu.Unlock()

	// Client can't keep up, disconnect it
	log.Printf("ws client %s too slow, disconnecting", c.remoteAddr)
	if c.onSlow != nil {
		c.onSlow(c)
	}
	return ErrClientSlow
}

func (c *client) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return c.enqueue(data)
}

// Notify implements session.Conn.
func (c *client) Notify(method string, params []any) error {
	if params == nil {
		params = []any{}
	}
	return c.write(Notification{Method: method, Params: params})
}

func (c *client) reply(id json.RawMessage, result any, rpcErr *RPCError) error {
	resp := Response{ID: id, Error: rpcErr}
	if rpcErr == nil {
		resp.Result = result
	}
	return c.write(resp)
}

// close stops the write pump once any queued frames are flushed.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
