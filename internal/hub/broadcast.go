package hub

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alsoamit/manager-dash-sub001/internal/client"
)

const writeWait = 10 * time.Second

// ErrTooManyConnections is returned by AddClient when the connection limit
// is reached.
var ErrTooManyConnections = errors.New("too many connections")

type conn struct {
	ws   *websocket.Conn
	sid  string
	b    *Broadcaster
	send chan []byte
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
}

// Broadcaster fans sync messages out to every connected client. Each
// client gets a hello frame carrying its session id first.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*conn]bool
	maxConns int
	seq      uint64

	// pubMu keeps delivery order equal to sequence order.
	pubMu   sync.Mutex
	stopped bool
}

// NewBroadcaster creates a broadcaster. maxConns <= 0 means unlimited.
func NewBroadcaster(maxConns int) *Broadcaster {
	return &Broadcaster{
		clients:  make(map[*conn]bool),
		maxConns: maxConns,
	}
}

// AddClient registers ws under sid and queues its hello frame.
func (b *Broadcaster) AddClient(ws *websocket.Conn, sid string) (*conn, error) {
	hello, _ := json.Marshal(client.HelloPayload{SessionID: sid})
	data, err := json.Marshal(client.Message{Event: client.EventHello, Payload: hello})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil, errors.New("broadcaster stopped")
	}
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := &conn{ws: ws, sid: sid, b: b, send: make(chan []byte, 64)}
	c.send <- data
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *conn) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// Publish stamps msg with the next sequence number and sends it to every
// client. Clients that cannot keep up are disconnected.
func (b *Broadcaster) Publish(msg client.Message) {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.Lock()
	b.seq++
	msg.Seq = b.seq
	b.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*conn, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !b.trySend(c, data) {
			log.Printf("ws client %s too slow, disconnecting", c.sid)
			b.RemoveClient(c)
		}
	}
}

// trySend queues data without blocking. The read lock keeps RemoveClient
// from closing c.send underneath us.
func (b *Broadcaster) trySend(c *conn, data []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Disconnect drops the client registered under sid, if any.
func (b *Broadcaster) Disconnect(sid string) bool {
	b.mu.RLock()
	var target *conn
	for c := range b.clients {
		if c.sid == sid {
			target = c
			break
		}
	}
	b.mu.RUnlock()
	if target == nil {
		return false
	}
	b.RemoveClient(target)
	return true
}

// Stop disconnects every client and rejects new ones.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	b.stopped = true
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
