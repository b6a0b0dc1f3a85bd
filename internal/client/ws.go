package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	pongTimeout      = 60 * time.Second
	pingInterval     = 25 * time.Second
)

var (
	// ErrUnauthorized means the server rejected our credentials. The
	// Manager treats it as terminal instead of retrying.
	ErrUnauthorized = errors.New("unauthorized")

	ErrServerClosed    = errors.New("server closed connection")
	ErrTransportClosed = errors.New("transport closed")
	ErrPingTimeout     = errors.New("ping timeout")
	ErrProtocol        = errors.New("protocol error")
)

// Transport opens streams to the push endpoint.
type Transport interface {
	Dial(ctx context.Context, endpoint string) (Stream, error)
}

// Stream is one established connection. Read blocks until the next message
// or a failure; Close must be safe to call more than once.
type Stream interface {
	SessionID() string
	Read() (Message, error)
	Close() error
}

// WSTransport dials the push endpoint over a websocket. It sends the bearer
// token and keeps cookies across reconnects.
type WSTransport struct {
	dialer       *websocket.Dialer
	header       http.Header
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewWSTransport creates a websocket transport. An empty token sends no
// Authorization header.
func NewWSTransport(token string) *WSTransport {
	jar, _ := cookiejar.New(nil)
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &WSTransport{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			Jar:              jar,
		},
		header:       header,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}
}

// SetKeepalive overrides the ping interval and pong timeout.
func (t *WSTransport) SetKeepalive(ping, pong time.Duration) {
	if ping > 0 {
		t.pingInterval = ping
	}
	if pong > 0 {
		t.pongTimeout = pong
	}
}

// Dial connects and waits for the server hello carrying the session id.
func (t *WSTransport) Dial(ctx context.Context, endpoint string) (Stream, error) {
	conn, resp, err := t.dialer.DialContext(ctx, endpoint, t.header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	// Cancelling ctx closes the socket so a stalled hello read returns.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(t.pongTimeout))
	_, data, err := conn.ReadMessage()
	if !stop() {
		conn.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read hello: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Event != EventHello {
		conn.Close()
		return nil, fmt.Errorf("%w: expected hello frame", ErrProtocol)
	}
	var hello HelloPayload
	if err := json.Unmarshal(msg.Payload, &hello); err != nil || hello.SessionID == "" {
		conn.Close()
		return nil, fmt.Errorf("%w: hello without session id", ErrProtocol)
	}

	s := &wsStream{
		conn:        conn,
		sid:         hello.SessionID,
		pongTimeout: t.pongTimeout,
		stop:        make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(t.pongTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(t.pongTimeout))
	go s.pingLoop(t.pingInterval)
	return s, nil
}

type wsStream struct {
	conn        *websocket.Conn
	sid         string
	pongTimeout time.Duration

	writeMu   sync.Mutex // serialises pings and the close frame
	closeOnce sync.Once
	stop      chan struct{}
}

func (s *wsStream) SessionID() string { return s.sid }

// Read returns the next decodable message. Frames that are not valid
// envelopes are logged and skipped.
func (s *wsStream) Read() (Message, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return Message{}, classifyReadError(err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("ws decode error: %v", err)
			continue
		}
		return msg, nil
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *wsStream) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func classifyReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("%w: %v", ErrServerClosed, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrPingTimeout, err)
	}
	if errors.Is(err, net.ErrClosed) || websocket.IsUnexpectedCloseError(err) {
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return err
}
