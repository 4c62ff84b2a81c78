package websocket

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// NewUpgrader creates an upgrader that only accepts the listed origins.
// An empty slice permits all origins (development mode).
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// Conn serializes writes: gorilla allows one concurrent writer, and the session updates,
// access ticks and action replies come from different goroutines.
type Conn struct {
	*websocket.Conn
	mu sync.Mutex
}

func Wrap(conn *websocket.Conn) *Conn {
	return &Conn{Conn: conn}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetWriteDeadline(time.Now().Add(writeWait))
	return c.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(action Action, errMsg string) error {
	return c.WriteTyped(ErrorResponse{
		Event:  EventError,
		Action: action,
		Error:  errMsg,
	})
}

// Read decodes the next request. It sets a read deadline.
func (c *Conn) Read(v interface{}) error {
	c.SetReadDeadline(time.Now().Add(readWait))
	return c.ReadJSON(v)
}
