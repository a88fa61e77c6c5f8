package websocket

import (
	"time"

	"github.com/coder/websocket"
)

// Message types understood by the reload client.
const (
	// MessageReload asks the browser to reload the page.
	MessageReload = "reload"
	// MessageCSS asks the browser to swap one stylesheet in place.
	MessageCSS = "css"
)

// Client represents a WebSocket client connection
type Client struct {
	conn        *websocket.Conn
	send        chan []byte
	remoteAddr  string
	connectedAt time.Time
}

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type string `json:"type"`
	// Target is the URL path of the stylesheet for MessageCSS.
	Target    string    `json:"target,omitempty"`
	Task      string    `json:"task,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OriginValidator decides which browser origins may connect.
type OriginValidator interface {
	IsAllowedOrigin(origin string) bool
}
