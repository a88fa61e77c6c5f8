// Package websocket implements the live reload hub: browsers connect over a
// websocket and receive a message whenever a task finishes successfully.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/stagehand/internal/logging"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 16
)

// Hub manages the connected browsers and fans messages out to them.
//
// The hub goroutine owns the client set; every other goroutine talks to it
// through channels. A client whose send buffer is full is dropped rather
// than allowed to stall the others.
type Hub struct {
	clients      map[*Client]struct{}
	clientsMutex sync.RWMutex

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	originValidator OriginValidator
	logger          logging.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
}

// NewHub creates a hub and starts its goroutine. A nil validator admits
// every origin.
func NewHub(originValidator OriginValidator, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	hub := &Hub{
		clients:         make(map[*Client]struct{}),
		broadcast:       make(chan []byte, 64),
		register:        make(chan *Client, 16),
		unregister:      make(chan *Client, 16),
		originValidator: originValidator,
		logger:          logger.WithComponent("reload"),
		ctx:             ctx,
		cancel:          cancel,
		done:            make(chan struct{}),
	}

	go hub.run()
	return hub
}

// HandleWebSocket upgrades the request and serves the client until it
// disconnects or the hub shuts down.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	origin := r.Header.Get("Origin")
	if origin != "" && h.originValidator != nil && !h.originValidator.IsAllowedOrigin(origin) {
		h.logger.Warn(r.Context(), nil, "websocket connection rejected", "origin", origin, "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origins were checked above.
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	client := &Client{
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		remoteAddr:  r.RemoteAddr,
		connectedAt: time.Now(),
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	h.serve(client)
}

// serve writes messages to the client. Browsers never send anything, so the
// read side only watches for the close.
func (h *Hub) serve(client *Client) {
	closed := client.conn.CloseRead(h.ctx)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		_ = client.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(closed, writeTimeout)
			err := client.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				h.logger.Debug(closed, "websocket write failed", "remote", client.remoteAddr, "error", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(closed, writeTimeout)
			err := client.conn.Ping(ctx)
			cancel()
			if err != nil {
				return
			}

		case <-closed.Done():
			return
		}
	}
}

func (h *Hub) run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clientsMutex.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.clientsMutex.Unlock()
			h.logger.Debug(h.ctx, "browser connected", "remote", client.remoteAddr, "clients", count)

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.clientsMutex.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.clientsMutex.RUnlock()

			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn(h.ctx, nil, "dropping slow browser", "remote", client.remoteAddr)
					h.remove(client)
				}
			}

		case <-h.ctx.Done():
			h.clientsMutex.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]struct{})
			h.clientsMutex.Unlock()
			return
		}
	}
}

// remove must only be called from the hub goroutine.
func (h *Hub) remove(client *Client) {
	h.clientsMutex.Lock()
	defer h.clientsMutex.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast sends a message to every connected browser. It never blocks; if
// the hub is saturated the message is dropped.
func (h *Hub) Broadcast(message UpdateMessage) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error(h.ctx, err, "cannot encode reload message")
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	default:
		h.logger.Warn(h.ctx, nil, "reload channel full, dropping message", "type", message.Type)
	}
}

// ClientCount returns the number of connected browsers.
func (h *Hub) ClientCount() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects every browser and stops the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(h.cancel)

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
