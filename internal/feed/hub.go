// Package feed pushes board updates to connected displays over websockets.
//
// Every subscriber gets the latest board as soon as it connects and then each
// new board as it is published. A subscriber that cannot keep up is dropped
// rather than allowed to hold back the others.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rewired-gh/tapmarket/internal/logger"
	"github.com/rewired-gh/tapmarket/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

// Message is the envelope of everything sent to subscribers.
type Message struct {
	Type string           `json:"type"`
	Data models.BoardView `json:"data"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans boards out to websocket subscribers.
type Hub struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	last   []byte
	closed bool
}

// NewHub creates a hub that accepts connections from any origin; the board
// is public.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// Publish sends board to every subscriber and remembers it for new ones.
func (h *Hub) Publish(board models.Board) {
	payload, err := json.Marshal(Message{Type: "board", Data: board.View()})
	if err != nil {
		logger.Error("Failed to encode board: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.last = payload
	for sub := range h.subs {
		select {
		case sub.send <- payload:
		default:
			logger.Warn("Dropping slow feed subscriber %s", sub.conn.RemoteAddr())
			h.removeLocked(sub)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams boards until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("Feed upgrade failed: %v", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.subs[sub] = struct{}{}
	if h.last != nil {
		sub.send <- h.last
	}
	h.mu.Unlock()
	logger.Debug("Feed subscriber connected: %s", conn.RemoteAddr())

	go h.writeLoop(sub)
	h.readLoop(sub)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.subs {
		h.removeLocked(sub)
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *subscriber) {
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.send)
}

// readLoop only watches for the peer going away; displays send nothing.
func (h *Hub) readLoop(sub *subscriber) {
	defer func() {
		h.remove(sub)
		_ = sub.conn.Close()
	}()
	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sub.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
