package events

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/playmatatu/escrow/internal/escrow"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origins are enforced by the CORS layer
	},
}

// Client is a websocket subscriber. A client with a game filter only receives
// events of that game.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	game *escrow.GameID
	send chan []byte
}

// Hub fans ledger events out to websocket subscribers.
type Hub struct {
	clients    map[*Client]struct{}
	rooms      map[escrow.GameID]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[escrow.GameID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run registers and unregisters clients until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			for _, room := range h.rooms {
				for c := range room {
					close(c.send)
				}
			}
			h.clients = make(map[*Client]struct{})
			h.rooms = make(map[escrow.GameID]map[*Client]struct{})
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if c.game == nil {
				h.clients[c] = struct{}{}
			} else {
				room, ok := h.rooms[*c.game]
				if !ok {
					room = make(map[*Client]struct{})
					h.rooms[*c.game] = room
				}
				room[c] = struct{}{}
			}
			h.mu.Unlock()
			log.Printf("[WS] subscriber connected (game=%s)", gameLabel(c.game))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.remove(c) {
				close(c.send)
				log.Printf("[WS] subscriber disconnected (game=%s)", gameLabel(c.game))
			}
			h.mu.Unlock()
		}
	}
}

// remove drops c and reports whether it was registered. Callers hold mu.
func (h *Hub) remove(c *Client) bool {
	if c.game == nil {
		if _, ok := h.clients[c]; !ok {
			return false
		}
		delete(h.clients, c)
		return true
	}
	room, ok := h.rooms[*c.game]
	if !ok {
		return false
	}
	if _, ok := room[c]; !ok {
		return false
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, *c.game)
	}
	return true
}

// Publish implements escrow.Sink.
func (h *Hub) Publish(_ context.Context, rec escrow.Record) error {
	h.Broadcast(rec)
	return nil
}

// Broadcast sends rec to every unfiltered subscriber and to the room of its game.
func (h *Hub) Broadcast(rec escrow.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		log.Printf("[WS] Error marshaling event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		h.deliver(c, data)
	}
	if id, ok := GameOf(rec.Event); ok {
		for c := range h.rooms[id] {
			h.deliver(c, data)
		}
	}
}

func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		// Client's buffer is full
		log.Printf("[WS] send buffer full (game=%s), dropping event", gameLabel(c.game))
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.clients)
	for _, room := range h.rooms {
		n += len(room)
	}
	return n
}

// ServeWS upgrades the request and subscribes the connection. A nil game
// subscribes to every event.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, game *escrow.GameID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	c := &Client{hub: h, conn: conn, game: game, send: make(chan []byte, 256)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// writePump writes events to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump keeps the read deadline fresh and unregisters the client when the
// peer goes away. Subscribers never send anything the hub acts on.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] unexpected close: %v", err)
			}
			return
		}
	}
}

func gameLabel(id *escrow.GameID) string {
	if id == nil {
		return "*"
	}
	return id.String()
}
