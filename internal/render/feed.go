package render

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crystaldolphin/memshard/internal/schema"
)

// Patch is one change pushed to feed clients.
type Patch struct {
	Op        string           `json:"op"` // snapshot | state | id | insert | folds
	Chat      string           `json:"chat,omitempty"`
	Key       string           `json:"key,omitempty"`
	DisplayID int              `json:"displayId"`
	Hidden    bool             `json:"hidden,omitempty"`
	Collapsed bool             `json:"collapsed,omitempty"`
	Folds     []Fold           `json:"folds,omitempty"`
	Elements  []schema.Element `json:"elements,omitempty"`
}

const (
	writeWait   = 10 * time.Second
	clientQueue = 64
)

// Feed wraps a Table and mirrors every change to websocket clients. It
// implements schema.RenderLayer and http.Handler.
type Feed struct {
	chat  string
	table *Table

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewFeed returns a feed for chat over table.
func NewFeed(chat string, table *Table) *Feed {
	return &Feed{
		chat:    chat,
		table:   table,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Table returns the wrapped table.
func (f *Feed) Table() *Table { return f.table }

func (f *Feed) Elements() []schema.Element { return f.table.Elements() }

func (f *Feed) SetState(displayID int, hidden, collapsed bool) bool {
	ok := f.table.SetState(displayID, hidden, collapsed)
	if ok {
		f.broadcast(Patch{Op: "state", DisplayID: displayID, Hidden: hidden, Collapsed: collapsed})
	}
	return ok
}

func (f *Feed) SetDisplayID(key string, displayID int) {
	f.table.SetDisplayID(key, displayID)
	f.broadcast(Patch{Op: "id", Key: key, DisplayID: displayID})
}

func (f *Feed) InsertElement(key string, displayID int) {
	f.table.InsertElement(key, displayID)
	f.broadcast(Patch{Op: "insert", Key: key, DisplayID: displayID})
}

func (f *Feed) RefreshFolds() {
	f.table.RefreshFolds()
	f.broadcast(Patch{Op: "folds", Folds: f.table.Folds()})
}

// Clients returns the number of connected clients.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// ServeHTTP upgrades the request and streams patches, starting with a
// snapshot of the table.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("render: websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueue)}
	snap, _ := json.Marshal(Patch{Op: "snapshot", Chat: f.chat, Elements: f.table.Elements(), Folds: f.table.Folds()})
	c.send <- snap

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	slog.Info("render: client connected", "chat", f.chat, "remote", r.RemoteAddr)

	go f.writeLoop(c)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	f.drop(c)
	slog.Info("render: client disconnected", "chat", f.chat, "remote", r.RemoteAddr)
}

func (f *Feed) writeLoop(c *client) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Debug("render: write failed", "chat", f.chat, "err", err)
			c.conn.Close()
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.conn.Close()
}

func (f *Feed) broadcast(p Patch) {
	p.Chat = f.chat
	data, err := json.Marshal(p)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			// slow client
			delete(f.clients, c)
			close(c.send)
		}
	}
}

func (f *Feed) drop(c *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

// Close disconnects every client.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		close(c.send)
	}
}
