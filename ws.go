package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"twin-chat/internal/chat"
)

const (
	wsPingInterval = 45 * time.Second
	wsReadTimeout  = 90 * time.Second
	wsQueueSize    = 256
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin:       func(*http.Request) bool { return true },
	EnableCompression: true,
}

// wsConn is the write side of a websocket connection.
type wsConn interface {
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type wsClient struct {
	conn wsConn
	out  chan any
	done chan struct{}
}

type helloMsg struct {
	Type   string `json:"type"`
	Device string `json:"device"`
}

// Hub fans pane updates out to every open tab of a device.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}
	logger  zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*wsClient]struct{}),
		logger:  log.With().Str("component", "ws").Logger(),
	}
}

// Publish queues u for the device's connections. A full queue drops the
// update for that connection.
func (h *Hub) Publish(deviceID string, u chat.Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[deviceID] {
		select {
		case c.out <- u:
		default:
		}
	}
}

func (h *Hub) Connections(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[deviceID])
}

func (h *Hub) add(deviceID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[deviceID] == nil {
		h.clients[deviceID] = make(map[*wsClient]struct{})
	}
	h.clients[deviceID][c] = struct{}{}
}

func (h *Hub) remove(deviceID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[deviceID], c)
	if len(h.clients[deviceID]) == 0 {
		delete(h.clients, deviceID)
	}
}

func (h *Hub) serveWS(c *gin.Context) {
	deviceID := deviceOf(c)
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	cl := &wsClient{conn: conn, out: make(chan any, wsQueueSize), done: make(chan struct{})}
	h.add(deviceID, cl)
	defer h.remove(deviceID, cl)
	defer close(cl.done)

	go h.writeLoop(deviceID, cl)

	select {
	case cl.out <- helloMsg{Type: "hello", Device: deviceID}:
	default:
	}

	// reader; the browser only sends pongs
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writeLoop drains the client's queue until the reader is gone. A failed
// write closes the connection, which in turn ends the reader.
func (h *Hub) writeLoop(deviceID string, cl *wsClient) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		var err error
		select {
		case v := <-cl.out:
			err = cl.conn.WriteJSON(v)
		case <-ping.C:
			err = cl.conn.WriteMessage(websocket.PingMessage, nil)
		case <-cl.done:
			return
		}
		if err != nil {
			h.logger.Debug().Err(err).Str("device", deviceID).Msg("Websocket write failed, closing")
			_ = cl.conn.Close()
			return
		}
	}
}
