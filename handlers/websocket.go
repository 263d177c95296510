package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LeaderboardSocket upgrades the request, sends the current board and then
// streams every update until the client goes away.
func (h *Handler) LeaderboardSocket(w http.ResponseWriter, r *http.Request) {
	entries, err := h.cfg.Leaderboard.GetLeaderboard(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	initial, err := encodeLeaderboard(entries)
	if err != nil {
		h.fail(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	connection := &Connection{ws: conn, send: make(chan []byte, 8)}
	connection.send <- initial
	if !h.cfg.Hub.add(connection) {
		conn.Close()
		return
	}

	go connection.writePump()
	connection.readPump(h.cfg.Hub)
}

// readPump only watches for the client closing; subscribers send nothing.
func (c *Connection) readPump(hub *Hub) {
	defer func() {
		hub.remove(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(512)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
