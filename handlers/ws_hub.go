package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/kiliantyler/kil.dev-sub000/metrics"
	"github.com/kiliantyler/kil.dev-sub000/models"
)

// Connection represents a WebSocket subscriber to leaderboard updates.
type Connection struct {
	ws   *websocket.Conn
	send chan []byte
}

// Hub maintains the set of active connections and broadcasts messages to the connections.
type Hub struct {
	// Registered connections.
	connections map[*Connection]bool

	// Outbound messages for every connection.
	broadcast chan []byte

	register chan *Connection

	unregister chan *Connection

	// done is closed once Run returns.
	done chan struct{}

	metrics *metrics.Metrics
	logger  *slog.Logger
}

type leaderboardMessage struct {
	Type string                    `json:"type"`
	Data []models.LeaderboardEntry `json:"data"`
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		broadcast:   make(chan []byte, 16),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		connections: make(map[*Connection]bool),
		done:        make(chan struct{}),
		metrics:     m,
		logger:      slog.Default().With("component", "hub"),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every connection's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for connection := range h.connections {
			close(connection.send)
			delete(h.connections, connection)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case connection := <-h.register:
			h.connections[connection] = true
			h.metrics.SetSubscribers(len(h.connections))
		case connection := <-h.unregister:
			if _, ok := h.connections[connection]; ok {
				delete(h.connections, connection)
				close(connection.send)
				h.metrics.SetSubscribers(len(h.connections))
			}
		case message := <-h.broadcast:
			for connection := range h.connections {
				select {
				case connection.send <- message:
				default:
					// Slow consumer; drop it rather than stall everyone else.
					close(connection.send)
					delete(h.connections, connection)
				}
			}
			h.metrics.SetSubscribers(len(h.connections))
		}
	}
}

func (h *Hub) add(c *Connection) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Connection) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// BroadcastLeaderboard queues a snapshot for every subscriber. It never
// blocks; snapshots are dropped when the queue is full.
func (h *Hub) BroadcastLeaderboard(entries []models.LeaderboardEntry) {
	message, err := encodeLeaderboard(entries)
	if err != nil {
		h.logger.Error("failed to encode leaderboard", "error", err)
		return
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("leaderboard broadcast queue full, dropping update")
	}
}

func encodeLeaderboard(entries []models.LeaderboardEntry) ([]byte, error) {
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	return json.Marshal(leaderboardMessage{Type: "leaderboard", Data: entries})
}
