package web

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is what subscribers receive when a game changes.
type Event struct {
	Type    string `json:"type"` // "move", "chat", "game_over"
	GameID  int64  `json:"game_id"`
	Payload any    `json:"payload,omitempty"`
}

// Hub fans game events out to websocket subscribers. Clients subscribe to a
// single game; inbound frames are ignored.
type Hub struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[int64]map[*websocket.Conn]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, subs: make(map[int64]map[*websocket.Conn]struct{})}
}

func (h *Hub) add(gameID int64, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[gameID] == nil {
		h.subs[gameID] = make(map[*websocket.Conn]struct{})
	}
	h.subs[gameID][c] = struct{}{}
	wsConnections.Inc()
}

func (h *Hub) remove(gameID int64, c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.subs[gameID]; ok {
		if _, live := conns[c]; live {
			delete(conns, c)
			wsConnections.Dec()
		}
		if len(conns) == 0 {
			delete(h.subs, gameID)
		}
	}
}

// Broadcast delivers the event to every subscriber of the game. A failed
// write drops the subscriber.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.subs[ev.GameID]))
	for c := range h.subs[ev.GameID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := wsjson.Write(ctx, c, ev)
		cancel()
		if err != nil {
			h.logger.Debug("dropping websocket subscriber",
				zap.Int64("game_id", ev.GameID),
				zap.Error(err))
			h.remove(ev.GameID, c)
			_ = c.Close(websocket.StatusGoingAway, "write failed")
		}
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	gameID, err := strconv.ParseInt(r.URL.Query().Get("game_id"), 10, 64)
	if err != nil || gameID <= 0 {
		http.Error(w, "game_id required", http.StatusBadRequest)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	h.add(gameID, c)
	defer func() {
		h.remove(gameID, c)
		_ = c.Close(websocket.StatusNormalClosure, "")
	}()

	// Park until the client goes away.
	for {
		if _, _, err := c.Read(r.Context()); err != nil {
			return
		}
	}
}
