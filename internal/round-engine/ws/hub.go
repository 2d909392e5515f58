package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/pkg/contracts/events"
)

// ClientMsg é a mensagem enviada pelo cliente WebSocket
type ClientMsg struct {
	Type     string `json:"type"`      // subscribe | unsubscribe | ping
	CameraID string `json:"camera_id"` // requerido em subscribe/unsubscribe
}

// conn serializa as escritas: gorilla não aceita writers concorrentes
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Hub gerencia conexões WebSocket e assinaturas por câmera
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger
	mu       sync.RWMutex
	// cameraID -> conexões inscritas
	subs map[string]map[*conn]struct{}
}

func NewHub(allowOrigin func(r *http.Request) bool, log *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		log:      log,
		subs:     make(map[string]map[*conn]struct{}),
	}
}

// HandleWS gerencia o ciclo de vida de uma conexão
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: wsConn}
	defer wsConn.Close()

	for {
		var msg ClientMsg
		if err := wsConn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			h.mu.Lock()
			if _, ok := h.subs[msg.CameraID]; !ok {
				h.subs[msg.CameraID] = make(map[*conn]struct{})
			}
			h.subs[msg.CameraID][c] = struct{}{}
			h.mu.Unlock()
		case "unsubscribe":
			h.unsubscribe(msg.CameraID, c)
		case "ping":
			b, _ := json.Marshal(map[string]string{"type": "pong"})
			_ = c.write(b)
		}
	}

	h.mu.Lock()
	for cam, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, cam)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(cameraID string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.subs[cameraID]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(h.subs, cameraID)
		}
	}
}

// Broadcast envia o estado para todos os inscritos na câmera
func (h *Hub) Broadcast(update events.StateUpdate) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.subs[update.CameraID]))
	for c := range h.subs[update.CameraID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	b, _ := json.Marshal(update)
	for _, c := range conns {
		if err := c.write(b); err != nil {
			h.log.Debug("ws write failed", zap.Error(err))
		}
	}
}

// Subscribers retorna quantas conexões estão inscritas na câmera
func (h *Hub) Subscribers(cameraID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[cameraID])
}
