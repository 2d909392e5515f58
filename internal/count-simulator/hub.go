package simulator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Representa uma conexão de cliente WebSocket
type clientConn struct {
	id   string
	conn *websocket.Conn
}

// hub gerencia os clientes conectados e faz broadcast das mensagens
type hub struct {
	mu      sync.RWMutex
	clients map[string]*clientConn
	log     *zap.Logger
	m       *Metrics
	seq     int
}

func newHub(log *zap.Logger, m *Metrics) *hub {
	return &hub{clients: make(map[string]*clientConn), log: log, m: m}
}

func (h *hub) add(conn *websocket.Conn) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	id := fmt.Sprintf("c%d-%d", h.seq, time.Now().UnixNano())
	h.clients[id] = &clientConn{id: id, conn: conn}
	h.m.connections.Inc()
	h.log.Info("ws client connected", zap.String("client_id", id))
	return id
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[id]; ok {
		delete(h.clients, id)
		h.m.connections.Dec()
		h.log.Info("ws client disconnected", zap.String("client_id", id))
	}
}

func (h *hub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast envia a mensagem para todos os clientes. Chamado só pelo loop
// da simulação, então não há escritas concorrentes na mesma conexão.
func (h *hub) broadcast(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("ws marshal failed", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.clients {
		_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.log.Warn("ws write failed", zap.String("client_id", id), zap.Error(err))
			_ = c.conn.Close()
			continue
		}
		h.m.messagesSent.Inc()
	}
}

// Metrics do simulador
type Metrics struct {
	connections  prometheus.Gauge
	messagesSent prometheus.Counter
	betsPlaced   prometheus.Counter
	betsRejected prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "simulator_ws_connections", Help: "Clientes WebSocket conectados"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{Name: "simulator_ws_messages_sent_total", Help: "Total de mensagens WS enviadas"}),
		betsPlaced:   prometheus.NewCounter(prometheus.CounterOpts{Name: "simulator_bets_placed_total", Help: "Apostas aceitas"}),
		betsRejected: prometheus.NewCounter(prometheus.CounterOpts{Name: "simulator_bets_rejected_total", Help: "Apostas recusadas"}),
	}
	reg.MustRegister(m.connections, m.messagesSent, m.betsPlaced, m.betsRejected)
	return m
}
