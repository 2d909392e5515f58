package stream

import (
	"time"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

// Config controla atraso de exibição e descarte de detecções antigas
type Config struct {
	StaleAfter       time.Duration // idade máxima para exibir caixas de detecção
	InitialLatency   time.Duration // latência assumida antes da primeira medição
	MaxDisplayDelay  time.Duration // teto da latência medida
	LatencySmoothing float64       // peso da amostra nova na média móvel (0..1]
}

// DefaultConfig retorna os valores usados em produção
func DefaultConfig() Config {
	return Config{
		StaleAfter:       350 * time.Millisecond,
		InitialLatency:   0,
		MaxDisplayDelay:  2 * time.Second,
		LatencySmoothing: 0.2,
	}
}

// Accepted descreve como um frame aceito foi agendado para exibição
type Accepted struct {
	DisplayAt time.Time
	Stripped  bool
}

type queued struct {
	frame     domain.CountFrame
	displayAt time.Time
}

// Consumer aplica frames de contagem em ordem monotônica de captured_at.
// Não é seguro para uso concorrente: pertence ao loop do engine.
type Consumer struct {
	cfg Config

	lastApplied time.Time
	latest      domain.CountFrame
	hasLatest   bool
	live        bool

	displayed    domain.CountFrame
	hasDisplayed bool

	queue   []queued
	latency time.Duration
}

// New cria um Consumer
func New(cfg Config) *Consumer {
	if cfg.LatencySmoothing <= 0 || cfg.LatencySmoothing > 1 {
		cfg.LatencySmoothing = DefaultConfig().LatencySmoothing
	}
	if cfg.MaxDisplayDelay <= 0 {
		cfg.MaxDisplayDelay = DefaultConfig().MaxDisplayDelay
	}
	return &Consumer{cfg: cfg, latency: clamp(cfg.InitialLatency, 0, cfg.MaxDisplayDelay)}
}

// Ingest aplica um frame ao vivo. Frames com captured_at <= último aplicado
// retornam domain.ErrStaleFrame e não alteram nenhum estado.
func (c *Consumer) Ingest(f domain.CountFrame, now time.Time) (Accepted, error) {
	if !f.CapturedAt.After(c.lastApplied) {
		return Accepted{}, domain.ErrStaleFrame
	}
	f.Bootstrap = false
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = now
	}
	c.observeLatency(f.ReceivedAt.Sub(f.CapturedAt))

	c.lastApplied = f.CapturedAt
	c.latest = f
	c.hasLatest = true
	c.live = true

	display := f
	stripped := false
	if now.Sub(f.CapturedAt) > c.cfg.StaleAfter && len(f.Detections) > 0 {
		display.Detections = nil
		stripped = true
	}
	at := now.Add(c.latency)
	c.queue = append(c.queue, queued{frame: display, displayAt: at})
	return Accepted{DisplayAt: at, Stripped: stripped}, nil
}

// Bootstrap semeia a observação inicial (snapshot do health) antes do primeiro
// frame ao vivo. Não participa da checagem monotônica nem do descarte por idade.
func (c *Consumer) Bootstrap(f domain.CountFrame) bool {
	if c.live || c.hasLatest {
		return false
	}
	f.Bootstrap = true
	c.latest = f
	c.hasLatest = true
	c.displayed = f
	c.hasDisplayed = true
	return true
}

// Drain libera, em ordem de chegada, os frames cujo horário de exibição já passou
func (c *Consumer) Drain(now time.Time) []domain.CountFrame {
	n := 0
	for n < len(c.queue) && !c.queue[n].displayAt.After(now) {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]domain.CountFrame, n)
	for i := 0; i < n; i++ {
		out[i] = c.queue[i].frame
	}
	c.queue = append(c.queue[:0], c.queue[n:]...)
	c.displayed = out[n-1]
	c.hasDisplayed = true
	return out
}

// Latest retorna a última observação aceita (usada no cálculo de progresso)
func (c *Consumer) Latest() (domain.CountFrame, bool) { return c.latest, c.hasLatest }

// Displayed retorna o último frame liberado para exibição
func (c *Consumer) Displayed() (domain.CountFrame, bool) { return c.displayed, c.hasDisplayed }

// LastApplied retorna o captured_at do último frame aplicado
func (c *Consumer) LastApplied() time.Time { return c.lastApplied }

// Latency retorna a latência medida do stream
func (c *Consumer) Latency() time.Duration { return c.latency }

// Pending retorna quantos frames aguardam exibição
func (c *Consumer) Pending() int { return len(c.queue) }

func (c *Consumer) observeLatency(sample time.Duration) {
	sample = clamp(sample, 0, c.cfg.MaxDisplayDelay)
	delta := float64(sample-c.latency) * c.cfg.LatencySmoothing
	c.latency = clamp(c.latency+time.Duration(delta), 0, c.cfg.MaxDisplayDelay)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
