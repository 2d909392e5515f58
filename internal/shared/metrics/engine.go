package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/radieske/count-market-engine/internal/round-engine/engine"
)

// EngineMetrics agrupa os contadores do motor de rodadas
type EngineMetrics struct {
	framesApplied  prometheus.Counter
	framesDropped  *prometheus.CounterVec
	framesStripped prometheus.Counter
	reconciles     prometheus.Counter
	errorsBy       *prometheus.CounterVec
	roundChanges   prometheus.Counter
	discarded      prometheus.Counter
	pushConnected  prometheus.Gauge
	latency        prometheus.Gauge
}

// NewEngineMetrics cria e registra as métricas em reg
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		framesApplied:  prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_frames_applied_total", Help: "frames de contagem aplicados"}),
		framesDropped:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "engine_frames_dropped_total", Help: "frames descartados por motivo"}, []string{"reason"}),
		framesStripped: prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_frames_stripped_total", Help: "frames exibidos sem caixas de detecção"}),
		reconciles:     prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_reconcile_polls_total", Help: "reconciliações com o servidor de apostas"}),
		errorsBy:       prometheus.NewCounterVec(prometheus.CounterOpts{Name: "engine_errors_total", Help: "erros por estágio"}, []string{"stage"}),
		roundChanges:   prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_round_changes_total", Help: "trocas de rodada selecionada"}),
		discarded:      prometheus.NewCounter(prometheus.CounterOpts{Name: "engine_optimistic_discarded_total", Help: "entradas otimistas removidas sem par no servidor"}),
		pushConnected:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_push_connected", Help: "1 quando o push channel está conectado"}),
		latency:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_stream_latency_seconds", Help: "latência suavizada do stream de contagem"}),
	}
	reg.MustRegister(
		m.framesApplied, m.framesDropped, m.framesStripped, m.reconciles,
		m.errorsBy, m.roundChanges, m.discarded, m.pushConnected, m.latency,
	)
	return m
}

// Hooks liga as métricas aos callbacks do motor
func (m *EngineMetrics) Hooks() engine.Hooks {
	return engine.Hooks{
		OnFrameApplied: func(latency time.Duration) {
			m.framesApplied.Inc()
			m.latency.Set(latency.Seconds())
		},
		OnFrameDropped:  func(reason string) { m.framesDropped.WithLabelValues(reason).Inc() },
		OnFrameStripped: func() { m.framesStripped.Inc() },
		OnReconcile:     func() { m.reconciles.Inc() },
		OnError:         func(stage string, _ error) { m.errorsBy.WithLabelValues(stage).Inc() },
		OnRoundChange:   func(string) { m.roundChanges.Inc() },
		OnOptimisticDiscarded: func(n int) {
			m.discarded.Add(float64(n))
		},
		OnPushState: func(connected bool) {
			if connected {
				m.pushConnected.Set(1)
				return
			}
			m.pushConnected.Set(0)
		},
	}
}
