// Package engine é o motor de reconciliação de rodadas e apostas.
//
// Um único goroutine (Run) é dono de todo o estado: frames, mensagens de
// rodada, comandos e resultados de I/O chegam por canais. I/O bloqueante roda
// em goroutines curtas que devolvem um asyncResult ao loop; resultados de uma
// rodada que deixou de ser a selecionada são descartados pela época.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/internal/round-engine/baseline"
	"github.com/radieske/count-market-engine/internal/round-engine/bus"
	"github.com/radieske/count-market-engine/internal/round-engine/domain"
	"github.com/radieske/count-market-engine/internal/round-engine/ledger"
	"github.com/radieske/count-market-engine/internal/round-engine/outcome"
	"github.com/radieske/count-market-engine/internal/round-engine/rounds"
	"github.com/radieske/count-market-engine/internal/round-engine/stream"
)

// ErrStopped é devolvido a chamadas feitas depois que o loop parou
var ErrStopped = errors.New("engine stopped")

// RoundSource lista as rodadas candidatas da câmera (consulta "preferred round")
type RoundSource interface {
	CandidateRounds(ctx context.Context, cameraID string, now time.Time, grace time.Duration) ([]domain.Round, error)
}

// BetAPI é o endpoint de apostas
type BetAPI interface {
	Submit(ctx context.Context, d domain.BetDraft) (domain.SubmitResult, error)
	List(ctx context.Context, roundID string) ([]domain.ServerBet, error)
}

// HealthAPI é o endpoint de saúde (bootstrap + próxima rodada)
type HealthAPI interface {
	Health(ctx context.Context) (domain.HealthStatus, error)
}

// Hooks são callbacks de observabilidade (métricas). Todos opcionais.
type Hooks struct {
	OnFrameApplied        func(latency time.Duration)
	OnFrameDropped        func(reason string)
	OnFrameStripped       func()
	OnReconcile           func()
	OnError               func(stage string, err error)
	OnRoundChange         func(roundID string)
	OnOptimisticDiscarded func(n int)
	OnPushState           func(connected bool)
}

// Config são os tempos do motor
type Config struct {
	CameraID        string
	RoundGrace      time.Duration
	DisplayTick     time.Duration
	ReconcileEvery  time.Duration
	RoundsRefresh   time.Duration
	HealthRefresh   time.Duration
	OptimisticGrace time.Duration
	IOTimeout       time.Duration
	BusBuffer       int
	Stream          stream.Config
}

// DefaultConfig retorna os valores de produção
func DefaultConfig() Config {
	return Config{
		RoundGrace:      rounds.DefaultGrace,
		DisplayTick:     50 * time.Millisecond,
		ReconcileEvery:  5 * time.Second,
		RoundsRefresh:   10 * time.Second,
		HealthRefresh:   30 * time.Second,
		OptimisticGrace: ledger.DefaultOptimisticGrace,
		IOTimeout:       5 * time.Second,
		BusBuffer:       8,
		Stream:          stream.DefaultConfig(),
	}
}

// Deps são os colaboradores externos. Rounds e Health podem ser nil
// (rodadas chegam então só pelo push channel).
type Deps struct {
	Rounds    RoundSource
	Snapshots baseline.SnapshotSource
	History   *baseline.History
	Bets      BetAPI
	Health    HealthAPI
	Outcomes  *outcome.Notifier
	Log       *zap.Logger
	Hooks     Hooks
	Now       func() time.Time
}

type asyncResult struct {
	scoped bool   // preso à rodada selecionada quando foi disparado
	epoch  uint64 // época capturada no disparo
	apply  func()
}

type Engine struct {
	cfg   Config
	deps  Deps
	log   *zap.Logger
	hooks Hooks
	now   func() time.Time

	frames    chan domain.CountFrame
	roundMsgs chan domain.Round
	pushState chan bool
	notify    chan struct{}
	cmds      chan func()
	results   chan asyncResult
	done      chan struct{}

	bus *bus.Bus[Snapshot]

	// estado do loop: só Run toca daqui para baixo
	runCtx        context.Context
	stream        *stream.Consumer
	book          *rounds.Book
	tracker       rounds.Tracker
	selected      *rounds.Selection
	resolver      *baseline.Resolver
	ledger        *ledger.Ledger
	roundBaseline *int
	nextRoundAt   *time.Time
	connected     bool
	lastErr       string
	reconciling   bool
	baselineBusy  bool
	roundTimer    *time.Timer
	dirty         bool
}

// New monta o motor. Snapshots nil usa History como fonte de baseline.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Bets == nil {
		return nil, errors.New("engine: bet api is required")
	}
	if deps.Outcomes == nil {
		return nil, errors.New("engine: outcome notifier is required")
	}
	if deps.Snapshots == nil {
		if deps.History == nil {
			deps.History = baseline.NewHistory(4096)
		}
		deps.Snapshots = deps.History
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	def := DefaultConfig()
	if cfg.RoundGrace <= 0 {
		cfg.RoundGrace = def.RoundGrace
	}
	if cfg.DisplayTick <= 0 {
		cfg.DisplayTick = def.DisplayTick
	}
	if cfg.ReconcileEvery <= 0 {
		cfg.ReconcileEvery = def.ReconcileEvery
	}
	if cfg.RoundsRefresh <= 0 {
		cfg.RoundsRefresh = def.RoundsRefresh
	}
	if cfg.HealthRefresh <= 0 {
		cfg.HealthRefresh = def.HealthRefresh
	}
	if cfg.OptimisticGrace <= 0 {
		cfg.OptimisticGrace = def.OptimisticGrace
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = def.IOTimeout
	}
	if cfg.BusBuffer <= 0 {
		cfg.BusBuffer = def.BusBuffer
	}
	if cfg.Stream == (stream.Config{}) {
		cfg.Stream = def.Stream
	}

	return &Engine{
		cfg:       cfg,
		deps:      deps,
		log:       deps.Log.With(zap.String("component", "engine")),
		hooks:     deps.Hooks,
		now:       deps.Now,
		frames:    make(chan domain.CountFrame, 256),
		roundMsgs: make(chan domain.Round, 32),
		pushState: make(chan bool, 8),
		notify:    make(chan struct{}, 1),
		cmds:      make(chan func()),
		results:   make(chan asyncResult, 64),
		done:      make(chan struct{}),
		bus:       bus.New[Snapshot](cfg.BusBuffer),
		stream:    stream.New(cfg.Stream),
		book:      rounds.NewBook(),
		resolver:  baseline.New(deps.Snapshots),
		ledger:    ledger.New(ledger.WithClock(deps.Now), ledger.WithOptimisticGrace(cfg.OptimisticGrace)),
	}, nil
}

// Subscribe assina os snapshots publicados a cada mudança de estado
func (e *Engine) Subscribe() (<-chan Snapshot, func()) { return e.bus.Subscribe() }

// IngestFrame entrega um frame do push channel ao loop
func (e *Engine) IngestFrame(ctx context.Context, f domain.CountFrame) error {
	select {
	case e.frames <- f:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyRound entrega uma atualização de rodada (push channel)
func (e *Engine) ApplyRound(ctx context.Context, r domain.Round) error {
	select {
	case e.roundMsgs <- r:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetConnected informa o estado da conexão do push channel
func (e *Engine) SetConnected(connected bool) {
	select {
	case e.pushState <- connected:
	case <-e.done:
	}
}

// NotifyRoundsChanged pede um refresh imediato das rodadas (ex: NOTIFY do Postgres).
// Notificações em rajada colapsam em uma só.
func (e *Engine) NotifyRoundsChanged() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// do executa fn dentro do loop e espera terminar
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(finished) }:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

// SubmitBet valida o rascunho, cria a entrada otimista e dispara o envio.
// Erros de validação voltam na hora e nenhuma entrada é criada.
func (e *Engine) SubmitBet(ctx context.Context, d domain.BetDraft) (domain.Bet, error) {
	var (
		bet domain.Bet
		err error
	)
	if derr := e.do(ctx, func() { bet, err = e.submit(d) }); derr != nil {
		return domain.Bet{}, derr
	}
	return bet, err
}

// Dismiss dispensa o cartão de resultado da aposta (permanente)
func (e *Engine) Dismiss(ctx context.Context, betID string) error {
	return e.do(ctx, func() {
		e.deps.Outcomes.Dismiss(e.runCtx, betID)
		e.dirty = true
	})
}

// Snapshot retorna o estado atual
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := e.do(ctx, func() { s = e.snapshot() })
	return s, err
}

// Run executa o loop até ctx ser cancelado
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.bus.Close()
	e.runCtx = ctx

	display := time.NewTicker(e.cfg.DisplayTick)
	defer display.Stop()
	clock := time.NewTicker(time.Second)
	defer clock.Stop()
	reconcile := time.NewTicker(e.cfg.ReconcileEvery)
	defer reconcile.Stop()
	refresh := time.NewTicker(e.cfg.RoundsRefresh)
	defer refresh.Stop()
	health := time.NewTicker(e.cfg.HealthRefresh)
	defer health.Stop()
	e.roundTimer = time.NewTimer(time.Hour)
	e.roundTimer.Stop()
	defer e.roundTimer.Stop()

	if c := e.deps.Outcomes.Restore(ctx); c != nil {
		e.log.Info("outcome card restored", zap.String("bet_id", c.BetID))
	}
	e.startHealth()
	e.startRefresh()
	e.log.Info("engine started", zap.String("camera_id", e.cfg.CameraID))

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopping")
			return ctx.Err()

		case f := <-e.frames:
			e.onFrame(f)

		case r := <-e.roundMsgs:
			e.onRoundMessage(r)

		case c := <-e.pushState:
			e.onPushState(c)

		case <-e.notify:
			e.startRefresh()

		case cmd := <-e.cmds:
			cmd()

		case res := <-e.results:
			if res.scoped && res.epoch != e.tracker.Epoch() {
				e.log.Debug("dropping result from superseded round", zap.Uint64("epoch", res.epoch))
				continue
			}
			res.apply()

		case <-display.C:
			if len(e.stream.Drain(e.now())) > 0 {
				e.dirty = true
			}
			if e.dirty {
				e.dirty = false
				e.bus.Publish(e.snapshot())
			}

		case <-clock.C:
			// contagens regressivas
			if e.selected != nil || e.nextRoundAt != nil {
				e.dirty = true
			}

		case <-reconcile.C:
			if e.selected != nil {
				e.startReconcile()
				if e.roundBaseline == nil {
					e.startBaseline()
				}
			}

		case <-refresh.C:
			e.startRefresh()

		case <-health.C:
			e.startHealth()

		case <-e.roundTimer.C:
			e.reselect()
		}
	}
}

// post devolve um resultado de I/O ao loop
func (e *Engine) post(r asyncResult) {
	select {
	case e.results <- r:
	case <-e.done:
	}
}

// scoped cria um resultado preso à época capturada antes do I/O
func scoped(epoch uint64, apply func()) asyncResult {
	return asyncResult{scoped: true, epoch: epoch, apply: apply}
}

func (e *Engine) ioContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.runCtx, e.cfg.IOTimeout)
}

func (e *Engine) fail(stage string, err error) {
	if e.hooks.OnError != nil {
		e.hooks.OnError(stage, err)
	}
}
