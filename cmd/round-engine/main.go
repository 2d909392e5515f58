package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/count-market-engine/internal/round-engine/api"
	"github.com/radieske/count-market-engine/internal/round-engine/baseline"
	"github.com/radieske/count-market-engine/internal/round-engine/console"
	"github.com/radieske/count-market-engine/internal/round-engine/engine"
	httpapi "github.com/radieske/count-market-engine/internal/round-engine/http"
	"github.com/radieske/count-market-engine/internal/round-engine/kv"
	"github.com/radieske/count-market-engine/internal/round-engine/outcome"
	"github.com/radieske/count-market-engine/internal/round-engine/producer"
	"github.com/radieske/count-market-engine/internal/round-engine/pubsub"
	"github.com/radieske/count-market-engine/internal/round-engine/push"
	"github.com/radieske/count-market-engine/internal/round-engine/repo"
	"github.com/radieske/count-market-engine/internal/round-engine/stream"
	"github.com/radieske/count-market-engine/internal/round-engine/ws"
	"github.com/radieske/count-market-engine/internal/shared/cache"
	"github.com/radieske/count-market-engine/internal/shared/config"
	"github.com/radieske/count-market-engine/internal/shared/db"
	"github.com/radieske/count-market-engine/internal/shared/kafka"
	"github.com/radieske/count-market-engine/internal/shared/logger"
	"github.com/radieske/count-market-engine/internal/shared/metrics"
)

func main() {
	// carrega config
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("config: %w", err))
	}

	// inicia logger
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	log.Info("starting service", zap.String("service", cfg.ServiceName), zap.String("env", cfg.Env), zap.String("camera_id", cfg.CameraID))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps := engine.Deps{Log: log}
	var checks []metrics.HealthFunc

	// Postgres (opcional): rodadas candidatas e snapshots de contagem
	if cfg.PostgresDSN != "" {
		pctx, pcancel := context.WithTimeout(ctx, 5*time.Second)
		pg, err := db.ConnectPostgres(pctx, cfg.PostgresDSN)
		pcancel()
		if err != nil {
			log.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pg.Close()
		log.Info("postgres connected")

		rr := &repo.ReadRepo{DB: pg}
		deps.Rounds = rr
		deps.Snapshots = rr
		checks = append(checks, pg.PingContext)
	} else {
		// sem banco o baseline vem do histórico em memória do próprio stream
		deps.History = baseline.NewHistory(8192)
		log.Info("postgres not configured, using in-memory count history")
	}

	// Redis (opcional): KV de resultados e broadcast de estado entre instâncias
	var (
		rdb   *redis.Client
		store kv.Store
	)
	if cfg.RedisAddr != "" {
		rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
		rdb, err = cache.ConnectRedis(rctx, cfg.RedisAddr)
		rcancel()
		if err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
		log.Info("redis connected")
		store = kv.NewRedis(rdb, 30*24*time.Hour)
		checks = append(checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	} else {
		sq, err := kv.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			log.Fatal("failed to open sqlite", zap.String("path", cfg.SQLitePath), zap.Error(err))
		}
		defer sq.Close()
		store = sq
		log.Info("sqlite kv ready", zap.String("path", cfg.SQLitePath))
	}

	// Kafka (opcional): eventos de resultado de aposta
	var pub outcome.Publisher
	if cfg.KafkaBrokers != "" {
		if cfg.Env == "local" {
			tctx, tcancel := context.WithTimeout(ctx, 5*time.Second)
			if err := kafka.EnsureTopic(tctx, cfg.KafkaBrokers, cfg.TopicBetOutcomes); err != nil {
				log.Warn("ensure topic failed", zap.String("topic", cfg.TopicBetOutcomes), zap.Error(err))
			}
			tcancel()
		}
		writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetOutcomes)
		defer writer.Close()
		pub = producer.NewOutcomePublisher(writer, cfg.CameraID, log)
		log.Info("kafka writer ready", zap.String("topic", cfg.TopicBetOutcomes))
	}
	deps.Outcomes = outcome.New(store, pub, log)

	// endpoint de apostas e /health
	client := api.New(cfg.BetsAPIURL, cfg.APIRate)
	deps.Bets = client
	deps.Health = client

	// métricas
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Hooks = metrics.NewEngineMetrics(reg).Hooks()

	ec := cfg.Engine
	scfg := stream.DefaultConfig()
	scfg.StaleAfter = ec.StaleAfter
	scfg.MaxDisplayDelay = ec.MaxDisplayDelay
	eng, err := engine.New(engine.Config{
		CameraID:        cfg.CameraID,
		RoundGrace:      ec.RoundGrace,
		DisplayTick:     ec.DisplayTick,
		ReconcileEvery:  ec.ReconcileEvery,
		RoundsRefresh:   ec.RoundsRefresh,
		HealthRefresh:   ec.HealthRefresh,
		OptimisticGrace: ec.OptimisticGrace,
		IOTimeout:       ec.IOTimeout,
		BusBuffer:       ec.BusBuffer,
		Stream:          scfg,
	}, deps)
	if err != nil {
		log.Fatal("engine init", zap.Error(err))
	}

	// fan-out de snapshots: Redis Pub/Sub quando disponível, senão direto ao hub
	hub := ws.NewHub(func(*http.Request) bool { return true }, log)
	var broadcaster pubsub.Publisher = ws.LocalPublisher{Hub: hub}
	if rdb != nil {
		broadcaster = pubsub.NewRedisBroadcaster(rdb)
		ws.StartRedisSubscriber(ctx, rdb, hub, log)
	}
	snaps, unsubscribe := eng.Subscribe()
	defer unsubscribe()
	go pubsub.Forward(ctx, snaps, cfg.CameraID, broadcaster, log)

	if cfg.Env == "local" {
		csnaps, cunsub := eng.Subscribe()
		defer cunsub()
		go console.New(ec.ConsoleEvery).Run(ctx, csnaps)
	}

	// push channel
	pc := &push.Client{URL: cfg.PushURL, Log: log, Sink: eng}
	go pc.Start(ctx)

	// NOTIFY de rodadas novas evita esperar o próximo refresh
	if cfg.PostgresDSN != "" {
		go func() {
			err := repo.Listen(ctx, cfg.PostgresDSN, cfg.RoundNotifyChannel, log, func(payload string) {
				if r, ok := repo.ParseNotify(payload); ok {
					if err := eng.ApplyRound(ctx, r); err != nil {
						log.Debug("apply notified round failed", zap.Error(err))
					}
					return
				}
				eng.NotifyRoundsChanged()
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("round listener stopped", zap.Error(err))
			}
		}()
	}

	// metrics/health
	checks = append(checks, func(ctx context.Context) error {
		_, err := eng.Snapshot(ctx)
		return err
	})
	msrv := metrics.StartMetricsServer(cfg.MetricsPort, reg, func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	log.Info("metrics/health server starting", zap.String("addr", msrv.Addr))

	// HTTP público
	a := &httpapi.API{Engine: eng, WS: hub.HandleWS, Log: log}
	apiSrv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("round-engine listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server failed", zap.Error(err))
			cancel()
		}
	}()

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("engine stopped", zap.Error(err))
	}

	log.Info("shutting down")
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = apiSrv.Shutdown(sctx)
	_ = msrv.Shutdown(sctx)
}
