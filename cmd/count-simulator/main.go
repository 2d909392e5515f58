package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	simulator "github.com/radieske/count-market-engine/internal/count-simulator"
	"github.com/radieske/count-market-engine/internal/shared/config"
	"github.com/radieske/count-market-engine/internal/shared/logger"
	"github.com/radieske/count-market-engine/internal/shared/metrics"
)

func main() {
	cfg, err := config.LoadService("count-simulator")
	if err != nil {
		panic(fmt.Errorf("config: %w", err))
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	threshold, _ := strconv.Atoi(envOr("SIM_THRESHOLD", "20"))
	reorder, _ := strconv.ParseFloat(envOr("SIM_REORDER_RATE", "0.05"), 64)

	world := simulator.NewWorld(simulator.Options{
		CameraID:    cfg.CameraID,
		Timing:      simulator.DefaultTiming(),
		Threshold:   threshold,
		ReorderRate: reorder,
		Seed:        time.Now().UnixNano(),
	})

	reg := prometheus.NewRegistry()
	srv := simulator.NewServer(world, simulator.NewMetrics(reg), log)

	// Gera frames de contagem e mudanças de rodada a cada tick
	go srv.Run(ctx, 250*time.Millisecond)

	msrv := metrics.StartMetricsServer(cfg.MetricsPort, reg, func(context.Context) error { return nil })
	log.Info("count simulator (metrics) running",
		zap.String("addr", msrv.Addr),
		zap.String("paths", "/healthz,/metrics"),
	)

	// Servidor público (WS + bets + health)
	public := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = public.Shutdown(sctx)
		_ = msrv.Shutdown(sctx)
	}()

	log.Info("count simulator (public) running",
		zap.String("addr", public.Addr),
		zap.String("paths", "/ws,/bets,/health"),
	)
	if err := public.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("public server error", zap.Error(err))
	}
}
