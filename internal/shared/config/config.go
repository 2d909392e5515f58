package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ctopics "github.com/radieske/count-market-engine/pkg/contracts/topics"
)

// Config centraliza variáveis de ambiente e parâmetros de execução dos serviços
// Inclui conexões, tópicos, canais, URLs e portas
type Config struct {
	Env         string // "local", "dev", "prod"
	ServiceName string // ex: "round-engine", "count-simulator"

	PostgresDSN  string // vazio desliga rodadas/snapshots via banco
	RedisAddr    string // vazio usa KV local e broadcast em processo
	KafkaBrokers string // "a:9092,b:9092"; vazio desliga eventos de resultado
	SQLitePath   string // KV local quando não há Redis (":memory:" para testes)

	// Tópicos/canais
	TopicBetOutcomes   string
	RoundNotifyChannel string

	// Colaboradores
	PushURL    string // ws do pipeline de contagem
	BetsAPIURL string // endpoint de apostas e /health
	APIRate    float64
	CameraID   string

	// Portas do serviço atual
	HTTPPort    string // Porta pública (ex.: API REST)
	MetricsPort string // Porta exclusiva para /metrics e /healthz

	Engine Engine
}

// Engine são os ajustes finos do motor; podem vir de ENGINE_CONFIG_FILE (yaml)
type Engine struct {
	RoundGrace      time.Duration
	DisplayTick     time.Duration
	ReconcileEvery  time.Duration
	RoundsRefresh   time.Duration
	HealthRefresh   time.Duration
	OptimisticGrace time.Duration
	IOTimeout       time.Duration
	StaleAfter      time.Duration
	MaxDisplayDelay time.Duration
	BusBuffer       int
	ConsoleEvery    time.Duration
}

// engineFile é o formato do yaml; durações como "2m", "50ms"
type engineFile struct {
	RoundGrace      string `yaml:"round_grace"`
	DisplayTick     string `yaml:"display_tick"`
	ReconcileEvery  string `yaml:"reconcile_every"`
	RoundsRefresh   string `yaml:"rounds_refresh"`
	HealthRefresh   string `yaml:"health_refresh"`
	OptimisticGrace string `yaml:"optimistic_grace"`
	IOTimeout       string `yaml:"io_timeout"`
	StaleAfter      string `yaml:"stale_after"`
	MaxDisplayDelay string `yaml:"max_display_delay"`
	BusBuffer       int    `yaml:"bus_buffer"`
	ConsoleEvery    string `yaml:"console_every"`
}

// Load carrega a config do motor de rodadas
func Load() (Config, error) { return LoadService("round-engine") }

// LoadService carrega .env (se existir), variáveis de ambiente e o yaml do motor.
// SERVICE_NAME, quando definido, prevalece sobre service e resolve as portas.
func LoadService(service string) (Config, error) {
	_ = godotenv.Load()

	svc := getEnv("SERVICE_NAME", service)
	env := getEnv("ENV", "local")

	cfg := Config{
		Env:         env,
		ServiceName: svc,

		PostgresDSN:  getEnv("POSTGRES_DSN", ""),
		RedisAddr:    getEnv("REDIS_ADDR", ""),
		KafkaBrokers: getEnv("KAFKA_BROKERS", ""),
		SQLitePath:   getEnv("SQLITE_PATH", "engine.db"),

		TopicBetOutcomes:   getEnv("KAFKA_TOPIC_BET_OUTCOMES", ctopics.BetOutcomes),
		RoundNotifyChannel: getEnv("PG_ROUND_CHANNEL", ctopics.RoundChanges),

		PushURL:    getEnv("PUSH_URL", "ws://localhost:8081/ws"),
		BetsAPIURL: getEnv("BETS_API_URL", "http://localhost:8081"),
		CameraID:   getEnv("CAMERA_ID", "cam-1"),

		Engine: Engine{
			RoundGrace:      2 * time.Minute,
			DisplayTick:     50 * time.Millisecond,
			ReconcileEvery:  5 * time.Second,
			RoundsRefresh:   10 * time.Second,
			HealthRefresh:   30 * time.Second,
			OptimisticGrace: 15 * time.Second,
			IOTimeout:       5 * time.Second,
			StaleAfter:      350 * time.Millisecond,
			MaxDisplayDelay: 2 * time.Second,
			BusBuffer:       8,
			ConsoleEvery:    time.Second,
		},
	}

	rate, err := strconv.ParseFloat(getEnv("BETS_API_RATE", "10"), 64)
	if err != nil {
		return cfg, fmt.Errorf("BETS_API_RATE: %w", err)
	}
	cfg.APIRate = rate

	// Define portas padrão para cada serviço
	switch svc {
	case "count-simulator":
		cfg.HTTPPort = getEnv("HTTP_PORT_SIMULATOR", "8081")
		cfg.MetricsPort = getEnv("METRICS_PORT_SIMULATOR", "9094")
	default:
		cfg.HTTPPort = getEnv("HTTP_PORT", "8080")
		cfg.MetricsPort = getEnv("METRICS_PORT", "9095")
	}

	if path := getEnv("ENGINE_CONFIG_FILE", ""); path != "" {
		if err := loadEngineFile(path, &cfg.Engine); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// loadEngineFile sobrepõe apenas os campos presentes no yaml
func loadEngineFile(path string, e *Engine) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	var f engineFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse %q: %w", path, err)
	}

	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"round_grace", f.RoundGrace, &e.RoundGrace},
		{"display_tick", f.DisplayTick, &e.DisplayTick},
		{"reconcile_every", f.ReconcileEvery, &e.ReconcileEvery},
		{"rounds_refresh", f.RoundsRefresh, &e.RoundsRefresh},
		{"health_refresh", f.HealthRefresh, &e.HealthRefresh},
		{"optimistic_grace", f.OptimisticGrace, &e.OptimisticGrace},
		{"io_timeout", f.IOTimeout, &e.IOTimeout},
		{"stale_after", f.StaleAfter, &e.StaleAfter},
		{"max_display_delay", f.MaxDisplayDelay, &e.MaxDisplayDelay},
		{"console_every", f.ConsoleEvery, &e.ConsoleEvery},
	}
	for _, fl := range fields {
		if fl.raw == "" {
			continue
		}
		d, err := time.ParseDuration(fl.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", fl.name, err)
		}
		*fl.dst = d
	}
	if f.BusBuffer > 0 {
		e.BusBuffer = f.BusBuffer
	}
	return nil
}

// getEnv retorna o valor da variável de ambiente ou o default
func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
