package config

import (
	"os"
	"strconv"

	"github.com/retailvision/trinetra/internal/platform/paths"
)

// getEnv returns the environment variable value or a fallback default.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Env holds every environment-tunable knob named in the external
// interfaces contract. Each service reads the subset it needs.
type Env struct {
	FrameBusURL      string
	EventLogBoot     string
	SimSearchURL     string
	PostgresDSN      string
	FrameBufferMax   int
	BatchSize        int
	BatchTimeoutMS   int
	CosineThreshold  float64
	HistoryThreshold float64
	TemporalGateS    int
	CamerasConfig    string
	TravelTimeConfig string
	MetricsPort      int
	InternalToken    string
	WorkerGroup      string
	ResolverGroup    string
	AnnMaxFailures   int
	DetectionMode    string
}

// LoadEnv reads every recognized variable, applying the spec's defaults.
// defaultMetricsPort lets each service (ingestor/worker/resolver) pick its
// own default scrape port without three near-identical copies of this function.
func LoadEnv(defaultMetricsPort int) Env {
	return Env{
		FrameBusURL:      getEnv("FRAME_BUS_URL", "redis://localhost:6379"),
		EventLogBoot:     getEnv("EVENT_LOG_BOOTSTRAP", "localhost:9092"),
		SimSearchURL:     getEnv("SIM_SEARCH_URL", "http://localhost:6333"),
		PostgresDSN:      getEnv("POSTGRES_DSN", "postgres://localhost:5432/trinetra?sslmode=disable"),
		FrameBufferMax:   getEnvInt("FRAME_BUFFER_MAXLEN", 100),
		BatchSize:        getEnvInt("BATCH_SIZE", 4),
		BatchTimeoutMS:   getEnvInt("BATCH_TIMEOUT_MS", 20),
		CosineThreshold:  getEnvFloat("COSINE_THRESHOLD", 0.72),
		HistoryThreshold: getEnvFloat("HISTORY_THRESHOLD", 0.74),
		TemporalGateS:    getEnvInt("TEMPORAL_GATE_WINDOW_S", 3600),
		CamerasConfig:    getEnv("CAMERAS_CONFIG", paths.ResolveConfigPath("")),
		TravelTimeConfig: getEnv("TRAVEL_TIME_CONFIG", "./config/travel_time.yaml"),
		MetricsPort:      getEnvInt("METRICS_PORT", defaultMetricsPort),
		InternalToken:    getEnv("INTERNAL_SERVICE_TOKEN", "dev-secret-do-not-use-in-prod"),
		WorkerGroup:      getEnv("WORKER_GROUP", "inference-workers"),
		ResolverGroup:    getEnv("RESOLVER_GROUP", "identity-resolvers"),
		AnnMaxFailures:   getEnvInt("ANN_MAX_CONSECUTIVE_FAILURES", 20),
		DetectionMode:    getEnv("DETECTIONS_TOPIC_MODE", "single"),
	}
}
