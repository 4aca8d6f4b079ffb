package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retailvision/trinetra/internal/camera"
	"github.com/retailvision/trinetra/internal/config"
	"github.com/retailvision/trinetra/internal/crypto"
	"github.com/retailvision/trinetra/internal/eventlog"
	"github.com/retailvision/trinetra/internal/framebus"
	"github.com/retailvision/trinetra/internal/httpapi"
	"github.com/retailvision/trinetra/internal/operator"
	"github.com/retailvision/trinetra/internal/tracker"
	"github.com/retailvision/trinetra/internal/worker"
)

const defaultMetricsPort = 9102

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := config.LoadEnv(defaultMetricsPort)

	db, err := sql.Open("postgres", env.PostgresDSN)
	if err != nil {
		log.Fatalf("worker: open postgres: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("worker: ping postgres: %v", err)
	}

	keyring := crypto.NewKeyring()
	if err := keyring.LoadFromEnv(); err != nil {
		log.Fatalf("worker: load keyring: %v", err)
	}
	codec := crypto.NewRTSPURLCodec(keyring)

	camerasFile, err := config.LoadCamerasFile(env.CamerasConfig)
	if err != nil {
		log.Fatalf("worker: load cameras config: %v", err)
	}

	registry := camera.NewRegistry(db, codec.Encrypt, codec.Decrypt)
	if err := registry.Load(ctx, camerasFile.Cameras); err != nil {
		log.Fatalf("worker: load camera registry: %v", err)
	}

	bus := framebus.New(env.FrameBusURL, env.FrameBufferMax)
	defer bus.Close()

	elog, err := eventlog.Connect(env.EventLogBoot)
	if err != nil {
		log.Fatalf("worker: connect eventlog: %v", err)
	}
	defer elog.Close()

	detector, embedder := buildOperators(env.BatchSize)
	defer detector.Close()
	defer embedder.Close()

	trackers := tracker.NewManager(bus)

	billing := map[string]bool{}
	for _, c := range registry.ByType(config.CameraBilling) {
		billing[c.CameraID] = true
	}

	w := worker.New(bus, elog, detector, embedder, trackers, worker.Config{
		CameraIDs:      registry.IDs(),
		BillingCameras: billing,
		Group:          env.WorkerGroup,
		BatchSize:      env.BatchSize,
		BatchTimeoutMS: env.BatchTimeoutMS,
		DetectionMode:  env.DetectionMode,
	})

	live := httpapi.NewLiveHub()
	health := httpapi.NewHealthHandler(map[string]httpapi.Checker{
		"postgres": func() error { return db.PingContext(ctx) },
		"framebus": func() error { return bus.Client().Ping(ctx).Err() },
	})
	router := httpapi.Router(httpapi.RouterDeps{
		Health:         health,
		MetricsHandler: promhttp.Handler(),
		Live:           live,
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", env.MetricsPort), Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("worker: http server: %v", err)
		}
	}()

	log.Printf("worker: consuming %d cameras in group %q", len(registry.IDs()), env.WorkerGroup)
	if err := w.Run(ctx); err != nil {
		log.Printf("worker: run exited: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("worker: http shutdown error: %v", err)
	}
	log.Println("worker: stopped")
}

// buildOperators picks ONNX-backed operators when DETECTOR_MODEL_PATH and
// EMBEDDER_MODEL_PATH point at real model files, falling back to the
// deterministic mock operators for local development otherwise — same
// env-gated real-or-mock split the teacher's ai-service entrypoint uses
// for its own detector init.
func buildOperators(batchSize int) (operator.Detector, operator.Embedder) {
	var detector operator.Detector
	var embedder operator.Embedder

	if path := strings.TrimSpace(os.Getenv("DETECTOR_MODEL_PATH")); path != "" {
		threshold := getEnvFloat32("DETECTOR_CONFIDENCE_THRESHOLD", 0.5)
		threads := getEnvInt("OPERATOR_INTRA_OP_THREADS", 1)
		d, err := operator.NewONNXDetector(path, threshold, threads, batchSize)
		if err != nil {
			log.Printf("worker: ONNX detector init failed, falling back to mock: %v", err)
			detector = operator.NewMockDetector(1)
		} else {
			detector = d
		}
	} else {
		detector = operator.NewMockDetector(1)
	}

	if path := strings.TrimSpace(os.Getenv("EMBEDDER_MODEL_PATH")); path != "" {
		threads := getEnvInt("OPERATOR_INTRA_OP_THREADS", 1)
		e, err := operator.NewONNXEmbedder(path, threads)
		if err != nil {
			log.Printf("worker: ONNX embedder init failed, falling back to mock: %v", err)
			embedder = operator.NewMockEmbedder()
		} else {
			embedder = e
		}
	} else {
		embedder = operator.NewMockEmbedder()
	}

	return detector, embedder
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}

func getEnvFloat32(key string, fallback float32) float32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var f float32
	if _, err := fmt.Sscanf(v, "%f", &f); err != nil {
		return fallback
	}
	return f
}
