package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retailvision/trinetra/internal/alerts"
	"github.com/retailvision/trinetra/internal/camera"
	"github.com/retailvision/trinetra/internal/config"
	"github.com/retailvision/trinetra/internal/crypto"
	"github.com/retailvision/trinetra/internal/eventlog"
	"github.com/retailvision/trinetra/internal/gallery"
	"github.com/retailvision/trinetra/internal/httpapi"
	"github.com/retailvision/trinetra/internal/identity"
	"github.com/retailvision/trinetra/internal/platform/paths"
	"github.com/retailvision/trinetra/internal/resolver"
)

const defaultMetricsPort = 9103
const galleryCacheSize = 4096

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := config.LoadEnv(defaultMetricsPort)

	db, err := sql.Open("postgres", env.PostgresDSN)
	if err != nil {
		log.Fatalf("resolver: open postgres: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("resolver: ping postgres: %v", err)
	}

	keyring := crypto.NewKeyring()
	if err := keyring.LoadFromEnv(); err != nil {
		log.Fatalf("resolver: load keyring: %v", err)
	}
	codec := crypto.NewRTSPURLCodec(keyring)

	camerasFile, err := config.LoadCamerasFile(env.CamerasConfig)
	if err != nil {
		log.Fatalf("resolver: load cameras config: %v", err)
	}
	registry := camera.NewRegistry(db, codec.Encrypt, codec.Decrypt)
	if err := registry.Load(ctx, camerasFile.Cameras); err != nil {
		log.Fatalf("resolver: load camera registry: %v", err)
	}

	travel, err := config.LoadTravelTimeMatrix(env.TravelTimeConfig)
	if err != nil {
		log.Printf("resolver: travel time config unavailable, gate runs with no known edges: %v", err)
		travel = nil
	}

	elog, err := eventlog.Connect(env.EventLogBoot)
	if err != nil {
		log.Fatalf("resolver: connect eventlog: %v", err)
	}
	defer elog.Close()

	// RESOLVER_TOPIC lets a billing-priority deployment subscribe to the
	// detections-billing mirror instead of the default detections topic,
	// the "separate consumer scaling" half of the DETECTIONS_TOPIC_MODE
	// decision — the default pool still sees every camera's events either way.
	detectionsTopic := eventlog.TopicDetections
	if t := strings.TrimSpace(os.Getenv("RESOLVER_TOPIC")); t != "" {
		detectionsTopic = t
	}
	sub, err := elog.Subscribe(detectionsTopic, env.ResolverGroup)
	if err != nil {
		log.Fatalf("resolver: subscribe to %s: %v", detectionsTopic, err)
	}
	fetcher := resolver.NewEventLogSubscription(sub)

	gal, err := gallery.New(db, galleryCacheSize)
	if err != nil {
		log.Fatalf("resolver: init gallery: %v", err)
	}

	spoolDir := strings.TrimSpace(os.Getenv("ALERT_SPOOL_DIR"))
	if spoolDir == "" {
		spoolDir = filepath.Join(paths.ResolveDataRoot(), "spool")
	}
	alertStore, err := alerts.New(db, elog, spoolDir)
	if err != nil {
		log.Fatalf("resolver: init alert store: %v", err)
	}

	engine := identity.NewEngine(gal, gal, travel, env.CosineThreshold, env.HistoryThreshold, float64(env.TemporalGateS))

	r := resolver.New(fetcher, elog, alertStore, registry, engine, env.AnnMaxFailures)

	live := httpapi.NewLiveHub()
	health := httpapi.NewHealthHandler(map[string]httpapi.Checker{
		"postgres": func() error { return db.PingContext(ctx) },
	})
	router := httpapi.Router(httpapi.RouterDeps{
		Health:         health,
		MetricsHandler: promhttp.Handler(),
		Live:           live,
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", env.MetricsPort), Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("resolver: http server: %v", err)
		}
	}()

	log.Printf("resolver: consuming detections in group %q", env.ResolverGroup)
	if err := r.Run(ctx); err != nil {
		log.Printf("resolver: run exited: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("resolver: http shutdown error: %v", err)
	}
	log.Println("resolver: stopped")
}
