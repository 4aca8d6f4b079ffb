package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retailvision/trinetra/internal/camera"
	"github.com/retailvision/trinetra/internal/config"
	"github.com/retailvision/trinetra/internal/crypto"
	"github.com/retailvision/trinetra/internal/framebus"
	"github.com/retailvision/trinetra/internal/httpapi"
	"github.com/retailvision/trinetra/internal/ingest"
	"github.com/retailvision/trinetra/internal/metrics"
	"github.com/retailvision/trinetra/internal/ratelimit"
)

const defaultMetricsPort = 9101

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := config.LoadEnv(defaultMetricsPort)

	db, err := sql.Open("postgres", env.PostgresDSN)
	if err != nil {
		log.Fatalf("ingestor: open postgres: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ingestor: ping postgres: %v", err)
	}

	keyring := crypto.NewKeyring()
	if err := keyring.LoadFromEnv(); err != nil {
		log.Fatalf("ingestor: load keyring: %v", err)
	}
	codec := crypto.NewRTSPURLCodec(keyring)

	camerasFile, err := config.LoadCamerasFile(env.CamerasConfig)
	if err != nil {
		log.Fatalf("ingestor: load cameras config: %v", err)
	}

	registry := camera.NewRegistry(db, codec.Encrypt, codec.Decrypt)
	if err := registry.Load(ctx, camerasFile.Cameras); err != nil {
		log.Fatalf("ingestor: load camera registry: %v", err)
	}

	watcher := config.NewWatcher(env.CamerasConfig, func() error {
		f, err := config.LoadCamerasFile(env.CamerasConfig)
		if err != nil {
			return err
		}
		return registry.Load(context.Background(), f.Cameras)
	})
	watcher.Start(ctx)

	bus := framebus.New(env.FrameBusURL, env.FrameBufferMax)
	defer bus.Close()

	group := ingest.NewGroup(ingest.NewTCPReader, bus)

	collector := metrics.NewCollector(bus, registry.IDs())
	go collector.Start(ctx)

	live := httpapi.NewLiveHub()
	health := httpapi.NewHealthHandler(map[string]httpapi.Checker{
		"postgres": func() error { return db.PingContext(ctx) },
		"framebus": func() error { return bus.Client().Ping(ctx).Err() },
	})
	router := httpapi.Router(httpapi.RouterDeps{
		Health:         health,
		MetricsHandler: promhttp.Handler(),
		Live:           live,
		Control: func(cr chi.Router) {
			cr.Handle("/framebus-snapshot", collector.Handler())
		},
		ControlLimiter: httpapi.NewLimiter(ratelimit.NewLimiter(bus.Client(), env.InternalToken)),
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", env.MetricsPort), Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ingestor: http server: %v", err)
		}
	}()

	log.Printf("ingestor: starting %d camera pipelines", len(registry.All()))
	group.Run(ctx, registry.All())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ingestor: http shutdown error: %v", err)
	}
	log.Println("ingestor: stopped")
}
