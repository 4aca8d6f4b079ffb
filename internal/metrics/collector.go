package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FrameBusSampler is the subset of framebus.Bus the Collector polls.
// Narrowed to an interface so the ingestor and worker services can share
// this snapshot loop without importing each other's concrete types.
type FrameBusSampler interface {
	FillRatio(ctx context.Context, cameraID string) (float64, error)
}

// Collector runs a periodic snapshot loop that turns FrameBus fill
// ratios into gauges on its own registry, mirroring the teacher's
// ticker-driven collector but polling stream depth instead of a
// media-plane gRPC service and an SFU HTTP endpoint.
type Collector struct {
	bus       FrameBusSampler
	cameraIDs []string
	registry  *prometheus.Registry

	mu           sync.RWMutex
	lastSnapshot time.Time

	fillRatio *prometheus.GaugeVec
	up        prometheus.Gauge
}

func NewCollector(bus FrameBusSampler, cameraIDs []string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	c := &Collector{bus: bus, cameraIDs: cameraIDs, registry: reg}

	c.fillRatio = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "framebus_fill_ratio",
		Help: "Stream length divided by MAXLEN~ for a camera's FrameBus stream",
	}, []string{"camera_id"})
	reg.MustRegister(c.fillRatio)

	c.up = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "framebus_sampler_up",
		Help: "1 if the last FrameBus snapshot poll succeeded for every camera",
	})
	reg.MustRegister(c.up)

	return c
}

// Start takes one snapshot immediately, then runs the snapshot loop every
// 5s until ctx is canceled.
func (c *Collector) Start(ctx context.Context) {
	c.collect(ctx)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	ok := true
	for _, cameraID := range c.cameraIDs {
		sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		ratio, err := c.bus.FillRatio(sctx, cameraID)
		cancel()
		if err != nil {
			ok = false
			continue
		}
		c.fillRatio.WithLabelValues(cameraID).Set(ratio)
	}

	if ok {
		c.up.Set(1)
	} else {
		c.up.Set(0)
	}

	c.mu.Lock()
	c.lastSnapshot = time.Now()
	c.mu.Unlock()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
