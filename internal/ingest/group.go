package ingest

import (
	"context"
	"sync"

	"github.com/retailvision/trinetra/internal/camera"
)

// Group runs one CameraPipeline per configured camera concurrently — one
// independent task group per camera, as opposed to the teacher's
// NVRMonitor bounded-worker-pool-over-many-targets model: TRINETRA's
// camera count is the roster size, not a fleet large enough to need
// pooling.
type Group struct {
	factory ReaderFactory
	bus     Publisher
}

func NewGroup(factory ReaderFactory, bus Publisher) *Group {
	return &Group{factory: factory, bus: bus}
}

// Run starts a pipeline per camera and blocks until ctx is cancelled and
// every pipeline has returned.
func (g *Group) Run(ctx context.Context, cams []camera.Camera) {
	var wg sync.WaitGroup
	for _, cam := range cams {
		cam := cam
		wg.Add(1)
		go func() {
			defer wg.Done()
			NewCameraPipeline(cam, g.factory, g.bus).Run(ctx)
		}()
	}
	wg.Wait()
}
