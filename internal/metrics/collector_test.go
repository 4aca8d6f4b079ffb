package metrics_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/retailvision/trinetra/internal/metrics"
)

type fakeSampler struct {
	ratios map[string]float64
	err    error
}

func (f *fakeSampler) FillRatio(ctx context.Context, cameraID string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.ratios[cameraID], nil
}

func TestCollector_ExposesFillRatio(t *testing.T) {
	sampler := &fakeSampler{ratios: map[string]float64{"cam_01": 0.42}}
	c := metrics.NewCollector(sampler, []string{"cam_01"})

	c.Start(contextWithImmediateCancel(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	require.Contains(t, rec.Body.String(), "framebus_fill_ratio")
}

func contextWithImmediateCancel(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestCollector_HandlerServesPlainText(t *testing.T) {
	sampler := &fakeSampler{}
	c := metrics.NewCollector(sampler, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	require.True(t, strings.Contains(rec.Header().Get("Content-Type"), "text/plain"))
}
