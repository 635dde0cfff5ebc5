package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcore/streamcore/internal/config"
	"github.com/streamcore/streamcore/internal/detection"
	"github.com/streamcore/streamcore/internal/models"
	"github.com/streamcore/streamcore/internal/observability"
	"github.com/streamcore/streamcore/internal/ratelimit"
	"github.com/streamcore/streamcore/internal/registry"
	"github.com/streamcore/streamcore/internal/tablifecycle"
)

type noopDownloadTracker struct{ calls []int64 }

func (n *noopDownloadTracker) MarkTabOutlived(tabID int64) { n.calls = append(n.calls, tabID) }

func TestLifecycleHandler_TabClosed_DestroysTabState(t *testing.T) {
	log := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	reg := registry.New()
	det := detection.New()
	limiter := ratelimit.New(ratelimit.DefaultConfig())
	defer limiter.Stop()
	tracker := &noopDownloadTracker{}

	reg.Upsert(11, &models.Stream{URL: "https://example.com/x.mp4", Canonical: "https://example.com/x.mp4", TabID: 11, Kind: models.KindDirect, DetectedAt: time.Now()})

	coord := tablifecycle.New(reg, det, limiter, tracker, log)
	handler := NewLifecycleHandler(coord)

	out, err := handler.TabClosed(context.Background(), &TabLifecycleInput{TabID: 11})
	require.NoError(t, err)
	assert.True(t, out.Body.Accepted)
	assert.Empty(t, reg.VisibleStreams(11))
	assert.Equal(t, []int64{11}, tracker.calls)
}

func TestLifecycleHandler_TopFrameNavigated_DoesNotNotifyDownloadTracker(t *testing.T) {
	log := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	reg := registry.New()
	det := detection.New()
	limiter := ratelimit.New(ratelimit.DefaultConfig())
	defer limiter.Stop()
	tracker := &noopDownloadTracker{}

	coord := tablifecycle.New(reg, det, limiter, tracker, log)
	handler := NewLifecycleHandler(coord)

	out, err := handler.TopFrameNavigated(context.Background(), &TabLifecycleInput{TabID: 22})
	require.NoError(t, err)
	assert.True(t, out.Body.Accepted)
	assert.Empty(t, tracker.calls)
}
