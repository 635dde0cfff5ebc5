package tablifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamcore/streamcore/internal/config"
	"github.com/streamcore/streamcore/internal/detection"
	"github.com/streamcore/streamcore/internal/models"
	"github.com/streamcore/streamcore/internal/observability"
	"github.com/streamcore/streamcore/internal/registry"
)

type fakeLimiter struct {
	canceledTabs []int64
}

func (f *fakeLimiter) CancelTab(tabID int64) {
	f.canceledTabs = append(f.canceledTabs, tabID)
}

type fakeDownloadTracker struct {
	notified []int64
}

func (f *fakeDownloadTracker) MarkTabOutlived(tabID int64) {
	f.notified = append(f.notified, tabID)
}

func newTestCoordinator() (*Coordinator, *registry.Registry, *detection.Context, *fakeLimiter, *fakeDownloadTracker) {
	reg := registry.New()
	det := detection.New()
	limiter := &fakeLimiter{}
	tracker := &fakeDownloadTracker{}
	logger := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	return New(reg, det, limiter, tracker, logger), reg, det, limiter, tracker
}

func TestTabClosed_TearsDownRegistryAndDetectionAndCancelsAndNotifies(t *testing.T) {
	c, reg, det, limiter, tracker := newTestCoordinator()

	reg.Upsert(7, &models.Stream{URL: "https://cdn/a.m3u8", Canonical: "https://cdn/a.m3u8", TabID: 7, Kind: models.KindHLS})
	det.MarkMPD(7)

	c.TabClosed(7)

	assert.Empty(t, reg.VisibleStreams(7))
	assert.False(t, det.HasMPDContext(7))
	assert.Equal(t, []int64{7}, limiter.canceledTabs)
	assert.Equal(t, []int64{7}, tracker.notified)
}

func TestTopFrameNavigated_TearsDownDetectionStateButDoesNotTouchDownloads(t *testing.T) {
	c, reg, det, limiter, tracker := newTestCoordinator()

	reg.Upsert(7, &models.Stream{URL: "https://cdn/a.m3u8", Canonical: "https://cdn/a.m3u8", TabID: 7, Kind: models.KindHLS})
	det.MarkMPD(7)

	c.TopFrameNavigated(7)

	assert.Empty(t, reg.VisibleStreams(7))
	assert.False(t, det.HasMPDContext(7))
	assert.Equal(t, []int64{7}, limiter.canceledTabs)
	assert.Empty(t, tracker.notified, "navigation must not touch the download orchestrator")
}
