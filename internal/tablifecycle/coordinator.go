// Package tablifecycle implements the Tab/Nav Lifecycle (spec §4.J): the
// coordinator invoked on tab-close and top-frame navigation events,
// tearing down per-tab detection/registry state while leaving downloads
// untouched (they outlive their originating tab unless explicitly
// canceled).
package tablifecycle

import (
	"log/slog"

	"github.com/streamcore/streamcore/internal/detection"
	"github.com/streamcore/streamcore/internal/observability"
	"github.com/streamcore/streamcore/internal/registry"
)

// RateLimiter is the narrow seam onto ratelimit.Limiter needed here,
// mirroring the test-seam pattern used for enrichment.HelperCaller and
// downloads.HelperStreamer.
type RateLimiter interface {
	CancelTab(tabID int64)
}

// DownloadTracker is the narrow seam onto downloads.Orchestrator needed
// here.
type DownloadTracker interface {
	MarkTabOutlived(tabID int64)
}

// Coordinator wires tab-close/navigation events to the three components
// that own per-tab state (spec §4.J).
type Coordinator struct {
	registry  *registry.Registry
	detection *detection.Context
	limiter   RateLimiter
	downloads DownloadTracker
	logger    *slog.Logger
}

// New creates a Coordinator.
func New(reg *registry.Registry, det *detection.Context, limiter RateLimiter, downloads DownloadTracker, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		registry:  reg,
		detection: det,
		limiter:   limiter,
		downloads: downloads,
		logger:    observability.WithComponent(logger, "tablifecycle"),
	}
}

// TabClosed implements spec §4.J's tab-close handling: destroy the
// Registry's and DetectionContext's state for the tab, cancel any
// queued rate-limited invocations tagged to it, and notify the
// Orchestrator — which takes no action beyond bookkeeping, since
// downloads are never implicitly canceled.
func (c *Coordinator) TabClosed(tabID int64) {
	c.registry.Destroy(tabID)
	c.detection.Cleanup(tabID)
	c.limiter.CancelTab(tabID)
	c.downloads.MarkTabOutlived(tabID)
	c.logger.Debug("tab closed, detection state torn down", slog.Int64("tabId", tabID))
}

// TopFrameNavigated implements spec §4.J's navigation-commit handling:
// identical to tab close for detection state. Downloads continue
// uninterrupted — no call into DownloadTracker is made here, since a
// navigation is not a tab-close event and must not affect active
// downloads' lifecycle at all.
func (c *Coordinator) TopFrameNavigated(tabID int64) {
	c.registry.Destroy(tabID)
	c.detection.Cleanup(tabID)
	c.limiter.CancelTab(tabID)
	c.logger.Debug("top-frame navigation committed, detection state reset", slog.Int64("tabId", tabID))
}
