// Package downloads implements the Download Orchestrator (spec §4.H):
// download lifecycle, cancellation, duplicate suppression, persistence,
// concurrency cap with FIFO promotion, codec-fallback retry, and history.
//
// Grounded on the teacher's internal/repository/job_repo.go (GORM
// repository, driver-aware acquire) and internal/service/progress
// (throttled/terminal broadcast split), translated from a polled job
// queue to a push-driven streaming helper relay.
package downloads

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/streamcore/streamcore/internal/helperclient"
	"github.com/streamcore/streamcore/internal/models"
	"github.com/streamcore/streamcore/internal/observability"
	"github.com/streamcore/streamcore/internal/repository"
)

// codecFallbackPhrase is the literal helper error text that triggers the
// one-shot webm retry (spec §4.H).
const codecFallbackPhrase = "codec not currently supported in container"

// retentionGrace is how long a terminal Download stays in the active map
// after completion, so late-joining observers still see its final state
// (spec §4.H: "remove from active map after a configurable retention for
// UI grace").
const retentionGrace = 10 * time.Second

// HelperStreamer is the narrow Helper Client view the orchestrator needs.
type HelperStreamer interface {
	CallStreaming(ctx context.Context, command string, payload map[string]any, onProgress func(helperclient.Message)) (helperclient.Message, error)
}

// Broadcaster is the narrow UI Fan-out view the orchestrator needs,
// satisfied by the fanout package's Registry.
type Broadcaster interface {
	BroadcastTab(tabID int64, event string, payload any)
}

// StartRequest is the UI's `download` command payload (spec §6).
type StartRequest struct {
	DownloadURL            string
	Filename                string
	SavePath                string
	Type                    models.DownloadType
	PreferredContainer      string
	OriginalContainer       string
	AudioOnly               bool
	StreamSelection         string
	MasterURL               string
	DurationSec             float64
	Headers                 map[string]string
	TabID                   int64
	SelectedOptionOrigText  string
	VideoDataSnapshot       string
}

// Orchestrator coordinates download lifecycle across the active map,
// persistence, the Helper Client, and UI broadcast.
type Orchestrator struct {
	downloadRepo repository.DownloadRepository
	historyRepo  repository.HistoryRepository
	helper       HelperStreamer
	broadcaster  Broadcaster
	logger       *slog.Logger

	maxConcurrentDownloads int
	maxHistorySize         int

	mu       sync.Mutex
	active   map[string]*models.Download // downloadUrl -> Download
	queue    []string                    // FIFO of downloadUrl waiting for a concurrency slot
	canceled map[string]bool             // downloadUrl -> cancellation requested
	pending  map[string]StartRequest     // downloadUrl -> original start payload, for queued downloads
}

// New creates a Download Orchestrator.
func New(downloadRepo repository.DownloadRepository, historyRepo repository.HistoryRepository, helper HelperStreamer, broadcaster Broadcaster, maxConcurrentDownloads, maxHistorySize int, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		downloadRepo:           downloadRepo,
		historyRepo:            historyRepo,
		helper:                 helper,
		broadcaster:            broadcaster,
		logger:                 observability.WithComponent(logger, "downloads"),
		maxConcurrentDownloads: maxConcurrentDownloads,
		maxHistorySize:         maxHistorySize,
		active:                 make(map[string]*models.Download),
		canceled:               make(map[string]bool),
		pending:                make(map[string]StartRequest),
	}
}

// Restore implements spec §4.H's restoration: load the active-downloads
// list from storage without contacting the helper. In-flight helper
// processes report their own progress after the UI/helper reconnects.
func (o *Orchestrator) Restore(ctx context.Context) error {
	downloads, err := o.downloadRepo.GetAllActive(ctx)
	if err != nil {
		return fmt.Errorf("restoring active downloads: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, d := range downloads {
		o.active[d.DownloadURL] = d
		if d.Status == models.DownloadStatusQueued {
			o.queue = append(o.queue, d.DownloadURL)
		}
	}
	o.logger.Info("restored active downloads", slog.Int("count", len(downloads)))
	return nil
}

// Start implements spec §4.H's start sequence. Returns the Download
// record (either newly created, or the existing one if req.DownloadURL
// was already active — spec's "do not duplicate" dedup rule).
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*models.Download, error) {
	o.mu.Lock()
	if existing, ok := o.active[req.DownloadURL]; ok {
		snapshot := *existing
		o.mu.Unlock()
		o.broadcastProgress(&snapshot)
		return &snapshot, nil
	}

	d := &models.Download{
		DownloadURL:            req.DownloadURL,
		MasterURL:               req.MasterURL,
		TabID:                   req.TabID,
		Filename:                req.Filename,
		Type:                    req.Type,
		SelectedOptionOrigText:  req.SelectedOptionOrigText,
		VideoDataSnapshot:       req.VideoDataSnapshot,
		StartedAt:               time.Now(),
	}

	runningCount := o.runningCountLocked()
	if runningCount >= o.maxConcurrentDownloads {
		d.Status = models.DownloadStatusQueued
		o.queue = append(o.queue, d.DownloadURL)
		o.pending[d.DownloadURL] = req
	} else {
		d.Status = models.DownloadStatusDownloading
	}
	o.active[d.DownloadURL] = d
	o.mu.Unlock()

	if err := o.downloadRepo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("persisting download: %w", err)
	}

	if d.Status == models.DownloadStatusQueued {
		o.broadcaster.BroadcastTab(d.TabID, "download-queued", d)
		return d, nil
	}

	o.broadcaster.BroadcastTab(d.TabID, "download-started", d)
	go o.run(context.Background(), req, d)
	return d, nil
}

// runningCountLocked counts Downloads currently in `downloading` status.
// Callers must hold o.mu.
func (o *Orchestrator) runningCountLocked() int {
	n := 0
	for _, d := range o.active {
		if d.Status == models.DownloadStatusDownloading {
			n++
		}
	}
	return n
}

// run drives the streaming helper call for one Download and relays
// progress/terminal frames. It is the only place that forces the
// codec-fallback retry and promotes the next queued Download.
func (o *Orchestrator) run(ctx context.Context, req StartRequest, d *models.Download) {
	defer o.finish(ctx, d)

	payload := downloadPayload(req, d.Filename)
	result, err := o.helper.CallStreaming(ctx, "download", payload, func(progress helperclient.Message) {
		o.applyProgress(d, progress)
	})

	if err != nil && isCodecFallbackError(err, req) && !d.CodecFallbackAttempted {
		d.CodecFallbackAttempted = true
		fallbackFilename := forceWebmExtension(d.Filename)
		o.logger.Info("retrying download with webm fallback", slog.String("url", req.DownloadURL), slog.String("filename", fallbackFilename))
		payload = downloadPayload(req, fallbackFilename)
		result, err = o.helper.CallStreaming(ctx, "download", payload, func(progress helperclient.Message) {
			o.applyProgress(d, progress)
		})
	}

	o.mu.Lock()
	canceled := o.canceled[d.DownloadURL]
	delete(o.canceled, d.DownloadURL)
	switch {
	case canceled:
		d.Status = models.DownloadStatusCanceled
	case err != nil:
		d.Status = models.DownloadStatusError
		d.ErrorMessage = err.Error()
	default:
		d.Status = models.DownloadStatusCompleted
		if path, _ := result["path"].(string); path != "" {
			d.Filename = path
		}
	}
	o.mu.Unlock()
}

// applyProgress updates d in place and broadcasts download-progress per
// spec §4.H step 5. Progress frames for the same Download are applied
// and broadcast in arrival order (no reordering, spec §5).
func (o *Orchestrator) applyProgress(d *models.Download, frame helperclient.Message) {
	o.mu.Lock()
	if progress, ok := frame["progress"].(float64); ok {
		d.Progress = progress
	}
	if speed, ok := frame["speed"].(string); ok {
		d.Speed = speed
	}
	if eta, ok := frame["eta"].(string); ok {
		d.ETA = eta
	}
	if seg, ok := frame["currentSegment"].(float64); ok {
		d.CurrentSegment = int(seg)
	}
	if total, ok := frame["totalSegments"].(float64); ok {
		d.TotalSegments = int(total)
	}
	if downloaded, ok := frame["downloaded"].(float64); ok {
		d.DownloadedBytes = int64(downloaded)
	}
	if size, ok := frame["size"].(float64); ok {
		d.TotalBytes = int64(size)
	}
	o.mu.Unlock()

	o.broadcastProgress(d)
}

func (o *Orchestrator) broadcastProgress(d *models.Download) {
	o.broadcaster.BroadcastTab(d.TabID, "download-progress", d)
}

// finish persists the terminal state, appends history for
// success/error (not canceled, per spec §4.H), removes d from the
// active map after a UI grace period, and promotes the next queued
// Download.
func (o *Orchestrator) finish(ctx context.Context, d *models.Download) {
	if err := o.downloadRepo.Update(ctx, d); err != nil {
		o.logger.Error("persisting terminal download state failed", slog.String("url", d.DownloadURL), slog.Any("error", err))
	}

	switch d.Status {
	case models.DownloadStatusCompleted:
		o.appendHistory(ctx, d)
		o.broadcaster.BroadcastTab(d.TabID, "download-success", d)
	case models.DownloadStatusError:
		o.appendHistory(ctx, d)
		o.broadcaster.BroadcastTab(d.TabID, "download-error", d)
	case models.DownloadStatusCanceled:
		o.broadcaster.BroadcastTab(d.TabID, "download-canceled", d)
	}

	time.AfterFunc(retentionGrace, func() {
		o.mu.Lock()
		delete(o.active, d.DownloadURL)
		o.mu.Unlock()
	})

	o.promoteNext(ctx)
}

func (o *Orchestrator) appendHistory(ctx context.Context, d *models.Download) {
	entry := models.NewHistoryEntryFromDownload(d, time.Now())
	if err := o.historyRepo.Create(ctx, entry); err != nil {
		o.logger.Error("appending history entry failed", slog.String("url", d.DownloadURL), slog.Any("error", err))
		return
	}
	if _, err := o.historyRepo.TrimToSize(ctx, o.maxHistorySize); err != nil {
		o.logger.Error("trimming history failed", slog.Any("error", err))
	}
}

// promoteNext starts the next queued Download FIFO, if the concurrency
// cap now has a free slot (spec §4.H).
func (o *Orchestrator) promoteNext(ctx context.Context) {
	o.mu.Lock()
	if len(o.queue) == 0 || o.runningCountLocked() >= o.maxConcurrentDownloads {
		o.mu.Unlock()
		return
	}
	nextURL := o.queue[0]
	o.queue = o.queue[1:]
	d, ok := o.active[nextURL]
	if !ok {
		o.mu.Unlock()
		o.promoteNext(ctx)
		return
	}
	d.Status = models.DownloadStatusDownloading

	// Recover the original start payload so the promoted download replays
	// with the same headers, save path, and stream selection it was
	// queued with (spec §4.H step 2 "replay authentication"). A download
	// restored from storage across a restart has no pending entry — its
	// queue-time payload was never persisted — so it falls back to the
	// fields the Download record itself carries.
	req, ok := o.pending[nextURL]
	delete(o.pending, nextURL)
	if !ok {
		req = StartRequest{DownloadURL: d.DownloadURL, Filename: d.Filename, Type: d.Type, MasterURL: d.MasterURL, TabID: d.TabID}
	}
	o.mu.Unlock()

	if err := o.downloadRepo.Update(ctx, d); err != nil {
		o.logger.Error("persisting promoted download failed", slog.String("url", d.DownloadURL), slog.Any("error", err))
	}
	o.broadcaster.BroadcastTab(d.TabID, "download-started", d)
	go o.run(ctx, req, d)
}

// Cancel implements spec §4.H's cancellation: enter `stopping`, forward
// to the helper, wait for the terminal frame, then broadcast
// download-canceled. The actual terminal transition happens in run/
// finish once the helper's streaming call returns; Cancel only flags
// the intent and forwards a cancel-download request to the helper.
func (o *Orchestrator) Cancel(ctx context.Context, downloadURL string) error {
	o.mu.Lock()
	d, ok := o.active[downloadURL]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("no active download for url %q", downloadURL)
	}
	d.Status = models.DownloadStatusStopping
	o.canceled[downloadURL] = true
	o.mu.Unlock()

	o.broadcaster.BroadcastTab(d.TabID, "download-stopping", d)

	_, err := o.helper.CallStreaming(ctx, "cancel-download", map[string]any{"downloadUrl": downloadURL}, nil)
	return err
}

// ActiveDownloads returns a snapshot of every Download currently in the
// active map (queued, downloading, or stopping), for `getActiveDownloads`.
func (o *Orchestrator) ActiveDownloads() []*models.Download {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*models.Download, 0, len(o.active))
	for _, d := range o.active {
		snapshot := *d
		out = append(out, &snapshot)
	}
	return out
}

// MarkTabOutlived implements spec §4.J: a closed tab's unterminated
// downloads remain valid; only an explicit cancel-download stops them.
// This is a no-op by design — the Download's TabID is retained purely
// for UI scoping, and the orchestrator never reacts to tab lifecycle.
func (o *Orchestrator) MarkTabOutlived(tabID int64) {}

func downloadPayload(req StartRequest, filename string) map[string]any {
	payload := map[string]any{
		"downloadUrl":       req.DownloadURL,
		"filename":          filename,
		"type":              string(req.Type),
		"originalContainer": req.OriginalContainer,
	}
	if req.SavePath != "" {
		payload["savePath"] = req.SavePath
	}
	if req.PreferredContainer != "" {
		payload["preferredContainer"] = req.PreferredContainer
	}
	if req.AudioOnly {
		payload["audioOnly"] = true
	}
	if req.StreamSelection != "" {
		payload["streamSelection"] = req.StreamSelection
	}
	if req.MasterURL != "" {
		payload["masterUrl"] = req.MasterURL
	}
	if req.DurationSec > 0 {
		payload["duration"] = req.DurationSec
	}
	if len(req.Headers) > 0 {
		payload["headers"] = req.Headers
	}
	return payload
}

// isCodecFallbackError implements spec §4.H's codec-fallback trigger:
// the helper error contains the literal phrase AND the request is a
// direct-type download whose URL ends in .webm.
func isCodecFallbackError(err error, req StartRequest) bool {
	if err == nil || req.Type != models.DownloadTypeDirect {
		return false
	}
	if !strings.Contains(err.Error(), codecFallbackPhrase) {
		return false
	}
	return strings.HasSuffix(strings.ToLower(req.DownloadURL), ".webm")
}

// forceWebmExtension replaces filename's extension with .webm.
func forceWebmExtension(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx >= 0 {
		return filename[:idx] + ".webm"
	}
	return filename + ".webm"
}

// DownloadCount reports the number in each status, for
// `downloadCountUpdated` (spec §4.I).
func (o *Orchestrator) DownloadCount() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	counts := make(map[string]int)
	for _, d := range o.active {
		counts[string(d.Status)]++
	}
	return counts
}
