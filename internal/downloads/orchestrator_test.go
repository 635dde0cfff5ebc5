package downloads

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/streamcore/streamcore/internal/config"
	"github.com/streamcore/streamcore/internal/helperclient"
	"github.com/streamcore/streamcore/internal/models"
	"github.com/streamcore/streamcore/internal/observability"
	"github.com/streamcore/streamcore/internal/repository"
)

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []broadcastEvent
}

type broadcastEvent struct {
	tabID int64
	event string
	payload any
}

func (b *fakeBroadcaster) BroadcastTab(tabID int64, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastEvent{tabID: tabID, event: event, payload: payload})
}

func (b *fakeBroadcaster) eventsNamed(name string) []broadcastEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broadcastEvent
	for _, e := range b.events {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeStreamer struct {
	mu       sync.Mutex
	calls    int
	payloads []map[string]any
	behavior func(call int, progress func(helperclient.Message)) (helperclient.Message, error)
}

func (f *fakeStreamer) CallStreaming(ctx context.Context, command string, payload map[string]any, onProgress func(helperclient.Message)) (helperclient.Message, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	if command == "download" {
		f.payloads = append(f.payloads, payload)
	}
	f.mu.Unlock()
	if command == "cancel-download" {
		return helperclient.Message{"success": true}, nil
	}
	return f.behavior(call, onProgress)
}

func setupOrchestratorTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Download{}, &models.HistoryEntry{}))
	return db
}

func newTestOrchestrator(t *testing.T, streamer HelperStreamer, maxConcurrent int) (*Orchestrator, *fakeBroadcaster, repository.DownloadRepository, repository.HistoryRepository) {
	t.Helper()
	db := setupOrchestratorTestDB(t)
	downloadRepo := repository.NewDownloadRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	broadcaster := &fakeBroadcaster{}
	logger := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	o := New(downloadRepo, historyRepo, streamer, broadcaster, maxConcurrent, 50, logger)
	return o, broadcaster, downloadRepo, historyRepo
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func TestStart_CompletesSuccessfully(t *testing.T) {
	streamer := &fakeStreamer{behavior: func(call int, progress func(helperclient.Message)) (helperclient.Message, error) {
		progress(helperclient.Message{"command": "progress", "progress": 50.0})
		return helperclient.Message{"success": true, "path": "video.mp4"}, nil
	}}
	o, broadcaster, downloadRepo, historyRepo := newTestOrchestrator(t, streamer, 2)

	d, err := o.Start(context.Background(), StartRequest{DownloadURL: "https://cdn/a.mp4", Filename: "a.mp4", Type: models.DownloadTypeDirect})
	require.NoError(t, err)
	assert.Equal(t, models.DownloadStatusDownloading, d.Status)

	waitForCondition(t, time.Second, func() bool {
		return len(broadcaster.eventsNamed("download-success")) == 1
	})

	entries, total, err := historyRepo.GetAll(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, models.DownloadStatusCompleted, entries[0].Status)

	assert.Len(t, broadcaster.eventsNamed("download-progress"), 1)
}

func TestStart_DuplicateURLReturnsExistingWithoutSecondHelperCall(t *testing.T) {
	block := make(chan struct{})
	streamer := &fakeStreamer{behavior: func(call int, progress func(helperclient.Message)) (helperclient.Message, error) {
		<-block
		return helperclient.Message{"success": true}, nil
	}}
	o, broadcaster, _, _ := newTestOrchestrator(t, streamer, 2)

	_, err := o.Start(context.Background(), StartRequest{DownloadURL: "https://cdn/dup.mp4", Filename: "dup.mp4", Type: models.DownloadTypeDirect})
	require.NoError(t, err)

	d2, err := o.Start(context.Background(), StartRequest{DownloadURL: "https://cdn/dup.mp4", Filename: "dup.mp4", Type: models.DownloadTypeDirect})
	require.NoError(t, err)
	assert.Equal(t, models.DownloadStatusDownloading, d2.Status)

	streamer.mu.Lock()
	calls := streamer.calls
	streamer.mu.Unlock()
	assert.Equal(t, 1, calls, "a duplicate start command must not issue a second helper invocation")

	close(block)
	waitForCondition(t, time.Second, func() bool { return len(broadcaster.eventsNamed("download-success")) == 1 })
}

func TestStart_ConcurrencyCapQueuesAndPromotesFIFO(t *testing.T) {
	release := make(chan string, 10)
	streamer := &fakeStreamer{behavior: func(call int, progress func(helperclient.Message)) (helperclient.Message, error) {
		name := <-release
		return helperclient.Message{"success": true, "path": name}, nil
	}}
	o, broadcaster, _, _ := newTestOrchestrator(t, streamer, 1)

	d1, err := o.Start(context.Background(), StartRequest{DownloadURL: "https://cdn/1.mp4", Filename: "1.mp4", Type: models.DownloadTypeDirect})
	require.NoError(t, err)
	assert.Equal(t, models.DownloadStatusDownloading, d1.Status)

	d2, err := o.Start(context.Background(), StartRequest{DownloadURL: "https://cdn/2.mp4", Filename: "2.mp4", Type: models.DownloadTypeDirect})
	require.NoError(t, err)
	assert.Equal(t, models.DownloadStatusQueued, d2.Status, "second start beyond the concurrency cap must queue")

	release <- "1.mp4"
	waitForCondition(t, time.Second, func() bool { return len(broadcaster.eventsNamed("download-success")) == 1 })

	waitForCondition(t, time.Second, func() bool {
		for _, d := range o.ActiveDownloads() {
			if d.DownloadURL == "https://cdn/2.mp4" && d.Status == models.DownloadStatusDownloading {
				return true
			}
		}
		return false
	})

	release <- "2.mp4"
	waitForCondition(t, time.Second, func() bool { return len(broadcaster.eventsNamed("download-success")) == 2 })
}

func TestPromoteNext_PreservesFullStartRequestPayload(t *testing.T) {
	release := make(chan string, 10)
	streamer := &fakeStreamer{behavior: func(call int, progress func(helperclient.Message)) (helperclient.Message, error) {
		name := <-release
		return helperclient.Message{"success": true, "path": name}, nil
	}}
	o, broadcaster, _, _ := newTestOrchestrator(t, streamer, 1)

	_, err := o.Start(context.Background(), StartRequest{DownloadURL: "https://cdn/1.mp4", Filename: "1.mp4", Type: models.DownloadTypeDirect})
	require.NoError(t, err)

	_, err = o.Start(context.Background(), StartRequest{
		DownloadURL:        "https://cdn/2.mp4",
		Filename:           "2.mp4",
		Type:               models.DownloadTypeDirect,
		SavePath:           "/downloads/videos",
		PreferredContainer: "mp4",
		AudioOnly:          true,
		StreamSelection:    "variant-2",
		DurationSec:        12.5,
		Headers:            map[string]string{"Authorization": "Bearer abc123"},
	})
	require.NoError(t, err, "queued second start beyond the concurrency cap")

	release <- "1.mp4"
	waitForCondition(t, time.Second, func() bool { return len(broadcaster.eventsNamed("download-success")) == 1 })

	waitForCondition(t, time.Second, func() bool {
		streamer.mu.Lock()
		defer streamer.mu.Unlock()
		return len(streamer.payloads) == 2
	})

	release <- "2.mp4"
	waitForCondition(t, time.Second, func() bool { return len(broadcaster.eventsNamed("download-success")) == 2 })

	streamer.mu.Lock()
	promoted := streamer.payloads[1]
	streamer.mu.Unlock()

	assert.Equal(t, "/downloads/videos", promoted["savePath"])
	assert.Equal(t, "mp4", promoted["preferredContainer"])
	assert.Equal(t, true, promoted["audioOnly"])
	assert.Equal(t, "variant-2", promoted["streamSelection"])
	assert.Equal(t, 12.5, promoted["duration"])
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc123"}, promoted["headers"])
}

func TestStart_CodecFallbackRetriesOnceForWebm(t *testing.T) {
	streamer := &fakeStreamer{behavior: func(call int, progress func(helperclient.Message)) (helperclient.Message, error) {
		if call == 1 {
			return nil, fmt.Errorf("codec not currently supported in container")
		}
		return helperclient.Message{"success": true, "path": "video.webm"}, nil
	}}
	o, broadcaster, _, _ := newTestOrchestrator(t, streamer, 2)

	_, err := o.Start(context.Background(), StartRequest{DownloadURL: "https://cdn/video.webm", Filename: "video.webm", Type: models.DownloadTypeDirect})
	require.NoError(t, err)

	waitForCondition(t, time.Second, func() bool { return len(broadcaster.eventsNamed("download-success")) == 1 })

	streamer.mu.Lock()
	calls := streamer.calls
	streamer.mu.Unlock()
	assert.Equal(t, 2, calls, "a webm codec error must trigger exactly one retry")
}

func TestStart_CodecFallbackDoesNotRetryTwice(t *testing.T) {
	streamer := &fakeStreamer{behavior: func(call int, progress func(helperclient.Message)) (helperclient.Message, error) {
		return nil, fmt.Errorf("codec not currently supported in container")
	}}
	o, broadcaster, _, _ := newTestOrchestrator(t, streamer, 2)

	_, err := o.Start(context.Background(), StartRequest{DownloadURL: "https://cdn/video.webm", Filename: "video.webm", Type: models.DownloadTypeDirect})
	require.NoError(t, err)

	waitForCondition(t, time.Second, func() bool { return len(broadcaster.eventsNamed("download-error")) == 1 })

	streamer.mu.Lock()
	calls := streamer.calls
	streamer.mu.Unlock()
	assert.Equal(t, 2, calls, "exactly one retry, then surface the error")
}

func TestCancel_BroadcastsStoppingThenCanceled(t *testing.T) {
	block := make(chan struct{})
	streamer := &fakeStreamer{behavior: func(call int, progress func(helperclient.Message)) (helperclient.Message, error) {
		<-block
		return nil, fmt.Errorf("canceled by user")
	}}
	o, broadcaster, _, historyRepo := newTestOrchestrator(t, streamer, 2)

	_, err := o.Start(context.Background(), StartRequest{DownloadURL: "https://cdn/cancel.mp4", Filename: "cancel.mp4", Type: models.DownloadTypeDirect})
	require.NoError(t, err)

	require.NoError(t, o.Cancel(context.Background(), "https://cdn/cancel.mp4"))
	assert.Len(t, broadcaster.eventsNamed("download-stopping"), 1)

	close(block)
	waitForCondition(t, time.Second, func() bool { return len(broadcaster.eventsNamed("download-canceled")) == 1 })

	_, total, err := historyRepo.GetAll(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total, "a canceled download must not be appended to history")
}

func TestRestore_RehydratesActiveMapWithoutContactingHelper(t *testing.T) {
	db := setupOrchestratorTestDB(t)
	downloadRepo := repository.NewDownloadRepository(db)
	historyRepo := repository.NewHistoryRepository(db)

	existing := &models.Download{DownloadURL: "https://cdn/restored.mp4", Type: models.DownloadTypeDirect, Status: models.DownloadStatusDownloading}
	require.NoError(t, downloadRepo.Create(context.Background(), existing))

	streamer := &fakeStreamer{behavior: func(call int, progress func(helperclient.Message)) (helperclient.Message, error) {
		t.Fatal("restoration must not contact the helper")
		return helperclient.Message{}, nil
	}}
	broadcaster := &fakeBroadcaster{}
	logger := observability.NewLogger(config.LoggingConfig{Level: "error", Format: "text"})
	o := New(downloadRepo, historyRepo, streamer, broadcaster, 2, 50, logger)

	require.NoError(t, o.Restore(context.Background()))

	active := o.ActiveDownloads()
	require.Len(t, active, 1)
	assert.Equal(t, "https://cdn/restored.mp4", active[0].DownloadURL)
}
