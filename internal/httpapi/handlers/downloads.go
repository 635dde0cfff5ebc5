package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/streamcore/streamcore/internal/downloads"
	"github.com/streamcore/streamcore/internal/models"
)

// DownloadsHandler serves the download/cancel-download/getActiveDownloads
// commands against the Download Orchestrator.
type DownloadsHandler struct {
	orchestrator *downloads.Orchestrator
}

// NewDownloadsHandler builds a DownloadsHandler over orch.
func NewDownloadsHandler(orch *downloads.Orchestrator) *DownloadsHandler {
	return &DownloadsHandler{orchestrator: orch}
}

// Register registers the download routes with the API.
func (h *DownloadsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startDownload",
		Method:      "POST",
		Path:        "/v1/downloads",
		Summary:     "Start a download",
		Description: "Queues or starts a download for a detected stream",
		Tags:        []string{"Downloads"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "cancelDownload",
		Method:      "POST",
		Path:        "/v1/downloads/cancel",
		Summary:     "Cancel a download",
		Description: "Cancels a queued or in-progress download by its source URL",
		Tags:        []string{"Downloads"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "getActiveDownloads",
		Method:      "GET",
		Path:        "/v1/downloads/active",
		Summary:     "List active downloads",
		Description: "Returns all queued, downloading, or stopping downloads",
		Tags:        []string{"Downloads"},
	}, h.ListActive)
}

// StartDownloadInput is the input for startDownload.
type StartDownloadInput struct {
	Body struct {
		DownloadURL            string              `json:"download_url"`
		Filename               string              `json:"filename"`
		SavePath               string              `json:"save_path"`
		Type                   models.DownloadType `json:"type"`
		PreferredContainer     string              `json:"preferred_container,omitempty"`
		OriginalContainer      string              `json:"original_container,omitempty"`
		AudioOnly              bool                `json:"audio_only,omitempty"`
		StreamSelection        string              `json:"stream_selection,omitempty"`
		MasterURL              string              `json:"master_url,omitempty"`
		DurationSec            float64             `json:"duration_sec,omitempty"`
		Headers                map[string]string   `json:"headers,omitempty"`
		TabID                  int64               `json:"tab_id"`
		SelectedOptionOrigText string              `json:"selected_option_orig_text,omitempty"`
		VideoDataSnapshot      string              `json:"video_data_snapshot,omitempty"`
	}
}

// StartDownloadOutput is the output for startDownload.
type StartDownloadOutput struct {
	Body struct {
		Download *models.Download `json:"download"`
	}
}

// Start queues a new download.
func (h *DownloadsHandler) Start(ctx context.Context, input *StartDownloadInput) (*StartDownloadOutput, error) {
	req := downloads.StartRequest{
		DownloadURL:            input.Body.DownloadURL,
		Filename:               input.Body.Filename,
		SavePath:               input.Body.SavePath,
		Type:                   input.Body.Type,
		PreferredContainer:     input.Body.PreferredContainer,
		OriginalContainer:      input.Body.OriginalContainer,
		AudioOnly:              input.Body.AudioOnly,
		StreamSelection:        input.Body.StreamSelection,
		MasterURL:              input.Body.MasterURL,
		DurationSec:            input.Body.DurationSec,
		Headers:                input.Body.Headers,
		TabID:                  input.Body.TabID,
		SelectedOptionOrigText: input.Body.SelectedOptionOrigText,
		VideoDataSnapshot:      input.Body.VideoDataSnapshot,
	}

	d, err := h.orchestrator.Start(ctx, req)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to start download", err)
	}

	resp := &StartDownloadOutput{}
	resp.Body.Download = d
	return resp, nil
}

// CancelDownloadInput is the input for cancelDownload.
type CancelDownloadInput struct {
	Body struct {
		DownloadURL string `json:"download_url"`
	}
}

// CancelDownloadOutput is the output for cancelDownload.
type CancelDownloadOutput struct {
	Body struct {
		Canceled bool `json:"canceled"`
	}
}

// Cancel cancels a download in progress.
func (h *DownloadsHandler) Cancel(ctx context.Context, input *CancelDownloadInput) (*CancelDownloadOutput, error) {
	if err := h.orchestrator.Cancel(ctx, input.Body.DownloadURL); err != nil {
		return nil, huma.Error404NotFound("download not found", err)
	}

	resp := &CancelDownloadOutput{}
	resp.Body.Canceled = true
	return resp, nil
}

// ListActiveInput is the input for getActiveDownloads.
type ListActiveInput struct{}

// ListActiveOutput is the output for getActiveDownloads.
type ListActiveOutput struct {
	Body struct {
		Downloads []*models.Download `json:"downloads"`
	}
}

// ListActive returns the current active-map snapshot.
func (h *DownloadsHandler) ListActive(ctx context.Context, input *ListActiveInput) (*ListActiveOutput, error) {
	resp := &ListActiveOutput{}
	resp.Body.Downloads = h.orchestrator.ActiveDownloads()
	return resp, nil
}
