package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/streamcore/streamcore/internal/helperclient"
)

// HelperHandler proxies commands that pass straight through to the Helper
// Process rather than through any orchestrating component: generatePreview,
// getPreviewCacheStats, and clearCaches (spec §6).
type HelperHandler struct {
	helper *helperclient.Client
}

// NewHelperHandler builds a HelperHandler over client.
func NewHelperHandler(client *helperclient.Client) *HelperHandler {
	return &HelperHandler{helper: client}
}

// Register registers the helper-proxy routes with the API.
func (h *HelperHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "generatePreview",
		Method:      "POST",
		Path:        "/v1/previews",
		Summary:     "Generate a preview",
		Description: "Asks the helper process to generate a thumbnail preview for a URL",
		Tags:        []string{"Helper"},
	}, h.GeneratePreview)

	huma.Register(api, huma.Operation{
		OperationID: "getPreviewCacheStats",
		Method:      "GET",
		Path:        "/v1/previews/cache-stats",
		Summary:     "Get preview cache stats",
		Description: "Returns the helper's preview cache size and entry count",
		Tags:        []string{"Helper"},
	}, h.PreviewCacheStats)

	huma.Register(api, huma.Operation{
		OperationID: "clearCaches",
		Method:      "POST",
		Path:        "/v1/caches/clear",
		Summary:     "Clear helper caches",
		Description: "Asks the helper process to clear its probe/preview caches",
		Tags:        []string{"Helper"},
	}, h.ClearCaches)
}

// GeneratePreviewInput is the input for generatePreview.
type GeneratePreviewInput struct {
	Body struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers,omitempty"`
	}
}

// GeneratePreviewOutput is the output for generatePreview.
type GeneratePreviewOutput struct {
	Body struct {
		PreviewURL string `json:"previewUrl"`
	}
}

// GeneratePreview asks the helper to generate a thumbnail.
func (h *HelperHandler) GeneratePreview(ctx context.Context, input *GeneratePreviewInput) (*GeneratePreviewOutput, error) {
	payload := map[string]any{"url": input.Body.URL}
	if len(input.Body.Headers) > 0 {
		payload["headers"] = input.Body.Headers
	}

	msg, err := h.helper.Call(ctx, "generatePreview", payload)
	if err != nil {
		return nil, huma.Error502BadGateway("helper generatePreview failed", err)
	}

	resp := &GeneratePreviewOutput{}
	resp.Body.PreviewURL = stringField(msg, "previewUrl")
	return resp, nil
}

// PreviewCacheStatsInput is the input for getPreviewCacheStats.
type PreviewCacheStatsInput struct{}

// PreviewCacheStatsOutput is the output for getPreviewCacheStats.
type PreviewCacheStatsOutput struct {
	Body struct {
		EntryCount int   `json:"entryCount"`
		TotalBytes int64 `json:"totalBytes"`
	}
}

// PreviewCacheStats returns the helper's preview cache statistics.
func (h *HelperHandler) PreviewCacheStats(ctx context.Context, input *PreviewCacheStatsInput) (*PreviewCacheStatsOutput, error) {
	msg, err := h.helper.Call(ctx, "getPreviewCacheStats", nil)
	if err != nil {
		return nil, huma.Error502BadGateway("helper getPreviewCacheStats failed", err)
	}

	resp := &PreviewCacheStatsOutput{}
	if v, ok := msg["entryCount"].(float64); ok {
		resp.Body.EntryCount = int(v)
	}
	if v, ok := msg["totalBytes"].(float64); ok {
		resp.Body.TotalBytes = int64(v)
	}
	return resp, nil
}

// ClearCachesInput is the input for clearCaches.
type ClearCachesInput struct{}

// ClearCachesOutput is the output for clearCaches.
type ClearCachesOutput struct {
	Body struct {
		Cleared bool `json:"cleared"`
	}
}

// ClearCaches asks the helper to drop its probe/preview caches.
func (h *HelperHandler) ClearCaches(ctx context.Context, input *ClearCachesInput) (*ClearCachesOutput, error) {
	if _, err := h.helper.Call(ctx, "clearCaches", nil); err != nil {
		return nil, huma.Error502BadGateway("helper clearCaches failed", err)
	}

	resp := &ClearCachesOutput{}
	resp.Body.Cleared = true
	return resp, nil
}

func stringField(m helperclient.Message, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
