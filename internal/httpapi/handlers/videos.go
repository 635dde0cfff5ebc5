// Package handlers holds the huma operation handlers for the command
// surface (spec §6), grounded on the teacher's internal/http/handlers
// Register-per-resource pattern.
package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/streamcore/streamcore/internal/models"
	"github.com/streamcore/streamcore/internal/registry"
)

// VideosHandler serves the getVideos command against the Video Registry.
type VideosHandler struct {
	registry *registry.Registry
}

// NewVideosHandler builds a VideosHandler over reg.
func NewVideosHandler(reg *registry.Registry) *VideosHandler {
	return &VideosHandler{registry: reg}
}

// Register registers the videos routes with the API.
func (h *VideosHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getVideos",
		Method:      "GET",
		Path:        "/v1/tabs/{tabId}/videos",
		Summary:     "List detected videos for a tab",
		Description: "Returns the tab's visible Streams; variants linked to a known master are listed only nested under that master",
		Tags:        []string{"Videos"},
	}, h.GetVideos)
}

// GetVideosInput is the input for getVideos.
type GetVideosInput struct {
	TabID int64 `path:"tabId"`
}

// GetVideosOutput is the output for getVideos.
type GetVideosOutput struct {
	Body struct {
		Streams []*models.Stream `json:"streams"`
	}
}

// GetVideos returns tabId's currently visible Streams.
func (h *VideosHandler) GetVideos(ctx context.Context, input *GetVideosInput) (*GetVideosOutput, error) {
	resp := &GetVideosOutput{}
	resp.Body.Streams = h.registry.VisibleStreams(input.TabID)
	return resp, nil
}
