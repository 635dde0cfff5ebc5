package handlers

import (
	"context"
	"os"

	"github.com/danielgtaylor/huma/v2"

	"github.com/streamcore/streamcore/internal/settings"
)

// SavePathHandler serves chooseSavePath. No OS file-dialog exists
// server-side, so it validates a proposed directory against the
// filesystem and, if accepted, stores it as the new defaultSavePath
// override via the Settings Store (spec §11 Non-goals boundary).
type SavePathHandler struct {
	store *settings.Store
}

// NewSavePathHandler builds a SavePathHandler over store.
func NewSavePathHandler(store *settings.Store) *SavePathHandler {
	return &SavePathHandler{store: store}
}

// Register registers the chooseSavePath route with the API.
func (h *SavePathHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "chooseSavePath",
		Method:      "POST",
		Path:        "/v1/settings/save-path",
		Summary:     "Choose a save path",
		Description: "Validates a writable directory and sets it as the default save path",
		Tags:        []string{"Settings"},
	}, h.Choose)
}

// ChooseSavePathInput is the input for chooseSavePath.
type ChooseSavePathInput struct {
	Body struct {
		Path string `json:"path"`
	}
}

// ChooseSavePathOutput is the output for chooseSavePath.
type ChooseSavePathOutput struct {
	Body struct {
		Path string `json:"path"`
	}
}

// Choose validates input.Body.Path is an existing writable directory and
// persists it as the new default save path.
func (h *SavePathHandler) Choose(ctx context.Context, input *ChooseSavePathInput) (*ChooseSavePathOutput, error) {
	info, err := os.Stat(input.Body.Path)
	if err != nil {
		return nil, huma.Error400BadRequest("path does not exist", err)
	}
	if !info.IsDir() {
		return nil, huma.Error400BadRequest("path is not a directory", nil)
	}
	probe, err := os.CreateTemp(input.Body.Path, ".streamcore-write-check-*")
	if err != nil {
		return nil, huma.Error400BadRequest("path is not writable", err)
	}
	probe.Close()
	_ = os.Remove(probe.Name())

	if _, err := h.store.Update(ctx, map[string]any{"defaultSavePath": input.Body.Path}); err != nil {
		return nil, huma.Error422UnprocessableEntity("save path rejected", err)
	}

	resp := &ChooseSavePathOutput{}
	resp.Body.Path = input.Body.Path
	return resp, nil
}
