package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/streamcore/streamcore/internal/config"
	"github.com/streamcore/streamcore/internal/settings"
)

// SettingsHandler serves getSettings/updateSettings against the Settings
// Store, matching the teacher's settings.go GET/PUT resource pair.
type SettingsHandler struct {
	store *settings.Store
}

// NewSettingsHandler builds a SettingsHandler over store.
func NewSettingsHandler(store *settings.Store) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// Register registers the settings routes with the API.
func (h *SettingsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSettings",
		Method:      "GET",
		Path:        "/v1/settings",
		Summary:     "Get settings",
		Description: "Returns the effective runtime settings",
		Tags:        []string{"Settings"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "updateSettings",
		Method:      "PUT",
		Path:        "/v1/settings",
		Summary:     "Update settings",
		Description: "Applies a partial settings update, all-or-nothing",
		Tags:        []string{"Settings"},
	}, h.Update)
}

// SettingsResponse is the wire shape for config.Settings, using the
// camelCase field names spec §6's table names rather than
// config.Settings' mapstructure (snake_case, file/env-oriented) tags.
type SettingsResponse struct {
	MaxConcurrentDownloads    int   `json:"maxConcurrentDownloads"`
	DefaultSavePath           string `json:"defaultSavePath"`
	ShowDownloadNotifications bool   `json:"showDownloadNotifications"`
	MinFileSizeFilter         int64  `json:"minFileSizeFilter"`
	AutoGeneratePreviews      bool   `json:"autoGeneratePreviews"`
	MaxHistorySize            int    `json:"maxHistorySize"`
	HistoryAutoRemoveInterval int    `json:"historyAutoRemoveInterval"`
}

func settingsResponseFrom(s config.Settings) SettingsResponse {
	return SettingsResponse{
		MaxConcurrentDownloads:    s.MaxConcurrentDownloads,
		DefaultSavePath:           s.DefaultSavePath,
		ShowDownloadNotifications: s.ShowDownloadNotifications,
		MinFileSizeFilter:         s.MinFileSizeFilter,
		AutoGeneratePreviews:      s.AutoGeneratePreviews,
		MaxHistorySize:            s.MaxHistorySize,
		HistoryAutoRemoveInterval: s.HistoryAutoRemoveInterval,
	}
}

// GetSettingsInput is the input for getSettings.
type GetSettingsInput struct{}

// GetSettingsOutput is the output for getSettings.
type GetSettingsOutput struct {
	Body SettingsResponse
}

// Get returns the current effective settings.
func (h *SettingsHandler) Get(ctx context.Context, input *GetSettingsInput) (*GetSettingsOutput, error) {
	resp := &GetSettingsOutput{Body: settingsResponseFrom(h.store.Get())}
	return resp, nil
}

// UpdateSettingsInput is the input for updateSettings.
type UpdateSettingsInput struct {
	Body map[string]any
}

// UpdateSettingsOutput is the output for updateSettings.
type UpdateSettingsOutput struct {
	Body SettingsResponse
}

// Update applies a partial settings update.
func (h *SettingsHandler) Update(ctx context.Context, input *UpdateSettingsInput) (*UpdateSettingsOutput, error) {
	updated, err := h.store.Update(ctx, input.Body)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("settings update rejected", err)
	}

	resp := &UpdateSettingsOutput{Body: settingsResponseFrom(updated)}
	return resp, nil
}
