package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/streamcore/streamcore/internal/tablifecycle"
)

// LifecycleHandler is the Event Source's entry point for tab-close and
// top-frame navigation events (spec §4.J), submitted over REST for the
// same reason observeUrl is: the Observer WebSocket only ever carries
// outbound state to UIs (fanout.Registry.readPump), never inbound
// commands from the Event Source.
type LifecycleHandler struct {
	coordinator *tablifecycle.Coordinator
}

// NewLifecycleHandler builds a LifecycleHandler over coord.
func NewLifecycleHandler(coord *tablifecycle.Coordinator) *LifecycleHandler {
	return &LifecycleHandler{coordinator: coord}
}

// Register registers the tabClosed and topFrameNavigated routes.
func (h *LifecycleHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "tabClosed",
		Method:      "POST",
		Path:        "/v1/tabs/{tabId}/closed",
		Summary:     "Report a closed tab",
		Description: "Tears down Registry and DetectionContext state for a tab; downloads outlive the tab",
		Tags:        []string{"Lifecycle"},
	}, h.TabClosed)

	huma.Register(api, huma.Operation{
		OperationID: "topFrameNavigated",
		Method:      "POST",
		Path:        "/v1/tabs/{tabId}/navigated",
		Summary:     "Report a top-frame navigation commit",
		Description: "Same teardown as tabClosed for detection state; downloads continue",
		Tags:        []string{"Lifecycle"},
	}, h.TopFrameNavigated)
}

// TabLifecycleInput is shared by tabClosed and topFrameNavigated.
type TabLifecycleInput struct {
	TabID int64 `path:"tabId"`
}

// TabLifecycleOutput is shared by tabClosed and topFrameNavigated.
type TabLifecycleOutput struct {
	Body struct {
		Accepted bool `json:"accepted"`
	}
}

// TabClosed tears down per-tab state on tab close.
func (h *LifecycleHandler) TabClosed(ctx context.Context, input *TabLifecycleInput) (*TabLifecycleOutput, error) {
	h.coordinator.TabClosed(input.TabID)
	resp := &TabLifecycleOutput{}
	resp.Body.Accepted = true
	return resp, nil
}

// TopFrameNavigated tears down per-tab detection state on navigation commit.
func (h *LifecycleHandler) TopFrameNavigated(ctx context.Context, input *TabLifecycleInput) (*TabLifecycleOutput, error) {
	h.coordinator.TopFrameNavigated(input.TabID)
	resp := &TabLifecycleOutput{}
	resp.Body.Accepted = true
	return resp, nil
}
