package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/streamcore/streamcore/internal/ingest"
	"github.com/streamcore/streamcore/internal/models"
)

// IngestHandler is the Event Source's entry point into the detection
// pipeline (spec §2: Event Source → A,B,E → F). Not one of spec §6's UI
// commands: the UI never calls this, the out-of-scope Event Source
// collaborator does, submitted the same way every other inbound command
// is (REST, not the Observer WebSocket — see fanout.Registry.readPump).
type IngestHandler struct {
	processor *ingest.Processor
}

// NewIngestHandler builds an IngestHandler over proc.
func NewIngestHandler(proc *ingest.Processor) *IngestHandler {
	return &IngestHandler{processor: proc}
}

// Register registers the observeUrl route with the API.
func (h *IngestHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "observeUrl",
		Method:      "POST",
		Path:        "/v1/observations",
		Summary:     "Report an observed URL",
		Description: "Feeds a single Event Source observation (webRequest or DOM) into the detection pipeline",
		Tags:        []string{"Ingest"},
	}, h.Observe)
}

// ObserveURLInput is the input for observeUrl.
type ObserveURLInput struct {
	Body struct {
		TabID              int64  `json:"tabId"`
		URL                string `json:"url"`
		Source             string `json:"source"`
		ContentType        string `json:"contentType,omitempty"`
		ContentLength      int64  `json:"contentLength,omitempty"`
		HasContentLength   bool   `json:"hasContentLength,omitempty"`
		AcceptRanges       string `json:"acceptRanges,omitempty"`
		ContentDisposition string `json:"contentDisposition,omitempty"`
		Filename           string `json:"filename,omitempty"`
	}
}

// ObserveURLOutput is the output for observeUrl.
type ObserveURLOutput struct {
	Body struct {
		Accepted bool `json:"accepted"`
	}
}

// Observe feeds one observation into the Processor.
func (h *IngestHandler) Observe(ctx context.Context, input *ObserveURLInput) (*ObserveURLOutput, error) {
	h.processor.Observe(ingest.Observation{
		TabID:              input.Body.TabID,
		URL:                input.Body.URL,
		Source:             models.Source(input.Body.Source),
		ContentType:        input.Body.ContentType,
		ContentLength:      input.Body.ContentLength,
		HasContentLength:   input.Body.HasContentLength,
		AcceptRanges:       input.Body.AcceptRanges,
		ContentDisposition: input.Body.ContentDisposition,
		Filename:           input.Body.Filename,
	})

	resp := &ObserveURLOutput{}
	resp.Body.Accepted = true
	return resp, nil
}
