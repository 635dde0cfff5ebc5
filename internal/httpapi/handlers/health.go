package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"gorm.io/gorm"

	"github.com/streamcore/streamcore/internal/helperclient"
)

// HealthHandler serves /healthz, reporting Helper Client reachability and
// DB connectivity, grounded on the teacher's internal/http/handlers/health.go
// but trimmed to this repo's own dependencies (no CPU/memory sampling: spec
// §6 only calls for helper/DB health, so gopsutil is not wired in here).
type HealthHandler struct {
	version   string
	startTime time.Time
	helper    *helperclient.Client
	db        *gorm.DB
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(version string, helper *helperclient.Client, db *gorm.DB) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		helper:    helper,
		db:        db,
	}
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/healthz",
		Summary:     "Health check",
		Description: "Reports process uptime, Helper Client state, and database reachability",
		Tags:        []string{"Health"},
	}, h.GetHealth)
}

// HealthInput is the input for getHealth.
type HealthInput struct{}

// HealthResponse is the health check response body.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	UptimeSec   int64  `json:"uptimeSec"`
	HelperState string `json:"helperState"`
	DBReachable bool   `json:"dbReachable"`
}

// HealthOutput is the output for getHealth.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth reports process and dependency health.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	resp := &HealthOutput{}
	resp.Body.Version = h.version
	resp.Body.UptimeSec = int64(time.Since(h.startTime).Seconds())

	status := "ok"

	if h.helper != nil {
		resp.Body.HelperState = h.helper.State().String()
		if h.helper.State() == helperclient.CircuitOpen {
			status = "degraded"
		}
	}

	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil && sqlDB.PingContext(ctx) == nil {
			resp.Body.DBReachable = true
		} else {
			status = "degraded"
		}
	}

	resp.Body.Status = status
	return resp, nil
}
