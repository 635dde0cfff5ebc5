package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/streamcore/streamcore/internal/fanout"
)

var observerUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ObserversHandler upgrades the `register` command (spec §6) into a
// long-lived Observer connection, grounded on the teacher's chi/huma
// server composition but, since the teacher carries no websocket
// dependency, registered as a raw chi route rather than a huma
// operation: huma models typed request/response bodies, not protocol
// upgrades.
type ObserversHandler struct {
	registry *fanout.Registry
	logger   *slog.Logger
}

// NewObserversHandler builds an ObserversHandler over reg.
func NewObserversHandler(reg *fanout.Registry, logger *slog.Logger) *ObserversHandler {
	return &ObserversHandler{registry: reg, logger: logger}
}

// RegisterRoute mounts the upgrade endpoint on router at /v1/observers.
// portId and tabId come from the query string (the UI's WebSocket
// client has no other channel to attach custom headers to an upgrade
// request).
func (h *ObserversHandler) RegisterRoute(router chiRouter) {
	router.Get("/v1/observers", h.Upgrade)
}

// chiRouter is the narrow seam onto *chi.Mux needed here, kept separate
// from httpapi.Server so this handler doesn't need to import chi's
// concrete router type.
type chiRouter interface {
	Get(pattern string, handler http.HandlerFunc)
}

// Upgrade handles the WebSocket handshake and registers the resulting
// Observer with the fan-out Registry.
func (h *ObserversHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	portID := r.URL.Query().Get("portId")
	if portID == "" {
		http.Error(w, "portId is required", http.StatusBadRequest)
		return
	}

	tabID, err := strconv.ParseInt(r.URL.Query().Get("tabId"), 10, 64)
	if err != nil {
		http.Error(w, "tabId must be an integer", http.StatusBadRequest)
		return
	}

	conn, err := observerUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("observer upgrade failed", slog.String("error", err.Error()))
		return
	}

	h.registry.Register(portID, tabID, conn)
}
