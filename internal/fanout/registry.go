// Package fanout implements the UI Fan-out (spec §4.I): an observer
// registry keyed by portId, broadcasting core-origin events to
// tab-scoped or global subscribers over WebSocket connections.
//
// Grounded on the teacher's internal/service/progress.Service (per-
// subscriber buffered channel, blocking-with-timeout delivery for
// terminal events, best-effort drop for non-terminal ones — ADR-001)
// and the pack's TorrX repo's ws_hub.go (gorilla/websocket
// register/unregister/writePump/readPump shape), combined: tvarr's
// broadcast policy, TorrX's transport.
package fanout

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamcore/streamcore/internal/observability"
)

// terminalDownloadEvents must be delivered even if the observer's send
// buffer is momentarily full (spec §5: "progress frames... delivered to
// observers in arrival order; no reordering" plus the teacher's ADR-001
// terminal-event guarantee, generalized from progress operations to
// download lifecycle events).
var terminalDownloadEvents = map[string]bool{
	"download-success":  true,
	"download-error":    true,
	"download-canceled": true,
}

const (
	sendBufferSize    = 64
	terminalSendWait  = 500 * time.Millisecond
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingInterval      = (pongWait * 9) / 10
	maxObserverReadSz = 4096
)

// envelope is the outbound wire shape for every core → UI message (spec
// §4.I's outbound event list).
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Observer is one connected UI surface (spec §4.I: "observer registers
// with {tabId, url?}").
type Observer struct {
	PortID string
	TabID  int64

	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func (o *Observer) close() {
	o.once.Do(func() {
		close(o.closed)
		close(o.send)
		_ = o.conn.Close()
	})
}

// Registry is the process-wide Observer registry.
type Registry struct {
	mu        sync.Mutex
	observers map[string]*Observer
	logger    *slog.Logger
}

// New creates an empty fan-out Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		observers: make(map[string]*Observer),
		logger:    observability.WithComponent(logger, "fanout"),
	}
}

// Register upgrades conn into a tracked Observer and starts its
// read/write pumps, matching TorrX's ws_hub register/writePump/readPump
// shape. Callers may call Unregister(portID) when the HTTP handler returns,
// or rely on the pumps' own eviction on transport death.
func (r *Registry) Register(portID string, tabID int64, conn *websocket.Conn) *Observer {
	obs := &Observer{
		PortID: portID,
		TabID:  tabID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}

	r.mu.Lock()
	r.observers[portID] = obs
	r.mu.Unlock()

	r.logger.Debug("observer registered", slog.String("portId", portID), slog.Int64("tabId", tabID))

	go r.writePump(obs)
	go r.readPump(obs)

	return obs
}

// Unregister evicts portID, matching spec §4.I's "if the transport
// reports dead, evict the observer" (also called directly for explicit
// disconnects).
func (r *Registry) Unregister(portID string) {
	r.mu.Lock()
	obs, ok := r.observers[portID]
	if ok {
		delete(r.observers, portID)
	}
	r.mu.Unlock()

	if ok {
		obs.close()
		r.logger.Debug("observer unregistered", slog.String("portId", portID))
	}
}

// writePump relays queued frames to the WebSocket connection and pings
// periodically, evicting the observer on any write failure.
func (r *Registry) writePump(obs *Observer) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		r.Unregister(obs.PortID)
	}()

	for {
		select {
		case msg, ok := <-obs.send:
			_ = obs.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = obs.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := obs.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = obs.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := obs.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-obs.closed:
			return
		}
	}
}

// readPump drains inbound frames (the UI's command messages are decoded
// by the HTTP layer's command dispatcher, not here) and detects
// disconnects, evicting the observer when the connection breaks.
func (r *Registry) readPump(obs *Observer) {
	defer r.Unregister(obs.PortID)

	obs.conn.SetReadLimit(maxObserverReadSz)
	_ = obs.conn.SetReadDeadline(time.Now().Add(pongWait))
	obs.conn.SetPongHandler(func(string) error {
		_ = obs.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := obs.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastTab delivers event/payload to every Observer registered for
// tabID (spec §4.I: "a tab-scoped update is delivered only to observers
// whose registered tabId matches").
func (r *Registry) BroadcastTab(tabID int64, event string, payload any) {
	r.broadcast(event, payload, func(obs *Observer) bool { return obs.TabID == tabID })
}

// BroadcastAll delivers event/payload to every registered Observer,
// for global events (settingsState, cachesCleared, previewCacheStats,
// nativeHostConnectionState — spec §4.I).
func (r *Registry) BroadcastAll(event string, payload any) {
	r.broadcast(event, payload, func(*Observer) bool { return true })
}

func (r *Registry) broadcast(event string, payload any, match func(*Observer) bool) {
	data, err := json.Marshal(envelope{Type: event, Data: payload})
	if err != nil {
		r.logger.Error("marshaling broadcast payload failed", slog.String("event", event), slog.Any("error", err))
		return
	}

	r.mu.Lock()
	targets := make([]*Observer, 0, len(r.observers))
	for _, obs := range r.observers {
		if match(obs) {
			targets = append(targets, obs)
		}
	}
	r.mu.Unlock()

	terminal := terminalDownloadEvents[event]
	for _, obs := range targets {
		if terminal {
			select {
			case obs.send <- data:
			case <-time.After(terminalSendWait):
				r.logger.Error("terminal event delivery timed out", slog.String("event", event), slog.String("portId", obs.PortID))
			case <-obs.closed:
			}
			continue
		}
		select {
		case obs.send <- data:
		default:
			r.logger.Warn("observer send buffer full, dropping non-terminal event", slog.String("event", event), slog.String("portId", obs.PortID))
		}
	}
}

// Count returns the number of currently registered observers, for
// diagnostics/metrics.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}
