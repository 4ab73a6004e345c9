package server

import (
	"net/http"
	"time"

	"github.com/desertthunder/cadence/internal/scheduler"
	"github.com/desertthunder/cadence/internal/shared"
)

// StatsSource reports tick engine counters. [scheduler.Engine] satisfies it.
type StatsSource interface {
	Stats() scheduler.Stats
	InstanceID() string
}

// StatusResponse is the body served by [StatusHandler].
type StatusResponse struct {
	Status     string     `json:"status"`
	InstanceID string     `json:"instance_id"`
	Uptime     string     `json:"uptime"`
	Ticks      int64      `json:"ticks"`
	Dispatched int64      `json:"dispatched"`
	Deferred   int64      `json:"deferred"`
	Active     int        `json:"active"`
	LastTickAt *time.Time `json:"last_tick_at,omitempty"`
}

// StatusHandler serves liveness and engine counters as JSON.
type StatusHandler struct {
	source  StatsSource
	started time.Time
	now     func() time.Time
}

// NewStatusHandler creates a [StatusHandler] for source.
func NewStatusHandler(source StatsSource) *StatusHandler {
	now := func() time.Time { return time.Now().UTC() }
	return &StatusHandler{source: source, started: now(), now: now}
}

// Routes returns the HTTP routes this handler serves.
func (h *StatusHandler) Routes() []string {
	return []string{"GET /healthz", "GET /status"}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
		return
	}

	stats := h.source.Stats()
	resp := StatusResponse{
		Status:     "ok",
		InstanceID: h.source.InstanceID(),
		Uptime:     h.now().Sub(h.started).Round(time.Second).String(),
		Ticks:      stats.Ticks,
		Dispatched: stats.Dispatched,
		Deferred:   stats.Deferred,
		Active:     stats.Active,
	}
	if !stats.LastTickAt.IsZero() {
		last := stats.LastTickAt.UTC()
		resp.LastTickAt = &last
	}

	body, err := shared.MarshalJSON(resp, true)
	if err != nil {
		http.Error(w, "failed to encode status", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(append(body, '\n'))
}
