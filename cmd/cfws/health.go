package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/cf-feed/internal/connection"
	"github.com/rickgao/cf-feed/internal/subscription"
	"github.com/rickgao/cf-feed/internal/version"
	"github.com/rickgao/cf-feed/internal/writer"
)

// feedStatus is what the health endpoint reports about the client.
type feedStatus interface {
	State() connection.ConnectionState
	Subscriptions() subscription.Snapshot
}

type healthResponse struct {
	Status        string                `json:"status"`
	State         string                `json:"state"`
	Subscriptions subscription.Snapshot `json:"subscriptions"`
	Recorder      *writer.WriterMetrics `json:"recorder,omitempty"`
	Version       version.Info          `json:"version"`
}

// newHTTPHandler serves /health and the Prometheus endpoint at metricsPath.
// recorder may be nil.
func newHTTPHandler(feed feedStatus, recorder *writer.EventWriter, metricsPath string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		state := feed.State()
		resp := healthResponse{
			Status:        "healthy",
			State:         state.String(),
			Subscriptions: feed.Subscriptions(),
			Version:       version.Get(),
		}
		if recorder != nil {
			stats := recorder.Stats()
			resp.Recorder = &stats
		}

		code := http.StatusOK
		if state != connection.StateConnected {
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Debug("health encode failed", "error", err)
		}
	})

	return mux
}
