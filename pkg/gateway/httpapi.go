package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/robolab/roverhub/pkg/domain"
	"github.com/robolab/roverhub/pkg/protocol"
)

// APIServer serves the HTTP surface the panels poll: the pubsub log
// fallback, service status, system stats, and health.
type APIServer struct {
	gateway *Gateway
	started time.Time
}

// NewAPIServer creates the HTTP API front-end.
func NewAPIServer(gateway *Gateway) *APIServer {
	return &APIServer{
		gateway: gateway,
		started: time.Now(),
	}
}

// Router returns the chi router for the API port.
func (s *APIServer) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/pubsub/log", s.handlePubSubLog)
	r.Post("/api/pubsub/publish", s.handlePublish)
	r.Get("/api/services/status", s.handleServicesStatus)
	r.Get("/api/system/stats", s.handleSystemStats)
	r.Get("/api/system/logs", s.handleSystemLogs)
	r.Get("/api/poll", s.handlePoll)

	if s.gateway.opts.Metrics != nil {
		r.Handle("/metrics", s.gateway.opts.Metrics.Handler())
	}

	return r
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

// handlePubSubLog returns recent entries across all topics, the 500ms
// polling fallback the dashboard uses when it has no websocket.
func (s *APIServer) handlePubSubLog(w http.ResponseWriter, r *http.Request) {
	count := queryInt(r, "count", s.gateway.opts.LogBatchSize)

	messages := s.gateway.bus.Recent(count)
	entries := make([]domain.LogEntry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, msg.ToLogEntry())
	}

	respondJSON(w, http.StatusOK, entries)
}

// handlePublish accepts publishes from services that only speak HTTP.
func (s *APIServer) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req protocol.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, protocol.ErrorPayload{
			Code:    "INVALID_PUBLISH",
			Message: "failed to decode publish request",
		})
		return
	}
	if req.Topic == "" {
		respondJSON(w, http.StatusBadRequest, protocol.ErrorPayload{
			Code:    "INVALID_PUBLISH",
			Message: "topic is required",
		})
		return
	}

	source := req.Source
	if source == "" {
		source = "http:" + r.RemoteAddr
	}

	seq, err := s.gateway.bus.Publish(req.Topic, source, req.Payload)
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, protocol.ErrorPayload{
			Code:    "PUBLISH_FAILED",
			Message: err.Error(),
		})
		return
	}

	if req.Source != "" {
		s.gateway.registry.Heartbeat(req.Source, domain.HeartbeatMeta{IsRunning: true})
	}

	respondJSON(w, http.StatusOK, protocol.PublishAck{Topic: req.Topic, Sequence: seq})
}

func (s *APIServer) handleServicesStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.gateway.aggregator.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"services":  snap.Services,
		"timestamp": snap.Timestamp,
	})
}

func (s *APIServer) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.gateway.aggregator.Snapshot())
}

// handleSystemLogs returns recent entries filtered by a unix-seconds
// watermark, newest-bounded by limit.
func (s *APIServer) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", s.gateway.opts.LogBatchSize)

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			since = time.Unix(int64(secs), int64((secs-float64(int64(secs)))*1e9))
		}
	}

	messages := s.gateway.bus.Recent(0)
	out := make([]domain.Message, 0, len(messages))
	for _, msg := range messages {
		if !since.IsZero() && !msg.Timestamp.After(since) {
			continue
		}
		out = append(out, msg)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}

	respondJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
