package dispatch

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/omni/beacon-gateway/internal/nodes"
	gatewayotel "github.com/omni/beacon-gateway/internal/otel"
	"github.com/omni/beacon-gateway/internal/plugins"
	"github.com/omni/beacon-gateway/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const otelTracerName = "beacon-gateway/dispatch"

// Server exposes the node registry and plugin manager over HTTP/WS.
type Server struct {
	registry     *nodes.Registry
	plugins      *plugins.Manager
	logger       *slog.Logger
	allowOrigins []string
	denyList     map[string]struct{}
	startedAt    time.Time
	readyCheck   func() (bool, string)
	metrics      *gatewayotel.Metrics
}

// SetMetrics attaches metric instruments recorded during invoke handling.
// A nil metrics (the default) disables recording entirely.
func (s *Server) SetMetrics(m *gatewayotel.Metrics) {
	s.metrics = m
}

// New builds a dispatch server. denyCommands overrides
// nodes.IsCommandAllowed's per-node declared set. readyCheck reports
// the "agent"/readiness half of GET /ready; a nil readyCheck always
// reports ready.
func New(registry *nodes.Registry, mgr *plugins.Manager, logger *slog.Logger, allowOrigins []string, denyCommands []string, readyCheck func() (bool, string)) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	deny := make(map[string]struct{}, len(denyCommands))
	for _, c := range denyCommands {
		deny[c] = struct{}{}
	}
	return &Server{
		registry:     registry,
		plugins:      mgr,
		logger:       logger.With("component", "dispatch"),
		allowOrigins: allowOrigins,
		denyList:     deny,
		startedAt:    time.Now(),
		readyCheck:   readyCheck,
	}
}

// Routes registers every dispatch endpoint onto mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /nodes", s.handleListNodes)
	mux.HandleFunc("GET /nodes/{id}", s.handleGetNode)
	mux.HandleFunc("POST /nodes/{id}/invoke", s.handleInvoke)
	mux.HandleFunc("GET /ws/node", s.HandleNodeWS)
	mux.HandleFunc("GET /plugins", s.handleListPlugins)
	mux.HandleFunc("POST /plugins/{id}/enable", s.handleEnablePlugin)
	mux.HandleFunc("POST /plugins/{id}/disable", s.handleDisablePlugin)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorBody(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": "1"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	agentOK, agentDetail := true, "ok"
	if s.readyCheck != nil {
		agentOK, agentDetail = s.readyCheck()
	}

	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"agent":    map[string]any{"status": agentDetail},
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !agentOK {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{"status": status, "checks": checks})
}

type nodeSummary struct {
	NodeID       string    `json:"node_id"`
	DeviceID     string    `json:"device_id"`
	DisplayName  string    `json:"display_name"`
	Platform     string    `json:"platform"`
	DeviceFamily string    `json:"device_family"`
	Caps         []string  `json:"caps"`
	Commands     []string  `json:"commands"`
	ConnectedAt  time.Time `json:"connected_at"`
}

func summarize(sess *nodes.Session) nodeSummary {
	return nodeSummary{
		NodeID:       sess.NodeID,
		DeviceID:     sess.DeviceID,
		DisplayName:  sess.DisplayName,
		Platform:     sess.Platform,
		DeviceFamily: sess.DeviceFamily,
		Caps:         sess.Caps,
		Commands:     sess.Commands,
		ConnectedAt:  sess.ConnectedAt,
	}
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.List()
	out := make([]nodeSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, summarize(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.registry.Get(id)
	if !ok {
		writeErrorBody(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, summarize(sess))
}

type invokeRequest struct {
	Command        string          `json:"command"`
	Params         json.RawMessage `json:"params"`
	TimeoutMs      int             `json:"timeout_ms"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// handleInvoke implements the node invoke flow: look up the node,
// enforce command policy, allocate a correlation id, push the invoke
// frame over the node's socket, then wait for the response or time out.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	start := time.Now()
	ok := false
	defer func() {
		if s.metrics == nil {
			return
		}
		s.metrics.InvokeDuration.Record(r.Context(), time.Since(start).Seconds())
		if !ok {
			s.metrics.InvokeErrors.Add(r.Context(), 1)
		}
	}()

	ctx, span := otel.Tracer(otelTracerName).Start(r.Context(), "dispatch.invoke")
	defer span.End()
	span.SetAttributes(attribute.String("node_id", id))
	r = r.WithContext(ctx)

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TimeoutMs <= 0 {
		req.TimeoutMs = 30000
	}
	span.SetAttributes(attribute.String("command", req.Command))

	sess, ok := s.registry.Get(id)
	if !ok {
		writeErrorBody(w, http.StatusNotFound, "node not found")
		return
	}

	if !nodes.IsCommandAllowed(sess.Platform, sess.Commands, s.denyList, req.Command) {
		writeErrorBody(w, http.StatusForbidden, "command not allowed")
		return
	}

	correlationID, resultCh, err := s.registry.PrepareInvoke(id)
	if err != nil {
		writeErrorBody(w, http.StatusInternalServerError, "node not available")
		return
	}
	telemetry.WithTraceID(s.logger, ctx).Debug("invoke dispatched", "node_id", id, "command", req.Command, "correlation_id", correlationID)

	frame, err := encodeInvokeFrame(correlationID, req.Command, req.Params)
	if err != nil {
		writeErrorBody(w, http.StatusInternalServerError, "failed to encode invoke frame")
		return
	}
	if err := s.registry.SendInvoke(id, frame); err != nil {
		writeErrorBody(w, http.StatusInternalServerError, "failed to send invoke frame")
		return
	}

	select {
	case result, chOK := <-resultCh:
		if !chOK {
			writeErrorBody(w, http.StatusInternalServerError, "invocation channel closed unexpectedly")
			return
		}
		ok = true
		writeJSON(w, http.StatusOK, result)
	case <-time.After(time.Duration(req.TimeoutMs) * time.Millisecond):
		s.registry.DropPending(correlationID)
		writeErrorBody(w, http.StatusGatewayTimeout, "invoke timed out")
	case <-r.Context().Done():
		s.registry.DropPending(correlationID)
		writeErrorBody(w, http.StatusGatewayTimeout, "request cancelled")
	}
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	if s.plugins == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.plugins.List())
}

func (s *Server) handleEnablePlugin(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.plugins == nil || !s.plugins.Enable(id) {
		writeErrorBody(w, http.StatusNotFound, "plugin not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDisablePlugin(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.plugins == nil || !s.plugins.Disable(id) {
		writeErrorBody(w, http.StatusNotFound, "plugin not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
