package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/ozlevka/KubeSage/agentutil"
	"github.com/ozlevka/KubeSage/internal/assistant"
	"github.com/ozlevka/KubeSage/internal/audit"
	"github.com/ozlevka/KubeSage/internal/k8s"
	"github.com/ozlevka/KubeSage/internal/metrics"
	"github.com/ozlevka/KubeSage/internal/model"
	"github.com/ozlevka/KubeSage/internal/tools"
)

const serviceName = "KubeSage REST API"

// maxBodyBytes bounds request bodies on the JSON endpoints.
const maxBodyBytes = 1 << 20

// Server serves the cluster endpoints, the agent API and the chat socket.
type Server struct {
	cfg       agentutil.Config
	reader    *k8s.Reader
	tools     *tools.Registry
	assistant *assistant.Assistant
	auditor   audit.Auditor
}

// NewServer wires the handlers to their backends.
func NewServer(cfg agentutil.Config, reader *k8s.Reader, registry *tools.Registry, asst *assistant.Assistant) *Server {
	return &Server{cfg: cfg, reader: reader, tools: registry, assistant: asst}
}

// SetAuditor enables the history endpoints.
func (s *Server) SetAuditor(a audit.Auditor) {
	s.auditor = a
}

// RegisterRoutes sets up the endpoint handlers.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleClusterHealth)
	mux.HandleFunc("GET /pods", s.handlePods)
	mux.HandleFunc("GET /services", s.handleServices)
	mux.HandleFunc("GET /deployments", s.handleDeployments)

	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/health", s.handleAPIHealth)
	mux.HandleFunc("GET /api/tools", s.handleListTools)
	mux.HandleFunc("POST /api/tools/{tool}", s.handleInvokeTool)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history/verify", s.handleVerifyHistory)

	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler wraps mux with CORS, trace IDs and request metrics.
func (s *Server) Handler(mux *http.ServeMux) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", audit.TraceHeader},
		ExposedHeaders: []string{audit.TraceHeader},
	})
	return c.Handler(audit.TraceMiddleware(observe(mux)))
}

// --- Cluster endpoints ---

func (s *Server) handleClusterHealth(w http.ResponseWriter, r *http.Request) {
	res, err := s.reader.ClusterHealth(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePods(w http.ResponseWriter, r *http.Request) {
	res, err := s.reader.Pods(r.Context())
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pods": res.Pods})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	res, err := s.reader.Services(r.Context())
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": res.Services})
}

func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	res, err := s.reader.Deployments(r.Context())
	if err != nil {
		writeLegacyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": res.Deployments})
}

// --- Agent API ---

type queryRequest struct {
	Query     string `json:"query"`
	ModelName string `json:"model_name"`
	SessionID string `json:"session_id"`
}

type queryResponse struct {
	Status    string `json:"status"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	Model     string `json:"model,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, queryResponse{Status: "error", Error: "invalid JSON body: " + err.Error()})
		return
	}

	resp, err := s.assistant.Query(r.Context(), assistant.Request{
		Query:     req.Query,
		Model:     req.ModelName,
		SessionID: req.SessionID,
		Origin:    "rest",
	})
	if err != nil {
		writeJSON(w, queryStatus(err), queryResponse{
			Status:    "error",
			Error:     s.errorMessage(err),
			SessionID: resp.SessionID,
		})
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Status:    "success",
		Output:    resp.Output,
		Model:     resp.Model,
		SessionID: resp.SessionID,
	})
}

func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
		"message": "Kubernetes Chat Assistant REST API is running!",
	})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	catalog := s.tools.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{
		"tools": catalog,
		"count": len(catalog),
	})
}

func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("tool")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}

	ctx, _ := audit.EnsureTraceID(r.Context())
	result, err := s.tools.Invoke(ctx, name, json.RawMessage(body))
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown tool %q", name))
		return
	case errors.Is(err, tools.ErrInvalidParams):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		writeError(w, http.StatusNotFound, "audit logging is not enabled (set KUBESAGE_AUDIT_DSN)")
		return
	}

	q := r.URL.Query()
	opts := audit.QueryOptions{
		SessionID: q.Get("session_id"),
		EventType: audit.EventType(q.Get("event_type")),
		TraceID:   q.Get("trace_id"),
		ToolName:  q.Get("tool"),
		Limit:     audit.DefaultHistoryLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be a duration such as 1h: "+err.Error())
			return
		}
		opts.Since = time.Now().Add(-d)
	}

	events, err := s.auditor.Query(r.Context(), opts)
	if err != nil {
		slog.Error("history query failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handleVerifyHistory(w http.ResponseWriter, r *http.Request) {
	store, ok := s.auditor.(*audit.Store)
	if !ok {
		writeError(w, http.StatusNotFound, "audit logging is not enabled (set KUBESAGE_AUDIT_DSN)")
		return
	}
	status, err := store.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// --- Errors ---

// queryStatus maps an agent failure to its HTTP status.
func queryStatus(err error) int {
	switch {
	case errors.Is(err, assistant.ErrEmptyQuery),
		errors.Is(err, model.ErrConfig),
		errors.Is(err, model.ErrModelNotFound):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrQuota):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// errorMessage is the user-facing text for an agent failure, shared by the
// REST API and the chat socket.
func (s *Server) errorMessage(err error) string {
	switch {
	case errors.Is(err, assistant.ErrEmptyQuery):
		return "Query must not be empty."
	case errors.Is(err, model.ErrConfig):
		return "Configuration error: " + err.Error()
	case errors.Is(err, model.ErrAuth):
		return fmt.Sprintf("Invalid API Key! Please check your %s environment variable.", s.cfg.APIKeyVar())
	case errors.Is(err, model.ErrQuota):
		return "You exceeded your quota, please check your plan and billing details."
	case errors.Is(err, model.ErrModelNotFound):
		return "Model not available: " + err.Error()
	}
	return "An unexpected error occurred: " + err.Error()
}

// --- Middleware ---

// statusRecorder captures the response code for metrics. It passes Hijack
// through so the chat socket can upgrade.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// observe records request counts and latency by route pattern.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(route, r.Method, rec.code, time.Since(start))
		slog.Debug("request served", "route", route, "method", r.Method, "code", rec.code,
			"trace_id", audit.TraceIDFromContext(r.Context()), "duration", time.Since(start))
	})
}

// --- Utilities ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("writing response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

// writeLegacyError keeps the {"error": msg} body the list endpoints have
// always returned, with a 200 status.
func writeLegacyError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
}
