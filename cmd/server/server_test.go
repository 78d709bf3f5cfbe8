package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/ozlevka/KubeSage/agentutil"
	"github.com/ozlevka/KubeSage/internal/assistant"
	"github.com/ozlevka/KubeSage/internal/audit"
	"github.com/ozlevka/KubeSage/internal/k8s"
	"github.com/ozlevka/KubeSage/internal/model"
	"github.com/ozlevka/KubeSage/internal/tools"
)

// answerLLM replies to everything with a fixed answer.
type answerLLM struct {
	name     string
	probeErr error
}

func (m *answerLLM) Name() string { return m.name }

func (m *answerLLM) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		if m.probeErr != nil {
			yield(nil, m.probeErr)
			return
		}
		yield(&adkmodel.LLMResponse{
			Content:      &genai.Content{Role: "model", Parts: []*genai.Part{{Text: "All pods are healthy (" + m.name + ")."}}},
			TurnComplete: true,
		}, nil)
	}
}

type testEnv struct {
	server *Server
	mux    *http.ServeMux
	store  *audit.Store
}

type envOptions struct {
	llmErr   error // returned by the factory
	probeErr error // returned by every model call
	audit    bool
	noKube   bool
}

func newTestEnv(t *testing.T, o envOptions) *testEnv {
	t.Helper()

	clients := k8s.Static{KubeClient: fake.NewSimpleClientset(
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-1"}},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web-1", Namespace: "default"}, Status: corev1.PodStatus{Phase: corev1.PodRunning}},
		&corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"}},
		&appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"}},
	)}
	if o.noKube {
		clients = k8s.Static{}
	}
	reader := k8s.NewReader(clients)

	var (
		store       *audit.Store
		toolAuditor *audit.ToolAuditor
	)
	if o.audit {
		var err error
		store, err = audit.NewStore(context.Background(), audit.StoreConfig{DSN: filepath.Join(t.TempDir(), "audit.db")})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { store.Close() })
		toolAuditor = audit.NewToolAuditor(store)
	}

	registry, err := tools.New(reader, tools.Options{Auditor: toolAuditor})
	if err != nil {
		t.Fatal(err)
	}

	cfg := agentutil.DefaultConfig()
	cfg.APIKey = "test-key"
	asst := assistant.New(assistant.Options{
		Config:  cfg,
		Tools:   registry.ADKTools(),
		Auditor: toolAuditor,
		NewLLM: func(_ context.Context, c agentutil.Config) (adkmodel.LLM, error) {
			if o.llmErr != nil {
				return nil, o.llmErr
			}
			return &answerLLM{name: c.ModelName, probeErr: o.probeErr}, nil
		},
	})

	srv := NewServer(cfg, reader, registry, asst)
	if store != nil {
		srv.SetAuditor(store)
	}
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	return &testEnv{server: srv, mux: mux, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.server.Handler(e.mux).ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decoding %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, out
}

// --- Cluster endpoints ---

func TestClusterHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec, out := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["status"] != "success" {
		t.Errorf("status field = %v", out["status"])
	}
	nodes, _ := out["nodes"].([]any)
	if len(nodes) != 1 || nodes[0] != "node-1" {
		t.Errorf("nodes = %v", out["nodes"])
	}
}

func TestClusterHealth_Unreachable(t *testing.T) {
	env := newTestEnv(t, envOptions{noKube: true})
	rec, out := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if out["status"] != "error" || out["message"] == "" {
		t.Errorf("body = %v", out)
	}
}

func TestListEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	for _, tt := range []struct{ path, key string }{
		{"/pods", "pods"},
		{"/services", "services"},
		{"/deployments", "deployments"},
	} {
		t.Run(tt.key, func(t *testing.T) {
			rec, out := env.do(t, http.MethodGet, tt.path, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			items, ok := out[tt.key].([]any)
			if !ok || len(items) != 1 {
				t.Fatalf("%s = %v", tt.key, out[tt.key])
			}
			first := items[0].(map[string]any)
			if first["namespace"] != "default" {
				t.Errorf("item = %v", first)
			}
		})
	}
}

func TestListEndpoints_LegacyErrorEnvelope(t *testing.T) {
	env := newTestEnv(t, envOptions{noKube: true})
	for _, path := range []string{"/pods", "/services", "/deployments"} {
		rec, out := env.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
		if msg, _ := out["error"].(string); msg == "" {
			t.Errorf("%s body = %v, want error envelope", path, out)
		}
	}
}

// --- Agent API ---

func TestQuery_Success(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec, out := env.do(t, http.MethodPost, "/api/query", `{"query":"are my pods ok?","model_name":"anthropic/claude-3.5-sonnet"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", rec.Code, out)
	}
	if out["status"] != "success" {
		t.Errorf("status field = %v", out["status"])
	}
	if out["output"] != "All pods are healthy (anthropic/claude-3.5-sonnet)." {
		t.Errorf("output = %v", out["output"])
	}
	if id, _ := out["session_id"].(string); id == "" {
		t.Error("session_id missing")
	}
	if rec.Header().Get(audit.TraceHeader) == "" {
		t.Error("trace header missing")
	}
}

func TestQuery_Errors(t *testing.T) {
	tests := []struct {
		name     string
		opts     envOptions
		body     string
		wantCode int
		wantMsg  string
	}{
		{"invalid json", envOptions{}, `{`, http.StatusBadRequest, "invalid JSON body"},
		{"empty query", envOptions{}, `{"query":"  "}`, http.StatusBadRequest, "must not be empty"},
		{"config", envOptions{llmErr: fmt.Errorf("%w: OPENROUTER_API_KEY environment variable is not set", model.ErrConfig)},
			`{"query":"hi"}`, http.StatusBadRequest, "Configuration error"},
		{"auth", envOptions{probeErr: fmt.Errorf("%w: 401", model.ErrAuth)},
			`{"query":"hi"}`, http.StatusUnauthorized, "OPENROUTER_API_KEY"},
		{"quota", envOptions{probeErr: fmt.Errorf("%w: 429", model.ErrQuota)},
			`{"query":"hi"}`, http.StatusTooManyRequests, "quota"},
		{"other", envOptions{probeErr: errors.New("connection reset")},
			`{"query":"hi"}`, http.StatusInternalServerError, "unexpected error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.opts)
			rec, out := env.do(t, http.MethodPost, "/api/query", tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if out["status"] != "error" {
				t.Errorf("status field = %v", out["status"])
			}
			if msg, _ := out["error"].(string); !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", msg, tt.wantMsg)
			}
		})
	}
}

func TestAPIHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{noKube: true})
	rec, out := env.do(t, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK || out["status"] != "healthy" || out["service"] != "KubeSage REST API" {
		t.Errorf("got %d %v", rec.Code, out)
	}
}

func TestTools(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec, out := env.do(t, http.MethodGet, "/api/tools", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if out["count"] != float64(18) {
		t.Errorf("count = %v, want 18", out["count"])
	}

	tests := []struct {
		name, path, body string
		wantCode         int
		wantStatus       string
	}{
		{"no body", "/api/tools/get_all_pods", "", http.StatusOK, "success"},
		{"with params", "/api/tools/describe_pod", `{"pod_name":"web-1"}`, http.StatusOK, "success"},
		{"missing pod", "/api/tools/describe_pod", `{"pod_name":"nope"}`, http.StatusOK, "error"},
		{"unknown tool", "/api/tools/delete_everything", `{}`, http.StatusNotFound, "error"},
		{"bad params", "/api/tools/get_all_pods", `[1,2]`, http.StatusBadRequest, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := env.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (%v)", rec.Code, tt.wantCode, out)
			}
			if out["status"] != tt.wantStatus {
				t.Errorf("status field = %v, want %s", out["status"], tt.wantStatus)
			}
		})
	}
}

func TestHistory_Disabled(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	for _, path := range []string{"/api/history", "/api/history/verify"} {
		rec, _ := env.do(t, http.MethodGet, path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, envOptions{audit: true})

	env.do(t, http.MethodPost, "/api/tools/get_all_pods", "")
	env.do(t, http.MethodPost, "/api/query", `{"query":"are my pods ok?"}`)

	rec, out := env.do(t, http.MethodGet, "/api/history?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", out["count"])
	}
	events := out["events"].([]any)
	if events[0].(map[string]any)["event_type"] != string(audit.EventTypeQuery) {
		t.Errorf("newest event = %v", events[0])
	}

	_, out = env.do(t, http.MethodGet, "/api/history?tool=get_all_pods", "")
	if out["count"] != float64(1) {
		t.Errorf("tool filter count = %v", out["count"])
	}

	rec, _ = env.do(t, http.MethodGet, "/api/history?limit=-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
	rec, _ = env.do(t, http.MethodGet, "/api/history?since=yesterday", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d", rec.Code)
	}

	rec, out = env.do(t, http.MethodGet, "/api/history/verify", "")
	if rec.Code != http.StatusOK || out["valid"] != true {
		t.Errorf("verify = %d %v", rec.Code, out)
	}
}

func TestQueryStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{assistant.ErrEmptyQuery, http.StatusBadRequest},
		{fmt.Errorf("%w: x", model.ErrConfig), http.StatusBadRequest},
		{fmt.Errorf("%w: x", model.ErrModelNotFound), http.StatusBadRequest},
		{fmt.Errorf("%w: x", model.ErrAuth), http.StatusUnauthorized},
		{fmt.Errorf("%w: x", model.ErrQuota), http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := queryStatus(tt.err); got != tt.want {
			t.Errorf("queryStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPublicURL(t *testing.T) {
	tests := []struct {
		listen, public, want string
	}{
		{":8000", "", "http://localhost:8000"},
		{"0.0.0.0:9000", "", "http://0.0.0.0:9000"},
		{":8000", "https://kubesage.example.com", "https://kubesage.example.com"},
	}
	for _, tt := range tests {
		cfg := agentutil.Config{ListenAddr: tt.listen, PublicURL: tt.public}
		if got := publicURL(cfg); got != tt.want {
			t.Errorf("publicURL(%q, %q) = %q, want %q", tt.listen, tt.public, got, tt.want)
		}
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	env.server.Handler(env.mux).ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
