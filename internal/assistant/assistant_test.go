package assistant

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/ozlevka/KubeSage/agentutil"
	"github.com/ozlevka/KubeSage/internal/audit"
	"github.com/ozlevka/KubeSage/internal/k8s"
	"github.com/ozlevka/KubeSage/internal/model"
	"github.com/ozlevka/KubeSage/internal/tools"
)

// fakeLLM answers the probe with a greeting, asks for get_all_pods on a
// fresh question, and summarises the tool result once it arrives.
type fakeLLM struct {
	name     string
	probeErr error
	// probeStarted is signalled and probeHold waited on before the probe
	// answers, when set.
	probeStarted chan<- struct{}
	probeHold    <-chan struct{}

	mu       sync.Mutex
	requests []*adkmodel.LLMRequest
}

func (f *fakeLLM) Name() string { return f.name }

func (f *fakeLLM) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		last := req.Contents[len(req.Contents)-1]

		if text := partsText(last); text == ProbeQuery {
			if f.probeHold != nil {
				f.probeStarted <- struct{}{}
				select {
				case <-f.probeHold:
				case <-ctx.Done():
					yield(nil, ctx.Err())
					return
				}
			}
			if f.probeErr != nil {
				yield(nil, f.probeErr)
				return
			}
			yield(textResponse("Hello"), nil)
			return
		}

		for _, p := range last.Parts {
			if p.FunctionResponse != nil {
				pods, _ := p.FunctionResponse.Response["pods"].([]any)
				yield(textResponse(fmt.Sprintf("Found %d pods (model %s).", len(pods), f.name)), nil)
				return
			}
		}

		yield(&adkmodel.LLMResponse{
			Content: &genai.Content{
				Role: "model",
				Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{
					ID:   "call-1",
					Name: "get_all_pods",
					Args: map[string]any{},
				}}},
			},
			UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 5},
		}, nil)
	}
}

func (f *fakeLLM) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func textResponse(text string) *adkmodel.LLMResponse {
	return &adkmodel.LLMResponse{
		Content:      &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		TurnComplete: true,
	}
}

func partsText(c *genai.Content) string {
	var b strings.Builder
	for _, p := range c.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// factory hands out one fakeLLM per model name and remembers them.
type factory struct {
	mu       sync.Mutex
	models   map[string]*fakeLLM
	probeErr map[string]error
	buildErr error
	builds   map[string]int

	// Probes for holdModel block until hold is closed.
	holdModel string
	hold      chan struct{}
	started   chan struct{}
}

func (f *factory) newLLM(_ context.Context, cfg agentutil.Config) (adkmodel.LLM, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	if f.models == nil {
		f.models = map[string]*fakeLLM{}
	}
	if f.builds == nil {
		f.builds = map[string]int{}
	}
	f.builds[cfg.ModelName]++
	llm := &fakeLLM{name: cfg.ModelName, probeErr: f.probeErr[cfg.ModelName]}
	if f.holdModel != "" && cfg.ModelName == f.holdModel {
		llm.probeStarted = f.started
		llm.probeHold = f.hold
	}
	f.models[cfg.ModelName] = llm
	return llm, nil
}

func (f *factory) built(name string) *fakeLLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.models[name]
}

func (f *factory) buildCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds[name]
}

func testConfig() agentutil.Config {
	cfg := agentutil.DefaultConfig()
	cfg.APIKey = "test-key"
	return cfg
}

func newAssistant(t *testing.T, f *factory, auditor *audit.ToolAuditor) *Assistant {
	t.Helper()
	cs := fake.NewSimpleClientset(
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "web-1", Namespace: "default"}, Status: corev1.PodStatus{Phase: corev1.PodRunning}},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "db-0", Namespace: "data"}, Status: corev1.PodStatus{Phase: corev1.PodPending}},
	)
	reg, err := tools.New(k8s.NewReader(k8s.Static{KubeClient: cs}), tools.Options{})
	if err != nil {
		t.Fatalf("tools.New: %v", err)
	}
	return New(Options{
		Config:  testConfig(),
		Tools:   reg.ADKTools(),
		Auditor: auditor,
		NewLLM:  f.newLLM,
	})
}

func TestQuery_RunsToolsAndAnswers(t *testing.T) {
	f := &factory{}
	a := newAssistant(t, f, nil)

	resp, err := a.Query(context.Background(), Request{Query: "How many pods are running?"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Output != "Found 2 pods (model openai/gpt-4o)." {
		t.Errorf("Output = %q", resp.Output)
	}
	if resp.Model != "openai/gpt-4o" {
		t.Errorf("Model = %q", resp.Model)
	}
	if resp.SessionID == "" {
		t.Error("a session should be created when none is given")
	}
}

func TestQuery_EmptyQuery(t *testing.T) {
	f := &factory{}
	a := newAssistant(t, f, nil)
	for _, q := range []string{"", "   \n"} {
		if _, err := a.Query(context.Background(), Request{Query: q}); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("Query(%q) err = %v, want ErrEmptyQuery", q, err)
		}
	}
	if f.built("openai/gpt-4o") != nil {
		t.Error("an empty query should not initialise a model")
	}
}

func TestQuery_InitialisesOncePerModel(t *testing.T) {
	f := &factory{}
	a := newAssistant(t, f, nil)
	ctx := context.Background()

	if _, err := a.Query(ctx, Request{Query: "pods?"}); err != nil {
		t.Fatal(err)
	}
	first := f.built("openai/gpt-4o")
	if _, err := a.Query(ctx, Request{Query: "pods again?"}); err != nil {
		t.Fatal(err)
	}
	if f.built("openai/gpt-4o") != first {
		t.Error("the default model should be built once and reused")
	}

	resp, err := a.Query(ctx, Request{Query: "pods?", Model: "anthropic/claude-3.5-sonnet"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Model != "anthropic/claude-3.5-sonnet" || !strings.Contains(resp.Output, "anthropic/claude-3.5-sonnet") {
		t.Errorf("per-request model not used: %+v", resp)
	}
}

func TestQuery_SessionContinues(t *testing.T) {
	f := &factory{}
	a := newAssistant(t, f, nil)
	ctx := context.Background()

	id, err := a.NewSession(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Query(ctx, Request{Query: "first", SessionID: id}); err != nil {
		t.Fatal(err)
	}
	llm := f.built("openai/gpt-4o")
	before := llm.requestCount()

	resp, err := a.Query(ctx, Request{Query: "second", SessionID: id})
	if err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != id {
		t.Errorf("SessionID = %q, want %q", resp.SessionID, id)
	}

	llm.mu.Lock()
	last := llm.requests[before]
	llm.mu.Unlock()
	history := 0
	for _, c := range last.Contents {
		if strings.Contains(partsText(c), "first") {
			history++
		}
	}
	if history == 0 {
		t.Error("second query should carry the first query in its history")
	}
}

func TestQuery_CallerSessionIDCreated(t *testing.T) {
	a := newAssistant(t, &factory{}, nil)
	resp, err := a.Query(context.Background(), Request{Query: "pods?", SessionID: "ws-123"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "ws-123" {
		t.Errorf("SessionID = %q", resp.SessionID)
	}
}

func TestInit_FallbackOnModelNotFound(t *testing.T) {
	f := &factory{probeErr: map[string]error{
		"openai/gpt-4o": fmt.Errorf("%w: no such model", model.ErrModelNotFound),
	}}
	a := newAssistant(t, f, nil)

	got, err := a.Init(context.Background(), "")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got != "openai/gpt-4o-mini" {
		t.Errorf("model in use = %q, want fallback", got)
	}
	if probe := f.built("openai/gpt-4o-mini"); probe == nil || probe.requestCount() != 1 {
		t.Error("fallback model should be probed once")
	}
}

func TestInit_Errors(t *testing.T) {
	tests := []struct {
		name string
		f    *factory
		want error
	}{
		{"config", &factory{buildErr: fmt.Errorf("%w: OPENROUTER_API_KEY environment variable is not set", model.ErrConfig)}, model.ErrConfig},
		{"auth", &factory{probeErr: map[string]error{"openai/gpt-4o": fmt.Errorf("%w: bad key", model.ErrAuth)}}, model.ErrAuth},
		{"quota", &factory{probeErr: map[string]error{"openai/gpt-4o": fmt.Errorf("%w: slow down", model.ErrQuota)}}, model.ErrQuota},
		{"fallback missing too", &factory{probeErr: map[string]error{
			"openai/gpt-4o":      fmt.Errorf("%w", model.ErrModelNotFound),
			"openai/gpt-4o-mini": fmt.Errorf("%w", model.ErrModelNotFound),
		}}, model.ErrModelNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newAssistant(t, tt.f, nil)
			_, err := a.Query(context.Background(), Request{Query: "pods?"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			// Failures are not cached; the next query tries again.
			if len(a.runners) != 0 {
				t.Error("failed initialisation should not be cached")
			}
		})
	}
}

func TestQuery_Audited(t *testing.T) {
	store, err := audit.NewStore(context.Background(), audit.StoreConfig{DSN: filepath.Join(t.TempDir(), "audit.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	a := newAssistant(t, &factory{}, audit.NewToolAuditor(store))
	if _, err := a.Query(context.Background(), Request{Query: "pods?", Origin: "rest"}); err != nil {
		t.Fatal(err)
	}

	events, err := store.Query(context.Background(), audit.QueryOptions{EventType: audit.EventTypeQuery})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d query events", len(events))
	}
	ev := events[0]
	if ev.Input.UserQuery != "pods?" || ev.Input.Origin != "rest" || ev.Output == nil || !strings.Contains(ev.Output.Response, "2 pods") {
		t.Errorf("event = %+v", ev)
	}
	if ev.TraceID == "" {
		t.Error("query event should carry a trace ID")
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{ErrEmptyQuery, "empty_query"},
		{fmt.Errorf("%w: x", model.ErrConfig), "config_error"},
		{fmt.Errorf("%w: x", model.ErrAuth), "auth_error"},
		{fmt.Errorf("%w: x", model.ErrQuota), "quota_exceeded"},
		{fmt.Errorf("%w: x", model.ErrModelNotFound), "model_not_found"},
		{context.Canceled, "cancelled"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestInit_SlowModelDoesNotBlockOthers(t *testing.T) {
	f := &factory{holdModel: "slow/model", hold: make(chan struct{}), started: make(chan struct{}, 1)}
	a := newAssistant(t, f, nil)
	ctx := context.Background()

	if _, err := a.Init(ctx, ""); err != nil {
		t.Fatalf("Init(default): %v", err)
	}

	slowDone := make(chan error, 1)
	go func() {
		_, err := a.Init(ctx, "slow/model")
		slowDone <- err
	}()
	<-f.started

	answered := make(chan error, 1)
	go func() {
		_, err := a.Query(ctx, Request{Query: "list pods"})
		answered <- err
	}()
	select {
	case err := <-answered:
		if err != nil {
			t.Fatalf("Query(default): %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("query to an initialised model waited on another model's probe")
	}

	close(f.hold)
	if err := <-slowDone; err != nil {
		t.Fatalf("Init(slow/model): %v", err)
	}
}

func TestInit_ConcurrentCallsShareOneProbe(t *testing.T) {
	f := &factory{holdModel: "slow/model", hold: make(chan struct{}), started: make(chan struct{}, 1)}
	a := newAssistant(t, f, nil)

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Init(context.Background(), "slow/model")
			errs <- err
		}()
	}
	<-f.started
	// Give the remaining callers time to join the pending initialisation.
	time.Sleep(50 * time.Millisecond)
	close(f.hold)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Init: %v", err)
		}
	}
	if n := f.buildCount("slow/model"); n != 1 {
		t.Errorf("slow/model built %d times, want 1", n)
	}
}
