// Package assistant runs the KubeSage troubleshooting agent: it builds the
// LLM agent around the cluster tools, keeps one runner per model, and turns
// a question into the agent's final answer.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"
	"golang.org/x/sync/singleflight"

	"github.com/ozlevka/KubeSage/agentutil"
	"github.com/ozlevka/KubeSage/internal/audit"
	"github.com/ozlevka/KubeSage/internal/metrics"
	"github.com/ozlevka/KubeSage/internal/model"
	"github.com/ozlevka/KubeSage/prompts"
)

const (
	// AgentName names the agent, the ADK app and the A2A card.
	AgentName = "kubesage"
	// AgentDescription is shown on the A2A card.
	AgentDescription = "Kubernetes troubleshooting assistant that inspects pods, services, deployments, nodes, events, logs, RBAC, volumes, jobs and ingress to diagnose cluster issues."
	// UserID owns every session; KubeSage has no user accounts.
	UserID = "kubesage-user"
	// ProbeQuery is sent once per model to verify the key and the model name.
	ProbeQuery = "Hi, this is a test query"
)

// ErrEmptyQuery is returned for a blank question.
var ErrEmptyQuery = errors.New("query must not be empty")

// LLMFactory builds the model named by cfg.ModelName.
type LLMFactory func(ctx context.Context, cfg agentutil.Config) (adkmodel.LLM, error)

// Options configures an Assistant.
type Options struct {
	Config agentutil.Config
	Tools  []tool.Tool
	// Auditor records queries; nil disables.
	Auditor *audit.ToolAuditor
	// NewLLM defaults to agentutil.NewLLM.
	NewLLM LLMFactory
	// Sessions defaults to an in-memory service.
	Sessions session.Service
}

// Assistant answers questions with the agent. It is safe for concurrent use.
type Assistant struct {
	cfg      agentutil.Config
	tools    []tool.Tool
	auditor  *audit.ToolAuditor
	newLLM   LLMFactory
	sessions session.Service

	mu      sync.Mutex
	runners map[string]*modelRunner // keyed by requested model name
	inits   singleflight.Group
}

type modelRunner struct {
	model  string // model actually in use, after any fallback
	agent  agent.Agent
	runner *runner.Runner
}

// New returns an Assistant. No model is contacted until the first query.
func New(opts Options) *Assistant {
	a := &Assistant{
		cfg:      opts.Config,
		tools:    opts.Tools,
		auditor:  opts.Auditor,
		newLLM:   opts.NewLLM,
		sessions: opts.Sessions,
		runners:  make(map[string]*modelRunner),
	}
	if a.newLLM == nil {
		a.newLLM = agentutil.NewLLM
	}
	if a.sessions == nil {
		a.sessions = session.InMemoryService()
	}
	return a
}

// Sessions returns the session service shared by every model's runner.
func (a *Assistant) Sessions() session.Service { return a.sessions }

// Agent returns the agent for modelName (the default model when empty),
// initialising it if needed.
func (a *Assistant) Agent(ctx context.Context, modelName string) (agent.Agent, error) {
	mr, err := a.runnerFor(ctx, modelName)
	if err != nil {
		return nil, err
	}
	return mr.agent, nil
}

// Init initialises modelName and returns the model actually in use.
func (a *Assistant) Init(ctx context.Context, modelName string) (string, error) {
	mr, err := a.runnerFor(ctx, modelName)
	if err != nil {
		return "", err
	}
	return mr.model, nil
}

func (a *Assistant) runnerFor(ctx context.Context, modelName string) (*modelRunner, error) {
	if modelName == "" {
		modelName = a.cfg.ModelName
	}

	if mr, ok := a.cached(modelName); ok {
		return mr, nil
	}

	// Concurrent first calls for one model share a single probe; other
	// models are never blocked by it.
	v, err, _ := a.inits.Do(modelName, func() (any, error) {
		if mr, ok := a.cached(modelName); ok {
			return mr, nil
		}
		mr, err := a.initModel(ctx, modelName)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.runners[modelName] = mr
		a.mu.Unlock()
		return mr, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*modelRunner), nil
}

func (a *Assistant) cached(modelName string) (*modelRunner, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mr, ok := a.runners[modelName]
	return mr, ok
}

// initModel builds the LLM, probes it, falls back once when the model does
// not exist, and wires the agent and its runner.
func (a *Assistant) initModel(ctx context.Context, modelName string) (*modelRunner, error) {
	cfg := a.cfg.WithModel(modelName)
	llm, err := a.probedLLM(ctx, cfg)
	if errors.Is(err, model.ErrModelNotFound) && cfg.FallbackModel != "" && cfg.FallbackModel != cfg.ModelName {
		slog.Warn("model not found, using fallback", "model", cfg.ModelName, "fallback", cfg.FallbackModel)
		cfg = cfg.WithModel(cfg.FallbackModel)
		llm, err = a.probedLLM(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}

	ag, err := llmagent.New(llmagent.Config{
		Name:        AgentName,
		Description: AgentDescription,
		Instruction: prompts.KubeSage,
		Model:       llm,
		Tools:       a.tools,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	r, err := runner.New(runner.Config{
		AppName:        AgentName,
		Agent:          ag,
		SessionService: a.sessions,
	})
	if err != nil {
		return nil, fmt.Errorf("creating runner: %w", err)
	}

	slog.Info("agent initialised", "model", cfg.ModelName, "tools", len(a.tools))
	return &modelRunner{model: cfg.ModelName, agent: ag, runner: r}, nil
}

func (a *Assistant) probedLLM(ctx context.Context, cfg agentutil.Config) (adkmodel.LLM, error) {
	llm, err := a.newLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := probe(ctx, llm); err != nil {
		return nil, err
	}
	return llm, nil
}

// probe sends ProbeQuery and reports the first error.
func probe(ctx context.Context, llm adkmodel.LLM) error {
	req := &adkmodel.LLMRequest{
		Model:    llm.Name(),
		Contents: []*genai.Content{genai.NewContentFromText(ProbeQuery, genai.RoleUser)},
	}
	for _, err := range llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return model.Classify(err)
		}
	}
	return nil
}

// NewSession starts a conversation and returns its ID.
func (a *Assistant) NewSession(ctx context.Context) (string, error) {
	id := uuid.New().String()
	if _, err := a.sessions.Create(ctx, &session.CreateRequest{
		AppName:   AgentName,
		UserID:    UserID,
		SessionID: id,
	}); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return id, nil
}

// ensureSession creates the session id if the caller named one that does not exist yet.
func (a *Assistant) ensureSession(ctx context.Context, id string) error {
	if _, err := a.sessions.Get(ctx, &session.GetRequest{AppName: AgentName, UserID: UserID, SessionID: id}); err == nil {
		return nil
	}
	if _, err := a.sessions.Create(ctx, &session.CreateRequest{AppName: AgentName, UserID: UserID, SessionID: id}); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Request is one question for the agent.
type Request struct {
	Query string
	// Model selects the model; empty means the configured default.
	Model string
	// SessionID continues a conversation; empty starts a new one.
	SessionID string
	// Origin labels the caller in the audit log (rest, websocket, cli).
	Origin string
}

// Response is the agent's answer.
type Response struct {
	Output    string
	Model     string
	SessionID string
}

// Query runs the agent on req and returns its final text. Model errors wrap
// the sentinels in the model package.
func (a *Assistant) Query(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	ctx, traceID := audit.EnsureTraceID(ctx)

	resp, err := a.query(ctx, req)

	modelLabel := resp.Model
	if modelLabel == "" {
		modelLabel = a.cfg.WithModel(req.Model).ModelName
	}
	duration := time.Since(start)
	metrics.ObserveQuery(modelLabel, ErrorKind(err), duration)
	a.auditor.RecordQuery(ctx, audit.QueryRecord{
		SessionID: resp.SessionID,
		Query:     req.Query,
		Model:     modelLabel,
		Origin:    req.Origin,
		Response:  resp.Output,
		Err:       err,
	}, duration)

	if err != nil {
		slog.Error("query failed", "trace_id", traceID, "model", modelLabel, "err", err)
	} else {
		slog.Info("query answered", "trace_id", traceID, "model", modelLabel, "session", resp.SessionID, "duration", duration)
	}
	return resp, err
}

func (a *Assistant) query(ctx context.Context, req Request) (Response, error) {
	resp := Response{SessionID: req.SessionID}
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return resp, ErrEmptyQuery
	}

	mr, err := a.runnerFor(ctx, req.Model)
	if err != nil {
		return resp, err
	}
	resp.Model = mr.model

	if resp.SessionID == "" {
		if resp.SessionID, err = a.NewSession(ctx); err != nil {
			return resp, err
		}
	} else if err := a.ensureSession(ctx, resp.SessionID); err != nil {
		return resp, err
	}

	events := mr.runner.Run(ctx, UserID, resp.SessionID, genai.NewContentFromText(q, genai.RoleUser), agent.RunConfig{})
	out, err := finalText(events, mr.model)
	if err != nil {
		return resp, model.Classify(err)
	}
	resp.Output = out
	return resp, nil
}

// finalText drains the run and returns the text of the last complete model
// turn that did not call a tool.
func finalText(events iter.Seq2[*session.Event, error], modelName string) (string, error) {
	var final string
	for ev, err := range events {
		if err != nil {
			return "", err
		}
		if ev == nil {
			continue
		}
		resp := ev.LLMResponse
		if u := resp.UsageMetadata; u != nil {
			metrics.ObserveTokens(modelName, u.PromptTokenCount, u.CandidatesTokenCount)
		}
		if resp.Partial || resp.Content == nil {
			continue
		}
		if text, calls := contentText(resp.Content); !calls && text != "" {
			final = text
		}
	}
	return final, nil
}

func contentText(c *genai.Content) (string, bool) {
	var parts []string
	calls := false
	for _, p := range c.Parts {
		if p == nil {
			continue
		}
		if p.FunctionCall != nil || p.FunctionResponse != nil {
			calls = true
		}
		if p.Text != "" && !p.Thought {
			parts = append(parts, p.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "")), calls
}

// ErrorKind labels err for metrics and user-facing messages.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrEmptyQuery):
		return "empty_query"
	case errors.Is(err, model.ErrConfig):
		return "config_error"
	case errors.Is(err, model.ErrAuth):
		return "auth_error"
	case errors.Is(err, model.ErrQuota):
		return "quota_exceeded"
	case errors.Is(err, model.ErrModelNotFound):
		return "model_not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}
