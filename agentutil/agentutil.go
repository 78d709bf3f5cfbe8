// Package agentutil holds the pieces every KubeSage entry point shares:
// configuration, LLM construction, and A2A exposure of the agent.
package agentutil

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"google.golang.org/genai"

	"google.golang.org/adk/agent"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/server/adka2a"
	"google.golang.org/adk/session"

	"github.com/ozlevka/KubeSage/internal/model"
)

// NewLLM creates the model named by cfg.ModelName for cfg.ModelVendor.
// Configuration problems wrap model.ErrConfig.
func NewLLM(ctx context.Context, cfg Config) (adkmodel.LLM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.ModelVendor {
	case "openrouter", "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" && cfg.ModelVendor == "openrouter" {
			baseURL = model.OpenRouterBaseURL
		}
		slog.Info("using model", "vendor", cfg.ModelVendor, "model", cfg.ModelName)
		return model.NewOpenAIModel(cfg.ModelName, cfg.APIKey, baseURL), nil

	case "anthropic":
		slog.Info("using model", "vendor", "anthropic", "model", cfg.ModelName)
		return model.NewAnthropicModel(cfg.ModelName, cfg.APIKey), nil

	case "google", "gemini":
		llm, err := gemini.NewModel(ctx, cfg.ModelName, &genai.ClientConfig{APIKey: cfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("%w: creating Gemini model: %v", model.ErrConfig, err)
		}
		slog.Info("using model", "vendor", "gemini", "model", cfg.ModelName)
		return llm, nil
	}

	return nil, fmt.Errorf("%w: unknown model vendor %q", model.ErrConfig, cfg.ModelVendor)
}

// CardOptions allows callers to customize the AgentCard beyond the defaults
// derived from the ADK agent.
type CardOptions struct {
	// Version is the agent's version string (e.g., "1.0.0").
	Version string

	// DocumentationURL points to the agent's documentation.
	DocumentationURL string

	// Provider describes the organization providing this agent.
	Provider *a2a.AgentProvider

	// SkillTags maps a skill ID to additional tags to merge onto the
	// auto-generated skills. Skill IDs follow the ADK pattern:
	// "agentName" for the model skill, "agentName-toolName" for tool skills.
	SkillTags map[string][]string

	// SkillExamples maps a skill ID to example prompts.
	SkillExamples map[string][]string
}

// applyCardOptions merges optional metadata onto an AgentCard.
func applyCardOptions(card *a2a.AgentCard, opts CardOptions) {
	if opts.Version != "" {
		card.Version = opts.Version
	}
	if opts.DocumentationURL != "" {
		card.DocumentationURL = opts.DocumentationURL
	}
	if opts.Provider != nil {
		card.Provider = opts.Provider
	}
	for i := range card.Skills {
		skill := &card.Skills[i]
		if tags, ok := opts.SkillTags[skill.ID]; ok {
			skill.Tags = append(skill.Tags, tags...)
		}
		if examples, ok := opts.SkillExamples[skill.ID]; ok {
			skill.Examples = examples
		}
	}
}

// A2APath is where the JSON-RPC endpoint is mounted.
const A2APath = "/a2a/invoke"

// NewAgentCard describes agent a for A2A discovery. baseURL is the externally
// reachable root of the server.
func NewAgentCard(a agent.Agent, baseURL *url.URL, opts ...CardOptions) *a2a.AgentCard {
	card := &a2a.AgentCard{
		Name:               a.Name(),
		Description:        a.Description(),
		Skills:             adka2a.BuildAgentSkills(a),
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		URL:                baseURL.JoinPath(A2APath).String(),
		Capabilities:       a2a.AgentCapabilities{Streaming: true},
	}
	if len(opts) > 0 {
		applyCardOptions(card, opts[0])
	}
	return card
}

// MountA2A registers the agent card and the A2A JSON-RPC handler on mux.
// Conversations started over A2A live in sessions.
func MountA2A(mux *http.ServeMux, a agent.Agent, baseURL *url.URL, sessions session.Service, opts ...CardOptions) {
	card := NewAgentCard(a, baseURL, opts...)
	mux.Handle(a2asrv.WellKnownAgentCardPath, a2asrv.NewStaticAgentCardHandler(card))

	executor := adka2a.NewExecutor(adka2a.ExecutorConfig{
		RunnerConfig: runner.Config{
			AppName:        a.Name(),
			Agent:          a,
			SessionService: sessions,
		},
	})
	mux.Handle(A2APath, a2asrv.NewJSONRPCHandler(a2asrv.NewHandler(executor)))

	slog.Info("A2A endpoint mounted",
		"agent", a.Name(),
		"url", card.URL,
		"card", baseURL.JoinPath(a2asrv.WellKnownAgentCardPath).String(),
	)
}
