package model

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"
)

const anthropicMaxTokens = 4096

// AnthropicModel implements the adkmodel.LLM interface for Anthropic Claude.
type AnthropicModel struct {
	client    anthropic.Client
	modelName string
}

// NewAnthropicModel creates a new Anthropic model client. Extra options are
// appended after the API key, so tests can point the client at a local server.
func NewAnthropicModel(modelName, apiKey string, opts ...option.RequestOption) *AnthropicModel {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &AnthropicModel{
		client:    anthropic.NewClient(opts...),
		modelName: modelName,
	}
}

// Name returns the model name.
func (m *AnthropicModel) Name() string {
	return m.modelName
}

// GenerateContent implements the adkmodel.LLM interface. Streaming is not
// used; tool_use blocks are only reliable in complete responses.
func (m *AnthropicModel) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		params, err := m.convertRequest(req)
		if err != nil {
			yield(nil, fmt.Errorf("failed to convert request: %w", err))
			return
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			slog.Debug("anthropic API error", "err", err)
			yield(nil, Classify(fmt.Errorf("anthropic API error: %w", err)))
			return
		}
		yield(convertAnthropicResponse(resp), nil)
	}
}

func (m *AnthropicModel) convertRequest(req *adkmodel.LLMRequest) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: anthropicMaxTokens,
	}

	if sys := systemText(req.Config); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	for _, content := range req.Contents {
		if content == nil {
			continue
		}
		if content.Role == "system" {
			for _, part := range content.Parts {
				if part.Text != "" {
					params.System = append(params.System, anthropic.TextBlockParam{Text: part.Text})
				}
			}
			continue
		}
		msg, err := convertContentToAnthropic(content)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Messages = append(params.Messages, msg)
	}

	for _, spec := range toolSpecs(req.Tools) {
		schema := anthropic.ToolInputSchemaParam{Properties: spec.Parameters["properties"]}
		if required, ok := spec.Parameters["required"].([]any); ok {
			for _, r := range required {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: schema,
			},
		})
	}

	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			params.Temperature = anthropic.Float(float64(*cfg.Temperature))
		}
		if cfg.TopP != nil {
			params.TopP = anthropic.Float(float64(*cfg.TopP))
		}
		if cfg.MaxOutputTokens != 0 {
			params.MaxTokens = int64(cfg.MaxOutputTokens)
		}
	}
	return params, nil
}

func convertContentToAnthropic(content *genai.Content) (anthropic.MessageParam, error) {
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range content.Parts {
		switch {
		case part.Text != "":
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		case part.FunctionCall != nil:
			blocks = append(blocks, anthropic.NewToolUseBlock(
				part.FunctionCall.ID,
				part.FunctionCall.Args,
				part.FunctionCall.Name,
			))
		case part.FunctionResponse != nil:
			body, err := json.Marshal(part.FunctionResponse.Response)
			if err != nil {
				return anthropic.MessageParam{}, err
			}
			blocks = append(blocks, anthropic.NewToolResultBlock(part.FunctionResponse.ID, string(body), false))
		}
	}

	if content.Role == "model" || content.Role == "assistant" {
		return anthropic.NewAssistantMessage(blocks...), nil
	}
	return anthropic.NewUserMessage(blocks...), nil
}

func convertAnthropicResponse(resp *anthropic.Message) *adkmodel.LLMResponse {
	var parts []*genai.Part
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			parts = append(parts, &genai.Part{Text: block.Text})
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					slog.Warn("failed to parse tool_use input", "tool", block.Name, "err", err)
				}
			}
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   block.ID,
				Name: block.Name,
				Args: args,
			}})
		}
	}

	finish := genai.FinishReasonStop
	turnComplete := true
	switch resp.StopReason {
	case "tool_use":
		turnComplete = false
	case "max_tokens":
		finish = genai.FinishReasonMaxTokens
	}

	return &adkmodel.LLMResponse{
		Content: &genai.Content{
			Role:  "model",
			Parts: parts,
		},
		FinishReason: finish,
		TurnComplete: turnComplete,
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     int32(resp.Usage.InputTokens),
			CandidatesTokenCount: int32(resp.Usage.OutputTokens),
			TotalTokenCount:      int32(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
}
