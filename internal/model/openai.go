package model

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAIModel implements adkmodel.LLM over any OpenAI-compatible chat
// completions API (OpenAI itself, OpenRouter, local gateways).
type OpenAIModel struct {
	client    *openai.Client
	modelName string
}

// NewOpenAIModel creates a client for modelName. An empty baseURL keeps the
// library's default OpenAI endpoint.
func NewOpenAIModel(modelName, apiKey, baseURL string) *OpenAIModel {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIModel{
		client:    openai.NewClientWithConfig(cfg),
		modelName: modelName,
	}
}

// Name returns the model name.
func (m *OpenAIModel) Name() string {
	return m.modelName
}

// GenerateContent implements adkmodel.LLM. Responses are never streamed;
// tool calls arrive complete in a single response.
func (m *OpenAIModel) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		params, err := m.convertRequest(req)
		if err != nil {
			yield(nil, fmt.Errorf("failed to convert request: %w", err))
			return
		}

		slog.Debug("chat completion request", "model", m.modelName, "messages", len(params.Messages), "tools", len(params.Tools))
		resp, err := m.client.CreateChatCompletion(ctx, params)
		if err != nil {
			yield(nil, Classify(fmt.Errorf("openai-compatible API error: %w", err)))
			return
		}
		if len(resp.Choices) == 0 {
			yield(nil, fmt.Errorf("openai-compatible API returned no choices"))
			return
		}
		yield(convertChatResponse(resp), nil)
	}
}

func (m *OpenAIModel) convertRequest(req *adkmodel.LLMRequest) (openai.ChatCompletionRequest, error) {
	params := openai.ChatCompletionRequest{Model: m.modelName}

	if sys := systemText(req.Config); sys != "" {
		params.Messages = append(params.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: sys,
		})
	}

	for _, content := range req.Contents {
		if content == nil {
			continue
		}
		msgs, err := convertContentToChat(content)
		if err != nil {
			return params, err
		}
		params.Messages = append(params.Messages, msgs...)
	}

	for _, spec := range toolSpecs(req.Tools) {
		params.Tools = append(params.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}

	if cfg := req.Config; cfg != nil {
		if cfg.Temperature != nil {
			params.Temperature = *cfg.Temperature
		}
		if cfg.TopP != nil {
			params.TopP = *cfg.TopP
		}
		if cfg.MaxOutputTokens != 0 {
			params.MaxTokens = int(cfg.MaxOutputTokens)
		}
	}
	return params, nil
}

// convertContentToChat maps one genai.Content to chat messages. Function
// responses each become their own "tool" message.
func convertContentToChat(content *genai.Content) ([]openai.ChatCompletionMessage, error) {
	var msgs []openai.ChatCompletionMessage
	var text []string
	var calls []openai.ToolCall

	for _, part := range content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, err
			}
			calls = append(calls, openai.ToolCall{
				ID:   part.FunctionCall.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		case part.FunctionResponse != nil:
			body, err := json.Marshal(part.FunctionResponse.Response)
			if err != nil {
				return nil, err
			}
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(body),
				Name:       part.FunctionResponse.Name,
				ToolCallID: part.FunctionResponse.ID,
			})
		case part.Text != "":
			text = append(text, part.Text)
		}
	}

	role := openai.ChatMessageRoleUser
	if content.Role == "model" || content.Role == "assistant" {
		role = openai.ChatMessageRoleAssistant
	}
	if len(text) > 0 || len(calls) > 0 {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:      role,
			Content:   strings.Join(text, "\n"),
			ToolCalls: calls,
		})
	}
	return msgs, nil
}

func convertChatResponse(resp openai.ChatCompletionResponse) *adkmodel.LLMResponse {
	choice := resp.Choices[0]
	var parts []*genai.Part

	if choice.Message.Content != "" {
		parts = append(parts, &genai.Part{Text: choice.Message.Content})
	}
	for _, call := range choice.Message.ToolCalls {
		args := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				slog.Warn("failed to parse tool call arguments", "tool", call.Function.Name, "err", err)
			}
		}
		parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   call.ID,
			Name: call.Function.Name,
			Args: args,
		}})
	}

	finish := genai.FinishReasonStop
	turnComplete := true
	switch choice.FinishReason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		turnComplete = false
	case openai.FinishReasonLength:
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
			PromptTokenCount:     int32(resp.Usage.PromptTokens),
			CandidatesTokenCount: int32(resp.Usage.CompletionTokens),
			TotalTokenCount:      int32(resp.Usage.TotalTokens),
		},
	}
}
