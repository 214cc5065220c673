package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/canvasmate/canvasmate/internal/tools"
)

// OpenAIProvider speaks any OpenAI-compatible chat-completions API.
type OpenAIProvider struct {
	client openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider builds a provider. An empty baseURL keeps the SDK's
// default endpoint; an empty apiKey still works against local backends.
func NewOpenAIProvider(baseURL, apiKey string, logger *slog.Logger) *OpenAIProvider {
	var opts []option.RequestOption
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		logger: logger.With("component", "provider"),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete sends the session history plus tool schemas and validates the
// response down to a Completion. Anything the wire format allows but the
// loop cannot consume comes back as *BackendError.
func (p *OpenAIProvider) Complete(ctx context.Context, history []Turn, specs []tools.Spec, cfg GenConfig) (*Completion, error) {
	param := openai.ChatCompletionNewParams{
		Model:    cfg.Model,
		Messages: buildMessages(history, cfg.SystemPrompt),
		Tools:    buildTools(specs),
	}
	if cfg.Temperature > 0 {
		param.Temperature = openai.Float(cfg.Temperature)
	}
	if cfg.MaxTokens > 0 {
		param.MaxTokens = openai.Int(int64(cfg.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, param)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, &BackendError{Reason: "response has no choices"}
	}

	msg := resp.Choices[0].Message
	completion := &Completion{
		Answer: msg.Content,
		Usage: TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}

	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == "" {
			return nil, &BackendError{Reason: "tool call without a function name"}
		}
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, &BackendError{
					Reason: fmt.Sprintf("tool call %s has unparseable arguments", tc.Function.Name),
					Err:    err,
				}
			}
		}
		completion.ToolCalls = append(completion.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	if completion.Answer == "" && len(completion.ToolCalls) == 0 {
		return nil, &BackendError{Reason: "empty completion"}
	}

	p.logger.Debug("completion received",
		"tool_calls", len(completion.ToolCalls),
		"tokens", completion.Usage.Total())
	return completion, nil
}

// buildMessages maps session turns onto the chat wire format. Tool-call
// turns become assistant messages carrying the call; their paired results
// follow as tool messages, so adjacency in the history is preserved on the
// wire.
func buildMessages(history []Turn, systemPrompt string) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}

	for _, turn := range history {
		switch turn.Kind {
		case TurnUser:
			messages = append(messages, openai.UserMessage(turn.Text))
		case TurnAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		case TurnToolCall:
			args, err := json.Marshal(turn.Args)
			if err != nil {
				args = []byte("{}")
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: []openai.ChatCompletionMessageToolCallUnionParam{{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: turn.CallID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      turn.Tool,
							Arguments: string(args),
						},
					},
				}},
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case TurnToolResult:
			messages = append(messages, openai.ToolMessage(turn.Payload, turn.CallID))
		}
	}
	return messages
}

// buildTools renders registry specs as function tools.
func buildTools(specs []tools.Spec) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for i := range specs {
		spec := &specs[i]
		out = append(out, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        spec.Name,
					Description: openai.String(spec.Description),
					Parameters:  openai.FunctionParameters(spec.InputSchema()),
				},
			},
		})
	}
	return out
}
