package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK's ChatCompletionService to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// OpenAIBackend talks to the OpenAI chat completions API or any compatible server.
type OpenAIBackend struct {
	chat chatService
}

// NewOpenAIBackend builds a backend. An empty baseURL uses the OpenAI default.
// SDK-level retries are disabled; the Client owns the retry policy.
func NewOpenAIBackend(apiKey, baseURL string) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrAPIKeyMissing)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	cli := openai.NewClient(opts...)
	return &OpenAIBackend{chat: completionsAdapter{svc: &cli.Chat.Completions}}, nil
}

// Name implements Backend.
func (b *OpenAIBackend) Name() string {
	return ProviderOpenAI
}

// Generate implements Backend.
func (b *OpenAIBackend) Generate(ctx context.Context, model string, req Request) (*Response, error) {
	resp, err := b.chat.Create(ctx, buildOpenAIParams(model, req))
	if err != nil {
		return nil, classifyOpenAIError(model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ServiceError{Provider: ProviderOpenAI, Model: model, Err: ErrEmptyResponse}
	}

	msg := resp.Choices[0].Message
	out := &Response{Model: model, Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	if strings.TrimSpace(out.Text) == "" && len(out.ToolCalls) == 0 {
		return nil, &ServiceError{Provider: ProviderOpenAI, Model: model, Err: ErrEmptyResponse}
	}
	return out, nil
}

func buildOpenAIParams(model string, req Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemInstruction != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstruction))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	if req.ResponseFormat == ResponseFormatJSON {
		if req.ResponseSchema != nil {
			name := req.SchemaName
			if name == "" {
				name = "response"
			}
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
					JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   name,
						Schema: req.ResponseSchema,
						Strict: openai.Bool(false),
					},
				},
			}
		} else {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			}
		}
	}

	if len(req.Tools) == 0 {
		return params
	}
	for _, tool := range req.Tools {
		def := shared.FunctionDefinitionParam{
			Name:       tool.Name,
			Parameters: shared.FunctionParameters(tool.Parameters),
		}
		if tool.Description != "" {
			def.Description = openai.String(tool.Description)
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: def})
	}

	switch req.ToolMode {
	case ToolModeForced:
		if req.ForcedTool != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
					Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: req.ForcedTool},
				},
			}
		} else {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}
		}
		params.ParallelToolCalls = openai.Bool(false)
	case ToolModeAutomatic:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("auto")}
	default:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
	}
	return params
}

func classifyOpenAIError(model string, err error) error {
	svcErr := &ServiceError{Provider: ProviderOpenAI, Model: model, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		svcErr.StatusCode = apiErr.StatusCode
		svcErr.Transient = statusIsTransient(apiErr.StatusCode)
	}
	return svcErr
}
