package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	gemini "google.golang.org/genai"
)

// modelsService is the subset of the Gemini SDK used by GeminiBackend.
type modelsService interface {
	GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error)
}

// GeminiBackend talks to the Gemini API through the official SDK.
type GeminiBackend struct {
	models modelsService
}

// NewGeminiBackend builds a backend for the Gemini Developer API.
func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrAPIKeyMissing)
	}
	client, err := gemini.NewClient(ctx, &gemini.ClientConfig{
		APIKey:  apiKey,
		Backend: gemini.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return &GeminiBackend{models: client.Models}, nil
}

// Name implements Backend.
func (b *GeminiBackend) Name() string {
	return ProviderGemini
}

// Generate implements Backend.
func (b *GeminiBackend) Generate(ctx context.Context, model string, req Request) (*Response, error) {
	resp, err := b.models.GenerateContent(ctx, model, gemini.Text(req.Prompt), buildGeminiConfig(req))
	if err != nil {
		return nil, classifyGeminiError(model, err)
	}
	if resp == nil {
		return nil, &ServiceError{Provider: ProviderGemini, Model: model, Err: ErrEmptyResponse}
	}

	out := &Response{Model: model}
	if calls := resp.FunctionCalls(); len(calls) > 0 {
		for _, call := range calls {
			args, err := json.Marshal(call.Args)
			if err != nil {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: call.ID, Name: call.Name, Arguments: string(args)})
		}
		return out, nil
	}

	out.Text = resp.Text()
	if strings.TrimSpace(out.Text) == "" {
		return nil, &ServiceError{Provider: ProviderGemini, Model: model, Err: ErrEmptyResponse}
	}
	return out, nil
}

func buildGeminiConfig(req Request) *gemini.GenerateContentConfig {
	cfg := &gemini.GenerateContentConfig{
		Temperature: gemini.Ptr(float32(req.Temperature)),
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = gemini.NewContentFromText(req.SystemInstruction, gemini.RoleUser)
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}

	if req.ResponseFormat == ResponseFormatJSON {
		cfg.ResponseMIMEType = "application/json"
		if req.ResponseSchema != nil {
			cfg.ResponseSchema = toGeminiSchema(req.ResponseSchema)
		}
	}

	if len(req.Tools) == 0 {
		return cfg
	}
	decls := make([]*gemini.FunctionDeclaration, 0, len(req.Tools))
	for _, tool := range req.Tools {
		decl := &gemini.FunctionDeclaration{Name: tool.Name, Description: tool.Description}
		if tool.Parameters != nil {
			decl.Parameters = toGeminiSchema(tool.Parameters)
		}
		decls = append(decls, decl)
	}
	cfg.Tools = []*gemini.Tool{{FunctionDeclarations: decls}}

	fc := &gemini.FunctionCallingConfig{}
	switch req.ToolMode {
	case ToolModeForced:
		fc.Mode = gemini.FunctionCallingConfigModeAny
		if req.ForcedTool != "" {
			fc.AllowedFunctionNames = []string{req.ForcedTool}
		}
	case ToolModeAutomatic:
		fc.Mode = gemini.FunctionCallingConfigModeAuto
	default:
		fc.Mode = gemini.FunctionCallingConfigModeNone
	}
	cfg.ToolConfig = &gemini.ToolConfig{FunctionCallingConfig: fc}
	return cfg
}

// toGeminiSchema converts a JSON schema object into the SDK's OpenAPI-subset Schema.
// Unsupported keywords are dropped.
func toGeminiSchema(m map[string]any) *gemini.Schema {
	if m == nil {
		return nil
	}
	s := &gemini.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = gemini.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := m["enum"].([]string); ok {
		s.Enum = enum
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toGeminiSchema(items)
	}
	if n, ok := intValue(m["minItems"]); ok {
		s.MinItems = gemini.Ptr(n)
	}
	if n, ok := intValue(m["maxItems"]); ok {
		s.MaxItems = gemini.Ptr(n)
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*gemini.Schema, len(props))
		for name, raw := range props {
			if child, ok := raw.(map[string]any); ok {
				s.Properties[name] = toGeminiSchema(child)
			}
		}
	}
	if required, ok := m["required"].([]string); ok {
		s.Required = required
	}
	if len(s.Properties) > 0 {
		s.PropertyOrdering = propertyOrder(s.Required, s.Properties)
	}
	return s
}

// propertyOrder lists required properties first, in declaration order, then the rest sorted.
func propertyOrder(required []string, props map[string]*gemini.Schema) []string {
	order := make([]string, 0, len(props))
	seen := make(map[string]bool, len(props))
	for _, name := range required {
		if _, ok := props[name]; ok && !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	rest := make([]string, 0, len(props))
	for name := range props {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

func intValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func classifyGeminiError(model string, err error) error {
	svcErr := &ServiceError{Provider: ProviderGemini, Model: model, Err: err}
	var apiErr gemini.APIError
	var apiErrPtr *gemini.APIError
	switch {
	case errors.As(err, &apiErr):
		svcErr.StatusCode = apiErr.Code
	case errors.As(err, &apiErrPtr):
		svcErr.StatusCode = apiErrPtr.Code
	}
	svcErr.Transient = statusIsTransient(svcErr.StatusCode)
	return svcErr
}
