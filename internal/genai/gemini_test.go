package genai

import (
	"context"
	"errors"
	"testing"

	gemini "google.golang.org/genai"
)

type mockModelsService struct {
	resp   *gemini.GenerateContentResponse
	err    error
	model  string
	config *gemini.GenerateContentConfig
}

func (m *mockModelsService) GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error) {
	m.model = model
	m.config = config
	return m.resp, m.err
}

func geminiResponse(parts ...*gemini.Part) *gemini.GenerateContentResponse {
	return &gemini.GenerateContentResponse{
		Candidates: []*gemini.Candidate{{Content: &gemini.Content{Parts: parts}}},
	}
}

func TestGeminiBackend_Text(t *testing.T) {
	mock := &mockModelsService{resp: geminiResponse(&gemini.Part{Text: `{"ok":true}`})}
	backend := &GeminiBackend{models: mock}

	resp, err := backend.Generate(context.Background(), "gemini-test", Request{
		SystemInstruction: "sys",
		Prompt:            "p",
		Temperature:       0.3,
		MaxOutputTokens:   2000,
		ResponseFormat:    ResponseFormatJSON,
		ResponseSchema:    map[string]any{"type": "object", "properties": map[string]any{"ok": map[string]any{"type": "boolean"}}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Text != `{"ok":true}` {
		t.Errorf("Text = %q", resp.Text)
	}
	if mock.config.ResponseMIMEType != "application/json" || mock.config.ResponseSchema == nil {
		t.Errorf("JSON output not configured: %+v", mock.config)
	}
	if mock.config.MaxOutputTokens != 2000 || *mock.config.Temperature != 0.3 {
		t.Errorf("generation params not forwarded: %+v", mock.config)
	}
	if mock.config.SystemInstruction == nil {
		t.Error("system instruction missing")
	}
}

func TestGeminiBackend_ForcedFunctionCall(t *testing.T) {
	mock := &mockModelsService{resp: geminiResponse(&gemini.Part{
		FunctionCall: &gemini.FunctionCall{Name: "calc_kcal", Args: map[string]any{"food_text": "치킨"}},
	})}
	backend := &GeminiBackend{models: mock}

	resp, err := backend.Generate(context.Background(), "gemini-test", Request{
		Prompt:     "치킨",
		Tools:      []ToolDefinition{{Name: "calc_kcal", Parameters: map[string]any{"type": "object"}}},
		ToolMode:   ToolModeForced,
		ForcedTool: "calc_kcal",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Arguments != `{"food_text":"치킨"}` {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls)
	}

	fc := mock.config.ToolConfig.FunctionCallingConfig
	if fc.Mode != gemini.FunctionCallingConfigModeAny {
		t.Errorf("Mode = %q, want ANY", fc.Mode)
	}
	if len(fc.AllowedFunctionNames) != 1 || fc.AllowedFunctionNames[0] != "calc_kcal" {
		t.Errorf("AllowedFunctionNames = %v", fc.AllowedFunctionNames)
	}
}

func TestGeminiBackend_EmptyResponse(t *testing.T) {
	backend := &GeminiBackend{models: &mockModelsService{resp: geminiResponse()}}
	_, err := backend.Generate(context.Background(), "m", Request{Prompt: "p"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestGeminiBackend_ErrorClassification(t *testing.T) {
	tests := []struct {
		err       error
		transient bool
	}{
		{gemini.APIError{Code: 503, Status: "UNAVAILABLE"}, true},
		{gemini.APIError{Code: 500}, true},
		{gemini.APIError{Code: 400, Status: "INVALID_ARGUMENT"}, false},
		{&gemini.APIError{Code: 502}, true},
		{errors.New("dial tcp: refused"), false},
	}
	for _, tt := range tests {
		backend := &GeminiBackend{models: &mockModelsService{err: tt.err}}
		_, err := backend.Generate(context.Background(), "m", Request{Prompt: "p"})
		if IsTransient(err) != tt.transient {
			t.Errorf("%v: IsTransient = %v, want %v", tt.err, IsTransient(err), tt.transient)
		}
	}
}

func TestToGeminiSchema(t *testing.T) {
	s := toGeminiSchema(map[string]any{
		"type":     "object",
		"required": []string{"guides"},
		"properties": map[string]any{
			"guides": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 2,
				"maxItems": 2,
			},
			"burn": map[string]any{"type": "integer", "description": "kcal"},
		},
	})
	if s.Type != gemini.TypeObject {
		t.Errorf("Type = %q", s.Type)
	}
	guides := s.Properties["guides"]
	if guides == nil || guides.Type != gemini.TypeArray || guides.Items.Type != gemini.TypeString {
		t.Fatalf("guides schema = %+v", guides)
	}
	if *guides.MinItems != 2 || *guides.MaxItems != 2 {
		t.Errorf("item bounds = %v/%v", *guides.MinItems, *guides.MaxItems)
	}
	if s.Properties["burn"].Description != "kcal" {
		t.Errorf("description lost")
	}
	if len(s.PropertyOrdering) != 2 || s.PropertyOrdering[0] != "guides" || s.PropertyOrdering[1] != "burn" {
		t.Errorf("PropertyOrdering = %v", s.PropertyOrdering)
	}
}
