// Package testutil provides common test utilities and helpers for CalorieCoach tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/BTreeMap/CalorieCoach/internal/api"
	"github.com/BTreeMap/CalorieCoach/internal/coach"
	"github.com/BTreeMap/CalorieCoach/internal/genai"
)

// T is the subset of testing.TB the helpers need, so they can be exercised with a fake.
type T interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// ValidCoachingJSON is a coaching reply that passes models.ParseCoachingResult.
const ValidCoachingJSON = `{
  "one_line": "치킨 반 마리는 반이 아니다.",
  "intake_summary": ["치킨", "맥주 1잔"],
  "kcal_estimate": {"total_kcal": 1350, "basis": "키워드 DB", "caution": "양념 여부 미반영"},
  "workout_plan": {"home_plan": "스쿼트 4x15", "gym_plan": "사이클 40분", "recovery_plan": "폼롤러 10분"},
  "target_burn_kcal": 400,
  "next_meal_guides": ["아침은 그릭요거트", "점심은 닭가슴살 샐러드"],
  "followup_question": "물은 오늘 몇 잔 마셨어?"
}`

// ScriptedCompleter is a coach.Completer that answers forced tool calls with Tool
// and every other request with Reply. It records the requests it receives.
type ScriptedCompleter struct {
	Tool  *genai.Response
	Reply *genai.Response

	mu       sync.Mutex
	requests []genai.Request
}

// NewScriptedCompleter returns a completer whose tool call asks about "치킨 맥주" and
// whose reply is ValidCoachingJSON.
func NewScriptedCompleter() *ScriptedCompleter {
	return &ScriptedCompleter{
		Tool: &genai.Response{Model: "scripted", ToolCalls: []genai.ToolCall{
			{ID: "call_1", Name: coach.CalcKcalToolName, Arguments: `{"food_text":"치킨 맥주"}`},
		}},
		Reply: &genai.Response{Model: "scripted", Text: ValidCoachingJSON},
	}
}

// Complete implements coach.Completer.
func (c *ScriptedCompleter) Complete(ctx context.Context, req genai.Request) *genai.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)

	resp := c.Reply
	if req.ToolMode == genai.ToolModeForced {
		resp = c.Tool
	}
	if resp == nil {
		err := errors.New("no scripted response")
		return &genai.Response{Text: genai.FormatFailure(err), Err: err}
	}
	copied := *resp
	return &copied
}

// Requests returns a copy of the requests received so far.
func (c *ScriptedCompleter) Requests() []genai.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]genai.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// NewTestOrchestrator builds an orchestrator over completer with the default pipeline.
func NewTestOrchestrator(t T, completer coach.Completer) *coach.Orchestrator {
	t.Helper()
	o, err := coach.NewOrchestrator(completer, coach.DefaultConfig())
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	return o
}

// NewTestServer creates a test API server with in-memory sessions and a scripted completer.
func NewTestServer(t T, completer coach.Completer, opts ...api.Option) *api.Server {
	t.Helper()
	sessions, err := coach.NewSessionStore(16)
	if err != nil {
		t.Fatalf("failed to create session store: %v", err)
	}
	return api.NewServer(sessions, NewTestOrchestrator(t, completer), opts...)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Errorf("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t T, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
