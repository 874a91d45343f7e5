package coach

import (
	"context"
	"errors"
	"sync"

	"github.com/BTreeMap/CalorieCoach/internal/genai"
)

// mockCompleter answers forced tool calls and coaching calls from separate fields
// and records every request.
type mockCompleter struct {
	mu       sync.Mutex
	tool     *genai.Response
	coaching *genai.Response
	requests []genai.Request
}

func (m *mockCompleter) Complete(ctx context.Context, req genai.Request) *genai.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	var resp *genai.Response
	if req.ToolMode == genai.ToolModeForced {
		resp = m.tool
	} else {
		resp = m.coaching
	}
	if resp == nil {
		err := errors.New("no scripted response")
		return &genai.Response{Text: genai.FormatFailure(err), Err: err}
	}
	copied := *resp
	return &copied
}

func (m *mockCompleter) Requests() []genai.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]genai.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func toolCall(name, args string) *genai.Response {
	return &genai.Response{Model: "mock", ToolCalls: []genai.ToolCall{{ID: "c1", Name: name, Arguments: args}}}
}

const validCoachingJSON = `{
  "one_line": "라면 국물까지 마셨지? 다 보인다.",
  "intake_summary": ["라면 1개", "계란 1개"],
  "kcal_estimate": {"total_kcal": 575, "basis": "DB 추정", "caution": "국물 제외"},
  "workout_plan": {"home_plan": "버피 3x10", "gym_plan": "인터벌 러닝 30분", "recovery_plan": "고양이-소 자세 10분"},
  "target_burn_kcal": 350,
  "next_meal_guides": ["단백질 위주 저녁", "간식은 삶은 달걀"],
  "followup_question": "어제 잠은 몇 시간 잤어?"
}`
