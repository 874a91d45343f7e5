package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CalorieCoach/internal/estimator"
	"github.com/BTreeMap/CalorieCoach/internal/genai"
	"github.com/BTreeMap/CalorieCoach/internal/models"
)

// CalcKcalToolName is the only capability the forced call may invoke.
const CalcKcalToolName = "calc_kcal"

// Notes used for the failure-shaped estimates of the forced call.
const (
	NoteToolCallMissing = "tool call 실패(예외 케이스)"
	NoteUnexpectedTool  = "예상치 못한 함수 호출: "
	NoteBadToolArgs     = "tool 인자 해석 실패: "
)

// CalcKcalTool declares calc_kcal(food_text).
func CalcKcalTool() genai.ToolDefinition {
	return genai.ToolDefinition{
		Name:        CalcKcalToolName,
		Description: "사용자 식사 텍스트에서 대략 칼로리를 추정해 반환한다.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"food_text": map[string]any{
					"type":        "string",
					"description": "사용자가 먹은 음식 텍스트",
				},
			},
			"required": []string{"food_text"},
		},
	}
}

// ToolRequest builds the forced calc_kcal call for text.
func ToolRequest(text string) genai.Request {
	return genai.Request{
		SystemInstruction: ToolSystemInstruction,
		Prompt:            ToolPrompt(text),
		Temperature:       ToolTemperature,
		Tools:             []genai.ToolDefinition{CalcKcalTool()},
		ToolMode:          genai.ToolModeForced,
		ForcedTool:        CalcKcalToolName,
	}
}

// EstimateFromResponse runs the keyword estimator on the first tool call in resp.
// Missing calls, unexpected names and unreadable arguments yield a zero estimate
// whose note explains what happened; the turn always continues.
func EstimateFromResponse(resp *genai.Response) models.CalorieEstimate {
	if resp == nil || resp.Failed() || len(resp.ToolCalls) == 0 {
		return models.FailedEstimate(NoteToolCallMissing)
	}

	call := resp.ToolCalls[0]
	if call.Name != CalcKcalToolName {
		return models.FailedEstimate(NoteUnexpectedTool + call.Name)
	}

	var args struct {
		FoodText *string `json:"food_text"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return models.FailedEstimate(NoteBadToolArgs + err.Error())
	}
	if args.FoodText == nil {
		return models.FailedEstimate(NoteBadToolArgs + "food_text 누락")
	}
	return estimator.Estimate(*args.FoodText)
}

// EstimateWithTool performs the forced calc_kcal call and executes the tool locally.
func EstimateWithTool(ctx context.Context, client Completer, text string) models.CalorieEstimate {
	resp := client.Complete(ctx, ToolRequest(text))
	estimate := EstimateFromResponse(resp)
	if resp.Failed() {
		slog.Warn("coach.EstimateWithTool: forced tool call failed", "error", resp.Err)
	}
	slog.Debug("coach.EstimateWithTool: estimate ready",
		"totalKcal", estimate.TotalKcalEst, "matched", len(estimate.MatchedItems), "note", estimate.Note)
	return estimate
}

// describeEstimate is used in log lines.
func describeEstimate(e *models.CalorieEstimate) string {
	if e == nil {
		return "none"
	}
	return fmt.Sprintf("%d kcal/%d items", e.TotalKcalEst, len(e.MatchedItems))
}
