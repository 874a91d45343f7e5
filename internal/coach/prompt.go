package coach

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/BTreeMap/CalorieCoach/internal/genai"
	"github.com/BTreeMap/CalorieCoach/internal/models"
)

// Generation settings for the two completion calls of a turn.
const (
	ToolTemperature     = 0.0
	CoachingTemperature = 0.3
	MaxOutputTokens     = 2000
	CoachingSchemaName  = "coaching_result"
)

// Greeting is shown by presentation layers when a session starts.
const Greeting = "먹은거 다 적어라. 털어보자!"

// ToolSystemInstruction forces the model to answer only with a calc_kcal call.
const ToolSystemInstruction = `너는 칼로리 계산을 먼저 해야 한다.
반드시 tool(calc_kcal)만 호출해라. 자연어 답변 금지.`

const coachPersona = `너는 생활체육지도자 + 필라테스 강사 + 영양사 + 식품영양학 교수다.
말투는 까칠하지만, 핵심은 정확하고 실용적이어야 한다.`

// CoachingSystemInstruction is used for the schema-validated coaching call.
const CoachingSystemInstruction = coachPersona + `

규칙:
- 반드시 운동 처방을 포함해라(A/B/C).
- 칼로리/영양은 추정이면 '추정'이라고 명시해라.
- 마지막에 질문은 딱 1개만.
- 출력은 무조건 JSON만. (설명 문장, 마크다운, 코드블록 금지)`

// TextCoachingSystemInstruction is used when the reply is free text.
const TextCoachingSystemInstruction = coachPersona + `

규칙:
- 반드시 운동 처방을 포함해라(A/B/C).
- 칼로리/영양은 추정이면 '추정'이라고 명시해라.
- 마지막에 질문은 딱 1개만.
- 채팅으로 읽기 좋게 짧은 문단과 목록으로 답해라. (코드블록 금지)`

// PromptInput is everything a coaching prompt can reference.
type PromptInput struct {
	Text           string
	Intensity      models.Intensity
	ProfileSummary string
	Estimate       *models.CalorieEstimate
	FromTool       bool
}

// ToolPrompt builds the user content of the forced calc_kcal call.
func ToolPrompt(text string) string {
	return "사용자 입력(먹은 것):\n" + text
}

// CoachingPrompt builds the coaching call's user content. An empty ProfileSummary
// omits the profile section; a nil Estimate omits the calorie section.
func CoachingPrompt(in PromptInput) string {
	intensity := in.Intensity
	if !intensity.IsValid() {
		intensity = models.DefaultIntensity
	}

	var b strings.Builder
	b.WriteString("사용자 입력(먹은 것): ")
	b.WriteString(in.Text)
	b.WriteString("\n운동 강도: ")
	b.WriteString(intensity.Label())
	b.WriteString("\n")

	if in.ProfileSummary != "" {
		b.WriteString("\n[사용자 프로필]\n")
		b.WriteString(in.ProfileSummary)
		b.WriteString("\n")
	}

	if in.Estimate != nil {
		if in.FromTool {
			b.WriteString("\n[칼로리 계산 결과(tool)]\n")
		} else {
			b.WriteString("\n[칼로리 계산 결과]\n")
		}
		b.WriteString(EstimateJSON(*in.Estimate))
		b.WriteString("\n")
	}

	b.WriteString(`
요구사항:
- A/B/C 운동 처방을 구체적으로(세트/횟수/시간 포함): A 집 20~30분, B 헬스장 40~60분, C 필라테스/스트레칭 10분 회복 세 가지 모두
- 칼로리/영양 수치는 추정이면 '추정'이라고 명시
- target_burn_kcal는 운동 강도에 맞게 조정(약<보통<강)
- 마지막에 추가 질문은 딱 1개만`)
	return b.String()
}

// EstimateJSON serializes an estimate without escaping non-ASCII or HTML characters.
func EstimateJSON(e models.CalorieEstimate) string {
	if e.MatchedItems == nil {
		e.MatchedItems = []models.MatchedItem{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return "{}"
	}
	return strings.TrimRight(buf.String(), "\n")
}

// CoachingRequest builds the schema-validated coaching call.
func CoachingRequest(prompt string) genai.Request {
	return genai.Request{
		SystemInstruction: CoachingSystemInstruction,
		Prompt:            prompt,
		Temperature:       CoachingTemperature,
		MaxOutputTokens:   MaxOutputTokens,
		ResponseFormat:    genai.ResponseFormatJSON,
		SchemaName:        CoachingSchemaName,
		ResponseSchema:    CoachingSchema(),
	}
}

// TextCoachingRequest builds the free-text coaching call.
func TextCoachingRequest(prompt string) genai.Request {
	return genai.Request{
		SystemInstruction: TextCoachingSystemInstruction,
		Prompt:            prompt,
		Temperature:       CoachingTemperature,
		MaxOutputTokens:   MaxOutputTokens,
		ResponseFormat:    genai.ResponseFormatText,
	}
}

// CoachingSchema returns the JSON schema of models.CoachingResult.
func CoachingSchema() map[string]any {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"one_line": str("까칠한 한줄평 1문장"),
			"intake_summary": map[string]any{
				"type":        "array",
				"description": "섭취 요약 음식 리스트(1~3줄)",
				"items":       map[string]any{"type": "string"},
			},
			"kcal_estimate": map[string]any{
				"type":        "object",
				"description": "칼로리 추정 결과(총합/근거/주의)",
				"properties": map[string]any{
					"total_kcal": map[string]any{"type": "integer", "description": "총합(추정)"},
					"basis":      str("근거"),
					"caution":    str("주의"),
				},
			},
			"workout_plan": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"home_plan":     str("집에서 20~30분 플랜(유산소+근력+코어), 세트/횟수/시간 포함"),
					"gym_plan":      str("헬스장 40~60분 플랜(가능하면)"),
					"recovery_plan": str("필라테스/스트레칭 10분 플랜(회복용)"),
				},
				"required": []string{"home_plan", "gym_plan", "recovery_plan"},
			},
			"target_burn_kcal": map[string]any{"type": "integer", "description": "오늘 목표 소모 칼로리(대략 정수)"},
			"next_meal_guides": map[string]any{
				"type":        "array",
				"description": "다음 끼니/간식 가이드 2개",
				"items":       map[string]any{"type": "string"},
				"minItems":    2,
				"maxItems":    2,
			},
			"followup_question": str("추가 질문 1개"),
		},
		"required": []string{
			"one_line",
			"intake_summary",
			"kcal_estimate",
			"workout_plan",
			"target_burn_kcal",
			"next_meal_guides",
			"followup_question",
		},
	}
}
