package coach

import (
	"strings"
	"testing"

	"github.com/BTreeMap/CalorieCoach/internal/estimator"
	"github.com/BTreeMap/CalorieCoach/internal/genai"
	"github.com/BTreeMap/CalorieCoach/internal/models"
)

func TestProfileSummary(t *testing.T) {
	if got := ProfileSummary(nil); got != NoProfileLine {
		t.Errorf("ProfileSummary(nil) = %q", got)
	}
	if got := ProfileSummary(&models.Profile{}); got != NoProfileLine {
		t.Errorf("ProfileSummary(empty) = %q", got)
	}

	p := models.NewDefaultProfile()
	lines := strings.Split(ProfileSummary(&p), "\n")
	wantPrefixes := []string{"- 키:", "- 몸무게:", "- 나이:", "- 성별:", "- 목표:", "- 하루 걸음 수:"}
	if len(lines) != len(wantPrefixes) {
		t.Fatalf("got %d lines, want %d: %v", len(lines), len(wantPrefixes), lines)
	}
	for i, prefix := range wantPrefixes {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], prefix)
		}
	}
	if lines[0] != "- 키: 165cm" {
		t.Errorf("height line = %q", lines[0])
	}
}

func TestProfileSummary_OnlyPresentFields(t *testing.T) {
	weight := 72.5
	goal := models.GoalLose
	got := ProfileSummary(&models.Profile{WeightKG: &weight, Goal: &goal})
	want := "- 몸무게: 72.5kg\n- 목표: 감량"
	if got != want {
		t.Errorf("ProfileSummary() = %q, want %q", got, want)
	}
}

func TestCoachingPrompt_Contract(t *testing.T) {
	e := estimator.Estimate("라면")
	prompt := CoachingPrompt(PromptInput{
		Text:           "라면 먹음",
		Intensity:      models.IntensityHigh,
		ProfileSummary: NoProfileLine,
		Estimate:       &e,
		FromTool:       true,
	})

	for _, want := range []string{
		"사용자 입력(먹은 것): 라면 먹음",
		"운동 강도: 강",
		"[사용자 프로필]\n" + NoProfileLine,
		"[칼로리 계산 결과(tool)]",
		`"item":"라면"`,
		"A/B/C 운동 처방",
		"'추정'",
		"약<보통<강",
		"딱 1개만",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestCoachingPrompt_OptionalSections(t *testing.T) {
	prompt := CoachingPrompt(PromptInput{Text: "커피", Intensity: ""})
	if strings.Contains(prompt, "[사용자 프로필]") || strings.Contains(prompt, "[칼로리 계산 결과") {
		t.Errorf("unexpected optional sections:\n%s", prompt)
	}
	if !strings.Contains(prompt, "운동 강도: 보통") {
		t.Errorf("invalid intensity should fall back to 보통:\n%s", prompt)
	}
}

func TestEstimateJSON_NoEscaping(t *testing.T) {
	e := models.CalorieEstimate{TotalKcalEst: 0, Note: "<a&b> 한글"}
	got := EstimateJSON(e)
	if !strings.Contains(got, `"note":"<a&b> 한글"`) {
		t.Errorf("EstimateJSON() = %s", got)
	}
	if !strings.Contains(got, `"matched_items":[]`) {
		t.Errorf("nil matches should encode as []: %s", got)
	}
	if strings.HasSuffix(got, "\n") {
		t.Error("trailing newline should be trimmed")
	}
}

func TestCoachingRequest(t *testing.T) {
	req := CoachingRequest("p")
	if req.Temperature != CoachingTemperature || req.MaxOutputTokens != 2000 {
		t.Errorf("Temperature=%v MaxOutputTokens=%d", req.Temperature, req.MaxOutputTokens)
	}
	if req.ResponseFormat != genai.ResponseFormatJSON || req.ResponseSchema == nil {
		t.Error("structured request must carry a JSON schema")
	}
	if req.ToolMode != "" || len(req.Tools) != 0 {
		t.Error("coaching request must not declare tools")
	}

	text := TextCoachingRequest("p")
	if text.ResponseFormat != genai.ResponseFormatText || text.ResponseSchema != nil {
		t.Error("text request must not carry a schema")
	}
}

func TestCoachingSchema_RequiresAllFields(t *testing.T) {
	schema := CoachingSchema()
	required, _ := schema["required"].([]string)
	if len(required) != 7 {
		t.Errorf("required = %v", required)
	}
	props := schema["properties"].(map[string]any)
	for _, key := range required {
		if _, ok := props[key]; !ok {
			t.Errorf("required key %q has no property", key)
		}
	}
	guides := props["next_meal_guides"].(map[string]any)
	if guides["minItems"] != 2 || guides["maxItems"] != 2 {
		t.Errorf("next_meal_guides bounds = %v/%v", guides["minItems"], guides["maxItems"])
	}
}
