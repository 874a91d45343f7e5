package messaging

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BTreeMap/CalorieCoach/internal/estimator"
	"github.com/BTreeMap/CalorieCoach/internal/models"
)

// HelpText lists the chat commands.
const HelpText = `사용법
- 먹은 것을 그냥 적으면 코칭해줄게. 예) 점심 라면 + 공기밥
- /강도 약|보통|강 : 운동 강도 선택
- /프로필 : 현재 프로필 보기
- /프로필 키=170 몸무게=65 나이=30 성별=남성 목표=감량 걸음=7000 : 프로필 수정
- /음식 : 칼로리 DB에 있는 음식 목록
- /초기화 : 대화와 프로필 초기화
- /도움말 : 이 안내`

// FormatReply renders assistant content as a chat message.
func FormatReply(c models.Content) string {
	switch c.Kind() {
	case models.ContentKindCoaching:
		return formatCoaching(c.Coaching)
	case models.ContentKindFailure:
		return formatFailure(c.Failure)
	default:
		return c.Text
	}
}

func formatCoaching(r *models.CoachingResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔥 %s\n", r.OneLine)

	b.WriteString("\n[먹은 것]\n")
	for _, item := range r.IntakeSummary {
		fmt.Fprintf(&b, "- %s\n", item)
	}

	if len(r.KcalEstimate) > 0 {
		b.WriteString("\n[칼로리 추정]\n")
		keys := make([]string, 0, len(r.KcalEstimate))
		for k := range r.KcalEstimate {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, r.KcalEstimate[k])
		}
	}

	b.WriteString("\n[운동 처방]\n")
	fmt.Fprintf(&b, "A 집: %s\n", r.WorkoutPlan.HomePlan)
	fmt.Fprintf(&b, "B 헬스장: %s\n", r.WorkoutPlan.GymPlan)
	fmt.Fprintf(&b, "C 회복: %s\n", r.WorkoutPlan.RecoveryPlan)
	fmt.Fprintf(&b, "목표 소모: %d kcal\n", r.TargetBurnKcal)

	b.WriteString("\n[다음 식사]\n")
	for i, guide := range r.NextMealGuides {
		fmt.Fprintf(&b, "%d. %s\n", i+1, guide)
	}

	fmt.Fprintf(&b, "\n❓ %s", r.FollowupQuestion)
	return b.String()
}

func formatFailure(f *models.StructuredFailure) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %s\n", f.Error)
	if f.ToolResult != nil {
		fmt.Fprintf(&b, "추정 칼로리: %d kcal (%s)\n", f.ToolResult.TotalKcalEst, f.ToolResult.Note)
	}
	if f.Raw != "" {
		b.WriteString("\n")
		b.WriteString(f.Raw)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatFoods lists the keyword calorie table.
func FormatFoods() string {
	var b strings.Builder
	b.WriteString("[칼로리 DB]\n")
	for _, e := range estimator.Table() {
		fmt.Fprintf(&b, "- %s: %d kcal\n", e.Item, e.Kcal)
	}
	b.WriteString(estimator.Note)
	return b.String()
}
