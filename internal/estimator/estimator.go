// Package estimator implements the keyword calorie lookup used to ground coaching prompts.
//
// The lookup is substring containment over a small static table. It is a heuristic,
// not a nutrition database.
package estimator

import (
	"strings"
	"unicode"

	"github.com/BTreeMap/CalorieCoach/internal/models"
)

// Note is attached to every estimate.
const Note = "간단 DB 기반 추정(정확도는 음식/양 정보에 따라 달라짐)"

// Entry is one row of the keyword table.
type Entry struct {
	Item string `json:"item"`
	Kcal int    `json:"kcal"`
}

// table is scanned in order; matches are reported in this order, not input order.
var table = []Entry{
	{"공기밥", 300},
	{"밥", 300},
	{"라면", 500},
	{"치킨", 1200},
	{"피자", 900},
	{"계란", 75},
	{"삶은계란", 75},
	{"바나나", 105},
	{"아보카도", 240},
	{"우유", 130},
	{"요거트", 150},
	{"치즈", 110},
	{"아메리카노", 5},
	{"커피", 5},
	{"맥주", 150},
	{"소주", 400},
}

// Table returns a copy of the keyword table in scan order.
func Table() []Entry {
	out := make([]Entry, len(table))
	copy(out, table)
	return out
}

// Estimate returns the keyword calorie estimate for text. It never fails.
//
// Overlapping keys are not deduplicated: "공기밥" also matches "밥", and
// "삶은계란" also matches "계란". Each matching key contributes once.
func Estimate(text string) models.CalorieEstimate {
	compact := stripSpace(text)
	result := models.CalorieEstimate{
		MatchedItems: []models.MatchedItem{},
		Note:         Note,
	}
	if compact == "" {
		return result
	}

	for _, e := range table {
		if strings.Contains(compact, stripSpace(e.Item)) {
			result.MatchedItems = append(result.MatchedItems, models.MatchedItem{Item: e.Item, Kcal: e.Kcal})
			result.TotalKcalEst += e.Kcal
		}
	}
	return result
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
