package coach

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/CalorieCoach/internal/models"
)

// NoProfileLine is emitted when no profile field is present.
const NoProfileLine = "- 프로필 정보 없음"

// ProfileStore holds one session's body-metric profile.
type ProfileStore struct {
	mu      sync.RWMutex
	profile models.Profile
}

// NewProfileStore returns a store seeded with the default profile.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profile: models.NewDefaultProfile()}
}

// Snapshot returns a copy of the current profile.
func (s *ProfileStore) Snapshot() models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.Clone()
}

// Update validates and applies a partial update, returning the new profile.
func (s *ProfileStore) Update(u models.ProfileUpdate) (models.Profile, error) {
	if err := u.Validate(); err != nil {
		return models.Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ApplyTo(&s.profile)
	return s.profile.Clone(), nil
}

// Clear removes every field so the profile reads as absent.
func (s *ProfileStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = models.Profile{}
}

// Summary renders the current profile with ProfileSummary.
func (s *ProfileStore) Summary() string {
	p := s.Snapshot()
	return ProfileSummary(&p)
}

// ProfileSummary renders one line per present field in the order
// height, weight, age, sex, goal, steps. A nil or empty profile yields NoProfileLine.
func ProfileSummary(p *models.Profile) string {
	if p == nil || p.IsEmpty() {
		return NoProfileLine
	}

	var lines []string
	if p.HeightCM != nil {
		lines = append(lines, fmt.Sprintf("- 키: %scm", formatNumber(*p.HeightCM)))
	}
	if p.WeightKG != nil {
		lines = append(lines, fmt.Sprintf("- 몸무게: %skg", formatNumber(*p.WeightKG)))
	}
	if p.Age != nil {
		lines = append(lines, fmt.Sprintf("- 나이: %d세", *p.Age))
	}
	if p.Sex != nil {
		lines = append(lines, "- 성별: "+p.Sex.Label())
	}
	if p.Goal != nil {
		lines = append(lines, "- 목표: "+p.Goal.Label())
	}
	if p.DailySteps != nil {
		lines = append(lines, fmt.Sprintf("- 하루 걸음 수: %d보", *p.DailySteps))
	}
	return strings.Join(lines, "\n")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
