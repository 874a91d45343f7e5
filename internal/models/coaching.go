package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Sex is the body-metric sex used for coaching prompts.
type Sex string

const (
	SexFemale      Sex = "female"
	SexMale        Sex = "male"
	SexUnspecified Sex = "unspecified"
)

// Goal is the user's body-weight goal.
type Goal string

const (
	GoalLose     Goal = "lose"
	GoalMaintain Goal = "maintain"
	GoalGain     Goal = "gain"
)

// Intensity is the exercise intensity selected for a single turn.
type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
)

// DefaultIntensity is the intensity preselected by the presentation layers.
const DefaultIntensity = IntensityMedium

// Profile input ranges, matching the bounds of the original input widgets.
const (
	MinHeightCM   = 100.0
	MaxHeightCM   = 230.0
	MinWeightKG   = 20.0
	MaxWeightKG   = 300.0
	MinAge        = 1
	MaxAge        = 120
	MaxDailySteps = 100000
)

// Defaults applied when a session first touches its profile.
const (
	DefaultHeightCM   = 165.0
	DefaultWeightKG   = 60.0
	DefaultAge        = 30
	DefaultDailySteps = 5000
)

// ParseFailureMarker is the error marker carried by StructuredFailure.
const ParseFailureMarker = "JSON 파싱 실패"

var (
	ErrInvalidIntensity    = errors.New("invalid intensity")
	ErrInvalidSex          = errors.New("invalid sex")
	ErrInvalidGoal         = errors.New("invalid goal")
	ErrEmptyCoachingReply  = errors.New("coaching reply is empty")
	ErrMissingCoachingKey  = errors.New("coaching reply is missing a required field")
	ErrInvalidMealGuides   = errors.New("next_meal_guides must contain exactly 2 entries")
	ErrInvalidTargetBurn   = errors.New("target_burn_kcal must not be negative")
	ErrEmptyTurnText       = errors.New("turn text cannot be empty")
	ErrProfileOutOfRange   = errors.New("profile value out of range")
	coachingRequiredFields = []string{
		"one_line",
		"intake_summary",
		"kcal_estimate",
		"workout_plan",
		"target_burn_kcal",
		"next_meal_guides",
		"followup_question",
	}
	workoutRequiredFields = []string{"home_plan", "gym_plan", "recovery_plan"}
)

// Label returns the Korean label shown to users and sent to the model.
func (i Intensity) Label() string {
	switch i {
	case IntensityLow:
		return "약"
	case IntensityHigh:
		return "강"
	default:
		return "보통"
	}
}

// IsValid reports whether i is one of the known intensities.
func (i Intensity) IsValid() bool {
	switch i {
	case IntensityLow, IntensityMedium, IntensityHigh:
		return true
	default:
		return false
	}
}

// ParseIntensity accepts either the English value or the Korean label.
// An empty string yields DefaultIntensity.
func ParseIntensity(s string) (Intensity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultIntensity, nil
	case "low", "약":
		return IntensityLow, nil
	case "medium", "보통":
		return IntensityMedium, nil
	case "high", "강":
		return IntensityHigh, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidIntensity, s)
	}
}

// Label returns the Korean label for s.
func (s Sex) Label() string {
	switch s {
	case SexFemale:
		return "여성"
	case SexMale:
		return "남성"
	default:
		return "선택 안 함"
	}
}

// ParseSex accepts English or Korean spellings.
func ParseSex(s string) (Sex, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "female", "f", "여", "여성", "여자":
		return SexFemale, nil
	case "male", "m", "남", "남성", "남자":
		return SexMale, nil
	case "unspecified", "none", "-", "선택안함", "선택 안 함":
		return SexUnspecified, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSex, s)
	}
}

// Label returns the Korean label for g.
func (g Goal) Label() string {
	switch g {
	case GoalLose:
		return "감량"
	case GoalGain:
		return "증량"
	default:
		return "유지"
	}
}

// ParseGoal accepts English or Korean spellings.
func ParseGoal(s string) (Goal, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lose", "감량", "다이어트":
		return GoalLose, nil
	case "maintain", "유지":
		return GoalMaintain, nil
	case "gain", "증량", "벌크업":
		return GoalGain, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidGoal, s)
	}
}

// Profile holds one user's body metrics. A nil field means "not provided".
type Profile struct {
	HeightCM   *float64 `json:"height_cm,omitempty"`
	WeightKG   *float64 `json:"weight_kg,omitempty"`
	Age        *int     `json:"age,omitempty"`
	Sex        *Sex     `json:"sex,omitempty"`
	Goal       *Goal    `json:"goal,omitempty"`
	DailySteps *int     `json:"daily_steps,omitempty"`
}

// NewDefaultProfile returns the profile a session starts with.
func NewDefaultProfile() Profile {
	height, weight := DefaultHeightCM, DefaultWeightKG
	age, steps := DefaultAge, DefaultDailySteps
	sex, goal := SexUnspecified, GoalMaintain
	return Profile{
		HeightCM:   &height,
		WeightKG:   &weight,
		Age:        &age,
		Sex:        &sex,
		Goal:       &goal,
		DailySteps: &steps,
	}
}

// Clone returns a deep copy so callers can read a snapshot without sharing pointers.
func (p Profile) Clone() Profile {
	var out Profile
	if p.HeightCM != nil {
		v := *p.HeightCM
		out.HeightCM = &v
	}
	if p.WeightKG != nil {
		v := *p.WeightKG
		out.WeightKG = &v
	}
	if p.Age != nil {
		v := *p.Age
		out.Age = &v
	}
	if p.Sex != nil {
		v := *p.Sex
		out.Sex = &v
	}
	if p.Goal != nil {
		v := *p.Goal
		out.Goal = &v
	}
	if p.DailySteps != nil {
		v := *p.DailySteps
		out.DailySteps = &v
	}
	return out
}

// IsEmpty reports whether no field is present.
func (p Profile) IsEmpty() bool {
	return p.HeightCM == nil && p.WeightKG == nil && p.Age == nil &&
		p.Sex == nil && p.Goal == nil && p.DailySteps == nil
}

// ProfileUpdate is a partial update coming from a presentation layer.
type ProfileUpdate struct {
	HeightCM   *float64 `json:"height_cm,omitempty"`
	WeightKG   *float64 `json:"weight_kg,omitempty"`
	Age        *int     `json:"age,omitempty"`
	Sex        *Sex     `json:"sex,omitempty"`
	Goal       *Goal    `json:"goal,omitempty"`
	DailySteps *int     `json:"daily_steps,omitempty"`
}

// Validate checks enum values and rejects non-finite or non-positive metrics.
// Values inside the positive domain but outside the widget range are clamped by ApplyTo.
func (u *ProfileUpdate) Validate() error {
	if u.HeightCM != nil && !isPositiveFinite(*u.HeightCM) {
		return fmt.Errorf("%w: height_cm must be a positive number", ErrProfileOutOfRange)
	}
	if u.WeightKG != nil && !isPositiveFinite(*u.WeightKG) {
		return fmt.Errorf("%w: weight_kg must be a positive number", ErrProfileOutOfRange)
	}
	if u.Age != nil && *u.Age <= 0 {
		return fmt.Errorf("%w: age must be positive", ErrProfileOutOfRange)
	}
	if u.DailySteps != nil && *u.DailySteps < 0 {
		return fmt.Errorf("%w: daily_steps must not be negative", ErrProfileOutOfRange)
	}
	if u.Sex != nil {
		if _, err := ParseSex(string(*u.Sex)); err != nil {
			return err
		}
	}
	if u.Goal != nil {
		if _, err := ParseGoal(string(*u.Goal)); err != nil {
			return err
		}
	}
	return nil
}

// ApplyTo copies the present fields into p, clamping numbers to the widget ranges.
// Validate must have succeeded first.
func (u *ProfileUpdate) ApplyTo(p *Profile) {
	if u.HeightCM != nil {
		v := clampFloat(*u.HeightCM, MinHeightCM, MaxHeightCM)
		p.HeightCM = &v
	}
	if u.WeightKG != nil {
		v := clampFloat(*u.WeightKG, MinWeightKG, MaxWeightKG)
		p.WeightKG = &v
	}
	if u.Age != nil {
		v := clampInt(*u.Age, MinAge, MaxAge)
		p.Age = &v
	}
	if u.Sex != nil {
		v, _ := ParseSex(string(*u.Sex))
		p.Sex = &v
	}
	if u.Goal != nil {
		v, _ := ParseGoal(string(*u.Goal))
		p.Goal = &v
	}
	if u.DailySteps != nil {
		v := clampInt(*u.DailySteps, 0, MaxDailySteps)
		p.DailySteps = &v
	}
}

func isPositiveFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MatchedItem is one keyword hit of the calorie estimator.
type MatchedItem struct {
	Item string `json:"item"`
	Kcal int    `json:"kcal"`
}

// CalorieEstimate is the result of a keyword calorie estimation.
type CalorieEstimate struct {
	TotalKcalEst int           `json:"total_kcal_est"`
	MatchedItems []MatchedItem `json:"matched_items"`
	Note         string        `json:"note"`
}

// Clone returns a copy of e that shares no slice with it.
func (e CalorieEstimate) Clone() CalorieEstimate {
	if e.MatchedItems != nil {
		e.MatchedItems = append([]MatchedItem(nil), e.MatchedItems...)
	}
	return e
}

// FailedEstimate returns the zero estimate substituted when the capability call fails.
func FailedEstimate(note string) CalorieEstimate {
	return CalorieEstimate{TotalKcalEst: 0, MatchedItems: []MatchedItem{}, Note: note}
}

// WorkoutPlan holds the three exercise tiers of a coaching reply.
type WorkoutPlan struct {
	HomePlan     string `json:"home_plan"`
	GymPlan      string `json:"gym_plan"`
	RecoveryPlan string `json:"recovery_plan"`
}

// CoachingResult is the validated structured coaching reply.
type CoachingResult struct {
	OneLine          string                 `json:"one_line"`
	IntakeSummary    []string               `json:"intake_summary"`
	KcalEstimate     map[string]interface{} `json:"kcal_estimate"`
	WorkoutPlan      WorkoutPlan            `json:"workout_plan"`
	TargetBurnKcal   int                    `json:"target_burn_kcal"`
	NextMealGuides   []string               `json:"next_meal_guides"`
	FollowupQuestion string                 `json:"followup_question"`
}

// Clone returns a deep copy of r.
func (r *CoachingResult) Clone() *CoachingResult {
	out := *r
	out.IntakeSummary = cloneStrings(r.IntakeSummary)
	out.NextMealGuides = cloneStrings(r.NextMealGuides)
	if r.KcalEstimate != nil {
		out.KcalEstimate = cloneJSONValue(r.KcalEstimate).(map[string]interface{})
	}
	return &out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// cloneJSONValue copies the maps and slices produced by encoding/json decoding.
func cloneJSONValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = cloneJSONValue(e)
		}
		return m
	case []interface{}:
		a := make([]interface{}, len(t))
		for i, e := range t {
			a[i] = cloneJSONValue(e)
		}
		return a
	default:
		return v
	}
}

// ParseCoachingResult validates raw model output against the CoachingResult shape.
// Field presence, JSON types and the two-guide constraint are all checked.
func ParseCoachingResult(raw string) (*CoachingResult, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrEmptyCoachingReply
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode coaching reply: %w", err)
	}
	for _, key := range coachingRequiredFields {
		if v, ok := fields[key]; !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, fmt.Errorf("%w: %s", ErrMissingCoachingKey, key)
		}
	}

	var plan map[string]json.RawMessage
	if err := json.Unmarshal(fields["workout_plan"], &plan); err != nil {
		return nil, fmt.Errorf("failed to decode workout_plan: %w", err)
	}
	for _, key := range workoutRequiredFields {
		if _, ok := plan[key]; !ok {
			return nil, fmt.Errorf("%w: workout_plan.%s", ErrMissingCoachingKey, key)
		}
	}

	var result CoachingResult
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		return nil, fmt.Errorf("coaching reply has invalid field types: %w", err)
	}
	if len(result.NextMealGuides) != 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMealGuides, len(result.NextMealGuides))
	}
	if result.TargetBurnKcal < 0 {
		return nil, ErrInvalidTargetBurn
	}
	return &result, nil
}

// StructuredFailure wraps a structured reply that could not be validated.
type StructuredFailure struct {
	Error      string           `json:"error"`
	Raw        string           `json:"raw"`
	ToolResult *CalorieEstimate `json:"tool_result,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentKind tells which field of Content is populated.
type ContentKind string

const (
	ContentKindText     ContentKind = "text"
	ContentKindCoaching ContentKind = "coaching"
	ContentKindFailure  ContentKind = "failure"
)

// Content is the body of a turn: plain text, a coaching result, or a structured failure.
// Exactly one field is set.
type Content struct {
	Text     string             `json:"text,omitempty"`
	Coaching *CoachingResult    `json:"coaching,omitempty"`
	Failure  *StructuredFailure `json:"failure,omitempty"`
}

// TextContent wraps plain text.
func TextContent(text string) Content {
	return Content{Text: text}
}

// Clone returns a deep copy of c.
func (c Content) Clone() Content {
	out := Content{Text: c.Text}
	if c.Coaching != nil {
		out.Coaching = c.Coaching.Clone()
	}
	if c.Failure != nil {
		f := *c.Failure
		if c.Failure.ToolResult != nil {
			est := c.Failure.ToolResult.Clone()
			f.ToolResult = &est
		}
		out.Failure = &f
	}
	return out
}

// Kind reports which representation c carries.
func (c Content) Kind() ContentKind {
	switch {
	case c.Coaching != nil:
		return ContentKindCoaching
	case c.Failure != nil:
		return ContentKindFailure
	default:
		return ContentKindText
	}
}

// ConversationTurn is one entry of the conversation log.
type ConversationTurn struct {
	Role Role `json:"role"`
	Content
	CreatedAt time.Time `json:"created_at"`
}

// TurnRequest is the payload of a chat turn submitted over the API.
type TurnRequest struct {
	Text      string `json:"text"`
	Intensity string `json:"intensity,omitempty"`
}

// Validate checks that the turn carries text and a known intensity.
func (r *TurnRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyTurnText
	}
	if _, err := ParseIntensity(r.Intensity); err != nil {
		return err
	}
	return nil
}
