// Package coach implements the meal-to-coaching pipeline: prompt building, the
// forced calc_kcal flow, per-session profile and conversation state, and the
// orchestrator that turns one user message into one assistant reply.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CalorieCoach/internal/estimator"
	"github.com/BTreeMap/CalorieCoach/internal/genai"
	"github.com/BTreeMap/CalorieCoach/internal/models"
)

// Completer is the part of genai.Client the pipeline needs.
type Completer interface {
	Complete(ctx context.Context, req genai.Request) *genai.Response
}

// EstimatorMode selects how the calorie estimate is produced.
type EstimatorMode string

const (
	EstimatorNone   EstimatorMode = "none"
	EstimatorInline EstimatorMode = "inline"
	EstimatorTool   EstimatorMode = "tool"
)

// OutputMode selects free text or schema-validated replies.
type OutputMode string

const (
	OutputText       OutputMode = "text"
	OutputStructured OutputMode = "structured"
)

// ErrInvalidConfig is returned for unknown pipeline toggles.
var ErrInvalidConfig = errors.New("invalid pipeline configuration")

// Config holds the pipeline toggles.
type Config struct {
	Estimator  EstimatorMode
	Output     OutputMode
	UseProfile bool
}

// DefaultConfig is the most complete pipeline: forced tool estimate, structured output, profile.
func DefaultConfig() Config {
	return Config{Estimator: EstimatorTool, Output: OutputStructured, UseProfile: true}
}

// Validate checks the toggles.
func (c Config) Validate() error {
	switch c.Estimator {
	case EstimatorNone, EstimatorInline, EstimatorTool:
	default:
		return fmt.Errorf("%w: estimator %q", ErrInvalidConfig, c.Estimator)
	}
	switch c.Output {
	case OutputText, OutputStructured:
	default:
		return fmt.Errorf("%w: output %q", ErrInvalidConfig, c.Output)
	}
	return nil
}

// ParseEstimatorMode parses an estimator toggle.
func ParseEstimatorMode(s string) (EstimatorMode, error) {
	m := EstimatorMode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case EstimatorNone, EstimatorInline, EstimatorTool:
		return m, nil
	}
	return "", fmt.Errorf("%w: estimator %q", ErrInvalidConfig, s)
}

// ParseOutputMode parses an output toggle.
func ParseOutputMode(s string) (OutputMode, error) {
	m := OutputMode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case OutputText, OutputStructured:
		return m, nil
	}
	return "", fmt.Errorf("%w: output %q", ErrInvalidConfig, s)
}

// Orchestrator runs one user turn through the configured pipeline.
type Orchestrator struct {
	client Completer
	cfg    Config
}

// NewOrchestrator creates an orchestrator. The client is shared across sessions.
func NewOrchestrator(client Completer, cfg Config) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("completion client cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{client: client, cfg: cfg}, nil
}

// Config returns the pipeline toggles.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// HandleTurn appends the user turn, runs the pipeline and appends the assistant turn.
// Every failure ends up as displayable content; HandleTurn never returns an error.
func (o *Orchestrator) HandleTurn(ctx context.Context, log *ConversationLog, text string, intensity models.Intensity, profile *models.Profile) models.Content {
	if !intensity.IsValid() {
		intensity = models.DefaultIntensity
	}
	log.Append(models.RoleUser, models.TextContent(text))

	var estimate *models.CalorieEstimate
	switch o.cfg.Estimator {
	case EstimatorInline:
		e := estimator.Estimate(text)
		estimate = &e
	case EstimatorTool:
		e := EstimateWithTool(ctx, o.client, text)
		estimate = &e
	}

	in := PromptInput{
		Text:      text,
		Intensity: intensity,
		Estimate:  estimate,
		FromTool:  o.cfg.Estimator == EstimatorTool,
	}
	if o.cfg.UseProfile {
		in.ProfileSummary = ProfileSummary(profile)
	}
	prompt := CoachingPrompt(in)

	var reply models.Content
	if o.cfg.Output == OutputStructured {
		reply = structuredReply(o.client.Complete(ctx, CoachingRequest(prompt)), estimate)
	} else {
		reply = models.TextContent(o.client.Complete(ctx, TextCoachingRequest(prompt)).Text)
	}

	slog.Debug("Orchestrator.HandleTurn: turn complete", "estimate", describeEstimate(estimate),
		"intensity", intensity, "replyKind", reply.Kind())
	log.Append(models.RoleAssistant, reply)
	return reply
}

// structuredReply validates the coaching JSON. Invalid or failed replies become a
// StructuredFailure carrying the raw text verbatim and the estimate used.
func structuredReply(resp *genai.Response, estimate *models.CalorieEstimate) models.Content {
	failure := func(reason string) models.Content {
		return models.Content{Failure: &models.StructuredFailure{
			Error:      models.ParseFailureMarker,
			Raw:        resp.Text,
			ToolResult: estimate,
			Reason:     reason,
		}}
	}

	if resp.Failed() {
		return failure(resp.Err.Error())
	}
	result, err := models.ParseCoachingResult(resp.Text)
	if err != nil {
		slog.Warn("Orchestrator.structuredReply: invalid coaching JSON", "model", resp.Model, "error", err)
		return failure(err.Error())
	}
	return models.Content{Coaching: result}
}
