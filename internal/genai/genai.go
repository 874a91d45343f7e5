// Package genai provides the completion client used by the coaching pipeline.
//
// A Client holds an ordered list of candidate models and a provider Backend
// (Gemini or any OpenAI-compatible server). Each candidate gets a bounded number
// of attempts; only transient server-side failures are retried, anything else
// advances to the next candidate immediately.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Provider names accepted by WithProvider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

const (
	// DefaultMaxAttempts is the number of attempts per candidate model.
	DefaultMaxAttempts = 2
	// DefaultBackoff is the fixed wait between attempts on the same candidate.
	DefaultBackoff = time.Second
)

// DefaultGeminiModels is the candidate order used when none is configured.
var DefaultGeminiModels = []string{"gemini-3-flash-preview", "gemini-2.5-flash", "gemini-2.5-flash-lite"}

// DefaultOpenAIModels is the candidate order for the OpenAI provider.
var DefaultOpenAIModels = []string{"gpt-4o-mini", "gpt-4.1-mini"}

// Backend performs a single completion against one model.
type Backend interface {
	Name() string
	Generate(ctx context.Context, model string, req Request) (*Response, error)
}

// Opts holds configuration for the completion client.
type Opts struct {
	APIKey      string
	Provider    string
	BaseURL     string
	Models      []string
	MaxAttempts int
	Backoff     time.Duration
	DebugMode   bool
	StateDir    string
	Backend     Backend

	backoffSet bool
}

// Option configures the completion client.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithProvider selects the provider backend ("gemini" or "openai").
func WithProvider(provider string) Option {
	return func(o *Opts) { o.Provider = provider }
}

// WithBaseURL overrides the OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModels sets the ordered candidate models.
func WithModels(models ...string) Option {
	return func(o *Opts) { o.Models = models }
}

// WithMaxAttempts sets attempts per candidate.
func WithMaxAttempts(n int) Option {
	return func(o *Opts) { o.MaxAttempts = n }
}

// WithBackoff sets the wait between attempts on the same candidate. Zero disables the wait.
func WithBackoff(d time.Duration) Option {
	return func(o *Opts) {
		o.Backoff = d
		o.backoffSet = true
	}
}

// WithDebugMode enables writing every call to <state-dir>/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the state directory used for debug output.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithBackend injects a ready-made backend; APIKey and Provider are then ignored.
func WithBackend(b Backend) Option {
	return func(o *Opts) { o.Backend = b }
}

// Client runs requests against the candidate models with retry and fallback.
// It is safe for concurrent use and holds no per-request state.
type Client struct {
	backend     Backend
	models      []string
	maxAttempts int
	backoff     time.Duration
	debugMode   bool
	stateDir    string
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client from options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderGemini
	}

	backend := cfg.Backend
	if backend == nil {
		var err error
		switch provider {
		case ProviderGemini:
			backend, err = NewGeminiBackend(context.Background(), cfg.APIKey)
		case ProviderOpenAI:
			backend, err = NewOpenAIBackend(cfg.APIKey, cfg.BaseURL)
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
		}
		if err != nil {
			return nil, err
		}
	}

	models := compactModels(cfg.Models)
	if len(models) == 0 {
		if backend.Name() == ProviderOpenAI {
			models = append(models, DefaultOpenAIModels...)
		} else {
			models = append(models, DefaultGeminiModels...)
		}
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := DefaultBackoff
	if cfg.backoffSet {
		backoff = max(cfg.Backoff, 0)
	}

	slog.Debug("Client.NewClient: completion client configured",
		"provider", backend.Name(), "models", models, "maxAttempts", maxAttempts,
		"backoff", backoff, "debugMode", cfg.DebugMode)

	return &Client{
		backend:     backend,
		models:      models,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
		sleep:       sleepContext,
	}, nil
}

// Models returns a copy of the candidate list.
func (c *Client) Models() []string {
	out := make([]string, len(c.models))
	copy(out, c.models)
	return out
}

// Generate tries each candidate in order and returns the first successful response.
// When every candidate fails the error is an *ExhaustedError carrying the last failure.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	if len(c.models) == 0 {
		return nil, ErrNoCandidates
	}

	var lastErr error
	attempts := 0
	for _, model := range c.models {
		for attempt := 1; attempt <= c.maxAttempts; attempt++ {
			attempts++
			resp, err := c.backend.Generate(ctx, model, req)
			if err == nil && resp == nil {
				err = &ServiceError{Provider: c.backend.Name(), Model: model, Err: ErrEmptyResponse}
			}
			c.writeDebugLog("Generate", model, req, resp, err)
			if err == nil {
				resp.Model = model
				slog.Debug("Client.Generate: completion succeeded", "model", model, "attempt", attempt,
					"toolCalls", len(resp.ToolCalls), "textLength", len(resp.Text))
				return resp, nil
			}
			lastErr = err

			if ctx.Err() != nil {
				slog.Warn("Client.Generate: context done, aborting", "model", model, "error", ctx.Err())
				return nil, &ExhaustedError{Models: c.Models(), Attempts: attempts, Last: err}
			}
			if !IsTransient(err) {
				slog.Warn("Client.Generate: non-retryable failure, trying next model",
					"model", model, "attempt", attempt, "error", err)
				break
			}
			slog.Warn("Client.Generate: transient failure", "model", model, "attempt", attempt, "error", err)
			if attempt < c.maxAttempts {
				if err := c.sleep(ctx, c.backoff); err != nil {
					return nil, &ExhaustedError{Models: c.Models(), Attempts: attempts, Last: lastErr}
				}
			}
		}
	}

	slog.Error("Client.Generate: all candidate models failed", "models", c.models, "attempts", attempts, "error", lastErr)
	return nil, &ExhaustedError{Models: c.Models(), Attempts: attempts, Last: lastErr}
}

// Complete is Generate for callers that need a displayable result no matter what.
// On exhaustion the returned response carries FormatFailure text and Err set.
func (c *Client) Complete(ctx context.Context, req Request) *Response {
	resp, err := c.Generate(ctx, req)
	if err != nil {
		return &Response{Text: FormatFailure(err), Err: err}
	}
	return resp
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func compactModels(models []string) []string {
	out := make([]string, 0, len(models))
	for _, m := range models {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// writeDebugLog writes one call to <state-dir>/debug when debug mode is enabled.
func (c *Client) writeDebugLog(method, model string, params Request, resp *Response, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}

	debugDir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(debugDir, 0755); err != nil {
		slog.Error("Client.writeDebugLog: failed to create debug directory", "error", err, "dir", debugDir)
		return
	}

	var response interface{} = resp
	if callErr != nil {
		response = map[string]string{"error": callErr.Error()}
	}

	now := time.Now()
	entry := map[string]interface{}{
		"timestamp": now.Format(time.RFC3339Nano),
		"method":    method,
		"provider":  c.backend.Name(),
		"model":     model,
		"params":    params,
		"response":  response,
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Error("Client.writeDebugLog: failed to marshal debug entry", "error", err)
		return
	}

	name := fmt.Sprintf("%s_%s_%d.json", now.Format("20060102_150405"), method, now.UnixNano())
	path := filepath.Join(debugDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Error("Client.writeDebugLog: failed to write debug file", "error", err, "path", path)
		return
	}
	slog.Debug("Client.writeDebugLog: wrote debug file", "path", path)
}
