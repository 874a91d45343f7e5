package genai

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoCandidates is returned when the client has no models configured.
	ErrNoCandidates = errors.New("no candidate models configured")
	// ErrEmptyResponse is returned when a provider answers with neither text nor tool calls.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrAPIKeyMissing is returned when a provider backend is built without credentials.
	ErrAPIKeyMissing = errors.New("API key not set")
	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown provider")
)

// ServiceError wraps a provider failure with its retry classification.
// Transient is true for server-side failures (HTTP status 500 and above).
type ServiceError struct {
	Provider   string
	Model      string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s model %s: status %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s model %s: %v", e.Provider, e.Model, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable server-side failure.
func IsTransient(err error) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Transient
	}
	return false
}

// statusIsTransient is the single classification rule shared by all backends.
func statusIsTransient(code int) bool {
	return code >= 500
}

// ExhaustedError is returned by Generate when every candidate model failed.
type ExhaustedError struct {
	Models   []string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all candidate models failed (%s, %d attempts): %v",
		strings.Join(e.Models, ", "), e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// FormatFailure renders the user-facing message for a failed completion.
// The last observed error is embedded verbatim.
func FormatFailure(err error) string {
	last := err
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) && exhausted.Last != nil {
		last = exhausted.Last
	}
	return fmt.Sprintf("지금은 코칭 답변을 만들 수 없다. 모든 모델 호출이 실패했다. 잠시 후 다시 적어라.\n(마지막 오류: %v)", last)
}
