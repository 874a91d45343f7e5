// Package messaging connects chat channels to the coaching pipeline.
//
// A Service delivers replies and surfaces inbound messages; ChatHandler turns those
// messages into commands or coaching turns for a per-sender session.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/BTreeMap/CalorieCoach/internal/models"
)

// Constants for service channel configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// MinPhoneDigits is the shortest accepted canonical phone number.
	MinPhoneDigits = 6
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, and provides channels for receipt and response events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., listening for events).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channels.
	Stop() error

	// Receipts returns a channel of receipt events (sent or failed).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of inbound user messages.
	Responses() <-chan models.Response
}

// canonicalizePhone strips every non-digit and requires at least MinPhoneDigits digits.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}
	return canonical, nil
}

// nowUnix is replaced in tests.
var nowUnix = func() int64 { return time.Now().Unix() }
