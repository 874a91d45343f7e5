// Package twiliowhatsapp wraps the Twilio API for the CalorieCoach WhatsApp channel.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const (
	// WhatsAppPrefix marks WhatsApp addresses in the Twilio API.
	WhatsAppPrefix = "whatsapp:"
	// MaxBodyRunes is Twilio's WhatsApp body limit; longer replies are split.
	MaxBodyRunes = 1600
)

// TwilioWhatsAppSender sends WhatsApp text through Twilio (real client or mock).
type TwilioWhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number. The "whatsapp:" prefix is added when missing.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	client    *twilio.RestClient
	fromWhats string // WhatsApp number in "whatsapp:+1234567890" format
	validator client.RequestValidator
}

// NewClient validates the credentials and builds the REST client.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("twiliowhatsapp.NewClient: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &Client{
		client:    rest,
		fromWhats: WhatsAppAddress(cfg.FromWhats),
		validator: client.NewRequestValidator(cfg.AuthToken),
	}, nil
}

// WhatsAppAddress prefixes a phone number with "whatsapp:" if it is not already.
func WhatsAppAddress(number string) string {
	if strings.HasPrefix(number, WhatsAppPrefix) {
		return number
	}
	return WhatsAppPrefix + number
}

// SendMessage sends a WhatsApp message using Twilio API, splitting bodies that
// exceed MaxBodyRunes.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	for _, part := range SplitBody(body, MaxBodyRunes) {
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(WhatsAppAddress(to))
		params.SetFrom(c.fromWhats)
		params.SetBody(part)

		resp, err := c.client.Api.CreateMessage(params)
		if err != nil {
			slog.Error("twiliowhatsapp.Client.SendMessage: failed", "to", to, "error", err)
			return fmt.Errorf("failed to send message to %s: %w", to, err)
		}
		if resp != nil && resp.Sid != nil {
			slog.Debug("twiliowhatsapp.Client.SendMessage: sent", "to", to, "sid", *resp.Sid)
		}
	}
	return nil
}

// ValidateSignature checks the X-Twilio-Signature of a webhook call against the
// public URL Twilio posted to and the form parameters.
func (c *Client) ValidateSignature(url string, params map[string]string, signature string) bool {
	return c.validator.Validate(url, params, signature)
}

// SplitBody breaks body into chunks of at most limit runes, preferring newline
// boundaries. A body within the limit is returned as a single chunk.
func SplitBody(body string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(body) <= limit {
		return []string{body}
	}
	var parts []string
	runes := []rune(body)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

// MockClient records sent messages instead of calling Twilio (for tests)
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// NewMockClient returns an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

// SendMessage records the message.
func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.SentMessages))
	copy(out, m.SentMessages)
	return out
}
