package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/CalorieCoach/internal/models"
	"github.com/BTreeMap/CalorieCoach/internal/twiliowhatsapp"
)

// TwilioSignatureHeader carries Twilio's request signature.
const TwilioSignatureHeader = "X-Twilio-Signature"

// emptyTwiML acknowledges a webhook without an immediate reply; replies are sent
// through the REST API once the turn completes.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// SignatureValidator checks Twilio webhook signatures.
type SignatureValidator interface {
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// TwilioService implements the Service interface using Twilio API
type TwilioService struct {
	client     twiliowhatsapp.TwilioWhatsAppSender // real Twilio client or MockClient
	events     *eventChannels
	validator  SignatureValidator
	webhookURL string
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook calls whose signature does not match
// publicURL, the address Twilio is configured to post to.
func WithSignatureValidation(v SignatureValidator, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = v
		s.webhookURL = publicURL
	}
}

// NewTwilioService creates a new TwilioService over the given sender.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	service := &TwilioService{
		client: client,
		events: newEventChannels(),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// The "whatsapp:" prefix and every non-numeric character are removed.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(strings.TrimPrefix(recipient, twiliowhatsapp.WhatsAppPrefix))
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("TwilioService.ValidateAndCanonicalizeRecipient: canonicalized", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio; inbound messages arrive through WebhookHandler.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *TwilioService) Stop() error {
	if s.events.close() {
		slog.Info("TwilioService.Stop: stopped and channels closed")
	}
	return nil
}

// SendMessage sends a message via Twilio and emits a receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.events.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: validation error", "error", err, "to", to)
		return err
	}

	// Twilio expects E.164 with the leading plus.
	if err := s.client.SendMessage(ctx, "+"+canonicalTo, body); err != nil {
		s.events.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusFailed, Time: nowUnix()})
		return err
	}
	s.events.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: nowUnix()})
	return nil
}

// Receipts returns the channel for sent message receipts.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.events.receipts
}

// Responses returns the channel for inbound messages received by the webhook.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.events.responses
}

// WebhookHandler handles inbound Twilio webhook requests and emits them on Responses.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("TwilioService.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			params[key] = r.PostForm.Get(key)
		}
		if !s.validator.ValidateSignature(s.webhookURL, params, r.Header.Get(TwilioSignatureHeader)) {
			slog.Warn("TwilioService.WebhookHandler: invalid signature", "remote", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	from := r.PostForm.Get("From")
	body := strings.TrimSpace(r.PostForm.Get("Body"))
	if from == "" || body == "" {
		slog.Warn("TwilioService.WebhookHandler: missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	canonicalFrom, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("TwilioService.WebhookHandler: invalid sender", "error", err)
		http.Error(w, fmt.Sprintf("Invalid sender: %v", err), http.StatusBadRequest)
		return
	}

	if !s.events.emitResponse(models.Response{From: canonicalFrom, Body: body, Time: nowUnix()}) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	slog.Debug("TwilioService.WebhookHandler: inbound message queued", "from", canonicalFrom, "body_length", len(body))

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}
