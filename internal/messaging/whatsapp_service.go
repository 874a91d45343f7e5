package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/CalorieCoach/internal/models"
	"github.com/BTreeMap/CalorieCoach/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // set when client is a live connection
	events   *eventChannels
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client: client,
		events: newEventChannels(),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("NewWhatsAppService: created with live client")
	} else {
		slog.Debug("NewWhatsAppService: created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient reduces a phone number to its digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("WhatsAppService.ValidateAndCanonicalizeRecipient: canonicalized", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start registers the inbound message handler on the live client.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil {
		slog.Debug("WhatsAppService.Start: no live client, skipping event handling")
		return nil
	}
	s.waClient.OnMessage(s.handleInbound)
	slog.Info("WhatsAppService.Start: listening for inbound messages")
	return nil
}

// Stop closes the event channels and disconnects the live client.
func (s *WhatsAppService) Stop() error {
	if !s.events.close() {
		return nil
	}
	if s.waClient != nil {
		s.waClient.OnMessage(nil)
		s.waClient.Disconnect()
	}
	slog.Info("WhatsAppService.Stop: stopped and channels closed")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.events.isStopped() {
		return ErrServiceStopped
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService.SendMessage: send failed", "error", err, "to", canonicalTo)
		s.events.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusFailed, Time: nowUnix()})
		return err
	}
	s.events.emitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: nowUnix()})
	slog.Debug("WhatsAppService.SendMessage: sent", "to", canonicalTo, "body_length", len(body))
	return nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.events.receipts
}

// Responses returns a channel of inbound messages.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.events.responses
}

func (s *WhatsAppService) handleInbound(m whatsapp.InboundMessage) {
	resp := models.Response{From: m.From, Body: m.Body, Time: m.Time.Unix()}
	if s.events.emitResponse(resp) {
		slog.Debug("WhatsAppService.handleInbound: inbound message queued", "from", resp.From, "body_length", len(resp.Body))
	}
}
