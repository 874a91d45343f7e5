package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/CalorieCoach/internal/models"
	"github.com/BTreeMap/CalorieCoach/internal/twiliowhatsapp"
)

type fakeValidator struct {
	valid bool
	url   string
	from  string
}

func (f *fakeValidator) ValidateSignature(u string, params map[string]string, signature string) bool {
	f.url = u
	f.from = params["From"]
	return f.valid && signature != ""
}

func webhookRequest(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestTwilioService_ImplementsService(t *testing.T) {
	var _ Service = (*TwilioService)(nil)
}

func TestTwilioService_SendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "whatsapp:+821012345678", "hi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	msgs := mock.Messages()
	if len(msgs) != 1 || msgs[0].To != "+821012345678" {
		t.Fatalf("expected E.164 recipient, got %+v", msgs)
	}
	receipt := <-svc.Receipts()
	if receipt.To != "821012345678" || receipt.Status != models.MessageStatusSent {
		t.Errorf("unexpected receipt %+v", receipt)
	}
}

func TestTwilioService_WebhookHandler(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	rr := httptest.NewRecorder()
	svc.WebhookHandler(rr, webhookRequest(url.Values{"From": {"whatsapp:+821012345678"}, "Body": {" 치킨 반마리 "}}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<Response>") {
		t.Errorf("expected TwiML body, got %q", rr.Body.String())
	}

	select {
	case resp := <-svc.Responses():
		if resp.From != "821012345678" || resp.Body != "치킨 반마리" {
			t.Errorf("unexpected response %+v", resp)
		}
	default:
		t.Fatal("expected inbound response")
	}
}

func TestTwilioService_WebhookHandler_MissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	rr := httptest.NewRecorder()
	svc.WebhookHandler(rr, webhookRequest(url.Values{"From": {"whatsapp:+821012345678"}}))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestTwilioService_WebhookHandler_Signature(t *testing.T) {
	v := &fakeValidator{valid: false}
	svc := NewTwilioService(twiliowhatsapp.NewMockClient(), WithSignatureValidation(v, "https://coach.example/twilio/webhook"))
	form := url.Values{"From": {"whatsapp:+821012345678"}, "Body": {"밥"}}

	rr := httptest.NewRecorder()
	req := webhookRequest(form)
	req.Header.Set(TwilioSignatureHeader, "bogus")
	svc.WebhookHandler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if v.url != "https://coach.example/twilio/webhook" || v.from != "whatsapp:+821012345678" {
		t.Errorf("validator got url=%q from=%q", v.url, v.from)
	}

	v.valid = true
	rr = httptest.NewRecorder()
	req = webhookRequest(form)
	req.Header.Set(TwilioSignatureHeader, "good")
	svc.WebhookHandler(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 with valid signature, got %d", rr.Code)
	}
}

func TestTwilioService_WebhookAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rr := httptest.NewRecorder()
	svc.WebhookHandler(rr, webhookRequest(url.Values{"From": {"whatsapp:+821012345678"}, "Body": {"밥"}}))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after stop, got %d", rr.Code)
	}
}
