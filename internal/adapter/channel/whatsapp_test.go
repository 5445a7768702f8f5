package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"guidebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestChannel(handler domain.MessageHandler) *WhatsAppChannel {
	w := NewWhatsAppChannel("test-token", "12345", "verify-me", "", ":0", 0, 0, testLogger())
	w.handler = handler
	return w
}

const textPayload = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "entry1",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"contacts": [{"wa_id": "66811111111", "profile": {"name": "Alice"}}],
				"messages": [{
					"from": "66811111111",
					"id": "wamid.1",
					"timestamp": "1700000000",
					"type": "text",
					"text": {"body": "hello"}
				}]
			}
		}]
	}]
}`

func TestWebhookVerification(t *testing.T) {
	w := newTestChannel(nil)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{"valid", "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42", http.StatusOK, "42"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=42", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil)
			rec := httptest.NewRecorder()
			w.handleWebhook(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want challenge echoed back", rec.Body.String())
			}
		})
	}
}

func TestWebhookDispatchesTextMessage(t *testing.T) {
	var got domain.InboundMessage
	w := newTestChannel(func(_ context.Context, msg domain.InboundMessage) error {
		got = msg
		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(textPayload))
	rec := httptest.NewRecorder()
	w.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got.SenderID != "66811111111" {
		t.Errorf("sender = %q", got.SenderID)
	}
	if got.SenderName != "Alice" {
		t.Errorf("sender name = %q", got.SenderName)
	}
	if got.MessageType != domain.MessageTypeText || got.Content != "hello" {
		t.Errorf("message = %+v", got)
	}
}

func TestWebhookAlwaysReturns200(t *testing.T) {
	w := newTestChannel(func(context.Context, domain.InboundMessage) error {
		t.Fatal("handler must not run for garbage payloads")
		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	w.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("malformed payload status = %d, want 200 to stop Meta retries", rec.Code)
	}
}

func TestWebhookSignatureValidation(t *testing.T) {
	handled := false
	w := NewWhatsAppChannel("test-token", "12345", "verify-me", "app-secret", ":0", 0, 0, testLogger())
	w.handler = func(context.Context, domain.InboundMessage) error {
		handled = true
		return nil
	}

	sign := func(body string) string {
		mac := hmac.New(sha256.New, []byte("app-secret"))
		mac.Write([]byte(body))
		return "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(textPayload))
	req.Header.Set("X-Hub-Signature-256", sign(textPayload))
	rec := httptest.NewRecorder()
	w.handleWebhook(rec, req)
	if rec.Code != http.StatusOK || !handled {
		t.Fatalf("valid signature rejected: status=%d handled=%v", rec.Code, handled)
	}

	handled = false
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(textPayload))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec = httptest.NewRecorder()
	w.handleWebhook(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("bad signature status = %d, want 200", rec.Code)
	}
	if handled {
		t.Error("handler ran despite invalid signature")
	}
}

func TestWebhookIgnoresUnsupportedTypes(t *testing.T) {
	payload := strings.Replace(textPayload, `"type": "text"`, `"type": "audio"`, 1)

	w := newTestChannel(func(context.Context, domain.InboundMessage) error {
		t.Fatal("handler must not run for unsupported message types")
		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	w.handleWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestWebhookImageDownload(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing auth header on %s", r.URL.Path)
		}
		switch r.URL.Path {
		case "/v21.0/media123":
			json.NewEncoder(rw).Encode(map[string]string{
				"url": "http://" + r.Host + "/download/media123",
			})
		case "/download/media123":
			rw.Write([]byte{0x89, 0x50, 0x4E, 0x47})
		default:
			http.NotFound(rw, r)
		}
	}))
	defer graph.Close()

	var got domain.InboundMessage
	w := newTestChannel(func(_ context.Context, msg domain.InboundMessage) error {
		got = msg
		return nil
	})
	w.baseURL = graph.URL

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{"changes": [{"field": "messages", "value": {
			"messages": [{
				"from": "66811111111",
				"id": "wamid.2",
				"type": "image",
				"image": {"id": "media123", "mime_type": "image/png", "caption": "what temple is this?"}
			}]
		}}]}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	w.handleWebhook(rec, req)

	if got.MessageType != domain.MessageTypeImage {
		t.Fatalf("message type = %q, want image", got.MessageType)
	}
	if got.Content != "what temple is this?" {
		t.Errorf("caption = %q", got.Content)
	}
	if len(got.Image) != 4 {
		t.Errorf("image bytes = %d, want 4", len(got.Image))
	}
}

func TestSendMessage(t *testing.T) {
	var sent whatsappSendRequest
	graph := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v21.0/12345/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Error("missing auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&sent); err != nil {
			t.Errorf("decode send payload: %v", err)
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer graph.Close()

	w := newTestChannel(nil)
	w.baseURL = graph.URL

	err := w.Send(context.Background(), domain.OutboundMessage{
		RecipientID: "66811111111",
		Content:     "Sawasdee!",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent.To != "66811111111" || sent.Text == nil || sent.Text.Body != "Sawasdee!" {
		t.Errorf("send payload = %+v", sent)
	}

	if err := w.Send(context.Background(), domain.OutboundMessage{
		RecipientID: "66811111111",
		Content:     "something broke",
		IsError:     true,
	}); err != nil {
		t.Fatalf("Send error message: %v", err)
	}
	if !strings.HasPrefix(sent.Text.Body, "⚠️ ") {
		t.Errorf("error message not prefixed: %q", sent.Text.Body)
	}
}

func TestSendEmptyMessageIsNoOp(t *testing.T) {
	graph := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected for empty content")
	}))
	defer graph.Close()

	w := newTestChannel(nil)
	w.baseURL = graph.URL

	if err := w.Send(context.Background(), domain.OutboundMessage{RecipientID: "x"}); err != nil {
		t.Fatalf("Send empty: %v", err)
	}
}
