package notification

import (
	"context"
	"strings"
	"testing"
	"time"
)

func testRequest() *MailRequest {
	return &MailRequest{
		To: "ana@example.com",
		Document: DocumentSummary{
			Type:      "QUOTE",
			Reference: "KAEC-A2-20250301",
			Hash:      strings.Repeat("a", 64),
		},
		Links: Links{Verify: "https://example.com/verify?doc=QUOTE&t=abc"},
	}
}

func TestSendSuccess(t *testing.T) {
	sender := NewMockSender()
	svc := NewService(sender)

	res := svc.Send(context.Background(), testRequest())

	if !res.OK {
		t.Fatalf("Expected ok, got error %s", res.Error)
	}
	if res.Provider != "mock" {
		t.Errorf("Expected provider mock, got %s", res.Provider)
	}
	if res.ID == "" {
		t.Error("Expected provider message id")
	}

	sent := sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("Expected 1 sent request, got %d", len(sent))
	}
	if sent[0].Subject != "Your quote KAEC-A2-20250301" {
		t.Errorf("Unexpected subject %q", sent[0].Subject)
	}
}

func TestSendFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*MockSender, *MailRequest)
		wantErr string
	}{
		{
			name:    "Invalid recipient",
			setup:   func(_ *MockSender, r *MailRequest) { r.To = "not-an-address" },
			wantErr: "invalid recipient address",
		},
		{
			name:    "Provider failure",
			setup:   func(s *MockSender, _ *MailRequest) { s.SetFailOnSend(true) },
			wantErr: "mock send failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := NewMockSender()
			req := testRequest()
			tt.setup(sender, req)

			res := NewService(sender).Send(context.Background(), req)
			if res.OK {
				t.Fatal("Expected failure")
			}
			if res.Error != tt.wantErr {
				t.Errorf("Expected error %q, got %q", tt.wantErr, res.Error)
			}
			if res.Provider != "mock" {
				t.Errorf("Expected provider mock, got %s", res.Provider)
			}
		})
	}
}

func TestSendHonoursContext(t *testing.T) {
	sender := NewMockSender()
	sender.SetSendDelay(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewService(sender).Send(ctx, testRequest())
	if res.OK {
		t.Error("Expected cancelled send to fail")
	}
}

func TestStats(t *testing.T) {
	sender := NewMockSender()
	svc := NewService(sender)

	svc.Send(context.Background(), testRequest())
	sender.SetFailOnSend(true)
	svc.Send(context.Background(), testRequest())

	stats := svc.Stats()
	if stats.TotalSent != 1 || stats.TotalFailed != 1 {
		t.Errorf("Expected 1 sent and 1 failed, got %+v", stats)
	}
	if stats.ByProvider["mock"] != 1 {
		t.Errorf("Expected 1 mock delivery, got %d", stats.ByProvider["mock"])
	}
}

func TestDefaultSubject(t *testing.T) {
	got := DefaultSubject(DocumentSummary{Type: "AGREEMENT", Reference: "KAEC-AGR-A2-20250301", Provisional: true})
	want := "Your agreement KAEC-AGR-A2-20250301 (awaiting signature)"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestNewSender(t *testing.T) {
	if s, err := NewSender(""); err != nil || s.Name() != "console" {
		t.Errorf("Expected console default, got %v, %v", s, err)
	}
	if _, err := NewSender("carrier-pigeon"); err == nil {
		t.Error("Expected error for unknown provider")
	}
}
