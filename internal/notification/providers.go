package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kaec/docauthority/internal/shared/types"
)

// Sender delivers a mail request and returns the provider's message id
type Sender interface {
	Name() string
	Send(ctx context.Context, req *MailRequest) (string, error)
}

// MockSender records requests in memory for testing
type MockSender struct {
	mu         sync.RWMutex
	sent       map[string]*MailRequest
	failOnSend bool
	sendDelay  time.Duration
}

// NewMockSender creates a new mock sender
func NewMockSender() *MockSender {
	return &MockSender{
		sent: make(map[string]*MailRequest),
	}
}

// Name returns the provider name
func (p *MockSender) Name() string {
	return "mock"
}

// Send records the request (mock implementation)
func (p *MockSender) Send(ctx context.Context, req *MailRequest) (string, error) {
	if p.sendDelay > 0 {
		select {
		case <-time.After(p.sendDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if p.failOnSend {
		return "", fmt.Errorf("mock send failure")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	id := "mock-" + types.NewID().String()
	p.sent[id] = req
	return id, nil
}

// SetFailOnSend sets whether Send should fail
func (p *MockSender) SetFailOnSend(fail bool) {
	p.failOnSend = fail
}

// SetSendDelay sets artificial delay for Send
func (p *MockSender) SetSendDelay(delay time.Duration) {
	p.sendDelay = delay
}

// Sent returns all recorded requests
func (p *MockSender) Sent() []*MailRequest {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*MailRequest, 0, len(p.sent))
	for _, r := range p.sent {
		result = append(result, r)
	}
	return result
}

// ConsoleSender prints mail requests to stdout for development
type ConsoleSender struct{}

// NewConsoleSender creates a console sender
func NewConsoleSender() *ConsoleSender {
	return &ConsoleSender{}
}

// Name returns the provider name
func (ConsoleSender) Name() string {
	return "console"
}

// Send prints the request
func (ConsoleSender) Send(ctx context.Context, req *MailRequest) (string, error) {
	fmt.Printf("[MAIL] To: %s, Subject: %s, Verify: %s\n", req.To, req.Subject, req.Links.Verify)
	return req.ID, nil
}

// NewSender returns the sender for a configured provider name
func NewSender(provider string) (Sender, error) {
	switch provider {
	case "", "console":
		return NewConsoleSender(), nil
	case "mock":
		return NewMockSender(), nil
	}
	return nil, fmt.Errorf("unknown mail provider %q", provider)
}
