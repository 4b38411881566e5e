package notification

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/kaec/docauthority/internal/shared/metrics"
	"github.com/kaec/docauthority/internal/shared/types"
)

// ReasonInvalidRecipient is reported when the address does not parse
const ReasonInvalidRecipient = "invalid recipient address"

// Service hands document emails to the configured sender. It performs no
// retries; timeouts and redelivery are the sender's concern.
type Service struct {
	sender Sender

	mu    sync.Mutex
	stats Stats
}

// NewService creates a mail service over a sender
func NewService(sender Sender) *Service {
	return &Service{
		sender: sender,
		stats:  Stats{ByProvider: make(map[string]int64)},
	}
}

// Send validates and dispatches a mail request
func (s *Service) Send(ctx context.Context, req *MailRequest) SendResult {
	provider := s.sender.Name()

	if _, err := mail.ParseAddress(req.To); err != nil {
		return s.record(SendResult{Provider: provider, Error: ReasonInvalidRecipient})
	}
	if req.ID == "" {
		req.ID = types.NewID().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if strings.TrimSpace(req.Subject) == "" {
		req.Subject = DefaultSubject(req.Document)
	}

	id, err := s.sender.Send(ctx, req)
	if err != nil {
		return s.record(SendResult{Provider: provider, Error: err.Error()})
	}
	return s.record(SendResult{OK: true, Provider: provider, ID: id})
}

func (s *Service) record(res SendResult) SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.OK {
		s.stats.TotalSent++
		s.stats.ByProvider[res.Provider]++
	} else {
		s.stats.TotalFailed++
	}
	metrics.RecordMail(res.Provider, res.OK)
	return res
}

// Stats returns a snapshot of dispatch statistics
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.stats
	out.ByProvider = make(map[string]int64, len(s.stats.ByProvider))
	for k, v := range s.stats.ByProvider {
		out.ByProvider[k] = v
	}
	return out
}

// DefaultSubject builds a subject line from document metadata
func DefaultSubject(d DocumentSummary) string {
	kind := strings.ToLower(d.Type)
	if kind == "sicar" {
		kind = "installation certificate"
	}
	subject := fmt.Sprintf("Your %s %s", kind, d.Reference)
	if d.Provisional {
		subject += " (awaiting signature)"
	}
	return subject
}
