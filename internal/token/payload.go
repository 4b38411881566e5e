package token

import (
	"fmt"
	"time"

	"github.com/kaec/docauthority/internal/catalog"
	"github.com/kaec/docauthority/internal/document"
	"github.com/kaec/docauthority/internal/sicar"
)

// QuotePayload is the resume payload of a quote. Names, prices and
// hardware are looked up again from the catalog on rebuild.
type QuotePayload struct {
	Reference   string            `json:"ref"`
	Version     string            `json:"ver"`
	Algorithm   string            `json:"alg"`
	Vertical    string            `json:"vertical"`
	TierID      string            `json:"tier"`
	AddOnIDs    []string          `json:"addOns"`
	Customer    document.Customer `json:"customer"`
	GeneratedAt string            `json:"generatedAt"`
	Hash        string            `json:"hash"`
	PriorHash   string            `json:"priorHash,omitempty"`
}

func (p *QuotePayload) valid() bool {
	return p.Hash != "" && p.TierID != "" && p.Reference != "" &&
		p.Vertical != "" && p.GeneratedAt != ""
}

// FromQuote projects a quote onto its resume payload
func FromQuote(q *document.Quote) QuotePayload {
	return QuotePayload{
		Reference:   q.Reference,
		Version:     q.Version,
		Algorithm:   q.Algorithm,
		Vertical:    string(q.Vertical),
		TierID:      q.TierID,
		AddOnIDs:    append([]string(nil), q.AddOnIDs...),
		Customer:    q.Customer,
		GeneratedAt: formatTime(q.GeneratedAt),
		Hash:        q.Hash,
		PriorHash:   q.PriorHash,
	}
}

// Rebuild reconstructs the full quote, carrying the hash from the token
// unchanged so the caller can compare it against a recomputed one.
func (p QuotePayload) Rebuild(c *document.Codec) (*document.Quote, error) {
	generatedAt, err := time.Parse(time.RFC3339Nano, p.GeneratedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid generatedAt: %w", err)
	}
	pricing, err := c.Price(p.TierID, p.AddOnIDs)
	if err != nil {
		return nil, err
	}

	return &document.Quote{
		Reference:   p.Reference,
		Version:     p.Version,
		Algorithm:   p.Algorithm,
		Vertical:    catalog.Vertical(p.Vertical),
		TierID:      p.TierID,
		AddOnIDs:    append([]string(nil), p.AddOnIDs...),
		Pricing:     pricing,
		Customer:    p.Customer,
		GeneratedAt: generatedAt.UTC(),
		Hash:        p.Hash,
		PriorHash:   p.PriorHash,
	}, nil
}

// AgreementPayload embeds the full quote payload and the acceptance snapshot
type AgreementPayload struct {
	Quote       QuotePayload        `json:"quote"`
	Reference   string              `json:"ref"`
	Version     string              `json:"ver"`
	Acceptance  document.Acceptance `json:"acceptance"`
	GeneratedAt string              `json:"generatedAt"`
	Hash        string              `json:"hash"`
	PriorHash   string              `json:"priorHash,omitempty"`
}

func (p *AgreementPayload) valid() bool {
	return p.Hash != "" && p.Reference != "" && p.GeneratedAt != "" && p.Quote.valid()
}

// FromAgreement projects an agreement onto its transport payload
func FromAgreement(a *document.Agreement) AgreementPayload {
	return AgreementPayload{
		Quote:       FromQuote(&a.Quote),
		Reference:   a.Reference,
		Version:     a.Version,
		Acceptance:  a.Acceptance,
		GeneratedAt: formatTime(a.GeneratedAt),
		Hash:        a.Hash,
		PriorHash:   a.PriorHash,
	}
}

// Rebuild reconstructs the full agreement and its bound quote
func (p AgreementPayload) Rebuild(c *document.Codec) (*document.Agreement, error) {
	q, err := p.Quote.Rebuild(c)
	if err != nil {
		return nil, err
	}
	generatedAt, err := time.Parse(time.RFC3339Nano, p.GeneratedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid generatedAt: %w", err)
	}

	return &document.Agreement{
		Reference:   p.Reference,
		Version:     p.Version,
		Quote:       *q,
		Acceptance:  p.Acceptance,
		GeneratedAt: generatedAt.UTC(),
		Hash:        p.Hash,
		PriorHash:   p.PriorHash,
	}, nil
}

// CertificatePayload embeds the full certificate and the hash it carried
// when the token was minted.
type CertificatePayload struct {
	Certificate sicar.Certificate `json:"certificate"`
	Hash        string            `json:"hash"`
}

func (p *CertificatePayload) valid() bool {
	return p.Hash != "" && !p.Certificate.ID.IsZero() && p.Certificate.Stage != ""
}

// FromCertificate projects a certificate onto its transport payload
func FromCertificate(c *sicar.Certificate, hash string) CertificatePayload {
	return CertificatePayload{Certificate: *c.Clone(), Hash: hash}
}

// Rebuild returns a copy of the embedded certificate
func (p CertificatePayload) Rebuild() *sicar.Certificate {
	return p.Certificate.Clone()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
