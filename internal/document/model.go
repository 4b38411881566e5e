package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/kaec/docauthority/internal/catalog"
)

// DocumentType discriminates the documents the authority can certify
type DocumentType string

const (
	DocumentTypeQuote     DocumentType = "QUOTE"
	DocumentTypeAgreement DocumentType = "AGREEMENT"
	DocumentTypeSICAR     DocumentType = "SICAR"
)

// ParseDocumentType parses the doc discriminator used on verification URLs
func ParseDocumentType(s string) (DocumentType, error) {
	switch t := DocumentType(strings.ToUpper(strings.TrimSpace(s))); t {
	case DocumentTypeQuote, DocumentTypeAgreement, DocumentTypeSICAR:
		return t, nil
	}
	return "", fmt.Errorf("unknown document type %q", s)
}

const (
	// ReferencePrefix starts every human-readable document reference
	ReferencePrefix = "KAEC"

	QuoteVersion     = "quote-v1"
	AgreementVersion = "agreement-v1"
)

// ContentSections identifies the legal sections an agreement includes.
// Changing any section's text requires bumping its identifier here.
var ContentSections = []string{
	"service-terms@2025-01",
	"privacy-notice@2025-01",
	"installation-scope@2025-02",
	"monitoring-limits@2025-01",
	"cancellation@2024-11",
}

// Pricing is the computed price breakdown of a quote
type Pricing struct {
	PackagePrice float64 `json:"package_price"`
	AddOnTotal   float64 `json:"add_on_total"`
	Total        float64 `json:"total"`
}

// Customer is the optional customer/property context captured by the funnel
type Customer struct {
	Name            string `json:"name,omitempty"`
	Email           string `json:"email,omitempty"`
	Phone           string `json:"phone,omitempty"`
	PropertyAddress string `json:"property_address,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// Quote is a hashed price quote. Once Hash is set its hashed fields are
// frozen; a revision is a new Quote whose PriorHash points at this one.
type Quote struct {
	Reference   string           `json:"reference"`
	Version     string           `json:"version"`
	Algorithm   string           `json:"algorithm"`
	Vertical    catalog.Vertical `json:"vertical"`
	TierID      string           `json:"tier_id"`
	AddOnIDs    []string         `json:"add_on_ids"`
	Pricing     Pricing          `json:"pricing"`
	Customer    Customer         `json:"customer"`
	GeneratedAt time.Time        `json:"generated_at"`
	Hash        string           `json:"hash"`
	PriorHash   string           `json:"prior_hash,omitempty"`
}

// QuoteInput is what the funnel supplies to generate a quote
type QuoteInput struct {
	Vertical    catalog.Vertical `json:"vertical"`
	TierID      string           `json:"tier_id"`
	AddOnIDs    []string         `json:"add_on_ids"`
	Customer    Customer         `json:"customer"`
	GeneratedAt time.Time        `json:"generated_at,omitempty"`
}

// Acceptance is the customer's acceptance snapshot on an agreement
type Acceptance struct {
	Accepted   bool   `json:"accepted"`
	SignerName string `json:"signer_name"`
	AcceptedOn string `json:"accepted_on"` // YYYY-MM-DD
}

// Agreement binds a hashed quote to the customer's acceptance
type Agreement struct {
	Reference   string     `json:"reference"`
	Version     string     `json:"version"`
	Quote       Quote      `json:"quote"`
	Acceptance  Acceptance `json:"acceptance"`
	GeneratedAt time.Time  `json:"generated_at"`
	Hash        string     `json:"hash"`
	PriorHash   string     `json:"prior_hash,omitempty"`
}

// Provisional reports whether the agreement hash is only provisional.
// Until the customer's decision is recorded the agreement is hashed with
// a deterministic default acceptance block and must not be cited as final.
func (a Agreement) Provisional() bool {
	return a.Acceptance.AcceptedOn == ""
}

// QuoteReference builds {PREFIX}-{tier}-{YYYYMMDD}
func QuoteReference(tierID string, generatedAt time.Time) string {
	return fmt.Sprintf("%s-%s-%s", ReferencePrefix, tierID, compactDate(generatedAt))
}

// AgreementReference builds {PREFIX}-AGR-{tier}-{YYYYMMDD}
func AgreementReference(tierID string, generatedAt time.Time) string {
	return fmt.Sprintf("%s-AGR-%s-%s", ReferencePrefix, tierID, compactDate(generatedAt))
}

// compactDate renders the UTC date without separators, using now for the
// zero time.
func compactDate(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return strings.ReplaceAll(t.UTC().Format(time.DateOnly), "-", "")
}

// --- Request/Response types ---

type CreateQuoteRequest struct {
	QuoteInput
}

type AcceptAgreementRequest struct {
	SignerName string `json:"signer_name"`
	Accepted   bool   `json:"accepted"`
}

type EmailDocumentRequest struct {
	To      string `json:"to"`
	DocType string `json:"doc"`
}
