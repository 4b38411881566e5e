// Package authority composes document codecs and tokens into the
// user-facing authority metadata and verifies presented tokens.
package authority

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kaec/docauthority/internal/document"
	"github.com/kaec/docauthority/internal/notification"
	"github.com/kaec/docauthority/internal/sicar"
	"github.com/kaec/docauthority/internal/token"
)

// Ellipsis joins the two halves of a shortened hash
const Ellipsis = "…"

// Config holds authority settings
type Config struct {
	BaseURL      string
	ShortHashLen int
}

// QuoteBinding identifies the quote an agreement or certificate is bound to
type QuoteBinding struct {
	Reference string `json:"reference,omitempty"`
	Hash      string `json:"hash,omitempty"`
	HashShort string `json:"hash_short,omitempty"`
	Version   string `json:"version,omitempty"`
}

// Meta is the authority metadata shown alongside a document
type Meta struct {
	DocType         document.DocumentType `json:"doc_type"`
	Version         string                `json:"version"`
	Reference       string                `json:"reference"`
	IssuedAt        string                `json:"issued_at"`
	Hash            string                `json:"hash"`
	HashShort       string                `json:"hash_short"`
	Supersedes      string                `json:"supersedes,omitempty"`
	SupersedesShort string                `json:"supersedes_short,omitempty"`
	Quote           *QuoteBinding         `json:"quote,omitempty"`
	Provisional     bool                  `json:"provisional"`
	Token           string                `json:"token"`
	ResumeURL       string                `json:"resume_url"`
	VerifyURL       string                `json:"verify_url"`
	PrintURL        string                `json:"print_url"`
}

// Service builds authority metadata
type Service struct {
	codec   *document.Codec
	baseURL string
	short   int
}

// NewService creates an authority service
func NewService(codec *document.Codec, cfg Config) *Service {
	short := cfg.ShortHashLen
	if short <= 0 {
		short = 8
	}
	return &Service{
		codec:   codec,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		short:   short,
	}
}

// Codec returns the document codec the service delegates to
func (s *Service) Codec() *document.Codec {
	return s.codec
}

// Shorten returns the first n and last n characters of a hash joined by
// an ellipsis. Hashes no longer than the shortened form are returned whole.
func Shorten(hash string, n int) string {
	if n <= 0 || len(hash) <= 2*n+utf8.RuneCountInString(Ellipsis) {
		return hash
	}
	return hash[:n] + Ellipsis + hash[len(hash)-n:]
}

// Build dispatches on the document kind. A certificate is resumed as the
// system role; use ForCertificate to pick another.
func (s *Service) Build(doc any, existingToken string) (Meta, error) {
	switch d := doc.(type) {
	case *document.Quote:
		return s.ForQuote(d, existingToken)
	case *document.Agreement:
		return s.ForAgreement(d, existingToken)
	case *sicar.Certificate:
		return s.ForCertificate(d, sicar.RoleSystem, existingToken)
	}
	return Meta{}, fmt.Errorf("unsupported document %T", doc)
}

// ForQuote builds metadata for a quote
func (s *Service) ForQuote(q *document.Quote, existingToken string) (Meta, error) {
	hash := q.Hash
	if hash == "" {
		h, err := s.codec.QuoteHash(q)
		if err != nil {
			return Meta{}, err
		}
		hash = h
	}

	tok := existingToken
	if tok == "" {
		p := token.FromQuote(q)
		p.Hash = hash
		var err error
		if tok, err = token.Encode(p); err != nil {
			return Meta{}, err
		}
	}

	m := s.meta(document.DocumentTypeQuote, q.Version, q.Reference, q.GeneratedAt, hash, q.PriorHash, tok)
	m.ResumeURL = s.link("/agreement", url.Values{"t": {tok}})
	return m, nil
}

// ForAgreement builds metadata for an agreement. An agreement without a
// recorded decision is marked provisional.
func (s *Service) ForAgreement(a *document.Agreement, existingToken string) (Meta, error) {
	hash := a.Hash
	if hash == "" {
		h, err := s.codec.AgreementHash(a)
		if err != nil {
			return Meta{}, err
		}
		hash = h
	}

	tok := existingToken
	if tok == "" {
		p := token.FromAgreement(a)
		p.Hash = hash
		var err error
		if tok, err = token.Encode(p); err != nil {
			return Meta{}, err
		}
	}

	m := s.meta(document.DocumentTypeAgreement, a.Version, a.Reference, a.GeneratedAt, hash, a.PriorHash, tok)
	m.Quote = s.binding(a.Quote.Reference, a.Quote.Hash, a.Quote.Version)
	m.Provisional = a.Provisional()
	next := "/agreement/sign"
	if !a.Provisional() {
		next = "/installation/schedule"
	}
	m.ResumeURL = s.link(next, url.Values{"t": {tok}})
	return m, nil
}

// ForCertificate builds metadata for a certificate. The resume link
// points at the next step for role in the certificate's current stage.
func (s *Service) ForCertificate(c *sicar.Certificate, role sicar.Role, existingToken string) (Meta, error) {
	hash, err := sicar.ComputeHash(c)
	if err != nil {
		return Meta{}, err
	}

	tok := existingToken
	if tok == "" {
		if tok, err = token.Encode(token.FromCertificate(c, hash)); err != nil {
			return Meta{}, err
		}
	}

	issuedAt := c.UpdatedAt
	if c.Immutable && c.Acceptance != nil {
		issuedAt = c.Acceptance.SignedAt
	}

	m := s.meta(document.DocumentTypeSICAR, sicar.DocVersion, sicar.Reference(c), issuedAt, hash, "", tok)
	if c.QuoteID != "" {
		m.Quote = &QuoteBinding{Reference: c.QuoteID}
	}
	m.Provisional = !c.Immutable
	m.ResumeURL = s.link(ResumePath(c.Stage, role, c.Immutable), url.Values{
		"id": {c.ID.String()},
		"t":  {tok},
	})
	return m, nil
}

// ResumePath picks the page a role continues from in a stage
func ResumePath(stage sicar.Stage, role sicar.Role, locked bool) string {
	if locked {
		return "/certificate/view"
	}
	switch {
	case stage == sicar.StageLead && role == sicar.RoleCustomer:
		return "/certificate/contact"
	case stage == sicar.StagePreinstall && role == sicar.RoleOperations:
		return "/certificate/roster"
	case (stage == sicar.StageInstallation || stage == sicar.StagePostinstall) &&
		(role == sicar.RoleInstaller || role == sicar.RoleSystem):
		return "/certificate/devices"
	case stage == sicar.StageAcceptance && role == sicar.RoleCustomer:
		return "/certificate/accept"
	}
	return "/certificate/view"
}

func (s *Service) meta(docType document.DocumentType, version, reference string, issuedAt time.Time, hash, supersedes, tok string) Meta {
	m := Meta{
		DocType:   docType,
		Version:   version,
		Reference: reference,
		Hash:      hash,
		HashShort: Shorten(hash, s.short),
		Token:     tok,
	}
	if !issuedAt.IsZero() {
		m.IssuedAt = issuedAt.UTC().Format(time.RFC3339)
	}
	if supersedes != "" {
		m.Supersedes = supersedes
		m.SupersedesShort = Shorten(supersedes, s.short)
	}

	q := url.Values{"doc": {string(docType)}, "t": {tok}}
	m.VerifyURL = s.link("/verify", q)
	m.PrintURL = s.link("/print", q)
	return m
}

func (s *Service) binding(reference, hash, version string) *QuoteBinding {
	return &QuoteBinding{
		Reference: reference,
		Hash:      hash,
		HashShort: Shorten(hash, s.short),
		Version:   version,
	}
}

func (s *Service) link(path string, q url.Values) string {
	return s.baseURL + path + "?" + q.Encode()
}

// MailRequest builds the payload handed to the mail sender
func MailRequest(to string, m Meta) *notification.MailRequest {
	return &notification.MailRequest{
		To: to,
		Document: notification.DocumentSummary{
			Type:        string(m.DocType),
			Version:     m.Version,
			Reference:   m.Reference,
			Hash:        m.Hash,
			HashShort:   m.HashShort,
			Supersedes:  m.Supersedes,
			IssuedAt:    m.IssuedAt,
			Provisional: m.Provisional,
		},
		Links: notification.Links{
			Resume: m.ResumeURL,
			Verify: m.VerifyURL,
			Print:  m.PrintURL,
		},
	}
}
