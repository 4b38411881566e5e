package authority

import (
	"github.com/kaec/docauthority/internal/document"
	"github.com/kaec/docauthority/internal/shared/metrics"
	"github.com/kaec/docauthority/internal/sicar"
	"github.com/kaec/docauthority/internal/token"
)

// Verification outcomes
const (
	StatusVerified = "verified"
	StatusInvalid  = "invalid"
)

// Reasons reported on invalid verifications
const (
	ReasonInvalidToken   = "invalid token"
	ReasonHashMismatch   = "hash mismatch"
	ReasonUnknownType    = "unknown document type"
	ReasonSelfSupersede  = "document cannot supersede itself"
	ReasonUnrecognizable = "unrecognized document content"
)

// VerifyResult is the outcome of verifying a token
type VerifyResult struct {
	Status     string                `json:"status"`
	Reason     string                `json:"reason,omitempty"`
	DocType    document.DocumentType `json:"doc_type,omitempty"`
	Reference  string                `json:"reference,omitempty"`
	Hash       string                `json:"hash,omitempty"`
	Recomputed string                `json:"recomputed,omitempty"`
	Meta       *Meta                 `json:"meta,omitempty"`
}

// Verified reports whether the token checked out
func (r VerifyResult) Verified() bool {
	return r.Status == StatusVerified
}

// Verify decodes a token, rebuilds the document it describes, recomputes
// its hash and compares it to the hash the token carries.
func (s *Service) Verify(docType, tok string) VerifyResult {
	t, err := document.ParseDocumentType(docType)
	if err != nil {
		return invalid("", ReasonUnknownType)
	}

	var res VerifyResult
	switch t {
	case document.DocumentTypeQuote:
		res = s.verifyQuote(tok)
	case document.DocumentTypeAgreement:
		res = s.verifyAgreement(tok)
	case document.DocumentTypeSICAR:
		res = s.verifyCertificate(tok)
	}
	res.DocType = t

	metrics.RecordVerification(string(t), res.Verified())
	return res
}

func (s *Service) verifyQuote(tok string) VerifyResult {
	p, ok := token.DecodeQuote(tok)
	if !ok {
		return invalid(document.DocumentTypeQuote, ReasonInvalidToken)
	}
	if p.PriorHash != "" && p.PriorHash == p.Hash {
		return invalid(document.DocumentTypeQuote, ReasonSelfSupersede)
	}
	q, err := p.Rebuild(s.codec)
	if err != nil {
		return invalid(document.DocumentTypeQuote, ReasonUnrecognizable)
	}
	recomputed, err := s.codec.QuoteHash(q)
	if err != nil {
		return invalid(document.DocumentTypeQuote, ReasonUnrecognizable)
	}

	res := VerifyResult{Reference: q.Reference, Hash: p.Hash, Recomputed: recomputed}
	if recomputed != p.Hash {
		res.Status, res.Reason = StatusInvalid, ReasonHashMismatch
		return res
	}
	res.Status = StatusVerified
	if m, err := s.ForQuote(q, tok); err == nil {
		res.Meta = &m
	}
	return res
}

func (s *Service) verifyAgreement(tok string) VerifyResult {
	p, ok := token.DecodeAgreement(tok)
	if !ok {
		return invalid(document.DocumentTypeAgreement, ReasonInvalidToken)
	}
	if p.PriorHash != "" && p.PriorHash == p.Hash {
		return invalid(document.DocumentTypeAgreement, ReasonSelfSupersede)
	}
	a, err := p.Rebuild(s.codec)
	if err != nil {
		return invalid(document.DocumentTypeAgreement, ReasonUnrecognizable)
	}

	// the bound quote must still match its own fingerprint
	quoteHash, err := s.codec.QuoteHash(&a.Quote)
	if err != nil {
		return invalid(document.DocumentTypeAgreement, ReasonUnrecognizable)
	}
	recomputed, err := s.codec.AgreementHash(a)
	if err != nil {
		return invalid(document.DocumentTypeAgreement, ReasonUnrecognizable)
	}

	res := VerifyResult{Reference: a.Reference, Hash: p.Hash, Recomputed: recomputed}
	if quoteHash != a.Quote.Hash || recomputed != p.Hash {
		res.Status, res.Reason = StatusInvalid, ReasonHashMismatch
		return res
	}
	res.Status = StatusVerified
	if m, err := s.ForAgreement(a, tok); err == nil {
		res.Meta = &m
	}
	return res
}

func (s *Service) verifyCertificate(tok string) VerifyResult {
	p, ok := token.DecodeCertificate(tok)
	if !ok {
		return invalid(document.DocumentTypeSICAR, ReasonInvalidToken)
	}
	c := p.Rebuild()
	recomputed, err := sicar.ComputeHash(c)
	if err != nil {
		return invalid(document.DocumentTypeSICAR, ReasonUnrecognizable)
	}

	res := VerifyResult{Reference: sicar.Reference(c), Hash: p.Hash, Recomputed: recomputed}
	if recomputed != p.Hash {
		res.Status, res.Reason = StatusInvalid, ReasonHashMismatch
		return res
	}
	res.Status = StatusVerified
	if m, err := s.ForCertificate(c, sicar.RoleCustomer, tok); err == nil {
		res.Meta = &m
	}
	return res
}

func invalid(t document.DocumentType, reason string) VerifyResult {
	return VerifyResult{Status: StatusInvalid, Reason: reason, DocType: t}
}
