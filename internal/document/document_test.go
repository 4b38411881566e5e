package document

import (
	"errors"
	"testing"
	"time"

	"github.com/kaec/docauthority/internal/catalog"
)

var march1 = time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

func newTestCodec() *Codec {
	return NewCodec(catalog.Default())
}

func a2Input(addOns ...string) QuoteInput {
	return QuoteInput{
		Vertical:    catalog.VerticalElderCare,
		TierID:      "A2",
		AddOnIDs:    addOns,
		GeneratedAt: march1,
	}
}

// TestNewQuote tests the end-to-end pricing, reference and hash of a quote
func TestNewQuote(t *testing.T) {
	c := newTestCodec()

	q, err := c.NewQuote(a2Input("gentle-checkin", "door-awareness"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if q.Pricing.PackagePrice != 4950 {
		t.Errorf("Expected package price 4950, got %v", q.Pricing.PackagePrice)
	}
	if q.Pricing.AddOnTotal != 640 {
		t.Errorf("Expected add-on total 640, got %v", q.Pricing.AddOnTotal)
	}
	if q.Pricing.Total != 5590 {
		t.Errorf("Expected total 5590, got %v", q.Pricing.Total)
	}
	if q.Reference != "KAEC-A2-20250301" {
		t.Errorf("Expected reference KAEC-A2-20250301, got %s", q.Reference)
	}
	if q.Version != QuoteVersion || q.Algorithm != "SHA-256" {
		t.Errorf("Expected version %s and SHA-256, got %s and %s", QuoteVersion, q.Version, q.Algorithm)
	}
	if len(q.Hash) != 64 {
		t.Errorf("Expected 64 char hash, got %q", q.Hash)
	}

	permuted, err := c.NewQuote(a2Input("door-awareness", "gentle-checkin"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if permuted.Hash != q.Hash {
		t.Error("Expected add-on order not to affect the hash")
	}
}

func TestQuoteReferenceFollowsDate(t *testing.T) {
	c := newTestCodec()

	in := a2Input()
	first, _ := c.NewQuote(in)
	in.GeneratedAt = march1.Add(24 * time.Hour)
	second, _ := c.NewQuote(in)

	if second.Reference != "KAEC-A2-20250302" {
		t.Errorf("Expected KAEC-A2-20250302, got %s", second.Reference)
	}
	if first.Hash == second.Hash {
		t.Error("Expected different hashes for different generation dates")
	}
}

func TestNewQuoteDefaultsGeneratedAt(t *testing.T) {
	c := newTestCodec()
	c.now = func() time.Time { return march1 }

	in := a2Input()
	in.GeneratedAt = time.Time{}
	q, err := c.NewQuote(in)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !q.GeneratedAt.Equal(march1) {
		t.Errorf("Expected generated at %v, got %v", march1, q.GeneratedAt)
	}
}

// TestQuoteContractViolations tests that unknown tags fail the caller
func TestQuoteContractViolations(t *testing.T) {
	c := newTestCodec()

	tests := []struct {
		name   string
		mutate func(*QuoteInput)
	}{
		{"Unknown vertical", func(in *QuoteInput) { in.Vertical = "space" }},
		{"Unknown tier", func(in *QuoteInput) { in.TierID = "Z9" }},
		{"Unknown add-on", func(in *QuoteInput) { in.AddOnIDs = []string{"jetpack"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := a2Input()
			tt.mutate(&in)
			_, err := c.NewQuote(in)
			if !errors.Is(err, catalog.ErrUnknown) {
				t.Errorf("Expected ErrUnknown, got %v", err)
			}
		})
	}
}

func TestQuotePayloadRejectsUnknownAlgorithm(t *testing.T) {
	c := newTestCodec()
	q, _ := c.NewQuote(a2Input())
	q.Algorithm = "MD5"

	if _, err := c.QuoteHash(q); !errors.Is(err, catalog.ErrUnknown) {
		t.Errorf("Expected ErrUnknown, got %v", err)
	}
}

func TestQuotePayloadRejectsNegativePricing(t *testing.T) {
	c := newTestCodec()
	q, _ := c.NewQuote(a2Input())
	q.Pricing.Total = -1

	if _, err := c.QuoteHash(q); err == nil {
		t.Error("Expected error for negative total")
	}
}

// TestQuoteHashSensitivity tests that any hashed field change alters the hash
func TestQuoteHashSensitivity(t *testing.T) {
	c := newTestCodec()
	base, _ := c.NewQuote(a2Input("gentle-checkin"))

	tests := []struct {
		name   string
		mutate func(*Quote)
	}{
		{"Customer name", func(q *Quote) { q.Customer.Name = "Ana" }},
		{"Total", func(q *Quote) { q.Pricing.Total++ }},
		{"Add-on", func(q *Quote) { q.AddOnIDs = []string{"door-awareness"} }},
		{"Tier", func(q *Quote) { q.TierID = "A3" }},
		{"Vertical", func(q *Quote) { q.Vertical = catalog.VerticalHomeSafety }},
		{"Prior hash", func(q *Quote) { q.PriorHash = "abc" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := base.clone()
			tt.mutate(&q)
			h, err := c.QuoteHash(&q)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if h == base.Hash {
				t.Error("Expected hash to change")
			}
		})
	}
}

func TestNewQuoteCopiesAddOns(t *testing.T) {
	c := newTestCodec()
	ids := []string{"gentle-checkin"}
	q, _ := c.NewQuote(a2Input(ids...))
	ids[0] = "door-awareness"

	if q.AddOnIDs[0] != "gentle-checkin" {
		t.Error("Expected quote to own its add-on ids")
	}
}

// TestReviseChainsToPrior tests supersession between quote revisions
func TestReviseChainsToPrior(t *testing.T) {
	c := newTestCodec()
	a, _ := c.NewQuote(a2Input("gentle-checkin"))

	b, err := c.Revise(a, a2Input("gentle-checkin", "door-awareness"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if b.PriorHash != a.Hash {
		t.Errorf("Expected prior hash %s, got %s", a.Hash, b.PriorHash)
	}
	if b.Hash == a.Hash {
		t.Error("Expected revision to have its own hash")
	}
	if a.PriorHash != "" {
		t.Error("Expected original quote to be untouched")
	}

	// identical content still yields a new fingerprint because of the pointer
	same, err := c.Revise(a, a2Input("gentle-checkin"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if same.Hash == a.Hash {
		t.Error("Expected unchanged revision to differ from its prior")
	}
}

func TestReviseRequiresHashedPrior(t *testing.T) {
	c := newTestCodec()
	if _, err := c.Revise(&Quote{}, a2Input()); !errors.Is(err, ErrNotHashed) {
		t.Errorf("Expected ErrNotHashed, got %v", err)
	}
}

func TestNewAgreement(t *testing.T) {
	c := newTestCodec()
	q, _ := c.NewQuote(a2Input("gentle-checkin", "door-awareness"))

	a, err := c.NewAgreement(q, march1.Add(24*time.Hour), "")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if a.Reference != "KAEC-AGR-A2-20250302" {
		t.Errorf("Expected KAEC-AGR-A2-20250302, got %s", a.Reference)
	}
	if !a.Provisional() {
		t.Error("Expected unsigned agreement to be provisional")
	}
	if a.Quote.Hash != q.Hash {
		t.Error("Expected agreement to bind the quote hash")
	}
	if a.Hash == "" || a.Hash == q.Hash {
		t.Errorf("Expected distinct agreement hash, got %q", a.Hash)
	}
}

func TestNewAgreementRejectsTamperedQuote(t *testing.T) {
	c := newTestCodec()
	q, _ := c.NewQuote(a2Input())
	q.Pricing.Total = 1

	if _, err := c.NewAgreement(q, march1, ""); !errors.Is(err, ErrQuoteMismatch) {
		t.Errorf("Expected ErrQuoteMismatch, got %v", err)
	}
}

// TestSignChangesHash tests that acceptance is part of the agreement hash
func TestSignChangesHash(t *testing.T) {
	c := newTestCodec()
	q, _ := c.NewQuote(a2Input("gentle-checkin"))
	draft, _ := c.NewAgreement(q, march1, "")

	accepted, err := c.Sign(draft, "  Ana Petrovic ", true, march1)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	rejected, err := c.Sign(draft, "Ana Petrovic", false, march1)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if accepted.Hash == draft.Hash {
		t.Error("Expected acceptance to change the hash")
	}
	if accepted.Hash == rejected.Hash {
		t.Error("Expected accepted and rejected agreements to differ")
	}
	if accepted.Provisional() {
		t.Error("Expected signed agreement to be final")
	}
	if accepted.Acceptance.SignerName != "Ana Petrovic" {
		t.Errorf("Expected trimmed signer, got %q", accepted.Acceptance.SignerName)
	}
	if accepted.Acceptance.AcceptedOn != "2025-03-01" {
		t.Errorf("Expected acceptance date 2025-03-01, got %s", accepted.Acceptance.AcceptedOn)
	}
	if !draft.Provisional() {
		t.Error("Expected draft to be untouched")
	}
}

func TestSignerWhitespaceDoesNotChangeHash(t *testing.T) {
	c := newTestCodec()
	q, _ := c.NewQuote(a2Input())
	draft, _ := c.NewAgreement(q, march1, "")
	signed, _ := c.Sign(draft, "Ana", true, march1)

	padded := signed.clone()
	padded.Acceptance.SignerName = "  Ana  "
	h, err := c.AgreementHash(padded)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if h != signed.Hash {
		t.Error("Expected signer name to be trimmed before hashing")
	}
}

func TestSignValidation(t *testing.T) {
	c := newTestCodec()
	q, _ := c.NewQuote(a2Input())
	draft, _ := c.NewAgreement(q, march1, "")

	if _, err := c.Sign(draft, "   ", true, march1); err == nil {
		t.Error("Expected error for blank signer")
	}

	signed, _ := c.Sign(draft, "Ana", true, march1)
	if _, err := c.Sign(signed, "Ana", false, march1); err == nil {
		t.Error("Expected error when deciding twice")
	}
}

func TestParseDocumentType(t *testing.T) {
	tests := []struct {
		in      string
		want    DocumentType
		wantErr bool
	}{
		{"QUOTE", DocumentTypeQuote, false},
		{"agreement", DocumentTypeAgreement, false},
		{" SICAR ", DocumentTypeSICAR, false},
		{"INVOICE", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDocumentType(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
