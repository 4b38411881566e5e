package document

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kaec/docauthority/internal/canon"
	"github.com/kaec/docauthority/internal/catalog"
)

var (
	// ErrNotHashed is returned when an operation needs a document that has
	// already been fingerprinted.
	ErrNotHashed = errors.New("document has not been hashed")

	// ErrSelfSupersede is returned when a revision would carry its own hash
	// as the prior hash.
	ErrSelfSupersede = errors.New("document cannot supersede itself")

	// ErrQuoteMismatch is returned when a quote's stored hash does not match
	// its content.
	ErrQuoteMismatch = errors.New("quote hash does not match its content")

	ErrAlreadyDecided = errors.New("agreement already has a recorded decision")
	ErrSignerRequired = errors.New("signer name is required")
)

// Codec builds hash payloads for quotes and agreements. Names, labels and
// hardware tables are looked up in the catalog so a document can be
// rebuilt from its ids alone.
type Codec struct {
	catalog *catalog.Catalog
	now     func() time.Time
}

// NewCodec creates a codec backed by the given catalog
func NewCodec(c *catalog.Catalog) *Codec {
	return &Codec{catalog: c, now: time.Now}
}

// Catalog returns the lookup tables the codec prices from
func (c *Codec) Catalog() *catalog.Catalog {
	return c.catalog
}

// NewQuote prices and hashes a new quote
func (c *Codec) NewQuote(in QuoteInput) (*Quote, error) {
	if err := in.Vertical.Validate(); err != nil {
		return nil, err
	}
	pricing, err := c.Price(in.TierID, in.AddOnIDs)
	if err != nil {
		return nil, err
	}

	generatedAt := in.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = c.now()
	}
	generatedAt = generatedAt.UTC()

	q := &Quote{
		Reference:   QuoteReference(in.TierID, generatedAt),
		Version:     QuoteVersion,
		Algorithm:   canon.Algorithm,
		Vertical:    in.Vertical,
		TierID:      in.TierID,
		AddOnIDs:    append([]string(nil), in.AddOnIDs...),
		Pricing:     pricing,
		Customer:    in.Customer,
		GeneratedAt: generatedAt,
	}

	hash, err := c.QuoteHash(q)
	if err != nil {
		return nil, err
	}
	q.Hash = hash
	return q, nil
}

// Price computes the pricing breakdown for a tier and its add-ons
func (c *Codec) Price(tierID string, addOnIDs []string) (Pricing, error) {
	tier, err := c.catalog.Tier(tierID)
	if err != nil {
		return Pricing{}, err
	}
	addOns, err := c.catalog.AddOns(addOnIDs)
	if err != nil {
		return Pricing{}, err
	}

	var addOnTotal float64
	for _, a := range addOns {
		addOnTotal += a.Price
	}
	return Pricing{
		PackagePrice: tier.Price,
		AddOnTotal:   addOnTotal,
		Total:        tier.Price + addOnTotal,
	}, nil
}

// Revise issues a new quote that supersedes prev. The previous quote is
// left untouched.
func (c *Codec) Revise(prev *Quote, in QuoteInput) (*Quote, error) {
	if prev.Hash == "" {
		return nil, ErrNotHashed
	}

	next, err := c.NewQuote(in)
	if err != nil {
		return nil, err
	}
	next.PriorHash = prev.Hash

	hash, err := c.QuoteHash(next)
	if err != nil {
		return nil, err
	}
	if hash == prev.Hash {
		return nil, ErrSelfSupersede
	}
	next.Hash = hash
	return next, nil
}

// QuotePayload builds the canonical value a quote is hashed over
func (c *Codec) QuotePayload(q *Quote) (canon.Value, error) {
	if err := checkAlgorithm(q.Algorithm); err != nil {
		return nil, err
	}
	if err := checkPricing(q.Pricing); err != nil {
		return nil, err
	}
	if err := q.Vertical.Validate(); err != nil {
		return nil, err
	}
	tier, err := c.catalog.Tier(q.TierID)
	if err != nil {
		return nil, err
	}
	addOns, err := c.catalog.AddOns(q.AddOnIDs)
	if err != nil {
		return nil, err
	}

	hardware, features := c.catalog.Breakdown(tier, addOns)
	hw := make(canon.List, 0, len(hardware))
	for _, item := range hardware {
		hw = append(hw, canon.Map{
			"item": canon.String(item.Name),
			"qty":  canon.Number(item.Qty),
		})
	}

	labels := make([]string, 0, len(addOns))
	for _, a := range addOns {
		labels = append(labels, a.Label)
	}

	reference := q.Reference
	if reference == "" {
		reference = QuoteReference(tier.ID, q.GeneratedAt)
	}

	return canon.Map{
		"reference":   canon.String(reference),
		"docVersion":  canon.String(orDefault(q.Version, QuoteVersion)),
		"algorithm":   canon.String(canon.Algorithm),
		"vertical":    canon.String(q.Vertical),
		"package":     packageBlock(tier),
		"addOns":      canon.Map{"ids": canon.Strings(q.AddOnIDs), "labels": canon.Strings(labels)},
		"pricing":     pricingBlock(q.Pricing),
		"hardware":    hw,
		"features":    canon.Strings(features),
		"customer":    customerBlock(q.Customer),
		"generatedAt": canon.Time(q.GeneratedAt),
		"priorHash":   canon.String(q.PriorHash),
	}, nil
}

// QuoteHash computes the fingerprint of a quote
func (c *Codec) QuoteHash(q *Quote) (string, error) {
	payload, err := c.QuotePayload(q)
	if err != nil {
		return "", err
	}
	return canon.Sum(payload)
}

// NewAgreement binds a hashed quote into an unaccepted agreement. The
// quote's stored hash must match its content.
func (c *Codec) NewAgreement(q *Quote, generatedAt time.Time, priorHash string) (*Agreement, error) {
	if q.Hash == "" {
		return nil, ErrNotHashed
	}
	recomputed, err := c.QuoteHash(q)
	if err != nil {
		return nil, err
	}
	if recomputed != q.Hash {
		return nil, ErrQuoteMismatch
	}

	if generatedAt.IsZero() {
		generatedAt = c.now()
	}
	generatedAt = generatedAt.UTC()

	a := &Agreement{
		Reference:   AgreementReference(q.TierID, generatedAt),
		Version:     AgreementVersion,
		Quote:       q.clone(),
		GeneratedAt: generatedAt,
		PriorHash:   priorHash,
	}

	hash, err := c.AgreementHash(a)
	if err != nil {
		return nil, err
	}
	if hash == priorHash {
		return nil, ErrSelfSupersede
	}
	a.Hash = hash
	return a, nil
}

// Sign records the customer's decision on an agreement and returns the
// re-hashed agreement. A decision can only be recorded once.
func (c *Codec) Sign(a *Agreement, signerName string, accepted bool, on time.Time) (*Agreement, error) {
	if !a.Provisional() {
		return nil, fmt.Errorf("agreement %s: %w", a.Reference, ErrAlreadyDecided)
	}
	signer := strings.TrimSpace(signerName)
	if signer == "" {
		return nil, ErrSignerRequired
	}
	if on.IsZero() {
		on = c.now()
	}

	next := a.clone()
	next.Acceptance = Acceptance{
		Accepted:   accepted,
		SignerName: signer,
		AcceptedOn: on.UTC().Format(time.DateOnly),
	}

	hash, err := c.AgreementHash(next)
	if err != nil {
		return nil, err
	}
	next.Hash = hash
	return next, nil
}

// AgreementPayload builds the canonical value an agreement is hashed over.
// Acceptance is part of the payload, so recording a decision changes the
// hash even if nothing else does.
func (c *Codec) AgreementPayload(a *Agreement) (canon.Value, error) {
	q := a.Quote
	if err := checkAlgorithm(q.Algorithm); err != nil {
		return nil, err
	}
	if err := checkPricing(q.Pricing); err != nil {
		return nil, err
	}
	if err := q.Vertical.Validate(); err != nil {
		return nil, err
	}
	tier, err := c.catalog.Tier(q.TierID)
	if err != nil {
		return nil, err
	}
	addOns, err := c.catalog.AddOns(q.AddOnIDs)
	if err != nil {
		return nil, err
	}

	sort.Slice(addOns, func(i, j int) bool { return addOns[i].ID < addOns[j].ID })
	details := make(canon.List, 0, len(addOns))
	for _, addOn := range addOns {
		details = append(details, canon.Map{
			"id":    canon.String(addOn.ID),
			"label": canon.String(addOn.Label),
			"price": canon.Number(addOn.Price),
		})
	}

	reference := a.Reference
	if reference == "" {
		reference = AgreementReference(tier.ID, a.GeneratedAt)
	}

	return canon.Map{
		"reference":  canon.String(reference),
		"docVersion": canon.String(orDefault(a.Version, AgreementVersion)),
		"sections":   canon.Strings(ContentSections),
		"quote": canon.Map{
			"reference": canon.String(q.Reference),
			"hash":      canon.String(q.Hash),
			"version":   canon.String(orDefault(q.Version, QuoteVersion)),
			"priorHash": canon.String(q.PriorHash),
			"algorithm": canon.String(canon.Algorithm),
		},
		"vertical": canon.String(q.Vertical),
		"package":  packageBlock(tier),
		"addOns":   details,
		"pricing":  pricingBlock(q.Pricing),
		"customer": customerBlock(q.Customer),
		"acceptance": canon.Map{
			"accepted":       canon.Bool(a.Acceptance.Accepted),
			"signerName":     canon.String(strings.TrimSpace(a.Acceptance.SignerName)),
			"acceptanceDate": canon.String(a.Acceptance.AcceptedOn),
		},
		"generatedAt": canon.Time(a.GeneratedAt),
		"priorHash":   canon.String(a.PriorHash),
	}, nil
}

// AgreementHash computes the fingerprint of an agreement
func (c *Codec) AgreementHash(a *Agreement) (string, error) {
	payload, err := c.AgreementPayload(a)
	if err != nil {
		return "", err
	}
	return canon.Sum(payload)
}

func packageBlock(t catalog.Tier) canon.Map {
	return canon.Map{
		"id":   canon.String(t.ID),
		"name": canon.String(t.Name),
	}
}

func pricingBlock(p Pricing) canon.Map {
	return canon.Map{
		"packagePrice": canon.Number(p.PackagePrice),
		"addOnTotal":   canon.Number(p.AddOnTotal),
		"total":        canon.Number(p.Total),
	}
}

// customerBlock always emits every field so an omitted value and a blank
// one hash the same.
func customerBlock(c Customer) canon.Map {
	return canon.Map{
		"name":            canon.String(c.Name),
		"email":           canon.String(c.Email),
		"phone":           canon.String(c.Phone),
		"propertyAddress": canon.String(c.PropertyAddress),
		"notes":           canon.String(c.Notes),
	}
}

func checkAlgorithm(tag string) error {
	if tag != "" && tag != canon.Algorithm {
		return fmt.Errorf("algorithm %q: %w", tag, catalog.ErrUnknown)
	}
	return nil
}

func checkPricing(p Pricing) error {
	for _, v := range []float64{p.PackagePrice, p.AddOnTotal, p.Total} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid pricing amount %v", v)
		}
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (q Quote) clone() Quote {
	q.AddOnIDs = append([]string(nil), q.AddOnIDs...)
	return q
}

func (a *Agreement) clone() *Agreement {
	out := *a
	out.Quote = a.Quote.clone()
	return &out
}
