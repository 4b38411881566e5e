// Package catalog holds the static package, add-on and hardware tables that
// documents are priced from and rebuilt against.
package catalog

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknown is returned when a tier, add-on or vertical tag is outside the
// known set. It signals a caller-contract violation.
var ErrUnknown = errors.New("unknown catalog entry")

// Vertical is the catalog namespace a document was priced in.
type Vertical string

const (
	VerticalElderCare  Vertical = "elder-care"
	VerticalHomeSafety Vertical = "home-safety"
)

// Validate checks that the vertical is a known tag.
func (v Vertical) Validate() error {
	switch v {
	case VerticalElderCare, VerticalHomeSafety:
		return nil
	}
	return fmt.Errorf("vertical %q: %w", v, ErrUnknown)
}

// Item is one line of a hardware breakdown.
type Item struct {
	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

// Tier is a base package.
type Tier struct {
	ID       string
	Name     string
	Price    float64
	Hardware []Item
	Features []string
}

// AddOn is an optional extra on top of a tier.
type AddOn struct {
	ID       string
	Label    string
	Price    float64
	Hardware []Item
	Features []string
}

// Catalog is a read-only lookup table.
type Catalog struct {
	tiers  map[string]Tier
	addOns map[string]AddOn
}

// New builds a catalog from the given tables.
func New(tiers []Tier, addOns []AddOn) *Catalog {
	c := &Catalog{
		tiers:  make(map[string]Tier, len(tiers)),
		addOns: make(map[string]AddOn, len(addOns)),
	}
	for _, t := range tiers {
		c.tiers[t.ID] = t
	}
	for _, a := range addOns {
		c.addOns[a.ID] = a
	}
	return c
}

// Tier looks up a tier by id.
func (c *Catalog) Tier(id string) (Tier, error) {
	t, ok := c.tiers[id]
	if !ok {
		return Tier{}, fmt.Errorf("tier %q: %w", id, ErrUnknown)
	}
	return t, nil
}

// AddOn looks up an add-on by id.
func (c *Catalog) AddOn(id string) (AddOn, error) {
	a, ok := c.addOns[id]
	if !ok {
		return AddOn{}, fmt.Errorf("add-on %q: %w", id, ErrUnknown)
	}
	return a, nil
}

// AddOns resolves ids in order. Duplicate ids are an error.
func (c *Catalog) AddOns(ids []string) ([]AddOn, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]AddOn, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("add-on %q listed twice", id)
		}
		seen[id] = true
		a, err := c.AddOn(id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Breakdown merges the tier's hardware and features with those of the
// selected add-ons. Hardware is a set union keyed by item name with
// quantities summed; both results are sorted by name.
func (c *Catalog) Breakdown(tier Tier, addOns []AddOn) ([]Item, []string) {
	tables := [][]Item{tier.Hardware}
	features := append([]string(nil), tier.Features...)
	for _, a := range addOns {
		tables = append(tables, a.Hardware)
		features = append(features, a.Features...)
	}
	return MergeHardware(tables...), dedupe(features)
}

// MergeHardware sums quantities per item name across tables.
func MergeHardware(tables ...[]Item) []Item {
	totals := make(map[string]int)
	for _, table := range tables {
		for _, item := range table {
			totals[item.Name] += item.Qty
		}
	}

	out := make([]Item, 0, len(totals))
	for name, qty := range totals {
		out = append(out, Item{Name: name, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func dedupe(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
