// Package store persists funnel flows: the quote, agreement and
// certificate a customer session owns, keyed by flow ID.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kaec/docauthority/internal/document"
	"github.com/kaec/docauthority/internal/sicar"
	"github.com/kaec/docauthority/internal/shared/metrics"
	"github.com/kaec/docauthority/internal/tsa"
)

// KeyPrefix namespaces flow keys in shared key-value backends
const KeyPrefix = "flow:"

var ErrInvalidID = errors.New("invalid flow id")

// Flow is everything issued within one customer session
type Flow struct {
	ID          string              `json:"id"`
	Quote       *document.Quote     `json:"quote,omitempty"`
	Superseded  []string            `json:"superseded,omitempty"`
	Agreement   *document.Agreement `json:"agreement,omitempty"`
	Certificate *sicar.Certificate  `json:"certificate,omitempty"`
	Seals       []tsa.Seal          `json:"seals,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// New returns the default flow stored under id
func New(id string) *Flow {
	return &Flow{ID: id}
}

// Empty reports whether nothing has been issued in the flow yet
func (f *Flow) Empty() bool {
	return f.Quote == nil && f.Agreement == nil && f.Certificate == nil
}

// Key returns the flow's key in key-value backends
func Key(id string) string {
	return KeyPrefix + id
}

// FlowStore loads and saves flows. Load returns the default flow for
// unknown ids rather than an error.
type FlowStore interface {
	Load(ctx context.Context, id string) (*Flow, error)
	Save(ctx context.Context, f *Flow) error
}

// QuoteIndex finds the flow whose current quote carries a hash. An empty
// id means no flow matched.
type QuoteIndex interface {
	FindByQuoteHash(ctx context.Context, hash string) (string, error)
}

func encode(f *Flow) ([]byte, error) {
	return json.Marshal(f)
}

func decode(id string, data []byte) (*Flow, error) {
	f := New(id)
	if err := json.Unmarshal(data, f); err != nil {
		return nil, err
	}
	f.ID = id
	return f, nil
}

func observe(backend, op string, start time.Time) {
	metrics.RecordStoreOperation(backend, op, time.Since(start))
}

func checkID(id string) error {
	if id == "" || len(id) > 64 {
		return ErrInvalidID
	}
	return nil
}
