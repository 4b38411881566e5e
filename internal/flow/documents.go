package flow

import (
	"net/http"

	"github.com/kaec/docauthority/internal/authority"
	"github.com/kaec/docauthority/internal/document"
	"github.com/kaec/docauthority/internal/shared/errors"
	"github.com/kaec/docauthority/internal/shared/events"
	"github.com/kaec/docauthority/internal/shared/metrics"
	"github.com/kaec/docauthority/internal/shared/types"
	"github.com/kaec/docauthority/internal/store"
)

// DocumentResponse is returned whenever a quote or agreement is issued
type DocumentResponse struct {
	FlowID    string              `json:"flow_id"`
	Quote     *document.Quote     `json:"quote,omitempty"`
	Agreement *document.Agreement `json:"agreement,omitempty"`
	Meta      authority.Meta      `json:"meta"`
}

// CreateQuote prices a quote and opens a new flow for it
func (h *Handler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req document.CreateQuoteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	in := h.quoteInput(req.QuoteInput)

	id := types.NewID().String()
	f, err := h.flows.Update(r.Context(), id, func(f *store.Flow) error {
		q, err := h.authority.Codec().NewQuote(in)
		if err != nil {
			return documentError(err)
		}
		f.Quote = q
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.respondDocument(w, http.StatusCreated, f, document.DocumentTypeQuote)
	h.publish(r.Context(), events.NewEvent(events.QuoteIssued, eventSource, f.ID, map[string]any{
		"reference": f.Quote.Reference,
		"hash":      f.Quote.Hash,
	}))
}

// ReviseQuote issues a quote that supersedes the flow's current one. A
// provisional agreement on the old quote stays until a new agreement
// supersedes it.
func (h *Handler) ReviseQuote(w http.ResponseWriter, r *http.Request) {
	var req document.CreateQuoteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	in := h.quoteInput(req.QuoteInput)

	if _, err := h.load(r); err != nil {
		writeError(w, err)
		return
	}

	f, err := h.flows.Update(r.Context(), flowID(r), func(f *store.Flow) error {
		if f.Quote == nil {
			return errors.Conflict("flow has no quote to revise")
		}
		if f.Agreement != nil && !f.Agreement.Provisional() {
			return errors.Locked("agreement already has a recorded decision")
		}
		if f.Certificate != nil {
			return errors.Locked("certificate already issued for this quote")
		}
		q, err := h.authority.Codec().Revise(f.Quote, in)
		if err != nil {
			return documentError(err)
		}
		f.Superseded = append(f.Superseded, f.Quote.Hash)
		f.Quote = q
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.respondDocument(w, http.StatusCreated, f, document.DocumentTypeQuote)
	h.publish(r.Context(), events.NewEvent(events.QuoteRevised, eventSource, f.ID, map[string]any{
		"reference":  f.Quote.Reference,
		"hash":       f.Quote.Hash,
		"supersedes": f.Quote.PriorHash,
	}))
}

// IssueAgreement binds a provisional agreement to the flow's quote. An
// agreement that replaces an earlier unsigned one supersedes it.
func (h *Handler) IssueAgreement(w http.ResponseWriter, r *http.Request) {
	if _, err := h.load(r); err != nil {
		writeError(w, err)
		return
	}

	f, err := h.flows.Update(r.Context(), flowID(r), func(f *store.Flow) error {
		if f.Quote == nil {
			return errors.Conflict("flow has no quote to agree to")
		}
		var prior string
		if f.Agreement != nil {
			if !f.Agreement.Provisional() {
				return errors.Locked("agreement already has a recorded decision")
			}
			if f.Agreement.Quote.Hash == f.Quote.Hash {
				return nil
			}
			prior = f.Agreement.Hash
		}
		a, err := h.authority.Codec().NewAgreement(f.Quote, h.now(), prior)
		if err != nil {
			return documentError(err)
		}
		f.Agreement = a
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.respondDocument(w, http.StatusCreated, f, document.DocumentTypeAgreement)
	h.publish(r.Context(), events.NewEvent(events.AgreementIssued, eventSource, f.ID, map[string]any{
		"reference":  f.Agreement.Reference,
		"hash":       f.Agreement.Hash,
		"quote_hash": f.Agreement.Quote.Hash,
	}))
}

// SignAgreement records the customer's decision on the flow's agreement
func (h *Handler) SignAgreement(w http.ResponseWriter, r *http.Request) {
	var req document.AcceptAgreementRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.load(r); err != nil {
		writeError(w, err)
		return
	}

	f, err := h.flows.Update(r.Context(), flowID(r), func(f *store.Flow) error {
		if f.Agreement == nil {
			return errors.Conflict("flow has no agreement to sign")
		}
		if f.Quote != nil && f.Agreement.Quote.Hash != f.Quote.Hash {
			return errors.Conflict("agreement is bound to a superseded quote")
		}
		a, err := h.authority.Codec().Sign(f.Agreement, req.SignerName, req.Accepted, h.now())
		if err != nil {
			return documentError(err)
		}
		f.Agreement = a
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.respondDocument(w, http.StatusOK, f, document.DocumentTypeAgreement)
	h.publish(r.Context(), events.NewEvent(events.AgreementSigned, eventSource, f.ID, map[string]any{
		"reference": f.Agreement.Reference,
		"hash":      f.Agreement.Hash,
		"accepted":  f.Agreement.Acceptance.Accepted,
	}))
}

func (h *Handler) quoteInput(in document.QuoteInput) document.QuoteInput {
	if in.Vertical == "" {
		in.Vertical = h.vertical
	}
	// issuance time is the server's, not the client's
	in.GeneratedAt = h.now()
	return in
}

func (h *Handler) respondDocument(w http.ResponseWriter, status int, f *store.Flow, t document.DocumentType) {
	resp := DocumentResponse{FlowID: f.ID}

	var err error
	switch t {
	case document.DocumentTypeQuote:
		resp.Quote = f.Quote
		resp.Meta, err = h.authority.ForQuote(f.Quote, "")
	case document.DocumentTypeAgreement:
		resp.Agreement = f.Agreement
		resp.Meta, err = h.authority.ForAgreement(f.Agreement, "")
	}
	if err != nil {
		writeError(w, errors.Internal(err))
		return
	}

	metrics.RecordDocumentIssued(string(t))
	writeJSON(w, status, resp)
}
