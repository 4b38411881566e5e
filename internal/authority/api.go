package authority

import (
	"encoding/json"
	stderrors "errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kaec/docauthority/internal/document"
	"github.com/kaec/docauthority/internal/notification"
	"github.com/kaec/docauthority/internal/shared/auth"
	"github.com/kaec/docauthority/internal/shared/errors"
	"github.com/kaec/docauthority/internal/shared/events"
	"github.com/kaec/docauthority/internal/shared/middleware"
	"github.com/kaec/docauthority/internal/sicar"
	"github.com/kaec/docauthority/internal/store"
)

// Handler serves verification, metadata and email routes
type Handler struct {
	svc     *Service
	flows   store.FlowStore
	mail    *notification.Service
	limiter *middleware.IPRateLimiter
	bus     events.Publisher
}

// NewHandler creates the authority handler. limiter and bus may be nil.
func NewHandler(svc *Service, flows store.FlowStore, mail *notification.Service, limiter *middleware.IPRateLimiter, bus events.Publisher) *Handler {
	return &Handler{svc: svc, flows: flows, mail: mail, limiter: limiter, bus: bus}
}

// Routes registers the authority routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}
		r.Get("/verify", h.VerifyToken)
	})

	r.Get("/quotes/{hash}", h.FindQuote)
	r.Get("/flows/{flowID}", h.GetMeta)
	r.Post("/flows/{flowID}/email", h.EmailDocument)

	return r
}

// VerifyToken recomputes the hash of the document a token describes
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	doc := r.URL.Query().Get("doc")
	tok := r.URL.Query().Get("t")
	missing := map[string]string{}
	if doc == "" {
		missing["doc"] = "required"
	}
	if tok == "" {
		missing["t"] = "required"
	}
	if len(missing) > 0 {
		writeError(w, errors.Validation("doc and t are required", missing))
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Verify(doc, tok))
}

// GetMeta builds authority metadata for one of the flow's documents
func (h *Handler) GetMeta(w http.ResponseWriter, r *http.Request) {
	meta, err := h.meta(r, r.URL.Query().Get("doc"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// FindQuote resolves a quote hash to the flow currently holding it
func (h *Handler) FindQuote(w http.ResponseWriter, r *http.Request) {
	hash := strings.ToLower(chi.URLParam(r, "hash"))
	idx, ok := h.flows.(store.QuoteIndex)
	if !ok {
		writeError(w, errors.NotFound("quote", hash))
		return
	}

	id, err := idx.FindByQuoteHash(r.Context(), hash)
	if err != nil {
		writeError(w, err)
		return
	}
	if id == "" {
		writeError(w, errors.NotFound("quote", hash))
		return
	}

	f, err := h.flows.Load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	meta, err := h.svc.ForQuote(f.Quote, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flow_id": id, "meta": meta})
}

// EmailDocument sends the authority links of a flow document to an address
func (h *Handler) EmailDocument(w http.ResponseWriter, r *http.Request) {
	var req document.EmailDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	meta, err := h.meta(r, req.DocType)
	if err != nil {
		writeError(w, err)
		return
	}

	res := h.mail.Send(r.Context(), MailRequest(strings.TrimSpace(req.To), meta))
	switch {
	case res.OK:
	case res.Error == notification.ReasonInvalidRecipient:
		writeError(w, errors.Validation(res.Error, map[string]string{"to": "invalid"}))
		return
	default:
		writeJSON(w, http.StatusBadGateway, res)
		return
	}

	writeJSON(w, http.StatusAccepted, res)
	if h.bus != nil {
		event := events.NewEvent(events.DocumentEmailed, "authority", chi.URLParam(r, "flowID"), map[string]any{
			"doc_type":  meta.DocType,
			"reference": meta.Reference,
			"hash":      meta.Hash,
			"provider":  res.Provider,
		})
		if err := h.bus.Publish(r.Context(), event); err != nil {
			log.Printf("Failed to publish %s event: %v", event.Type, err)
		}
	}
}

func (h *Handler) meta(r *http.Request, doc string) (Meta, error) {
	id := chi.URLParam(r, "flowID")
	f, err := h.flows.Load(r.Context(), id)
	if err != nil {
		if stderrors.Is(err, store.ErrInvalidID) {
			return Meta{}, errors.BadRequest("invalid flow ID")
		}
		return Meta{}, err
	}
	if f.Empty() {
		return Meta{}, errors.NotFound("flow", id)
	}

	t := latest(f)
	if doc != "" {
		if t, err = document.ParseDocumentType(doc); err != nil {
			return Meta{}, errors.Validation(err.Error(), map[string]string{"doc": doc})
		}
	}

	switch t {
	case document.DocumentTypeQuote:
		if f.Quote != nil {
			return h.svc.ForQuote(f.Quote, "")
		}
	case document.DocumentTypeAgreement:
		if f.Agreement != nil {
			return h.svc.ForAgreement(f.Agreement, "")
		}
	case document.DocumentTypeSICAR:
		if f.Certificate != nil {
			return h.svc.ForCertificate(f.Certificate, requestRole(r), "")
		}
	}
	return Meta{}, errors.NotFound(strings.ToLower(string(t)), id)
}

// latest picks the most advanced document in a flow. An agreement bound
// to a superseded quote does not count.
func latest(f *store.Flow) document.DocumentType {
	switch {
	case f.Certificate != nil:
		return document.DocumentTypeSICAR
	case f.Agreement != nil && (f.Quote == nil || f.Agreement.Quote.Hash == f.Quote.Hash):
		return document.DocumentTypeAgreement
	}
	return document.DocumentTypeQuote
}

func requestRole(r *http.Request) sicar.Role {
	if a := auth.GetActor(r.Context()); a != nil {
		if role, err := sicar.ParseRole(a.Role); err == nil {
			return role
		}
	}
	return sicar.RoleCustomer
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	log.Printf("Request failed: %v", err)
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
