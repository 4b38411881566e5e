// Package flow exposes the customer funnel over HTTP: quotes, agreements
// and the installation certificate that belong to one flow.
package flow

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kaec/docauthority/internal/authority"
	"github.com/kaec/docauthority/internal/catalog"
	"github.com/kaec/docauthority/internal/document"
	"github.com/kaec/docauthority/internal/shared/auth"
	"github.com/kaec/docauthority/internal/shared/errors"
	"github.com/kaec/docauthority/internal/shared/events"
	"github.com/kaec/docauthority/internal/sicar"
	"github.com/kaec/docauthority/internal/store"
	"github.com/kaec/docauthority/internal/tsa"
)

const eventSource = "flow"

const (
	defaultEventLimit = 100
	maxEventLimit     = 500
)

// Handler serves the flow routes
type Handler struct {
	flows     *store.Writer
	authority *authority.Service
	engine    *sicar.Engine
	seals     *tsa.Server
	bus       events.Publisher
	vertical  catalog.Vertical
	now       func() time.Time
}

// Options carries the optional collaborators of a Handler
type Options struct {
	// Seals is nil when sealing is disabled
	Seals *tsa.Server
	// Bus is nil when events are not published
	Bus events.Publisher
	// Vertical is used for quotes that name none
	Vertical catalog.Vertical
}

func NewHandler(flows *store.Writer, svc *authority.Service, engine *sicar.Engine, opts Options) *Handler {
	return &Handler{
		flows:     flows,
		authority: svc,
		engine:    engine,
		seals:     opts.Seals,
		bus:       opts.Bus,
		vertical:  opts.Vertical,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Routes registers the flow routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateQuote)

	r.Route("/{flowID}", func(r chi.Router) {
		r.Get("/", h.GetFlow)
		r.Get("/events", h.ListEvents)
		r.Post("/quote", h.ReviseQuote)
		r.Post("/agreement", h.IssueAgreement)
		r.Post("/agreement/sign", h.SignAgreement)

		r.Route("/certificate", func(r chi.Router) {
			r.Get("/", h.GetCertificate)
			r.Get("/seals", h.ListSeals)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireActor)

				r.Post("/", h.CreateCertificate)
				r.Post("/advance", h.Advance)
				r.Put("/fields/{field}", h.UpdateField)
				r.Post("/installers", h.AddInstaller)
				r.Delete("/installers", h.RemoveInstaller)
				r.Post("/devices", h.AddDevice)
				r.Patch("/devices/{deviceID}", h.UpdateDevice)
				r.Post("/devices/{deviceID}/telemetry", h.PullTelemetry)
				r.Post("/devices/{deviceID}/override", h.OverrideHealth)
				r.Post("/devices/{deviceID}/photos", h.AttachPhoto)
				r.Post("/acceptance", h.RecordAcceptance)
				r.Post("/seal", h.Seal)
			})
		})
	})

	return r
}

// GetFlow returns everything issued in a flow
func (h *Handler) GetFlow(w http.ResponseWriter, r *http.Request) {
	f, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// ListEvents returns the domain events published for a flow, oldest first
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	f, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := uint64(defaultEventLimit)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 || n > maxEventLimit {
			writeError(w, errors.Validation("limit must be between 1 and 500", map[string]string{"limit": v}))
			return
		}
		limit = n
	}

	history := []events.Event{}
	if hist, ok := h.bus.(events.Historian); ok {
		found, err := hist.History(r.Context(), f.ID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		history = append(history, found...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"flow_id": f.ID, "events": history})
}

func (h *Handler) load(r *http.Request) (*store.Flow, error) {
	id := chi.URLParam(r, "flowID")
	f, err := h.flows.Load(r.Context(), id)
	if err != nil {
		return nil, storeError(err)
	}
	if f.Empty() {
		return nil, errors.NotFound("flow", id)
	}
	return f, nil
}

func (h *Handler) publish(ctx context.Context, event events.Event) {
	if h.bus == nil {
		return
	}
	if err := h.bus.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish %s event: %v", event.Type, err)
	}
}

func storeError(err error) error {
	if stderrors.Is(err, store.ErrInvalidID) {
		return errors.BadRequest("invalid flow ID")
	}
	return err
}

// documentError maps codec failures onto HTTP errors
func documentError(err error) error {
	var appErr *errors.AppError
	switch {
	case stderrors.As(err, &appErr):
		return appErr
	case stderrors.Is(err, catalog.ErrUnknown):
		return errors.Validation(err.Error(), nil)
	case stderrors.Is(err, document.ErrSignerRequired):
		return errors.Validation(err.Error(), map[string]string{"signer_name": "required"})
	case stderrors.Is(err, document.ErrAlreadyDecided):
		return errors.Locked(err.Error())
	case stderrors.Is(err, document.ErrSelfSupersede),
		stderrors.Is(err, document.ErrQuoteMismatch),
		stderrors.Is(err, document.ErrNotHashed):
		return errors.Conflict(err.Error())
	}
	return errors.BadRequest(err.Error())
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.BadRequest("invalid request body")
	}
	return nil
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
