package flow

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kaec/docauthority/internal/authority"
	"github.com/kaec/docauthority/internal/shared/auth"
	"github.com/kaec/docauthority/internal/shared/errors"
	"github.com/kaec/docauthority/internal/shared/events"
	"github.com/kaec/docauthority/internal/shared/metrics"
	"github.com/kaec/docauthority/internal/shared/types"
	"github.com/kaec/docauthority/internal/sicar"
	"github.com/kaec/docauthority/internal/store"
	"github.com/kaec/docauthority/internal/tsa"
)

// CertificateResponse is returned by every certificate route
type CertificateResponse struct {
	FlowID      string             `json:"flow_id"`
	Certificate *sicar.Certificate `json:"certificate"`
	Meta        authority.Meta     `json:"meta"`
}

// SealStatus pairs a stored seal with its check against the current hash
type SealStatus struct {
	Seal         tsa.Seal         `json:"seal"`
	Verification tsa.VerifyResult `json:"verification"`
}

type advanceRequest struct {
	Stage string `json:"stage"`
}

type fieldRequest struct {
	Value string `json:"value"`
}

type installerRequest struct {
	Name string `json:"name"`
}

type overrideRequest struct {
	Justification string `json:"justification"`
}

// lifecycleOp applies one engine operation for role
type lifecycleOp func(c *sicar.Certificate, role sicar.Role) sicar.Result

// CreateCertificate opens the flow's certificate in the lead stage,
// pre-bound to the flow's documents
func (h *Handler) CreateCertificate(w http.ResponseWriter, r *http.Request) {
	role, err := actorRole(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.load(r); err != nil {
		writeError(w, err)
		return
	}

	f, err := h.flows.Update(r.Context(), flowID(r), func(f *store.Flow) error {
		if f.Certificate != nil {
			return errors.Conflict("flow already has a certificate")
		}
		b, err := bindings(f)
		if err != nil {
			return err
		}
		res := h.engine.NewBound(role, b)
		if !res.OK() {
			return errors.FromViolation(string(res.Error.Kind), res.Error.Reason)
		}
		f.Certificate = res.Certificate
		return nil
	})
	metrics.RecordLifecycleOperation("create", outcome(err))
	if err != nil {
		writeError(w, err)
		return
	}

	h.respondCertificate(w, http.StatusCreated, f, role)
	h.publishAudit(r, f, role, f.Certificate.Audit)
}

// bindings collects the values a new certificate copies from the flow's
// documents. A declined agreement blocks certification.
func bindings(f *store.Flow) (sicar.Bindings, error) {
	b := sicar.Bindings{}
	if q := f.Quote; q != nil {
		b[sicar.FieldQuoteID] = q.Reference
		b[sicar.FieldCustomerName] = q.Customer.Name
		b[sicar.FieldCustomerEmail] = q.Customer.Email
		b[sicar.FieldCustomerPhone] = q.Customer.Phone
		b[sicar.FieldServiceAddress] = q.Customer.PropertyAddress
	}
	if a := f.Agreement; a != nil && !a.Provisional() {
		if !a.Acceptance.Accepted {
			return nil, errors.Conflict("agreement was declined")
		}
		b[sicar.FieldAgreementID] = a.Reference
	}
	return b, nil
}

// GetCertificate returns the certificate with metadata for the caller's role
func (h *Handler) GetCertificate(w http.ResponseWriter, r *http.Request) {
	f, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if f.Certificate == nil {
		writeError(w, errors.NotFound("certificate", f.ID))
		return
	}

	role := sicar.RoleCustomer
	if a := auth.GetActor(r.Context()); a != nil {
		if parsed, err := sicar.ParseRole(a.Role); err == nil {
			role = parsed
		}
	}
	h.respondCertificate(w, http.StatusOK, f, role)
}

func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	stage, err := sicar.ParseStage(req.Stage)
	if err != nil {
		writeError(w, errors.Validation(err.Error(), map[string]string{"stage": "unknown"}))
		return
	}
	h.mutate(w, r, "advance", func(c *sicar.Certificate, role sicar.Role) sicar.Result {
		return h.engine.Advance(c, stage, role)
	})
}

func (h *Handler) UpdateField(w http.ResponseWriter, r *http.Request) {
	var req fieldRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	field := sicar.Field(chi.URLParam(r, "field"))
	h.mutate(w, r, "update_field", func(c *sicar.Certificate, role sicar.Role) sicar.Result {
		return h.engine.UpdateField(c, field, req.Value, role)
	})
}

func (h *Handler) AddInstaller(w http.ResponseWriter, r *http.Request) {
	var req installerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.mutate(w, r, "add_installer", func(c *sicar.Certificate, role sicar.Role) sicar.Result {
		return h.engine.AddInstaller(c, req.Name, role)
	})
}

// RemoveInstaller takes the name from the query string so any roster
// name can be addressed
func (h *Handler) RemoveInstaller(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if strings.TrimSpace(name) == "" {
		writeError(w, errors.Validation("installer name is required", map[string]string{"name": "required"}))
		return
	}
	h.mutate(w, r, "remove_installer", func(c *sicar.Certificate, role sicar.Role) sicar.Result {
		return h.engine.RemoveInstaller(c, name, role)
	})
}

func (h *Handler) AddDevice(w http.ResponseWriter, r *http.Request) {
	var req sicar.DeviceInput
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.mutate(w, r, "add_device", func(c *sicar.Certificate, role sicar.Role) sicar.Result {
		return h.engine.AddDevice(c, req, role)
	})
}

func (h *Handler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, err := deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req sicar.DevicePatch
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.mutate(w, r, "update_device", func(c *sicar.Certificate, role sicar.Role) sicar.Result {
		return h.engine.UpdateDevice(c, id, req, role)
	})
}

func (h *Handler) PullTelemetry(w http.ResponseWriter, r *http.Request) {
	id, err := deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h.mutate(w, r, "pull_telemetry", func(c *sicar.Certificate, role sicar.Role) sicar.Result {
		return h.engine.PullTelemetry(c, id, role)
	})
}

func (h *Handler) OverrideHealth(w http.ResponseWriter, r *http.Request) {
	id, err := deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req overrideRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.mutate(w, r, "override_health", func(c *sicar.Certificate, role sicar.Role) sicar.Result {
		return h.engine.OverrideHealth(c, id, req.Justification, role)
	})
}

func (h *Handler) AttachPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := deviceID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req sicar.PhotoInput
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.mutate(w, r, "attach_photo", func(c *sicar.Certificate, role sicar.Role) sicar.Result {
		return h.engine.AttachPhoto(c, id, req, role)
	})
}

// RecordAcceptance signs and locks the certificate
func (h *Handler) RecordAcceptance(w http.ResponseWriter, r *http.Request) {
	var req sicar.AcceptanceInput
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h.mutate(w, r, "record_acceptance", func(c *sicar.Certificate, role sicar.Role) sicar.Result {
		res := h.engine.RecordAcceptance(c, req, role)
		if res.OK() {
			metrics.RecordCertificateLocked()
		}
		return res
	})
}

// Seal timestamps the hash of a locked certificate. Sealing the same hash
// again returns the existing seal.
func (h *Handler) Seal(w http.ResponseWriter, r *http.Request) {
	if h.seals == nil {
		writeError(w, errors.Conflict("certificate sealing is not enabled"))
		return
	}
	role, err := actorRole(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var seal tsa.Seal
	f, err := h.flows.Update(r.Context(), flowID(r), func(f *store.Flow) error {
		c := f.Certificate
		if c == nil {
			return errors.NotFound("certificate", f.ID)
		}
		if !c.Immutable {
			return errors.Conflict("only accepted certificates can be sealed")
		}
		hash, err := sicar.ComputeHash(c)
		if err != nil {
			return errors.Internal(err)
		}
		for _, s := range f.Seals {
			if s.Hash == hash {
				seal = s
				return nil
			}
		}
		issued, err := h.seals.SealHash(r.Context(), hash)
		if err != nil {
			return errors.Internal(err)
		}
		seal = *issued
		f.Seals = append(f.Seals, seal)
		metrics.RecordSeal()
		return nil
	})
	metrics.RecordLifecycleOperation("seal", outcome(err))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, seal)
	h.publish(r.Context(), events.NewEvent(events.CertificatePrefix+"sealed", eventSource, f.ID, map[string]any{
		"hash":          seal.Hash,
		"serial_number": seal.SerialNumber,
	}).WithActor(string(role)))
}

// ListSeals returns the flow's seals checked against the certificate's
// current hash
func (h *Handler) ListSeals(w http.ResponseWriter, r *http.Request) {
	f, err := h.load(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if f.Certificate == nil {
		writeError(w, errors.NotFound("certificate", f.ID))
		return
	}
	hash, err := sicar.ComputeHash(f.Certificate)
	if err != nil {
		writeError(w, errors.Internal(err))
		return
	}

	out := make([]SealStatus, 0, len(f.Seals))
	for _, s := range f.Seals {
		st := SealStatus{Seal: s}
		if h.seals != nil {
			st.Verification = h.seals.Verify(s.Token, hash)
		} else {
			st.Verification = tsa.VerifyResult{Message: "certificate sealing is not enabled"}
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hash":  hash,
		"seals": out,
	})
}

// mutate runs op under the flow's write lock and persists the result
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, name string, op lifecycleOp) {
	role, err := actorRole(r)
	if err != nil {
		writeError(w, err)
		return
	}

	f, err := h.flows.Update(r.Context(), flowID(r), func(f *store.Flow) error {
		if f.Certificate == nil {
			return errors.NotFound("certificate", f.ID)
		}
		res := op(f.Certificate, role)
		if !res.OK() {
			return errors.FromViolation(string(res.Error.Kind), res.Error.Reason)
		}
		f.Certificate = res.Certificate
		return nil
	})
	metrics.RecordLifecycleOperation(name, outcome(err))
	if err != nil {
		writeError(w, err)
		return
	}

	h.respondCertificate(w, http.StatusOK, f, role)
	h.publishCertificate(r, f, role)
}

func (h *Handler) respondCertificate(w http.ResponseWriter, status int, f *store.Flow, role sicar.Role) {
	meta, err := h.authority.ForCertificate(f.Certificate, role, "")
	if err != nil {
		writeError(w, errors.Internal(err))
		return
	}
	writeJSON(w, status, CertificateResponse{FlowID: f.ID, Certificate: f.Certificate, Meta: meta})
}

// publishCertificate announces the certificate's latest audit entry
func (h *Handler) publishCertificate(r *http.Request, f *store.Flow, role sicar.Role) {
	if len(f.Certificate.Audit) == 0 {
		return
	}
	h.publishAudit(r, f, role, f.Certificate.Audit[:1])
}

// publishAudit announces audit entries, given newest first, oldest first
func (h *Handler) publishAudit(r *http.Request, f *store.Flow, role sicar.Role, entries []sicar.AuditEntry) {
	c := f.Certificate
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		eventType := entry.Action
		if !strings.HasPrefix(eventType, events.CertificatePrefix) {
			eventType = events.CertificatePrefix + eventType
		}
		h.publish(r.Context(), events.NewEvent(eventType, eventSource, f.ID, map[string]any{
			"certificate_id": c.ID,
			"stage":          c.Stage,
			"actor":          entry.Actor,
			"details":        entry.Details,
		}).WithActor(string(role)))
	}
}

func actorRole(r *http.Request) (sicar.Role, error) {
	a := auth.GetActor(r.Context())
	if a == nil {
		return "", errors.Unauthorized("authentication required")
	}
	role, err := sicar.ParseRole(a.Role)
	if err != nil {
		return "", errors.Validation(err.Error(), map[string]string{"role": "unknown"})
	}
	return role, nil
}

func deviceID(r *http.Request) (types.ID, error) {
	id, err := types.ParseID(chi.URLParam(r, "deviceID"))
	if err != nil {
		return "", errors.BadRequest("invalid device ID")
	}
	return id, nil
}

func flowID(r *http.Request) string {
	return chi.URLParam(r, "flowID")
}

// outcome labels a lifecycle result for metrics
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if appErr, ok := err.(*errors.AppError); ok {
		return strings.ToLower(appErr.Code)
	}
	return "error"
}
