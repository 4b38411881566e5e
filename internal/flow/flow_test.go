package flow

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kaec/docauthority/internal/authority"
	"github.com/kaec/docauthority/internal/catalog"
	"github.com/kaec/docauthority/internal/document"
	"github.com/kaec/docauthority/internal/shared/auth"
	"github.com/kaec/docauthority/internal/shared/config"
	"github.com/kaec/docauthority/internal/shared/events"
	"github.com/kaec/docauthority/internal/sicar"
	"github.com/kaec/docauthority/internal/store"
	"github.com/kaec/docauthority/internal/tsa"
)

type fixture struct {
	t      *testing.T
	bus    *events.Recorder
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	seals, err := tsa.NewServerWithGeneratedCert("KAEC Test")
	if err != nil {
		t.Fatalf("Failed to create seal server: %v", err)
	}

	svc := authority.NewService(document.NewCodec(catalog.Default()), authority.Config{BaseURL: "https://kaec.example.com"})
	bus := events.NewRecorder()
	h := NewHandler(store.NewWriter(store.NewMemoryStore()), svc, sicar.NewEngine(), Options{
		Seals:    seals,
		Bus:      bus,
		Vertical: catalog.VerticalElderCare,
	})
	h.now = func() time.Time { return time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC) }

	r := chi.NewRouter()
	r.Use(auth.Middleware(config.AuthConfig{JWTSecret: "test", AllowRoleHeader: true}))
	r.Mount("/flows", h.Routes())
	return &fixture{t: t, bus: bus, router: r}
}

// do sends a request acting as role ("" for anonymous) and decodes the
// response into out when it is non-nil
func (f *fixture) do(method, path, role string, body, out any) int {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, "/flows"+path, &buf)
	if role != "" {
		req.Header.Set(auth.RoleHeader, role)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if out != nil {
		if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
			f.t.Fatalf("Failed to decode %s %s response: %v", method, path, err)
		}
	}
	return rec.Code
}

func (f *fixture) createQuote() DocumentResponse {
	f.t.Helper()
	var resp DocumentResponse
	code := f.do(http.MethodPost, "/", "", map[string]any{
		"tier_id":    "A2",
		"add_on_ids": []string{"gentle-checkin"},
		"customer": map[string]string{
			"name":             "Ana Petrovic",
			"email":            "ana@example.com",
			"property_address": "1 Harbour Rd",
		},
	}, &resp)
	if code != http.StatusCreated {
		f.t.Fatalf("Expected 201 creating quote, got %d", code)
	}
	return resp
}

func TestQuoteAndAgreementFlow(t *testing.T) {
	f := newFixture(t)
	created := f.createQuote()

	if created.Quote.Vertical != catalog.VerticalElderCare {
		t.Errorf("Expected default vertical, got %s", created.Quote.Vertical)
	}
	if created.Meta.Hash != created.Quote.Hash || created.Meta.Token == "" {
		t.Errorf("Expected meta for the issued quote, got %+v", created.Meta)
	}
	id := created.FlowID

	var revised DocumentResponse
	code := f.do(http.MethodPost, "/"+id+"/quote", "", map[string]any{
		"tier_id":    "A2",
		"add_on_ids": []string{"gentle-checkin", "door-awareness"},
	}, &revised)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201 revising quote, got %d", code)
	}
	if revised.Quote.PriorHash != created.Quote.Hash {
		t.Errorf("Expected revision to supersede %s, got %s", created.Quote.Hash, revised.Quote.PriorHash)
	}
	if revised.Meta.Supersedes != created.Quote.Hash {
		t.Error("Expected meta to show the superseded hash")
	}

	var agreement DocumentResponse
	if code := f.do(http.MethodPost, "/"+id+"/agreement", "", nil, &agreement); code != http.StatusCreated {
		t.Fatalf("Expected 201 issuing agreement, got %d", code)
	}
	if !agreement.Meta.Provisional {
		t.Error("Expected unsigned agreement to be provisional")
	}
	if agreement.Agreement.Quote.Hash != revised.Quote.Hash {
		t.Error("Expected agreement bound to the revised quote")
	}

	var signed DocumentResponse
	code = f.do(http.MethodPost, "/"+id+"/agreement/sign", "", map[string]any{
		"signer_name": "Ana Petrovic",
		"accepted":    true,
	}, &signed)
	if code != http.StatusOK {
		t.Fatalf("Expected 200 signing agreement, got %d", code)
	}
	if signed.Meta.Provisional || signed.Agreement.Hash == agreement.Agreement.Hash {
		t.Error("Expected signing to finalize and re-hash the agreement")
	}

	if code := f.do(http.MethodPost, "/"+id+"/agreement/sign", "", map[string]any{"signer_name": "Ana"}, nil); code != http.StatusConflict {
		t.Errorf("Expected 409 signing twice, got %d", code)
	}
	if code := f.do(http.MethodPost, "/"+id+"/quote", "", map[string]any{"tier_id": "A2"}, nil); code != http.StatusConflict {
		t.Errorf("Expected 409 revising after signature, got %d", code)
	}

	var flow store.Flow
	f.do(http.MethodGet, "/"+id, "", nil, &flow)
	if len(flow.Superseded) != 1 || flow.Superseded[0] != created.Quote.Hash {
		t.Errorf("Expected superseded chain [%s], got %v", created.Quote.Hash, flow.Superseded)
	}

	for _, typ := range []string{events.QuoteIssued, events.QuoteRevised, events.AgreementIssued, events.AgreementSigned} {
		if got := len(f.bus.Events(typ)); got != 1 {
			t.Errorf("Expected 1 %s event, got %d", typ, got)
		}
	}
}

func TestDocumentErrors(t *testing.T) {
	f := newFixture(t)
	id := f.createQuote().FlowID

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"Unknown tier", http.MethodPost, "/", map[string]any{"tier_id": "Z9"}, http.StatusUnprocessableEntity},
		{"Unknown vertical", http.MethodPost, "/", map[string]any{"tier_id": "A2", "vertical": "pets"}, http.StatusUnprocessableEntity},
		{"Malformed body", http.MethodPost, "/", "not an object", http.StatusBadRequest},
		{"Unknown flow", http.MethodGet, "/missing", nil, http.StatusNotFound},
		{"Sign without agreement", http.MethodPost, "/" + id + "/agreement/sign", map[string]any{"signer_name": "Ana"}, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := f.do(tt.method, tt.path, "", tt.body, nil); code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, code)
			}
		})
	}

	f.do(http.MethodPost, "/"+id+"/agreement", "", nil, nil)
	if code := f.do(http.MethodPost, "/"+id+"/agreement/sign", "", map[string]any{"signer_name": "  "}, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for blank signer, got %d", code)
	}
}

func TestReissueAgreementSupersedes(t *testing.T) {
	f := newFixture(t)
	id := f.createQuote().FlowID

	var first, same, second DocumentResponse
	f.do(http.MethodPost, "/"+id+"/agreement", "", nil, &first)
	f.do(http.MethodPost, "/"+id+"/agreement", "", nil, &same)
	if same.Agreement.Hash != first.Agreement.Hash {
		t.Error("Expected re-issuing for the same quote to keep the agreement")
	}

	f.do(http.MethodPost, "/"+id+"/quote", "", map[string]any{"tier_id": "A2", "add_on_ids": []string{"door-awareness"}}, nil)

	// the old agreement can no longer be signed
	if code := f.do(http.MethodPost, "/"+id+"/agreement/sign", "", map[string]any{"signer_name": "Ana"}, nil); code != http.StatusConflict {
		t.Errorf("Expected 409 signing a stale agreement, got %d", code)
	}

	f.do(http.MethodPost, "/"+id+"/agreement", "", nil, &second)
	if second.Agreement.PriorHash != first.Agreement.Hash {
		t.Errorf("Expected new agreement to supersede %s, got %s", first.Agreement.Hash, second.Agreement.PriorHash)
	}
	if second.Meta.Supersedes != first.Agreement.Hash {
		t.Error("Expected meta to show the superseded agreement")
	}
	if second.Agreement.Quote.Hash == first.Agreement.Quote.Hash {
		t.Error("Expected new agreement bound to the revised quote")
	}
}

func TestCertificateLifecycle(t *testing.T) {
	f := newFixture(t)
	id := f.createQuote().FlowID
	base := "/" + id + "/certificate"

	if code := f.do(http.MethodPost, base, "", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without a role, got %d", code)
	}

	var resp CertificateResponse
	if code := f.do(http.MethodPost, base, "sales", nil, &resp); code != http.StatusCreated {
		t.Fatalf("Expected 201 creating certificate, got %d", code)
	}
	c := resp.Certificate
	if c.Stage != sicar.StageLead || c.Customer.Name != "Ana Petrovic" || c.QuoteID == "" {
		t.Errorf("Expected lead certificate bound to the quote, got %+v", c)
	}
	if code := f.do(http.MethodPost, base, "sales", nil, nil); code != http.StatusConflict {
		t.Errorf("Expected 409 creating a second certificate, got %d", code)
	}

	// installer, phone unset: created, then name, email, address, quote id
	if len(c.Audit) != 5 {
		t.Fatalf("Expected 5 audit entries after creation, got %d", len(c.Audit))
	}
	for _, entry := range c.Audit[:4] {
		owner := sicar.FieldOwners[sicar.Field(entry.Details["field"])].Role
		if entry.Action != sicar.ActionFieldUpdated || entry.Actor != owner {
			t.Errorf("Expected binding written by its owner, got %+v", entry)
		}
		if entry.Details["bound_by"] != "sales" {
			t.Errorf("Expected bound_by sales, got %v", entry.Details)
		}
	}
	if c.Audit[0].Details["field"] != string(sicar.FieldQuoteID) || c.Audit[0].Details["value"] != c.QuoteID {
		t.Errorf("Expected quote id binding to be logged, got %v", c.Audit[0].Details)
	}
	if got := len(f.bus.Events(events.CertificatePrefix + sicar.ActionFieldUpdated)); got != 4 {
		t.Errorf("Expected 4 binding events, got %d", got)
	}

	if code := f.do(http.MethodPut, base+"/fields/customerPhone", "customer", map[string]string{"value": "555-0100"}, nil); code != http.StatusOK {
		t.Errorf("Expected customer to edit own field, got %d", code)
	}
	if code := f.do(http.MethodPut, base+"/fields/customerPhone", "sales", map[string]string{"value": "x"}, nil); code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-owner, got %d", code)
	}

	var skipped map[string]any
	if code := f.do(http.MethodPost, base+"/advance", "system", map[string]string{"stage": "agreement"}, &skipped); code != http.StatusConflict {
		t.Errorf("Expected 409 skipping a stage, got %d", code)
	}
	if skipped["code"] != "STAGE_ORDER" {
		t.Errorf("Expected STAGE_ORDER code, got %v", skipped["code"])
	}

	advance := func(stage string) {
		t.Helper()
		if code := f.do(http.MethodPost, base+"/advance", "system", map[string]string{"stage": stage}, nil); code != http.StatusOK {
			t.Fatalf("Expected 200 advancing to %s, got %d", stage, code)
		}
	}
	advance("quote")
	advance("agreement")
	advance("preinstall")

	if code := f.do(http.MethodPost, base+"/installers", "operations", map[string]string{"name": "Marko"}, nil); code != http.StatusOK {
		t.Errorf("Expected operations to add installer, got %d", code)
	}
	if code := f.do(http.MethodPost, base+"/installers", "operations", map[string]string{"name": "Crew A/B"}, nil); code != http.StatusOK {
		t.Errorf("Expected operations to add installer, got %d", code)
	}
	if code := f.do(http.MethodDelete, base+"/installers?name="+url.QueryEscape("Crew A/B"), "operations", nil, &resp); code != http.StatusOK {
		t.Errorf("Expected operations to remove installer, got %d", code)
	}
	if len(resp.Certificate.Installers) != 1 || resp.Certificate.Installers[0] != "Marko" {
		t.Errorf("Expected roster [Marko], got %v", resp.Certificate.Installers)
	}
	if code := f.do(http.MethodDelete, base+"/installers", "operations", nil, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 removing without a name, got %d", code)
	}
	advance("installation")

	if code := f.do(http.MethodPost, base+"/devices", "installer", map[string]string{"system_name": "Motion", "model": "MS-2"}, &resp); code != http.StatusOK {
		t.Fatalf("Expected installer to add device, got %d", code)
	}
	deviceID := resp.Certificate.Devices[0].ID
	if code := f.do(http.MethodPost, base+"/devices/"+deviceID.String()+"/telemetry", "system", nil, &resp); code != http.StatusOK {
		t.Errorf("Expected telemetry pull, got %d", code)
	}
	if resp.Certificate.Devices[0].Health.Power != sicar.HealthOK {
		t.Errorf("Expected power ok after telemetry, got %s", resp.Certificate.Devices[0].Health.Power)
	}
	if code := f.do(http.MethodPost, base+"/devices/not-a-uuid/telemetry", "system", nil, nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed device id, got %d", code)
	}

	if code := f.do(http.MethodPost, base+"/seal", "system", nil, nil); code != http.StatusConflict {
		t.Errorf("Expected 409 sealing an open certificate, got %d", code)
	}

	advance("postinstall")
	advance("acceptance")

	if code := f.do(http.MethodPost, base+"/acceptance", "customer", map[string]string{
		"signer_name": "Ana Petrovic",
		"signature":   "data:image/png;base64,AAAA",
	}, &resp); code != http.StatusOK {
		t.Fatalf("Expected 200 recording acceptance, got %d", code)
	}
	if !resp.Certificate.Immutable || resp.Meta.Provisional {
		t.Error("Expected accepted certificate to be locked and final")
	}

	if code := f.do(http.MethodPost, base+"/installers", "operations", map[string]string{"name": "Late"}, nil); code != http.StatusConflict {
		t.Errorf("Expected 409 editing a locked certificate, got %d", code)
	}

	var seal, again tsa.Seal
	if code := f.do(http.MethodPost, base+"/seal", "system", nil, &seal); code != http.StatusOK {
		t.Fatalf("Expected 200 sealing, got %d", code)
	}
	f.do(http.MethodPost, base+"/seal", "system", nil, &again)
	if again.SerialNumber != seal.SerialNumber {
		t.Error("Expected sealing the same hash to return the existing seal")
	}

	var seals struct {
		Hash  string       `json:"hash"`
		Seals []SealStatus `json:"seals"`
	}
	f.do(http.MethodGet, base+"/seals", "", nil, &seals)
	if len(seals.Seals) != 1 || !seals.Seals[0].Verification.Valid {
		t.Errorf("Expected one valid seal, got %+v", seals.Seals)
	}
	if seals.Hash != seal.Hash || resp.Meta.Hash != seal.Hash {
		t.Errorf("Expected seal over the certificate hash %s, got %s", resp.Meta.Hash, seal.Hash)
	}

	if got := len(f.bus.Events(events.CertificatePrefix + sicar.ActionAcceptanceRecorded)); got != 1 {
		t.Errorf("Expected 1 acceptance event, got %d", got)
	}
	if got := len(f.bus.Events(sicar.ActionCreated)); got != 1 {
		t.Errorf("Expected 1 created event, got %d", got)
	}
}

func TestGetCertificate(t *testing.T) {
	f := newFixture(t)
	id := f.createQuote().FlowID

	if code := f.do(http.MethodGet, "/"+id+"/certificate", "", nil, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 before creation, got %d", code)
	}

	f.do(http.MethodPost, "/"+id+"/certificate", "sales", nil, nil)

	var resp CertificateResponse
	if code := f.do(http.MethodGet, "/"+id+"/certificate", "", nil, &resp); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if resp.Meta.DocType != document.DocumentTypeSICAR || !resp.Meta.Provisional {
		t.Errorf("Expected provisional SICAR meta, got %+v", resp.Meta)
	}
	if code := f.do(http.MethodPost, "/"+id+"/certificate/advance", "wizard", map[string]string{"stage": "quote"}, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for unknown role, got %d", code)
	}
}

func TestListEvents(t *testing.T) {
	f := newFixture(t)
	id := f.createQuote().FlowID
	f.do(http.MethodPost, "/"+id+"/agreement", "", nil, nil)

	var resp struct {
		FlowID string         `json:"flow_id"`
		Events []events.Event `json:"events"`
	}
	if code := f.do(http.MethodGet, "/"+id+"/events", "", nil, &resp); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(resp.Events))
	}
	if resp.Events[0].Type != events.QuoteIssued || resp.Events[1].Type != events.AgreementIssued {
		t.Errorf("Unexpected event order %s, %s", resp.Events[0].Type, resp.Events[1].Type)
	}

	if code := f.do(http.MethodGet, "/"+id+"/events?limit=1", "", nil, &resp); code != http.StatusOK || len(resp.Events) != 1 {
		t.Errorf("Expected 1 event with limit, got %d (%d)", len(resp.Events), code)
	}
	if code := f.do(http.MethodGet, "/"+id+"/events?limit=0", "", nil, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for zero limit, got %d", code)
	}
	if code := f.do(http.MethodGet, "/missing/events", "", nil, nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown flow, got %d", code)
	}
}

func TestCertificateAgreementBinding(t *testing.T) {
	tests := []struct {
		name       string
		sign       map[string]any
		status     int
		wantAgreed bool
	}{
		{"Unsigned agreement", nil, http.StatusCreated, false},
		{"Accepted agreement", map[string]any{"signer_name": "Ana Petrovic", "accepted": true}, http.StatusCreated, true},
		{"Declined agreement", map[string]any{"signer_name": "Ana Petrovic", "accepted": false}, http.StatusConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.createQuote().FlowID
			f.do(http.MethodPost, "/"+id+"/agreement", "", nil, nil)
			if tt.sign != nil {
				if code := f.do(http.MethodPost, "/"+id+"/agreement/sign", "", tt.sign, nil); code != http.StatusOK {
					t.Fatalf("Expected 200 signing, got %d", code)
				}
			}

			var resp CertificateResponse
			code := f.do(http.MethodPost, "/"+id+"/certificate", "sales", nil, &resp)
			if code != tt.status {
				t.Fatalf("Expected %d, got %d", tt.status, code)
			}
			if code != http.StatusCreated {
				var flow store.Flow
				f.do(http.MethodGet, "/"+id, "", nil, &flow)
				if flow.Certificate != nil {
					t.Error("Expected no certificate to be stored")
				}
				return
			}
			if got := resp.Certificate.AgreementID != ""; got != tt.wantAgreed {
				t.Errorf("Expected agreement bound %v, got %q", tt.wantAgreed, resp.Certificate.AgreementID)
			}
		})
	}
}
