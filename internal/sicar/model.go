// Package sicar implements the installation-acceptance certificate: its
// role-gated lifecycle, bounded audit log and hash payload.
package sicar

import (
	"fmt"
	"time"

	"github.com/kaec/docauthority/internal/shared/types"
)

// Stage is a lifecycle stage of a certificate
type Stage string

const (
	StageLead         Stage = "lead"
	StageQuote        Stage = "quote"
	StageAgreement    Stage = "agreement"
	StagePreinstall   Stage = "preinstall"
	StageInstallation Stage = "installation"
	StagePostinstall  Stage = "postinstall"
	StageAcceptance   Stage = "acceptance"
)

// Stages lists every stage in lifecycle order
var Stages = []Stage{
	StageLead,
	StageQuote,
	StageAgreement,
	StagePreinstall,
	StageInstallation,
	StagePostinstall,
	StageAcceptance,
}

// Index returns the position of the stage in the lifecycle, or -1
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i == len(Stages)-1 {
		return "", false
	}
	return Stages[i+1], true
}

// ParseStage parses a stage name
func ParseStage(s string) (Stage, error) {
	if st := Stage(s); st.Index() >= 0 {
		return st, nil
	}
	return "", fmt.Errorf("stage %q: %w", s, ErrUnknownValue)
}

// Role is an actor acting on a certificate
type Role string

const (
	RoleCustomer       Role = "customer"
	RoleSales          Role = "sales"
	RoleQuotingSystem  Role = "quoting-system"
	RoleContractSystem Role = "contract-system"
	RoleOperations     Role = "operations"
	RoleInstaller      Role = "installer"
	RoleSystem         Role = "system"
)

// Roles lists every known role
var Roles = []Role{
	RoleCustomer,
	RoleSales,
	RoleQuotingSystem,
	RoleContractSystem,
	RoleOperations,
	RoleInstaller,
	RoleSystem,
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole parses a role name
func ParseRole(s string) (Role, error) {
	if r := Role(s); r.Valid() {
		return r, nil
	}
	return "", fmt.Errorf("role %q: %w", s, ErrUnknownValue)
}

// HealthState is a tri-state device health channel
type HealthState string

const (
	HealthUnknown HealthState = "unknown"
	HealthOK      HealthState = "ok"
	HealthFail    HealthState = "fail"
)

// Valid reports whether h is a known state
func (h HealthState) Valid() bool {
	return h == HealthUnknown || h == HealthOK || h == HealthFail
}

// Health is a device health snapshot
type Health struct {
	Power                 HealthState `json:"power"`
	Connectivity          HealthState `json:"connectivity"`
	Battery               HealthState `json:"battery"`
	Functional            HealthState `json:"functional"`
	ManualOverride        bool        `json:"manual_override"`
	OverrideJustification string      `json:"override_justification,omitempty"`
	LastCheckedAt         *time.Time  `json:"last_checked_at,omitempty"`
}

func unknownHealth() Health {
	return Health{
		Power:        HealthUnknown,
		Connectivity: HealthUnknown,
		Battery:      HealthUnknown,
		Functional:   HealthUnknown,
	}
}

// Photo is a piece of photo evidence attached to a device
type Photo struct {
	ID      types.ID  `json:"id"`
	URI     string    `json:"uri"`
	Caption string    `json:"caption,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Device is one installed device
type Device struct {
	ID                types.ID  `json:"id"`
	SystemName        string    `json:"system_name"`
	Manufacturer      string    `json:"manufacturer"`
	Make              string    `json:"make"`
	Model             string    `json:"model"`
	PartNumber        string    `json:"part_number"`
	SerialNumber      string    `json:"serial_number"`
	Purpose           string    `json:"purpose"`
	PlannedLocation   string    `json:"planned_location"`
	InstalledLocation string    `json:"installed_location"`
	Health            Health    `json:"health"`
	Photos            []Photo   `json:"photos"`
	Attestation       string    `json:"attestation"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Acceptance is the customer's signed acceptance of the installation
type Acceptance struct {
	SignerName          string    `json:"signer_name"`
	Signature           string    `json:"signature"`
	SignedAt            time.Time `json:"signed_at"`
	RepresentativeTitle string    `json:"representative_title,omitempty"`
}

// AuditEntry is an immutable record of one mutation
type AuditEntry struct {
	ID        types.ID          `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Actor     Role              `json:"actor"`
	Action    string            `json:"action"`
	Details   map[string]string `json:"details,omitempty"`
}

// Customer holds the customer-owned contact fields
type Customer struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	ServiceAddress string `json:"service_address"`
}

// Certificate is the installation-acceptance record. Operations on it
// never modify the value passed in; they return a new record.
type Certificate struct {
	ID        types.ID `json:"id"`
	Stage     Stage    `json:"stage"`
	Immutable bool     `json:"immutable"`

	Customer Customer `json:"customer"`

	// Bindings to the documents and jobs this certificate belongs to
	QuoteID           string `json:"quote_id"`
	AgreementID       string `json:"agreement_id"`
	InstallationJobID string `json:"installation_job_id"`

	Installers []string     `json:"installers"`
	Devices    []Device     `json:"devices"`
	Acceptance *Acceptance  `json:"acceptance,omitempty"`
	Audit      []AuditEntry `json:"audit"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Device finds a device by id
func (c *Certificate) Device(id types.ID) (*Device, int) {
	for i := range c.Devices {
		if c.Devices[i].ID == id {
			return &c.Devices[i], i
		}
	}
	return nil, -1
}

// Clone returns a deep copy of the certificate
func (c *Certificate) Clone() *Certificate {
	out := *c
	if c.Installers != nil {
		out.Installers = append([]string{}, c.Installers...)
	}

	out.Devices = nil
	if c.Devices != nil {
		out.Devices = make([]Device, len(c.Devices))
	}
	for i, d := range c.Devices {
		if d.Photos != nil {
			d.Photos = append([]Photo{}, d.Photos...)
		}
		if d.Health.LastCheckedAt != nil {
			at := *d.Health.LastCheckedAt
			d.Health.LastCheckedAt = &at
		}
		out.Devices[i] = d
	}

	if c.Acceptance != nil {
		acc := *c.Acceptance
		out.Acceptance = &acc
	}

	out.Audit = nil
	if c.Audit != nil {
		out.Audit = make([]AuditEntry, len(c.Audit))
	}
	for i, e := range c.Audit {
		if e.Details != nil {
			details := make(map[string]string, len(e.Details))
			for k, v := range e.Details {
				details[k] = v
			}
			e.Details = details
		}
		out.Audit[i] = e
	}
	return &out
}

// --- Request types ---

type DeviceInput struct {
	SystemName        string `json:"system_name"`
	Manufacturer      string `json:"manufacturer"`
	Make              string `json:"make"`
	Model             string `json:"model"`
	PartNumber        string `json:"part_number"`
	SerialNumber      string `json:"serial_number"`
	Purpose           string `json:"purpose"`
	PlannedLocation   string `json:"planned_location"`
	InstalledLocation string `json:"installed_location"`
	Attestation       string `json:"attestation"`
}

// DevicePatch updates only the fields that are set
type DevicePatch struct {
	SystemName        *string `json:"system_name,omitempty"`
	Manufacturer      *string `json:"manufacturer,omitempty"`
	Make              *string `json:"make,omitempty"`
	Model             *string `json:"model,omitempty"`
	PartNumber        *string `json:"part_number,omitempty"`
	SerialNumber      *string `json:"serial_number,omitempty"`
	Purpose           *string `json:"purpose,omitempty"`
	PlannedLocation   *string `json:"planned_location,omitempty"`
	InstalledLocation *string `json:"installed_location,omitempty"`
	Attestation       *string `json:"attestation,omitempty"`
}

type PhotoInput struct {
	URI     string `json:"uri"`
	Caption string `json:"caption"`
}

type AcceptanceInput struct {
	SignerName          string `json:"signer_name"`
	Signature           string `json:"signature"`
	RepresentativeTitle string `json:"representative_title"`
}
