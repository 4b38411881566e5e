package sicar

import (
	"errors"
	"fmt"
)

// Sentinel errors a Violation unwraps to
var (
	ErrLocked       = errors.New("certificate is locked")
	ErrStageOrder   = errors.New("stages must progress in order and cannot be skipped")
	ErrForbidden    = errors.New("action not permitted")
	ErrInvalid      = errors.New("invalid input")
	ErrUnknownValue = errors.New("unknown enumeration value")
)

// ViolationKind classifies a rejected operation
type ViolationKind string

const (
	ViolationLocked        ViolationKind = "locked"
	ViolationOrdering      ViolationKind = "ordering"
	ViolationAuthorization ViolationKind = "authorization"
	ViolationValidation    ViolationKind = "validation"
)

// Violation is an expected, recoverable rule failure
type Violation struct {
	Kind   ViolationKind `json:"kind"`
	Reason string        `json:"reason"`
}

func (v *Violation) Error() string {
	return v.Reason
}

func (v *Violation) Unwrap() error {
	switch v.Kind {
	case ViolationLocked:
		return ErrLocked
	case ViolationOrdering:
		return ErrStageOrder
	case ViolationAuthorization:
		return ErrForbidden
	default:
		return ErrInvalid
	}
}

func locked() *Violation {
	return &Violation{Kind: ViolationLocked, Reason: ErrLocked.Error()}
}

func outOfOrder() *Violation {
	return &Violation{Kind: ViolationOrdering, Reason: ErrStageOrder.Error()}
}

func forbidden(format string, args ...any) *Violation {
	return &Violation{Kind: ViolationAuthorization, Reason: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) *Violation {
	return &Violation{Kind: ViolationValidation, Reason: fmt.Sprintf(format, args...)}
}

// Result is the outcome of a lifecycle operation. On failure Certificate
// is the unchanged input and Error says why.
type Result struct {
	Certificate *Certificate `json:"certificate"`
	Error       *Violation   `json:"error,omitempty"`
}

// OK reports whether the operation succeeded
func (r Result) OK() bool {
	return r.Error == nil
}

// Err returns the violation as an error, or nil
func (r Result) Err() error {
	if r.Error == nil {
		return nil
	}
	return r.Error
}

// Field is a customer or contract field subject to the ownership matrix
type Field string

const (
	FieldCustomerName      Field = "customerName"
	FieldCustomerEmail     Field = "customerEmail"
	FieldCustomerPhone     Field = "customerPhone"
	FieldServiceAddress    Field = "serviceAddress"
	FieldQuoteID           Field = "quoteId"
	FieldAgreementID       Field = "agreementId"
	FieldInstallationJobID Field = "installationJobId"
)

// Fields lists every owned field in display order
var Fields = []Field{
	FieldCustomerName,
	FieldCustomerEmail,
	FieldCustomerPhone,
	FieldServiceAddress,
	FieldQuoteID,
	FieldAgreementID,
	FieldInstallationJobID,
}

// Ownership names the single role that owns a field and the last stage
// in which it may still edit it.
type Ownership struct {
	Role      Role
	HomeStage Stage
}

// FieldOwners is the field ownership matrix
var FieldOwners = map[Field]Ownership{
	FieldCustomerName:      {Role: RoleCustomer, HomeStage: StageLead},
	FieldCustomerEmail:     {Role: RoleCustomer, HomeStage: StageLead},
	FieldCustomerPhone:     {Role: RoleCustomer, HomeStage: StageLead},
	FieldServiceAddress:    {Role: RoleCustomer, HomeStage: StageLead},
	FieldQuoteID:           {Role: RoleQuotingSystem, HomeStage: StageQuote},
	FieldAgreementID:       {Role: RoleContractSystem, HomeStage: StageAgreement},
	FieldInstallationJobID: {Role: RoleOperations, HomeStage: StagePreinstall},
}

// CanEdit reports whether role may edit field while the certificate is at stage
func CanEdit(field Field, role Role, stage Stage) bool {
	owner, ok := FieldOwners[field]
	if !ok || owner.Role != role {
		return false
	}
	return stage.Index() >= 0 && stage.Index() <= owner.HomeStage.Index()
}

// Permission gates a non-field operation by stage and role
type Permission struct {
	Stages []Stage
	Roles  []Role
}

func (p Permission) allowsStage(s Stage) bool {
	for _, st := range p.Stages {
		if st == s {
			return true
		}
	}
	return false
}

func (p Permission) allowsRole(r Role) bool {
	for _, role := range p.Roles {
		if role == r {
			return true
		}
	}
	return false
}

// Operation names a gated lifecycle operation
type Operation string

const (
	OpManageInstallers Operation = "manage installers"
	OpAddDevice        Operation = "add devices"
	OpUpdateDevice     Operation = "update devices"
	OpPullTelemetry    Operation = "pull telemetry"
	OpOverrideHealth   Operation = "override device health"
	OpAttachPhoto      Operation = "attach photos"
	OpRecordAcceptance Operation = "record acceptance"
)

// Permissions is the stage and role matrix for every gated operation
var Permissions = map[Operation]Permission{
	OpManageInstallers: {
		Stages: []Stage{StagePreinstall},
		Roles:  []Role{RoleOperations},
	},
	OpAddDevice: {
		Stages: []Stage{StageInstallation},
		Roles:  []Role{RoleInstaller},
	},
	OpUpdateDevice: {
		Stages: []Stage{StageInstallation, StagePostinstall},
		Roles:  []Role{RoleInstaller, RoleSystem},
	},
	OpPullTelemetry: {
		Stages: []Stage{StageInstallation, StagePostinstall},
		Roles:  []Role{RoleSystem},
	},
	OpOverrideHealth: {
		Stages: []Stage{StageInstallation, StagePostinstall},
		Roles:  []Role{RoleInstaller, RoleSystem},
	},
	OpAttachPhoto: {
		Stages: []Stage{StageInstallation},
		Roles:  []Role{RoleInstaller},
	},
	OpRecordAcceptance: {
		Stages: []Stage{StageAcceptance},
		Roles:  []Role{RoleCustomer},
	},
}

// authorize checks the lock, the role and the permission matrix in that
// order.
func authorize(c *Certificate, op Operation, role Role) *Violation {
	if c.Immutable {
		return locked()
	}
	if !role.Valid() {
		return invalid("unknown role %q", role)
	}
	p := Permissions[op]
	if !p.allowsRole(role) {
		return forbidden("role %s cannot %s", role, op)
	}
	if !p.allowsStage(c.Stage) {
		return forbidden("cannot %s during the %s stage", op, c.Stage)
	}
	return nil
}
