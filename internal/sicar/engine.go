package sicar

import (
	"strings"
	"time"

	"github.com/kaec/docauthority/internal/shared/types"
)

// Engine applies lifecycle operations to certificates. It holds no
// certificate state; every operation takes a snapshot and returns a new
// record. Hosts must serialize writes to the same certificate.
type Engine struct {
	now   func() time.Time
	newID func() types.ID
}

// NewEngine creates an engine using the wall clock and random ids
func NewEngine() *Engine {
	return &Engine{
		now:   func() time.Time { return time.Now().UTC() },
		newID: types.NewID,
	}
}

// New creates a certificate in the lead stage
func (e *Engine) New(actor Role) Result {
	now := e.now()
	c := &Certificate{
		ID:         e.newID(),
		Stage:      StageLead,
		Installers: []string{},
		Devices:    []Device{},
		Audit:      []AuditEntry{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if !actor.Valid() {
		return Result{Certificate: c, Error: invalid("unknown role %q", actor)}
	}
	c.Audit = prependAudit(c.Audit, e.newID(), now, actor, ActionCreated, nil)
	return Result{Certificate: c}
}

// commit stamps the mutation on next and records it in the audit log
func (e *Engine) commit(next *Certificate, actor Role, action string, details map[string]string) Result {
	now := e.now()
	next.UpdatedAt = now
	next.Audit = prependAudit(next.Audit, e.newID(), now, actor, action, details)
	return Result{Certificate: next}
}

func reject(c *Certificate, v *Violation) Result {
	return Result{Certificate: c, Error: v}
}

// Advance moves the certificate to the stage directly after its current one
func (e *Engine) Advance(c *Certificate, next Stage, actor Role) Result {
	if c.Immutable {
		return reject(c, locked())
	}
	if !actor.Valid() {
		return reject(c, invalid("unknown role %q", actor))
	}
	want, ok := c.Stage.Next()
	if !ok || next != want {
		return reject(c, outOfOrder())
	}

	out := c.Clone()
	out.Stage = next
	return e.commit(out, actor, StageAction(next), map[string]string{
		"from": string(c.Stage),
		"to":   string(next),
	})
}

// UpdateField sets an ownership-gated customer or contract field
func (e *Engine) UpdateField(c *Certificate, field Field, value string, actor Role) Result {
	if c.Immutable {
		return reject(c, locked())
	}
	if !actor.Valid() {
		return reject(c, invalid("unknown role %q", actor))
	}
	owner, ok := FieldOwners[field]
	if !ok {
		return reject(c, invalid("unknown field %q", field))
	}
	if owner.Role != actor {
		return reject(c, forbidden("%s is owned by role %s", field, owner.Role))
	}
	if !CanEdit(field, actor, c.Stage) {
		return reject(c, forbidden("%s can no longer be edited after the %s stage", field, owner.HomeStage))
	}

	return e.setField(c, field, value, actor, nil)
}

// Bindings are field values copied onto a new certificate from the
// documents it belongs to
type Bindings map[Field]string

// NewBound creates a certificate in the lead stage and seeds it with
// bindings. Each value is written as the role that owns its field and
// logged with the creating actor under "bound_by". Empty values are skipped.
func (e *Engine) NewBound(actor Role, b Bindings) Result {
	for field := range b {
		if _, ok := FieldOwners[field]; !ok {
			return Result{Error: invalid("unknown field %q", field)}
		}
	}

	res := e.New(actor)
	if !res.OK() {
		return res
	}
	c := res.Certificate
	for _, field := range Fields {
		value := strings.TrimSpace(b[field])
		if value == "" {
			continue
		}
		owner := FieldOwners[field]
		if !CanEdit(field, owner.Role, c.Stage) {
			return reject(c, forbidden("%s can no longer be edited after the %s stage", field, owner.HomeStage))
		}
		res = e.setField(c, field, value, owner.Role, map[string]string{"bound_by": string(actor)})
		c = res.Certificate
	}
	return res
}

// setField writes a field on a copy of c and logs it. Callers check
// ownership first.
func (e *Engine) setField(c *Certificate, field Field, value string, actor Role, extra map[string]string) Result {
	out := c.Clone()
	switch field {
	case FieldCustomerName:
		out.Customer.Name = value
	case FieldCustomerEmail:
		out.Customer.Email = value
	case FieldCustomerPhone:
		out.Customer.Phone = value
	case FieldServiceAddress:
		out.Customer.ServiceAddress = value
	case FieldQuoteID:
		out.QuoteID = value
	case FieldAgreementID:
		out.AgreementID = value
	case FieldInstallationJobID:
		out.InstallationJobID = value
	}

	details := map[string]string{
		"field": string(field),
		"value": value,
	}
	for k, v := range extra {
		details[k] = v
	}
	return e.commit(out, actor, ActionFieldUpdated, details)
}

// AddInstaller adds a name to the installer roster
func (e *Engine) AddInstaller(c *Certificate, name string, actor Role) Result {
	if v := authorize(c, OpManageInstallers, actor); v != nil {
		return reject(c, v)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return reject(c, invalid("installer name is required"))
	}
	for _, existing := range c.Installers {
		if existing == name {
			return reject(c, invalid("installer %q is already on the roster", name))
		}
	}

	out := c.Clone()
	out.Installers = append(out.Installers, name)
	return e.commit(out, actor, ActionInstallerAdded, map[string]string{"installer": name})
}

// RemoveInstaller removes a name from the installer roster
func (e *Engine) RemoveInstaller(c *Certificate, name string, actor Role) Result {
	if v := authorize(c, OpManageInstallers, actor); v != nil {
		return reject(c, v)
	}
	name = strings.TrimSpace(name)

	idx := -1
	for i, existing := range c.Installers {
		if existing == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return reject(c, invalid("installer %q is not on the roster", name))
	}

	out := c.Clone()
	out.Installers = append(out.Installers[:idx], out.Installers[idx+1:]...)
	return e.commit(out, actor, ActionInstallerRemoved, map[string]string{"installer": name})
}

// AddDevice records a newly installed device
func (e *Engine) AddDevice(c *Certificate, in DeviceInput, actor Role) Result {
	if v := authorize(c, OpAddDevice, actor); v != nil {
		return reject(c, v)
	}
	if strings.TrimSpace(in.SystemName) == "" {
		return reject(c, invalid("device system name is required"))
	}

	now := e.now()
	d := Device{
		ID:                e.newID(),
		SystemName:        in.SystemName,
		Manufacturer:      in.Manufacturer,
		Make:              in.Make,
		Model:             in.Model,
		PartNumber:        in.PartNumber,
		SerialNumber:      in.SerialNumber,
		Purpose:           in.Purpose,
		PlannedLocation:   in.PlannedLocation,
		InstalledLocation: in.InstalledLocation,
		Health:            unknownHealth(),
		Photos:            []Photo{},
		Attestation:       in.Attestation,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	out := c.Clone()
	out.Devices = append(out.Devices, d)
	return e.commit(out, actor, ActionDeviceAdded, map[string]string{
		"device_id":   d.ID.String(),
		"system_name": d.SystemName,
	})
}

// UpdateDevice applies a partial update to a device
func (e *Engine) UpdateDevice(c *Certificate, id types.ID, patch DevicePatch, actor Role) Result {
	if v := authorize(c, OpUpdateDevice, actor); v != nil {
		return reject(c, v)
	}
	if patch.SystemName != nil && strings.TrimSpace(*patch.SystemName) == "" {
		return reject(c, invalid("device system name is required"))
	}

	out := c.Clone()
	d, _ := out.Device(id)
	if d == nil {
		return reject(c, invalid("device %s not found", id))
	}

	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&d.SystemName, patch.SystemName)
	set(&d.Manufacturer, patch.Manufacturer)
	set(&d.Make, patch.Make)
	set(&d.Model, patch.Model)
	set(&d.PartNumber, patch.PartNumber)
	set(&d.SerialNumber, patch.SerialNumber)
	set(&d.Purpose, patch.Purpose)
	set(&d.PlannedLocation, patch.PlannedLocation)
	set(&d.InstalledLocation, patch.InstalledLocation)
	set(&d.Attestation, patch.Attestation)
	d.UpdatedAt = e.now()

	return e.commit(out, actor, ActionDeviceUpdated, map[string]string{"device_id": id.String()})
}

// PullTelemetry marks every health channel ok as reported by the
// monitoring platform and clears any manual override.
func (e *Engine) PullTelemetry(c *Certificate, id types.ID, actor Role) Result {
	if v := authorize(c, OpPullTelemetry, actor); v != nil {
		return reject(c, v)
	}

	out := c.Clone()
	d, _ := out.Device(id)
	if d == nil {
		return reject(c, invalid("device %s not found", id))
	}

	now := e.now()
	d.Health = Health{
		Power:         HealthOK,
		Connectivity:  HealthOK,
		Battery:       HealthOK,
		Functional:    HealthOK,
		LastCheckedAt: &now,
	}
	d.UpdatedAt = now

	return e.commit(out, actor, ActionTelemetryPulled, map[string]string{"device_id": id.String()})
}

// OverrideHealth marks a device as functionally failed by hand
func (e *Engine) OverrideHealth(c *Certificate, id types.ID, justification string, actor Role) Result {
	if v := authorize(c, OpOverrideHealth, actor); v != nil {
		return reject(c, v)
	}
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return reject(c, invalid("a manual override requires a justification"))
	}

	out := c.Clone()
	d, _ := out.Device(id)
	if d == nil {
		return reject(c, invalid("device %s not found", id))
	}

	d.Health.Functional = HealthFail
	d.Health.ManualOverride = true
	d.Health.OverrideJustification = justification
	d.UpdatedAt = e.now()

	return e.commit(out, actor, ActionHealthOverridden, map[string]string{
		"device_id":     id.String(),
		"justification": justification,
	})
}

// AttachPhoto adds photo evidence to a device
func (e *Engine) AttachPhoto(c *Certificate, id types.ID, in PhotoInput, actor Role) Result {
	if v := authorize(c, OpAttachPhoto, actor); v != nil {
		return reject(c, v)
	}
	if strings.TrimSpace(in.URI) == "" {
		return reject(c, invalid("photo uri is required"))
	}

	out := c.Clone()
	d, _ := out.Device(id)
	if d == nil {
		return reject(c, invalid("device %s not found", id))
	}

	now := e.now()
	photo := Photo{ID: e.newID(), URI: in.URI, Caption: in.Caption, AddedAt: now}
	d.Photos = append(d.Photos, photo)
	d.UpdatedAt = now

	return e.commit(out, actor, ActionPhotoAttached, map[string]string{
		"device_id": id.String(),
		"photo_id":  photo.ID.String(),
	})
}

// RecordAcceptance stores the customer's signature and locks the
// certificate.
func (e *Engine) RecordAcceptance(c *Certificate, in AcceptanceInput, actor Role) Result {
	if v := authorize(c, OpRecordAcceptance, actor); v != nil {
		return reject(c, v)
	}
	if len(c.Devices) == 0 {
		return reject(c, invalid("at least one device is required before acceptance"))
	}
	signer := strings.TrimSpace(in.SignerName)
	if signer == "" || strings.TrimSpace(in.Signature) == "" {
		return reject(c, invalid("signer name and signature are required"))
	}

	out := c.Clone()
	out.Acceptance = &Acceptance{
		SignerName:          signer,
		Signature:           in.Signature,
		SignedAt:            e.now(),
		RepresentativeTitle: strings.TrimSpace(in.RepresentativeTitle),
	}
	out.Immutable = true

	return e.commit(out, actor, ActionAcceptanceRecorded, map[string]string{"signer": signer})
}
