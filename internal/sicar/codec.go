package sicar

import (
	"fmt"
	"sort"

	"github.com/kaec/docauthority/internal/canon"
	"github.com/kaec/docauthority/internal/document"
)

const (
	DocType    = "SICAR"
	DocVersion = "sicar-v1"
)

// Reference builds {PREFIX}-SICAR-{YYYYMMDD}-{first 8 of id}. It depends
// only on the certificate; an unset creation time renders as 00010101.
func Reference(c *Certificate) string {
	return fmt.Sprintf("%s-%s-%s-%s", document.ReferencePrefix, DocType,
		c.CreatedAt.UTC().Format("20060102"), c.ID.Prefix(8))
}

// BuildHashPayload builds the canonical value a certificate is hashed over.
// Photos are reduced to a count and the audit log to its stage transitions.
func BuildHashPayload(c *Certificate) (canon.Value, error) {
	if c.Stage.Index() < 0 {
		return nil, fmt.Errorf("stage %q: %w", c.Stage, ErrUnknownValue)
	}

	history := canon.List{}
	for _, e := range StageHistory(c) {
		if !e.Actor.Valid() {
			return nil, fmt.Errorf("audit actor %q: %w", e.Actor, ErrUnknownValue)
		}
		history = append(history, canon.Map{
			"action": canon.String(e.Action),
			"actor":  canon.String(e.Actor),
			"at":     canon.Time(e.Timestamp),
		})
	}

	devices := append([]Device(nil), c.Devices...)
	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i], devices[j]
		if a.SystemName != b.SystemName {
			return a.SystemName < b.SystemName
		}
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		if a.SerialNumber != b.SerialNumber {
			return a.SerialNumber < b.SerialNumber
		}
		return a.ID < b.ID
	})

	deviceList := make(canon.List, 0, len(devices))
	for _, d := range devices {
		health, err := healthBlock(d.Health)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", d.ID, err)
		}
		deviceList = append(deviceList, canon.Map{
			"id":           canon.String(d.ID),
			"systemName":   canon.String(d.SystemName),
			"manufacturer": canon.String(d.Manufacturer),
			"make":         canon.String(d.Make),
			"model":        canon.String(d.Model),
			"partNumber":   canon.String(d.PartNumber),
			"serialNumber": canon.String(d.SerialNumber),
			"purpose":      canon.String(d.Purpose),
			"location": canon.Map{
				"planned":   canon.String(d.PlannedLocation),
				"installed": canon.String(d.InstalledLocation),
			},
			"health":      health,
			"attestation": canon.String(d.Attestation),
			"photoCount":  canon.Number(len(d.Photos)),
		})
	}

	var acceptance canon.Value = canon.Null{}
	lockedAt := canon.String("")
	if a := c.Acceptance; a != nil {
		acceptance = canon.Map{
			"signerName":          canon.String(a.SignerName),
			"signature":           canon.String(a.Signature),
			"signedAt":            canon.Time(a.SignedAt),
			"representativeTitle": canon.String(a.RepresentativeTitle),
		}
		lockedAt = canon.Time(a.SignedAt)
	}

	return canon.Map{
		"docType":      canon.String(DocType),
		"docVersion":   canon.String(DocVersion),
		"algorithm":    canon.String(canon.Algorithm),
		"id":           canon.String(c.ID),
		"reference":    canon.String(Reference(c)),
		"stage":        canon.String(c.Stage),
		"immutable":    canon.Bool(c.Immutable),
		"stageHistory": history,
		"bindings": canon.Map{
			"quoteId":           canon.String(c.QuoteID),
			"agreementId":       canon.String(c.AgreementID),
			"installationJobId": canon.String(c.InstallationJobID),
		},
		"customer": canon.Map{
			"name":           canon.String(c.Customer.Name),
			"email":          canon.String(c.Customer.Email),
			"phone":          canon.String(c.Customer.Phone),
			"serviceAddress": canon.String(c.Customer.ServiceAddress),
		},
		"installers": canon.Strings(c.Installers),
		"devices":    deviceList,
		"acceptance": acceptance,
		"lockedAt":   lockedAt,
	}, nil
}

// ComputeHash computes the fingerprint of a certificate
func ComputeHash(c *Certificate) (string, error) {
	payload, err := BuildHashPayload(c)
	if err != nil {
		return "", err
	}
	return canon.Sum(payload)
}

func healthBlock(h Health) (canon.Map, error) {
	for _, s := range []HealthState{h.Power, h.Connectivity, h.Battery, h.Functional} {
		if !s.Valid() {
			return nil, fmt.Errorf("health state %q: %w", s, ErrUnknownValue)
		}
	}
	lastChecked := canon.String("")
	if h.LastCheckedAt != nil {
		lastChecked = canon.Time(*h.LastCheckedAt)
	}
	return canon.Map{
		"power":                 canon.String(h.Power),
		"connectivity":          canon.String(h.Connectivity),
		"battery":               canon.String(h.Battery),
		"functional":            canon.String(h.Functional),
		"manualOverride":        canon.Bool(h.ManualOverride),
		"overrideJustification": canon.String(h.OverrideJustification),
		"lastCheckedAt":         lastChecked,
	}, nil
}
