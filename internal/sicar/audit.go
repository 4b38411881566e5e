package sicar

import (
	"strings"
	"time"

	"github.com/kaec/docauthority/internal/shared/types"
)

// MaxAuditEntries bounds the audit log; older entries are evicted first
const MaxAuditEntries = 150

// stageActionPrefix marks audit actions that record a stage transition
const stageActionPrefix = "stage."

// Audit action labels
const (
	ActionCreated            = "certificate.created"
	ActionFieldUpdated       = "field.updated"
	ActionInstallerAdded     = "installer.added"
	ActionInstallerRemoved   = "installer.removed"
	ActionDeviceAdded        = "device.added"
	ActionDeviceUpdated      = "device.updated"
	ActionTelemetryPulled    = "device.telemetry"
	ActionHealthOverridden   = "device.override"
	ActionPhotoAttached      = "device.photo"
	ActionAcceptanceRecorded = "acceptance.recorded"
)

// StageAction is the audit label for entering a stage
func StageAction(s Stage) string {
	return stageActionPrefix + string(s)
}

// IsStageTransition reports whether an audit action records a stage change
func IsStageTransition(action string) bool {
	return strings.HasPrefix(action, stageActionPrefix)
}

// prependAudit puts a new entry at the front of the log and drops the
// oldest entries beyond MaxAuditEntries.
func prependAudit(log []AuditEntry, id types.ID, at time.Time, actor Role, action string, details map[string]string) []AuditEntry {
	entry := AuditEntry{
		ID:        id,
		Timestamp: at,
		Actor:     actor,
		Action:    action,
		Details:   details,
	}

	out := make([]AuditEntry, 0, min(len(log)+1, MaxAuditEntries))
	out = append(out, entry)
	for _, e := range log {
		if len(out) == MaxAuditEntries {
			break
		}
		out = append(out, e)
	}
	return out
}

// StageHistory returns the stage transitions still held in the audit log,
// oldest first.
func StageHistory(c *Certificate) []AuditEntry {
	var out []AuditEntry
	for i := len(c.Audit) - 1; i >= 0; i-- {
		if IsStageTransition(c.Audit[i].Action) {
			out = append(out, c.Audit[i])
		}
	}
	return out
}
