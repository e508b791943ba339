package domain

import "fmt"

// NotificationPolicy describes how notifications for the managed user are
// redacted.
type NotificationPolicy uint8

const (
	// NotificationAllow allows all notifications.
	NotificationAllow NotificationPolicy = iota
	// NotificationBlockOrgData allows only static notifications without
	// specific details, e.g. "You have a meeting".
	NotificationBlockOrgData
	// NotificationBlock suppresses all notifications.
	NotificationBlock
)

var notificationNames = [...]string{
	NotificationAllow:        "allow",
	NotificationBlockOrgData: "block_org_data",
	NotificationBlock:        "block",
}

// Valid reports whether p is one of the three declared policies.
func (p NotificationPolicy) Valid() bool {
	return int(p) < len(notificationNames)
}

// Normalize maps out-of-range values to NotificationAllow.
func (p NotificationPolicy) Normalize() NotificationPolicy {
	if !p.Valid() {
		return NotificationAllow
	}
	return p
}

func (p NotificationPolicy) String() string {
	return notificationNames[p.Normalize()]
}

// MarshalText implements encoding.TextMarshaler.
func (p NotificationPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParseNotificationPolicy resolves "allow", "block_org_data" or "block".
// An empty name selects NotificationAllow.
func ParseNotificationPolicy(name string) (NotificationPolicy, error) {
	key := normalizeName(name)
	if key == "" {
		return NotificationAllow, nil
	}
	for i, candidate := range notificationNames {
		if candidate == key {
			return NotificationPolicy(i), nil
		}
	}
	return NotificationAllow, fmt.Errorf("%w: %q", ErrUnknownNotification, name)
}

// DocumentPickerMode mirrors the platform document picker modes.
type DocumentPickerMode uint8

const (
	DocumentPickerImport DocumentPickerMode = iota
	DocumentPickerOpen
	DocumentPickerExportToService
	DocumentPickerMoveToService
)

var pickerModeNames = [...]string{
	DocumentPickerImport:          "import",
	DocumentPickerOpen:            "open",
	DocumentPickerExportToService: "export",
	DocumentPickerMoveToService:   "move",
}

// AllDocumentPickerModes returns every declared picker mode.
func AllDocumentPickerModes() []DocumentPickerMode {
	out := make([]DocumentPickerMode, len(pickerModeNames))
	for i := range pickerModeNames {
		out[i] = DocumentPickerMode(i)
	}
	return out
}

// Valid reports whether m is a declared mode.
func (m DocumentPickerMode) Valid() bool {
	return int(m) < len(pickerModeNames)
}

func (m DocumentPickerMode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
	return pickerModeNames[m]
}

// MarshalText implements encoding.TextMarshaler.
func (m DocumentPickerMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseDocumentPickerMode resolves "import", "open", "export" or "move".
func ParseDocumentPickerMode(name string) (DocumentPickerMode, error) {
	key := normalizeName(name)
	for i, candidate := range pickerModeNames {
		if candidate == key {
			return DocumentPickerMode(i), nil
		}
	}
	return DocumentPickerImport, fmt.Errorf("%w: %q", ErrUnknownPickerMode, name)
}

// Effect is the configured outcome for a location, URL rule or picker mode.
type Effect string

const (
	// EffectUnset defers to the next, less specific rule.
	EffectUnset Effect = ""
	// EffectAllow permits the operation.
	EffectAllow Effect = "allow"
	// EffectBlock denies the operation.
	EffectBlock Effect = "block"
	// EffectManagedOnly permits the operation only for managed accounts.
	// Valid for save and open locations.
	EffectManagedOnly Effect = "managed_only"
)

// ParseEffect resolves an effect name. Empty input yields EffectUnset.
func ParseEffect(name string) (Effect, error) {
	switch Effect(normalizeName(name)) {
	case EffectUnset:
		return EffectUnset, nil
	case EffectAllow:
		return EffectAllow, nil
	case EffectBlock, "deny":
		return EffectBlock, nil
	case EffectManagedOnly:
		return EffectManagedOnly, nil
	default:
		return EffectUnset, fmt.Errorf("%w: %q", ErrUnknownEffect, name)
	}
}
