package policy

import (
	"net/url"

	"github.com/polisai/polis-mam/pkg/domain"
)

// Action defines the outcome of a Rego URL evaluation.
type Action string

const (
	// ActionAllow permits the URL.
	ActionAllow Action = "allow"
	// ActionBlock blocks the URL.
	ActionBlock Action = "block"
)

// Decision captures the result of a Rego URL evaluation.
type Decision struct {
	Action Action
	Reason string
}

// Effect converts the action into a domain effect.
func (d Decision) Effect() domain.Effect {
	switch d.Action {
	case ActionAllow:
		return domain.EffectAllow
	case ActionBlock:
		return domain.EffectBlock
	default:
		return domain.EffectUnset
	}
}

// Policy is the read-only MAM policy query surface.
type Policy interface {
	// IsPINRequired reports whether the management policy requires a PIN.
	// When true the host must not show its own PIN UI.
	IsPINRequired() bool

	// IsSaveToAllowed reports whether managed files may be saved to loc for
	// acct. Pass domain.NoAccount when the account is unknown.
	IsSaveToAllowed(loc domain.SaveLocation, acct domain.Account) bool

	// IsOpenFromAllowed reports whether files from loc for acct may be
	// opened into the app.
	IsOpenFromAllowed(loc domain.OpenLocation, acct domain.Account) bool

	// SaveToLocations returns IsSaveToAllowed for every save location.
	SaveToLocations(acct domain.Account) map[domain.SaveLocation]bool

	// OpenFromLocations returns IsOpenFromAllowed for every open location.
	OpenFromLocations(acct domain.Account) map[domain.OpenLocation]bool

	// IsURLAllowed is false when policy blocks opening or querying u.
	IsURLAllowed(u *url.URL) bool

	// IsUniversalLinkAllowed is false when policy blocks opening u as a
	// universal link. It is independent of IsURLAllowed.
	IsUniversalLinkAllowed(u *url.URL) bool

	IsDocumentPickerAllowed(mode domain.DocumentPickerMode) bool
	IsManagedBrowserRequired() bool

	// The next three must be enforced by multi-identity callers themselves.
	IsContactSyncAllowed() bool
	IsSpotlightIndexingAllowed() bool
	AreSiriIntentsAllowed() bool

	IsAppSharingAllowed() bool

	// ShouldFileProviderEncryptFiles is the one flag nothing enforces for the
	// caller: a file provider must encrypt the files it exposes when true.
	ShouldFileProviderEncryptFiles() bool

	NotificationPolicy() domain.NotificationPolicy
	IsFileEncryptionRequired() bool
}
