package domain

import (
	"context"
	"net/url"
	"time"
)

// Snapshot is the immutable, point-in-time set of policy decisions queried
// by the policy facade. Providers build a new Snapshot on every refresh and
// never mutate a published one.
type Snapshot struct {
	ID         string
	Name       string
	Generation int64
	Source     string
	LoadedAt   time.Time

	PINRequired bool

	Save           LocationRules[SaveLocation]
	Open           LocationRules[OpenLocation]
	URLs           URLRules
	UniversalLinks URLRules
	DocumentPicker PickerRules

	ManagedBrowserRequired         bool
	ContactSyncAllowed             bool
	SpotlightIndexingAllowed       bool
	SiriIntentsAllowed             bool
	AppSharingAllowed              bool
	FileProviderEncryptionRequired bool
	FileEncryptionRequired         bool
	Notification                   NotificationPolicy
}

// DefaultSnapshot describes an unmanaged app: every location, URL and picker
// mode allowed, sharing features allowed, nothing required.
func DefaultSnapshot() *Snapshot {
	return &Snapshot{
		Source:                   "default",
		Save:                     LocationRules[SaveLocation]{Default: EffectAllow},
		Open:                     LocationRules[OpenLocation]{Default: EffectAllow},
		URLs:                     URLRules{Default: EffectAllow},
		UniversalLinks:           URLRules{Default: EffectAllow},
		DocumentPicker:           PickerRules{Default: EffectAllow},
		ContactSyncAllowed:       true,
		SpotlightIndexingAllowed: true,
		SiriIntentsAllowed:       true,
		AppSharingAllowed:        true,
		Notification:             NotificationAllow,
	}
}

// LocationRules holds the save or open decisions of a snapshot.
type LocationRules[L comparable] struct {
	// Default applies when no more specific rule matches. Unset means allow.
	Default   Effect
	Locations map[L]Effect
	// Accounts is keyed by NormalizeAccountKey.
	Accounts map[string]AccountRules[L]
	// Managed lists the managed account keys used by EffectManagedOnly.
	Managed map[string]struct{}
}

// AccountRules overrides location decisions for a single account.
type AccountRules[L comparable] struct {
	Default   Effect
	Locations map[L]Effect
}

// Rule tiers reported by LocationDecision.
const (
	TierAccountLocation = "account_location"
	TierLocation        = "location"
	TierAccountDefault  = "account_default"
	TierDefault         = "default"
	TierImplicit        = "implicit"
)

// LocationDecision explains a location verdict.
type LocationDecision struct {
	Allowed bool
	Effect  Effect
	Tier    string
}

// Decide resolves the effect for loc and acct. The most specific rule wins:
// account+location, then location, then account default, then the section
// default. Callers normalise loc before calling.
func (r LocationRules[L]) Decide(loc L, acct Account) LocationDecision {
	key := acct.Key()

	var (
		override    AccountRules[L]
		hasOverride bool
	)
	if key != "" {
		override, hasOverride = r.Accounts[key]
	}

	if hasOverride {
		if effect := override.Locations[loc]; effect != EffectUnset {
			return r.resolve(effect, key, TierAccountLocation)
		}
	}
	if effect := r.Locations[loc]; effect != EffectUnset {
		return r.resolve(effect, key, TierLocation)
	}
	if hasOverride && override.Default != EffectUnset {
		return r.resolve(override.Default, key, TierAccountDefault)
	}
	if r.Default != EffectUnset {
		return r.resolve(r.Default, key, TierDefault)
	}
	return LocationDecision{Allowed: true, Effect: EffectAllow, Tier: TierImplicit}
}

// IsManaged reports whether the account is one of the managed identities.
func (r LocationRules[L]) IsManaged(acct Account) bool {
	key := acct.Key()
	if key == "" {
		return false
	}
	_, ok := r.Managed[key]
	return ok
}

func (r LocationRules[L]) resolve(effect Effect, key, tier string) LocationDecision {
	decision := LocationDecision{Effect: effect, Tier: tier}
	switch effect {
	case EffectAllow:
		decision.Allowed = true
	case EffectManagedOnly:
		if key != "" {
			_, decision.Allowed = r.Managed[key]
		}
	default:
		decision.Allowed = false
	}
	return decision
}

// URLKind distinguishes a plain URL open from a universal-link-only open.
type URLKind string

const (
	URLKindURL           URLKind = "url"
	URLKindUniversalLink URLKind = "universal_link"
)

// URLMatcher reports whether a rule pattern covers u.
type URLMatcher interface {
	Match(u *url.URL) bool
}

// URLRule is a single compiled URL rule.
type URLRule struct {
	ID      string
	Pattern string
	Effect  Effect
	Matcher URLMatcher
}

// URLEvaluator decides URLs that no rule matched. EffectUnset means no
// opinion.
type URLEvaluator interface {
	EvaluateURL(ctx context.Context, kind URLKind, u *url.URL) (Effect, error)
}

// URLRules is an ordered, first-match-wins rule list.
type URLRules struct {
	Default   Effect
	Rules     []URLRule
	Evaluator URLEvaluator
}

// PickerRules holds document picker mode decisions.
type PickerRules struct {
	Default Effect
	Modes   map[DocumentPickerMode]Effect
}

// Allows reports whether the mode is permitted. Undeclared modes use the
// default.
func (p PickerRules) Allows(mode DocumentPickerMode) bool {
	if effect, ok := p.Modes[mode]; ok && effect != EffectUnset {
		return effect == EffectAllow
	}
	return p.Default != EffectBlock
}

// SnapshotSource supplies the snapshot current at call time. Implementations
// must be safe for concurrent use and may return nil before the first load.
type SnapshotSource interface {
	CurrentSnapshot() *Snapshot
}

// SnapshotService is a SnapshotSource that also publishes refreshes.
type SnapshotService interface {
	SnapshotSource

	// Subscribe returns a channel that receives each published snapshot.
	Subscribe() <-chan *Snapshot
}
