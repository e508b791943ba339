package policy

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/polisai/polis-mam/pkg/domain"
	"github.com/polisai/polis-mam/pkg/telemetry"
)

// Query operation names reported to a QueryObserver.
const (
	OpPINRequired            = "pin_required"
	OpSaveTo                 = "save_to"
	OpOpenFrom               = "open_from"
	OpURL                    = "url"
	OpUniversalLink          = "universal_link"
	OpDocumentPicker         = "document_picker"
	OpManagedBrowser         = "managed_browser_required"
	OpContactSync            = "contact_sync"
	OpSpotlightIndexing      = "spotlight_indexing"
	OpSiriIntents            = "siri_intents"
	OpAppSharing             = "app_sharing"
	OpFileProviderEncryption = "file_provider_encryption"
	OpNotification           = "notification_policy"
	OpFileEncryption         = "file_encryption"

	// Whole-table queries are counted once per call under their own label.
	OpSaveToTable   = "save_to_table"
	OpOpenFromTable = "open_from_table"
)

// QueryObserver receives one call per answered query.
type QueryObserver interface {
	ObserveQuery(operation, outcome string)
}

// Facade implements Policy over a domain.SnapshotSource. Each call reads the
// current snapshot once, so a single answer is always internally consistent.
type Facade struct {
	source   domain.SnapshotSource
	logger   *slog.Logger
	observer QueryObserver
}

// Option configures a Facade.
type Option func(*Facade)

// WithLogger sets the logger used for debug traces and evaluator failures.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithObserver attaches a query observer, typically telemetry.Metrics.
func WithObserver(observer QueryObserver) Option {
	return func(f *Facade) {
		f.observer = observer
	}
}

// New constructs a facade reading from source.
func New(source domain.SnapshotSource, opts ...Option) *Facade {
	f := &Facade{
		source: source,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewStatic constructs a facade over a fixed snapshot.
func NewStatic(snapshot *domain.Snapshot, opts ...Option) *Facade {
	return New(staticSource{snapshot: snapshot}, opts...)
}

// Pin returns a facade bound to the snapshot current now, for callers that
// need several reads to agree across a refresh.
func (f *Facade) Pin() *Facade {
	return &Facade{
		source:   staticSource{snapshot: f.snapshot()},
		logger:   f.logger,
		observer: f.observer,
	}
}

// Snapshot returns the snapshot the next query would read.
func (f *Facade) Snapshot() *domain.Snapshot {
	return f.snapshot()
}

var _ Policy = (*Facade)(nil)

type staticSource struct {
	snapshot *domain.Snapshot
}

func (s staticSource) CurrentSnapshot() *domain.Snapshot {
	return s.snapshot
}

func (f *Facade) snapshot() *domain.Snapshot {
	if f.source != nil {
		if snap := f.source.CurrentSnapshot(); snap != nil {
			return snap
		}
	}
	return defaultSnapshot
}

var defaultSnapshot = domain.DefaultSnapshot()

func maskAccount(acct domain.Account) string {
	if !acct.Present() {
		return acct.String()
	}
	return telemetry.MaskValue(acct.Name())
}

// Observe reports an explained decision to the observer. Callers that answer
// through the Decide methods use it to keep query counts complete.
func (f *Facade) Observe(operation string, allowed bool) bool {
	return f.observe(operation, allowed)
}

func (f *Facade) observe(operation string, allowed bool) bool {
	if f.observer != nil {
		outcome := "false"
		if allowed {
			outcome = "true"
		}
		f.observer.ObserveQuery(operation, outcome)
	}
	return allowed
}

// observeTable counts a whole-table query, which has no single verdict.
func (f *Facade) observeTable(operation string) {
	if f.observer != nil {
		f.observer.ObserveQuery(operation, "table")
	}
}

func (f *Facade) IsPINRequired() bool {
	return f.observe(OpPINRequired, f.snapshot().PINRequired)
}

func (f *Facade) IsSaveToAllowed(loc domain.SaveLocation, acct domain.Account) bool {
	decision := f.DecideSaveTo(loc, acct)
	return f.observe(OpSaveTo, decision.Allowed)
}

func (f *Facade) IsOpenFromAllowed(loc domain.OpenLocation, acct domain.Account) bool {
	decision := f.DecideOpenFrom(loc, acct)
	return f.observe(OpOpenFrom, decision.Allowed)
}

// DecideSaveTo explains the save decision for loc and acct.
func (f *Facade) DecideSaveTo(loc domain.SaveLocation, acct domain.Account) domain.LocationDecision {
	loc = loc.Normalize()
	decision := f.snapshot().Save.Decide(loc, acct)
	f.logger.Debug("save-to decision",
		"location", loc.String(),
		"account", maskAccount(acct),
		"allowed", decision.Allowed,
		"tier", decision.Tier,
	)
	return decision
}

// DecideOpenFrom explains the open decision for loc and acct.
func (f *Facade) DecideOpenFrom(loc domain.OpenLocation, acct domain.Account) domain.LocationDecision {
	loc = loc.Normalize()
	decision := f.snapshot().Open.Decide(loc, acct)
	f.logger.Debug("open-from decision",
		"location", loc.String(),
		"account", maskAccount(acct),
		"allowed", decision.Allowed,
		"tier", decision.Tier,
	)
	return decision
}

func (f *Facade) SaveToLocations(acct domain.Account) map[domain.SaveLocation]bool {
	rules := f.snapshot().Save
	out := make(map[domain.SaveLocation]bool, len(domain.AllSaveLocations()))
	for _, loc := range domain.AllSaveLocations() {
		out[loc] = rules.Decide(loc, acct).Allowed
	}
	f.observeTable(OpSaveToTable)
	return out
}

func (f *Facade) OpenFromLocations(acct domain.Account) map[domain.OpenLocation]bool {
	rules := f.snapshot().Open
	out := make(map[domain.OpenLocation]bool, len(domain.AllOpenLocations()))
	for _, loc := range domain.AllOpenLocations() {
		out[loc] = rules.Decide(loc, acct).Allowed
	}
	f.observeTable(OpOpenFromTable)
	return out
}

func (f *Facade) IsURLAllowed(u *url.URL) bool {
	return f.IsURLAllowedContext(context.Background(), u)
}

// IsURLAllowedContext is IsURLAllowed with a caller context for tracing.
func (f *Facade) IsURLAllowedContext(ctx context.Context, u *url.URL) bool {
	decision := f.DecideURL(ctx, domain.URLKindURL, u)
	return f.observe(OpURL, decision.Allowed)
}

func (f *Facade) IsUniversalLinkAllowed(u *url.URL) bool {
	return f.IsUniversalLinkAllowedContext(context.Background(), u)
}

// IsUniversalLinkAllowedContext is IsUniversalLinkAllowed with a caller
// context for tracing.
func (f *Facade) IsUniversalLinkAllowedContext(ctx context.Context, u *url.URL) bool {
	decision := f.DecideURL(ctx, domain.URLKindUniversalLink, u)
	return f.observe(OpUniversalLink, decision.Allowed)
}

// DecideURL explains a URL or universal link decision.
func (f *Facade) DecideURL(ctx context.Context, kind domain.URLKind, u *url.URL) URLDecision {
	snap := f.snapshot()
	rules := snap.URLs
	if kind == domain.URLKindUniversalLink {
		rules = snap.UniversalLinks
	}

	decision, err := DecideURL(ctx, rules, kind, u)
	if err != nil {
		f.logger.Warn("url evaluator failed, applied default",
			"kind", kind,
			"generation", snap.Generation,
			"error", err,
		)
	}
	f.logger.Debug("url decision",
		"kind", kind,
		"url", NormalizeURL(u),
		"allowed", decision.Allowed,
		"source", decision.Source,
	)
	return decision
}

func (f *Facade) IsDocumentPickerAllowed(mode domain.DocumentPickerMode) bool {
	return f.observe(OpDocumentPicker, f.snapshot().DocumentPicker.Allows(mode))
}

func (f *Facade) IsManagedBrowserRequired() bool {
	return f.observe(OpManagedBrowser, f.snapshot().ManagedBrowserRequired)
}

func (f *Facade) IsContactSyncAllowed() bool {
	return f.observe(OpContactSync, f.snapshot().ContactSyncAllowed)
}

func (f *Facade) IsSpotlightIndexingAllowed() bool {
	return f.observe(OpSpotlightIndexing, f.snapshot().SpotlightIndexingAllowed)
}

func (f *Facade) AreSiriIntentsAllowed() bool {
	return f.observe(OpSiriIntents, f.snapshot().SiriIntentsAllowed)
}

func (f *Facade) IsAppSharingAllowed() bool {
	return f.observe(OpAppSharing, f.snapshot().AppSharingAllowed)
}

func (f *Facade) ShouldFileProviderEncryptFiles() bool {
	return f.observe(OpFileProviderEncryption, f.snapshot().FileProviderEncryptionRequired)
}

func (f *Facade) NotificationPolicy() domain.NotificationPolicy {
	p := f.snapshot().Notification.Normalize()
	if f.observer != nil {
		f.observer.ObserveQuery(OpNotification, p.String())
	}
	return p
}

func (f *Facade) IsFileEncryptionRequired() bool {
	return f.observe(OpFileEncryption, f.snapshot().FileEncryptionRequired)
}
