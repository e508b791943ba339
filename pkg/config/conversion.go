package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/polis-mam/pkg/domain"
	"github.com/polisai/polis-mam/pkg/policy"
)

// BuildOptions carries the provider-assigned metadata for a conversion.
type BuildOptions struct {
	Generation int64
	Source     string
	// BaseDir resolves relative Rego file references.
	BaseDir          string
	RegoCacheEntries int
	Logger           *slog.Logger
}

// ToDomain validates the document and converts it to an immutable domain
// snapshot, compiling URL patterns and Rego modules.
func (d *Document) ToDomain(ctx context.Context, opts BuildOptions) (*domain.Snapshot, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	managed := make(map[string]struct{}, len(d.ManagedAccounts))
	for _, acct := range d.ManagedAccounts {
		managed[domain.NormalizeAccountKey(acct)] = struct{}{}
	}

	save, err := convertLocations(d.Save, managed, domain.ParseSaveLocation)
	if err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}
	open, err := convertLocations(d.Open, managed, domain.ParseOpenLocation)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	urls, err := convertURLs(ctx, d.URLs, opts)
	if err != nil {
		return nil, fmt.Errorf("urls: %w", err)
	}
	links, err := convertURLs(ctx, d.UniversalLinks, opts)
	if err != nil {
		return nil, fmt.Errorf("universalLinks: %w", err)
	}

	picker, err := convertPicker(d.DocumentPicker)
	if err != nil {
		return nil, fmt.Errorf("documentPicker: %w", err)
	}

	notification, err := domain.ParseNotificationPolicy(d.Notification)
	if err != nil {
		return nil, err
	}

	return &domain.Snapshot{
		ID:         uuid.NewString(),
		Name:       d.Name,
		Generation: opts.Generation,
		Source:     opts.Source,
		LoadedAt:   time.Now().UTC(),

		PINRequired:    d.PINRequired,
		Save:           save,
		Open:           open,
		URLs:           urls,
		UniversalLinks: links,
		DocumentPicker: picker,

		ManagedBrowserRequired:         d.ManagedBrowserRequired,
		ContactSyncAllowed:             boolOr(d.ContactSyncAllowed, true),
		SpotlightIndexingAllowed:       boolOr(d.SpotlightIndexingAllowed, true),
		SiriIntentsAllowed:             boolOr(d.SiriIntentsAllowed, true),
		AppSharingAllowed:              boolOr(d.AppSharingAllowed, true),
		FileProviderEncryptionRequired: d.FileProviderEncryptionRequired,
		FileEncryptionRequired:         d.FileEncryptionRequired,
		Notification:                   notification,
	}, nil
}

func boolOr(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func convertLocations[L comparable](spec LocationSpec, managed map[string]struct{}, parse func(string) (L, error)) (domain.LocationRules[L], error) {
	rules := domain.LocationRules[L]{Managed: managed}

	var err error
	if rules.Default, err = domain.ParseEffect(spec.Default); err != nil {
		return rules, err
	}
	if rules.Locations, err = convertLocationMap(spec.Locations, parse); err != nil {
		return rules, err
	}

	if len(spec.Accounts) > 0 {
		rules.Accounts = make(map[string]domain.AccountRules[L], len(spec.Accounts))
	}
	for name, acct := range spec.Accounts {
		override := domain.AccountRules[L]{}
		if override.Default, err = domain.ParseEffect(acct.Default); err != nil {
			return rules, err
		}
		if override.Locations, err = convertLocationMap(acct.Locations, parse); err != nil {
			return rules, err
		}
		rules.Accounts[domain.NormalizeAccountKey(name)] = override
	}
	return rules, nil
}

func convertLocationMap[L comparable](in map[string]string, parse func(string) (L, error)) (map[L]domain.Effect, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[L]domain.Effect, len(in))
	for name, value := range in {
		loc, err := parse(name)
		if err != nil {
			return nil, err
		}
		effect, err := domain.ParseEffect(value)
		if err != nil {
			return nil, err
		}
		out[loc] = effect
	}
	return out, nil
}

func convertURLs(ctx context.Context, spec URLSpec, opts BuildOptions) (domain.URLRules, error) {
	rules := domain.URLRules{}

	var err error
	if rules.Default, err = domain.ParseEffect(spec.Default); err != nil {
		return rules, err
	}

	for i, ruleSpec := range spec.Rules {
		matcher, err := policy.CompileURLPattern(ruleSpec.Pattern)
		if err != nil {
			return rules, fmt.Errorf("rule %d: %w", i, err)
		}
		effect, err := domain.ParseEffect(ruleSpec.Action)
		if err != nil {
			return rules, fmt.Errorf("rule %d: %w", i, err)
		}
		id := ruleSpec.ID
		if id == "" {
			id = fmt.Sprintf("rule-%d", i)
		}
		rules.Rules = append(rules.Rules, domain.URLRule{
			ID:      id,
			Pattern: ruleSpec.Pattern,
			Effect:  effect,
			Matcher: matcher,
		})
	}

	if spec.Rego != nil {
		modules, err := loadRegoModules(spec.Rego, opts.BaseDir)
		if err != nil {
			return rules, err
		}
		engine, err := policy.NewEngine(ctx, policy.EngineOptions{
			Query:           spec.Rego.Query,
			Modules:         modules,
			Generation:      opts.Generation,
			CacheMaxEntries: opts.RegoCacheEntries,
			Logger:          opts.Logger,
		})
		if err != nil {
			return rules, err
		}
		rules.Evaluator = engine
	}
	return rules, nil
}

func loadRegoModules(spec *RegoSpec, baseDir string) (map[string]string, error) {
	modules := make(map[string]string, len(spec.Modules)+len(spec.Files))
	for name, src := range spec.Modules {
		modules[name] = src
	}
	for _, file := range spec.Files {
		path := resolveRegoFile(baseDir, file)
		// #nosec G304 -- module paths come from the operator's policy document
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rego module: %w", err)
		}
		modules[file] = string(data)
	}
	return modules, nil
}

func convertPicker(spec PickerSpec) (domain.PickerRules, error) {
	rules := domain.PickerRules{}

	var err error
	if rules.Default, err = domain.ParseEffect(spec.Default); err != nil {
		return rules, err
	}
	if len(spec.Modes) > 0 {
		rules.Modes = make(map[domain.DocumentPickerMode]domain.Effect, len(spec.Modes))
	}
	for name, value := range spec.Modes {
		mode, err := domain.ParseDocumentPickerMode(name)
		if err != nil {
			return rules, err
		}
		effect, err := domain.ParseEffect(value)
		if err != nil {
			return rules, err
		}
		rules.Modes[mode] = effect
	}
	return rules, nil
}
