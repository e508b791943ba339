package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-mam/pkg/domain"
)

// SupportedVersions lists the accepted document versions.
var SupportedVersions = []string{"1", "1.0"}

// Document is the on-disk MAM policy document (DTO). Use ToDomain to obtain
// the immutable snapshot the facade queries.
type Document struct {
	Version         string   `json:"version" yaml:"version"`
	Name            string   `json:"name,omitempty" yaml:"name,omitempty"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
	ManagedAccounts []string `json:"managedAccounts,omitempty" yaml:"managedAccounts,omitempty"`

	PINRequired    bool         `json:"pinRequired" yaml:"pinRequired"`
	Save           LocationSpec `json:"save" yaml:"save"`
	Open           LocationSpec `json:"open" yaml:"open"`
	URLs           URLSpec      `json:"urls" yaml:"urls"`
	UniversalLinks URLSpec      `json:"universalLinks" yaml:"universalLinks"`
	DocumentPicker PickerSpec   `json:"documentPicker" yaml:"documentPicker"`
	Notification   string       `json:"notificationPolicy,omitempty" yaml:"notificationPolicy,omitempty"`

	ManagedBrowserRequired         bool  `json:"managedBrowserRequired" yaml:"managedBrowserRequired"`
	ContactSyncAllowed             *bool `json:"contactSyncAllowed,omitempty" yaml:"contactSyncAllowed,omitempty"`
	SpotlightIndexingAllowed       *bool `json:"spotlightIndexingAllowed,omitempty" yaml:"spotlightIndexingAllowed,omitempty"`
	SiriIntentsAllowed             *bool `json:"siriIntentsAllowed,omitempty" yaml:"siriIntentsAllowed,omitempty"`
	AppSharingAllowed              *bool `json:"appSharingAllowed,omitempty" yaml:"appSharingAllowed,omitempty"`
	FileProviderEncryptionRequired bool  `json:"fileProviderEncryptionRequired" yaml:"fileProviderEncryptionRequired"`
	FileEncryptionRequired         bool  `json:"fileEncryptionRequired" yaml:"fileEncryptionRequired"`
}

// LocationSpec configures save or open decisions. Keys of Locations are
// location names such as "google_drive"; values are effects.
type LocationSpec struct {
	Default   string                 `json:"default,omitempty" yaml:"default,omitempty"`
	Locations map[string]string      `json:"locations,omitempty" yaml:"locations,omitempty"`
	Accounts  map[string]AccountSpec `json:"accounts,omitempty" yaml:"accounts,omitempty"`
}

// AccountSpec overrides location decisions for one account.
type AccountSpec struct {
	Default   string            `json:"default,omitempty" yaml:"default,omitempty"`
	Locations map[string]string `json:"locations,omitempty" yaml:"locations,omitempty"`
}

// URLSpec configures URL or universal link decisions.
type URLSpec struct {
	Default string        `json:"default,omitempty" yaml:"default,omitempty"`
	Rules   []URLRuleSpec `json:"rules,omitempty" yaml:"rules,omitempty"`
	Rego    *RegoSpec     `json:"rego,omitempty" yaml:"rego,omitempty"`
}

// URLRuleSpec is a single glob rule. Rules are evaluated in order.
type URLRuleSpec struct {
	ID      string `json:"id" yaml:"id"`
	Pattern string `json:"pattern" yaml:"pattern"`
	Action  string `json:"action" yaml:"action"`
}

// RegoSpec embeds or references Rego modules consulted when no rule matches.
type RegoSpec struct {
	Query   string            `json:"query,omitempty" yaml:"query,omitempty"`
	Modules map[string]string `json:"modules,omitempty" yaml:"modules,omitempty"`
	// Files are read relative to the document's directory.
	Files []string `json:"files,omitempty" yaml:"files,omitempty"`
}

// PickerSpec configures document picker modes.
type PickerSpec struct {
	Default string            `json:"default,omitempty" yaml:"default,omitempty"`
	Modes   map[string]string `json:"modes,omitempty" yaml:"modes,omitempty"`
}

// ParseDocument decodes a YAML document. JSON is accepted as a YAML subset.
// Unknown keys are rejected so a misspelt section cannot silently fall back
// to its defaults.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", domain.ErrPolicyInvalid, err)
	}
	return &doc, nil
}

// LoadDocument reads, parses and validates the document at path.
func LoadDocument(path string) (*Document, error) {
	// #nosec G304 -- policy path is configured by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPolicyNotFound, path)
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate checks that every name in the document is known. All problems are
// reported together, each wrapped in domain.ErrPolicyInvalid or
// domain.ErrUnsupportedVersion.
func (d *Document) Validate() error {
	var errs []error

	version := strings.TrimSpace(d.Version)
	switch {
	case version == "":
		errs = append(errs, fmt.Errorf("%w: version is required", domain.ErrPolicyInvalid))
	case !isSupportedVersion(version):
		errs = append(errs, fmt.Errorf("%w: %s", domain.ErrUnsupportedVersion, version))
	}

	for i, acct := range d.ManagedAccounts {
		if domain.NormalizeAccountKey(acct) == "" {
			errs = append(errs, invalid("managedAccounts[%d]: account is empty", i))
		}
	}

	errs = append(errs, validateLocations("save", d.Save, parseSaveName)...)
	errs = append(errs, validateLocations("open", d.Open, parseOpenName)...)
	errs = append(errs, validateURLs("urls", d.URLs)...)
	errs = append(errs, validateURLs("universalLinks", d.UniversalLinks)...)

	if err := validateBinaryEffect("documentPicker.default", d.DocumentPicker.Default); err != nil {
		errs = append(errs, err)
	}
	for name, effect := range d.DocumentPicker.Modes {
		if _, err := domain.ParseDocumentPickerMode(name); err != nil {
			errs = append(errs, invalid("documentPicker.modes: %v", err))
		}
		if err := validateBinaryEffect("documentPicker.modes."+name, effect); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, duplicateKeys("documentPicker.modes", mapKeys(d.DocumentPicker.Modes), parsePickerName)...)

	if _, err := domain.ParseNotificationPolicy(d.Notification); err != nil {
		errs = append(errs, invalid("notificationPolicy: %v", err))
	}

	return errors.Join(errs...)
}

func isSupportedVersion(v string) bool {
	for _, candidate := range SupportedVersions {
		if candidate == v {
			return true
		}
	}
	return false
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrPolicyInvalid, fmt.Sprintf(format, args...))
}

func parseSaveName(name string) (string, error) {
	loc, err := domain.ParseSaveLocation(name)
	return loc.String(), err
}

func parseOpenName(name string) (string, error) {
	loc, err := domain.ParseOpenLocation(name)
	return loc.String(), err
}

func parsePickerName(name string) (string, error) {
	mode, err := domain.ParseDocumentPickerMode(name)
	return mode.String(), err
}

func validateLocations(section string, spec LocationSpec, parse func(string) (string, error)) []error {
	var errs []error
	check := func(path, effect string) {
		if _, err := domain.ParseEffect(effect); err != nil {
			errs = append(errs, invalid("%s: %v", path, err))
		}
	}

	check(section+".default", spec.Default)
	for name, effect := range spec.Locations {
		if _, err := parse(name); err != nil {
			errs = append(errs, invalid("%s.locations: %v", section, err))
		}
		check(section+".locations."+name, effect)
	}
	errs = append(errs, duplicateKeys(section+".locations", mapKeys(spec.Locations), parse)...)

	for acct, override := range spec.Accounts {
		if domain.NormalizeAccountKey(acct) == "" {
			errs = append(errs, invalid("%s.accounts: account is empty", section))
			continue
		}
		prefix := section + ".accounts." + acct
		check(prefix+".default", override.Default)
		for name, effect := range override.Locations {
			if _, err := parse(name); err != nil {
				errs = append(errs, invalid("%s.locations: %v", prefix, err))
			}
			check(prefix+".locations."+name, effect)
		}
		errs = append(errs, duplicateKeys(prefix+".locations", mapKeys(override.Locations), parse)...)
	}
	errs = append(errs, duplicateKeys(section+".accounts", mapKeys(spec.Accounts), accountKey)...)
	return errs
}

// duplicateKeys reports keys that resolve to the same canonical entry, such
// as "google_drive" and "Google-Drive". Keys that fail to resolve are
// reported elsewhere and skipped here.
func duplicateKeys(path string, keys []string, canonical func(string) (string, error)) []error {
	sort.Strings(keys)
	var errs []error
	seen := make(map[string]string, len(keys))
	for _, key := range keys {
		canon, err := canonical(key)
		if err != nil || canon == "" {
			continue
		}
		if first, dup := seen[canon]; dup {
			errs = append(errs, invalid("%s: %q and %q refer to the same entry %q", path, first, key, canon))
			continue
		}
		seen[canon] = key
	}
	return errs
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func accountKey(name string) (string, error) {
	return domain.NormalizeAccountKey(name), nil
}

func validateURLs(section string, spec URLSpec) []error {
	var errs []error
	if err := validateBinaryEffect(section+".default", spec.Default); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]struct{}, len(spec.Rules))
	for i, rule := range spec.Rules {
		path := fmt.Sprintf("%s.rules[%d]", section, i)
		if rule.ID != "" {
			if _, dup := seen[rule.ID]; dup {
				errs = append(errs, invalid("%s: duplicate rule id %q", path, rule.ID))
			}
			seen[rule.ID] = struct{}{}
		}
		if strings.TrimSpace(rule.Pattern) == "" {
			errs = append(errs, invalid("%s: pattern is required", path))
		}
		if strings.TrimSpace(rule.Action) == "" {
			errs = append(errs, invalid("%s: action is required", path))
		} else if err := validateBinaryEffect(path+".action", rule.Action); err != nil {
			errs = append(errs, err)
		}
	}

	if spec.Rego != nil && len(spec.Rego.Modules) == 0 && len(spec.Rego.Files) == 0 {
		errs = append(errs, invalid("%s.rego: at least one module or file is required", section))
	}
	return errs
}

// validateBinaryEffect accepts allow, block or empty.
func validateBinaryEffect(path, value string) error {
	effect, err := domain.ParseEffect(value)
	if err != nil {
		return invalid("%s: %v", path, err)
	}
	if effect == domain.EffectManagedOnly {
		return invalid("%s: managed_only is only valid for save and open locations", path)
	}
	return nil
}

// resolveRegoFile returns the path of a referenced module, relative to the
// document directory when not absolute.
func resolveRegoFile(baseDir, file string) string {
	if filepath.IsAbs(file) || baseDir == "" {
		return file
	}
	return filepath.Join(baseDir, file)
}
