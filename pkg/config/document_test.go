package config

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-mam/pkg/domain"
	"github.com/polisai/polis-mam/pkg/policy"
)

func loadContoso(t *testing.T) *domain.Snapshot {
	t.Helper()
	path := filepath.Join("testdata", "contoso.yaml")
	doc, err := LoadDocument(path)
	require.NoError(t, err)

	snap, err := doc.ToDomain(context.Background(), BuildOptions{
		Generation: 1,
		Source:     "test",
		BaseDir:    "testdata",
	})
	require.NoError(t, err)
	return snap
}

func TestToDomainContoso(t *testing.T) {
	snap := loadContoso(t)

	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "contoso-standard", snap.Name)
	assert.Equal(t, int64(1), snap.Generation)
	assert.True(t, snap.PINRequired)
	assert.False(t, snap.ContactSyncAllowed)
	assert.True(t, snap.SpotlightIndexingAllowed)
	assert.False(t, snap.SiriIntentsAllowed)
	assert.True(t, snap.AppSharingAllowed)
	assert.Equal(t, domain.NotificationBlockOrgData, snap.Notification)
	assert.Len(t, snap.URLs.Rules, 2)
	assert.NotNil(t, snap.URLs.Evaluator)
	assert.Nil(t, snap.UniversalLinks.Evaluator)
	assert.Contains(t, snap.Save.Managed, "admin@contoso.com")
}

func TestContosoDocumentThroughFacade(t *testing.T) {
	f := policy.NewStatic(loadContoso(t))
	user := domain.AccountName("user@contoso.com")

	assert.False(t, f.IsSaveToAllowed(domain.SaveLocationOneDriveForBusiness, user))
	all := f.SaveToLocations(user)
	assert.False(t, all[domain.SaveLocationOneDriveForBusiness])
	assert.True(t, all[domain.SaveLocationLocalDrive])
	assert.True(t, all[domain.SaveLocationSharePoint])
	assert.False(t, f.IsSaveToAllowed(domain.SaveLocationSharePoint, domain.AccountName("guest@example.com")))

	assert.True(t, f.IsOpenFromAllowed(domain.OpenLocationAccountDocument, user))
	assert.False(t, f.IsOpenFromAllowed(domain.OpenLocationAccountDocument, domain.NoAccount))
	assert.False(t, f.IsOpenFromAllowed(domain.OpenLocationSharePoint, user))

	parse := func(raw string) *url.URL {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return u
	}
	assert.False(t, f.IsURLAllowed(parse("https://m.social.example/")))
	assert.False(t, f.IsURLAllowed(parse("https://pixel.tracker.example/p.gif")))
	assert.True(t, f.IsURLAllowed(parse("https://portal.contoso.com/home")))
	assert.True(t, f.IsUniversalLinkAllowed(parse("https://pixel.tracker.example/p.gif")))
	assert.False(t, f.IsUniversalLinkAllowed(parse("https://docs.example/start")))

	assert.False(t, f.IsDocumentPickerAllowed(domain.DocumentPickerMoveToService))
	assert.True(t, f.IsDocumentPickerAllowed(domain.DocumentPickerOpen))
}

func TestParseDocumentAcceptsJSON(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"version":"1","pinRequired":true,"save":{"default":"block"}}`))
	require.NoError(t, err)
	assert.True(t, doc.PINRequired)
	assert.Equal(t, "block", doc.Save.Default)
}

func TestParseDocumentRejectsUnknownKeys(t *testing.T) {
	for name, data := range map[string]string{
		"top level": "version: \"1\"\nsaves:\n  default: block\n",
		"nested":    "version: \"1\"\nsave:\n  defualt: block\n",
		"json":      `{"version":"1","pinRequried":true}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDocument([]byte(data))
			assert.ErrorIs(t, err, domain.ErrPolicyInvalid)
		})
	}

	doc, err := ParseDocument(nil)
	require.NoError(t, err)
	assert.Empty(t, doc.Version)
}

func TestParseDocumentGarbage(t *testing.T) {
	_, err := ParseDocument([]byte("version: [unterminated"))
	assert.ErrorIs(t, err, domain.ErrPolicyInvalid)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	doc := &Document{
		Version: "2",
		Save: LocationSpec{
			Default:   "sometimes",
			Locations: map[string]string{"ftp": "allow"},
		},
		URLs: URLSpec{
			Default: "managed_only",
			Rules: []URLRuleSpec{
				{ID: "a", Pattern: "*.x", Action: "block"},
				{ID: "a", Pattern: "", Action: ""},
			},
			Rego: &RegoSpec{},
		},
		DocumentPicker: PickerSpec{Modes: map[string]string{"print": "block"}},
		Notification:   "loud",
	}

	err := doc.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedVersion)
	assert.ErrorIs(t, err, domain.ErrPolicyInvalid)

	msg := err.Error()
	for _, want := range []string{
		"save.default", "ftp", "urls.default", "duplicate rule id", "pattern is required",
		"action is required", "urls.rego", "print", "notificationPolicy",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateRequiresVersion(t *testing.T) {
	err := (&Document{}).Validate()
	assert.ErrorIs(t, err, domain.ErrPolicyInvalid)
}

func TestValidateRejectsAliasedKeys(t *testing.T) {
	doc := &Document{
		Version: "1",
		Save: LocationSpec{
			Locations: map[string]string{"google_drive": "allow", "Google-Drive": "block"},
			Accounts: map[string]AccountSpec{
				"User@Contoso.com": {Default: "block"},
				"user@contoso.com": {
					Default:   "allow",
					Locations: map[string]string{"local drive": "block", "LOCAL_DRIVE": "allow"},
				},
			},
		},
		Open: LocationSpec{
			Locations: map[string]string{"camera": "allow", " Camera ": "block"},
		},
		DocumentPicker: PickerSpec{Modes: map[string]string{"export": "allow", "Export": "block"}},
	}

	err := doc.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPolicyInvalid)

	msg := err.Error()
	for _, want := range []string{
		`save.locations: "Google-Drive" and "google_drive"`,
		`save.accounts: "User@Contoso.com" and "user@contoso.com"`,
		`save.accounts.user@contoso.com.locations: "LOCAL_DRIVE" and "local drive"`,
		`open.locations: " Camera " and "camera"`,
		`documentPicker.modes: "Export" and "export"`,
	} {
		assert.Contains(t, msg, want)
	}

	_, err = doc.ToDomain(context.Background(), BuildOptions{})
	assert.ErrorIs(t, err, domain.ErrPolicyInvalid)
}

func TestValidateAcceptsDistinctKeys(t *testing.T) {
	doc := &Document{
		Version: "1",
		Save: LocationSpec{
			Locations: map[string]string{"Google-Drive": "block", "box": "allow"},
			Accounts: map[string]AccountSpec{
				"user@contoso.com":  {Default: "block"},
				"admin@contoso.com": {Default: "allow"},
			},
		},
	}
	require.NoError(t, doc.Validate())

	snap, err := doc.ToDomain(context.Background(), BuildOptions{})
	require.NoError(t, err)
	f := policy.NewStatic(snap)
	assert.False(t, f.IsSaveToAllowed(domain.SaveLocationGoogleDrive, domain.NoAccount))
	assert.True(t, f.IsSaveToAllowed(domain.SaveLocationBox, domain.AccountName("User@Contoso.com")))
	assert.False(t, f.IsSaveToAllowed(domain.SaveLocationDropbox, domain.AccountName("User@Contoso.com")))
	assert.True(t, f.IsSaveToAllowed(domain.SaveLocationDropbox, domain.AccountName("admin@contoso.com")))
}

func TestLoadDocumentNotFound(t *testing.T) {
	_, err := LoadDocument(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
}

func TestToDomainBadRego(t *testing.T) {
	doc := &Document{
		Version: "1",
		URLs: URLSpec{Rego: &RegoSpec{Modules: map[string]string{
			"bad.rego": "package mam.url\n\ndecision := {",
		}}},
	}
	_, err := doc.ToDomain(context.Background(), BuildOptions{})
	assert.Error(t, err)
}

func TestToDomainDefaultsAreUnmanaged(t *testing.T) {
	snap, err := (&Document{Version: "1.0"}).ToDomain(context.Background(), BuildOptions{})
	require.NoError(t, err)

	f := policy.NewStatic(snap)
	for _, allowed := range f.SaveToLocations(domain.NoAccount) {
		assert.True(t, allowed)
	}
	assert.True(t, f.IsContactSyncAllowed())
	assert.True(t, f.IsAppSharingAllowed())
	assert.False(t, f.IsPINRequired())
	assert.Equal(t, domain.NotificationAllow, f.NotificationPolicy())
}
