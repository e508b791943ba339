package policy

import "github.com/polisai/polis-mam/pkg/domain"

// Report is the full decision table for one account, as rendered by the CLI
// inspect command and the /v1/policy endpoint.
type Report struct {
	SnapshotID     string          `json:"snapshotId,omitempty" yaml:"snapshotId,omitempty"`
	Generation     int64           `json:"generation" yaml:"generation"`
	Account        string          `json:"account,omitempty" yaml:"account,omitempty"`
	PINRequired    bool            `json:"pinRequired" yaml:"pinRequired"`
	SaveTo         map[string]bool `json:"saveTo" yaml:"saveTo"`
	OpenFrom       map[string]bool `json:"openFrom" yaml:"openFrom"`
	DocumentPicker map[string]bool `json:"documentPicker" yaml:"documentPicker"`

	ManagedBrowserRequired         bool   `json:"managedBrowserRequired" yaml:"managedBrowserRequired"`
	ContactSyncAllowed             bool   `json:"contactSyncAllowed" yaml:"contactSyncAllowed"`
	SpotlightIndexingAllowed       bool   `json:"spotlightIndexingAllowed" yaml:"spotlightIndexingAllowed"`
	SiriIntentsAllowed             bool   `json:"siriIntentsAllowed" yaml:"siriIntentsAllowed"`
	AppSharingAllowed              bool   `json:"appSharingAllowed" yaml:"appSharingAllowed"`
	FileProviderEncryptionRequired bool   `json:"fileProviderEncryptionRequired" yaml:"fileProviderEncryptionRequired"`
	FileEncryptionRequired         bool   `json:"fileEncryptionRequired" yaml:"fileEncryptionRequired"`
	NotificationPolicy             string `json:"notificationPolicy" yaml:"notificationPolicy"`
}

// BuildReport answers every account-scoped and global query from a single
// pinned snapshot.
func (f *Facade) BuildReport(acct domain.Account) Report {
	pinned := f.Pin()
	snap := pinned.Snapshot()

	report := Report{
		SnapshotID:     snap.ID,
		Generation:     snap.Generation,
		PINRequired:    pinned.IsPINRequired(),
		SaveTo:         make(map[string]bool),
		OpenFrom:       make(map[string]bool),
		DocumentPicker: make(map[string]bool),

		ManagedBrowserRequired:         pinned.IsManagedBrowserRequired(),
		ContactSyncAllowed:             pinned.IsContactSyncAllowed(),
		SpotlightIndexingAllowed:       pinned.IsSpotlightIndexingAllowed(),
		SiriIntentsAllowed:             pinned.AreSiriIntentsAllowed(),
		AppSharingAllowed:              pinned.IsAppSharingAllowed(),
		FileProviderEncryptionRequired: pinned.ShouldFileProviderEncryptFiles(),
		FileEncryptionRequired:         pinned.IsFileEncryptionRequired(),
		NotificationPolicy:             pinned.NotificationPolicy().String(),
	}
	if acct.Present() {
		report.Account = acct.Name()
	}

	for loc, allowed := range pinned.SaveToLocations(acct) {
		report.SaveTo[loc.String()] = allowed
	}
	for loc, allowed := range pinned.OpenFromLocations(acct) {
		report.OpenFrom[loc.String()] = allowed
	}
	for _, mode := range domain.AllDocumentPickerModes() {
		report.DocumentPicker[mode.String()] = pinned.IsDocumentPickerAllowed(mode)
	}
	return report
}
