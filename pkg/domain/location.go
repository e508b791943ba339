package domain

import (
	"fmt"
	"strings"
)

// SaveLocation classifies the destination of an outbound file save. It is a
// single tag per call, never a combination of locations.
type SaveLocation uint8

const (
	SaveLocationOther SaveLocation = iota
	SaveLocationOneDriveForBusiness
	SaveLocationSharePoint
	SaveLocationBox
	SaveLocationDropbox
	SaveLocationGoogleDrive
	SaveLocationLocalDrive
	SaveLocationCameraRoll
	// SaveLocationAccountDocument is used when the destination is not listed
	// but is accessed with a managed account.
	SaveLocationAccountDocument
)

var saveLocationNames = [...]string{
	SaveLocationOther:               "other",
	SaveLocationOneDriveForBusiness: "onedrive_for_business",
	SaveLocationSharePoint:          "sharepoint",
	SaveLocationBox:                 "box",
	SaveLocationDropbox:             "dropbox",
	SaveLocationGoogleDrive:         "google_drive",
	SaveLocationLocalDrive:          "local_drive",
	SaveLocationCameraRoll:          "camera_roll",
	SaveLocationAccountDocument:     "account_document",
}

// wire codes used by the platform SDK
var saveLocationCodes = [...]int{
	SaveLocationOther:               0,
	SaveLocationOneDriveForBusiness: 1 << 0,
	SaveLocationSharePoint:          1 << 1,
	SaveLocationBox:                 1 << 2,
	SaveLocationDropbox:             1 << 3,
	SaveLocationGoogleDrive:         1 << 4,
	SaveLocationLocalDrive:          1 << 5,
	SaveLocationCameraRoll:          1 << 6,
	SaveLocationAccountDocument:     1 << 7,
}

// AllSaveLocations returns every declared save location in declaration order.
func AllSaveLocations() []SaveLocation {
	out := make([]SaveLocation, len(saveLocationNames))
	for i := range saveLocationNames {
		out[i] = SaveLocation(i)
	}
	return out
}

// Valid reports whether l is one of the declared save locations.
func (l SaveLocation) Valid() bool {
	return int(l) < len(saveLocationNames)
}

// Normalize maps undeclared values to SaveLocationOther.
func (l SaveLocation) Normalize() SaveLocation {
	if !l.Valid() {
		return SaveLocationOther
	}
	return l
}

func (l SaveLocation) String() string {
	return saveLocationNames[l.Normalize()]
}

// Code returns the SDK wire value for the location.
func (l SaveLocation) Code() int {
	return saveLocationCodes[l.Normalize()]
}

// MarshalText implements encoding.TextMarshaler.
func (l SaveLocation) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *SaveLocation) UnmarshalText(text []byte) error {
	parsed, err := ParseSaveLocation(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseSaveLocation resolves a configuration name such as "google_drive".
func ParseSaveLocation(name string) (SaveLocation, error) {
	key := normalizeName(name)
	for i, candidate := range saveLocationNames {
		if candidate == key {
			return SaveLocation(i), nil
		}
	}
	return SaveLocationOther, fmt.Errorf("%w: save location %q", ErrUnknownLocation, name)
}

// SaveLocationFromCode maps an SDK wire value to its tag. Unknown or combined
// values map to SaveLocationOther.
func SaveLocationFromCode(code int) SaveLocation {
	for i, candidate := range saveLocationCodes {
		if candidate == code {
			return SaveLocation(i)
		}
	}
	return SaveLocationOther
}

// OpenLocation classifies the source of an inbound file open.
type OpenLocation uint8

const (
	OpenLocationOther OpenLocation = iota
	OpenLocationOneDriveForBusiness
	OpenLocationSharePoint
	OpenLocationCamera
	OpenLocationLocalStorage
	// OpenLocationAccountDocument is used for documents carrying a managed
	// account identity, or unlisted sources accessed with a managed account.
	OpenLocationAccountDocument
)

var openLocationNames = [...]string{
	OpenLocationOther:               "other",
	OpenLocationOneDriveForBusiness: "onedrive_for_business",
	OpenLocationSharePoint:          "sharepoint",
	OpenLocationCamera:              "camera",
	OpenLocationLocalStorage:        "local_storage",
	OpenLocationAccountDocument:     "account_document",
}

var openLocationCodes = [...]int{
	OpenLocationOther:               0,
	OpenLocationOneDriveForBusiness: 1 << 0,
	OpenLocationSharePoint:          1 << 1,
	OpenLocationCamera:              1 << 2,
	OpenLocationLocalStorage:        1 << 3,
	OpenLocationAccountDocument:     1 << 4,
}

// AllOpenLocations returns every declared open location in declaration order.
func AllOpenLocations() []OpenLocation {
	out := make([]OpenLocation, len(openLocationNames))
	for i := range openLocationNames {
		out[i] = OpenLocation(i)
	}
	return out
}

// Valid reports whether l is one of the declared open locations.
func (l OpenLocation) Valid() bool {
	return int(l) < len(openLocationNames)
}

// Normalize maps undeclared values to OpenLocationOther.
func (l OpenLocation) Normalize() OpenLocation {
	if !l.Valid() {
		return OpenLocationOther
	}
	return l
}

func (l OpenLocation) String() string {
	return openLocationNames[l.Normalize()]
}

// Code returns the SDK wire value for the location.
func (l OpenLocation) Code() int {
	return openLocationCodes[l.Normalize()]
}

// MarshalText implements encoding.TextMarshaler.
func (l OpenLocation) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *OpenLocation) UnmarshalText(text []byte) error {
	parsed, err := ParseOpenLocation(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseOpenLocation resolves a configuration name such as "local_storage".
func ParseOpenLocation(name string) (OpenLocation, error) {
	key := normalizeName(name)
	for i, candidate := range openLocationNames {
		if candidate == key {
			return OpenLocation(i), nil
		}
	}
	return OpenLocationOther, fmt.Errorf("%w: open location %q", ErrUnknownLocation, name)
}

// OpenLocationFromCode maps an SDK wire value to its tag. Unknown or combined
// values map to OpenLocationOther.
func OpenLocationFromCode(code int) OpenLocation {
	for i, candidate := range openLocationCodes {
		if candidate == code {
			return OpenLocation(i)
		}
	}
	return OpenLocationOther
}

// normalizeName accepts "Google-Drive", "google drive" and "google_drive" alike.
func normalizeName(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	return key
}
