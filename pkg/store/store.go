// Package store defines the persistence contracts for the Sentinel detection
// service: per-device sound profiles, notification policy entries, detection
// history, and the device inventory.
//
// The interfaces here are consumed by the matching and policy components;
// implementations live in subpackages ([postgres] for the production store,
// [mock] for an in-memory test double). All implementations must be safe for
// concurrent use.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Polarity states whether a custom sound profile should trigger or suppress
// notifications when it matches.
type Polarity string

const (
	// PolaritySpecific profiles fire a notification on match.
	PolaritySpecific Polarity = "specific"

	// PolarityExcluded profiles suppress notification on match, even when the
	// matched sound would otherwise be a priority label.
	PolarityExcluded Polarity = "excluded"
)

// IsValid reports whether p is a recognised polarity.
func (p Polarity) IsValid() bool {
	return p == PolaritySpecific || p == PolarityExcluded
}

// PolicyKind distinguishes the two device-scoped label lists.
type PolicyKind string

const (
	// KindPriority labels always notify when detected.
	KindPriority PolicyKind = "priority"

	// KindExcluded labels never notify when detected.
	KindExcluded PolicyKind = "excluded"
)

// IsValid reports whether k is a recognised policy kind.
func (k PolicyKind) IsValid() bool {
	return k == KindPriority || k == KindExcluded
}

// DefaultThreshold is the similarity threshold applied to new sound profiles
// when the caller does not supply one.
const DefaultThreshold = 0.75

// SoundProfile is a user-trained custom sound owned by a single device.
//
// Samples holds the embedding of every training recording; Centroid is their
// elementwise mean and is recomputed from Samples on every write, never
// carried forward from a previous version of the row.
type SoundProfile struct {
	ID        string      `json:"id"`
	DeviceID  string      `json:"device_id"`
	Name      string      `json:"name"`
	Polarity  Polarity    `json:"polarity"`
	Samples   [][]float32 `json:"samples,omitempty"`
	Centroid  []float32   `json:"centroid,omitempty"`
	Threshold float64     `json:"threshold"`
	CreatedAt time.Time   `json:"created_at"`
}

// PolicySets are a device's two label lists. A label never appears in both;
// adding to one kind evicts any entry of the other kind for the same label.
type PolicySets struct {
	Priority []string `json:"priority"`
	Excluded []string `json:"excluded"`
}

// DetectionRecord is one classified segment. Immutable once appended; removed
// only by a device-scoped purge.
type DetectionRecord struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	IsCustom   bool      `json:"is_custom"`
	// CustomPolarity is set only when IsCustom is true.
	CustomPolarity Polarity  `json:"custom_polarity,omitempty"`
	ShouldNotify   bool      `json:"should_notify"`
	Embedding      []float32 `json:"embedding,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Device is an edge microphone device in the inventory. Devices are keyed by
// generated ID but deduplicated on registration by MAC address.
type Device struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	IPAddress      string    `json:"ip_address"`
	MACAddress     string    `json:"mac_address"`
	Model          string    `json:"model"`
	ModelImageURL  string    `json:"model_image_url,omitempty"`
	MicrophoneInfo string    `json:"microphone_info,omitempty"`
	WiFiSignal     int       `json:"wifi_signal"`
	Status         string    `json:"status"`
	LastSeen       time.Time `json:"last_seen"`
	CreatedAt      time.Time `json:"created_at"`
}

// ProfileStore persists custom sound profiles.
type ProfileStore interface {
	// Profiles returns all profiles owned by deviceID. The returned slice is
	// a snapshot; mutating it does not affect the store.
	Profiles(ctx context.Context, deviceID string) ([]SoundProfile, error)

	// UpsertProfile inserts p or, when a profile with the same (device, name)
	// already exists, appends p.Samples to the existing samples. In both
	// cases the stored centroid is recomputed from the full sample set before
	// the write; any caller-supplied Centroid is ignored. p.ID and
	// p.CreatedAt are populated on insert.
	UpsertProfile(ctx context.Context, p *SoundProfile) error

	// DeleteProfile removes the profile with the given ID.
	// Returns ErrNotFound when it does not exist.
	DeleteProfile(ctx context.Context, id string) error
}

// PolicyStore persists per-device priority/excluded label sets.
type PolicyStore interface {
	// PolicySets returns both label sets for deviceID. Missing devices yield
	// empty sets, not an error.
	PolicySets(ctx context.Context, deviceID string) (PolicySets, error)

	// AddPolicy adds name under kind for deviceID and atomically evicts any
	// entry of the opposite kind for the same (case-insensitive) name. The
	// eviction and insert are a single transaction: no reader may observe the
	// name under both kinds.
	AddPolicy(ctx context.Context, deviceID, name string, kind PolicyKind) error

	// RemovePolicy removes name under kind for deviceID.
	// Removing an absent entry is not an error.
	RemovePolicy(ctx context.Context, deviceID, name string, kind PolicyKind) error
}

// DetectionStore persists the detection history.
type DetectionStore interface {
	// AppendDetection stores rec. Records are immutable after this call.
	AppendDetection(ctx context.Context, rec *DetectionRecord) error

	// Detections returns up to limit records for deviceID, newest first,
	// along with the total record count for the device.
	Detections(ctx context.Context, deviceID string, limit int) ([]DetectionRecord, int, error)

	// PurgeDetections deletes every record owned by deviceID and returns the
	// number removed.
	PurgeDetections(ctx context.Context, deviceID string) (int, error)
}

// DeviceStore persists the device inventory.
type DeviceStore interface {
	// RegisterDevice inserts d or, when a device with the same MAC address
	// exists, updates it in place and reuses its ID. Reports created=true on
	// insert. d.ID, d.Status and d.LastSeen are populated.
	RegisterDevice(ctx context.Context, d *Device) (created bool, err error)

	// Devices lists all devices, most recently seen first.
	Devices(ctx context.Context) ([]Device, error)

	// UpdateDevice applies telemetry fields (wifi signal, microphone info,
	// last seen) from d to the device with d.ID. Returns ErrNotFound when
	// the device does not exist.
	UpdateDevice(ctx context.Context, d *Device) error

	// DeleteDevice removes the device and cascades to its detections and
	// profiles.
	DeleteDevice(ctx context.Context, id string) error
}

// Store composes all four persistence contracts. The production PostgreSQL
// implementation satisfies this; components should still accept the narrow
// interface they actually need.
type Store interface {
	ProfileStore
	PolicyStore
	DetectionStore
	DeviceStore
}
