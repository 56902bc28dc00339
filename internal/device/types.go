package device

import (
	"time"

	"github.com/fernvale/ble-scanner-core/internal/ble"
)

// DeviceRecord is the durable, authoritative state for one BLE device,
// keyed by canonical MAC. Records are created on first accepted
// advertisement or by explicit manual add, mutated only through the
// Registry, and destroyed only by explicit removal. There is no
// time-based eviction: a device "going stale" is a display concern, not
// a registry concern.
type DeviceRecord struct {
	// MAC is the canonical uppercase colon-separated address (identity key).
	MAC string `json:"mac"`

	// Kind is the classified manufacturer/protocol family.
	Kind ble.DeviceKind `json:"kind"`

	// DisplayName is the user-facing name. Defaults to the advertised
	// local name on creation; user edits override and are never clobbered
	// by later advertisements.
	DisplayName string `json:"display_name,omitempty"`

	// LastRSSI is the signal strength (dBm) of the latest accepted observation.
	LastRSSI int `json:"last_rssi"`

	// LastSeenAt is the ObservedAt of the latest accepted observation.
	// Monotonic: stale (older) observations never move it backwards.
	LastSeenAt time.Time `json:"last_seen_at"`

	// LastProxy identifies the proxy that reported the latest observation.
	LastProxy string `json:"last_proxy,omitempty"`

	// FirstSeenAt is set on creation and never changes afterwards.
	FirstSeenAt time.Time `json:"first_seen_at"`

	// Manual marks records created via explicit add rather than observation.
	Manual bool `json:"manual"`

	// DiscoveryPublished records whether the discovery announcement for
	// this device has been handed to the MQTT layer.
	DiscoveryPublished bool `json:"discovery_published"`

	// ManufacturerData is the advertising-data snapshot from the last
	// classification. Kept so reclassification runs only when the
	// advertised data actually changes, not on every observation.
	ManufacturerData map[uint16][]byte `json:"manufacturer_data,omitempty"`

	// ServiceUUIDs is the service-UUID snapshot from the last classification.
	ServiceUUIDs []string `json:"service_uuids,omitempty"`

	// UpdatedAt is bumped on every persisted mutation.
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the record.
//
// The registry hands out copies so callers can never mutate cached state
// behind its back; the cost is trivial next to the SQLite write that
// accompanies every real mutation.
func (d *DeviceRecord) DeepCopy() *DeviceRecord {
	if d == nil {
		return nil
	}

	clone := *d

	if d.ManufacturerData != nil {
		clone.ManufacturerData = make(map[uint16][]byte, len(d.ManufacturerData))
		for id, data := range d.ManufacturerData {
			buf := make([]byte, len(data))
			copy(buf, data)
			clone.ManufacturerData[id] = buf
		}
	}

	if d.ServiceUUIDs != nil {
		clone.ServiceUUIDs = make([]string, len(d.ServiceUUIDs))
		copy(clone.ServiceUUIDs, d.ServiceUUIDs)
	}

	return &clone
}

// advertisingDataChanged reports whether the advertisement carries
// different manufacturer data or service UUIDs than the stored snapshot.
// Only then is reclassification worth running.
func (d *DeviceRecord) advertisingDataChanged(adv *ble.Advertisement) bool {
	if !manufacturerDataEqual(d.ManufacturerData, adv.ManufacturerData) {
		return true
	}
	return !uuidSetsEqual(d.ServiceUUIDs, adv.ServiceUUIDs)
}

func manufacturerDataEqual(a, b map[uint16][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for id, data := range a {
		other, ok := b[id]
		if !ok || len(data) != len(other) {
			return false
		}
		for i := range data {
			if data[i] != other[i] {
				return false
			}
		}
	}
	return true
}

// uuidSetsEqual compares service UUID lists as sets: the wire order of
// advertised services carries no meaning.
func uuidSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, u := range a {
		seen[u]++
	}
	for _, u := range b {
		seen[u]--
		if seen[u] < 0 {
			return false
		}
	}
	return true
}
