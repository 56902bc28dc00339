package ble

import (
	"fmt"
	"strings"
	"time"
)

// Advertisement is a single normalized BLE advertisement observation.
//
// It is ephemeral: one Advertisement is produced per accepted broker
// message and consumed by the registry. Durable state lives in
// device.DeviceRecord.
type Advertisement struct {
	// MAC is the canonical uppercase colon-separated device address,
	// e.g. "AA:BB:CC:DD:EE:FF". Always normalized; see NormalizeMAC.
	MAC string

	// RSSI is the received signal strength in dBm (negative).
	RSSI int

	// Name is the advertised local name, empty if not broadcast.
	Name string

	// ManufacturerData maps the 16-bit Bluetooth SIG company identifier
	// to the raw manufacturer-specific bytes.
	ManufacturerData map[uint16][]byte

	// ServiceUUIDs holds advertised service UUIDs in canonical lowercase
	// 128-bit form (16- and 32-bit short UUIDs are expanded).
	ServiceUUIDs []string

	// SourceProxy identifies the ESP32 proxy that reported this
	// observation, extracted from the matched topic filter.
	SourceProxy string

	// ObservedAt is assigned at ingestion and orders observations.
	ObservedAt time.Time
}

// bluetoothBaseUUIDSuffix completes a short UUID to the Bluetooth SIG
// 128-bit base form.
const bluetoothBaseUUIDSuffix = "-0000-1000-8000-00805f9b34fb"

// NormalizeMAC converts any common textual MAC spelling to the canonical
// uppercase colon-separated form.
//
// Accepted inputs: colon-separated ("aa:bb:cc:dd:ee:ff"), dash-separated
// ("AA-BB-CC-DD-EE-FF"), dot-grouped ("aabb.ccdd.eeff"), and bare 12-hex
// ("aabbccddeeff"), in any case. Normalization is load-bearing: two
// spellings of the same address must collide into one registry record.
//
// Returns ErrInvalidMAC if the input does not contain exactly 12 hex digits.
func NormalizeMAC(raw string) (string, error) {
	var hex []byte
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
			hex = append(hex, byte(r))
		case r >= 'a' && r <= 'f':
			hex = append(hex, byte(r)-'a'+'A')
		case r == ':' || r == '-' || r == '.':
			// separator, skip
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidMAC, raw)
		}
	}
	if len(hex) != 12 {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, raw)
	}

	var b strings.Builder
	b.Grow(17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.Write(hex[i : i+2])
	}
	return b.String(), nil
}

// NormalizeUUID converts a service UUID to canonical lowercase 128-bit
// dashed form. 16-bit ("fee7", "0xFEE7") and 32-bit short UUIDs are
// expanded against the Bluetooth base UUID. Inputs that are not a
// recognizable UUID are returned lowercased as-is; classification simply
// won't match them.
func NormalizeUUID(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "0x")

	switch len(s) {
	case 4:
		return "0000" + s + bluetoothBaseUUIDSuffix
	case 8:
		return s + bluetoothBaseUUIDSuffix
	case 32:
		return s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
	default:
		return s
	}
}
