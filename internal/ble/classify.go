package ble

import "strings"

// DeviceKind identifies the manufacturer/protocol family of a device.
//
// Classification is pure and total: every Advertisement maps to exactly
// one kind, defaulting to KindGenericBLE. Kinds are stable strings so
// they survive the database round-trip and the MQTT discovery payloads.
type DeviceKind string

const (
	KindRichmatGen2 DeviceKind = "richmat_gen2"
	KindLinak       DeviceKind = "linak"
	KindSolace      DeviceKind = "solace"
	KindMotoSleep   DeviceKind = "motosleep"
	KindReverie     DeviceKind = "reverie"
	KindKeeson      DeviceKind = "keeson"
	KindOcto        DeviceKind = "octo"
	KindGenericBLE  DeviceKind = "generic_ble"
)

// ValidKind reports whether s is a recognized DeviceKind value.
// Used when loading persisted records so an unknown stored kind is
// mapped back to generic rather than propagated.
func ValidKind(s string) bool {
	switch DeviceKind(s) {
	case KindRichmatGen2, KindLinak, KindSolace, KindMotoSleep,
		KindReverie, KindKeeson, KindOcto, KindGenericBLE:
		return true
	}
	return false
}

// The classification rule tables. Rules are data, not branching logic:
// adding support for a new controller family means adding a row, never
// touching Classify. Within each table order is first-match-wins.
//
// Precedence across tables is fixed: manufacturer-ID rules, then
// service-UUID rules, then advertised-name substrings. Manufacturer IDs
// are the strongest signal (assigned by the Bluetooth SIG), names the
// weakest (user-renameable on some controllers).

var manufacturerRules = []struct {
	id   uint16
	kind DeviceKind
}{
	{0x08D1, KindOcto},
	{0x0A4C, KindKeeson},
}

var serviceRules = []struct {
	uuid string
	kind DeviceKind
}{
	{"0000fee7-0000-1000-8000-00805f9b34fb", KindRichmatGen2},
	{"99fa0001-338a-1024-8a49-009c0215f78a", KindLinak},
}

var nameRules = []struct {
	substr string
	kind   DeviceKind
}{
	{"qrrm", KindRichmatGen2},
	{"ksbt", KindKeeson},
	{"base-i4", KindKeeson},
	{"hhc", KindMotoSleep},
	{"solace", KindSolace},
	{"revcb", KindReverie},
	{"rc2", KindOcto},
	{"linak", KindLinak},
}

// Classify maps an advertisement to its device kind.
//
// Pure, total, deterministic: the result depends only on manufacturer
// data, service UUIDs, and the advertised name. RSSI, timestamps, and
// the reporting proxy never influence classification, so repeated
// observations of the same physical device classify identically.
func Classify(adv *Advertisement) DeviceKind {
	for _, r := range manufacturerRules {
		if _, ok := adv.ManufacturerData[r.id]; ok {
			return r.kind
		}
	}

	for _, r := range serviceRules {
		for _, u := range adv.ServiceUUIDs {
			if u == r.uuid {
				return r.kind
			}
		}
	}

	if adv.Name != "" {
		name := strings.ToLower(adv.Name)
		for _, r := range nameRules {
			if strings.Contains(name, r.substr) {
				return r.kind
			}
		}
	}

	return KindGenericBLE
}
