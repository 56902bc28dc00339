package ble

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// decoder parses one wire format into an Advertisement.
//
// Decoders are pure: they fill only the fields present on the wire and
// never assign SourceProxy or ObservedAt (the ingest pipeline owns
// attribution). A decoder returns ErrNotThisFormat when the payload does
// not belong to its format so the chain can continue.
type decoder func(payload []byte) (*Advertisement, error)

// decoderChain is consulted in fixed priority order, most specific
// format first. The generic flat decoder is the fallback and must stay
// last: its loose shape would otherwise shadow the specific formats.
var decoderChain = []decoder{
	decodeESPHome,
	decodeSmartbed,
	decodeGeneric,
}

// Decode parses a raw broker payload by trying each known wire format in
// priority order.
//
// Returns the Advertisement from the first decoder that accepts the
// payload, or ErrUnknownFormat when every decoder rejects it. Any error
// other than a format rejection (e.g. a recognizable payload carrying an
// unusable MAC) is returned as-is.
func Decode(payload []byte) (*Advertisement, error) {
	for _, dec := range decoderChain {
		adv, err := dec(payload)
		if err == nil {
			return adv, nil
		}
		if !errors.Is(err, ErrNotThisFormat) {
			return nil, err
		}
	}
	return nil, ErrUnknownFormat
}

// espHomeEnvelope is the nested payload shape ESPHome BLE proxies
// publish: the advertisement sits under a dedicated top-level key.
type espHomeEnvelope struct {
	Advertisement *espHomeAdvertisement `json:"bluetooth_le_advertisement"`
}

type espHomeAdvertisement struct {
	Address          string            `json:"address"`
	RSSI             int               `json:"rssi"`
	Name             string            `json:"name"`
	ManufacturerData map[string]string `json:"manufacturer_data"`
	ServiceUUIDs     []string          `json:"service_uuids"`
}

// decodeESPHome parses the ESPHome proxy format.
//
// The presence of the "bluetooth_le_advertisement" envelope key is the
// format signature; anything else is rejected as not-this-format.
func decodeESPHome(payload []byte) (*Advertisement, error) {
	var env espHomeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Advertisement == nil {
		return nil, ErrNotThisFormat
	}

	inner := env.Advertisement
	if inner.Address == "" {
		return nil, ErrNotThisFormat
	}

	mac, err := NormalizeMAC(inner.Address)
	if err != nil {
		return nil, fmt.Errorf("esphome advertisement: %w", err)
	}

	return &Advertisement{
		MAC:              mac,
		RSSI:             inner.RSSI,
		Name:             inner.Name,
		ManufacturerData: parseManufacturerData(inner.ManufacturerData),
		ServiceUUIDs:     normalizeUUIDs(inner.ServiceUUIDs),
	}, nil
}

// smartbedPayload is the compact format published by smartbed proxies.
type smartbedPayload struct {
	Addr string            `json:"addr"`
	RSSI int               `json:"rssi"`
	Name string            `json:"name"`
	Mfg  map[string]string `json:"mfg"`
	Svcs []string          `json:"svcs"`
}

// decodeSmartbed parses the compact smartbed proxy format, signed by its
// "addr" key.
func decodeSmartbed(payload []byte) (*Advertisement, error) {
	var p smartbedPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Addr == "" {
		return nil, ErrNotThisFormat
	}

	mac, err := NormalizeMAC(p.Addr)
	if err != nil {
		return nil, fmt.Errorf("smartbed advertisement: %w", err)
	}

	return &Advertisement{
		MAC:              mac,
		RSSI:             p.RSSI,
		Name:             p.Name,
		ManufacturerData: parseManufacturerData(p.Mfg),
		ServiceUUIDs:     normalizeUUIDs(p.Svcs),
	}, nil
}

// genericPayload is the flat fallback format: a top-level object with a
// "mac" or "address" key and optional well-known fields.
type genericPayload struct {
	MAC              string            `json:"mac"`
	Address          string            `json:"address"`
	RSSI             int               `json:"rssi"`
	Name             string            `json:"name"`
	ManufacturerData map[string]string `json:"manufacturer_data"`
	ServiceUUIDs     []string          `json:"service_uuids"`
}

// decodeGeneric parses the flat fallback format. It accepts any JSON
// object carrying a device address; every other field is optional.
func decodeGeneric(payload []byte) (*Advertisement, error) {
	var p genericPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, ErrNotThisFormat
	}

	raw := p.MAC
	if raw == "" {
		raw = p.Address
	}
	if raw == "" {
		return nil, ErrNotThisFormat
	}

	mac, err := NormalizeMAC(raw)
	if err != nil {
		return nil, fmt.Errorf("generic advertisement: %w", err)
	}

	return &Advertisement{
		MAC:              mac,
		RSSI:             p.RSSI,
		Name:             p.Name,
		ManufacturerData: parseManufacturerData(p.ManufacturerData),
		ServiceUUIDs:     normalizeUUIDs(p.ServiceUUIDs),
	}, nil
}

// parseManufacturerData converts the wire map (company ID as decimal or
// hex string, value as hex bytes) to the canonical representation.
// Entries that cannot be parsed are skipped; partial manufacturer data
// is still useful for classification.
func parseManufacturerData(raw map[string]string) map[uint16][]byte {
	if len(raw) == 0 {
		return nil
	}

	out := make(map[uint16][]byte, len(raw))
	for key, value := range raw {
		id, err := parseCompanyID(key)
		if err != nil {
			continue
		}
		data, err := hex.DecodeString(value)
		if err != nil {
			continue
		}
		out[id] = data
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseCompanyID accepts decimal ("76"), 0x-prefixed ("0x004C"), and
// bare-hex ("004c") company identifiers.
func parseCompanyID(key string) (uint16, error) {
	key = strings.TrimSpace(key)
	if v, err := strconv.ParseUint(key, 10, 16); err == nil {
		return uint16(v), nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(key), "0x"), 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// normalizeUUIDs canonicalizes each service UUID, dropping empties.
func normalizeUUIDs(raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, u := range raw {
		if n := NormalizeUUID(u); n != "" {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
