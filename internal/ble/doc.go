// Package ble turns raw broker messages into normalized advertisement
// observations.
//
// It holds the three pure stages at the front of the ingestion pipeline:
//
//   - TopicMatcher: MQTT topic-filter matching with proxy extraction
//   - Decode: ordered decoder chain over the known proxy wire formats
//     (ESPHome nested JSON, smartbed compact JSON, generic flat JSON)
//   - Classify: data-driven mapping of advertising data to a DeviceKind
//
// Everything here is stateless and side-effect free. MAC addresses are
// normalized to one canonical spelling inside the decoders so that every
// textual variant of an address collides into the same registry record.
package ble
