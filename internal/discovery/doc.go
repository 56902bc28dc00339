// Package discovery republishes registry state onto the broker so the
// home-automation platform can surface each device as an entity.
//
// Three message families, all JSON:
//
//   - ble_scanner/discovered/{mac}: entity metadata, published once per
//     device (on creation or the first discoveryPublished transition)
//   - ble_scanner/device/{mac}/state: current presence/RSSI/last-seen,
//     published on every accepted observation
//   - ble_scanner/status: scanner-level status, published periodically
//     and on every scan start/stop transition
//
// Publication is best-effort and never gates registry correctness.
package discovery
