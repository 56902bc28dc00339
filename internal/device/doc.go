// Package device maintains the authoritative registry of observed BLE
// devices.
//
// The Registry is the single writer of durable state: observations flow
// in through Apply, explicit user actions through AddManual,
// SetDisplayName, and Remove, and everything else in the system only
// reads copies. Persistence is synchronous per accepted mutation through
// the Repository interface (SQLite in production, in-memory mocks in
// tests), with an in-memory cache in front for cheap reads.
//
// Concurrency model: the create-vs-update decision for one MAC is
// serialized on a per-MAC shard lock, so duplicate and reordered
// deliveries of the same device never race into two records, while
// observations of distinct devices apply in parallel.
package device
