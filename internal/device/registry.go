package device

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/fernvale/ble-scanner-core/internal/ble"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/logging"
)

// applyShards is the number of per-MAC mutation locks. Advertisements
// for distinct MACs apply concurrently; two observations of the same
// device serialize on its shard for the create-vs-update decision.
const applyShards = 32

// ScanGate reports whether the scanner is accepting observations.
// Implemented by scan.Controller; the registry only needs the answer.
type ScanGate interface {
	Running() bool
}

// Registry owns the exclusive, mutable collection of DeviceRecords.
//
// It is the single writer of durable state: the discovery publisher and
// the HTTP layer read copies or submit mutations through it, never
// touching records directly. Every accepted mutation is persisted
// synchronously through the Repository before the in-memory cache is
// updated, so a crash never leaves memory ahead of the store.
type Registry struct {
	repo   Repository
	gate   ScanGate
	logger *logging.Logger

	// cache mirrors the store for lock-cheap reads.
	cache   map[string]*DeviceRecord
	cacheMu sync.RWMutex

	// applyMu serializes mutations per MAC shard.
	applyMu [applyShards]sync.Mutex
}

// NewRegistry creates a registry. Call RefreshCache before serving.
func NewRegistry(repo Repository, gate ScanGate, logger *logging.Logger) *Registry {
	return &Registry{
		repo:   repo,
		gate:   gate,
		logger: logger,
		cache:  make(map[string]*DeviceRecord),
	}
}

// RefreshCache reloads the in-memory cache from the repository.
//
// Called at startup to restore state. An empty store is an empty
// registry, not an error; a corrupt store surfaces as ErrCorruptState
// from the repository and halts startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("refreshing device cache: %w", err)
	}

	cache := make(map[string]*DeviceRecord, len(records))
	for _, record := range records {
		cache[record.MAC] = record
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.cacheMu.Unlock()

	r.logger.Info("Device cache loaded", "devices", len(records))
	return nil
}

// Apply performs the atomic upsert for one observation.
//
// While the scan gate reports stopped, Apply is inert and returns
// ErrScanningDisabled. Otherwise: an unseen MAC creates a record
// (firstSeenAt = observedAt, classified from advertising data); a known
// MAC updates lastRssi, lastSeenAt, and lastProxy, reclassifying only
// when the advertising data differs from the stored snapshot. An
// observation older than the record's lastSeenAt is dropped with
// ErrStaleUpdate; equal timestamps are accepted so broker re-delivery
// refreshes rather than fails.
//
// Returns a copy of the resulting record and whether it was created.
func (r *Registry) Apply(ctx context.Context, adv *ble.Advertisement) (*DeviceRecord, bool, error) {
	if !r.gate.Running() {
		return nil, false, ErrScanningDisabled
	}

	lock := r.shard(adv.MAC)
	lock.Lock()
	defer lock.Unlock()

	existing := r.cached(adv.MAC)
	if existing == nil {
		record := newRecordFromAdvertisement(adv)
		if err := r.repo.Upsert(ctx, record); err != nil {
			return nil, false, fmt.Errorf("persisting new device %s: %w", adv.MAC, err)
		}
		r.storeCached(record)
		return record.DeepCopy(), true, nil
	}

	if adv.ObservedAt.Before(existing.LastSeenAt) {
		return existing.DeepCopy(), false, ErrStaleUpdate
	}

	updated := existing.DeepCopy()
	updated.LastRSSI = adv.RSSI
	updated.LastSeenAt = adv.ObservedAt
	updated.LastProxy = adv.SourceProxy
	updated.UpdatedAt = time.Now().UTC()

	// An advertised name fills an empty display name but never
	// overwrites a user-chosen one.
	if updated.DisplayName == "" && adv.Name != "" {
		updated.DisplayName = adv.Name
	}

	if updated.advertisingDataChanged(adv) {
		updated.Kind = ble.Classify(adv)
		updated.ManufacturerData = copyManufacturerData(adv.ManufacturerData)
		updated.ServiceUUIDs = copyUUIDs(adv.ServiceUUIDs)
	}

	if err := r.repo.Upsert(ctx, updated); err != nil {
		return nil, false, fmt.Errorf("persisting device %s: %w", adv.MAC, err)
	}
	r.storeCached(updated)
	return updated.DeepCopy(), false, nil
}

// Get returns a copy of the record for a MAC in any textual spelling.
func (r *Registry) Get(mac string) (*DeviceRecord, error) {
	canonical, err := ble.NormalizeMAC(mac)
	if err != nil {
		return nil, ErrDeviceNotFound
	}

	record := r.cached(canonical)
	if record == nil {
		return nil, ErrDeviceNotFound
	}
	return record.DeepCopy(), nil
}

// List returns copies of all records ordered by MAC. Ordering is for
// deterministic output only.
func (r *Registry) List() []*DeviceRecord {
	r.cacheMu.RLock()
	records := make([]*DeviceRecord, 0, len(r.cache))
	for _, record := range r.cache {
		records = append(records, record.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(records, func(i, j int) bool { return records[i].MAC < records[j].MAC })
	return records
}

// AddManual registers a device by explicit request rather than observation.
//
// Fails with ErrDeviceExists when the MAC already has a manual record.
// An existing observed record is promoted to manual, keeping its
// observation history; a fresh MAC creates a generic record.
func (r *Registry) AddManual(ctx context.Context, mac, displayName string) (*DeviceRecord, error) {
	canonical, err := ble.NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	lock := r.shard(canonical)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	existing := r.cached(canonical)

	var record *DeviceRecord
	switch {
	case existing != nil && existing.Manual:
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, canonical)
	case existing != nil:
		record = existing.DeepCopy()
		record.Manual = true
		record.DisplayName = displayName
		record.UpdatedAt = now
	default:
		record = &DeviceRecord{
			MAC:         canonical,
			Kind:        ble.KindGenericBLE,
			DisplayName: displayName,
			FirstSeenAt: now,
			LastSeenAt:  now,
			Manual:      true,
			UpdatedAt:   now,
		}
	}

	if err := r.repo.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting manual device %s: %w", canonical, err)
	}
	r.storeCached(record)
	return record.DeepCopy(), nil
}

// SetDisplayName applies a user edit to a device's display name.
func (r *Registry) SetDisplayName(ctx context.Context, mac, displayName string) (*DeviceRecord, error) {
	canonical, err := ble.NormalizeMAC(mac)
	if err != nil {
		return nil, ErrDeviceNotFound
	}

	lock := r.shard(canonical)
	lock.Lock()
	defer lock.Unlock()

	existing := r.cached(canonical)
	if existing == nil {
		return nil, ErrDeviceNotFound
	}

	record := existing.DeepCopy()
	record.DisplayName = displayName
	record.UpdatedAt = time.Now().UTC()

	if err := r.repo.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("persisting device %s: %w", canonical, err)
	}
	r.storeCached(record)
	return record.DeepCopy(), nil
}

// Remove deletes a device record. Manual and observed records alike are
// removed only through this explicit call.
func (r *Registry) Remove(ctx context.Context, mac string) error {
	canonical, err := ble.NormalizeMAC(mac)
	if err != nil {
		return ErrDeviceNotFound
	}

	lock := r.shard(canonical)
	lock.Lock()
	defer lock.Unlock()

	if r.cached(canonical) == nil {
		return ErrDeviceNotFound
	}

	if err := r.repo.Delete(ctx, canonical); err != nil {
		return fmt.Errorf("removing device %s: %w", canonical, err)
	}

	r.cacheMu.Lock()
	delete(r.cache, canonical)
	r.cacheMu.Unlock()
	return nil
}

// MarkDiscoveryPublished records that the discovery announcement for a
// device was handed to the MQTT layer. Idempotent.
func (r *Registry) MarkDiscoveryPublished(ctx context.Context, mac string) error {
	canonical, err := ble.NormalizeMAC(mac)
	if err != nil {
		return ErrDeviceNotFound
	}

	lock := r.shard(canonical)
	lock.Lock()
	defer lock.Unlock()

	existing := r.cached(canonical)
	if existing == nil {
		return ErrDeviceNotFound
	}
	if existing.DiscoveryPublished {
		return nil
	}

	record := existing.DeepCopy()
	record.DiscoveryPublished = true
	record.UpdatedAt = time.Now().UTC()

	if err := r.repo.Upsert(ctx, record); err != nil {
		return fmt.Errorf("persisting device %s: %w", canonical, err)
	}
	r.storeCached(record)
	return nil
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// ProxyCount returns the number of distinct proxies that reported the
// latest observations. Used for the scanner status message.
func (r *Registry) ProxyCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	proxies := make(map[string]struct{})
	for _, record := range r.cache {
		if record.LastProxy != "" {
			proxies[record.LastProxy] = struct{}{}
		}
	}
	return len(proxies)
}

// shard returns the mutation lock for a MAC.
func (r *Registry) shard(mac string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(mac)) //nolint:errcheck // fnv never fails
	return &r.applyMu[h.Sum32()%applyShards]
}

// cached returns the live cache entry (not a copy); callers must copy
// before exposing it.
func (r *Registry) cached(mac string) *DeviceRecord {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return r.cache[mac]
}

// storeCached replaces the cache entry with its own copy of record.
func (r *Registry) storeCached(record *DeviceRecord) {
	r.cacheMu.Lock()
	r.cache[record.MAC] = record.DeepCopy()
	r.cacheMu.Unlock()
}

// newRecordFromAdvertisement builds the initial record for an unseen MAC.
func newRecordFromAdvertisement(adv *ble.Advertisement) *DeviceRecord {
	return &DeviceRecord{
		MAC:              adv.MAC,
		Kind:             ble.Classify(adv),
		DisplayName:      adv.Name,
		LastRSSI:         adv.RSSI,
		LastSeenAt:       adv.ObservedAt,
		LastProxy:        adv.SourceProxy,
		FirstSeenAt:      adv.ObservedAt,
		ManufacturerData: copyManufacturerData(adv.ManufacturerData),
		ServiceUUIDs:     copyUUIDs(adv.ServiceUUIDs),
		UpdatedAt:        time.Now().UTC(),
	}
}

func copyManufacturerData(data map[uint16][]byte) map[uint16][]byte {
	if data == nil {
		return nil
	}
	out := make(map[uint16][]byte, len(data))
	for id, payload := range data {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		out[id] = buf
	}
	return out
}

func copyUUIDs(uuids []string) []string {
	if uuids == nil {
		return nil
	}
	out := make([]string, len(uuids))
	copy(out, uuids)
	return out
}
