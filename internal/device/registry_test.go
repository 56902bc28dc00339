package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fernvale/ble-scanner-core/internal/ble"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/logging"
)

// mockRepository is an in-memory Repository for registry tests.
type mockRepository struct {
	mu      sync.Mutex
	records map[string]*DeviceRecord

	upsertErr error
	upserts   int
}

func newMockRepository() *mockRepository {
	return &mockRepository{records: make(map[string]*DeviceRecord)}
}

func (m *mockRepository) GetByMAC(_ context.Context, mac string) (*DeviceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[mac]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return record.DeepCopy(), nil
}

func (m *mockRepository) List(_ context.Context) ([]*DeviceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*DeviceRecord, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, record.DeepCopy())
	}
	return out, nil
}

func (m *mockRepository) Upsert(_ context.Context, record *DeviceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.records[record.MAC] = record.DeepCopy()
	return nil
}

func (m *mockRepository) Delete(_ context.Context, mac string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[mac]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.records, mac)
	return nil
}

// stubGate is a fixed-answer ScanGate.
type stubGate struct{ running bool }

func (g *stubGate) Running() bool { return g.running }

func newTestRegistry(t *testing.T, running bool) (*Registry, *mockRepository) {
	t.Helper()
	repo := newMockRepository()
	reg := NewRegistry(repo, &stubGate{running: running}, logging.Default())
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() unexpected error: %v", err)
	}
	return reg, repo
}

func testAdvertisement(mac string, observedAt time.Time) *ble.Advertisement {
	return &ble.Advertisement{
		MAC:         mac,
		RSSI:        -60,
		Name:        "QRRM0001",
		SourceProxy: "proxy1",
		ObservedAt:  observedAt,
	}
}

func TestApplyCreatesRecord(t *testing.T) {
	reg, repo := newTestRegistry(t, true)
	now := time.Now().UTC()

	record, isNew, err := reg.Apply(context.Background(), testAdvertisement("AA:BB:CC:DD:EE:FF", now))
	if err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}
	if !isNew {
		t.Error("isNew = false, want true for unseen MAC")
	}
	if record.MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("MAC = %q", record.MAC)
	}
	if record.Kind != ble.KindRichmatGen2 {
		t.Errorf("Kind = %q, want richmat_gen2 from the QRRM name rule", record.Kind)
	}
	if !record.FirstSeenAt.Equal(now) || !record.LastSeenAt.Equal(now) {
		t.Errorf("FirstSeenAt/LastSeenAt = %v/%v, want %v", record.FirstSeenAt, record.LastSeenAt, now)
	}
	if record.Manual {
		t.Error("Manual = true, want false for observed record")
	}

	// Persisted synchronously.
	stored, err := repo.GetByMAC(context.Background(), "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if stored.LastRSSI != -60 {
		t.Errorf("stored LastRSSI = %d, want -60", stored.LastRSSI)
	}
}

func TestApplyUpdatesExistingRecord(t *testing.T) {
	reg, _ := newTestRegistry(t, true)
	t0 := time.Now().UTC()

	if _, _, err := reg.Apply(context.Background(), testAdvertisement("AA:BB:CC:DD:EE:FF", t0)); err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}

	later := testAdvertisement("AA:BB:CC:DD:EE:FF", t0.Add(time.Second))
	later.RSSI = -45
	later.SourceProxy = "proxy2"

	record, isNew, err := reg.Apply(context.Background(), later)
	if err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}
	if isNew {
		t.Error("isNew = true, want false for known MAC")
	}
	if record.LastRSSI != -45 || record.LastProxy != "proxy2" {
		t.Errorf("LastRSSI/LastProxy = %d/%q, want -45/proxy2", record.LastRSSI, record.LastProxy)
	}
	if !record.FirstSeenAt.Equal(t0) {
		t.Error("FirstSeenAt changed on update; must be immutable")
	}
	if !record.LastSeenAt.Equal(t0.Add(time.Second)) {
		t.Errorf("LastSeenAt = %v, want the later timestamp", record.LastSeenAt)
	}
}

func TestApplyScanningDisabled(t *testing.T) {
	reg, repo := newTestRegistry(t, false)

	_, _, err := reg.Apply(context.Background(), testAdvertisement("AA:BB:CC:DD:EE:FF", time.Now()))
	if !errors.Is(err, ErrScanningDisabled) {
		t.Fatalf("Apply() error = %v, want ErrScanningDisabled", err)
	}
	if repo.upserts != 0 {
		t.Errorf("repository saw %d upserts while stopped, want 0", repo.upserts)
	}
}

// Observations applied in either arrival order must converge on the
// record of the newest observation.
func TestApplyMonotonicUnderReordering(t *testing.T) {
	t1 := time.Now().UTC()
	t2 := t1.Add(2 * time.Second)

	older := testAdvertisement("AA:BB:CC:DD:EE:FF", t1)
	older.RSSI = -80
	older.SourceProxy = "proxy1"
	newer := testAdvertisement("AA:BB:CC:DD:EE:FF", t2)
	newer.RSSI = -50
	newer.SourceProxy = "proxy2"

	for name, order := range map[string][]*ble.Advertisement{
		"in order":     {older, newer},
		"out of order": {newer, older},
	} {
		t.Run(name, func(t *testing.T) {
			reg, _ := newTestRegistry(t, true)
			for _, adv := range order {
				if _, _, err := reg.Apply(context.Background(), adv); err != nil && !errors.Is(err, ErrStaleUpdate) {
					t.Fatalf("Apply() unexpected error: %v", err)
				}
			}

			record, err := reg.Get("AA:BB:CC:DD:EE:FF")
			if err != nil {
				t.Fatalf("Get() unexpected error: %v", err)
			}
			if !record.LastSeenAt.Equal(t2) {
				t.Errorf("LastSeenAt = %v, want %v", record.LastSeenAt, t2)
			}
			if record.LastRSSI != -50 || record.LastProxy != "proxy2" {
				t.Errorf("record fields = %d/%q, want the newest observation's", record.LastRSSI, record.LastProxy)
			}
		})
	}
}

func TestApplyStaleObservationDropped(t *testing.T) {
	reg, repo := newTestRegistry(t, true)
	t0 := time.Now().UTC()

	if _, _, err := reg.Apply(context.Background(), testAdvertisement("AA:BB:CC:DD:EE:FF", t0)); err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}
	upsertsBefore := repo.upserts

	stale := testAdvertisement("AA:BB:CC:DD:EE:FF", t0.Add(-time.Minute))
	record, isNew, err := reg.Apply(context.Background(), stale)
	if !errors.Is(err, ErrStaleUpdate) {
		t.Fatalf("Apply() error = %v, want ErrStaleUpdate", err)
	}
	if isNew {
		t.Error("isNew = true for stale drop")
	}
	if record == nil || !record.LastSeenAt.Equal(t0) {
		t.Error("stale drop must return the unchanged record")
	}
	if repo.upserts != upsertsBefore {
		t.Error("stale drop must not persist anything")
	}
}

func TestApplyEqualTimestampAccepted(t *testing.T) {
	reg, _ := newTestRegistry(t, true)
	t0 := time.Now().UTC()

	if _, _, err := reg.Apply(context.Background(), testAdvertisement("AA:BB:CC:DD:EE:FF", t0)); err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}

	redelivery := testAdvertisement("AA:BB:CC:DD:EE:FF", t0)
	redelivery.RSSI = -33
	record, _, err := reg.Apply(context.Background(), redelivery)
	if err != nil {
		t.Fatalf("Apply() with equal timestamp error = %v, want accepted", err)
	}
	if record.LastRSSI != -33 {
		t.Errorf("LastRSSI = %d, want refreshed -33", record.LastRSSI)
	}
}

// Every spelling of one address must land in one record.
func TestApplySpellingsCollide(t *testing.T) {
	reg, _ := newTestRegistry(t, true)
	base := time.Now().UTC()

	spellings := []string{"AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff", "aabbccddeeff", "AA-BB-CC-DD-EE-FF"}
	for i, spelling := range spellings {
		// Advertisements reach Apply already normalized by the decoders;
		// simulate that here.
		mac, err := ble.NormalizeMAC(spelling)
		if err != nil {
			t.Fatalf("NormalizeMAC(%q) unexpected error: %v", spelling, err)
		}
		if _, _, err := reg.Apply(context.Background(), testAdvertisement(mac, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Apply() unexpected error: %v", err)
		}
	}

	if got := reg.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1 record for all spellings", got)
	}
}

func TestApplyReclassifiesOnlyWhenDataChanges(t *testing.T) {
	reg, _ := newTestRegistry(t, true)
	t0 := time.Now().UTC()

	first := &ble.Advertisement{MAC: "AA:BB:CC:DD:EE:FF", RSSI: -60, ObservedAt: t0}
	record, _, err := reg.Apply(context.Background(), first)
	if err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}
	if record.Kind != ble.KindGenericBLE {
		t.Fatalf("Kind = %q, want generic_ble without advertising data", record.Kind)
	}

	// Same advertising data: no reclassification happens.
	second := &ble.Advertisement{MAC: "AA:BB:CC:DD:EE:FF", RSSI: -58, ObservedAt: t0.Add(time.Second)}
	record, _, err = reg.Apply(context.Background(), second)
	if err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}
	if record.Kind != ble.KindGenericBLE {
		t.Errorf("Kind = %q, want unchanged generic_ble", record.Kind)
	}

	// New service data: reclassify.
	third := &ble.Advertisement{
		MAC:          "AA:BB:CC:DD:EE:FF",
		RSSI:         -57,
		ServiceUUIDs: []string{"0000fee7-0000-1000-8000-00805f9b34fb"},
		ObservedAt:   t0.Add(2 * time.Second),
	}
	record, _, err = reg.Apply(context.Background(), third)
	if err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}
	if record.Kind != ble.KindRichmatGen2 {
		t.Errorf("Kind = %q, want richmat_gen2 after service data appeared", record.Kind)
	}
}

func TestApplyConcurrentDistinctMACs(t *testing.T) {
	reg, _ := newTestRegistry(t, true)
	now := time.Now().UTC()

	const devices = 16
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mac := fmt.Sprintf("AA:BB:CC:DD:EE:%02X", i)
			for j := 0; j < 10; j++ {
				adv := testAdvertisement(mac, now.Add(time.Duration(j)*time.Millisecond))
				if _, _, err := reg.Apply(context.Background(), adv); err != nil && !errors.Is(err, ErrStaleUpdate) {
					t.Errorf("Apply(%s) unexpected error: %v", mac, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	if got := reg.Count(); got != devices {
		t.Errorf("Count() = %d, want %d", got, devices)
	}
}

func TestApplyConcurrentSameMACSingleRecord(t *testing.T) {
	reg, _ := newTestRegistry(t, true)
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adv := testAdvertisement("AA:BB:CC:DD:EE:FF", now.Add(time.Duration(i)*time.Millisecond))
			_, _, err := reg.Apply(context.Background(), adv)
			if err != nil && !errors.Is(err, ErrStaleUpdate) {
				t.Errorf("Apply() unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := reg.Count(); got != 1 {
		t.Errorf("Count() = %d, want exactly 1 record under concurrent applies", got)
	}
}

func TestGetAndList(t *testing.T) {
	reg, _ := newTestRegistry(t, true)
	now := time.Now().UTC()

	for _, mac := range []string{"CC:00:00:00:00:01", "AA:00:00:00:00:01", "BB:00:00:00:00:01"} {
		if _, _, err := reg.Apply(context.Background(), testAdvertisement(mac, now)); err != nil {
			t.Fatalf("Apply() unexpected error: %v", err)
		}
	}

	t.Run("get accepts any spelling", func(t *testing.T) {
		record, err := reg.Get("aa-00-00-00-00-01")
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		if record.MAC != "AA:00:00:00:00:01" {
			t.Errorf("MAC = %q", record.MAC)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		if _, err := reg.Get("DD:00:00:00:00:01"); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("Get() error = %v, want ErrDeviceNotFound", err)
		}
	})

	t.Run("list ordered by mac", func(t *testing.T) {
		records := reg.List()
		if len(records) != 3 {
			t.Fatalf("List() returned %d records, want 3", len(records))
		}
		for i := 1; i < len(records); i++ {
			if records[i-1].MAC >= records[i].MAC {
				t.Errorf("List() not ordered: %q before %q", records[i-1].MAC, records[i].MAC)
			}
		}
	})

	t.Run("returned records are copies", func(t *testing.T) {
		record, err := reg.Get("AA:00:00:00:00:01")
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		record.DisplayName = "tampered"

		again, err := reg.Get("AA:00:00:00:00:01")
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		if again.DisplayName == "tampered" {
			t.Error("mutation of a returned record leaked into the cache")
		}
	})
}

func TestAddManual(t *testing.T) {
	t.Run("creates manual record", func(t *testing.T) {
		reg, _ := newTestRegistry(t, true)

		record, err := reg.AddManual(context.Background(), "aa:bb:cc:dd:ee:01", "Guest Bed")
		if err != nil {
			t.Fatalf("AddManual() unexpected error: %v", err)
		}
		if !record.Manual || record.DisplayName != "Guest Bed" || record.MAC != "AA:BB:CC:DD:EE:01" {
			t.Errorf("record = %+v", record)
		}
	})

	t.Run("rejects duplicate manual record", func(t *testing.T) {
		reg, _ := newTestRegistry(t, true)

		if _, err := reg.AddManual(context.Background(), "AA:BB:CC:DD:EE:01", "Guest Bed"); err != nil {
			t.Fatalf("AddManual() unexpected error: %v", err)
		}
		_, err := reg.AddManual(context.Background(), "aabbccddee01", "Again")
		if !errors.Is(err, ErrDeviceExists) {
			t.Errorf("AddManual() error = %v, want ErrDeviceExists", err)
		}
	})

	t.Run("promotes observed record", func(t *testing.T) {
		reg, _ := newTestRegistry(t, true)
		t0 := time.Now().UTC()

		if _, _, err := reg.Apply(context.Background(), testAdvertisement("AA:BB:CC:DD:EE:01", t0)); err != nil {
			t.Fatalf("Apply() unexpected error: %v", err)
		}

		record, err := reg.AddManual(context.Background(), "AA:BB:CC:DD:EE:01", "Main Bed")
		if err != nil {
			t.Fatalf("AddManual() unexpected error: %v", err)
		}
		if !record.Manual {
			t.Error("Manual = false after promotion")
		}
		if !record.FirstSeenAt.Equal(t0) {
			t.Error("promotion must keep observation history")
		}
	})
}

func TestRemove(t *testing.T) {
	reg, _ := newTestRegistry(t, true)

	if _, err := reg.AddManual(context.Background(), "AA:BB:CC:DD:EE:01", "Bed"); err != nil {
		t.Fatalf("AddManual() unexpected error: %v", err)
	}

	if err := reg.Remove(context.Background(), "aa-bb-cc-dd-ee-01"); err != nil {
		t.Fatalf("Remove() unexpected error: %v", err)
	}
	if _, err := reg.Get("AA:BB:CC:DD:EE:01"); !errors.Is(err, ErrDeviceNotFound) {
		t.Error("record still present after Remove()")
	}

	if err := reg.Remove(context.Background(), "AA:BB:CC:DD:EE:01"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Remove() of absent record error = %v, want ErrDeviceNotFound", err)
	}
}

func TestMarkDiscoveryPublished(t *testing.T) {
	reg, repo := newTestRegistry(t, true)
	now := time.Now().UTC()

	record, _, err := reg.Apply(context.Background(), testAdvertisement("AA:BB:CC:DD:EE:FF", now))
	if err != nil {
		t.Fatalf("Apply() unexpected error: %v", err)
	}
	if record.DiscoveryPublished {
		t.Fatal("new record already marked discovery-published")
	}

	if err := reg.MarkDiscoveryPublished(context.Background(), "AA:BB:CC:DD:EE:FF"); err != nil {
		t.Fatalf("MarkDiscoveryPublished() unexpected error: %v", err)
	}

	record, err = reg.Get("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	if !record.DiscoveryPublished {
		t.Error("DiscoveryPublished = false after mark")
	}

	// Idempotent: second mark is a no-op, not another write.
	upsertsBefore := repo.upserts
	if err := reg.MarkDiscoveryPublished(context.Background(), "AA:BB:CC:DD:EE:FF"); err != nil {
		t.Fatalf("MarkDiscoveryPublished() unexpected error: %v", err)
	}
	if repo.upserts != upsertsBefore {
		t.Error("repeated mark performed a write")
	}
}

func TestApplyRepositoryErrorLeavesCacheUntouched(t *testing.T) {
	reg, repo := newTestRegistry(t, true)
	repo.upsertErr = errors.New("disk full")

	_, _, err := reg.Apply(context.Background(), testAdvertisement("AA:BB:CC:DD:EE:FF", time.Now().UTC()))
	if err == nil {
		t.Fatal("Apply() succeeded despite repository failure")
	}
	if reg.Count() != 0 {
		t.Error("cache gained a record the store never accepted")
	}
}

func TestRefreshCacheRestoresState(t *testing.T) {
	repo := newMockRepository()
	repo.records["AA:BB:CC:DD:EE:FF"] = &DeviceRecord{
		MAC:        "AA:BB:CC:DD:EE:FF",
		Kind:       ble.KindLinak,
		LastSeenAt: time.Now().UTC(),
	}

	reg := NewRegistry(repo, &stubGate{running: true}, logging.Default())
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() unexpected error: %v", err)
	}

	record, err := reg.Get("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("Get() after restore error: %v", err)
	}
	if record.Kind != ble.KindLinak {
		t.Errorf("restored Kind = %q, want linak", record.Kind)
	}
}

func TestProxyCount(t *testing.T) {
	reg, _ := newTestRegistry(t, true)
	now := time.Now().UTC()

	advs := []*ble.Advertisement{
		{MAC: "AA:00:00:00:00:01", SourceProxy: "proxy1", ObservedAt: now},
		{MAC: "AA:00:00:00:00:02", SourceProxy: "proxy2", ObservedAt: now},
		{MAC: "AA:00:00:00:00:03", SourceProxy: "proxy1", ObservedAt: now},
	}
	for _, adv := range advs {
		if _, _, err := reg.Apply(context.Background(), adv); err != nil {
			t.Fatalf("Apply() unexpected error: %v", err)
		}
	}

	if got := reg.ProxyCount(); got != 2 {
		t.Errorf("ProxyCount() = %d, want 2", got)
	}
}
