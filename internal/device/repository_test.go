package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fernvale/ble-scanner-core/internal/ble"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/database"

	_ "github.com/mattn/go-sqlite3"
)

// newTestRepository opens an in-memory SQLite store with the devices schema.
func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        ":memory:",
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE devices (
			mac TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			display_name TEXT NOT NULL,
			last_rssi INTEGER NOT NULL DEFAULT 0,
			last_seen_at TEXT NOT NULL,
			last_proxy TEXT NOT NULL DEFAULT '',
			first_seen_at TEXT NOT NULL,
			manual INTEGER NOT NULL DEFAULT 0,
			discovery_published INTEGER NOT NULL DEFAULT 0,
			manufacturer_data TEXT NOT NULL DEFAULT '{}',
			service_uuids TEXT NOT NULL DEFAULT '[]',
			updated_at TEXT NOT NULL
		)`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		t.Fatalf("creating schema: %v", err)
	}

	return NewSQLiteRepository(db)
}

func testRecord(mac string) *DeviceRecord {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &DeviceRecord{
		MAC:         mac,
		Kind:        ble.KindRichmatGen2,
		DisplayName: "Main Bed",
		LastRSSI:    -61,
		LastSeenAt:  now,
		LastProxy:   "proxy1",
		FirstSeenAt: now.Add(-time.Hour),
		Manual:      false,
		ManufacturerData: map[uint16][]byte{
			0x08D1: {0x01, 0x02},
		},
		ServiceUUIDs: []string{"0000fee7-0000-1000-8000-00805f9b34fb"},
		UpdatedAt:    now,
	}
}

func TestRepositoryRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	want := testRecord("AA:BB:CC:DD:EE:FF")

	if err := repo.Upsert(ctx, want); err != nil {
		t.Fatalf("Upsert() unexpected error: %v", err)
	}

	got, err := repo.GetByMAC(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("GetByMAC() unexpected error: %v", err)
	}

	if got.MAC != want.MAC || got.Kind != want.Kind || got.DisplayName != want.DisplayName {
		t.Errorf("identity fields = %q/%q/%q, want %q/%q/%q",
			got.MAC, got.Kind, got.DisplayName, want.MAC, want.Kind, want.DisplayName)
	}
	if got.LastRSSI != want.LastRSSI || got.LastProxy != want.LastProxy {
		t.Errorf("observation fields = %d/%q, want %d/%q", got.LastRSSI, got.LastProxy, want.LastRSSI, want.LastProxy)
	}
	if !got.LastSeenAt.Equal(want.LastSeenAt) || !got.FirstSeenAt.Equal(want.FirstSeenAt) {
		t.Errorf("timestamps did not survive the round trip: %v/%v", got.LastSeenAt, got.FirstSeenAt)
	}
	if got.Manual != want.Manual || got.DiscoveryPublished != want.DiscoveryPublished {
		t.Errorf("flags = %v/%v, want %v/%v", got.Manual, got.DiscoveryPublished, want.Manual, want.DiscoveryPublished)
	}
	if len(got.ManufacturerData) != 1 || len(got.ManufacturerData[0x08D1]) != 2 {
		t.Errorf("ManufacturerData = %v, want snapshot preserved", got.ManufacturerData)
	}
	if len(got.ServiceUUIDs) != 1 || got.ServiceUUIDs[0] != want.ServiceUUIDs[0] {
		t.Errorf("ServiceUUIDs = %v, want %v", got.ServiceUUIDs, want.ServiceUUIDs)
	}
}

func TestRepositoryUpsertReplaces(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	record := testRecord("AA:BB:CC:DD:EE:FF")
	if err := repo.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert() unexpected error: %v", err)
	}

	record.LastRSSI = -40
	record.DiscoveryPublished = true
	if err := repo.Upsert(ctx, record); err != nil {
		t.Fatalf("second Upsert() unexpected error: %v", err)
	}

	got, err := repo.GetByMAC(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("GetByMAC() unexpected error: %v", err)
	}
	if got.LastRSSI != -40 || !got.DiscoveryPublished {
		t.Errorf("record = %d/%v, want replaced values", got.LastRSSI, got.DiscoveryPublished)
	}

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("List() returned %d records after upsert of same MAC, want 1", len(records))
	}
}

func TestRepositoryGetMissing(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetByMAC(context.Background(), "00:00:00:00:00:00")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByMAC() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRepositoryListOrdered(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for _, mac := range []string{"CC:00:00:00:00:01", "AA:00:00:00:00:01", "BB:00:00:00:00:01"} {
		if err := repo.Upsert(ctx, testRecord(mac)); err != nil {
			t.Fatalf("Upsert(%s) unexpected error: %v", mac, err)
		}
	}

	records, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i-1].MAC >= records[i].MAC {
			t.Errorf("List() not ordered by MAC: %q before %q", records[i-1].MAC, records[i].MAC)
		}
	}
}

func TestRepositoryDelete(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, testRecord("AA:BB:CC:DD:EE:FF")); err != nil {
		t.Fatalf("Upsert() unexpected error: %v", err)
	}

	if err := repo.Delete(ctx, "AA:BB:CC:DD:EE:FF"); err != nil {
		t.Fatalf("Delete() unexpected error: %v", err)
	}
	if _, err := repo.GetByMAC(ctx, "AA:BB:CC:DD:EE:FF"); !errors.Is(err, ErrDeviceNotFound) {
		t.Error("record still present after Delete()")
	}
	if err := repo.Delete(ctx, "AA:BB:CC:DD:EE:FF"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Delete() of absent record error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRepositoryEmptyAdvertisingData(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	record := testRecord("AA:BB:CC:DD:EE:FF")
	record.ManufacturerData = nil
	record.ServiceUUIDs = nil

	if err := repo.Upsert(ctx, record); err != nil {
		t.Fatalf("Upsert() unexpected error: %v", err)
	}

	got, err := repo.GetByMAC(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("GetByMAC() unexpected error: %v", err)
	}
	if got.ManufacturerData != nil || got.ServiceUUIDs != nil {
		t.Errorf("empty advertising data came back non-nil: %v/%v", got.ManufacturerData, got.ServiceUUIDs)
	}
}

// Damaged JSON columns must surface as ErrCorruptState, never as a
// silently skipped or zeroed record.
func TestRepositoryCorruptRowSurfacesCorruptState(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, testRecord("AA:BB:CC:DD:EE:FF")); err != nil {
		t.Fatalf("Upsert() unexpected error: %v", err)
	}
	if _, err := repo.db.ExecContext(ctx,
		`UPDATE devices SET manufacturer_data = 'not json' WHERE mac = ?`, "AA:BB:CC:DD:EE:FF"); err != nil {
		t.Fatalf("corrupting row: %v", err)
	}

	_, err := repo.GetByMAC(ctx, "AA:BB:CC:DD:EE:FF")
	if !errors.Is(err, database.ErrCorruptState) {
		t.Errorf("GetByMAC() error = %v, want ErrCorruptState", err)
	}

	_, err = repo.List(ctx)
	if !errors.Is(err, database.ErrCorruptState) {
		t.Errorf("List() error = %v, want ErrCorruptState", err)
	}
}

// Unknown stored kinds degrade to generic rather than failing the load.
func TestRepositoryUnknownKindDegradesToGeneric(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if err := repo.Upsert(ctx, testRecord("AA:BB:CC:DD:EE:FF")); err != nil {
		t.Fatalf("Upsert() unexpected error: %v", err)
	}
	if _, err := repo.db.ExecContext(ctx,
		`UPDATE devices SET kind = 'hoverboard' WHERE mac = ?`, "AA:BB:CC:DD:EE:FF"); err != nil {
		t.Fatalf("updating kind: %v", err)
	}

	got, err := repo.GetByMAC(ctx, "AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("GetByMAC() unexpected error: %v", err)
	}
	if got.Kind != ble.KindGenericBLE {
		t.Errorf("Kind = %q, want generic_ble for unknown stored kind", got.Kind)
	}
}
