package device

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fernvale/ble-scanner-core/internal/ble"
	"github.com/fernvale/ble-scanner-core/internal/infrastructure/database"
)

// Repository defines the persistence contract for device records.
//
// The registry is the only writer; the interface exists so tests can
// substitute an in-memory implementation.
type Repository interface {
	// GetByMAC returns the record for a canonical MAC, or ErrDeviceNotFound.
	GetByMAC(ctx context.Context, mac string) (*DeviceRecord, error)

	// List returns all records ordered by MAC.
	List(ctx context.Context) ([]*DeviceRecord, error)

	// Upsert inserts or replaces the record keyed by its MAC.
	Upsert(ctx context.Context, record *DeviceRecord) error

	// Delete removes the record for a MAC, or returns ErrDeviceNotFound.
	Delete(ctx context.Context, mac string) error
}

// SQLiteRepository implements Repository backed by the scanner's SQLite store.
type SQLiteRepository struct {
	db *database.DB
}

// NewSQLiteRepository creates a repository using the given database.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `mac, kind, display_name, last_rssi, last_seen_at, last_proxy,
	first_seen_at, manual, discovery_published, manufacturer_data, service_uuids, updated_at`

// GetByMAC retrieves a device record by its canonical MAC address.
func (r *SQLiteRepository) GetByMAC(ctx context.Context, mac string) (*DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE mac = ?`

	record, err := scanDevice(r.db.QueryRowContext(ctx, query, mac))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting device %s: %w", mac, err)
	}
	return record, nil
}

// List retrieves all device records ordered by MAC for deterministic output.
func (r *SQLiteRepository) List(ctx context.Context) ([]*DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY mac`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only iteration

	var records []*DeviceRecord
	for rows.Next() {
		record, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("listing devices: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return records, nil
}

// Upsert inserts a new record or replaces the existing one for the MAC.
// Every accepted registry mutation lands here synchronously, so the
// store is never more than one observation behind memory.
func (r *SQLiteRepository) Upsert(ctx context.Context, record *DeviceRecord) error {
	mfgJSON, err := marshalManufacturerData(record.ManufacturerData)
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", record.MAC, err)
	}
	uuidsJSON, err := json.Marshal(normalizedUUIDList(record.ServiceUUIDs))
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", record.MAC, err)
	}

	query := `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mac) DO UPDATE SET
			kind = excluded.kind,
			display_name = excluded.display_name,
			last_rssi = excluded.last_rssi,
			last_seen_at = excluded.last_seen_at,
			last_proxy = excluded.last_proxy,
			manual = excluded.manual,
			discovery_published = excluded.discovery_published,
			manufacturer_data = excluded.manufacturer_data,
			service_uuids = excluded.service_uuids,
			updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		record.MAC,
		string(record.Kind),
		record.DisplayName,
		record.LastRSSI,
		formatTime(record.LastSeenAt),
		record.LastProxy,
		formatTime(record.FirstSeenAt),
		boolToInt(record.Manual),
		boolToInt(record.DiscoveryPublished),
		string(mfgJSON),
		string(uuidsJSON),
		formatTime(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", record.MAC, err)
	}
	return nil
}

// Delete removes a device record. Returns ErrDeviceNotFound if absent.
func (r *SQLiteRepository) Delete(ctx context.Context, mac string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE mac = ?`, mac)
	if err != nil {
		return fmt.Errorf("deleting device %s: %w", mac, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting device %s: %w", mac, err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

// scanDevice maps one devices row onto a DeviceRecord. A row whose JSON
// or timestamp columns cannot be parsed means the store was damaged
// outside our control; that surfaces as ErrCorruptState rather than a
// silently skipped record.
func scanDevice(row scanner) (*DeviceRecord, error) {
	var (
		record                       DeviceRecord
		kind                         string
		lastSeen, firstSeen, updated string
		manual, discoveryPublished   int
		mfgJSON, uuidsJSON           string
	)

	err := row.Scan(
		&record.MAC,
		&kind,
		&record.DisplayName,
		&record.LastRSSI,
		&lastSeen,
		&record.LastProxy,
		&firstSeen,
		&manual,
		&discoveryPublished,
		&mfgJSON,
		&uuidsJSON,
		&updated,
	)
	if err != nil {
		return nil, err
	}

	// Unknown kinds from a newer or older schema degrade to generic
	// rather than poisoning the record.
	if ble.ValidKind(kind) {
		record.Kind = ble.DeviceKind(kind)
	} else {
		record.Kind = ble.KindGenericBLE
	}

	record.Manual = manual != 0
	record.DiscoveryPublished = discoveryPublished != 0

	if record.LastSeenAt, err = parseTime(lastSeen); err != nil {
		return nil, fmt.Errorf("%w: device %s last_seen_at: %w", database.ErrCorruptState, record.MAC, err)
	}
	if record.FirstSeenAt, err = parseTime(firstSeen); err != nil {
		return nil, fmt.Errorf("%w: device %s first_seen_at: %w", database.ErrCorruptState, record.MAC, err)
	}
	if record.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("%w: device %s updated_at: %w", database.ErrCorruptState, record.MAC, err)
	}

	if record.ManufacturerData, err = unmarshalManufacturerData(mfgJSON); err != nil {
		return nil, fmt.Errorf("%w: device %s manufacturer_data: %w", database.ErrCorruptState, record.MAC, err)
	}

	var uuids []string
	if err := json.Unmarshal([]byte(uuidsJSON), &uuids); err != nil {
		return nil, fmt.Errorf("%w: device %s service_uuids: %w", database.ErrCorruptState, record.MAC, err)
	}
	if len(uuids) > 0 {
		record.ServiceUUIDs = uuids
	}

	return &record, nil
}

// marshalManufacturerData stores company IDs as decimal string keys and
// payloads hex-encoded, matching the proxies' own wire convention.
func marshalManufacturerData(data map[uint16][]byte) ([]byte, error) {
	out := make(map[string]string, len(data))
	for id, payload := range data {
		out[strconv.FormatUint(uint64(id), 10)] = hex.EncodeToString(payload)
	}
	return json.Marshal(out)
}

func unmarshalManufacturerData(raw string) (map[uint16][]byte, error) {
	var stored map[string]string
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, nil
	}

	out := make(map[uint16][]byte, len(stored))
	for key, value := range stored {
		id, err := strconv.ParseUint(key, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("company id %q: %w", key, err)
		}
		payload, err := hex.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("company id %q payload: %w", key, err)
		}
		out[uint16(id)] = payload
	}
	return out, nil
}

// normalizedUUIDList guarantees a JSON array (never null) in storage.
func normalizedUUIDList(uuids []string) []string {
	if uuids == nil {
		return []string{}
	}
	return uuids
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
