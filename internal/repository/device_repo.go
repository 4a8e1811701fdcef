// Package repository provides data access for the device inventory.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/remote-access-relay/backend/internal/model"
)

// DeviceRepository persists the inventory of devices that have registered
// at least once. Only identity is stored; liveness is derived from the
// connection registry at read time.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Upsert inserts the device or refreshes its metadata and last_seen.
func (r *DeviceRepository) Upsert(ctx context.Context, rec *model.DeviceRecord) error {
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to serialize capabilities: %w", err)
	}

	query := `
		INSERT INTO devices (id, name, ip_address, capabilities, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			ip_address = excluded.ip_address,
			capabilities = excluded.capabilities,
			last_seen = excluded.last_seen
	`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Name,
		rec.IPAddress,
		string(caps),
		rec.FirstSeen,
		rec.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	return nil
}

// TouchLastSeen stamps the last_seen time for a device.
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE devices SET last_seen = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	if affected == 0 {
		return model.ErrDeviceNotFound
	}
	return nil
}

// GetByID retrieves a device record by its id.
func (r *DeviceRepository) GetByID(ctx context.Context, id string) (*model.DeviceRecord, error) {
	query := `
		SELECT id, name, ip_address, capabilities, first_seen, last_seen
		FROM devices
		WHERE id = ?
	`
	rec, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return rec, nil
}

// List retrieves all device records, most recently seen first.
func (r *DeviceRepository) List(ctx context.Context) ([]*model.DeviceRecord, error) {
	query := `
		SELECT id, name, ip_address, capabilities, first_seen, last_seen
		FROM devices
		ORDER BY last_seen DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var records []*model.DeviceRecord
	for rows.Next() {
		rec, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	return records, nil
}

// Count returns the number of devices in the inventory.
func (r *DeviceRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return count, nil
}

// Delete removes a device record from the inventory.
func (r *DeviceRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*model.DeviceRecord, error) {
	rec := &model.DeviceRecord{}
	var caps string
	if err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.IPAddress,
		&caps,
		&rec.FirstSeen,
		&rec.LastSeen,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &rec.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to parse capabilities: %w", err)
	}
	return rec, nil
}
