package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/soundsentinel/sentinel/pkg/store"
)

// RegisterDevice implements [store.DeviceStore]. Devices re-registering with
// a known MAC address keep their existing ID so profile and policy ownership
// survives re-pairing.
func (s *Store) RegisterDevice(ctx context.Context, d *store.Device) (bool, error) {
	if d.MACAddress == "" {
		return false, fmt.Errorf("postgres: register device: mac address is required")
	}

	d.Status = "online"
	d.LastSeen = time.Now().UTC()

	var existingID string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM devices WHERE mac_address = $1`, d.MACAddress,
	).Scan(&existingID)
	switch {
	case err == nil:
		d.ID = existingID
		const q = `
			UPDATE devices
			SET    name = $2, ip_address = $3, model = $4, model_image_url = $5,
			       microphone_info = $6, wifi_signal = $7, status = $8, last_seen = $9
			WHERE  id = $1`
		if _, err := s.pool.Exec(ctx, q,
			d.ID, d.Name, d.IPAddress, d.Model, d.ModelImageURL,
			d.MicrophoneInfo, d.WiFiSignal, d.Status, d.LastSeen,
		); err != nil {
			return false, fmt.Errorf("postgres: update device: %w", err)
		}
		return false, nil

	case errors.Is(err, pgx.ErrNoRows):
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		d.CreatedAt = time.Now().UTC()
		const q = `
			INSERT INTO devices
			    (id, name, ip_address, mac_address, model, model_image_url, microphone_info, wifi_signal, status, last_seen, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		if _, err := s.pool.Exec(ctx, q,
			d.ID, d.Name, d.IPAddress, d.MACAddress, d.Model, d.ModelImageURL,
			d.MicrophoneInfo, d.WiFiSignal, d.Status, d.LastSeen, d.CreatedAt,
		); err != nil {
			return false, fmt.Errorf("postgres: insert device: %w", err)
		}
		return true, nil

	default:
		return false, fmt.Errorf("postgres: register device: lookup: %w", err)
	}
}

// Devices implements [store.DeviceStore].
func (s *Store) Devices(ctx context.Context) ([]store.Device, error) {
	const q = `
		SELECT id, name, ip_address, mac_address, model, model_image_url,
		       microphone_info, wifi_signal, status, last_seen, created_at
		FROM   devices
		ORDER  BY last_seen DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list devices: %w", err)
	}

	devices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Device, error) {
		var d store.Device
		err := row.Scan(
			&d.ID, &d.Name, &d.IPAddress, &d.MACAddress, &d.Model, &d.ModelImageURL,
			&d.MicrophoneInfo, &d.WiFiSignal, &d.Status, &d.LastSeen, &d.CreatedAt,
		)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan devices: %w", err)
	}
	if devices == nil {
		devices = []store.Device{}
	}
	return devices, nil
}

// UpdateDevice implements [store.DeviceStore].
func (s *Store) UpdateDevice(ctx context.Context, d *store.Device) error {
	if d.LastSeen.IsZero() {
		d.LastSeen = time.Now().UTC()
	}

	const q = `
		UPDATE devices
		SET    wifi_signal = $2, microphone_info = $3, status = 'online', last_seen = $4
		WHERE  id = $1`
	tag, err := s.pool.Exec(ctx, q, d.ID, d.WiFiSignal, d.MicrophoneInfo, d.LastSeen)
	if err != nil {
		return fmt.Errorf("postgres: update device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteDevice implements [store.DeviceStore]. Detections and profiles owned
// by the device are removed in the same transaction.
func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: delete device: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, q := range []string{
		`DELETE FROM detections WHERE device_id = $1`,
		`DELETE FROM sound_profiles WHERE device_id = $1`,
		`DELETE FROM policy_entries WHERE device_id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, id); err != nil {
			return fmt.Errorf("postgres: delete device: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: delete device: commit: %w", err)
	}
	return nil
}
