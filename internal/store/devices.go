package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noteflow/syncd/internal/apierr"
)

type Devices struct{ s *Store }

func (s *Store) Devices() *Devices { return &Devices{s: s} }

// Create registers a new device for user, returned from GET /auth/devices.
func (d *Devices) Create(ctx context.Context, userID, deviceName string) (*Device, error) {
	id := newID()
	now := time.Now()

	_, err := d.s.write.ExecContext(ctx,
		`INSERT INTO devices (id, user_id, device_name, created_at, last_seen_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, deviceName, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("store: creating device: %w", err)
	}

	return &Device{ID: id, UserID: userID, DeviceName: deviceName, CreatedAt: now, LastSeenAt: &now}, nil
}

// ListByUser returns all devices for user (GET /auth/devices).
func (d *Devices) ListByUser(ctx context.Context, userID string) ([]*Device, error) {
	rows, err := d.s.read.QueryContext(ctx,
		`SELECT id, user_id, device_name, created_at, last_seen_at, revoked_at
		 FROM devices WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: listing devices: %w", err)
	}
	defer rows.Close()

	var out []*Device

	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, dev)
	}

	return out, rows.Err()
}

// GetByID returns one device, or apierr.ErrNotFound.
func (d *Devices) GetByID(ctx context.Context, id string) (*Device, error) {
	row := d.s.read.QueryRowContext(ctx,
		`SELECT id, user_id, device_name, created_at, last_seen_at, revoked_at
		 FROM devices WHERE id = ?`, id)

	return scanDeviceRow(row)
}

// Revoke marks a device revoked and cascades to all its sessions in one
// transaction: a revoked device can no longer authenticate any session
// it ever issued.
func (d *Devices) Revoke(ctx context.Context, id string) error {
	tx, err := d.s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin revoke device: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()

	if _, err := tx.ExecContext(ctx, `UPDATE devices SET revoked_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("store: revoking device: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE device_id = ? AND revoked_at IS NULL`, now, id); err != nil {
		return fmt.Errorf("store: revoking device sessions: %w", err)
	}

	return tx.Commit()
}

// Touch updates last_seen_at, called when a session authenticates.
func (d *Devices) Touch(ctx context.Context, id string) error {
	_, err := d.s.write.ExecContext(ctx, `UPDATE devices SET last_seen_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: touching device: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(s rowScanner) (*Device, error) {
	return scanDeviceRow(s)
}

func scanDeviceRow(s rowScanner) (*Device, error) {
	var (
		dev                  Device
		createdAt, lastSeen  int64
		revokedAt            sql.NullInt64
		lastSeenAtNull       sql.NullInt64
	)

	if err := s.Scan(&dev.ID, &dev.UserID, &dev.DeviceName, &createdAt, &lastSeenAtNull, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.ErrNotFound
		}

		return nil, fmt.Errorf("store: scanning device: %w", err)
	}

	dev.CreatedAt = time.Unix(createdAt, 0)

	if lastSeenAtNull.Valid {
		lastSeen = lastSeenAtNull.Int64
		t := time.Unix(lastSeen, 0)
		dev.LastSeenAt = &t
	}

	if revokedAt.Valid {
		t := time.Unix(revokedAt.Int64, 0)
		dev.RevokedAt = &t
	}

	return &dev, nil
}
