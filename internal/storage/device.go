package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Device is the identity a receiver keeps across playback sessions.
type Device struct {
	Volume     string
	ClientName string
	UpdatedAt  time.Time
}

// LoadDevice returns the last saved device identity. ok is false when none
// has been saved yet.
func (s *Store) LoadDevice() (Device, bool, error) {
	if s == nil || s.db == nil {
		return Device{}, false, fmt.Errorf("storage: missing database connection")
	}

	var (
		d         Device
		updatedAt int64
	)
	err := s.db.QueryRow(`
		SELECT volume, client_name, updated_at
		FROM device_state
		WHERE id = 1
	`).Scan(&d.Volume, &d.ClientName, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, false, nil
	}
	if err != nil {
		return Device{}, false, fmt.Errorf("storage: load device: %w", err)
	}
	d.UpdatedAt = time.Unix(updatedAt, 0)
	return d, true, nil
}

// SaveDevice upserts the device identity.
func (s *Store) SaveDevice(volume, clientName string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage: missing database connection")
	}

	_, err := s.db.Exec(`
		INSERT INTO device_state (id, volume, client_name, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			volume = excluded.volume,
			client_name = excluded.client_name,
			updated_at = excluded.updated_at
	`, volume, clientName, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("storage: save device: %w", err)
	}
	return nil
}
