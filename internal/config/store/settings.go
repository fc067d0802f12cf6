package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
)

// Setting keys understood by this console.
const (
	KeyDeviceAddress    = "device.address"
	KeyGatewayListen    = "gateway.listen"
	KeyGatewayTokenHash = "gateway.token_hash"
)

// Config is the persisted console configuration. The device address is
// the raw user input; resolution into a canonical endpoint happens in the
// endpoint package every time the raw text changes.
type Config struct {
	DeviceAddress    string
	GatewayListen    string
	GatewayTokenHash string
}

// LoadSettings returns the stored key/value settings. Optional keys limit
// the selection to specific entries.
func (s *Store) LoadSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	query := `SELECT key, value FROM settings`
	var args []any

	if len(keys) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(keys)), ",")
		query += fmt.Sprintf(" WHERE key IN (%s)", placeholders)
		for _, key := range keys {
			args = append(args, key)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("config: load settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("config: scan settings row: %w", err)
		}
		result[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: iterate settings rows: %w", err)
	}

	return result, nil
}

// Setting reads one stored value. A missing key is reported as a
// NotFoundError so callers can tell "unset" apart from a read failure.
func (s *Store) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", NotFoundError{Key: key}
	}
	if err != nil {
		return "", fmt.Errorf("config: load setting %q: %w", key, err)
	}
	return value, nil
}

// SaveSettings upserts the provided key/value pairs in one transaction, so
// a save is atomic from any reader's perspective.
func (s *Store) SaveSettings(ctx context.Context, values map[string]string) error {
	if s.readOnly {
		return fmt.Errorf("config: save settings: store opened read-only")
	}
	if len(values) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO settings (key, value, updated_at)
            VALUES (?, ?, CURRENT_TIMESTAMP)
            ON CONFLICT(key) DO UPDATE SET
                value = excluded.value,
                updated_at = CURRENT_TIMESTAMP
        `)
		if err != nil {
			return fmt.Errorf("config: prepare save settings: %w", err)
		}
		defer stmt.Close()

		for key, value := range values {
			if _, err := stmt.ExecContext(ctx, key, value); err != nil {
				return fmt.Errorf("config: exec save setting %q: %w", key, err)
			}
		}
		return nil
	})
}

// LoadConfig reads the persisted console configuration. Missing rows read
// as empty defaults, and an unreadable settings table degrades to the
// empty config with a logged warning — "no config yet" is never an error.
func (s *Store) LoadConfig(ctx context.Context) Config {
	values, err := s.LoadSettings(ctx, KeyDeviceAddress, KeyGatewayListen, KeyGatewayTokenHash)
	if err != nil {
		log.Printf("[Config] unreadable settings, falling back to defaults: %v", err)
		return Config{}
	}
	return Config{
		DeviceAddress:    values[KeyDeviceAddress],
		GatewayListen:    values[KeyGatewayListen],
		GatewayTokenHash: values[KeyGatewayTokenHash],
	}
}

// SaveConfig overwrites the persisted console configuration.
func (s *Store) SaveConfig(ctx context.Context, cfg Config) error {
	return s.SaveSettings(ctx, map[string]string{
		KeyDeviceAddress:    cfg.DeviceAddress,
		KeyGatewayListen:    cfg.GatewayListen,
		KeyGatewayTokenHash: cfg.GatewayTokenHash,
	})
}
