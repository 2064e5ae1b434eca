package devicestate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for device settings persistence.
// Workers and the supervisor depend on this rather than on SQLite so
// they can run without a database.
type Repository interface {
	// GetSettings returns the stored settings for serial.
	// Returns ErrNotFound if nothing was stored yet.
	GetSettings(ctx context.Context, serial string) (*Settings, error)

	// SaveSettings inserts or replaces the settings for s.Serial.
	SaveSettings(ctx context.Context, s *Settings) error

	// RecordAttach notes that a device became available.
	RecordAttach(ctx context.Context, serial, friendlyName, devnode string) error

	// ListHistory returns every device ever attached, most recent first.
	ListHistory(ctx context.Context) ([]HistoryEntry, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// GetSettings retrieves the settings stored for serial.
func (r *SQLiteRepository) GetSettings(ctx context.Context, serial string) (*Settings, error) {
	query := `
		SELECT serial, server_port, prefix, app_host, app_port, rotation, updated_at
		FROM device_settings
		WHERE serial = ?`

	var s Settings
	var updated string
	err := r.db.QueryRowContext(ctx, query, serial).Scan(
		&s.Serial, &s.ServerPort, &s.Prefix, &s.AppHost, &s.AppPort, &s.Rotation, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying settings for %s: %w", serial, err)
	}
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updated) //nolint:errcheck // Format is controlled
	return &s, nil
}

// SaveSettings validates and upserts s.
func (r *SQLiteRepository) SaveSettings(ctx context.Context, s *Settings) error {
	s.Prefix = NormalizePrefix(s.Prefix)
	if err := s.Validate(); err != nil {
		return err
	}
	s.UpdatedAt = r.now().UTC()

	query := `
		INSERT INTO device_settings (serial, server_port, prefix, app_host, app_port, rotation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			server_port = excluded.server_port,
			prefix      = excluded.prefix,
			app_host    = excluded.app_host,
			app_port    = excluded.app_port,
			rotation    = excluded.rotation,
			updated_at  = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		s.Serial, s.ServerPort, s.Prefix, s.AppHost, s.AppPort, s.Rotation,
		s.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving settings for %s: %w", s.Serial, err)
	}
	return nil
}

// RecordAttach upserts the history row for serial and bumps its count.
func (r *SQLiteRepository) RecordAttach(ctx context.Context, serial, friendlyName, devnode string) error {
	if serial == "" {
		return fmt.Errorf("%w: serial is required", ErrInvalidSettings)
	}
	now := r.now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO device_history (serial, friendly_name, devnode, first_seen, last_seen, attach_count)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(serial) DO UPDATE SET
			friendly_name = excluded.friendly_name,
			devnode       = excluded.devnode,
			last_seen     = excluded.last_seen,
			attach_count  = device_history.attach_count + 1`

	if _, err := r.db.ExecContext(ctx, query, serial, friendlyName, devnode, now, now); err != nil {
		return fmt.Errorf("recording attach of %s: %w", serial, err)
	}
	return nil
}

// ListHistory returns all history rows, most recently seen first.
func (r *SQLiteRepository) ListHistory(ctx context.Context) ([]HistoryEntry, error) {
	query := `
		SELECT serial, friendly_name, devnode, first_seen, last_seen, attach_count
		FROM device_history
		ORDER BY last_seen DESC, serial`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying device history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var first, last string
		if err := rows.Scan(&e.Serial, &e.FriendlyName, &e.Devnode, &first, &last, &e.AttachCount); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.FirstSeen, _ = time.Parse(time.RFC3339, first) //nolint:errcheck // Format is controlled
		e.LastSeen, _ = time.Parse(time.RFC3339, last)   //nolint:errcheck // Format is controlled
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}
	return entries, nil
}
