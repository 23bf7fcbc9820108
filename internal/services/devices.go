package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HerbHall/gatesync/pkg/models"
	"github.com/HerbHall/gatesync/pkg/plugin"
)

// DeviceRepository reads the terminal fleet and updates the two fields the
// pipeline owns: health status and the sync cursor.
type DeviceRepository interface {
	Get(ctx context.Context, address string) (*models.Device, error)
	List(ctx context.Context) ([]models.Device, error)
	ListActive(ctx context.Context) ([]models.Device, error)

	// Create inserts a device. It exists for provisioning tools and tests;
	// the fleet itself is managed outside gatesync.
	Create(ctx context.Context, d *models.Device) error

	UpdateStatus(ctx context.Context, address string, status models.DeviceStatus) error

	// AdvanceCursor moves the device's last-sync cursor forward to cursor.
	// A cursor older than the stored one is ignored.
	AdvanceCursor(ctx context.Context, address string, cursor time.Time) error
}

var _ DeviceRepository = (*SQLiteDeviceRepository)(nil)

// SQLiteDeviceRepository implements DeviceRepository on the devices table.
type SQLiteDeviceRepository struct {
	db *sql.DB
}

// NewSQLiteDeviceRepository runs the devices migrations and returns the
// repository.
func NewSQLiteDeviceRepository(ctx context.Context, store plugin.Store) (*SQLiteDeviceRepository, error) {
	if err := store.Migrate(ctx, "devices", deviceMigrations); err != nil {
		return nil, fmt.Errorf("devices migrations: %w", err)
	}
	return &SQLiteDeviceRepository{db: store.DB()}, nil
}

const deviceColumns = `address, name, location, webhook_url, username, password,
	active, status, last_sync`

func (r *SQLiteDeviceRepository) Get(ctx context.Context, address string) (*models.Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE address = ?`, address)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get device %q: %w", address, err)
	}
	return d, nil
}

func (r *SQLiteDeviceRepository) List(ctx context.Context) ([]models.Device, error) {
	return r.query(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY address`)
}

func (r *SQLiteDeviceRepository) ListActive(ctx context.Context) ([]models.Device, error) {
	return r.query(ctx, `SELECT `+deviceColumns+` FROM devices WHERE active = 1 ORDER BY address`)
}

func (r *SQLiteDeviceRepository) query(ctx context.Context, q string, args ...any) ([]models.Device, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

func (r *SQLiteDeviceRepository) Create(ctx context.Context, d *models.Device) error {
	if strings.TrimSpace(d.Address) == "" {
		return fmt.Errorf("create device: address is required")
	}
	if d.Status == "" {
		d.Status = models.DeviceStatusNew
	}
	var cursor any
	if d.LastSync != nil {
		cursor = d.LastSync.Unix()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (address, name, location, webhook_url, username, password, active, status, last_sync)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.Address, d.Name, d.Location, d.WebhookURL, d.Username, d.Password,
		boolToInt(d.Active), string(d.Status), cursor,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create device %q: %w", d.Address, err)
	}
	return nil
}

func (r *SQLiteDeviceRepository) UpdateStatus(ctx context.Context, address string, status models.DeviceStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET status = ? WHERE address = ?`, string(status), address)
	if err != nil {
		return fmt.Errorf("update status of %q: %w", address, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteDeviceRepository) AdvanceCursor(ctx context.Context, address string, cursor time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET last_sync = ?
		WHERE address = ? AND (last_sync IS NULL OR last_sync < ?)`,
		cursor.Unix(), address, cursor.Unix(),
	)
	if err != nil {
		return fmt.Errorf("advance cursor of %q: %w", address, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var (
		d      models.Device
		active int
		status string
		cursor sql.NullInt64
	)
	if err := row.Scan(&d.Address, &d.Name, &d.Location, &d.WebhookURL,
		&d.Username, &d.Password, &active, &status, &cursor); err != nil {
		return nil, err
	}
	d.Active = active != 0
	d.Status = models.DeviceStatus(status)
	if cursor.Valid {
		t := time.Unix(cursor.Int64, 0).UTC()
		d.LastSync = &t
	}
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// last_sync holds unix seconds so the monotonic update can compare in SQL.
var deviceMigrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create devices table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE devices (
					address     TEXT PRIMARY KEY,
					name        TEXT NOT NULL DEFAULT '',
					location    TEXT NOT NULL DEFAULT '',
					webhook_url TEXT NOT NULL DEFAULT '',
					username    TEXT NOT NULL DEFAULT '',
					password    TEXT NOT NULL DEFAULT '',
					active      INTEGER NOT NULL DEFAULT 1,
					status      TEXT NOT NULL DEFAULT 'new',
					last_sync   INTEGER
				)`)
			return err
		},
	},
}
