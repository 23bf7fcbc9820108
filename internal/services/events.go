package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/gatesync/pkg/models"
	"github.com/HerbHall/gatesync/pkg/plugin"
)

// ErrInvalidState is returned when an event is not in a state that allows
// the requested transition.
var ErrInvalidState = errors.New("invalid state")

// DeliveryItem is one due event together with the device it belongs to.
type DeliveryItem struct {
	Event  models.Event
	Device models.Device
}

// ExpiredEvent identifies a row removed by DeleteExpired.
type ExpiredEvent struct {
	ID             int64
	DeviceName     string
	LocalImagePath string
}

// EventRepository persists ingested events and their delivery state.
// (device_name, seq) is unique; that constraint is the exactly-once
// ingestion guarantee.
type EventRepository interface {
	Exists(ctx context.Context, deviceName string, seq int64) (bool, error)

	// Insert stores e and sets e.ID. A duplicate (device_name, seq) is not
	// an error: it returns inserted=false and leaves the stored row alone.
	Insert(ctx context.Context, e *models.Event) (inserted bool, err error)

	Get(ctx context.Context, id int64) (*models.Event, error)
	ListByDate(ctx context.Context, date string, opts ListOptions) (*ListResult[models.Event], error)
	CountByStatus(ctx context.Context) (map[models.DeliveryStatus]int, error)

	// DeliveryBatch returns up to limit events that are pending, or failed
	// with fewer than maxAttempts attempts, whose device has a webhook.
	DeliveryBatch(ctx context.Context, maxAttempts, limit int) ([]DeliveryItem, error)

	MarkSuccess(ctx context.Context, id int64) error

	// RecordFailure marks the event failed and increments its attempt count,
	// but only if the count still equals seen. applied reports whether this
	// call performed the increment.
	RecordFailure(ctx context.Context, id int64, seen int) (attempts int, applied bool, err error)

	// Requeue resets a failed event to pending with zero attempts.
	Requeue(ctx context.Context, id int64) error

	// DeleteExpired removes events dated before cutoffDate (YYYY-MM-DD).
	// Undated rows are aged by insertion time against createdBefore.
	DeleteExpired(ctx context.Context, cutoffDate string, createdBefore time.Time) ([]ExpiredEvent, error)
}

var _ EventRepository = (*SQLiteEventRepository)(nil)

// SQLiteEventRepository implements EventRepository on the events table.
type SQLiteEventRepository struct {
	db *sql.DB
}

// NewSQLiteEventRepository runs the events migrations and returns the
// repository.
func NewSQLiteEventRepository(ctx context.Context, store plugin.Store) (*SQLiteEventRepository, error) {
	if err := store.Migrate(ctx, "events", eventMigrations); err != nil {
		return nil, fmt.Errorf("events migrations: %w", err)
	}
	return &SQLiteEventRepository{db: store.DB()}, nil
}

const eventColumns = `e.id, e.device_name, e.seq, e.subject_id, e.subject_name, e.date, e.time,
	e.description, e.picture_url, e.local_image_path, e.origin,
	e.delivery_status, e.delivery_attempts, e.created_at`

// deviceLabelExpr mirrors models.Device.Label in SQL.
const deviceLabelExpr = `CASE WHEN TRIM(d.name) <> '' THEN d.name ELSE d.address END`

func (r *SQLiteEventRepository) Exists(ctx context.Context, deviceName string, seq int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE device_name = ? AND seq = ?`, deviceName, seq,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check event %s/%d: %w", deviceName, seq, err)
	}
	return n > 0, nil
}

func (r *SQLiteEventRepository) Insert(ctx context.Context, e *models.Event) (bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.DeliveryStatus == "" {
		e.DeliveryStatus = models.DeliveryPending
	}
	var subject any
	if e.SubjectID != nil {
		subject = *e.SubjectID
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO events (device_name, seq, subject_id, subject_name, date, time, description,
			picture_url, local_image_path, origin, delivery_status, delivery_attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_name, seq) DO NOTHING`,
		e.DeviceName, e.Seq, subject, e.SubjectName, e.Date, e.Time, e.Description,
		e.PictureURL, e.LocalImagePath, string(e.Origin), string(e.DeliveryStatus),
		e.DeliveryAttempts, e.CreatedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("insert event %s/%d: %w", e.DeviceName, e.Seq, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event %s/%d: %w", e.DeviceName, e.Seq, err)
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return true, nil
}

func (r *SQLiteEventRepository) Get(ctx context.Context, id int64) (*models.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events e WHERE e.id = ?`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event %d: %w", id, err)
	}
	return e, nil
}

func (r *SQLiteEventRepository) ListByDate(ctx context.Context, date string, opts ListOptions) (*ListResult[models.Event], error) {
	opts = normalizeListOptions(opts)

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE date = ?`, date,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count events on %s: %w", date, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events e
		WHERE e.date = ?
		ORDER BY e.time DESC, e.id DESC
		LIMIT ? OFFSET ?`, date, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list events on %s: %w", date, err)
	}
	defer rows.Close()

	result := &ListResult[models.Event]{Items: []models.Event{}, Total: total}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		result.Items = append(result.Items, *e)
	}
	return result, rows.Err()
}

func (r *SQLiteEventRepository) CountByStatus(ctx context.Context) (map[models.DeliveryStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT delivery_status, COUNT(*) FROM events GROUP BY delivery_status`)
	if err != nil {
		return nil, fmt.Errorf("count events by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DeliveryStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[models.DeliveryStatus(status)] = n
	}
	return counts, rows.Err()
}

// DeliveryBatch joins each event to exactly one device carrying its label,
// preferring active devices, then the lowest address.
func (r *SQLiteEventRepository) DeliveryBatch(ctx context.Context, maxAttempts, limit int) ([]DeliveryItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`,
			d.address, d.name, d.location, d.webhook_url, d.username, d.password, d.active, d.status
		FROM events e
		JOIN devices d ON d.address = (
			SELECT d.address FROM devices d
			WHERE `+deviceLabelExpr+` = e.device_name AND TRIM(d.webhook_url) <> ''
			ORDER BY d.active DESC, d.address
			LIMIT 1)
		WHERE e.delivery_status = 'pending'
			OR (e.delivery_status = 'failed' AND e.delivery_attempts < ?)
		ORDER BY e.id
		LIMIT ?`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("select delivery batch: %w", err)
	}
	defer rows.Close()

	var items []DeliveryItem
	for rows.Next() {
		var (
			it     DeliveryItem
			er     eventRow
			active int
			status string
		)
		dest := append(er.dest(),
			&it.Device.Address, &it.Device.Name, &it.Device.Location, &it.Device.WebhookURL,
			&it.Device.Username, &it.Device.Password, &active, &status)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}
		it.Event = er.event()
		it.Device.Active = active != 0
		it.Device.Status = models.DeviceStatus(status)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *SQLiteEventRepository) MarkSuccess(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE events SET delivery_status = 'success' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark event %d success: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteEventRepository) RecordFailure(ctx context.Context, id int64, seen int) (int, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE events
		SET delivery_status = 'failed', delivery_attempts = delivery_attempts + 1
		WHERE id = ? AND delivery_attempts = ? AND delivery_status IN ('pending', 'failed')`,
		id, seen)
	if err != nil {
		return seen, false, fmt.Errorf("record failure of event %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return seen, false, fmt.Errorf("record failure of event %d: %w", id, err)
	}
	if n == 0 {
		return seen, false, nil
	}
	return seen + 1, true, nil
}

func (r *SQLiteEventRepository) Requeue(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE events SET delivery_status = 'pending', delivery_attempts = 0
		WHERE id = ? AND delivery_status = 'failed'`, id)
	if err != nil {
		return fmt.Errorf("requeue event %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrInvalidState
}

func (r *SQLiteEventRepository) DeleteExpired(ctx context.Context, cutoffDate string, createdBefore time.Time) ([]ExpiredEvent, error) {
	const where = `(date <> ? AND date < ?) OR (date = ? AND created_at < ?)`
	args := []any{models.SentinelDate, cutoffDate, models.SentinelDate, createdBefore.Unix()}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin retention tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	rows, err := tx.QueryContext(ctx,
		`SELECT id, device_name, local_image_path FROM events WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("select expired events: %w", err)
	}
	var expired []ExpiredEvent
	for rows.Next() {
		var ev ExpiredEvent
		if err := rows.Scan(&ev.ID, &ev.DeviceName, &ev.LocalImagePath); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired event: %w", err)
		}
		expired = append(expired, ev)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("select expired events: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE `+where, args...); err != nil {
		return nil, fmt.Errorf("delete expired events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit retention tx: %w", err)
	}
	return expired, nil
}

// eventRow holds the scan targets for one events row.
type eventRow struct {
	e       models.Event
	subject sql.NullInt64
	origin  string
	status  string
	created int64
}

func (r *eventRow) dest() []any {
	e := &r.e
	return []any{&e.ID, &e.DeviceName, &e.Seq, &r.subject, &e.SubjectName, &e.Date, &e.Time,
		&e.Description, &e.PictureURL, &e.LocalImagePath, &r.origin,
		&r.status, &e.DeliveryAttempts, &r.created}
}

func (r *eventRow) event() models.Event {
	e := r.e
	if r.subject.Valid {
		v := r.subject.Int64
		e.SubjectID = &v
	}
	e.Origin = models.SyncOrigin(r.origin)
	e.DeliveryStatus = models.DeliveryStatus(r.status)
	e.CreatedAt = time.Unix(r.created, 0).UTC()
	return e
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var r eventRow
	if err := row.Scan(r.dest()...); err != nil {
		return nil, err
	}
	e := r.event()
	return &e, nil
}

var eventMigrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create events table",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE events (
					id                INTEGER PRIMARY KEY AUTOINCREMENT,
					device_name       TEXT    NOT NULL,
					seq               INTEGER NOT NULL,
					subject_id        INTEGER,
					subject_name      TEXT    NOT NULL DEFAULT '',
					date              TEXT    NOT NULL,
					time              TEXT    NOT NULL,
					description       TEXT    NOT NULL DEFAULT '',
					picture_url       TEXT    NOT NULL DEFAULT '',
					local_image_path  TEXT    NOT NULL DEFAULT '',
					origin            TEXT    NOT NULL DEFAULT 'realtime',
					delivery_status   TEXT    NOT NULL DEFAULT 'pending',
					delivery_attempts INTEGER NOT NULL DEFAULT 0,
					created_at        INTEGER NOT NULL,
					UNIQUE (device_name, seq)
				)`,
				`CREATE INDEX idx_events_delivery ON events(delivery_status, delivery_attempts)`,
				`CREATE INDEX idx_events_date ON events(date)`,
			}
			for _, s := range stmts {
				if _, err := tx.Exec(s); err != nil {
					return err
				}
			}
			return nil
		},
	},
}
