package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/HerbHall/gatesync/pkg/plugin"
)

// Setting is one stored tunable. Values are kept as operators typed them;
// Tunables parses them at use time.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SettingsRepository is the flat key/value store behind Tunables.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (*Setting, error)

	// GetAll returns every stored setting ordered by key.
	GetAll(ctx context.Context) ([]Setting, error)

	Set(ctx context.Context, key, value string) error

	// SetMany stores all of kv or none of it.
	SetMany(ctx context.Context, kv map[string]string) error

	// Delete removes key so that its default applies again.
	Delete(ctx context.Context, key string) error
}

var _ SettingsRepository = (*SQLiteSettingsRepository)(nil)

// SQLiteSettingsRepository implements SettingsRepository on core_settings.
type SQLiteSettingsRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteSettingsRepository runs the settings migrations and returns the
// repository.
func NewSQLiteSettingsRepository(ctx context.Context, store plugin.Store) (*SQLiteSettingsRepository, error) {
	if err := store.Migrate(ctx, "core", settingsMigrations); err != nil {
		return nil, fmt.Errorf("core settings migrations: %w", err)
	}
	return &SQLiteSettingsRepository{db: store.DB(), now: time.Now}, nil
}

func (r *SQLiteSettingsRepository) Get(ctx context.Context, key string) (*Setting, error) {
	var (
		s       Setting
		updated int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM core_settings WHERE key = ?`, key,
	).Scan(&s.Key, &s.Value, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}
	s.UpdatedAt = time.Unix(updated, 0).UTC()
	return &s, nil
}

func (r *SQLiteSettingsRepository) GetAll(ctx context.Context) ([]Setting, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM core_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var (
			s       Setting
			updated int64
		)
		if err := rows.Scan(&s.Key, &s.Value, &updated); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		s.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

const upsertSetting = `
	INSERT INTO core_settings (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (r *SQLiteSettingsRepository) Set(ctx context.Context, key, value string) error {
	if _, err := r.db.ExecContext(ctx, upsertSetting, key, value, r.now().Unix()); err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func (r *SQLiteSettingsRepository) SetMany(ctx context.Context, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := r.now().Unix()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, upsertSetting, k, kv[k], now); err != nil {
			return fmt.Errorf("set setting %q: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings tx: %w", err)
	}
	return nil
}

func (r *SQLiteSettingsRepository) Delete(ctx context.Context, key string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM core_settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete setting %q: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

var settingsMigrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create core_settings table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE core_settings (
					key        TEXT PRIMARY KEY,
					value      TEXT NOT NULL,
					updated_at INTEGER NOT NULL
				)`)
			return err
		},
	},
}
