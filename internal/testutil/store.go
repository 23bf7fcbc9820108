package testutil

import (
	"context"
	"testing"

	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/internal/store"
	"github.com/HerbHall/gatesync/pkg/models"
)

// NewStore creates an in-memory SQLiteStore that is closed with the test.
func NewStore(t testing.TB) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("testutil.NewStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Repos bundles every repository over one migrated store.
type Repos struct {
	Store    *store.SQLiteStore
	Settings *services.SQLiteSettingsRepository
	Devices  *services.SQLiteDeviceRepository
	Events   *services.SQLiteEventRepository
	Tunables *services.Tunables
}

// NewRepos migrates a fresh in-memory store and returns its repositories.
func NewRepos(t testing.TB) *Repos {
	t.Helper()
	ctx := context.Background()
	s := NewStore(t)

	settings, err := services.NewSQLiteSettingsRepository(ctx, s)
	if err != nil {
		t.Fatalf("settings repo: %v", err)
	}
	devices, err := services.NewSQLiteDeviceRepository(ctx, s)
	if err != nil {
		t.Fatalf("devices repo: %v", err)
	}
	events, err := services.NewSQLiteEventRepository(ctx, s)
	if err != nil {
		t.Fatalf("events repo: %v", err)
	}
	return &Repos{
		Store:    s,
		Settings: settings,
		Devices:  devices,
		Events:   events,
		Tunables: services.NewTunables(settings),
	}
}

// Set stores tunables, failing the test on error.
func (r *Repos) Set(t testing.TB, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		if err := r.Settings.Set(context.Background(), k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
}

// AddDevice inserts d, failing the test on error.
func (r *Repos) AddDevice(t testing.TB, d models.Device) models.Device {
	t.Helper()
	if err := r.Devices.Create(context.Background(), &d); err != nil {
		t.Fatalf("create device %s: %v", d.Address, err)
	}
	return d
}

// AddEvent inserts e, failing the test on error or duplicate.
func (r *Repos) AddEvent(t testing.TB, e models.Event) models.Event {
	t.Helper()
	ok, err := r.Events.Insert(context.Background(), &e)
	if err != nil {
		t.Fatalf("insert event %s/%d: %v", e.DeviceName, e.Seq, err)
	}
	if !ok {
		t.Fatalf("insert event %s/%d: duplicate", e.DeviceName, e.Seq)
	}
	return e
}
