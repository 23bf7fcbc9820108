package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/internal/testutil"
	"github.com/HerbHall/gatesync/pkg/models"
)

func TestEventRepository_InsertDuplicateIsNoop(t *testing.T) {
	r := testutil.NewRepos(t)
	ctx := context.Background()

	e := testutil.NewEvent(42)
	inserted, err := r.Events.Insert(ctx, &e)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, e.ID)

	dup := testutil.NewEvent(42, testutil.WithDelivery(models.DeliverySkipped, 0))
	inserted, err = r.Events.Insert(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := r.Events.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPending, got.DeliveryStatus)
	require.NotNil(t, got.SubjectID)
	assert.Equal(t, int64(1001), *got.SubjectID)

	exists, err := r.Events.Exists(ctx, "Gate-A", 42)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = r.Events.Exists(ctx, "Gate-B", 42)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEventRepository_DeliveryBatch(t *testing.T) {
	r := testutil.NewRepos(t)
	ctx := context.Background()

	r.AddDevice(t, testutil.NewDevice())
	r.AddDevice(t, testutil.NewDevice(
		testutil.WithAddress("10.0.0.2"), testutil.WithName("Gate-B"), testutil.WithWebhook("")))
	r.AddDevice(t, testutil.NewDevice(testutil.WithAddress("10.0.0.3"), testutil.WithName("")))

	pending := r.AddEvent(t, testutil.NewEvent(1))
	retry := r.AddEvent(t, testutil.NewEvent(2, testutil.WithDelivery(models.DeliveryFailed, 4)))
	r.AddEvent(t, testutil.NewEvent(3, testutil.WithDelivery(models.DeliveryFailed, 5)))
	r.AddEvent(t, testutil.NewEvent(4, testutil.WithDelivery(models.DeliverySkipped, 0)))
	r.AddEvent(t, testutil.NewEvent(5, testutil.WithDelivery(models.DeliverySuccess, 0)))
	r.AddEvent(t, testutil.NewEvent(6, testutil.OnDevice("Gate-B")))
	byAddr := r.AddEvent(t, testutil.NewEvent(7, testutil.OnDevice("10.0.0.3")))

	batch, err := r.Events.DeliveryBatch(ctx, 5, 10)
	require.NoError(t, err)

	require.Len(t, batch, 3)
	var ids []int64
	for _, it := range batch {
		ids = append(ids, it.Event.ID)
	}
	assert.Equal(t, []int64{pending.ID, retry.ID, byAddr.ID}, ids)
	assert.Equal(t, "192.168.1.100", batch[0].Device.Address)
	assert.Equal(t, "10.0.0.3", batch[2].Device.Address)

	limited, err := r.Events.DeliveryBatch(ctx, 5, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestEventRepository_DeliveryBatchSharedNamePicksOneDevice(t *testing.T) {
	r := testutil.NewRepos(t)
	ctx := context.Background()

	r.AddDevice(t, testutil.NewDevice(testutil.WithWebhook("http://hook-a.example/in")))
	r.AddDevice(t, testutil.NewDevice(testutil.WithAddress("10.0.0.9"), testutil.WithWebhook("http://hook-b.example/in")))
	r.AddDevice(t, testutil.NewDevice(testutil.WithAddress("10.0.0.1"), testutil.Inactive()))
	ev := r.AddEvent(t, testutil.NewEvent(1))

	batch, err := r.Events.DeliveryBatch(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, ev.ID, batch[0].Event.ID)
	assert.Equal(t, "10.0.0.9", batch[0].Device.Address)
}

func TestEventRepository_RecordFailureIsConditional(t *testing.T) {
	r := testutil.NewRepos(t)
	ctx := context.Background()
	e := r.AddEvent(t, testutil.NewEvent(1))

	attempts, applied, err := r.Events.RecordFailure(ctx, e.ID, 0)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 1, attempts)

	// A stale writer that also saw 0 attempts must not double count.
	_, applied, err = r.Events.RecordFailure(ctx, e.ID, 0)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := r.Events.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryFailed, got.DeliveryStatus)
	assert.Equal(t, 1, got.DeliveryAttempts)
}

func TestEventRepository_MarkSuccessAndRequeue(t *testing.T) {
	r := testutil.NewRepos(t)
	ctx := context.Background()
	ok := r.AddEvent(t, testutil.NewEvent(1))
	failed := r.AddEvent(t, testutil.NewEvent(2, testutil.WithDelivery(models.DeliveryFailed, 5)))

	require.NoError(t, r.Events.MarkSuccess(ctx, ok.ID))
	assert.ErrorIs(t, r.Events.MarkSuccess(ctx, 999), services.ErrNotFound)

	require.NoError(t, r.Events.Requeue(ctx, failed.ID))
	got, err := r.Events.Get(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryPending, got.DeliveryStatus)
	assert.Equal(t, 0, got.DeliveryAttempts)

	assert.ErrorIs(t, r.Events.Requeue(ctx, ok.ID), services.ErrInvalidState)
	assert.ErrorIs(t, r.Events.Requeue(ctx, 999), services.ErrNotFound)
}

func TestEventRepository_ListByDateAndCounts(t *testing.T) {
	r := testutil.NewRepos(t)
	ctx := context.Background()
	r.AddEvent(t, testutil.NewEvent(1))
	r.AddEvent(t, testutil.NewEvent(2, testutil.WithDelivery(models.DeliverySkipped, 0)))
	r.AddEvent(t, testutil.NewEvent(3, testutil.WithDate("2025-01-02")))

	res, err := r.Events.ListByDate(ctx, "2025-01-01", services.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Len(t, res.Items, 2)

	counts, err := r.Events.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.DeliveryPending])
	assert.Equal(t, 1, counts[models.DeliverySkipped])
}

func TestEventRepository_DeleteExpired(t *testing.T) {
	r := testutil.NewRepos(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	old := r.AddEvent(t, testutil.NewEvent(1, testutil.WithDate("2024-12-30"), testutil.WithImage("Gate-A/2024-12-30/a-1.jpg")))
	r.AddEvent(t, testutil.NewEvent(2, testutil.WithDate("2024-12-31")))
	undatedOld := testutil.NewEvent(3, testutil.WithDate(models.SentinelDate))
	undatedOld.CreatedAt = now.AddDate(0, 0, -90)
	r.AddEvent(t, undatedOld)
	undatedNew := testutil.NewEvent(4, testutil.WithDate(models.SentinelDate))
	undatedNew.CreatedAt = now
	r.AddEvent(t, undatedNew)

	expired, err := r.Events.DeleteExpired(ctx, "2024-12-31", now.AddDate(0, 0, -60))
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, old.ID, expired[0].ID)
	assert.Equal(t, "Gate-A/2024-12-30/a-1.jpg", expired[0].LocalImagePath)

	for _, seq := range []int64{2, 4} {
		ok, err := r.Events.Exists(ctx, "Gate-A", seq)
		require.NoError(t, err)
		assert.True(t, ok, "seq %d should be retained", seq)
	}
}
