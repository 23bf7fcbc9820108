package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/internal/snapshot"
	"github.com/HerbHall/gatesync/internal/terminal"
	"github.com/HerbHall/gatesync/internal/testutil"
	"github.com/HerbHall/gatesync/pkg/models"
)

type fakeFetcher struct {
	calls atomic.Int32
	data  []byte
	err   error
}

func (f *fakeFetcher) FetchSnapshot(_ context.Context, _ string) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

var wib = time.FixedZone("+07:00", 7*3600)

type fixture struct {
	repos     *testutil.Repos
	snapshots *snapshot.Store
	ingestor  *Ingestor
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := testutil.NewRepos(t)
	repos.Set(t, map[string]string{services.KeySnapshotRetryDelay: "1"})
	snaps := snapshot.New(t.TempDir())
	now := time.Date(2025, 1, 1, 8, 0, 30, 0, wib)
	in := New(repos.Events, snaps, repos.Tunables, zap.NewNop(), WithClock(func() time.Time { return now }))
	return &fixture{repos: repos, snapshots: snaps, ingestor: in, now: now}
}

func faceEvent(seq int64) terminal.RawEvent {
	return terminal.RawEvent{
		Major:            5,
		Minor:            75,
		Time:             "2025-01-01T08:00:00+07:00",
		SerialNo:         seq,
		EmployeeNoString: "1001",
		Name:             "Budi Santoso",
		PictureURL:       "http://10.0.0.1/LOCALS/pic/42.jpg",
	}
}

func TestIngestEligibleEventIsPending(t *testing.T) {
	f := newFixture(t)
	dev := testutil.NewDevice()
	fetch := &fakeFetcher{data: []byte("jpeg")}

	out, err := f.ingestor.Ingest(context.Background(), dev, fetch, faceEvent(42))
	require.NoError(t, err)
	require.True(t, out.Inserted)

	got, err := f.repos.Events.Get(context.Background(), out.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gate-A", got.DeviceName)
	assert.Equal(t, int64(42), got.Seq)
	assert.Equal(t, models.DeliveryPending, got.DeliveryStatus)
	assert.Equal(t, FaceRecognized, got.Description)
	assert.Equal(t, "2025-01-01", got.Date)
	assert.Equal(t, "08:00:00", got.Time)
	assert.Equal(t, models.OriginRealtime, got.Origin)
	assert.Equal(t, "Gate-A/2025-01-01/Budi_Santoso-42.jpg", got.LocalImagePath)
	require.NotNil(t, got.SubjectID)
	assert.Equal(t, int64(1001), *got.SubjectID)

	img, err := f.snapshots.Read(got.LocalImagePath)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(img))
}

func TestIngestDuplicateIsSilent(t *testing.T) {
	f := newFixture(t)
	dev := testutil.NewDevice()
	fetch := &fakeFetcher{data: []byte("jpeg")}

	_, err := f.ingestor.Ingest(context.Background(), dev, fetch, faceEvent(42))
	require.NoError(t, err)
	out, err := f.ingestor.Ingest(context.Background(), dev, fetch, faceEvent(42))
	require.NoError(t, err)
	assert.False(t, out.Inserted)
	assert.Equal(t, int32(1), fetch.calls.Load(), "duplicate must not download again")
}

func TestIngestIneligibleIsSkipped(t *testing.T) {
	f := newFixture(t)
	fetch := &fakeFetcher{data: []byte("jpeg")}
	raw := faceEvent(7)
	raw.Minor = 38

	out, err := f.ingestor.Ingest(context.Background(), testutil.NewDevice(), fetch, raw)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySkipped, out.Event.DeliveryStatus)
	assert.Equal(t, "Door Closed", out.Event.Description)
	assert.Zero(t, fetch.calls.Load(), "ineligible events get no snapshot")
	assert.Empty(t, out.Event.LocalImagePath)
}

func TestIngestStatusPrecedence(t *testing.T) {
	tests := []struct {
		name   string
		device models.Device
		mutate func(*terminal.RawEvent)
		fetch  *fakeFetcher
		want   models.DeliveryStatus
	}{
		{
			name:   "no webhook",
			device: testutil.NewDevice(testutil.WithWebhook("")),
			fetch:  &fakeFetcher{err: errors.New("down")},
			want:   models.DeliverySkippedNoAPI,
		},
		{
			name:   "no subject",
			device: testutil.NewDevice(),
			mutate: func(r *terminal.RawEvent) { r.EmployeeNoString = "" },
			fetch:  &fakeFetcher{data: []byte("x")},
			want:   models.DeliverySkipped,
		},
		{
			name:   "non-numeric subject",
			device: testutil.NewDevice(),
			mutate: func(r *terminal.RawEvent) { r.EmployeeNoString = "A12" },
			fetch:  &fakeFetcher{data: []byte("x")},
			want:   models.DeliverySkipped,
		},
		{
			name:   "snapshot unavailable",
			device: testutil.NewDevice(),
			fetch:  &fakeFetcher{err: errors.New("404")},
			want:   models.DeliveryFailed,
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			raw := faceEvent(int64(100 + i))
			if tt.mutate != nil {
				tt.mutate(&raw)
			}
			out, err := f.ingestor.Ingest(context.Background(), tt.device, tt.fetch, raw)
			require.NoError(t, err)
			require.True(t, out.Inserted)
			assert.Equal(t, tt.want, out.Event.DeliveryStatus)
			assert.Equal(t, 0, out.Event.DeliveryAttempts)
		})
	}
}

func TestIngestSnapshotRetriesAreBounded(t *testing.T) {
	f := newFixture(t)
	f.repos.Set(t, map[string]string{services.KeySnapshotRetries: "3"})
	fetch := &fakeFetcher{err: errors.New("timeout")}

	out, err := f.ingestor.Ingest(context.Background(), testutil.NewDevice(), fetch, faceEvent(1))
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryFailed, out.Event.DeliveryStatus)
	assert.Equal(t, int32(3), fetch.calls.Load())
}

func TestIngestUnparsableTimeUsesSentinel(t *testing.T) {
	f := newFixture(t)
	raw := faceEvent(9)
	raw.Time = "garbage"

	out, err := f.ingestor.Ingest(context.Background(), testutil.NewDevice(), &fakeFetcher{data: []byte("x")}, raw)
	require.NoError(t, err)
	assert.Equal(t, models.SentinelDate, out.Event.Date)
	assert.Equal(t, models.SentinelTime, out.Event.Time)
	assert.Equal(t, models.OriginCatchUp, out.Event.Origin)
	assert.Equal(t, "Gate-A/undated/Budi_Santoso-9.jpg", out.Event.LocalImagePath)
	assert.True(t, out.OccurredAt.IsZero())
}

func TestIngestOldEventIsCatchUp(t *testing.T) {
	f := newFixture(t)
	raw := faceEvent(10)
	raw.Time = "2025-01-01T07:50:00+07:00"

	out, err := f.ingestor.Ingest(context.Background(), testutil.NewDevice(), &fakeFetcher{data: []byte("x")}, raw)
	require.NoError(t, err)
	assert.Equal(t, models.OriginCatchUp, out.Event.Origin)
	assert.True(t, out.OccurredAt.Equal(time.Date(2025, 1, 1, 7, 50, 0, 0, wib)))
}

func TestIngestDeviceWithoutNameUsesAddress(t *testing.T) {
	f := newFixture(t)
	dev := testutil.NewDevice(testutil.WithName(""), testutil.WithAddress("10.1.1.1"))

	out, err := f.ingestor.Ingest(context.Background(), dev, &fakeFetcher{data: []byte("x")}, faceEvent(3))
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1", out.Event.DeviceName)
	assert.Equal(t, "10_1_1_1/2025-01-01/Budi_Santoso-3.jpg", out.Event.LocalImagePath)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Classification{Description: FaceRecognized, Eligible: true}, Classify(5, 75))
	assert.Equal(t, Classification{Description: "Fingerprint Pass"}, Classify(5, 23))
	assert.Equal(t, Classification{Description: Unrecognized}, Classify(9, 9))
}

func TestParseEventTime(t *testing.T) {
	got, ok := ParseEventTime("2025-03-04T10:11:12+07:00", wib)
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2025, 3, 4, 10, 11, 12, 0, wib)))

	_, ok = ParseEventTime("2025-03-04", wib)
	assert.False(t, ok)
}
