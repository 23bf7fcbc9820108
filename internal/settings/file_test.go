package settings_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/internal/settings"
	"github.com/HerbHall/gatesync/internal/testutil"
)

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := testutil.NewRepos(t)
	src.Set(t, map[string]string{
		services.KeyPollInterval:     "20",
		services.KeyDeviceTimezone:   "+08:00",
		services.KeyNotifyRecipients: "6281234567890,6289876543210",
	})

	var buf bytes.Buffer
	require.NoError(t, settings.Export(ctx, src.Settings, &buf))
	out := buf.String()
	assert.Contains(t, out, `poll_interval_seconds: "20"`)
	assert.Contains(t, out, `device_timezone: "+08:00"`)
	assert.NotContains(t, out, services.KeyRetentionDays)

	dst := testutil.NewRepos(t)
	n, err := settings.Import(ctx, dst.Settings, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 20, dst.Tunables.Int(ctx, services.KeyPollInterval))
	assert.Equal(t, "6281234567890,6289876543210", dst.Tunables.Raw(ctx, services.KeyNotifyRecipients))
}

func TestImportUnquotedValues(t *testing.T) {
	ctx := context.Background()
	repos := testutil.NewRepos(t)
	n, err := settings.Import(ctx, repos.Settings, strings.NewReader("ping_max_fail: 3\nnotify_device_enabled: true\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, repos.Tunables.Int(ctx, services.KeyPingMaxFail))
	assert.True(t, repos.Tunables.Bool(ctx, services.KeyNotifyDevice))
}

func TestImportRejectsWholeFileOnBadValue(t *testing.T) {
	ctx := context.Background()
	repos := testutil.NewRepos(t)
	_, err := settings.Import(ctx, repos.Settings, strings.NewReader("ping_max_fail: 3\nsuspend_seconds: later\n"))
	require.Error(t, err)

	all, err := repos.Settings.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestImportEmpty(t *testing.T) {
	n, err := settings.Import(context.Background(), testutil.NewRepos(t).Settings, strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, n)
}
