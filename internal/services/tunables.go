package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Recognized operational tunables. Every value is read at use time so an
// operator change takes effect on the next cycle without a restart.
const (
	KeyPollInterval          = "poll_interval_seconds"
	KeyProbeInterval         = "health_probe_interval_seconds"
	KeyProbeTimeout          = "probe_timeout_ms"
	KeyPingMaxFail           = "ping_max_fail"
	KeySuspend               = "suspend_seconds"
	KeyRequestTimeout        = "request_timeout_seconds"
	KeyCatchUpThreshold      = "catchup_threshold_seconds"
	KeyCatchUpChunk          = "catchup_chunk_minutes"
	KeyEventPageSize         = "event_page_size"
	KeyInitialLookback       = "initial_lookback_hours"
	KeyDeviceTimezone        = "device_timezone"
	KeyRealtimeTolerance     = "realtime_tolerance_seconds"
	KeySnapshotRetries       = "snapshot_download_retries"
	KeySnapshotRetryDelay    = "snapshot_retry_delay_ms"
	KeyDeliveryInterval      = "delivery_interval_seconds"
	KeyDeliveryBatchSize     = "delivery_batch_size"
	KeyDeliveryWorkers       = "delivery_workers"
	KeyDeliveryMaxAttempts   = "delivery_max_attempts"
	KeyRetentionDays         = "retention_days"
	KeyLogRetentionDays      = "log_retention_days"
	KeyNotifyDevice          = "notify_device_enabled"
	KeyNotifyDeliveryFailure = "notify_delivery_failure_enabled"
	KeyNotifyRecipients      = "notify_recipients"
	KeyNotifyRecipientPrefix = "notify_recipient_prefix"
	KeyNotifyGatewayURL      = "notify_gateway_url"
	KeyNotifyRate            = "notify_rate_per_second"
)

// Defaults holds the value used when a tunable is unset or unparsable.
var Defaults = map[string]string{
	KeyPollInterval:          "10",
	KeyProbeInterval:         "10",
	KeyProbeTimeout:          "1000",
	KeyPingMaxFail:           "5",
	KeySuspend:               "300",
	KeyRequestTimeout:        "30",
	KeyCatchUpThreshold:      "3600",
	KeyCatchUpChunk:          "10",
	KeyEventPageSize:         "30",
	KeyInitialLookback:       "24",
	KeyDeviceTimezone:        "+07:00",
	KeyRealtimeTolerance:     "100",
	KeySnapshotRetries:       "2",
	KeySnapshotRetryDelay:    "1000",
	KeyDeliveryInterval:      "15",
	KeyDeliveryBatchSize:     "5",
	KeyDeliveryWorkers:       "5",
	KeyDeliveryMaxAttempts:   "5",
	KeyRetentionDays:         "60",
	KeyLogRetentionDays:      "",
	KeyNotifyDevice:          "false",
	KeyNotifyDeliveryFailure: "false",
	KeyNotifyRecipients:      "",
	KeyNotifyRecipientPrefix: "62",
	KeyNotifyGatewayURL:      "",
	KeyNotifyRate:            "5",
}

// Tunables is a typed, read-through view over the settings table.
type Tunables struct {
	repo SettingsRepository
}

// NewTunables wraps repo.
func NewTunables(repo SettingsRepository) *Tunables {
	return &Tunables{repo: repo}
}

// Raw returns the stored value for key, or its default. A read error
// falls back to the default as well.
func (t *Tunables) Raw(ctx context.Context, key string) string {
	if t != nil && t.repo != nil {
		s, err := t.repo.Get(ctx, key)
		if err == nil {
			return strings.TrimSpace(s.Value)
		}
	}
	return Defaults[key]
}

// Int returns key as an integer. Non-positive and malformed values fall
// back to the default.
func (t *Tunables) Int(ctx context.Context, key string) int {
	if n, err := strconv.Atoi(t.Raw(ctx, key)); err == nil && n > 0 {
		return n
	}
	n, _ := strconv.Atoi(Defaults[key])
	return n
}

// Bool returns key as a boolean.
func (t *Tunables) Bool(ctx context.Context, key string) bool {
	b, err := strconv.ParseBool(t.Raw(ctx, key))
	if err != nil {
		b, _ = strconv.ParseBool(Defaults[key])
	}
	return b
}

// Seconds returns key, stored in seconds, as a duration.
func (t *Tunables) Seconds(ctx context.Context, key string) time.Duration {
	return time.Duration(t.Int(ctx, key)) * time.Second
}

// Millis returns key, stored in milliseconds, as a duration.
func (t *Tunables) Millis(ctx context.Context, key string) time.Duration {
	return time.Duration(t.Int(ctx, key)) * time.Millisecond
}

// Minutes returns key, stored in minutes, as a duration.
func (t *Tunables) Minutes(ctx context.Context, key string) time.Duration {
	return time.Duration(t.Int(ctx, key)) * time.Minute
}

// Hours returns key, stored in hours, as a duration.
func (t *Tunables) Hours(ctx context.Context, key string) time.Duration {
	return time.Duration(t.Int(ctx, key)) * time.Hour
}

// LogRetentionDays falls back to the event retention window when unset.
func (t *Tunables) LogRetentionDays(ctx context.Context) int {
	if n, err := strconv.Atoi(t.Raw(ctx, KeyLogRetentionDays)); err == nil && n > 0 {
		return n
	}
	return t.Int(ctx, KeyRetentionDays)
}

// DeviceTimezone returns the fixed offset the terminals report local time in.
func (t *Tunables) DeviceTimezone(ctx context.Context) (suffix string, loc *time.Location) {
	suffix = t.Raw(ctx, KeyDeviceTimezone)
	loc, err := ParseOffset(suffix)
	if err != nil {
		suffix = Defaults[KeyDeviceTimezone]
		loc, _ = ParseOffset(suffix)
	}
	return suffix, loc
}

// ParseOffset parses a "+HH:MM" / "-HH:MM" suffix into a fixed zone.
func ParseOffset(s string) (*time.Location, error) {
	if s == "Z" {
		return time.UTC, nil
	}
	t, err := time.Parse("-07:00", s)
	if err != nil {
		return nil, fmt.Errorf("parse offset %q: %w", s, err)
	}
	_, off := t.Zone()
	return time.FixedZone(s, off), nil
}

// Validate checks a candidate value for a recognized key. Unknown keys are
// rejected so typos do not silently become dead settings.
func Validate(key, value string) error {
	def, ok := Defaults[key]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	value = strings.TrimSpace(value)
	switch {
	case key == KeyDeviceTimezone:
		_, err := ParseOffset(value)
		return err
	case key == KeyLogRetentionDays && value == "":
		return nil
	case def == "true" || def == "false":
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s must be a boolean", key)
		}
	case isNumeric(def) || key == KeyLogRetentionDays:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer", key)
		}
	}
	return nil
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
