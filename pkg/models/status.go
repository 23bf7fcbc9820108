package models

// Retryable reports whether an event in this status may still enter a
// delivery batch, given its attempt count and the configured cap.
func (s DeliveryStatus) Retryable(attempts, maxAttempts int) bool {
	switch s {
	case DeliveryPending:
		return true
	case DeliveryFailed:
		return attempts < maxAttempts
	default:
		return false
	}
}

// Unhealthy reports whether the status is one a recovery alert fires from.
func (s DeviceStatus) Unhealthy() bool {
	return s == DeviceStatusOffline || s == DeviceStatusError
}
