package models

import (
	"strings"
	"time"
)

// DeviceStatus represents the last observed health of a terminal.
type DeviceStatus string

const (
	DeviceStatusNew     DeviceStatus = "new"
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusError   DeviceStatus = "error"
)

// Device represents a networked access-control terminal. The network
// address is its identity.
type Device struct {
	Address    string       `json:"address"`
	Name       string       `json:"name"`
	Location   string       `json:"location,omitempty"`
	WebhookURL string       `json:"webhook_url,omitempty"`
	Username   string       `json:"-"`
	Password   string       `json:"-"`
	Active     bool         `json:"active"`
	Status     DeviceStatus `json:"status"`
	LastSync   *time.Time   `json:"last_sync,omitempty"`
}

// Label returns the display name, falling back to the address.
func (d Device) Label() string {
	if strings.TrimSpace(d.Name) != "" {
		return d.Name
	}
	return d.Address
}

// HasCredentials reports whether both local API credentials are set.
func (d Device) HasCredentials() bool {
	return d.Username != "" && d.Password != ""
}

// HasWebhook reports whether events of this device have a delivery target.
func (d Device) HasWebhook() bool {
	return strings.TrimSpace(d.WebhookURL) != ""
}
