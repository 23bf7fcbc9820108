// Package plugin defines the lifecycle contract shared by gatesync modules
// and the storage contract they migrate against.
package plugin

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Route represents an HTTP route exposed by a plugin.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Info describes a plugin for the operations API.
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Plugin defines the interface that all gatesync modules must implement.
type Plugin interface {
	// Info returns the plugin's identity. Name must be unique.
	Info() Info

	// Init applies static configuration. Runtime collaborators are
	// injected through the plugin's constructor.
	Init(config *viper.Viper, logger *zap.Logger) error

	// Start begins the plugin's background operations.
	Start(ctx context.Context) error

	// Stop waits for in-flight work to finish and shuts down.
	Stop() error
}

// Migration is one versioned schema step owned by a plugin.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// Store is the persistence contract plugins migrate and query against.
type Store interface {
	DB() *sql.DB
	Tx(ctx context.Context, fn func(tx *sql.Tx) error) error
	Migrate(ctx context.Context, pluginName string, migrations []Migration) error
}
