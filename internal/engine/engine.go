// Package engine opens the embedded SQLite database and executes DDL on it.
//
// Build modes:
//   - Default: pure Go modernc.org/sqlite
//   - CGO (-tags cgo_sqlite): mattn/go-sqlite3
//
// The engine is the only component that writes to the database. It keeps a
// single connection, so DDL from one Engine is serialized.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	tferrors "github.com/arkilian/tablefit/internal/errors"
)

// Options configures how the database file is opened.
type Options struct {
	// Path is the database file path, or ":memory:"
	Path string

	// BusyTimeout bounds how long a statement waits on a locked database
	BusyTimeout time.Duration

	// JournalMode is passed to PRAGMA journal_mode when set (e.g. WAL)
	JournalMode string
}

// Engine executes DDL against one SQLite database.
type Engine struct {
	db   *sqlx.DB
	path string
}

// Open opens the database described by opts.
func Open(opts Options) (*Engine, error) {
	if opts.Path == "" {
		return nil, tferrors.NewConfigError("engine: database path is required")
	}

	db, err := sqlx.Open(driverName, buildDSN(opts.Path, opts))
	if err != nil {
		return nil, tferrors.NewEngineError(tferrors.CodeOpenFailed,
			fmt.Sprintf("failed to open database %s", opts.Path), err)
	}
	db.SetMaxOpenConns(1) // Single writer; also keeps :memory: databases alive
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, tferrors.NewEngineError(tferrors.CodeOpenFailed,
			fmt.Sprintf("failed to open database %s", opts.Path), err)
	}

	return &Engine{db: db, path: opts.Path}, nil
}

// Execute runs one DDL statement. Failures are returned as engine errors
// that carry the driver error unchanged.
func (e *Engine) Execute(ctx context.Context, stmt string) error {
	start := time.Now()
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return tferrors.NewEngineError(tferrors.CodeExecFailed, "failed to execute "+stmt, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		log.Printf("[WARN] engine: slow DDL on %s (%v): %s", e.path, elapsed, stmt)
	}
	return nil
}

// DB exposes the connection for catalog queries.
func (e *Engine) DB() *sqlx.DB {
	return e.db
}

// Path returns the database path the engine was opened with.
func (e *Engine) Path() string {
	return e.path
}

// Close closes the database connection.
func (e *Engine) Close() error {
	return e.db.Close()
}

// DriverName returns the database/sql driver name in use.
func DriverName() string {
	return driverName
}

// DriverType returns "purego" for modernc.org/sqlite or "cgo" for mattn/go-sqlite3.
func DriverType() string {
	return driverType
}

// IsCGO returns true if the CGO implementation is being used.
func IsCGO() bool {
	return driverType == "cgo"
}

// Info describes the SQLite driver configuration.
type Info struct {
	DriverName string `json:"driver_name"`
	DriverType string `json:"driver_type"`
	IsCGO      bool   `json:"is_cgo"`
	Package    string `json:"package"`
}

// GetInfo returns information about the current SQLite driver.
func GetInfo() Info {
	return Info{
		DriverName: driverName,
		DriverType: driverType,
		IsCGO:      IsCGO(),
		Package:    driverPackage,
	}
}
