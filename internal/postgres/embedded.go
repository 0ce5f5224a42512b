// Package postgres runs a temporary embedded PostgreSQL server. Integration
// tests share one instance and create the types they resolve in it.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/pgplex/pgcustom/cmd/util"
	"github.com/pgplex/pgcustom/internal/logger"
)

// PostgresVersion is an alias for the embedded-postgres version type.
type PostgresVersion = embeddedpostgres.PostgresVersion

// EmbeddedPostgres manages a temporary embedded PostgreSQL instance
type EmbeddedPostgres struct {
	instance    *embeddedpostgres.EmbeddedPostgres
	db          *sql.DB
	config      *util.ConnectionConfig
	runtimePath string
}

// EmbeddedPostgresConfig holds configuration for starting embedded PostgreSQL
type EmbeddedPostgresConfig struct {
	Version  PostgresVersion
	Database string
	Username string
	Password string
}

// StartEmbeddedPostgres starts a temporary embedded PostgreSQL instance
func StartEmbeddedPostgres(config *EmbeddedPostgresConfig) (*EmbeddedPostgres, error) {
	log := logger.Get()

	// Create unique runtime path with timestamp
	timestamp := time.Now().Format("20060102_150405_999999")
	runtimePath := filepath.Join(os.TempDir(), fmt.Sprintf("pgcustom-%s", timestamp))

	port, err := findAvailablePort()
	if err != nil {
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	log.Debug("Starting embedded PostgreSQL",
		"version", config.Version,
		"port", port,
		"database", config.Database,
		"runtime_path", runtimePath,
	)

	pgConfig := embeddedpostgres.DefaultConfig().
		Version(config.Version).
		Database(config.Database).
		Username(config.Username).
		Password(config.Password).
		Port(uint32(port)).
		RuntimePath(runtimePath).
		DataPath(filepath.Join(runtimePath, "data")).
		Logger(io.Discard).
		StartParameters(map[string]string{
			"logging_collector": "off",
			"log_min_messages":  "PANIC",
			"log_statement":     "none",
		})

	instance := embeddedpostgres.NewDatabase(pgConfig)
	if err := instance.Start(); err != nil {
		return nil, fmt.Errorf("failed to start embedded PostgreSQL: %w", err)
	}

	connConfig := &util.ConnectionConfig{
		Host:     "localhost",
		Port:     port,
		Database: config.Database,
		User:     config.Username,
		Password: config.Password,
		SSLMode:  "disable",
	}

	db, err := util.Connect(context.Background(), connConfig)
	if err != nil {
		instance.Stop()
		os.RemoveAll(runtimePath)
		return nil, fmt.Errorf("failed to connect to embedded PostgreSQL: %w", err)
	}

	log.Debug("Embedded PostgreSQL started successfully", "port", port)

	return &EmbeddedPostgres{
		instance:    instance,
		db:          db,
		config:      connConfig,
		runtimePath: runtimePath,
	}, nil
}

// DB returns the connection pool. Its sessions use the server's default search_path.
func (ep *EmbeddedPostgres) DB() *sql.DB {
	return ep.db
}

// ConnectionConfig returns a copy of the connection settings of the instance.
func (ep *EmbeddedPostgres) ConnectionConfig() util.ConnectionConfig {
	return *ep.config
}

// Exec runs one or more statements on the pool.
func (ep *EmbeddedPostgres) Exec(ctx context.Context, stmt string, description string) error {
	if _, err := util.ExecContextWithLogging(ctx, ep.db, stmt, description); err != nil {
		return fmt.Errorf("failed to %s: %w", description, err)
	}
	return nil
}

// Session returns a dedicated connection. When schemas are given the
// session's search_path is set to them, in order. The caller must close it.
func (ep *EmbeddedPostgres) Session(ctx context.Context, schemas ...string) (*sql.Conn, error) {
	conn, err := ep.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	if len(schemas) > 0 {
		stmt := "SET search_path TO " + util.FormatSearchPath(schemas)
		if _, err := util.ExecContextWithLogging(ctx, conn, stmt, "set search_path"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set search_path: %w", err)
		}
	}
	return conn, nil
}

// ResetSchemas drops schemas with everything in them and recreates them empty.
func (ep *EmbeddedPostgres) ResetSchemas(ctx context.Context, schemas ...string) error {
	for _, schema := range schemas {
		quoted := util.QuoteIdentifier(schema)
		if err := ep.Exec(ctx, "DROP SCHEMA IF EXISTS "+quoted+" CASCADE", "drop schema "+schema); err != nil {
			return err
		}
		if err := ep.Exec(ctx, "CREATE SCHEMA "+quoted, "create schema "+schema); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops and cleans up the embedded PostgreSQL instance
func (ep *EmbeddedPostgres) Stop() error {
	log := logger.Get()

	if ep.db != nil {
		ep.db.Close()
	}

	var stopErr error
	if ep.instance != nil {
		stopErr = ep.instance.Stop()
	}

	if ep.runtimePath != "" {
		if err := os.RemoveAll(ep.runtimePath); err != nil {
			log.Debug("Failed to clean up runtime directory", "path", ep.runtimePath, "error", err)
		}
	}

	if stopErr != nil {
		return fmt.Errorf("failed to stop embedded PostgreSQL: %w", stopErr)
	}
	return nil
}

// findAvailablePort finds an available TCP port for PostgreSQL to use
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
