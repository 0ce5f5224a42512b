// Package testutil provides shared test utilities for pgcustom
package testutil

import (
	"context"
	"database/sql"
	"io"
	"log"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var suppressedLogger = log.New(io.Discard, "", 0)

// getPostgresVersion returns the PostgreSQL image tag to use for testing.
// It reads from the PGCUSTOM_POSTGRES_VERSION environment variable,
// defaulting to "17" if not set.
func getPostgresVersion() string {
	if version := os.Getenv("PGCUSTOM_POSTGRES_VERSION"); version != "" {
		return version
	}
	return "17"
}

// ContainerInfo holds PostgreSQL container connection details
type ContainerInfo struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// SetupPostgresContainer starts a PostgreSQL test container and opens a
// database/sql pool on it through the pgx driver. The container is terminated
// when the test finishes.
func SetupPostgresContainer(ctx context.Context, t *testing.T) *ContainerInfo {
	t.Helper()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:"+getPostgresVersion()+"-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(suppressedLogger),
	)
	if err != nil {
		t.Fatalf("Failed to start container: %v", err)
	}

	testDSN, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	db, err := sql.Open("pgx", testDSN)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	ci := &ContainerInfo{
		Container: postgresContainer,
		DSN:       testDSN,
		DB:        db,
	}
	t.Cleanup(func() { ci.terminate(t) })
	return ci
}

// Session returns a dedicated connection that is closed when the test finishes.
func (ci *ContainerInfo) Session(ctx context.Context, t *testing.T) *sql.Conn {
	t.Helper()

	conn, err := ci.DB.Conn(ctx)
	if err != nil {
		t.Fatalf("Failed to open session: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// MustExec runs SQL on the pool and fails the test on error.
func (ci *ContainerInfo) MustExec(ctx context.Context, t *testing.T, stmt string) {
	t.Helper()

	if _, err := ci.DB.ExecContext(ctx, stmt); err != nil {
		t.Fatalf("Failed to execute SQL: %v\n%s", err, stmt)
	}
}

func (ci *ContainerInfo) terminate(t *testing.T) {
	ci.DB.Close()
	if err := ci.Container.Terminate(context.Background()); err != nil {
		t.Logf("Failed to terminate container: %v", err)
	}
}
