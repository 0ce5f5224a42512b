package postgres

import (
	"os"
	"testing"
)

// DefaultVersion is the embedded server version used when
// PGCUSTOM_POSTGRES_VERSION is not set.
const DefaultVersion PostgresVersion = "17.5.0"

// SetupShared starts an embedded PostgreSQL instance meant to be shared by a
// whole test binary, typically from TestMain:
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if !testing.Short() {
//	        sharedPG = postgres.SetupShared(nil)
//	    }
//	    code := m.Run()
//	    if sharedPG != nil {
//	        sharedPG.Stop()
//	    }
//	    os.Exit(code)
//	}
//
// Failure to start calls t.Fatalf, or panics when t is nil.
func SetupShared(t testing.TB) *EmbeddedPostgres {
	version := DefaultVersion
	if v := os.Getenv("PGCUSTOM_POSTGRES_VERSION"); v != "" {
		version = PostgresVersion(v)
	}

	ep, err := StartEmbeddedPostgres(&EmbeddedPostgresConfig{
		Version:  version,
		Database: "testdb",
		Username: "testuser",
		Password: "testpass",
	})
	if err != nil {
		if t != nil {
			t.Fatalf("Failed to start shared embedded PostgreSQL: %v", err)
		}
		panic("Failed to start shared embedded PostgreSQL: " + err.Error())
	}
	return ep
}
