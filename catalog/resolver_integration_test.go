package catalog_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"flag"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pgplex/pgcustom/catalog"
	"github.com/pgplex/pgcustom/codec"
	"github.com/pgplex/pgcustom/internal/postgres"
)

var sharedPG *postgres.EmbeddedPostgres

func TestMain(m *testing.M) {
	flag.Parse()
	if !testing.Short() {
		sharedPG = postgres.SetupShared(nil)
	}
	code := m.Run()
	if sharedPG != nil {
		sharedPG.Stop()
	}
	os.Exit(code)
}

func requirePostgres(t *testing.T) *postgres.EmbeddedPostgres {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	return sharedPG
}

func mustExec(t *testing.T, ep *postgres.EmbeddedPostgres, stmt string) {
	t.Helper()
	if err := ep.Exec(context.Background(), stmt, "run test setup"); err != nil {
		t.Fatal(err)
	}
}

func mustSession(t *testing.T, ep *postgres.EmbeddedPostgres, schemas ...string) *sql.Conn {
	t.Helper()
	conn, err := ep.Session(context.Background(), schemas...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestResolveFollowsSearchPathOrder(t *testing.T) {
	ep := requirePostgres(t)
	ctx := context.Background()

	if err := ep.ResetSchemas(ctx, "inference_public", "inference_other"); err != nil {
		t.Fatal(err)
	}
	// The later schema on the path gets the type first so catalog order cannot
	// decide the result.
	mustExec(t, ep, `CREATE TYPE inference_public.ty AS (a int)`)
	mustExec(t, ep, `CREATE TYPE inference_other.ty AS (b int)`)

	conn := mustSession(t, ep, "inference_other", "inference_public")
	resolver := catalog.PgCatalog{}

	unqualified, err := resolver.Resolve(ctx, conn, catalog.Descriptor{Name: "ty"})
	if err != nil {
		t.Fatalf("Resolve(ty) failed: %v", err)
	}
	other, err := resolver.Resolve(ctx, conn, catalog.Descriptor{Schema: "inference_other", Name: "ty"})
	if err != nil {
		t.Fatalf("Resolve(inference_other.ty) failed: %v", err)
	}
	public, err := resolver.Resolve(ctx, conn, catalog.Descriptor{Schema: "inference_public", Name: "ty"})
	if err != nil {
		t.Fatalf("Resolve(inference_public.ty) failed: %v", err)
	}

	if unqualified != other {
		t.Errorf("unqualified ty = %+v, want the inference_other type %+v", unqualified, other)
	}
	if unqualified.OID == public.OID {
		t.Errorf("unqualified ty resolved to the inference_public type (oid %d)", public.OID)
	}
	if !unqualified.HasArray() {
		t.Error("composite type should have an array type")
	}

	// Flipping the path flips the answer.
	flipped := mustSession(t, ep, "inference_public", "inference_other")
	got, err := resolver.Resolve(ctx, flipped, catalog.Descriptor{Name: "ty"})
	if err != nil {
		t.Fatalf("Resolve(ty) failed: %v", err)
	}
	if got != public {
		t.Errorf("unqualified ty with flipped path = %+v, want %+v", got, public)
	}
}

func TestResolveUnknownType(t *testing.T) {
	ep := requirePostgres(t)
	ctx := context.Background()

	if err := ep.ResetSchemas(ctx, "unknown_test"); err != nil {
		t.Fatal(err)
	}
	conn := mustSession(t, ep, "unknown_test")

	tests := []catalog.Descriptor{
		{Name: "does_not_exist"},
		{Schema: "unknown_test", Name: "does_not_exist"},
		{Schema: "no_such_schema", Name: "int4"},
	}
	for _, d := range tests {
		_, err := catalog.PgCatalog{}.Resolve(ctx, conn, d)
		if !errors.Is(err, catalog.ErrUnknownType) {
			t.Errorf("Resolve(%s) error = %v, want ErrUnknownType", d, err)
		}
	}
}

func TestResolveQualifiedEnum(t *testing.T) {
	ep := requirePostgres(t)
	ctx := context.Background()

	if err := ep.ResetSchemas(ctx, "custom_schema"); err != nil {
		t.Fatal(err)
	}
	mustExec(t, ep, `CREATE TYPE custom_schema.my_type AS ENUM ('foo', 'bar')`)

	// The schema is not on the path; the qualified lookup must still find it.
	conn := mustSession(t, ep, "public")

	d := catalog.Descriptor{Schema: "custom_schema", Name: "my_type"}
	m, err := catalog.PgCatalog{}.Resolve(ctx, conn, d)
	if err != nil {
		t.Fatalf("Resolve(%s) failed: %v", d, err)
	}

	var wantOID, wantArray int64
	err = conn.QueryRowContext(ctx,
		`SELECT 'custom_schema.my_type'::regtype::oid::int8, 'custom_schema.my_type[]'::regtype::oid::int8`,
	).Scan(&wantOID, &wantArray)
	if err != nil {
		t.Fatal(err)
	}
	if int64(m.OID) != wantOID || int64(m.ArrayOID) != wantArray {
		t.Errorf("Resolve(%s) = %+v, want oid %d array %d", d, m, wantOID, wantArray)
	}

	if _, err := (catalog.PgCatalog{}).Resolve(ctx, conn, catalog.Descriptor{Name: "my_type"}); !errors.Is(err, catalog.ErrUnknownType) {
		t.Errorf("unqualified my_type outside the path: error = %v, want ErrUnknownType", err)
	}

	labels, err := catalog.EnumLabels(ctx, conn, m.OID)
	if err != nil {
		t.Fatalf("EnumLabels failed: %v", err)
	}
	if diff := cmp.Diff([]string{"foo", "bar"}, labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveCaseSensitiveNames(t *testing.T) {
	ep := requirePostgres(t)
	ctx := context.Background()

	if err := ep.ResetSchemas(ctx, "Case Schema"); err != nil {
		t.Fatal(err)
	}
	mustExec(t, ep, `CREATE TYPE "Case Schema"."Mood" AS ENUM ('ok')`)
	conn := mustSession(t, ep, "Case Schema")

	if _, err := (catalog.PgCatalog{}).Resolve(ctx, conn, catalog.Descriptor{Name: "Mood"}); err != nil {
		t.Errorf("Resolve(Mood) failed: %v", err)
	}
	if _, err := (catalog.PgCatalog{}).Resolve(ctx, conn, catalog.Descriptor{Name: "mood"}); !errors.Is(err, catalog.ErrUnknownType) {
		t.Errorf("Resolve(mood) error = %v, want ErrUnknownType", err)
	}
}

func TestResolveBuiltinTypes(t *testing.T) {
	ep := requirePostgres(t)
	ctx := context.Background()
	conn := mustSession(t, ep)

	m, err := catalog.PgCatalog{}.Resolve(ctx, conn, catalog.Descriptor{Name: "int4"})
	if err != nil {
		t.Fatalf("Resolve(int4) failed: %v", err)
	}
	if m.OID != 23 || m.ArrayOID != 1007 {
		t.Errorf("Resolve(int4) = %+v, want oid 23 array 1007", m)
	}
}

func TestSearchPath(t *testing.T) {
	ep := requirePostgres(t)
	ctx := context.Background()

	if err := ep.ResetSchemas(ctx, "path_a", "path_b"); err != nil {
		t.Fatal(err)
	}
	conn := mustSession(t, ep, "path_b", "path_a")

	path, err := catalog.SearchPath(ctx, conn)
	if err != nil {
		t.Fatalf("SearchPath failed: %v", err)
	}
	// current_schemas(true) puts the implicit pg_catalog first.
	if diff := cmp.Diff([]string{"pg_catalog", "path_b", "path_a"}, path); diff != "" {
		t.Errorf("search path mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumLabelsOfNonEnum(t *testing.T) {
	ep := requirePostgres(t)
	ctx := context.Background()
	conn := mustSession(t, ep)

	labels, err := catalog.EnumLabels(ctx, conn, 23)
	if err != nil {
		t.Fatalf("EnumLabels failed: %v", err)
	}
	if len(labels) != 0 {
		t.Errorf("EnumLabels(int4) = %v, want none", labels)
	}
}

// countingQuerier counts the queries sent through it.
type countingQuerier struct {
	q     catalog.Querier
	count atomic.Int32
}

func (c *countingQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	c.count.Add(1)
	return c.q.QueryContext(ctx, query, args...)
}

func TestCacheAvoidsRepeatQueries(t *testing.T) {
	ep := requirePostgres(t)
	ctx := context.Background()

	if err := ep.ResetSchemas(ctx, "cache_test"); err != nil {
		t.Fatal(err)
	}
	mustExec(t, ep, `CREATE TYPE cache_test.my_type AS ENUM ('foo', 'bar')`)

	q := &countingQuerier{q: mustSession(t, ep, "cache_test")}
	cache := catalog.NewCache()

	first, err := cache.GetOrResolve(ctx, q, catalog.Descriptor{Name: "my_type"})
	if err != nil {
		t.Fatalf("first lookup failed: %v", err)
	}
	second, err := cache.GetOrResolve(ctx, q, catalog.Descriptor{Name: "my_type"})
	if err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}
	if first != second {
		t.Errorf("cached metadata %+v differs from first lookup %+v", second, first)
	}
	if got := q.count.Load(); got != 1 {
		t.Errorf("issued %d catalog queries, want 1", got)
	}

	// A failure is retried rather than remembered.
	missing := catalog.Descriptor{Name: "created_later"}
	if _, err := cache.GetOrResolve(ctx, q, missing); !errors.Is(err, catalog.ErrUnknownType) {
		t.Fatalf("lookup of missing type: error = %v, want ErrUnknownType", err)
	}
	mustExec(t, ep, `CREATE TYPE cache_test.created_later AS ENUM ('x')`)
	if _, err := cache.GetOrResolve(ctx, q, missing); err != nil {
		t.Errorf("lookup after create failed: %v", err)
	}
	if got := q.count.Load(); got != 3 {
		t.Errorf("issued %d catalog queries, want 3", got)
	}
}

func TestResolveCanceledContext(t *testing.T) {
	ep := requirePostgres(t)
	conn := mustSession(t, ep)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := catalog.NewCache().GetOrResolve(ctx, conn, catalog.Descriptor{Name: "int4"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

// duplicateRowsQuerier answers every schema-qualified lookup with two catalog
// rows, as a catalog with a duplicated pg_type entry would.
type duplicateRowsQuerier struct {
	q catalog.Querier
}

func (d duplicateRowsQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if len(args) == 2 {
		query = `SELECT * FROM (VALUES (1::int8, 2::int8), (3::int8, 4::int8)) v`
		args = nil
	}
	return d.q.QueryContext(ctx, query, args...)
}

func TestResolveInconsistentCatalog(t *testing.T) {
	ep := requirePostgres(t)
	ctx := context.Background()
	q := duplicateRowsQuerier{q: mustSession(t, ep)}

	d := catalog.Descriptor{Schema: "custom_schema", Name: "my_type"}
	_, err := catalog.PgCatalog{}.Resolve(ctx, q, d)
	if !errors.Is(err, catalog.ErrInconsistentCatalog) {
		t.Fatalf("Resolve(%s) error = %v, want ErrInconsistentCatalog", d, err)
	}

	var inconsistent *catalog.InconsistentCatalogError
	if !errors.As(err, &inconsistent) {
		t.Fatalf("error %T is not an *InconsistentCatalogError", err)
	}
	if inconsistent.Descriptor != d || inconsistent.Matches != 2 {
		t.Errorf("error = %+v, want descriptor %s with 2 matches", inconsistent, d)
	}

	// The cache surfaces the failure unchanged and does not keep it.
	cache := catalog.NewCache()
	if _, err := cache.GetOrResolve(ctx, q, d); !errors.Is(err, catalog.ErrInconsistentCatalog) {
		t.Errorf("GetOrResolve(%s) error = %v, want ErrInconsistentCatalog", d, err)
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d after failure, want 0", cache.Len())
	}
}

type flavor int

const (
	flavorSweet flavor = iota + 1
	flavorSour
)

var flavorCodec = codec.MustEnum(catalog.Descriptor{Schema: "sql_roundtrip", Name: "flavor"},
	codec.Variant[flavor]{Value: flavorSweet, Label: "sweet"},
	codec.Variant[flavor]{Value: flavorSour, Label: "sour"},
)

func (f flavor) Value() (driver.Value, error) { return flavorCodec.Value(f) }
func (f *flavor) Scan(src any) error          { return flavorCodec.Scan(src, f) }

// The enum is never registered with pgx here, so values travel through
// driver.Valuer and sql.Scanner as database/sql sends them.
func TestEnumDatabaseSQLRoundTrip(t *testing.T) {
	ep := requirePostgres(t)
	ctx := context.Background()

	if err := ep.ResetSchemas(ctx, "sql_roundtrip"); err != nil {
		t.Fatal(err)
	}
	mustExec(t, ep, `CREATE TYPE sql_roundtrip.flavor AS ENUM ('sweet', 'sour')`)
	mustExec(t, ep, `CREATE TABLE sql_roundtrip.snacks (id int PRIMARY KEY, taste sql_roundtrip.flavor)`)
	conn := mustSession(t, ep, "sql_roundtrip")

	if _, err := conn.ExecContext(ctx, `INSERT INTO sql_roundtrip.snacks VALUES ($1, $2), ($3, $4)`,
		1, flavorSour, 2, flavorSweet); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	rows, err := conn.QueryContext(ctx, `SELECT taste FROM sql_roundtrip.snacks ORDER BY id`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	var got []flavor
	for rows.Next() {
		var f flavor
		if err := rows.Scan(&f); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		got = append(got, f)
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]flavor{flavorSour, flavorSweet}, got); diff != "" {
		t.Errorf("flavors mismatch (-want +got):\n%s", diff)
	}

	var f flavor
	err = conn.QueryRowContext(ctx, `SELECT NULL::sql_roundtrip.flavor`).Scan(&f)
	if !errors.Is(err, codec.ErrNull) {
		t.Errorf("scan of NULL: error = %v, want ErrNull", err)
	}

	_, err = conn.ExecContext(ctx, `INSERT INTO sql_roundtrip.snacks VALUES ($1, $2)`, 3, flavor(99))
	if err == nil || !strings.Contains(err.Error(), "is not a declared variant") {
		t.Errorf("insert of undeclared value: error = %v", err)
	}
}
