package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/lib/pq/oid"
)

// Querier runs catalog queries on a database session. *sql.DB, *sql.Conn and
// *sql.Tx all satisfy it.
//
// search_path is session state: resolve unqualified descriptors on a *sql.Conn
// or *sql.Tx, or on a *sql.DB whose connections all carry the same search_path.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Resolver maps a Descriptor to the Metadata of the type it names.
type Resolver interface {
	Resolve(ctx context.Context, q Querier, d Descriptor) (Metadata, error)
}

// PgCatalog resolves descriptors against pg_catalog.pg_type.
type PgCatalog struct{}

var _ Resolver = PgCatalog{}

// The unqualified lookup joins pg_type against the session's effective search
// path and orders by path position, so the first schema on the path that
// defines the name wins regardless of catalog scan or creation order.
// current_schemas(true) includes the implicit pg_catalog and temporary schemas
// in the positions the server searches them.
const (
	resolveQualifiedSQL = `
		SELECT t.oid::int8, t.typarray::int8
		FROM pg_catalog.pg_type t
		JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace
		WHERE t.typname = $1
		  AND n.nspname = $2`

	resolveSearchPathSQL = `
		SELECT t.oid::int8, t.typarray::int8
		FROM pg_catalog.pg_type t
		JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace
		JOIN unnest(pg_catalog.current_schemas(true)) WITH ORDINALITY AS sp(nspname, position)
		  ON sp.nspname = n.nspname
		WHERE t.typname = $1
		ORDER BY sp.position
		LIMIT 1`

	searchPathSQL = `SELECT pg_catalog.current_schemas(true)::text[]`

	enumLabelsSQL = `
		SELECT e.enumlabel
		FROM pg_catalog.pg_enum e
		WHERE e.enumtypid = $1
		ORDER BY e.enumsortorder`
)

// Resolve looks the descriptor up in the catalog. A schema-qualified
// descriptor must match exactly one row; an unqualified one resolves to the
// type in the earliest search_path schema that defines the name.
func (PgCatalog) Resolve(ctx context.Context, q Querier, d Descriptor) (Metadata, error) {
	if err := d.Validate(); err != nil {
		return Metadata{}, err
	}

	var (
		rows *sql.Rows
		err  error
	)
	if d.Qualified() {
		rows, err = q.QueryContext(ctx, resolveQualifiedSQL, d.Name, d.Schema)
	} else {
		rows, err = q.QueryContext(ctx, resolveSearchPathSQL, d.Name)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to query catalog for type %s: %w", d, err)
	}
	defer rows.Close()

	var (
		found   Metadata
		matches int
	)
	for rows.Next() {
		var typeOID, arrayOID int64
		if err := rows.Scan(&typeOID, &arrayOID); err != nil {
			return Metadata{}, fmt.Errorf("failed to scan catalog row for type %s: %w", d, err)
		}
		matches++
		found = Metadata{OID: oid.Oid(typeOID), ArrayOID: oid.Oid(arrayOID)}
	}
	if err := rows.Err(); err != nil {
		return Metadata{}, fmt.Errorf("failed to read catalog rows for type %s: %w", d, err)
	}

	switch {
	case matches == 0:
		return Metadata{}, &UnknownTypeError{Descriptor: d}
	case matches > 1:
		return Metadata{}, &InconsistentCatalogError{Descriptor: d, Matches: matches}
	}
	return found, nil
}

// SearchPath returns the schemas the session searches for unqualified names,
// in order, including implicitly searched schemas such as pg_catalog.
func SearchPath(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, searchPathSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query search_path: %w", err)
	}
	defer rows.Close()

	var path []string
	if rows.Next() {
		if err := rows.Scan(pq.Array(&path)); err != nil {
			return nil, fmt.Errorf("failed to scan search_path: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search_path: %w", err)
	}
	return path, nil
}

// EnumLabels returns the labels of the enum type with the given OID in sort
// order. A non-enum type yields no labels.
func EnumLabels(ctx context.Context, q Querier, typeOID oid.Oid) ([]string, error) {
	rows, err := q.QueryContext(ctx, enumLabelsSQL, int64(typeOID))
	if err != nil {
		return nil, fmt.Errorf("failed to query enum labels for oid %d: %w", typeOID, err)
	}
	defer rows.Close()

	labels := []string{}
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("failed to scan enum label: %w", err)
		}
		labels = append(labels, label)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read enum labels: %w", err)
	}
	return labels, nil
}
