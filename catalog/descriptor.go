// Package catalog resolves symbolic PostgreSQL type references to the OIDs the
// server assigned them.
//
// A Descriptor names a server type by name and, optionally, schema. The
// PgCatalog resolver turns a Descriptor into Metadata by querying pg_type,
// following the session's search_path when no schema is given. Cache keeps
// resolved Metadata for the lifetime of the process.
package catalog

import (
	"fmt"

	"github.com/lib/pq"
	"github.com/lib/pq/oid"
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Descriptor is a symbolic reference to a server-defined type.
//
// Name is the catalog name exactly as stored (case-sensitive). Schema is the
// explicit schema; an empty Schema means the type is resolved through the
// session's search_path. PostgreSQL does not allow zero-length identifiers, so
// the empty string never names a real schema.
type Descriptor struct {
	Name   string
	Schema string
}

// Qualified reports whether the descriptor names an explicit schema.
func (d Descriptor) Qualified() bool {
	return d.Schema != ""
}

// String renders the descriptor as a quoted SQL type reference,
// e.g. "custom_schema"."my_type". ParseDescriptor accepts the result.
func (d Descriptor) String() string {
	if d.Schema == "" {
		return pq.QuoteIdentifier(d.Name)
	}
	return pq.QuoteIdentifier(d.Schema) + "." + pq.QuoteIdentifier(d.Name)
}

// Validate checks that the descriptor can be resolved.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: type name is empty", ErrInvalidDescriptor)
	}
	return nil
}

// Metadata is the server's identity for a resolved type.
type Metadata struct {
	OID oid.Oid
	// ArrayOID is the OID of the matching array type, zero when there is none.
	ArrayOID oid.Oid
}

// HasArray reports whether the type has an array type.
func (m Metadata) HasArray() bool {
	return m.ArrayOID != 0
}

// ParseDescriptor parses a SQL type reference such as my_type, other.ty or
// "My Schema"."My Type" using the PostgreSQL parser, so identifier folding and
// quoting follow server rules. Array bounds, type modifiers and references with
// more than two name parts are rejected.
func ParseDescriptor(ref string) (Descriptor, error) {
	result, err := pg_query.Parse("SELECT NULL::" + ref)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: failed to parse %q: %v", ErrInvalidDescriptor, ref, err)
	}

	if len(result.Stmts) != 1 {
		return Descriptor{}, fmt.Errorf("%w: %q is not a single type reference", ErrInvalidDescriptor, ref)
	}

	sel := result.Stmts[0].GetStmt().GetSelectStmt()
	if sel == nil || len(sel.TargetList) != 1 || hasTrailingClauses(sel) {
		return Descriptor{}, fmt.Errorf("%w: %q is not a single type reference", ErrInvalidDescriptor, ref)
	}

	target := sel.TargetList[0].GetResTarget()
	if target == nil || target.Name != "" {
		return Descriptor{}, fmt.Errorf("%w: %q is not a single type reference", ErrInvalidDescriptor, ref)
	}

	// The cast must apply directly to the NULL literal; my_type::other casts twice.
	typeCast := target.GetVal().GetTypeCast()
	if typeCast == nil || typeCast.TypeName == nil || !typeCast.GetArg().GetAConst().GetIsnull() {
		return Descriptor{}, fmt.Errorf("%w: %q is not a type reference", ErrInvalidDescriptor, ref)
	}

	typeName := typeCast.TypeName
	if len(typeName.ArrayBounds) > 0 || len(typeName.Typmods) > 0 || typeName.Setof || typeName.PctType {
		return Descriptor{}, fmt.Errorf("%w: %q must name a plain type", ErrInvalidDescriptor, ref)
	}

	var names []string
	for _, node := range typeName.Names {
		str := node.GetString_()
		if str == nil {
			return Descriptor{}, fmt.Errorf("%w: %q contains a non-identifier name part", ErrInvalidDescriptor, ref)
		}
		names = append(names, str.Sval)
	}

	switch len(names) {
	case 1:
		return Descriptor{Name: names[0]}, nil
	case 2:
		return Descriptor{Schema: names[0], Name: names[1]}, nil
	default:
		return Descriptor{}, fmt.Errorf("%w: %q has %d name parts, want at most schema.name", ErrInvalidDescriptor, ref, len(names))
	}
}

// hasTrailingClauses reports whether anything beyond the select list parsed
// out of the reference.
func hasTrailingClauses(sel *pg_query.SelectStmt) bool {
	return sel.Op != pg_query.SetOperation_SETOP_NONE ||
		len(sel.FromClause) > 0 ||
		sel.WhereClause != nil ||
		len(sel.GroupClause) > 0 ||
		sel.HavingClause != nil ||
		len(sel.WindowClause) > 0 ||
		len(sel.SortClause) > 0 ||
		sel.LimitCount != nil ||
		sel.LimitOffset != nil ||
		len(sel.LockingClause) > 0 ||
		len(sel.DistinctClause) > 0 ||
		len(sel.ValuesLists) > 0 ||
		sel.IntoClause != nil ||
		sel.WithClause != nil
}
