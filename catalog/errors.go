package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType matches errors for descriptors with no catalog row.
	ErrUnknownType = errors.New("unknown type")
	// ErrInconsistentCatalog matches errors for schema-qualified lookups that
	// returned more than one row.
	ErrInconsistentCatalog = errors.New("inconsistent catalog")
	// ErrInvalidDescriptor matches errors for descriptors that cannot be resolved
	// or parsed.
	ErrInvalidDescriptor = errors.New("invalid type descriptor")
)

// UnknownTypeError reports that no schema (explicit or on the search path)
// defines the descriptor's type.
type UnknownTypeError struct {
	Descriptor Descriptor
}

func (e *UnknownTypeError) Error() string {
	if e.Descriptor.Qualified() {
		return fmt.Sprintf("unknown type %s", e.Descriptor)
	}
	return fmt.Sprintf("unknown type %s: not found in any schema on the search path", e.Descriptor)
}

func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownType
}

// InconsistentCatalogError reports that a schema-qualified lookup matched
// more than one pg_type row. schema+name is unique in pg_type, so this
// indicates a broken catalog or a broken query and is never resolved silently.
type InconsistentCatalogError struct {
	Descriptor Descriptor
	Matches    int
}

func (e *InconsistentCatalogError) Error() string {
	return fmt.Sprintf("inconsistent catalog: %d rows match type %s, expected exactly one", e.Matches, e.Descriptor)
}

func (e *InconsistentCatalogError) Is(target error) bool {
	return target == ErrInconsistentCatalog
}
