package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pgplex/pgcustom/catalog"
)

var (
	// ErrUnrecognizedVariant matches decode failures for bytes that are not a
	// known label.
	ErrUnrecognizedVariant = errors.New("unrecognized enum variant")
	// ErrNull is returned when a NULL is decoded into a non-nullable value.
	ErrNull = errors.New("cannot decode NULL")
)

// UnrecognizedVariantError carries the raw bytes that matched no variant.
type UnrecognizedVariantError struct {
	Type catalog.Descriptor
	Raw  []byte
}

func (e *UnrecognizedVariantError) Error() string {
	return fmt.Sprintf("unrecognized enum variant %q for type %s", e.Raw, e.Type)
}

func (e *UnrecognizedVariantError) Is(target error) bool {
	return target == ErrUnrecognizedVariant
}

// EncodeError reports that the output sink rejected a write. It is a
// serialization failure, not a problem with the value.
type EncodeError struct {
	Type catalog.Descriptor
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("failed to write %s value: %v", e.Type, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// UnknownValueError reports an attempt to encode a value outside the declared
// variant set.
type UnknownValueError struct {
	Type  catalog.Descriptor
	Value any
}

func (e *UnknownValueError) Error() string {
	return fmt.Sprintf("value %v is not a declared variant of %s", e.Value, e.Type)
}

// LabelMismatchError reports drift between a codec's variants and the labels
// the server defines for the type.
type LabelMismatchError struct {
	Type catalog.Descriptor
	// Missing are codec labels the server does not define; encoding them fails
	// on the server.
	Missing []string
	// Undecodable are server labels no variant matches; decoding them fails here.
	Undecodable []string
}

func (e *LabelMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("labels missing on server: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Undecodable) > 0 {
		parts = append(parts, fmt.Sprintf("server labels without a variant: %s", strings.Join(e.Undecodable, ", ")))
	}
	return fmt.Sprintf("enum %s does not match server: %s", e.Type, strings.Join(parts, "; "))
}
