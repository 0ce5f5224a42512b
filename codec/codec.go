// Package codec converts application values to and from the wire bytes of
// server-defined PostgreSQL types.
//
// A codec is bound to exactly one catalog.Descriptor. Go generics pair the
// application type with its codec at compile time; pgcustom.Registry pairs
// the codec with the server OID at connect time.
//
// Enum codecs write the variant label as raw UTF-8 bytes with no length
// prefix or terminator. The server's text and binary representations of an
// enum value are both the label, so the same bytes serve either format.
package codec

import (
	"io"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgplex/pgcustom/catalog"
)

// Codec encodes values of T into a server type's wire format and decodes them
// back. Implementations hold no mutable state and are safe for concurrent use.
type Codec[T any] interface {
	// Encode writes the wire bytes of v to w. A write failure is returned as
	// an *EncodeError wrapping the writer's error.
	Encode(w io.Writer, v T) error
	// Decode parses src. It never returns a partially built value.
	Decode(src []byte) (T, error)
}

// Binding is a codec bound to a server type, ready to be registered with a
// pgx type map once the type's OID is known.
type Binding interface {
	Descriptor() catalog.Descriptor
	PgxCodec() pgtype.Codec
}
