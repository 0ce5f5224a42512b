package codec

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"io"
	"slices"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgplex/pgcustom/catalog"
)

// Variant pairs an application value with the server label it encodes to.
type Variant[T comparable] struct {
	Value T
	Label string
}

// Enum is the codec for a server enum type whose variants are values of T.
//
// Decoding is an exact match against the declared labels: an empty input or
// an input with trailing bytes fails unless a variant declares exactly that
// label.
type Enum[T comparable] struct {
	desc     catalog.Descriptor
	variants []Variant[T]
	byValue  map[T]string
	byLabel  map[string]T
}

var (
	_ Codec[int] = (*Enum[int])(nil)
	_ Binding    = (*Enum[int])(nil)
)

// NewEnum builds an enum codec for the type named by desc. Values and labels
// must each be unique.
func NewEnum[T comparable](desc catalog.Descriptor, variants ...Variant[T]) (*Enum[T], error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("enum %s declares no variants", desc)
	}

	e := &Enum[T]{
		desc:     desc,
		variants: slices.Clone(variants),
		byValue:  make(map[T]string, len(variants)),
		byLabel:  make(map[string]T, len(variants)),
	}
	for _, v := range variants {
		if _, dup := e.byValue[v.Value]; dup {
			return nil, fmt.Errorf("enum %s declares value %v twice", desc, v.Value)
		}
		if _, dup := e.byLabel[v.Label]; dup {
			return nil, fmt.Errorf("enum %s declares label %q twice", desc, v.Label)
		}
		e.byValue[v.Value] = v.Label
		e.byLabel[v.Label] = v.Value
	}
	return e, nil
}

// MustEnum is like NewEnum but panics on an invalid declaration. It is meant
// for package-level codec variables.
func MustEnum[T comparable](desc catalog.Descriptor, variants ...Variant[T]) *Enum[T] {
	e, err := NewEnum(desc, variants...)
	if err != nil {
		panic(err)
	}
	return e
}

// Descriptor returns the server type the codec is bound to.
func (e *Enum[T]) Descriptor() catalog.Descriptor {
	return e.desc
}

// Labels returns the declared labels in declaration order.
func (e *Enum[T]) Labels() []string {
	labels := make([]string, len(e.variants))
	for i, v := range e.variants {
		labels[i] = v.Label
	}
	return labels
}

// Label returns the label of v.
func (e *Enum[T]) Label(v T) (string, bool) {
	label, ok := e.byValue[v]
	return label, ok
}

// Encode writes the label of v to w.
func (e *Enum[T]) Encode(w io.Writer, v T) error {
	label, ok := e.byValue[v]
	if !ok {
		return &UnknownValueError{Type: e.desc, Value: v}
	}

	n, err := io.WriteString(w, label)
	if err == nil && n < len(label) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &EncodeError{Type: e.desc, Err: err}
	}
	return nil
}

// Decode returns the variant whose label equals src.
func (e *Enum[T]) Decode(src []byte) (T, error) {
	if v, ok := e.byLabel[string(src)]; ok {
		return v, nil
	}
	var zero T
	return zero, &UnrecognizedVariantError{Type: e.desc, Raw: bytes.Clone(src)}
}

// Value implements the database/sql side of encoding. Application types
// typically call it from their driver.Valuer implementation.
func (e *Enum[T]) Value(v T) (driver.Value, error) {
	var buf bytes.Buffer
	if err := e.Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.String(), nil
}

// Scan implements the database/sql side of decoding. Application types
// typically call it from their sql.Scanner implementation. dst is only
// written on success.
func (e *Enum[T]) Scan(src any, dst *T) error {
	var (
		v   T
		err error
	)
	switch src := src.(type) {
	case []byte:
		v, err = e.Decode(src)
	case string:
		v, err = e.Decode([]byte(src))
	case nil:
		return fmt.Errorf("%w into %s value", ErrNull, e.desc)
	default:
		return fmt.Errorf("cannot scan %T into %s value", src, e.desc)
	}
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

// Verify compares the declared labels with the labels the server defines for
// the type, as returned by catalog.EnumLabels.
func (e *Enum[T]) Verify(serverLabels []string) error {
	mismatch := &LabelMismatchError{Type: e.desc}
	for _, v := range e.variants {
		if !slices.Contains(serverLabels, v.Label) {
			mismatch.Missing = append(mismatch.Missing, v.Label)
		}
	}
	for _, label := range serverLabels {
		if _, ok := e.byLabel[label]; !ok {
			mismatch.Undecodable = append(mismatch.Undecodable, label)
		}
	}
	if len(mismatch.Missing) > 0 || len(mismatch.Undecodable) > 0 {
		return mismatch
	}
	return nil
}

// PgxCodec returns the pgx codec for the enum, to be registered under the
// type's resolved OID.
func (e *Enum[T]) PgxCodec() pgtype.Codec {
	return &PgxCodec[T]{Enum: e}
}
