package codec

import (
	"bytes"
	"database/sql/driver"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// PgxCodec adapts an Enum to pgtype.Codec so pgx encodes query arguments and
// scans result columns of the enum type through it.
//
// Supported values are T and *T (nil encodes as NULL). Supported scan targets
// are *T, **T (NULL scans as nil) and *string.
type PgxCodec[T comparable] struct {
	Enum *Enum[T]
}

var _ pgtype.Codec = (*PgxCodec[int])(nil)

func (c *PgxCodec[T]) FormatSupported(format int16) bool {
	return format == pgtype.TextFormatCode || format == pgtype.BinaryFormatCode
}

func (c *PgxCodec[T]) PreferredFormat() int16 {
	return pgtype.TextFormatCode
}

func (c *PgxCodec[T]) PlanEncode(m *pgtype.Map, oid uint32, format int16, value any) pgtype.EncodePlan {
	switch value.(type) {
	case T:
		return encodePlanEnum[T]{enum: c.Enum}
	case *T:
		return encodePlanEnumPtr[T]{enum: c.Enum}
	}
	return nil
}

type encodePlanEnum[T comparable] struct {
	enum *Enum[T]
}

func (p encodePlanEnum[T]) Encode(value any, buf []byte) ([]byte, error) {
	out := bytes.NewBuffer(buf)
	if err := p.enum.Encode(out, value.(T)); err != nil {
		return nil, err
	}
	// A nil slice means NULL to pgx; an empty label is a value.
	if b := out.Bytes(); b != nil {
		return b, nil
	}
	return []byte{}, nil
}

type encodePlanEnumPtr[T comparable] struct {
	enum *Enum[T]
}

func (p encodePlanEnumPtr[T]) Encode(value any, buf []byte) ([]byte, error) {
	ptr := value.(*T)
	if ptr == nil {
		return nil, nil
	}
	return encodePlanEnum[T]{enum: p.enum}.Encode(*ptr, buf)
}

func (c *PgxCodec[T]) PlanScan(m *pgtype.Map, oid uint32, format int16, target any) pgtype.ScanPlan {
	if !c.FormatSupported(format) {
		return nil
	}
	switch target.(type) {
	case *T:
		return scanPlanEnum[T]{enum: c.Enum}
	case **T:
		return scanPlanEnumPtr[T]{enum: c.Enum}
	case *string:
		return scanPlanEnumString[T]{enum: c.Enum}
	}
	return nil
}

type scanPlanEnum[T comparable] struct {
	enum *Enum[T]
}

func (p scanPlanEnum[T]) Scan(src []byte, target any) error {
	if src == nil {
		return fmt.Errorf("%w into %s value", ErrNull, p.enum.desc)
	}
	v, err := p.enum.Decode(src)
	if err != nil {
		return err
	}
	*target.(*T) = v
	return nil
}

type scanPlanEnumPtr[T comparable] struct {
	enum *Enum[T]
}

func (p scanPlanEnumPtr[T]) Scan(src []byte, target any) error {
	dst := target.(**T)
	if src == nil {
		*dst = nil
		return nil
	}
	v, err := p.enum.Decode(src)
	if err != nil {
		return err
	}
	*dst = &v
	return nil
}

// scanPlanEnumString scans the label itself after checking it is a declared
// variant. database/sql reads unknown column types through a *string.
type scanPlanEnumString[T comparable] struct {
	enum *Enum[T]
}

func (p scanPlanEnumString[T]) Scan(src []byte, target any) error {
	if src == nil {
		return fmt.Errorf("%w into string", ErrNull)
	}
	if _, err := p.enum.Decode(src); err != nil {
		return err
	}
	*target.(*string) = string(src)
	return nil
}

func (c *PgxCodec[T]) DecodeDatabaseSQLValue(m *pgtype.Map, oid uint32, format int16, src []byte) (driver.Value, error) {
	if src == nil {
		return nil, nil
	}
	if _, err := c.Enum.Decode(src); err != nil {
		return nil, err
	}
	return string(src), nil
}

func (c *PgxCodec[T]) DecodeValue(m *pgtype.Map, oid uint32, format int16, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}
	return c.Enum.Decode(src)
}
