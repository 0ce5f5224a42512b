// Package pgcustom binds application types to PostgreSQL custom types.
//
// Bind codecs to a Registry, then call RegisterConn on each session (or Load
// and RegisterTypes on a pgx type map). The Registry resolves every bound
// descriptor to its server OID through a shared catalog.Cache and registers
// the element and array types so pgx encodes and scans them with the codec.
//
//	var moodCodec = codec.MustEnum(catalog.Descriptor{Name: "mood"},
//	    codec.Variant[Mood]{Value: Happy, Label: "happy"},
//	    codec.Variant[Mood]{Value: Sad, Label: "sad"},
//	)
//
//	registry := pgcustom.NewRegistry(nil)
//	if err := registry.Bind(moodCodec); err != nil { ... }
//	if err := registry.RegisterConn(ctx, conn); err != nil { ... }
package pgcustom

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq/oid"
	"github.com/pgplex/pgcustom/catalog"
	"github.com/pgplex/pgcustom/codec"
	"github.com/pgplex/pgcustom/internal/logger"
)

// Registry holds the codecs bound to server types.
type Registry struct {
	cache *catalog.Cache

	mu       sync.RWMutex
	bindings []codec.Binding
	bound    map[catalog.Descriptor]struct{}
}

// NewRegistry creates a registry resolving through cache. A nil cache gets a
// fresh catalog.NewCache().
func NewRegistry(cache *catalog.Cache) *Registry {
	if cache == nil {
		cache = catalog.NewCache()
	}
	return &Registry{
		cache: cache,
		bound: make(map[catalog.Descriptor]struct{}),
	}
}

// Cache returns the metadata cache the registry resolves through.
func (r *Registry) Cache() *catalog.Cache {
	return r.cache
}

// Bind adds codecs to the registry. Each descriptor may be bound once.
func (r *Registry) Bind(bindings ...codec.Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range bindings {
		d := b.Descriptor()
		if err := d.Validate(); err != nil {
			return err
		}
		if _, dup := r.bound[d]; dup {
			return fmt.Errorf("type %s is already bound", d)
		}
		r.bound[d] = struct{}{}
		r.bindings = append(r.bindings, b)
	}
	return nil
}

// Load resolves every bound descriptor on q and returns the pgx types to
// register: each element type followed by its array type when the server
// defines one. Two bindings that resolve to the same OID are rejected, since a
// type map can hold one codec per OID.
func (r *Registry) Load(ctx context.Context, q catalog.Querier) ([]*pgtype.Type, error) {
	r.mu.RLock()
	bindings := append([]codec.Binding(nil), r.bindings...)
	r.mu.RUnlock()

	owners := make(map[oid.Oid]catalog.Descriptor, len(bindings))
	types := make([]*pgtype.Type, 0, 2*len(bindings))
	for _, b := range bindings {
		d := b.Descriptor()
		m, err := r.cache.GetOrResolve(ctx, q, d)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve type %s: %w", d, err)
		}
		if other, ok := owners[m.OID]; ok {
			return nil, fmt.Errorf("types %s and %s both resolve to oid %d", other, d, m.OID)
		}
		owners[m.OID] = d

		element := &pgtype.Type{Name: typeName(d), OID: uint32(m.OID), Codec: b.PgxCodec()}
		types = append(types, element)
		if m.HasArray() {
			types = append(types, &pgtype.Type{
				Name:  arrayTypeName(d),
				OID:   uint32(m.ArrayOID),
				Codec: &pgtype.ArrayCodec{ElementType: element},
			})
		}
	}
	return types, nil
}

// RegisterConn resolves the bound types on conn and registers them on the
// pgx type map of the same session. conn must come from a database/sql pool
// opened with the pgx stdlib driver.
func (r *Registry) RegisterConn(ctx context.Context, conn *sql.Conn) error {
	// Resolve before Raw: conn cannot run queries while Raw holds it.
	types, err := r.Load(ctx, conn)
	if err != nil {
		return err
	}

	return conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("connection driver is %T, want the pgx stdlib driver", driverConn)
		}
		RegisterTypes(sc.Conn().TypeMap(), types)
		return nil
	})
}

// RegisterTypes registers types returned by Load on m.
func RegisterTypes(m *pgtype.Map, types []*pgtype.Type) {
	for _, t := range types {
		m.RegisterType(t)
		logger.Get().Debug("Registered custom type", "name", t.Name, "oid", t.OID)
	}
}

func typeName(d catalog.Descriptor) string {
	if d.Qualified() {
		return d.Schema + "." + d.Name
	}
	return d.Name
}

// arrayTypeName follows the server's convention of prefixing array type
// names with an underscore.
func arrayTypeName(d catalog.Descriptor) string {
	if d.Qualified() {
		return d.Schema + "._" + d.Name
	}
	return "_" + d.Name
}
