package ecs

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/nodeforge/runtime/internal/core/ident"
)

// Registry owns one storage per stored type, keyed by TypeID.
type Registry struct {
	byType    map[ident.TypeID]Storage
	byGo      map[reflect.Type]Storage
	stores    []Storage
	sorted    bool
	version   uint64
	nextSeq   uint64
	blockSize int
}

func NewRegistry(blockSize int) *Registry {
	return &Registry{
		byType:    make(map[ident.TypeID]Storage, 16),
		byGo:      make(map[reflect.Type]Storage, 16),
		stores:    make([]Storage, 0, 16),
		blockSize: blockSize,
	}
}

// Register creates the storage for T with explicit options.
func Register[T any](r *Registry, opts ...Option) (*Arena[T], error) {
	s, err := register[T](r, opts...)
	if err != nil {
		return nil, err
	}
	return s.arena, nil
}

func register[T any](r *Registry, opts ...Option) (*typedStorage[T], error) {
	gt := reflect.TypeFor[T]()
	if _, ok := r.byGo[gt]; ok {
		return nil, fmt.Errorf("register %s: %w", gt, ErrAlreadyRegistered)
	}
	var cfg storageConfig
	for _, o := range opts {
		o(&cfg)
	}
	s, err := newTypedStorage[T](cfg, r.blockSize, r.nextSeq)
	if err != nil {
		return nil, err
	}
	if _, ok := r.byType[s.typ]; ok {
		return nil, fmt.Errorf("register %s: %w", s.name, ErrAlreadyRegistered)
	}
	r.nextSeq++
	r.byType[s.typ] = s
	r.byGo[gt] = s
	r.stores = append(r.stores, s)
	r.sorted = false
	r.version++
	return s, nil
}

// storageFor returns T's storage, creating it with defaults on first use.
func storageFor[T any](r *Registry) *typedStorage[T] {
	if s, ok := r.byGo[reflect.TypeFor[T]()]; ok {
		return s.(*typedStorage[T])
	}
	s, err := register[T](r)
	if err != nil {
		// Only a TypeName collision with a different Go type gets here.
		panic(fmt.Sprintf("ecs: lazy storage for %s: %v", reflect.TypeFor[T](), err))
	}
	return s
}

// StorageOf returns T's arena, creating it on first access.
func StorageOf[T any](r *Registry) *Arena[T] {
	return storageFor[T](r).arena
}

// Lookup returns the erased storage registered under t.
func (r *Registry) Lookup(t ident.TypeID) (Storage, bool) {
	s, ok := r.byType[t]
	return s, ok
}

// ForEach visits storages in (priority, registration) order.
func (r *Registry) ForEach(fn func(Storage) bool) {
	r.ensureSorted()
	for _, s := range r.stores {
		if !fn(s) {
			return
		}
	}
}

// Ordered returns the storages that bind p, in execution order.
func (r *Registry) Ordered(p Phase) []Storage {
	r.ensureSorted()
	out := make([]Storage, 0, len(r.stores))
	for _, s := range r.stores {
		if s.Has(p) {
			out = append(out, s)
		}
	}
	return out
}

// Version changes whenever a storage is registered.
func (r *Registry) Version() uint64 { return r.version }
func (r *Registry) Len() int        { return len(r.stores) }

func (r *Registry) ensureSorted() {
	if r.sorted {
		return
	}
	sort.SliceStable(r.stores, func(i, j int) bool {
		a, b := r.stores[i], r.stores[j]
		if a.Priority() != b.Priority() {
			return a.Priority() < b.Priority()
		}
		return a.sequence() < b.sequence()
	})
	r.sorted = true
}
