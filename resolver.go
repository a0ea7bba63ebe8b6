// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"sync"
)

type (
	// Resolver maps the import specifiers of a module to module records.
	// It is called on the engine goroutine, during instantiation.
	Resolver interface {
		// Resolve returns the record for specifier, as imported by the
		// module named referrer. A nil record, or an error, fails the
		// instantiation.
		Resolve(referrer, specifier string) (*ModuleRecord, error)
	}

	// ResolverFunc adapts a function to [Resolver].
	ResolverFunc func(referrer, specifier string) (*ModuleRecord, error)

	// NotFoundResolver resolves nothing. It is the default, meaning only
	// modules without static imports can be instantiated.
	NotFoundResolver struct{}

	// MapResolver resolves specifiers to previously compiled records,
	// ignoring the referrer. Records are single-use, so a MapResolver serves
	// one evaluation. It is safe for concurrent use.
	MapResolver struct {
		records map[string]*ModuleRecord
		mu      sync.RWMutex
	}
)

var (
	_ Resolver = ResolverFunc(nil)
	_ Resolver = NotFoundResolver{}
	_ Resolver = (*MapResolver)(nil)
)

func (f ResolverFunc) Resolve(referrer, specifier string) (*ModuleRecord, error) {
	return f(referrer, specifier)
}

func (NotFoundResolver) Resolve(string, string) (*ModuleRecord, error) {
	return nil, ErrModuleNotFound
}

// NewMapResolver returns a MapResolver with the given records.
func NewMapResolver(records map[string]*ModuleRecord) *MapResolver {
	r := &MapResolver{records: make(map[string]*ModuleRecord, len(records))}
	for specifier, rec := range records {
		r.records[specifier] = rec
	}
	return r
}

// Set adds or replaces the record for specifier.
func (r *MapResolver) Set(specifier string, rec *ModuleRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.records == nil {
		r.records = make(map[string]*ModuleRecord)
	}
	r.records[specifier] = rec
}

// Add compiles code, naming the module by its specifier, and adds it.
func (r *MapResolver) Add(specifier, code string) error {
	rec, err := Compile(specifier, code)
	if err != nil {
		return err
	}
	r.Set(specifier, rec)
	return nil
}

func (r *MapResolver) Resolve(_, specifier string) (*ModuleRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rec, ok := r.records[specifier]; ok && rec != nil {
		return rec, nil
	}
	return nil, ErrModuleNotFound
}
