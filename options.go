// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"errors"
	"io"
	"os"

	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/logiface"
)

// engineOptions holds configuration for an [Engine].
type engineOptions struct {
	logger        *logiface.Logger[logiface.Event]
	console       io.Writer
	resolver      Resolver
	bindings      map[string]require.ModuleLoader
	fsRoot        string
	fsConcurrency int
	noDefaults    bool
}

// Option configures an [Engine]. Options are applied by [New] and
// [Execute].
type Option interface {
	applyOption(*engineOptions) error
}

// optionFunc implements [Option] via a closure.
type optionFunc struct {
	fn func(*engineOptions) error
}

func (o *optionFunc) applyOption(opts *engineOptions) error {
	return o.fn(opts)
}

// WithLogger configures the structured logger. A nil logger disables
// logging, which is also the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionFunc{fn: func(opts *engineOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithConsoleOutput configures the writer backing the script-visible
// console. Defaults to [os.Stdout].
func WithConsoleOutput(w io.Writer) Option {
	return &optionFunc{fn: func(opts *engineOptions) error {
		if w == nil {
			return errors.New("modrun: console output must not be nil")
		}
		opts.console = w
		return nil
	}}
}

// WithResolver configures how import specifiers are resolved. Defaults to
// [NotFoundResolver].
func WithResolver(r Resolver) Option {
	return &optionFunc{fn: func(opts *engineOptions) error {
		if r == nil {
			return errors.New("modrun: resolver must not be nil")
		}
		opts.resolver = r
		return nil
	}}
}

// WithBinding adds (or replaces) an entry in the binding table, making
// the native module available to scripts as require(name).
func WithBinding(name string, loader require.ModuleLoader) Option {
	return &optionFunc{fn: func(opts *engineOptions) error {
		if name == "" {
			return errors.New("modrun: binding name must not be empty")
		}
		if loader == nil {
			return errors.New("modrun: binding loader must not be nil")
		}
		if opts.bindings == nil {
			opts.bindings = make(map[string]require.ModuleLoader)
		}
		opts.bindings[name] = loader
		return nil
	}}
}

// WithoutDefaultBindings omits the built-in "fs" binding.
func WithoutDefaultBindings() Option {
	return &optionFunc{fn: func(opts *engineOptions) error {
		opts.noDefaults = true
		return nil
	}}
}

// WithFSRoot restricts the built-in "fs" binding to the directory dir.
func WithFSRoot(dir string) Option {
	return &optionFunc{fn: func(opts *engineOptions) error {
		opts.fsRoot = dir
		return nil
	}}
}

// WithFSConcurrency bounds the number of concurrent filesystem operations
// performed by the built-in "fs" binding.
func WithFSConcurrency(n int) Option {
	return &optionFunc{fn: func(opts *engineOptions) error {
		if n <= 0 {
			return errors.New("modrun: fs concurrency must be positive")
		}
		opts.fsConcurrency = n
		return nil
	}}
}

// resolveOptions applies the given options to a default [engineOptions].
func resolveOptions(opts []Option) (*engineOptions, error) {
	cfg := &engineOptions{
		console:  os.Stdout,
		resolver: NotFoundResolver{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
