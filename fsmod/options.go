// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fsmod

import (
	"errors"
)

// DefaultConcurrency is the default bound on concurrent operations.
const DefaultConcurrency = 8

// moduleOptions holds configuration for a [Module] instance.
type moduleOptions struct {
	scheduler   Scheduler
	root        string
	concurrency int
}

// Option configures a [Module] instance. Options are applied during
// module construction.
type Option interface {
	applyOption(*moduleOptions) error
}

// optionFunc implements [Option] via a closure.
type optionFunc struct {
	fn func(*moduleOptions) error
}

func (o *optionFunc) applyOption(opts *moduleOptions) error {
	return o.fn(opts)
}

// WithScheduler configures how results are delivered back to the
// runtime's goroutine. This option is required.
func WithScheduler(s Scheduler) Option {
	return &optionFunc{fn: func(opts *moduleOptions) error {
		if s == nil {
			return errors.New("fsmod: scheduler must not be nil")
		}
		opts.scheduler = s
		return nil
	}}
}

// WithRoot restricts all paths to the directory tree rooted at dir, see
// [os.Root]. An empty dir leaves paths unrestricted.
func WithRoot(dir string) Option {
	return &optionFunc{fn: func(opts *moduleOptions) error {
		opts.root = dir
		return nil
	}}
}

// WithConcurrency bounds the number of operations performing I/O at once.
// Defaults to [DefaultConcurrency].
func WithConcurrency(n int) Option {
	return &optionFunc{fn: func(opts *moduleOptions) error {
		if n <= 0 {
			return errors.New("fsmod: concurrency must be positive")
		}
		opts.concurrency = n
		return nil
	}}
}

// resolveOptions applies the given options to a default [moduleOptions]
// and validates that all required fields are set.
func resolveOptions(opts []Option) (*moduleOptions, error) {
	cfg := &moduleOptions{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.scheduler == nil {
		return nil, errors.New("fsmod: scheduler is required (use WithScheduler)")
	}
	return cfg, nil
}
