// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fsmod

import (
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
)

// Require returns a [require.ModuleLoader] that initialises the fs module
// when loaded by a [goja.Runtime]:
//
//	registry := require.NewRegistry()
//	registry.RegisterNativeModule("fs", fsmod.Require(
//	    fsmod.WithScheduler(engine),
//	))
//	registry.Enable(runtime)
//
// The provided options are captured and applied each time a new runtime
// calls require for this module.
func Require(opts ...Option) require.ModuleLoader {
	return func(runtime *goja.Runtime, module *goja.Object) {
		m, err := New(runtime, opts...)
		if err != nil {
			panic(runtime.NewGoError(err))
		}
		exports := module.Get("exports").(*goja.Object)
		m.setupExports(exports)
	}
}
