// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"fmt"
	"maps"
	"slices"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/goja-modrun/fsmod"
)

// install populates the global context, prior to any script running.
func (e *Engine) install(cfg *engineOptions) error {
	rt := e.runtime

	checkpoint, err := goja.Compile("checkpoint", "void 0", true)
	if err != nil {
		return fmt.Errorf("modrun: compile checkpoint: %w", err)
	}
	intrinsicsValue, err := rt.RunString(intrinsicsSource)
	if err != nil {
		return fmt.Errorf("modrun: compile intrinsics: %w", err)
	}
	intrinsicsObject := intrinsicsValue.ToObject(rt)
	enter, _ := goja.AssertFunction(intrinsicsObject.Get("enter"))
	all, _ := goja.AssertFunction(intrinsicsObject.Get("all"))
	render := newRenderer(rt)

	ctx := &globalContext{
		global:   rt.GlobalObject(),
		bindings: make(map[string]struct{}),
		console:  newConsole(cfg.console, cfg.logger, render),
	}

	registry := require.NewRegistry(require.WithLoader(noSourceLoader))
	table := e.bindingTable(cfg)
	for _, name := range slices.Sorted(maps.Keys(table)) {
		registry.RegisterNativeModule(name, table[name])
		ctx.bindings[name] = struct{}{}
	}
	ctx.require = registry.Enable(rt)

	consoleObject, err := ctx.console.install(rt)
	if err != nil {
		return err
	}
	if err := ctx.global.Set("console", consoleObject); err != nil {
		return err
	}
	// replaces the strict global installed by Enable
	if err := ctx.global.Set("require", e.require); err != nil {
		return err
	}
	if err := e.installTimers(ctx.global); err != nil {
		return err
	}

	e.state = &isolateState{
		context:    ctx,
		checkpoint: checkpoint,
		intrinsics: intrinsics{enter: enter, all: all},
		render:     render,
		rejected:   make(map[*goja.Promise]struct{}),
		owned:      make(map[*goja.Promise]struct{}),
	}
	rt.SetPromiseRejectionTracker(e.trackRejection)
	return nil
}

// bindingTable maps capability names to native module loaders. It is
// immutable once built.
func (e *Engine) bindingTable(cfg *engineOptions) map[string]require.ModuleLoader {
	table := make(map[string]require.ModuleLoader, len(cfg.bindings)+1)
	if !cfg.noDefaults {
		fsOpts := []fsmod.Option{fsmod.WithScheduler(e), fsmod.WithRoot(cfg.fsRoot)}
		if cfg.fsConcurrency > 0 {
			fsOpts = append(fsOpts, fsmod.WithConcurrency(cfg.fsConcurrency))
		}
		table["fs"] = fsmod.Require(fsOpts...)
	}
	for name, loader := range cfg.bindings {
		table[name] = loader
	}
	return table
}

// require implements the global require function. Names missing from the
// binding table yield undefined, rather than throwing.
func (e *Engine) require(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	if _, ok := e.state.context.bindings[name]; !ok {
		e.logger.Debug().
			Str("name", name).
			Log("modrun: require of unknown binding")
		return goja.Undefined()
	}
	exports, err := e.state.context.require.Require(name)
	if err != nil {
		panic(e.runtime.NewGoError(err))
	}
	return exports
}

// noSourceLoader disables loading modules from source files, leaving only
// native modules.
func noSourceLoader(string) ([]byte, error) {
	return nil, require.ModuleFileDoesNotExistError
}
