// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package modrun runs an ECMAScript module to completion, inside a
// [goja.Runtime] driven by a [eventloop.Loop].
//
// An [Engine] owns one event loop (the host scheduler) and one runtime (the
// isolate), with a global context that provides:
//
//   - console.log, console.info, console.warn and console.error, which all
//     write a single line to the configured writer
//   - require(name), which returns a native module from the binding table,
//     or undefined if there is no such binding (the "fs" module is built
//     in, see package fsmod)
//   - setTimeout, clearTimeout, setInterval and clearInterval
//
// # Evaluation
//
// [Engine.Evaluate] compiles code as a module, then evaluates it, returning
// a [Future]. The module's static imports are resolved via the configured
// [Resolver], which by default resolves nothing, meaning only modules
// without imports may be instantiated. The module body runs up to its first
// suspension, after which its completion promise is recorded as the pending
// evaluation.
//
// The engine goroutine (the one calling [Engine.Run]) performs a drive tick
// after every host event that may have queued promise jobs: the start of an
// evaluation, a timer firing, or a task passed to [Engine.Submit]. Each tick
// drains the job queue, then inspects the pending evaluation, settling the
// Future if the promise is no longer pending. Between ticks the event loop
// blocks, it never spins.
//
// Only completion values cross goroutines: the promise itself never leaves
// the engine goroutine.
//
// # Example
//
//	engine, err := modrun.New()
//	if err != nil {
//		return err
//	}
//	go engine.Run(ctx)
//	err = engine.Evaluate(`console.log(await Promise.resolve(1 + 1))`).Wait(ctx)
//	_ = engine.Close(ctx)
package modrun
