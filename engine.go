// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/logiface"
)

type (
	// Engine owns the event loop (the host scheduler) and the single goja
	// runtime (the isolate) it drives. The runtime is only ever accessed on
	// the goroutine running [Engine.Run].
	//
	// Only one Engine may be alive per process, see [New].
	Engine struct {
		logger      *logiface.Logger[logiface.Event]
		loop        *eventloop.Loop
		timers      *eventloop.JS
		runtime     *goja.Runtime
		state       *isolateState
		resolver    Resolver
		outstanding map[*oneshot]struct{}
		mu          sync.Mutex
		driver      atomic.Int32
		closed      bool
	}

	// globalContext is the global scope bindings are installed into.
	globalContext struct {
		global   *goja.Object
		require  *require.RequireModule
		bindings map[string]struct{}
		console  *console
	}

	// isolateState is associated with the runtime, and accessed only on the
	// engine goroutine.
	isolateState struct {
		context    *globalContext
		pending    *pendingEvaluation
		checkpoint *goja.Program
		intrinsics intrinsics
		render     *renderer
		// rejected promises without handlers, as reported by the runtime
		rejected map[*goja.Promise]struct{}
		// completion promises of the records in the graph being evaluated,
		// reported via its future, cleared on settlement
		owned map[*goja.Promise]struct{}
	}

	// intrinsics are helpers compiled once per runtime.
	intrinsics struct {
		// enter calls its argument from script, so that nested calls made
		// by the argument do not drain the job queue on return
		enter goja.Callable
		all   goja.Callable
	}
)

const intrinsicsSource = `({
	enter: function (fn) { return fn(); },
	all: Promise.all.bind(Promise),
})`

// New initializes the platform, creating the event loop, the runtime and
// its global context, with the host bindings installed.
//
// New returns [ErrPlatformInUse] if another Engine has not been closed.
// The caller must call [Engine.Run] for the Engine to make progress, and
// must eventually call [Engine.Close] or [Engine.Terminate].
func New(opts ...Option) (*Engine, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	if err := acquirePlatform(); err != nil {
		return nil, err
	}
	var ok bool
	defer func() {
		if !ok {
			releasePlatform()
		}
	}()

	loop, err := eventloop.New()
	if err != nil {
		return nil, fmt.Errorf("modrun: create event loop: %w", err)
	}
	defer func() {
		if !ok {
			_ = loop.Close()
		}
	}()

	timers, err := eventloop.NewJS(loop)
	if err != nil {
		return nil, fmt.Errorf("modrun: create timers: %w", err)
	}

	e := &Engine{
		logger:      cfg.logger,
		loop:        loop,
		timers:      timers,
		runtime:     goja.New(),
		resolver:    cfg.resolver,
		outstanding: make(map[*oneshot]struct{}),
	}
	e.driver.Store(int32(DriverIdle))

	if err := e.install(cfg); err != nil {
		return nil, err
	}

	e.logger.Debug().
		Int("bindings", len(e.state.context.bindings)).
		Log("modrun: engine created")

	ok = true
	return e, nil
}

// Run drives the Engine on the calling goroutine, until ctx is done, or
// the Engine is closed. All script execution happens within Run.
func (e *Engine) Run(ctx context.Context) error {
	return e.loop.Run(ctx)
}

// Submit schedules fn to run on the engine goroutine, followed by a drive
// tick. It is the hand-off used to deliver the results of asynchronous
// host work (e.g. I/O) back into the runtime.
func (e *Engine) Submit(fn func()) error {
	if fn == nil {
		return errors.New("modrun: submit nil function")
	}
	if e.isClosed() {
		return ErrClosed
	}
	if err := e.loop.Submit(func() {
		defer e.drive()
		fn()
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return nil
}

// Evaluate compiles code as a module named "main", then evaluates it, see
// [Engine.EvaluateModule].
func (e *Engine) Evaluate(code string) *Future {
	rec, err := Compile(MainModule, code)
	if err != nil {
		e.logger.Debug().
			Str("module", MainModule).
			Err(err).
			Log("modrun: compile failed")
		return failedFuture(err)
	}
	return e.EvaluateModule(rec)
}

// EvaluateModule instantiates and evaluates rec on the engine goroutine.
// The returned Future settles exactly once, with nil if the module's
// completion promise fulfilled, an [*EvalError] for instantiation,
// runtime, or rejection failures, or one of [ErrEvaluationPending],
// [ErrModuleReused], [ErrClosed], [ErrTerminated].
func (e *Engine) EvaluateModule(rec *ModuleRecord) *Future {
	if rec == nil {
		return failedFuture(errors.New("modrun: nil module record"))
	}
	sender := newOneshot()
	if !e.track(sender) {
		sender.send(ErrClosed, 0)
		return &Future{o: sender}
	}
	if err := e.loop.Submit(func() { e.startEvaluation(rec, sender) }); err != nil {
		e.settle(sender, fmt.Errorf("%w: %w", ErrClosed, err), 0)
	}
	return &Future{o: sender}
}

// Close tears the Engine down, stopping the event loop and releasing the
// platform. It panics with [ErrEvaluationOutstanding] if any evaluation
// has not settled, use [Engine.Terminate] to abandon one. Close must not
// be called from the engine goroutine. Subsequent calls are no-ops.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if len(e.outstanding) != 0 {
		e.mu.Unlock()
		panic(ErrEvaluationOutstanding)
	}
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := e.shutdown(ctx)
	e.logger.Info().Log("modrun: engine closed")
	return err
}

// Terminate interrupts any running script, stops the event loop, and
// settles every outstanding evaluation with [ErrTerminated], releasing the
// platform. It is the coarse-grained cancellation mechanism: the Engine
// cannot be used afterwards. Terminate must not be called from the engine
// goroutine.
func (e *Engine) Terminate(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	outstanding := e.outstanding
	e.outstanding = make(map[*oneshot]struct{})
	e.mu.Unlock()

	e.runtime.Interrupt(ErrTerminated)
	err := e.shutdown(ctx)

	for sender := range outstanding {
		sender.send(ErrTerminated, 0)
	}

	e.logger.Info().
		Int("outstanding", len(outstanding)).
		Log("modrun: engine terminated")
	return err
}

func (e *Engine) shutdown(ctx context.Context) error {
	defer releasePlatform()
	err := e.loop.Shutdown(ctx)
	if errors.Is(err, eventloop.ErrLoopTerminated) {
		err = nil
	}
	return err
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// track registers an unsettled sender, returning false if the Engine is
// closed.
func (e *Engine) track(sender *oneshot) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.outstanding[sender] = struct{}{}
	return true
}

// settle fires sender, unless Terminate already has. The sender is
// untracked first, so that Close never observes a fired sender as
// outstanding.
func (e *Engine) settle(sender *oneshot, err error, ticks int) {
	e.mu.Lock()
	_, ok := e.outstanding[sender]
	delete(e.outstanding, sender)
	e.mu.Unlock()
	if ok {
		sender.send(err, ticks)
	}
}

// Execute runs code as a module to completion on a new Engine, returning
// the outcome of the evaluation. If ctx is done first, the Engine is
// terminated, and ctx.Err() is returned.
func Execute(ctx context.Context, code string, opts ...Option) error {
	e, err := New(opts...)
	if err != nil {
		return err
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- e.Run(context.WithoutCancel(ctx))
	}()

	future := e.Evaluate(code)

	select {
	case <-future.Done():
		if err := e.Close(context.WithoutCancel(ctx)); err != nil {
			return errors.Join(future.Err(), err)
		}
		<-runDone
		return future.Err()
	case <-ctx.Done():
		_ = e.Terminate(context.WithoutCancel(ctx))
		<-runDone
		return ctx.Err()
	}
}
