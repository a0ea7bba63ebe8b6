// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"fmt"

	"github.com/dop251/goja"
)

// DriverState is the state of the event-loop driver, as of its most
// recent drive tick.
type DriverState int32

const (
	// DriverIdle means there is nothing further to do until a host-level
	// event (a timer, or submitted task) occurs.
	DriverIdle DriverState = iota
	// DriverDraining means a tick is in progress.
	DriverDraining
	// DriverSettled means the most recent evaluation has settled.
	DriverSettled
)

func (x DriverState) String() string {
	switch x {
	case DriverIdle:
		return "Idle"
	case DriverDraining:
		return "Draining"
	case DriverSettled:
		return "Settled"
	default:
		return fmt.Sprintf("DriverState(%d)", int32(x))
	}
}

// DriverState returns the current state of the driver. It is safe to call
// from any goroutine.
func (e *Engine) DriverState() DriverState {
	return DriverState(e.driver.Load())
}

// drive performs one drive tick. It must be called on the engine
// goroutine, and is invoked after every host event that may have queued
// jobs: the start of an evaluation, timer callbacks, and submitted tasks.
func (e *Engine) drive() {
	prev := DriverState(e.driver.Swap(int32(DriverDraining)))

	e.checkpoint()
	e.reportUnhandled()

	pending := e.state.pending
	if pending == nil {
		e.driver.Store(int32(prev))
		return
	}

	pending.ticks++

	var err error
	switch pending.promise.State() {
	case goja.PromiseStatePending:
		e.driver.Store(int32(DriverIdle))
		e.logger.Trace().
			Str("module", pending.record.name).
			Int("tick", pending.ticks).
			Log("modrun: evaluation pending")
		return

	case goja.PromiseStateFulfilled:
		pending.record.setStatus(StatusFulfilled)

	default:
		pending.record.setStatus(StatusRejected)
		err = newEvalError(RejectionError, pending.record.name, nil, e.state.render.renderReason(pending.promise.Result()))
	}

	e.state.pending = nil
	clear(e.state.owned)
	e.driver.Store(int32(DriverSettled))

	e.logger.Debug().
		Str("module", pending.record.name).
		Int("ticks", pending.ticks).
		Err(err).
		Log("modrun: evaluation settled")

	e.settle(pending.sender, err, pending.ticks)
}

// checkpoint drains the job queue to a fixed point. The runtime runs all
// queued jobs on leaving any top-level entry, so running an empty program
// is sufficient.
func (e *Engine) checkpoint() {
	if _, err := e.runtime.RunProgram(e.state.checkpoint); err != nil {
		e.logger.Err().
			Err(err).
			Log("modrun: microtask checkpoint failed")
	}
}

// trackRejection is the runtime's promise rejection tracker.
func (e *Engine) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		e.state.rejected[p] = struct{}{}
	case goja.PromiseRejectionHandle:
		delete(e.state.rejected, p)
	}
}

// reportUnhandled logs rejections that remain unhandled after a
// checkpoint. Completion promises of modules are excluded, as their
// outcome is reported through the evaluation's Future.
func (e *Engine) reportUnhandled() {
	for p := range e.state.rejected {
		delete(e.state.rejected, p)
		if _, ok := e.state.owned[p]; ok {
			continue
		}
		e.logger.Warning().
			Str("reason", e.state.render.renderReason(p.Result())).
			Log("modrun: unhandled promise rejection")
	}
}
