// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"context"
	"sync/atomic"

	"github.com/dop251/goja"
)

type (
	// pendingEvaluation couples the completion promise of an evaluation with
	// the sender that reports it. It lives in isolate state, and is only
	// touched on the engine goroutine.
	pendingEvaluation struct {
		promise *goja.Promise
		record  *ModuleRecord
		sender  *oneshot
		ticks   int
	}

	// oneshot is the sending half of a completion channel.
	oneshot struct {
		done  chan struct{}
		err   error
		ticks int
		fired atomic.Bool
	}

	// Future is the host-side handle to the outcome of an evaluation. It is
	// safe for concurrent use.
	Future struct {
		o *oneshot
	}
)

func newOneshot() *oneshot {
	return &oneshot{done: make(chan struct{})}
}

// send completes the channel, and panics if it was already completed.
func (o *oneshot) send(err error, ticks int) {
	if !o.fired.CompareAndSwap(false, true) {
		panic("modrun: completion sent twice")
	}
	o.err = err
	o.ticks = ticks
	close(o.done)
}

func failedFuture(err error) *Future {
	o := newOneshot()
	o.send(err, 0)
	return &Future{o: o}
}

// Done returns a channel that is closed once the evaluation has settled.
func (f *Future) Done() <-chan struct{} {
	return f.o.done
}

// Err returns nil until Done is closed, after which it returns the outcome
// of the evaluation: nil if the module fulfilled, otherwise the error.
func (f *Future) Err() error {
	select {
	case <-f.o.done:
		return f.o.err
	default:
		return nil
	}
}

// Wait blocks until the evaluation settles or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.o.done:
		return f.o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ticks returns the number of drive ticks that observed the evaluation,
// including the one that settled it. It is zero for evaluations that
// failed before a completion promise was obtained, or that have not
// settled.
func (f *Future) Ticks() int {
	select {
	case <-f.o.done:
		return f.o.ticks
	default:
		return 0
	}
}
