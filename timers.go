// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"math"

	"github.com/dop251/goja"
)

// installTimers binds setTimeout, setInterval, and their clear functions,
// backed by the event loop's timers.
func (e *Engine) installTimers(global *goja.Object) error {
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":    e.setTimeout,
		"clearTimeout":  e.clearTimeout,
		"setInterval":   e.setInterval,
		"clearInterval": e.clearInterval,
	} {
		if err := global.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) setTimeout(call goja.FunctionCall) goja.Value {
	fn, delay, args := e.timerArgs("setTimeout", call)
	id, err := e.timers.SetTimeout(func() {
		e.fireTimer("setTimeout", fn, args)
	}, delay)
	if err != nil {
		panic(e.runtime.NewGoError(err))
	}
	return e.runtime.ToValue(id)
}

func (e *Engine) setInterval(call goja.FunctionCall) goja.Value {
	fn, delay, args := e.timerArgs("setInterval", call)
	id, err := e.timers.SetInterval(func() {
		e.fireTimer("setInterval", fn, args)
	}, delay)
	if err != nil {
		panic(e.runtime.NewGoError(err))
	}
	return e.runtime.ToValue(id)
}

func (e *Engine) clearTimeout(call goja.FunctionCall) goja.Value {
	if id, ok := timerID(call.Argument(0)); ok {
		_ = e.timers.ClearTimeout(id)
	}
	return goja.Undefined()
}

func (e *Engine) clearInterval(call goja.FunctionCall) goja.Value {
	if id, ok := timerID(call.Argument(0)); ok {
		_ = e.timers.ClearInterval(id)
	}
	return goja.Undefined()
}

func (e *Engine) timerArgs(name string, call goja.FunctionCall) (goja.Callable, int, []goja.Value) {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(e.runtime.NewTypeError(name + ": callback must be a function"))
	}
	delay := call.Argument(1).ToFloat()
	switch {
	case math.IsNaN(delay) || delay < 0:
		delay = 0
	case delay > math.MaxInt32:
		delay = math.MaxInt32
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}
	return fn, int(delay), args
}

// fireTimer runs a timer callback on the engine goroutine, then drives.
func (e *Engine) fireTimer(name string, fn goja.Callable, args []goja.Value) {
	defer e.drive()
	if _, err := fn(goja.Undefined(), args...); err != nil {
		e.logger.Err().
			Str("timer", name).
			Str("exception", e.state.render.renderException(err)).
			Log("modrun: uncaught exception in timer callback")
	}
}

func timerID(v goja.Value) (uint64, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0, false
	}
	id := v.ToInteger()
	if id <= 0 {
		return 0, false
	}
	return uint64(id), true
}
