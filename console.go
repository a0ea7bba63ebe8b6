// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"io"

	"github.com/dop251/goja"
	"github.com/joeycumines/logiface"
)

// consoleMethods all share the same behavior.
var consoleMethods = [...]string{"log", "info", "warn", "error"}

// console backs the script-visible console object.
type console struct {
	w      io.Writer
	logger *logiface.Logger[logiface.Event]
	render *renderer
}

func newConsole(w io.Writer, logger *logiface.Logger[logiface.Event], render *renderer) *console {
	return &console{w: w, logger: logger, render: render}
}

func (c *console) install(rt *goja.Runtime) (*goja.Object, error) {
	obj := rt.NewObject()
	for _, name := range consoleMethods {
		if err := obj.Set(name, c.print); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// print writes a single line per call.
func (c *console) print(call goja.FunctionCall) goja.Value {
	line := c.render.appendValues(nil, call.Arguments)
	line = append(line, '\n')
	if _, err := c.w.Write(line); err != nil {
		c.logger.Err().
			Err(err).
			Log("modrun: console write failed")
	}
	return goja.Undefined()
}
