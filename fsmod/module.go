// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fsmod

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"io/fs"
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/sync/semaphore"
)

type (
	// Scheduler runs functions on the goroutine that owns the runtime.
	Scheduler interface {
		Submit(fn func()) error
	}

	// SchedulerFunc adapts a function to [Scheduler].
	SchedulerFunc func(fn func()) error

	// Module provides asynchronous filesystem access to a [goja.Runtime].
	// Blocking I/O runs on separate goroutines, bounded by a semaphore, and
	// every result re-enters the runtime through the [Scheduler].
	Module struct {
		runtime   *goja.Runtime
		scheduler Scheduler
		fs        fileSystem
		sem       *semaphore.Weighted
	}

	// settler converts a result on the runtime's goroutine.
	settler func(rt *goja.Runtime) goja.Value
)

func (f SchedulerFunc) Submit(fn func()) error { return f(fn) }

// New creates a new [Module] bound to the given [goja.Runtime].
//
// New panics if runtime is nil. It returns an error if option validation
// fails, or if required options are missing.
func New(runtime *goja.Runtime, opts ...Option) (*Module, error) {
	if runtime == nil {
		panic("fsmod: runtime must not be nil")
	}

	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	m := &Module{
		runtime:   runtime,
		scheduler: cfg.scheduler,
		fs:        hostFS{},
		sem:       semaphore.NewWeighted(int64(cfg.concurrency)),
	}
	if cfg.root != "" {
		m.fs = rootFS{dir: cfg.root}
	}
	return m, nil
}

// SetupExports wires the module's JS API onto the given exports object,
// without the require() mechanism.
func (m *Module) SetupExports(exports *goja.Object) {
	m.setupExports(exports)
}

func (m *Module) setupExports(exports *goja.Object) {
	_ = exports.Set("readFile", m.runtime.ToValue(m.jsReadFile))
	_ = exports.Set("writeFile", m.runtime.ToValue(m.jsWriteFile))
	_ = exports.Set("appendFile", m.runtime.ToValue(m.jsAppendFile))
	_ = exports.Set("exists", m.runtime.ToValue(m.jsExists))
	_ = exports.Set("readdir", m.runtime.ToValue(m.jsReaddir))
	_ = exports.Set("stat", m.runtime.ToValue(m.jsStat))
	_ = exports.Set("mkdir", m.runtime.ToValue(m.jsMkdir))
	_ = exports.Set("rm", m.runtime.ToValue(m.jsRm))
}

// async starts work on its own goroutine, returning a promise settled
// with its outcome, on the runtime's goroutine.
func (m *Module) async(op, path string, work func() (settler, error)) goja.Value {
	promise, resolve, reject := m.runtime.NewPromise()
	go func() {
		var (
			result settler
			err    error
		)
		if err = m.sem.Acquire(context.Background(), 1); err == nil {
			result, err = work()
			m.sem.Release(1)
		}
		// the runtime may have been torn down, in which case the promise is
		// unreachable anyway
		_ = m.scheduler.Submit(func() {
			if err != nil {
				reject(m.newError(op, path, err))
				return
			}
			resolve(result(m.runtime))
		})
	}()
	return m.runtime.ToValue(promise)
}

func (m *Module) newError(op, path string, err error) *goja.Object {
	code := errorCode(err)
	obj := m.runtime.NewGoError(err)
	_ = obj.Set("message", code+": "+op+" '"+path+"': "+err.Error())
	_ = obj.Set("code", code)
	_ = obj.Set("syscall", op)
	_ = obj.Set("path", path)
	return obj
}

func (m *Module) pathArg(op string, call goja.FunctionCall) string {
	v := call.Argument(0)
	if _, ok := v.Export().(string); !ok {
		panic(m.runtime.NewTypeError("fs." + op + ": path must be a string"))
	}
	return v.String()
}

func (m *Module) dataArg(op string, call goja.FunctionCall) []byte {
	v := call.Argument(1)
	if goja.IsUndefined(v) || goja.IsNull(v) {
		panic(m.runtime.NewTypeError("fs." + op + ": data is required"))
	}
	if b, ok := v.Export().([]byte); ok {
		return b
	}
	return []byte(v.String())
}

// boolOption reads a boolean property of an options object.
func boolOption(v goja.Value, name string) bool {
	o, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	p := o.Get(name)
	return p != nil && p.ToBoolean()
}

func (m *Module) encodingArg(call goja.FunctionCall) string {
	v := call.Argument(1)
	if o, ok := v.(*goja.Object); ok {
		v = o.Get("encoding")
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "utf8"
	}
	switch enc := strings.ToLower(v.String()); enc {
	case "utf8", "utf-8":
		return "utf8"
	case "base64", "hex":
		return enc
	default:
		panic(m.runtime.NewTypeError("fs.readFile: unsupported encoding " + enc))
	}
}

func (m *Module) jsReadFile(call goja.FunctionCall) goja.Value {
	path := m.pathArg("readFile", call)
	encoding := m.encodingArg(call)
	return m.async("open", path, func() (settler, error) {
		data, err := m.fs.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var s string
		switch encoding {
		case "base64":
			s = base64.StdEncoding.EncodeToString(data)
		case "hex":
			s = hex.EncodeToString(data)
		default:
			s = string(data)
		}
		return func(rt *goja.Runtime) goja.Value { return rt.ToValue(s) }, nil
	})
}

func (m *Module) jsWriteFile(call goja.FunctionCall) goja.Value {
	path := m.pathArg("writeFile", call)
	data := m.dataArg("writeFile", call)
	return m.async("open", path, func() (settler, error) {
		return undefined, m.fs.WriteFile(path, data)
	})
}

func (m *Module) jsAppendFile(call goja.FunctionCall) goja.Value {
	path := m.pathArg("appendFile", call)
	data := m.dataArg("appendFile", call)
	return m.async("open", path, func() (settler, error) {
		return undefined, m.fs.AppendFile(path, data)
	})
}

func (m *Module) jsExists(call goja.FunctionCall) goja.Value {
	path := m.pathArg("exists", call)
	return m.async("stat", path, func() (settler, error) {
		_, err := m.fs.Stat(path)
		exists := err == nil
		return func(rt *goja.Runtime) goja.Value { return rt.ToValue(exists) }, nil
	})
}

func (m *Module) jsReaddir(call goja.FunctionCall) goja.Value {
	path := m.pathArg("readdir", call)
	return m.async("scandir", path, func() (settler, error) {
		entries, err := m.fs.ReadDir(path)
		if err != nil {
			return nil, err
		}
		names := make([]any, len(entries))
		for i, entry := range entries {
			names[i] = entry.Name()
		}
		return func(rt *goja.Runtime) goja.Value { return rt.NewArray(names...) }, nil
	})
}

func (m *Module) jsStat(call goja.FunctionCall) goja.Value {
	path := m.pathArg("stat", call)
	return m.async("stat", path, func() (settler, error) {
		info, err := m.fs.Stat(path)
		if err != nil {
			return nil, err
		}
		return func(rt *goja.Runtime) goja.Value { return statObject(rt, info) }, nil
	})
}

func statObject(rt *goja.Runtime, info fs.FileInfo) goja.Value {
	obj := rt.NewObject()
	_ = obj.Set("size", info.Size())
	_ = obj.Set("isFile", info.Mode().IsRegular())
	_ = obj.Set("isDirectory", info.IsDir())
	_ = obj.Set("mtimeMs", info.ModTime().UnixMilli())
	return obj
}

func (m *Module) jsMkdir(call goja.FunctionCall) goja.Value {
	path := m.pathArg("mkdir", call)
	recursive := boolOption(call.Argument(1), "recursive")
	return m.async("mkdir", path, func() (settler, error) {
		return undefined, m.fs.Mkdir(path, recursive)
	})
}

func (m *Module) jsRm(call goja.FunctionCall) goja.Value {
	path := m.pathArg("rm", call)
	recursive := boolOption(call.Argument(1), "recursive")
	return m.async("rm", path, func() (settler, error) {
		return undefined, m.fs.Remove(path, recursive)
	})
}

func undefined(*goja.Runtime) goja.Value { return goja.Undefined() }
