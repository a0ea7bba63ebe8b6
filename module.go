// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-utilpkg/jsonenc"
	"github.com/joeycumines/goja-modrun/internal/esmscan"
)

// MainModule is the origin name given to code passed to
// [Engine.Evaluate].
const MainModule = "main"

// ModuleStatus is the lifecycle state of a [ModuleRecord].
type ModuleStatus int32

const (
	_ ModuleStatus = iota
	StatusCompiled
	StatusInstantiated
	StatusEvaluating
	StatusFulfilled
	StatusRejected
	// StatusFailed is the status of a record whose instantiation failed.
	StatusFailed
)

// ModuleRecord is a compiled module. A record may be evaluated at most
// once, either directly, or as a dependency of another module, and only by
// a single Engine.
type ModuleRecord struct {
	program *goja.Program
	meta    *esmscan.Module
	name    string
	status  atomic.Int32

	// engine goroutine only
	deps      []*ModuleRecord
	namespace *goja.Object
	fn        goja.Callable
	promise   *goja.Promise
}

const (
	linkParam   = "__modrun_link"
	wrapperHead = "(async (" + linkParam + ") => {"
)

func (x ModuleStatus) String() string {
	switch x {
	case StatusCompiled:
		return "Compiled"
	case StatusInstantiated:
		return "Instantiated"
	case StatusEvaluating:
		return "Evaluating"
	case StatusFulfilled:
		return "Fulfilled"
	case StatusRejected:
		return "Rejected"
	case StatusFailed:
		return "Failed"
	default:
		return fmt.Sprintf("ModuleStatus(%d)", int32(x))
	}
}

// Compile parses code as an ECMAScript module body, attributing it to
// name. Compile is a pure function, the record it returns is bound to an
// Engine by evaluating it. Failures are [*EvalError] values of kind
// [CompileError].
func Compile(name, code string) (*ModuleRecord, error) {
	meta, err := esmscan.Scan(code)
	if err != nil {
		return nil, newEvalError(CompileError, name, err, "")
	}
	program, err := goja.Compile(name, wrapModule(meta), true)
	if err != nil {
		return nil, newEvalError(CompileError, name, err, "")
	}
	rec := &ModuleRecord{
		program: program,
		meta:    meta,
		name:    name,
	}
	rec.setStatus(StatusCompiled)
	return rec, nil
}

// Name returns the origin name the record was compiled with.
func (m *ModuleRecord) Name() string { return m.name }

// Status returns the current lifecycle state. It is safe to call from any
// goroutine.
func (m *ModuleRecord) Status() ModuleStatus { return ModuleStatus(m.status.Load()) }

// Requests returns the module specifiers the record imports from, in
// source order.
func (m *ModuleRecord) Requests() []string { return slices.Clone(m.meta.Requests) }

// ExportNames returns the names exported by the record itself, excluding
// those provided by `export * from` declarations.
func (m *ModuleRecord) ExportNames() []string { return m.meta.ExportNames() }

func (m *ModuleRecord) setStatus(s ModuleStatus) { m.status.Store(int32(s)) }

// wrapModule renders the scanned module as an async arrow function, taking
// the link object built by the evaluating Engine. Being an arrow, the body
// sees no arguments object of its own. The prologue is
// kept on the first line, so that line numbers match the original source.
func wrapModule(meta *esmscan.Module) string {
	var b []byte
	b = append(b, wrapperHead...)
	for _, export := range meta.LocalExports {
		b = append(b, linkParam+".bind("...)
		b = jsonenc.AppendString(b, export.Exported)
		b = append(b, ", () => "...)
		b = append(b, export.Local...)
		b = append(b, ");"...)
	}
	if len(meta.Requests) != 0 {
		b = append(b, "if ("+linkParam+".pending) await "+linkParam+".ready;"...)
		for _, imp := range meta.Imports {
			b = append(b, "const "...)
			b = append(b, imp.Local...)
			b = append(b, " = "+linkParam+".ns["...)
			b = strconv.AppendInt(b, int64(imp.Request), 10)
			b = append(b, ']')
			if imp.Imported != esmscan.NamespaceName {
				b = append(b, '[')
				b = jsonenc.AppendString(b, imp.Imported)
				b = append(b, ']')
			}
			b = append(b, ';')
		}
	}
	b = append(b, meta.Body...)
	b = append(b, "\n})"...)
	return string(b)
}

// instantiate resolves and links the module graph rooted at rec.
func (e *Engine) instantiate(rec *ModuleRecord) error {
	if rec.Status() != StatusCompiled {
		return newEvalError(InstantiationError, rec.name, ErrModuleReused, "")
	}

	var (
		visiting = make(map[*ModuleRecord]bool)
		visited  []*ModuleRecord
		path     []string
	)
	var link func(m *ModuleRecord) error
	link = func(m *ModuleRecord) error {
		if done, ok := visiting[m]; ok {
			if done {
				return nil
			}
			cycle := append(slices.Clone(path), m.name)
			return newEvalError(InstantiationError, m.name, ErrImportCycle, "import cycle: "+strings.Join(cycle, " -> "))
		}
		if m != rec && m.Status() != StatusCompiled {
			return newEvalError(InstantiationError, m.name, ErrModuleReused, "")
		}
		visiting[m] = false
		visited = append(visited, m)
		path = append(path, m.name)
		defer func() { path = path[:len(path)-1] }()

		m.deps = make([]*ModuleRecord, len(m.meta.Requests))
		for i, specifier := range m.meta.Requests {
			dep, err := e.resolver.Resolve(m.name, specifier)
			if err == nil && dep == nil {
				err = ErrModuleNotFound
			}
			if err != nil {
				return newEvalError(InstantiationError, m.name, err, fmt.Sprintf("cannot resolve %q: %v", specifier, err))
			}
			m.deps[i] = dep
			if err := link(dep); err != nil {
				return err
			}
		}

		if err := checkImports(m); err != nil {
			return err
		}

		visiting[m] = true
		return nil
	}

	if err := link(rec); err != nil {
		for _, m := range visited {
			m.setStatus(StatusFailed)
		}
		return err
	}

	// visited is in pre-order, namespaces are created before any are
	// populated, since re-exports reference the namespaces of dependencies
	for _, m := range visited {
		m.namespace = e.runtime.CreateObject(nil)
	}
	for _, m := range visited {
		if err := e.link(m); err != nil {
			for _, v := range visited {
				v.setStatus(StatusFailed)
			}
			return newEvalError(InstantiationError, m.name, err, "")
		}
		m.setStatus(StatusInstantiated)
	}
	return nil
}

// checkImports verifies every name imported or re-exported by m is
// provided by the corresponding dependency.
func checkImports(m *ModuleRecord) error {
	check := func(request int, name string) error {
		if name == esmscan.NamespaceName {
			return nil
		}
		dep := m.deps[request]
		if !slices.Contains(exportNames(dep, nil), name) {
			return newEvalError(InstantiationError, m.name, ErrExportNotFound,
				fmt.Sprintf("module %q does not provide an export named %q", m.meta.Requests[request], name))
		}
		return nil
	}
	for _, imp := range m.meta.Imports {
		if err := check(imp.Request, imp.Imported); err != nil {
			return err
		}
	}
	for _, ind := range m.meta.IndirectExports {
		if err := check(ind.Request, ind.Imported); err != nil {
			return err
		}
	}
	return nil
}

// exportNames returns every name m exports, including those reached
// through star exports, which never include "default".
func exportNames(m *ModuleRecord, seen map[*ModuleRecord]bool) []string {
	if seen == nil {
		seen = make(map[*ModuleRecord]bool)
	}
	if seen[m] {
		return nil
	}
	seen[m] = true
	names := m.meta.ExportNames()
	for _, request := range m.meta.StarExports {
		if m.deps == nil || m.deps[request] == nil {
			continue
		}
		for _, name := range exportNames(m.deps[request], seen) {
			if name != esmscan.DefaultName && !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	return names
}

// link prepares m for evaluation: the wrapper function is created, and the
// re-exports are defined on its namespace. Local exports are bound by the
// wrapper itself, once evaluated.
func (e *Engine) link(m *ModuleRecord) error {
	value, err := e.runtime.RunProgram(m.program)
	if err != nil {
		return err
	}
	fn, ok := goja.AssertFunction(value)
	if !ok {
		return fmt.Errorf("module %q did not compile to a function", m.name)
	}
	m.fn = fn

	for _, ind := range m.meta.IndirectExports {
		if err := e.reexport(m.namespace, ind.Exported, m.deps[ind.Request].namespace, ind.Imported); err != nil {
			return err
		}
	}
	local := m.meta.ExportNames()
	for _, request := range m.meta.StarExports {
		dep := m.deps[request]
		for _, name := range exportNames(dep, nil) {
			if name == esmscan.DefaultName || slices.Contains(local, name) {
				continue
			}
			local = append(local, name)
			if err := e.reexport(m.namespace, name, dep.namespace, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// reexport defines name on ns as a live view of imported on source.
func (e *Engine) reexport(ns *goja.Object, name string, source *goja.Object, imported string) error {
	var getter goja.Value
	if imported == esmscan.NamespaceName {
		getter = e.runtime.ToValue(func(goja.FunctionCall) goja.Value { return source })
	} else {
		getter = e.runtime.ToValue(func(goja.FunctionCall) goja.Value { return source.Get(imported) })
	}
	return ns.DefineAccessorProperty(name, getter, nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
}

// evaluate begins evaluating the instantiated graph rooted at rec,
// returning its completion promise. All module bodies run synchronously,
// up to their first suspension, within a single entry into the runtime,
// and the job queue is drained on return. A module body that throws
// before suspending fails the evaluation with a RuntimeError.
func (e *Engine) evaluate(rec *ModuleRecord) (*goja.Promise, error) {
	var failure error
	body := e.runtime.ToValue(func(goja.FunctionCall) goja.Value {
		failure = e.evaluateRecord(rec)
		return goja.Undefined()
	})
	if _, err := e.state.intrinsics.enter(goja.Undefined(), body); err != nil && failure == nil {
		failure = newEvalError(RuntimeError, rec.name, err, e.state.render.renderException(err))
	}
	if failure != nil {
		clear(e.state.owned)
		return nil, failure
	}
	return rec.promise, nil
}

func (e *Engine) evaluateRecord(m *ModuleRecord) error {
	if m.promise != nil {
		return nil
	}

	var (
		namespaces = make([]any, len(m.deps))
		promises   = make([]any, len(m.deps))
		pending    bool
	)
	for i, dep := range m.deps {
		if err := e.evaluateRecord(dep); err != nil {
			return err
		}
		namespaces[i] = dep.namespace
		promises[i] = dep.promise
		if dep.promise.State() != goja.PromiseStateFulfilled {
			pending = true
		}
	}

	rt := e.runtime
	link := rt.NewObject()
	_ = link.Set("pending", pending)
	_ = link.Set("ns", rt.NewArray(namespaces...))
	if pending {
		ready, err := e.state.intrinsics.all(goja.Undefined(), rt.NewArray(promises...))
		if err != nil {
			return newEvalError(RuntimeError, m.name, err, e.state.render.renderException(err))
		}
		_ = link.Set("ready", ready)
	}
	ns := m.namespace
	_ = link.Set("bind", func(call goja.FunctionCall) goja.Value {
		if err := ns.DefineAccessorProperty(call.Argument(0).String(), call.Argument(1), nil, goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			panic(rt.NewGoError(err))
		}
		return goja.Undefined()
	})

	m.setStatus(StatusEvaluating)
	e.logger.Debug().
		Str("module", m.name).
		Int("requests", len(m.deps)).
		Log("modrun: evaluating module")

	value, err := m.fn(goja.Undefined(), link)
	if err != nil {
		m.setStatus(StatusRejected)
		return newEvalError(RuntimeError, m.name, err, e.state.render.renderException(err))
	}
	promise, ok := value.Export().(*goja.Promise)
	if !ok {
		m.setStatus(StatusRejected)
		return newEvalError(RuntimeError, m.name, nil, "module body did not produce a promise")
	}
	m.promise = promise
	e.state.owned[promise] = struct{}{}

	// jobs have not yet run, so the body threw before its first suspension
	if promise.State() == goja.PromiseStateRejected {
		m.setStatus(StatusRejected)
		delete(e.state.rejected, promise)
		return newEvalError(RuntimeError, m.name, nil, e.state.render.renderReason(promise.Result()))
	}
	return nil
}

// startEvaluation runs on the engine goroutine.
func (e *Engine) startEvaluation(rec *ModuleRecord, sender *oneshot) {
	if e.state.pending != nil {
		e.settle(sender, ErrEvaluationPending, 0)
		return
	}

	if err := e.instantiate(rec); err != nil {
		e.logger.Debug().
			Str("module", rec.name).
			Err(err).
			Log("modrun: instantiation failed")
		e.settle(sender, err, 0)
		return
	}

	promise, err := e.evaluate(rec)
	if err != nil {
		e.logger.Debug().
			Str("module", rec.name).
			Err(err).
			Log("modrun: evaluation threw")
		e.settle(sender, err, 0)
		return
	}

	e.state.pending = &pendingEvaluation{
		promise: promise,
		record:  rec,
		sender:  sender,
	}
	e.drive()
}
