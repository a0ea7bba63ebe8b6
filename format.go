// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"slices"
	"strconv"

	"github.com/dop251/goja"
	"github.com/joeycumines/go-utilpkg/jsonenc"
)

// maxRenderDepth is the nesting depth beyond which objects and arrays are
// abbreviated.
const maxRenderDepth = 2

const unrenderable = "[unrenderable value]"

var proxyType = reflect.TypeOf(goja.Proxy{})

// renderer renders the values of a single runtime human-readably, similar
// to node's util.inspect. Properties are read through their descriptors,
// so getters, proxy traps and user-defined toString methods are not run.
type renderer struct {
	rt       *goja.Runtime
	describe goja.Callable
	guard    goja.Callable // calls run
	run      func()
}

// newRenderer must be called before any script runs on rt, as it captures
// Object.getOwnPropertyDescriptor.
func newRenderer(rt *goja.Runtime) *renderer {
	r := &renderer{rt: rt}
	if object, ok := rt.GlobalObject().Get("Object").(*goja.Object); ok {
		r.describe, _ = goja.AssertFunction(object.Get("getOwnPropertyDescriptor"))
	}
	if r.describe == nil {
		panic("modrun: runtime lacks Object.getOwnPropertyDescriptor")
	}
	r.guard, _ = goja.AssertFunction(rt.ToValue(func(goja.FunctionCall) goja.Value {
		r.run()
		return goja.Undefined()
	}))
	return r
}

// try calls fn as a native function of the runtime, so that an exception
// it raises unwinds the runtime's own stack before being returned.
func (r *renderer) try(fn func()) (err error) {
	prev := r.run
	defer func() {
		r.run = prev
		if x := recover(); x != nil {
			err = fmt.Errorf("modrun: render: %v", x)
		}
	}()
	r.run = fn
	_, err = r.guard(goja.Undefined())
	return err
}

type formatter struct {
	r    *renderer
	buf  []byte
	seen []*goja.Object
}

// appendValues renders values space separated, the way console methods
// print their arguments.
func (r *renderer) appendValues(dst []byte, values []goja.Value) []byte {
	for i, v := range values {
		if i != 0 {
			dst = append(dst, ' ')
		}
		dst = r.appendValue(dst, v)
	}
	return dst
}

// appendValue renders a single console argument, or a placeholder if that
// fails.
func (r *renderer) appendValue(dst []byte, v goja.Value) []byte {
	f := formatter{r: r, buf: dst}
	if err := r.try(func() { f.value(v, 0) }); err != nil {
		return append(dst, unrenderable...)
	}
	return f.buf
}

// renderValue renders a single value as a top-level console argument.
func (r *renderer) renderValue(v goja.Value) string {
	return string(r.appendValue(nil, v))
}

// renderReason renders a rejection reason or thrown value, preferring the
// stack of errors.
func (r *renderer) renderReason(v goja.Value) string {
	var s string
	err := r.try(func() {
		if o, ok := v.(*goja.Object); ok && o.ExportType() != proxyType && o.ClassName() == "Error" {
			if stack := r.lookup(o, "stack"); stack != nil {
				if stack, ok := stack.Export().(string); ok && stack != "" {
					s = stack
					return
				}
			}
		}
		f := formatter{r: r}
		f.value(v, 0)
		s = string(f.buf)
	})
	if err != nil {
		return unrenderable
	}
	return s
}

// renderException renders an error returned by the runtime, usually a
// thrown exception.
func (r *renderer) renderException(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return r.renderReason(ex.Value())
	}
	return err.Error()
}

// own reads the own property key of o. Accessors are reported, but not
// called.
func (r *renderer) own(o *goja.Object, key string) (value goja.Value, getter, setter, ok bool) {
	d, err := r.describe(goja.Undefined(), o, r.rt.ToValue(key))
	if err != nil {
		panic(err)
	}
	desc, ok := d.(*goja.Object)
	if !ok {
		return nil, false, false, false
	}
	for _, k := range desc.Keys() {
		switch k {
		case "value":
			value = desc.Get(k)
		case "get":
			getter = !goja.IsUndefined(desc.Get(k))
		case "set":
			setter = !goja.IsUndefined(desc.Get(k))
		}
	}
	return value, getter, setter, true
}

// lookup reads a data property through the prototype chain. It returns nil
// if the property is missing, or is an accessor.
func (r *renderer) lookup(o *goja.Object, key string) goja.Value {
	for ; o != nil; o = o.Prototype() {
		if value, getter, setter, ok := r.own(o, key); ok {
			if getter || setter {
				return nil
			}
			return value
		}
	}
	return nil
}

func (f *formatter) value(v goja.Value, depth int) {
	switch {
	case v == nil || goja.IsUndefined(v):
		f.buf = append(f.buf, "undefined"...)
		return
	case goja.IsNull(v):
		f.buf = append(f.buf, "null"...)
		return
	}

	o, ok := v.(*goja.Object)
	if !ok {
		f.primitive(v, depth)
		return
	}

	if slices.Contains(f.seen, o) {
		f.buf = append(f.buf, "[Circular]"...)
		return
	}

	if o.ExportType() == proxyType {
		target := o.Export().(goja.Proxy).Target()
		if target == nil {
			f.buf = append(f.buf, "<Revoked Proxy>"...)
			return
		}
		f.value(target, depth)
		return
	}

	switch o.ClassName() {
	case "Function", "AsyncFunction", "GeneratorFunction":
		f.function(o)
	case "Error":
		f.error(o)
	case "Array":
		if depth > maxRenderDepth {
			f.buf = append(f.buf, "[Array]"...)
			return
		}
		f.seen = append(f.seen, o)
		f.array(o, depth)
		f.seen = f.seen[:len(f.seen)-1]
	case "Promise":
		f.promise(o, depth)
	case "Map", "Set":
		f.buf = append(f.buf, o.ClassName()...)
		f.buf = append(f.buf, '(')
		f.buf = append(f.buf, o.Get("size").String()...)
		f.buf = append(f.buf, ')')
	case "String", "Number", "Boolean", "Date", "RegExp":
		f.buf = append(f.buf, o.String()...)
	default:
		if depth > maxRenderDepth {
			f.buf = append(f.buf, "[Object]"...)
			return
		}
		f.seen = append(f.seen, o)
		f.object(o, depth)
		f.seen = f.seen[:len(f.seen)-1]
	}
}

// primitive renders strings quoted when nested, like node.
func (f *formatter) primitive(v goja.Value, depth int) {
	if sym, ok := v.(*goja.Symbol); ok {
		f.buf = append(f.buf, "Symbol("...)
		f.buf = append(f.buf, sym.String()...)
		f.buf = append(f.buf, ')')
		return
	}
	switch x := v.Export().(type) {
	case string:
		if depth != 0 {
			f.buf = jsonenc.AppendString(f.buf, x)
			return
		}
	case *big.Int:
		f.buf = x.Append(f.buf, 10)
		f.buf = append(f.buf, 'n')
		return
	}
	f.buf = append(f.buf, v.String()...)
}

func (f *formatter) function(o *goja.Object) {
	name := f.r.lookup(o, "name")
	if name == nil || goja.IsUndefined(name) || name.String() == "" {
		f.buf = append(f.buf, "[Function (anonymous)]"...)
		return
	}
	f.buf = append(f.buf, "[Function: "...)
	f.buf = append(f.buf, name.String()...)
	f.buf = append(f.buf, ']')
}

func (f *formatter) error(o *goja.Object) {
	name := "Error"
	if v := f.r.lookup(o, "name"); v != nil && !goja.IsUndefined(v) {
		name = v.String()
	}
	f.buf = append(f.buf, name...)
	if v := f.r.lookup(o, "message"); v != nil && !goja.IsUndefined(v) && v.String() != "" {
		f.buf = append(f.buf, ": "...)
		f.buf = append(f.buf, v.String()...)
	}
}

func (f *formatter) array(o *goja.Object, depth int) {
	n := o.Get("length").ToInteger()
	if n == 0 {
		f.buf = append(f.buf, "[]"...)
		return
	}
	f.buf = append(f.buf, "[ "...)
	for i := int64(0); i < n; i++ {
		if i != 0 {
			f.buf = append(f.buf, ", "...)
		}
		f.property(o, strconv.FormatInt(i, 10), depth+1)
	}
	f.buf = append(f.buf, " ]"...)
}

func (f *formatter) object(o *goja.Object, depth int) {
	keys := o.Keys()
	if len(keys) == 0 {
		f.buf = append(f.buf, "{}"...)
		return
	}
	f.buf = append(f.buf, "{ "...)
	for i, key := range keys {
		if i != 0 {
			f.buf = append(f.buf, ", "...)
		}
		if isPlainKey(key) {
			f.buf = append(f.buf, key...)
		} else {
			f.buf = jsonenc.AppendString(f.buf, key)
		}
		f.buf = append(f.buf, ": "...)
		f.property(o, key, depth+1)
	}
	f.buf = append(f.buf, " }"...)
}

func (f *formatter) property(o *goja.Object, key string, depth int) {
	value, getter, setter, _ := f.r.own(o, key)
	switch {
	case getter && setter:
		f.buf = append(f.buf, "[Getter/Setter]"...)
	case getter:
		f.buf = append(f.buf, "[Getter]"...)
	case setter:
		f.buf = append(f.buf, "[Setter]"...)
	default:
		f.value(value, depth)
	}
}

func (f *formatter) promise(o *goja.Object, depth int) {
	p, ok := o.Export().(*goja.Promise)
	if !ok {
		f.buf = append(f.buf, "Promise {}"...)
		return
	}
	f.buf = append(f.buf, "Promise { "...)
	switch p.State() {
	case goja.PromiseStatePending:
		f.buf = append(f.buf, "<pending>"...)
	case goja.PromiseStateRejected:
		f.buf = append(f.buf, "<rejected> "...)
		f.value(p.Result(), depth+1)
	default:
		f.value(p.Result(), depth+1)
	}
	f.buf = append(f.buf, " }"...)
}

func isPlainKey(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i != 0 && c >= '0' && c <= '9') {
			continue
		}
		return false
	}
	return true
}
