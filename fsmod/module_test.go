// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fsmod

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/go-eventloop"
	"github.com/stretchr/testify/assert"
	testify "github.com/stretchr/testify/require"
)

type harness struct {
	loop *eventloop.Loop
	rt   *goja.Runtime
	dir  string
}

// outcome is the settled result of a script, exported on the loop.
type outcome struct {
	value    any
	code     string
	message  string
	rejected bool
}

// newHarness runs a runtime with the fs module on an event loop, with the
// global dir set to a fresh temporary directory.
func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	loop, err := eventloop.New()
	testify.NoError(t, err)

	h := &harness{loop: loop, rt: goja.New(), dir: t.TempDir()}

	registry := require.NewRegistry()
	registry.RegisterNativeModule("fs", Require(append([]Option{WithScheduler(SchedulerFunc(func(fn func()) error { return loop.Submit(fn) }))}, opts...)...))
	registry.Enable(h.rt)
	testify.NoError(t, h.rt.Set("dir", h.dir))

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = loop.Run(context.Background())
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = loop.Shutdown(ctx)
		<-runDone
	})

	return h
}

// run evaluates body as an async function on the loop, waiting for it to
// settle.
func (h *harness) run(t *testing.T, body string) outcome {
	t.Helper()
	ch := make(chan outcome, 1)
	testify.NoError(t, h.loop.Submit(func() {
		_ = h.rt.Set("__settle", func(call goja.FunctionCall) goja.Value {
			var o outcome
			if len(call.Arguments) == 1 {
				o.rejected = true
				reason := call.Argument(0)
				o.message = reason.String()
				if obj, ok := reason.(*goja.Object); ok {
					o.message = obj.Get("message").String()
					if code := obj.Get("code"); code != nil && !goja.IsUndefined(code) {
						o.code = code.String()
					}
				}
			} else {
				o.value = call.Argument(1).Export()
			}
			ch <- o
			return goja.Undefined()
		})
		_, err := h.rt.RunString("(async (fs) => {\n" + body + "\n})(require('fs')).then(v => __settle(undefined, v), e => __settle(e));")
		if err != nil {
			ch <- outcome{rejected: true, message: err.Error()}
		}
	}))
	select {
	case o := <-ch:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("script did not settle")
		return outcome{}
	}
}

func (h *harness) mustRun(t *testing.T, body string) any {
	t.Helper()
	o := h.run(t, body)
	testify.False(t, o.rejected, "%s: %s", o.code, o.message)
	return o.value
}

func TestModule_writeReadAppend(t *testing.T) {
	h := newHarness(t)
	v := h.mustRun(t, `
const name = dir + '/a.txt';
await fs.writeFile(name, 'hello');
await fs.appendFile(name, ' world');
await fs.appendFile(dir + '/new.txt', 'created');
return [await fs.readFile(name), await fs.readFile(dir + '/new.txt', 'utf8')];
`)
	assert.Equal(t, []any{"hello world", "created"}, v)

	data, err := os.ReadFile(filepath.Join(h.dir, "a.txt"))
	testify.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestModule_readFileEncodings(t *testing.T) {
	h := newHarness(t)
	testify.NoError(t, os.WriteFile(filepath.Join(h.dir, "hi.txt"), []byte("hi"), 0o644))

	v := h.mustRun(t, `
const name = dir + '/hi.txt';
return [
	await fs.readFile(name, 'base64'),
	await fs.readFile(name, { encoding: 'hex' }),
	await fs.readFile(name, { encoding: 'UTF-8' }),
	await fs.readFile(name, null),
];
`)
	assert.Equal(t, []any{"aGk=", "6869", "hi", "hi"}, v)

	o := h.run(t, `return await fs.readFile(dir + '/hi.txt', 'latin1');`)
	assert.True(t, o.rejected)
	assert.Contains(t, o.message, "unsupported encoding latin1")
}

func TestModule_exists(t *testing.T) {
	h := newHarness(t)
	testify.NoError(t, os.WriteFile(filepath.Join(h.dir, "present"), nil, 0o644))
	v := h.mustRun(t, `return [await fs.exists(dir + '/present'), await fs.exists(dir + '/absent')];`)
	assert.Equal(t, []any{true, false}, v)
}

func TestModule_mkdirReaddir(t *testing.T) {
	h := newHarness(t)
	v := h.mustRun(t, `
await fs.mkdir(dir + '/x/y', { recursive: true });
await fs.writeFile(dir + '/x/b', '');
await fs.writeFile(dir + '/x/a', '');
return await fs.readdir(dir + '/x');
`)
	assert.Equal(t, []any{"a", "b", "y"}, v)

	o := h.run(t, `await fs.mkdir(dir + '/x');`)
	assert.True(t, o.rejected)
	assert.Equal(t, "EEXIST", o.code)

	o = h.run(t, `await fs.mkdir(dir + '/p/q');`)
	assert.Equal(t, "ENOENT", o.code)
}

func TestModule_stat(t *testing.T) {
	h := newHarness(t)
	testify.NoError(t, os.WriteFile(filepath.Join(h.dir, "five"), []byte("12345"), 0o644))
	v := h.mustRun(t, `
const file = await fs.stat(dir + '/five');
const d = await fs.stat(dir);
return [file.size, file.isFile, file.isDirectory, d.isFile, d.isDirectory, file.mtimeMs > 0];
`)
	assert.Equal(t, []any{int64(5), true, false, false, true, true}, v)
}

func TestModule_rm(t *testing.T) {
	h := newHarness(t)
	testify.NoError(t, os.MkdirAll(filepath.Join(h.dir, "tree", "sub"), 0o755))
	testify.NoError(t, os.WriteFile(filepath.Join(h.dir, "tree", "sub", "f"), nil, 0o644))
	testify.NoError(t, os.WriteFile(filepath.Join(h.dir, "single"), nil, 0o644))

	h.mustRun(t, `await fs.rm(dir + '/single');`)
	assert.NoFileExists(t, filepath.Join(h.dir, "single"))

	o := h.run(t, `await fs.rm(dir + '/tree');`)
	assert.True(t, o.rejected)
	assert.Equal(t, "ENOTEMPTY", o.code)

	h.mustRun(t, `await fs.rm(dir + '/tree', { recursive: true });`)
	assert.NoDirExists(t, filepath.Join(h.dir, "tree"))

	o = h.run(t, `await fs.rm(dir + '/tree', { recursive: true });`)
	assert.Equal(t, "ENOENT", o.code)
}

func TestModule_errorShape(t *testing.T) {
	h := newHarness(t)
	v := h.mustRun(t, `
try {
	await fs.readFile(dir + '/missing');
} catch (e) {
	return [e instanceof Error, e.code, e.syscall, e.path === dir + '/missing', e.message.startsWith("ENOENT: open '")];
}
`)
	assert.Equal(t, []any{true, "ENOENT", "open", true, true}, v)
}

func TestModule_invalidArguments(t *testing.T) {
	h := newHarness(t)
	for _, tc := range [...]struct {
		body string
		msg  string
	}{
		{body: `await fs.readFile(1);`, msg: "fs.readFile: path must be a string"},
		{body: `await fs.writeFile(dir + '/x');`, msg: "fs.writeFile: data is required"},
		{body: `await fs.stat();`, msg: "fs.stat: path must be a string"},
	} {
		o := h.run(t, tc.body)
		assert.True(t, o.rejected, tc.body)
		assert.Contains(t, o.message, tc.msg, tc.body)
	}
}

func TestModule_root(t *testing.T) {
	root := t.TempDir()
	h := newHarness(t, WithRoot(root))
	testify.NoError(t, os.WriteFile(filepath.Join(root, "inside.txt"), []byte("inside"), 0o644))

	v := h.mustRun(t, `
await fs.mkdir('a/b', { recursive: true });
await fs.writeFile('a/b/c.txt', 'c');
await fs.appendFile('a/b/c.txt', 'd');
return [await fs.readFile('inside.txt'), await fs.readFile('a/b/c.txt'), await fs.readdir('a'), await fs.exists('a/b')];
`)
	assert.Equal(t, []any{"inside", "cd", []any{"b"}, true}, v)
	assert.FileExists(t, filepath.Join(root, "a", "b", "c.txt"))

	for _, body := range [...]string{
		`await fs.readFile('../escape');`,
		`await fs.writeFile('../escape', 'x');`,
		`await fs.readFile(dir + '/inside.txt');`,
	} {
		o := h.run(t, body)
		assert.True(t, o.rejected, body)
		assert.NotEmpty(t, o.code, body)
	}

	h.mustRun(t, `await fs.rm('a', { recursive: true });`)
	assert.NoDirExists(t, filepath.Join(root, "a"))
}

func TestModule_concurrentOperations(t *testing.T) {
	h := newHarness(t, WithConcurrency(2))
	v := h.mustRun(t, `
const names = Array.from({ length: 16 }, (_, i) => dir + '/f' + i);
await Promise.all(names.map((name, i) => fs.writeFile(name, String(i))));
const contents = await Promise.all(names.map(name => fs.readFile(name)));
return contents.join(',');
`)
	assert.Equal(t, "0,1,2,3,4,5,6,7,8,9,10,11,12,13,14,15", v)
}

func TestNew_options(t *testing.T) {
	rt := goja.New()
	_, err := New(rt)
	assert.ErrorContains(t, err, "scheduler is required")

	scheduler := SchedulerFunc(func(fn func()) error { fn(); return nil })
	_, err = New(rt, WithScheduler(scheduler), WithConcurrency(0))
	assert.Error(t, err)
	_, err = New(rt, WithScheduler(nil))
	assert.Error(t, err)

	m, err := New(rt, WithScheduler(scheduler), nil)
	testify.NoError(t, err)
	exports := rt.NewObject()
	m.SetupExports(exports)
	for _, name := range [...]string{"readFile", "writeFile", "appendFile", "exists", "readdir", "stat", "mkdir", "rm"} {
		_, ok := goja.AssertFunction(exports.Get(name))
		assert.True(t, ok, name)
	}

	assert.Panics(t, func() { _, _ = New(nil) })
}

func TestErrorCode(t *testing.T) {
	for _, tc := range [...]struct {
		err  error
		code string
	}{
		{err: fs.ErrNotExist, code: "ENOENT"},
		{err: &fs.PathError{Op: "open", Path: "x", Err: syscall.ENOENT}, code: "ENOENT"},
		{err: fs.ErrExist, code: "EEXIST"},
		{err: fs.ErrPermission, code: "EACCES"},
		{err: fmt.Errorf("wrapped: %w", syscall.ENOTDIR), code: "ENOTDIR"},
		{err: syscall.EISDIR, code: "EISDIR"},
		{err: syscall.ENOTEMPTY, code: "ENOTEMPTY"},
		{err: errors.New("other"), code: "EIO"},
	} {
		assert.Equal(t, tc.code, errorCode(tc.err), tc.err.Error())
	}
}
