// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMapResolver(t *testing.T, modules map[string]string) *MapResolver {
	t.Helper()
	r := NewMapResolver(nil)
	for specifier, code := range modules {
		require.NoError(t, r.Add(specifier, code), specifier)
	}
	return r
}

func TestCompile(t *testing.T) {
	rec, err := Compile("lib", `import { a } from './a.js';
import './b.js';
export const x = a;
export { x as y };
export * from './c.js';
`)
	require.NoError(t, err)
	assert.Equal(t, "lib", rec.Name())
	assert.Equal(t, StatusCompiled, rec.Status())
	assert.Equal(t, []string{"./a.js", "./b.js", "./c.js"}, rec.Requests())
	assert.Equal(t, []string{"x", "y"}, rec.ExportNames())
}

func TestCompile_error(t *testing.T) {
	_, err := Compile("lib", "export const = 1;")
	var evalErr *EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, CompileError, evalErr.Kind)
	assert.Equal(t, "lib", evalErr.Module)
	assert.True(t, strings.HasPrefix(err.Error(), "modrun: CompileError in lib: "), err.Error())
}

func TestModule_imports(t *testing.T) {
	e := newTestEngine(t, WithResolver(newMapResolver(t, map[string]string{
		"./math.js": `export const pi = 3;
export default function add(a, b) { return a + b }
export let counter = 0;
export function bump() { counter++ }
`,
	})))
	f := e.evaluate(t, `import add, { pi, bump, counter } from './math.js';
import * as m from './math.js';
console.log(add(pi, 1));
bump();
console.log(counter, m.counter, m.default === add);
console.log(Object.getPrototypeOf(m) === null, Object.keys(m).sort().join());
`)
	require.NoError(t, f.Err())
	assert.Equal(t, "4\n0 1 true\ntrue bump,counter,default,pi\n", e.out.String())
}

func TestModule_namespaceIsReadOnly(t *testing.T) {
	e := newTestEngine(t, WithResolver(newMapResolver(t, map[string]string{
		"./a.js": `export const a = 1;`,
	})))
	f := e.evaluate(t, `import * as ns from './a.js';
ns.a = 2;
`)
	assert.Equal(t, RuntimeError, KindOf(f.Err()))
	assert.Contains(t, f.Err().Error(), "TypeError")
}

func TestModule_reexports(t *testing.T) {
	e := newTestEngine(t, WithResolver(newMapResolver(t, map[string]string{
		"./a.js": `export const a = 1; export default 'A';`,
		"./b.js": `export { a as renamed, default as aDefault } from './a.js';
export * from './c.js';
export * as nsA from './a.js';
`,
		"./c.js": `export const c = 3; export default 'C';`,
	})))
	f := e.evaluate(t, `import { renamed, aDefault, c, nsA } from './b.js';
import * as b from './b.js';
console.log(renamed, aDefault, c, nsA.a, 'default' in b, b.c);
`)
	require.NoError(t, f.Err())
	assert.Equal(t, "1 A 3 1 false 3\n", e.out.String())
}

func TestModule_evaluationOrder(t *testing.T) {
	e := newTestEngine(t, WithResolver(newMapResolver(t, map[string]string{
		"./a.js": `console.log('a'); export const a = 'A';`,
		"./b.js": `import { a } from './a.js'; console.log('b', a);`,
		"./c.js": `import './a.js'; console.log('c');`,
	})))
	f := e.evaluate(t, `import './b.js';
import './c.js';
import { a } from './a.js';
console.log('main', a);
`)
	require.NoError(t, f.Err())
	assert.Equal(t, "a\nb A\nc\nmain A\n", e.out.String())
}

func TestModule_asyncDependency(t *testing.T) {
	e := newTestEngine(t, WithResolver(newMapResolver(t, map[string]string{
		"./slow.js": `export let value = 'initial';
await new Promise(resolve => setTimeout(resolve, 10));
value = 'ready';
`,
	})))
	f := e.evaluate(t, `import { value } from './slow.js'; console.log(value);`)
	require.NoError(t, f.Err())
	assert.Equal(t, "ready\n", e.out.String())
	assert.Greater(t, f.Ticks(), 1)
}

func TestModule_dependencyRejects(t *testing.T) {
	e := newTestEngine(t, WithResolver(newMapResolver(t, map[string]string{
		"./bad.js": `await null; throw new Error('dep failed');`,
	})))
	f := e.evaluate(t, `import './bad.js'; console.log('unreachable');`)
	assert.Equal(t, RejectionError, KindOf(f.Err()))
	assert.Contains(t, f.Err().Error(), "dep failed")
	assert.Empty(t, e.out.String())
	assert.NotContains(t, e.logs.String(), "unhandled promise rejection")
}

func TestModule_dependencyThrows(t *testing.T) {
	r := newMapResolver(t, map[string]string{
		"./bad.js": `throw new Error('sync dep');`,
	})
	dep, err := r.Resolve("", "./bad.js")
	require.NoError(t, err)

	e := newTestEngine(t, WithResolver(r))
	f := e.evaluate(t, `import './bad.js'; console.log('unreachable');`)

	var evalErr *EvalError
	require.ErrorAs(t, f.Err(), &evalErr)
	assert.Equal(t, RuntimeError, evalErr.Kind)
	assert.Equal(t, "./bad.js", evalErr.Module)
	assert.Contains(t, evalErr.Message, "sync dep")
	assert.Equal(t, StatusRejected, dep.Status())
	assert.Empty(t, e.out.String())
}

func TestModule_completionPromisesReleased(t *testing.T) {
	e := newTestEngine(t, WithResolver(newMapResolver(t, map[string]string{
		"./a.js":    `export const a = 1;`,
		"./slow.js": `await new Promise(resolve => setTimeout(resolve, 5)); export const b = 2;`,
		"./ok.js":   `export const ok = true;`,
		"./bad.js":  `import './ok.js'; throw new Error('sync dep');`,
		"./late.js": `await null; throw new Error('late dep');`,
	})))

	require.NoError(t, e.evaluate(t, `import { a } from './a.js'; import { b } from './slow.js'; console.log(a, b);`).Err())
	assert.Zero(t, e.ownedPromises(t))

	assert.Equal(t, RuntimeError, KindOf(e.evaluate(t, `import './bad.js';`).Err()))
	assert.Zero(t, e.ownedPromises(t))

	assert.Equal(t, RejectionError, KindOf(e.evaluate(t, `import './late.js';`).Err()))
	assert.Zero(t, e.ownedPromises(t))

	assert.Equal(t, RuntimeError, KindOf(e.evaluate(t, `throw new Error('main')`).Err()))
	assert.Zero(t, e.ownedPromises(t))

	assert.Equal(t, "1 2\n", e.out.String())
	assert.NotContains(t, e.logs.String(), "unhandled promise rejection")
}

func TestModule_anonymousDefaultFunction(t *testing.T) {
	e := newTestEngine(t, WithResolver(newMapResolver(t, map[string]string{
		"./fn.js": "export default function () { return 'fn' }\n(console.log('separate statement'))",
		"./cl.js": "export default class { name() { return 'cl' } }\n[1].forEach(() => console.log('separate statement'))",
	})))
	f := e.evaluate(t, `import fn from './fn.js';
import Cl from './cl.js';
console.log(typeof fn, fn(), new Cl().name());
`)
	require.NoError(t, f.Err())
	assert.Equal(t, "separate statement\nseparate statement\nfunction fn cl\n", e.out.String())
}

func TestModule_importCycle(t *testing.T) {
	r := newMapResolver(t, map[string]string{
		"./a.js": `import './b.js';`,
		"./b.js": `import './a.js';`,
	})
	a, err := r.Resolve("", "./a.js")
	require.NoError(t, err)

	e := newTestEngine(t, WithResolver(r))
	f := e.evaluate(t, `import './a.js';`)
	err = f.Err()
	assert.Equal(t, InstantiationError, KindOf(err))
	assert.ErrorIs(t, err, ErrImportCycle)
	assert.Contains(t, err.Error(), "main -> ./a.js -> ./b.js -> ./a.js")
	assert.Equal(t, StatusFailed, a.Status())
}

func TestModule_missingExport(t *testing.T) {
	e := newTestEngine(t, WithResolver(newMapResolver(t, map[string]string{
		"./a.js": `export const a = 1;`,
		"./b.js": `export * from './c.js';`,
		"./c.js": `export const c = 1; export default 2;`,
	})))

	// each case fails a distinct graph, as failed records cannot be reused
	for _, code := range [...]string{
		`import { nope } from './a.js';`,
		`import def from './b.js';`,
	} {
		f := e.evaluate(t, code)
		assert.ErrorIs(t, f.Err(), ErrExportNotFound, code)
		assert.Equal(t, InstantiationError, KindOf(f.Err()), code)
		assert.Contains(t, f.Err().Error(), "does not provide an export named", code)
	}
}

func TestModule_reused(t *testing.T) {
	e := newTestEngine(t)
	rec, err := Compile("once", `console.log('once')`)
	require.NoError(t, err)

	require.NoError(t, e.EvaluateModule(rec).Wait(testContext(t)))
	assert.Equal(t, StatusFulfilled, rec.Status())

	err = e.EvaluateModule(rec).Wait(testContext(t))
	assert.ErrorIs(t, err, ErrModuleReused)
	assert.Equal(t, InstantiationError, KindOf(err))
	assert.Equal(t, "once\n", e.out.String())
}

func TestModule_resolverReceivesReferrer(t *testing.T) {
	type call struct{ referrer, specifier string }
	var calls []call
	dep, err := Compile("dep", `import 'leaf';`)
	require.NoError(t, err)
	leaf, err := Compile("leaf", ``)
	require.NoError(t, err)

	e := newTestEngine(t, WithResolver(ResolverFunc(func(referrer, specifier string) (*ModuleRecord, error) {
		calls = append(calls, call{referrer, specifier})
		switch specifier {
		case "dep":
			return dep, nil
		case "leaf":
			return leaf, nil
		default:
			return nil, errors.New("unexpected")
		}
	})))
	require.NoError(t, e.evaluate(t, `import 'dep';`).Err())
	assert.Equal(t, []call{{"main", "dep"}, {"dep", "leaf"}}, calls)
	assert.Equal(t, StatusFulfilled, leaf.Status())
}

func TestModule_resolverError(t *testing.T) {
	cause := errors.New("some resolver failure")
	e := newTestEngine(t, WithResolver(ResolverFunc(func(string, string) (*ModuleRecord, error) {
		return nil, cause
	})))
	err := e.evaluate(t, `import 'x';`).Err()
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrInstantiation)
}

func TestModule_lineNumbersPreserved(t *testing.T) {
	e := newTestEngine(t, WithResolver(newMapResolver(t, map[string]string{
		"./a.js": `export const a = 1;`,
	})))
	err := e.evaluate(t, "import { a } from './a.js';\n\nthrow new Error('line three');\n").Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main:3:")
}

func TestMapResolver(t *testing.T) {
	r := NewMapResolver(nil)
	_, err := r.Resolve("main", "./a.js")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	assert.Equal(t, CompileError, KindOf(r.Add("./bad.js", "export {")))
	_, err = r.Resolve("main", "./bad.js")
	assert.ErrorIs(t, err, ErrModuleNotFound)

	rec, err := Compile("./a.js", "")
	require.NoError(t, err)
	r.Set("./a.js", rec)
	got, err := r.Resolve("anything", "./a.js")
	require.NoError(t, err)
	assert.Same(t, rec, got)

	var zero MapResolver
	zero.Set("./a.js", rec)
	got, err = zero.Resolve("", "./a.js")
	require.NoError(t, err)
	assert.Same(t, rec, got)
}

func TestNotFoundResolver(t *testing.T) {
	rec, err := NotFoundResolver{}.Resolve("main", "x")
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, ErrModuleNotFound)
}
