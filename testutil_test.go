// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package modrun

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

const testTimeout = 10 * time.Second

// lockedBuffer is written on the engine goroutine, and read by tests.
type lockedBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (x *lockedBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *lockedBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

type testEngine struct {
	*Engine
	out  *lockedBuffer
	logs *lockedBuffer
}

func newTestLogger(w io.Writer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField("")),
		stumpy.L.WithLevel(logiface.LevelTrace),
	).Logger()
}

// newTestEngine creates an Engine with captured console output and logs,
// running in the background until the test completes.
func newTestEngine(t *testing.T, opts ...Option) *testEngine {
	t.Helper()

	out, logs := new(lockedBuffer), new(lockedBuffer)
	e, err := New(append([]Option{
		WithConsoleOutput(out),
		WithLogger(newTestLogger(logs)),
	}, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx) }()

	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), testTimeout)
		defer shutdownCancel()
		_ = e.Terminate(shutdownCtx)
		cancel()
		<-runDone
	})

	return &testEngine{Engine: e, out: out, logs: logs}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// evaluate runs code to settlement, returning the Future.
func (x *testEngine) evaluate(t *testing.T, code string) *Future {
	t.Helper()
	f := x.Evaluate(code)
	select {
	case <-f.Done():
	case <-testContext(t).Done():
		t.Fatal("evaluation did not settle")
	}
	return f
}

// waitPending blocks until a drive tick has observed a pending evaluation.
func (x *testEngine) waitPending(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Contains(x.logs.String(), "evaluation pending")
	}, testTimeout, time.Millisecond)
}

// ownedPromises reads, on the engine goroutine, the number of completion
// promises the engine is tracking.
func (x *testEngine) ownedPromises(t *testing.T) int {
	t.Helper()
	ch := make(chan int, 1)
	require.NoError(t, x.Submit(func() { ch <- len(x.state.owned) }))
	select {
	case n := <-ch:
		return n
	case <-testContext(t).Done():
		t.Fatal("submitted task did not run")
		return 0
	}
}
