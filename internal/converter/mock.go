package converter

// mock.go - Test doubles for the converter boundary: a scriptable Mock and
// a Flaky wrapper that fails a fixed number of calls before delegating.
// Flaky exercises the bounded-retry path without a network.

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Mock converts by applying a per-statement function; the default is an
// identity transform tagged for visibility in assertions.
type Mock struct {
	// Transform maps one statement; nil means identity.
	Transform func(sql string) string

	mu    sync.Mutex
	calls []Request
}

// Convert records the request and transforms each statement.
func (m *Mock) Convert(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	out := make([]string, len(req.Statements))
	for i, s := range req.Statements {
		if m.Transform != nil {
			out[i] = m.Transform(s)
		} else {
			out[i] = s
		}
	}
	return &Result{Statements: out}, nil
}

// Calls returns the requests seen so far.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}

// Flaky fails the first FailCount calls with a transient error, then
// delegates to Next.
type Flaky struct {
	Next      Converter
	FailCount int64

	attempts atomic.Int64
}

// Convert fails until the failure budget is spent.
func (f *Flaky) Convert(ctx context.Context, req Request) (*Result, error) {
	n := f.attempts.Add(1)
	if n <= f.FailCount {
		return nil, fmt.Errorf("simulated converter outage (call %d)", n)
	}
	return f.Next.Convert(ctx, req)
}

// Attempts returns the number of calls observed.
func (f *Flaky) Attempts() int64 { return f.attempts.Load() }

var (
	_ Converter = (*Mock)(nil)
	_ Converter = (*Flaky)(nil)
)
