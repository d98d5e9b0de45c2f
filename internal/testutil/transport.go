package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Sternrassler/search-harvester/pkg/output"
	"github.com/Sternrassler/search-harvester/pkg/task"
	"github.com/rs/zerolog"
)

// Call is one recorded transport call.
type Call struct {
	Query     string
	Variables map[string]any
}

// Reply is what a FakeTransport answers with. Data is decoded into the
// caller's result when non-empty, even when Err is set.
type Reply struct {
	Data string
	Err  error
}

// FakeTransport is an in-process task.Transport for unit tests.
// Respond picks the reply for each call; calls are recorded in order.
type FakeTransport struct {
	mu      sync.Mutex
	calls   []Call
	Respond func(call Call) Reply
}

// NewFakeTransport returns a transport answering every call with respond.
func NewFakeTransport(respond func(call Call) Reply) *FakeTransport {
	return &FakeTransport{Respond: respond}
}

// StaticTransport answers every call with the same reply.
func StaticTransport(data string, err error) *FakeTransport {
	return NewFakeTransport(func(Call) Reply { return Reply{Data: data, Err: err} })
}

// Query implements task.Transport.
func (f *FakeTransport) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	call := Call{Query: query, Variables: variables}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	reply := f.Respond(call)
	if reply.Data != "" {
		if err := json.Unmarshal([]byte(reply.Data), out); err != nil {
			return fmt.Errorf("fake transport: decode reply: %w", err)
		}
	}
	return reply.Err
}

// Calls returns the recorded calls.
func (f *FakeTransport) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of recorded calls.
func (f *FakeTransport) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// NewTaskContext returns a task context with a silent logger, an in-memory
// output buffer and a stop threshold of 10 percent.
func NewTaskContext(transport task.Transport) (*task.Context, *output.Buffer) {
	buf := output.NewBuffer()
	return &task.Context{
		Transport:            transport,
		RateLimitStopPercent: 10,
		Logger:               zerolog.Nop(),
		Output:               buf,
	}, buf
}

// PartialError is a partial-response error for tests that do not go through
// the GraphQL transport.
type PartialError struct {
	Message string
}

func (e *PartialError) Error() string { return "partial response: " + e.Message }
func (e *PartialError) PartialResponse() bool { return true }
