package task

import (
	"context"

	"github.com/Sternrassler/search-harvester/pkg/output"
	"github.com/rs/zerolog"
)

// Transport performs one query against the remote API and decodes the data
// member of the response into out.
//
// When the response carries both data and errors, out is still populated and
// the returned error reports PartialResponse() == true.
type Transport interface {
	Query(ctx context.Context, query string, variables map[string]any, out any) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, query string, variables map[string]any, out any) error

// Query implements Transport.
func (f TransportFunc) Query(ctx context.Context, query string, variables map[string]any, out any) error {
	return f(ctx, query, variables, out)
}

// Context is what a work item may use while it runs.
type Context struct {
	Transport            Transport
	RateLimitStopPercent int
	Logger               zerolog.Logger
	Output               output.Sink
}

// Task is a work item bound to one spec.
type Task[R Result, S Spec] interface {
	// Spec returns the spec the task was created from.
	Spec() S

	// ID returns the spec id.
	ID() string

	// BuildQueryParameters returns the query variables. It performs no I/O.
	BuildQueryParameters() map[string]any

	// Execute issues the transport call. It must return promptly once ctx is
	// done.
	Execute(ctx context.Context, tc *Context) (R, error)

	// NextTask returns the spec of the next page, if there is one.
	NextTask(tc *Context, result R) (S, bool)

	// NarrowedDownTasks returns children covering the same scope at a finer
	// granularity, or nil when the spec cannot be narrowed any further.
	NarrowedDownTasks(tc *Context) []S

	// SaveOutput appends the non-null result elements to tc.Output.
	SaveOutput(tc *Context, result R)

	// ShouldRecordAsError reports whether err counts against the retry budget.
	ShouldRecordAsError(err error) bool
}

// Command is the factory of one family.
type Command[R Result, S Spec] interface {
	CreateTask(tc *Context, spec S) Task[R, S]
	CreateNewQueueItems(tc *Context) ([]S, error)
}

// Execute runs query through the context transport and decodes the result.
// On a partial response both the decoded result and the error are returned.
func Execute[R any](ctx context.Context, tc *Context, query string, variables map[string]any) (R, error) {
	var result R
	if err := ctx.Err(); err != nil {
		return result, err
	}
	err := tc.Transport.Query(ctx, query, variables, &result)
	return result, err
}

// CursorVariable returns the "after" query variable for a start cursor:
// nil for the first page, the cursor string otherwise.
func CursorVariable(cursor *string) any {
	if cursor == nil {
		return nil
	}
	return *cursor
}

// AppendNodes appends every non-nil node to tc.Output tagged with sourceID
// and returns the number written. Nil entries come from partial responses.
func AppendNodes[N any](tc *Context, sourceID string, nodes []*N) int {
	written := 0
	for _, n := range nodes {
		if n == nil {
			continue
		}
		tc.Output.Append(output.Record{SourceSpecID: sourceID, Result: n})
		written++
	}
	return written
}
