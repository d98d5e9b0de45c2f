// Package usercount implements the leaf aggregate family: the number of users
// matching fixed thresholds in one location.
//
// An aggregate has no next page and no sub-scope, so tasks never continue and
// never narrow. Any failure, partial responses included, counts against the
// retry budget.
package usercount

import (
	"context"
	"fmt"

	"github.com/Sternrassler/search-harvester/pkg/output"
	"github.com/Sternrassler/search-harvester/pkg/task"
)

// Query asks for the user count of a search.
const Query = `
query UserCountSearch($searchString: String!) {
    rateLimit {
        cost
        limit
        nodeCount
        remaining
        resetAt
        used
    }
    search(type: USER, query: $searchString, first: 1) {
        userCount
    }
}
`

// Spec describes one user count query.
type Spec struct {
	task.Meta

	Location        string `json:"location"`
	MinRepositories int    `json:"minRepositories"`
	MinFollowers    int    `json:"minFollowers"`
}

// Result is the response of a user count query.
type Result struct {
	task.RateLimitResponse
	Search struct {
		UserCount int `json:"userCount"`
	} `json:"search"`
}

// Count is the output record of a task. The location is taken from the spec
// because the response does not echo it.
type Count struct {
	Location  string `json:"location"`
	UserCount int    `json:"userCount"`
}

// Task executes a user count spec.
type Task struct {
	spec Spec
}

var _ task.Task[Result, Spec] = (*Task)(nil)

// NewTask returns the work item for spec.
func NewTask(spec Spec) *Task {
	return &Task{spec: spec}
}

// Spec implements task.Task.
func (t *Task) Spec() Spec { return t.spec }

// ID implements task.Task.
func (t *Task) ID() string { return t.spec.ID }

// SearchString returns the search qualifier string.
func (t *Task) SearchString() string {
	return fmt.Sprintf("location:%s repos:>=%d followers:>=%d", t.spec.Location, t.spec.MinRepositories, t.spec.MinFollowers)
}

// BuildQueryParameters implements task.Task.
func (t *Task) BuildQueryParameters() map[string]any {
	return map[string]any{
		"searchString": t.SearchString(),
	}
}

// Execute implements task.Task.
func (t *Task) Execute(ctx context.Context, tc *task.Context) (Result, error) {
	return task.Execute[Result](ctx, tc, Query, t.BuildQueryParameters())
}

// NextTask implements task.Task. Aggregates have no pages.
func (t *Task) NextTask(*task.Context, Result) (Spec, bool) {
	return Spec{}, false
}

// NarrowedDownTasks implements task.Task. Aggregates have no sub-scope.
func (t *Task) NarrowedDownTasks(*task.Context) []Spec {
	return nil
}

// SaveOutput implements task.Task.
func (t *Task) SaveOutput(tc *task.Context, result Result) {
	tc.Output.Append(output.Record{
		SourceSpecID: t.ID(),
		Result: &Count{
			Location:  t.spec.Location,
			UserCount: result.Search.UserCount,
		},
	})
	tc.Logger.Debug().
		Str("task_id", t.ID()).
		Str("location", t.spec.Location).
		Int("user_count", result.Search.UserCount).
		Msg("Saved output")
}

// ShouldRecordAsError implements task.Task. An aggregate is never partially
// valid.
func (t *Task) ShouldRecordAsError(error) bool {
	return true
}
