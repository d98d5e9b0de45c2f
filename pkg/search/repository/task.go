// Package repository implements the single-axis search family: public
// repositories matching fixed popularity thresholds, scoped by a creation
// date interval.
//
// A failing spec is narrowed by halving its creation interval. Specs that
// continue a cursor chain narrow the originating interval instead, because a
// cursor is only meaningful for the window it was issued against.
package repository

import (
	"context"
	"fmt"

	"github.com/Sternrassler/search-harvester/pkg/period"
	"github.com/Sternrassler/search-harvester/pkg/task"
)

// Spec describes one page of a repository search.
type Spec struct {
	task.Meta

	MinStars         int         `json:"minStars"`
	MinForks         int         `json:"minForks"`
	MinSizeInKb      int         `json:"minSizeInKb"`
	HasActivityAfter period.Date `json:"hasActivityAfter"`
	CreatedAfter     period.Date `json:"createdAfter"`
	CreatedBefore    period.Date `json:"createdBefore"`
	PageSize         int         `json:"pageSize"`
	StartCursor      *string     `json:"startCursor"`
}

// Created returns the creation interval of the spec.
func (s Spec) Created() period.Range {
	return period.Range{From: s.CreatedAfter, To: s.CreatedBefore}
}

// Count is a connection total.
type Count struct {
	TotalCount int `json:"totalCount"`
}

// Summary is one repository of a result page.
type Summary struct {
	NameWithOwner    string `json:"nameWithOwner"`
	IsInOrganization bool   `json:"isInOrganization"`
	Owner            struct {
		Login string `json:"login"`
	} `json:"owner"`
	ForkCount        int   `json:"forkCount"`
	StargazerCount   int   `json:"stargazerCount"`
	PullRequests     Count `json:"pullRequests"`
	Issues           Count `json:"issues"`
	MentionableUsers Count `json:"mentionableUsers"`
	Watchers         Count `json:"watchers"`
}

// Result is one page of repository search results.
type Result struct {
	task.RateLimitResponse
	Search struct {
		PageInfo        task.PageInfo `json:"pageInfo"`
		RepositoryCount int           `json:"repositoryCount"`
		Nodes           []*Summary    `json:"nodes"`
	} `json:"search"`
}

// Task executes a repository search spec.
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

// SearchString returns the search qualifier string. Both ends of the
// created interval are inclusive.
func (t *Task) SearchString() string {
	return fmt.Sprintf(
		"is:public template:false archived:false stars:>=%d forks:>=%d size:>=%d pushed:>=%s created:%s",
		t.spec.MinStars, t.spec.MinForks, t.spec.MinSizeInKb, t.spec.HasActivityAfter, t.spec.Created(),
	)
}

// BuildQueryParameters implements task.Task.
func (t *Task) BuildQueryParameters() map[string]any {
	return map[string]any{
		"searchString": t.SearchString(),
		"first":        t.spec.PageSize,
		"after":        task.CursorVariable(t.spec.StartCursor),
	}
}

// Execute implements task.Task.
func (t *Task) Execute(ctx context.Context, tc *task.Context) (Result, error) {
	return task.Execute[Result](ctx, tc, Query, t.BuildQueryParameters())
}

// NextTask implements task.Task.
func (t *Task) NextTask(tc *task.Context, result Result) (Spec, bool) {
	if !result.Search.PageInfo.HasNextPage {
		return Spec{}, false
	}
	tc.Logger.Debug().Str("task_id", t.ID()).Msg("Next page available")

	next := t.spec
	next.Meta = task.ContinuationOf(t.spec.Meta, t.spec.StartCursor)
	next.StartCursor = result.Search.PageInfo.EndCursor
	return next, true
}

// NarrowedDownTasks implements task.Task.
//
// With a start cursor the created interval is still the originating spec's
// interval, since continuations copy it verbatim. Splitting it reprocesses
// pages the chain already covered; duplicates are removed downstream.
func (t *Task) NarrowedDownTasks(tc *task.Context) []Spec {
	logger := tc.Logger.With().Str("task_id", t.ID()).Logger()

	if t.spec.StartCursor != nil {
		logger.Debug().
			Str("originating_task_id", task.Deref(t.spec.OriginatingTaskID)).
			Msg("Spec has a start cursor, narrowing the originating interval")
	}

	halves := t.spec.Created().Halves()
	if halves == nil {
		logger.Debug().Msg("Created interval cannot be split any further")
		return nil
	}

	children := make([]Spec, 0, len(halves))
	for _, half := range halves {
		child := t.spec
		child.Meta = task.ChildOf(t.spec.Meta)
		child.CreatedAfter = half.From
		child.CreatedBefore = half.To
		child.StartCursor = nil
		children = append(children, child)
	}
	return children
}

// SaveOutput implements task.Task.
func (t *Task) SaveOutput(tc *task.Context, result Result) {
	n := task.AppendNodes(tc, t.ID(), result.Search.Nodes)
	tc.Logger.Debug().
		Str("task_id", t.ID()).
		Int("nodes", len(result.Search.Nodes)).
		Int("saved", n).
		Msg("Saved output")
}

// ShouldRecordAsError implements task.Task. Partial responses are tolerated.
func (t *Task) ShouldRecordAsError(err error) bool {
	return task.RecordUnlessPartial(err)
}
