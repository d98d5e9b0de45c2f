// Package organization implements the paginated collection family: the public
// repositories of one organization, listed page by page.
//
// The collection has no divisible scope, so a failing spec is narrowed by
// halving its page size. The cursor is kept, since it still addresses the
// same position in the same collection.
package organization

import (
	"context"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/output"
	"github.com/Sternrassler/search-harvester/pkg/task"
)

// Spec describes one page of an organization's repositories.
type Spec struct {
	task.Meta

	OrgName     string  `json:"orgName"`
	PageSize    int     `json:"pageSize"`
	StartCursor *string `json:"startCursor"`
}

// Count is a connection total.
type Count struct {
	TotalCount int `json:"totalCount"`
}

// Repository is one repository of an organization page.
type Repository struct {
	NameWithOwner    string `json:"nameWithOwner"`
	IsInOrganization bool   `json:"isInOrganization"`
	Owner            struct {
		Login string `json:"login"`
	} `json:"owner"`
	ForkCount        int       `json:"forkCount"`
	StargazerCount   int       `json:"stargazerCount"`
	PullRequests     Count     `json:"pullRequests"`
	Issues           Count     `json:"issues"`
	MentionableUsers Count     `json:"mentionableUsers"`
	Watchers         Count     `json:"watchers"`
	Discussions      Count     `json:"discussions"`
	CreatedAt        time.Time `json:"createdAt"`
	IsPrivate        bool      `json:"isPrivate"`
	PushedAt         time.Time `json:"pushedAt"`
	Visibility       string    `json:"visibility"`
	PrimaryLanguage  *struct {
		Name string `json:"name"`
	} `json:"primaryLanguage"`
	Languages struct {
		Edges []struct {
			Size int `json:"size"`
			Node struct {
				Name string `json:"name"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"languages"`
}

// Repositories is the paginated repository connection.
type Repositories struct {
	PageInfo task.PageInfo `json:"pageInfo"`
	Nodes    []*Repository `json:"nodes"`
}

// Organization is the organization object. It is also the output record of
// each page.
type Organization struct {
	Login           string       `json:"login"`
	Name            string       `json:"name"`
	CreatedAt       time.Time    `json:"createdAt"`
	MembersWithRole Count        `json:"membersWithRole"`
	Repositories    Repositories `json:"repositories"`
}

// Result is one page of an organization listing. Organization is nil when
// the login does not resolve.
type Result struct {
	task.RateLimitResponse
	Organization *Organization `json:"organization"`
}

// Task executes an organization listing spec.
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

// BuildQueryParameters implements task.Task.
func (t *Task) BuildQueryParameters() map[string]any {
	return map[string]any{
		"orgName": t.spec.OrgName,
		"first":   t.spec.PageSize,
		"after":   task.CursorVariable(t.spec.StartCursor),
	}
}

// Execute implements task.Task.
func (t *Task) Execute(ctx context.Context, tc *task.Context) (Result, error) {
	return task.Execute[Result](ctx, tc, Query, t.BuildQueryParameters())
}

// NextTask implements task.Task.
func (t *Task) NextTask(tc *task.Context, result Result) (Spec, bool) {
	if result.Organization == nil || !result.Organization.Repositories.PageInfo.HasNextPage {
		return Spec{}, false
	}
	tc.Logger.Debug().Str("task_id", t.ID()).Msg("Next page available")

	next := t.spec
	next.Meta = task.ContinuationOf(t.spec.Meta, t.spec.StartCursor)
	next.StartCursor = result.Organization.Repositories.PageInfo.EndCursor
	return next, true
}

// NarrowedDownTasks implements task.Task. The single child asks for half the
// page size from the same cursor.
func (t *Task) NarrowedDownTasks(tc *task.Context) []Spec {
	if t.spec.PageSize < 2 {
		tc.Logger.Debug().Str("task_id", t.ID()).Msg("Page size cannot be halved any further")
		return nil
	}

	child := t.spec
	child.Meta = task.ChildOf(t.spec.Meta)
	child.PageSize = t.spec.PageSize / 2
	return []Spec{child}
}

// SaveOutput implements task.Task. One record is written per page: the
// organization with its null repository entries removed.
func (t *Task) SaveOutput(tc *task.Context, result Result) {
	if result.Organization == nil {
		tc.Logger.Debug().Str("task_id", t.ID()).Str("org", t.spec.OrgName).Msg("Organization not found")
		return
	}

	org := *result.Organization
	nodes := make([]*Repository, 0, len(org.Repositories.Nodes))
	for _, n := range org.Repositories.Nodes {
		if n != nil {
			nodes = append(nodes, n)
		}
	}
	org.Repositories.Nodes = nodes

	tc.Output.Append(output.Record{SourceSpecID: t.ID(), Result: &org})
	tc.Logger.Debug().
		Str("task_id", t.ID()).
		Int("repositories", len(nodes)).
		Msg("Saved output")
}

// ShouldRecordAsError implements task.Task. Partial responses are tolerated.
func (t *Task) ShouldRecordAsError(err error) bool {
	return task.RecordUnlessPartial(err)
}
