// Package user implements the dual-axis search family: users of a location
// scoped by a sign-up interval, together with their contributions within a
// second, independent interval.
//
// Narrowing splits both intervals. Four children cover the cross product
// when both axes can be split, two when only one can. When neither can, a
// single child with half the page size is produced.
package user

import (
	"context"
	"fmt"

	"github.com/Sternrassler/search-harvester/pkg/period"
	"github.com/Sternrassler/search-harvester/pkg/task"
)

// contribTimeLayout is the timestamp form of the contribution window.
const contribTimeLayout = "2006-01-02T15:04:05-07:00"

// Spec describes one page of a user search.
type Spec struct {
	task.Meta

	Location        string      `json:"location"`
	SignedUpAfter   period.Date `json:"signedUpAfter"`
	SignedUpBefore  period.Date `json:"signedUpBefore"`
	MinRepositories int         `json:"minRepositories"`
	MinFollowers    int         `json:"minFollowers"`
	ContribFromDate period.Date `json:"contribFromDate"`
	ContribToDate   period.Date `json:"contribToDate"`
	PageSize        int         `json:"pageSize"`
	StartCursor     *string     `json:"startCursor"`
}

// SignUp returns the sign-up interval.
func (s Spec) SignUp() period.Range {
	return period.Range{From: s.SignedUpAfter, To: s.SignedUpBefore}
}

// Contrib returns the contribution interval.
func (s Spec) Contrib() period.Range {
	return period.Range{From: s.ContribFromDate, To: s.ContribToDate}
}

// Count is a connection total.
type Count struct {
	TotalCount int `json:"totalCount"`
}

// RepositoryID identifies a repository a user contributed to.
type RepositoryID struct {
	NameWithOwner    string `json:"nameWithOwner"`
	IsInOrganization bool   `json:"isInOrganization"`
	Owner            struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// RepositoryContributions are the contributions of a user to one repository.
type RepositoryContributions struct {
	Contributions Count        `json:"contributions"`
	Repository    RepositoryID `json:"repository"`
}

// SocialAccount is a linked account of a user.
type SocialAccount struct {
	DisplayName string `json:"displayName"`
	Provider    string `json:"provider"`
	URL         string `json:"url"`
}

// ContributionsCollection summarizes the contributions within the window.
type ContributionsCollection struct {
	StartedAt                                          string                    `json:"startedAt"`
	EndedAt                                            string                    `json:"endedAt"`
	TotalIssueContributions                            int                       `json:"totalIssueContributions"`
	TotalCommitContributions                           int                       `json:"totalCommitContributions"`
	TotalPullRequestContributions                      int                       `json:"totalPullRequestContributions"`
	TotalPullRequestReviewContributions                int                       `json:"totalPullRequestReviewContributions"`
	TotalRepositoriesWithContributedIssues             int                       `json:"totalRepositoriesWithContributedIssues"`
	TotalRepositoriesWithContributedCommits            int                       `json:"totalRepositoriesWithContributedCommits"`
	TotalRepositoriesWithContributedPullRequests       int                       `json:"totalRepositoriesWithContributedPullRequests"`
	TotalRepositoriesWithContributedPullRequestReviews int                       `json:"totalRepositoriesWithContributedPullRequestReviews"`
	IssueContributionsByRepository                     []RepositoryContributions `json:"issueContributionsByRepository"`
	CommitContributionsByRepository                    []RepositoryContributions `json:"commitContributionsByRepository"`
	PullRequestContributionsByRepository               []RepositoryContributions `json:"pullRequestContributionsByRepository"`
	PullRequestReviewContributionsByRepository         []RepositoryContributions `json:"pullRequestReviewContributionsByRepository"`
}

// Profile is one user of a result page.
type Profile struct {
	Login                        string  `json:"login"`
	Company                      *string `json:"company"`
	Name                         *string `json:"name"`
	CreatedAt                    string  `json:"createdAt"`
	Email                        string  `json:"email"`
	Location                     *string `json:"location"`
	TwitterUsername              *string `json:"twitterUsername"`
	WebsiteURL                   *string `json:"websiteUrl"`
	Followers                    Count   `json:"followers"`
	Gists                        Count   `json:"gists"`
	IssueComments                Count   `json:"issueComments"`
	Issues                       Count   `json:"issues"`
	PullRequests                 Count   `json:"pullRequests"`
	Repositories                 Count   `json:"repositories"`
	RepositoriesContributedTo    Count   `json:"repositoriesContributedTo"`
	RepositoryDiscussionComments Count   `json:"repositoryDiscussionComments"`
	RepositoryDiscussions        Count   `json:"repositoryDiscussions"`
	SocialAccounts               struct {
		Edges []struct {
			Node SocialAccount `json:"node"`
		} `json:"edges"`
	} `json:"socialAccounts"`
	Sponsoring              Count                   `json:"sponsoring"`
	Sponsors                Count                   `json:"sponsors"`
	ContributionsCollection ContributionsCollection `json:"contributionsCollection"`
}

// Result is one page of user search results.
type Result struct {
	task.RateLimitResponse
	Search struct {
		PageInfo  task.PageInfo `json:"pageInfo"`
		UserCount int           `json:"userCount"`
		Nodes     []*Profile    `json:"nodes"`
	} `json:"search"`
}

// Task executes a user search spec.
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
// sign-up interval are inclusive.
func (t *Task) SearchString() string {
	return fmt.Sprintf("location:%s followers:>=%d repos:>=%d created:%s",
		t.spec.Location, t.spec.MinFollowers, t.spec.MinRepositories, t.spec.SignUp())
}

// BuildQueryParameters implements task.Task. The contribution window runs
// from the start of its first day to the end of its last day.
func (t *Task) BuildQueryParameters() map[string]any {
	return map[string]any{
		"searchString": t.SearchString(),
		"first":        t.spec.PageSize,
		"after":        task.CursorVariable(t.spec.StartCursor),
		"contribFrom":  t.spec.ContribFromDate.StartOfDay().Format(contribTimeLayout),
		"contribTo":    t.spec.ContribToDate.EndOfDay().Format(contribTimeLayout),
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
// Continuations copy both intervals of their originating spec, so with a
// start cursor the split below covers the originating scope again.
func (t *Task) NarrowedDownTasks(tc *task.Context) []Spec {
	logger := tc.Logger.With().Str("task_id", t.ID()).Logger()

	if t.spec.StartCursor != nil {
		logger.Debug().
			Str("originating_task_id", task.Deref(t.spec.OriginatingTaskID)).
			Msg("Spec has a start cursor, narrowing the originating intervals")
	}

	signUpParts := splitOrKeep(t.spec.SignUp())
	contribParts := splitOrKeep(t.spec.Contrib())

	if len(signUpParts)*len(contribParts) <= 1 {
		if t.spec.PageSize < 2 {
			logger.Debug().Int("page_size", t.spec.PageSize).Msg("Spec cannot be narrowed down any further")
			return nil
		}
		logger.Debug().Int("page_size", t.spec.PageSize/2).Msg("Intervals cannot be split, halving the page size")

		child := t.spec
		child.Meta = task.ChildOf(t.spec.Meta)
		child.PageSize = t.spec.PageSize / 2
		child.StartCursor = nil
		return []Spec{child}
	}

	children := make([]Spec, 0, len(signUpParts)*len(contribParts))
	for _, signUp := range signUpParts {
		for _, contrib := range contribParts {
			child := t.spec
			child.Meta = task.ChildOf(t.spec.Meta)
			child.SignedUpAfter, child.SignedUpBefore = signUp.From, signUp.To
			child.ContribFromDate, child.ContribToDate = contrib.From, contrib.To
			child.StartCursor = nil
			children = append(children, child)
		}
	}
	return children
}

func splitOrKeep(r period.Range) []period.Range {
	if halves := r.Halves(); halves != nil {
		return halves
	}
	return []period.Range{r}
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
