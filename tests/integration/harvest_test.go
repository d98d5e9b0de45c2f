//go:build integration

// Package integration runs search commands end to end against a mock GraphQL
// server, with Redis holding the shared rate limit state and response cache.
package integration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/search-harvester/internal/testutil"
	"github.com/Sternrassler/search-harvester/pkg/graphql"
	"github.com/Sternrassler/search-harvester/pkg/harvest"
	"github.com/Sternrassler/search-harvester/pkg/output"
	"github.com/Sternrassler/search-harvester/pkg/queue"
	"github.com/Sternrassler/search-harvester/pkg/search/repository"
	"github.com/Sternrassler/search-harvester/pkg/search/usercount"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newClient(t *testing.T, redisClient *redis.Client, mock *testutil.MockGraphQL) *graphql.Client {
	t.Helper()

	cfg := graphql.DefaultConfig(redisClient, "integration-token")
	cfg.Endpoint = mock.URL()
	cfg.CacheTTL = time.Hour
	cfg.Retry = graphql.RetryConfig{MaxAttempts: 1}

	client, err := graphql.New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	client.RateLimiter().SetThrottleDelay(0)
	return client
}

func runOptions() harvest.Options {
	opts := harvest.DefaultOptions()
	opts.Queue.Concurrency = 2
	opts.Queue.PerTaskTimeout = 10 * time.Second
	opts.Queue.RetryCount = 0
	opts.Queue.ReportPeriod = 0
	opts.StateSavePeriod = 0
	return opts
}

// steppingClock advances one minute per call so every execution gets its
// own output file name.
func steppingClock(start time.Time) func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return start.Add(time.Duration(n.Add(1)) * time.Minute)
	}
}

// repositoryPage answers single-day windows with two pages of one node each
// and fails every wider window like an upstream timeout.
func repositoryPage(req testutil.GraphQLRequest) testutil.MockResponse {
	search, _ := req.Variables["searchString"].(string)
	window := search[strings.LastIndex(search, "created:")+len("created:"):]
	from, to, _ := strings.Cut(window, "..")
	if from != to {
		return testutil.NewServerErrorResponse()
	}

	hasNext, cursor := true, `"c1"`
	if req.Variables["after"] != nil {
		hasNext, cursor = false, "null"
	}
	data := fmt.Sprintf(`{
  "rateLimit": {"limit": 5000, "remaining": 4000, "resetAt": "2030-01-01T00:00:00Z"},
  "search": {
    "pageInfo": {"hasNextPage": %t, "endCursor": %s},
    "repositoryCount": 2,
    "nodes": [{"nameWithOwner": "octo/%s-%t"}]
  }
}`, hasNext, cursor, from, hasNext)
	return testutil.NewDataResponse(data, 4000)
}

func TestRepositorySearch_NarrowsAndPaginates(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	mock := testutil.NewMockGraphQL()
	defer mock.Close()
	mock.SetResponder(repositoryPage)

	cfg := repository.DefaultConfig()
	cfg.ExcludeRepositoriesCreatedBefore = "2023-01-01"
	cfg.MinAgeInDays = 0
	cfg.SearchPeriodInDays = 4
	now := func() time.Time { return time.Date(2023, 1, 4, 12, 0, 0, 0, time.UTC) }

	runner := harvest.New[repository.Result, repository.Spec]("repository-search", t.TempDir(),
		repository.NewCommand(cfg, now), newClient(t, redisClient, mock), runOptions(), zerolog.Nop())

	res, err := runner.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !res.Complete {
		t.Error("run should be complete")
	}
	// 01-01..04 is split into two halves and then into four single days.
	if res.Counts.Archived != 3 {
		t.Errorf("archived = %d, want 3", res.Counts.Archived)
	}
	// Four days with two pages each.
	if res.Counts.Resolved != 8 {
		t.Errorf("resolved = %d, want 8", res.Counts.Resolved)
	}
	if res.Records != 8 {
		t.Errorf("records = %d, want 8", res.Records)
	}

	records, err := output.ReadFile(res.OutputFile)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	seen := make(map[string]bool)
	for _, r := range records {
		seen[string(r.Result)] = true
	}
	if len(seen) != 8 {
		t.Errorf("distinct records = %d, want 8", len(seen))
	}
}

func TestUserCountSearch_HaltShareAndResume(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	mock := testutil.NewMockGraphQL()
	defer mock.Close()
	mock.SetResponse(testutil.NewPrimaryRateLimitResponse())

	dir := t.TempDir()
	locations := filepath.Join(dir, "locations.json")
	if err := os.WriteFile(locations, []byte(`{"berlin":{"text":"Berlin","parent":null,"alternatives":["Berlin"]}}`), 0o644); err != nil {
		t.Fatalf("write locations: %v", err)
	}
	cfg := usercount.DefaultConfig()
	cfg.LocationsFile = locations
	dataDir := filepath.Join(dir, "data")
	clock := steppingClock(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))

	execute := func() (harvest.Result, error) {
		runner := harvest.New[usercount.Result, usercount.Spec]("user-count-search", dataDir,
			usercount.NewCommand(cfg), newClient(t, redisClient, mock), runOptions(), zerolog.Nop())
		runner.SetClock(clock)
		return runner.Execute(context.Background())
	}

	// The remote limit halts the first run.
	res, err := execute()
	if !errors.Is(err, queue.ErrRateLimitReached) {
		t.Fatalf("first run error = %v, want ErrRateLimitReached", err)
	}
	if res.Complete || res.Counts.Unresolved != 1 {
		t.Errorf("first run = %+v, want one unresolved spec", res)
	}

	// A fresh client sees the exhausted quota through Redis and does not
	// spend a request.
	if _, err := execute(); !errors.Is(err, queue.ErrRateLimitReached) {
		t.Fatalf("second run error = %v, want ErrRateLimitReached", err)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("requests after second run = %d, want 1", got)
	}

	// Once the quota is reset the run resumes in the same directory.
	if err := redisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("FlushDB() error = %v", err)
	}
	mock.SetResponse(testutil.NewDataResponse(
		`{"rateLimit":{"limit":5000,"remaining":4999,"resetAt":"2030-01-01T00:00:00Z"},"search":{"userCount":7}}`, 4999))

	res, err = execute()
	if err != nil {
		t.Fatalf("third run error = %v", err)
	}
	if !res.Resumed || !res.Complete || res.Records != 1 {
		t.Errorf("third run = %+v, want resumed and complete with one record", res)
	}

	complete, err := harvest.LatestComplete(dataDir)
	if err != nil || !complete {
		t.Errorf("LatestComplete() = %v, %v", complete, err)
	}

	sum, err := harvest.LatestSummary(dataDir)
	if err != nil {
		t.Fatalf("LatestSummary() error = %v", err)
	}
	if len(sum.Header.OutputFileNames) != 3 {
		t.Errorf("output files = %v, want one per execution", sum.Header.OutputFileNames)
	}
}
