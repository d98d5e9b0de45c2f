package harvest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/search-harvester/internal/testutil"
	"github.com/Sternrassler/search-harvester/pkg/output"
	"github.com/Sternrassler/search-harvester/pkg/period"
	"github.com/Sternrassler/search-harvester/pkg/process"
	"github.com/Sternrassler/search-harvester/pkg/queue"
	"github.com/Sternrassler/search-harvester/pkg/search/repository"
	"github.com/Sternrassler/search-harvester/pkg/task"
	"github.com/rs/zerolog"
)

const onePage = `{
  "rateLimit": {"limit": 5000, "remaining": 4000, "resetAt": "2023-01-10T01:00:00Z"},
  "search": {
    "pageInfo": {"hasNextPage": false},
    "repositoryCount": 1,
    "nodes": [{"nameWithOwner": "venus/probe"}]
  }
}`

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Queue.Concurrency = 1
	opts.Queue.PerTaskTimeout = 5 * time.Second
	opts.Queue.ReportPeriod = 0
	opts.StateSavePeriod = 0
	return opts
}

// newRunner seeds two specs: 2023-01-01..05 and 2023-01-06..10.
func newRunner(t *testing.T, dataDir string, transport task.Transport, c *clock) *Runner[repository.Result, repository.Spec] {
	t.Helper()

	cfg := repository.DefaultConfig()
	cfg.ExcludeRepositoriesCreatedBefore = "2023-01-01"
	cfg.MinAgeInDays = 0
	cfg.SearchPeriodInDays = 5

	cmd := repository.NewCommand(cfg, c.Now)
	r := New[repository.Result, repository.Spec]("repository-search", dataDir, cmd, transport, testOptions(), zerolog.Nop())
	r.SetClock(c.Now)
	return r
}

func TestRunner_NewRunCompletes(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "repository-search")
	c := &clock{now: time.Date(2023, 1, 10, 12, 0, 0, 0, time.UTC)}

	res, err := newRunner(t, dataDir, testutil.StaticTransport(onePage, nil), c).Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if res.Resumed {
		t.Error("Resumed = true for a new run")
	}
	if !res.Complete {
		t.Error("Complete = false")
	}
	if res.Counts != (queue.Counts{Resolved: 2}) {
		t.Errorf("Counts = %+v", res.Counts)
	}
	if filepath.Base(res.Directory) != "2023-01-10-12-00-00" {
		t.Errorf("Directory = %s", res.Directory)
	}

	records, err := output.ReadFile(res.OutputFile)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || res.Records != 2 {
		t.Errorf("records = %d (reported %d), want 2", len(records), res.Records)
	}

	st, err := process.ReadState[repository.Spec](res.Directory)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Complete() || st.CompletionError != nil {
		t.Errorf("header = %+v", st.Header)
	}
	if len(st.OutputFileNames) != 1 || st.OutputFileNames[0] != filepath.Base(res.OutputFile) {
		t.Errorf("OutputFileNames = %v", st.OutputFileNames)
	}

	complete, err := LatestComplete(dataDir)
	if err != nil || !complete {
		t.Errorf("LatestComplete() = %v, %v; want true", complete, err)
	}
}

func TestRunner_CompletedRunStartsNewRun(t *testing.T) {
	dataDir := t.TempDir()
	c := &clock{now: time.Date(2023, 1, 10, 12, 0, 0, 0, time.UTC)}
	runner := newRunner(t, dataDir, testutil.StaticTransport(onePage, nil), c)

	first, err := runner.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	c.now = c.now.Add(time.Hour)
	second, err := runner.Execute(context.Background())
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if second.Directory == first.Directory || second.Resumed {
		t.Errorf("second run reused %s (resumed %v)", second.Directory, second.Resumed)
	}
}

func TestRunner_HaltedRunIsResumed(t *testing.T) {
	dataDir := t.TempDir()
	c := &clock{now: time.Date(2023, 1, 10, 12, 0, 0, 0, time.UTC)}

	var limited atomic.Bool
	limited.Store(true)
	transport := testutil.NewFakeTransport(func(testutil.Call) testutil.Reply {
		if limited.Load() {
			return testutil.Reply{Err: task.ErrPrimaryRateLimit}
		}
		return testutil.Reply{Data: onePage}
	})
	runner := newRunner(t, dataDir, transport, c)

	halted, err := runner.Execute(context.Background())
	if !errors.Is(err, queue.ErrRateLimitReached) {
		t.Fatalf("Execute() error = %v, want ErrRateLimitReached", err)
	}
	if halted.Complete || halted.Counts.Unresolved != 2 {
		t.Errorf("halted result = %+v", halted)
	}

	sum, err := LatestSummary(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Header.Complete() || sum.Header.CompletionError == nil {
		t.Errorf("halted header = %+v", sum.Header)
	}
	if complete, _ := LatestComplete(dataDir); complete {
		t.Error("LatestComplete() = true after a halt")
	}

	limited.Store(false)
	c.now = c.now.Add(2 * time.Hour)
	resumed, err := runner.Execute(context.Background())
	if err != nil {
		t.Fatalf("resumed Execute() error = %v", err)
	}
	if !resumed.Resumed || resumed.Directory != halted.Directory {
		t.Errorf("resumed = %+v, want resume of %s", resumed, halted.Directory)
	}
	if !resumed.Complete || resumed.Counts != (queue.Counts{Resolved: 2}) {
		t.Errorf("resumed result = %+v", resumed)
	}

	st, err := process.ReadState[repository.Spec](resumed.Directory)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.OutputFileNames) != 2 {
		t.Errorf("OutputFileNames = %v, want one per execution", st.OutputFileNames)
	}
	if st.CompletionError != nil {
		t.Errorf("CompletionError = %q after completion", *st.CompletionError)
	}
}

func TestRunner_ResumeReseedsErrored(t *testing.T) {
	dataDir := t.TempDir()
	c := &clock{now: time.Date(2023, 1, 10, 12, 0, 0, 0, time.UTC)}

	// An incomplete run whose only spec failed once before.
	dir, err := process.NewFileHelper(dataDir).CreateProcessStateDirectory(c.now)
	if err != nil {
		t.Fatal(err)
	}
	spec := repository.Spec{
		Meta:          task.RootMeta(),
		PageSize:      100,
		CreatedAfter:  period.MustParseDate("2023-01-01"),
		CreatedBefore: period.MustParseDate("2023-01-01"),
	}
	st := process.NewState[repository.Spec](c.now)
	st.Errored[spec.ID] = queue.ErroredTask[repository.Spec]{Task: spec, ErrorMessage: "timeout", RetryCount: 1}
	if err := process.WriteState(dir, st); err != nil {
		t.Fatal(err)
	}

	c.now = c.now.Add(time.Hour)
	res, err := newRunner(t, dataDir, testutil.StaticTransport(onePage, nil), c).Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Resumed || res.Counts != (queue.Counts{Resolved: 1}) {
		t.Errorf("result = %+v", res)
	}
}

func TestRunner_SeedErrorCreatesNoDirectory(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "repository-search")
	c := &clock{now: time.Date(2023, 1, 10, 12, 0, 0, 0, time.UTC)}

	cfg := repository.DefaultConfig()
	cfg.PageSize = 0
	cmd := repository.NewCommand(cfg, c.Now)
	runner := New[repository.Result, repository.Spec]("repository-search", dataDir, cmd, testutil.StaticTransport(onePage, nil), testOptions(), zerolog.Nop())

	if _, err := runner.Execute(context.Background()); err == nil {
		t.Fatal("Execute() with an invalid config should fail")
	}
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Errorf("data directory exists after a seed error: %v", err)
	}
}

func TestRunner_SavesStatePeriodically(t *testing.T) {
	dataDir := t.TempDir()
	c := &clock{now: time.Date(2023, 1, 10, 12, 0, 0, 0, time.UTC)}

	// The first task resolves at once, the second blocks until released.
	release := make(chan struct{})
	var calls atomic.Int32
	transport := task.TransportFunc(func(ctx context.Context, query string, variables map[string]any, out any) error {
		if calls.Add(1) > 1 {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return testutil.StaticTransport(onePage, nil).Query(ctx, query, variables, out)
	})
	runner := newRunner(t, dataDir, transport, c)
	runner.opts.StateSavePeriod = 10 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := runner.Execute(context.Background())
		done <- err
	}()

	deadline := time.After(5 * time.Second)
	for {
		sum, err := LatestSummary(dataDir)
		if err == nil && sum.Counts == (queue.Counts{Unresolved: 1, Resolved: 1}) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("intermediate state never written: %+v, %v", sum, err)
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestLatestComplete_EmptyDataDir(t *testing.T) {
	complete, err := LatestComplete(filepath.Join(t.TempDir(), "missing"))
	if err != nil || complete {
		t.Errorf("LatestComplete() = %v, %v; want false, nil", complete, err)
	}
}
