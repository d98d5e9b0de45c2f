// Package harvest runs one command against its data directory.
//
// An execution resumes the latest run when it is not complete, otherwise it
// starts a new run seeded by the command. Either way it writes a fresh output
// file, runs the queue and persists the run state periodically and once the
// queue stops.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/output"
	"github.com/Sternrassler/search-harvester/pkg/process"
	"github.com/Sternrassler/search-harvester/pkg/queue"
	"github.com/Sternrassler/search-harvester/pkg/task"
	"github.com/rs/zerolog"
)

// Options configure an execution.
type Options struct {
	Queue queue.Options

	// RateLimitStopPercent is passed to the tasks through their context.
	RateLimitStopPercent int

	// StateSavePeriod is the interval of intermediate state writes. Zero
	// writes the state only at the end.
	StateSavePeriod time.Duration
}

// DefaultOptions returns the default execution options.
func DefaultOptions() Options {
	return Options{
		Queue:                queue.DefaultOptions(),
		RateLimitStopPercent: 10,
		StateSavePeriod:      30 * time.Second,
	}
}

// Result describes a finished execution.
type Result struct {
	Directory  string
	Resumed    bool
	OutputFile string
	Records    int
	Counts     queue.Counts
	Complete   bool
}

// Job is a command bound to its data directory and transport.
type Job interface {
	Execute(ctx context.Context) (Result, error)
}

// Runner executes one command.
type Runner[R task.Result, S task.Spec] struct {
	name      string
	files     *process.FileHelper
	command   task.Command[R, S]
	transport task.Transport
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

// New returns a runner for command storing its runs under dataDir.
func New[R task.Result, S task.Spec](name, dataDir string, command task.Command[R, S], transport task.Transport, opts Options, logger zerolog.Logger) *Runner[R, S] {
	return &Runner[R, S]{
		name:      name,
		files:     process.NewFileHelper(dataDir),
		command:   command,
		transport: transport,
		opts:      opts,
		logger:    logger.With().Str("component", "harvest").Str("command", name).Logger(),
		now:       time.Now,
	}
}

// SetClock replaces the clock used for directory and file names (for testing).
func (r *Runner[R, S]) SetClock(now func() time.Time) {
	r.now = now
}

func (r *Runner[R, S]) taskContext(sink output.Sink) *task.Context {
	return &task.Context{
		Transport:            r.transport,
		RateLimitStopPercent: r.opts.RateLimitStopPercent,
		Logger:               r.logger,
		Output:               sink,
	}
}

// Execute resumes or starts a run and processes it until the queue stops.
// The returned error is the queue's outcome; the state is written either way.
func (r *Runner[R, S]) Execute(ctx context.Context) (Result, error) {
	dir, st, resumed, err := r.open()
	if err != nil {
		return Result{}, err
	}

	if resumed {
		queue.AddErroredToUnresolved(r.logger, &st.Store, r.opts.Queue.RetryCount)
	}

	outPath := r.files.NewOutputFilePath(dir, r.now())
	sink, err := output.CreateFile(outPath)
	if err != nil {
		return Result{}, err
	}
	st.OutputFileNames = append(st.OutputFileNames, filepath.Base(outPath))
	st.CompletionError = nil
	if err := process.WriteState(dir, st); err != nil {
		sink.Close()
		return Result{}, err
	}

	r.logger.Info().
		Str("directory", dir).
		Bool("resumed", resumed).
		Int("unresolved", len(st.Unresolved)).
		Str("output_file", filepath.Base(outPath)).
		Msg("Executing run")

	q := queue.New(&st.Store, r.command, r.taskContext(sink), r.opts.Queue)
	stopSaving := r.savePeriodically(dir, st, q)

	runErr := q.Run(ctx)
	stopSaving()

	closeErr := sink.Close()
	if closeErr != nil {
		r.logger.Error().Err(closeErr).Msg("Failed to write output file")
	}

	counts := st.Counts()
	switch {
	case runErr == nil && closeErr == nil && counts.Unresolved == 0:
		done := r.now().UTC()
		st.CompletionDate = &done
	case runErr != nil:
		msg := runErr.Error()
		st.CompletionError = &msg
	}

	if err := process.WriteState(dir, st); err != nil {
		return Result{}, errors.Join(runErr, err)
	}

	res := Result{
		Directory:  dir,
		Resumed:    resumed,
		OutputFile: outPath,
		Records:    sink.Count(),
		Counts:     counts,
		Complete:   st.Complete(),
	}

	logEvent := r.logger.Info()
	if runErr != nil {
		logEvent = r.logger.Warn().Err(runErr)
	}
	logEvent.
		Bool("complete", res.Complete).
		Int("records", res.Records).
		Int("unresolved", counts.Unresolved).
		Int("resolved", counts.Resolved).
		Int("errored", counts.Errored).
		Int("archived", counts.Archived).
		Msg("Run stopped")

	if runErr != nil {
		return res, runErr
	}
	return res, closeErr
}

// open returns the run to execute: the latest run when it is incomplete,
// otherwise a newly seeded one.
func (r *Runner[R, S]) open() (string, *process.State[S], bool, error) {
	latest, err := r.files.LatestProcessStateDirectory()
	switch {
	case errors.Is(err, process.ErrNoProcessState):
	case err != nil:
		return "", nil, false, err
	default:
		header, err := process.ReadHeader(latest)
		if err != nil {
			return "", nil, false, err
		}
		if !header.Complete() {
			st, err := process.ReadState[S](latest)
			if err != nil {
				return "", nil, false, err
			}
			r.logger.Info().Str("directory", latest).Msg("Resuming incomplete run")
			return latest, st, true, nil
		}
	}

	specs, err := r.command.CreateNewQueueItems(r.taskContext(output.NewBuffer()))
	if err != nil {
		return "", nil, false, fmt.Errorf("create queue items: %w", err)
	}

	now := r.now()
	dir, err := r.files.CreateProcessStateDirectory(now)
	if err != nil {
		return "", nil, false, err
	}
	st := process.NewState[S](now)
	st.AddUnresolved(specs...)

	r.logger.Info().Str("directory", dir).Int("tasks", len(specs)).Msg("Created new run")
	return dir, st, false, nil
}

// savePeriodically writes the state every StateSavePeriod until the returned
// func is called.
func (r *Runner[R, S]) savePeriodically(dir string, st *process.State[S], q *queue.Queue[R, S]) func() {
	if r.opts.StateSavePeriod <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.opts.StateSavePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				q.WithStore(func(*queue.Store[S]) {
					if err := process.WriteState(dir, st); err != nil {
						r.logger.Error().Err(err).Msg("Failed to save intermediate state")
					}
				})
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// LatestSummary returns the summary of the latest run under dataDir.
func LatestSummary(dataDir string) (process.Summary, error) {
	dir, err := process.NewFileHelper(dataDir).LatestProcessStateDirectory()
	if err != nil {
		return process.Summary{}, err
	}
	return process.ReadSummary(dir)
}

// LatestComplete reports whether the latest run under dataDir is complete.
// A data directory without runs is not complete.
func LatestComplete(dataDir string) (bool, error) {
	sum, err := LatestSummary(dataDir)
	if errors.Is(err, process.ErrNoProcessState) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sum.Header.Complete(), nil
}
