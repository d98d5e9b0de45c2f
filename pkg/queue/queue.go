// Package queue runs work items concurrently and owns their lifecycle.
//
// Every spec starts in the unresolved pool. A successful execution moves it
// to resolved and may enqueue the next page. A failure is retried up to the
// retry bound; after that the spec is archived and replaced by its narrowed
// children, or moved to errored when it cannot be narrowed.
//
// Two failures stop the whole run instead of failing one item:
//
//   - a primary rate limit (quota below the stop threshold) halts dispatch.
//     In-flight tasks finish; everything else stays unresolved.
//   - a secondary rate limit aborts the run. In-flight tasks are cancelled
//     and stay unresolved.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/task"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Run outcomes other than normal completion.
var (
	// ErrRateLimitReached is returned when dispatch halted on the primary
	// rate limit.
	ErrRateLimitReached = errors.New("rate limit reached, dispatch halted")

	// ErrAborted is returned when the run was aborted on the secondary rate
	// limit.
	ErrAborted = errors.New("run aborted")

	// ErrMaxRunTimeReached is returned when dispatch stopped at MaxRunTime.
	ErrMaxRunTimeReached = errors.New("max run time reached")
)

// Options configure a run.
type Options struct {
	// Concurrency bounds the number of tasks executing at once.
	Concurrency int

	// PerTaskTimeout bounds one execution. Zero disables it.
	PerTaskTimeout time.Duration

	// Interval and IntervalCap shape dispatch: at most IntervalCap tasks
	// start per Interval, spaced Interval/IntervalCap apart. A zero Interval
	// disables shaping.
	Interval    time.Duration
	IntervalCap int

	// RetryCount is the number of retries after the first failed attempt.
	RetryCount int

	// ReportPeriod is the progress log period. Zero disables reports.
	ReportPeriod time.Duration

	// MaxRunTime stops dispatching after this long. Zero means no limit.
	MaxRunTime time.Duration
}

// DefaultOptions returns the default run options.
func DefaultOptions() Options {
	return Options{
		Concurrency:    6,
		PerTaskTimeout: 30 * time.Second,
		Interval:       0,
		IntervalCap:    4,
		RetryCount:     3,
		ReportPeriod:   time.Minute,
	}
}

// Stats is a snapshot of a running queue.
type Stats struct {
	Counts
	Pending  int
	InFlight int
}

// Queue dispatches the specs of a store.
type Queue[R task.Result, S task.Spec] struct {
	store   *Store[S]
	command task.Command[R, S]
	tc      *task.Context
	opts    Options
	logger  zerolog.Logger

	mu       sync.Mutex
	pending  []S
	inFlight int
	halted   bool
	aborted  bool
	wake     chan struct{}
}

// New returns a queue over store. The store's unresolved specs are
// dispatched in id order when Run starts.
func New[R task.Result, S task.Spec](store *Store[S], command task.Command[R, S], tc *task.Context, opts Options) *Queue[R, S] {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.IntervalCap <= 0 {
		opts.IntervalCap = 1
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}
	store.ensure()

	return &Queue[R, S]{
		store:   store,
		command: command,
		tc:      tc,
		opts:    opts,
		logger:  tc.Logger.With().Str("component", "queue").Logger(),
		wake:    make(chan struct{}, 1),
	}
}

// Run dispatches until no unresolved work is left, dispatch halts or the run
// is aborted. It returns nil only when every reachable spec was settled.
func (q *Queue[R, S]) Run(ctx context.Context) error {
	q.mu.Lock()
	q.pending = q.pending[:0]
	for _, id := range q.store.UnresolvedIDs() {
		q.pending = append(q.pending, q.store.Unresolved[id])
	}
	q.halted, q.aborted = false, false
	q.mu.Unlock()

	start := time.Now()
	q.logger.Info().
		Int("unresolved", len(q.pending)).
		Int("concurrency", q.opts.Concurrency).
		Int("retry_count", q.opts.RetryCount).
		Msg("Starting task queue")

	g, gctx := errgroup.WithContext(ctx)

	dispatchCtx := gctx
	if q.opts.MaxRunTime > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(gctx, q.opts.MaxRunTime)
		defer cancel()
	}

	stopReport := q.startReporter()
	defer stopReport()

	q.dispatch(dispatchCtx, gctx, g)
	deadlineHit := errors.Is(dispatchCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil

	err := g.Wait()
	q.updateGauges()

	stats := q.Stats()
	q.logger.Info().
		Int("unresolved", stats.Unresolved).
		Int("resolved", stats.Resolved).
		Int("errored", stats.Errored).
		Int("archived", stats.Archived).
		Dur("duration", time.Since(start)).
		Msg("Task queue finished")

	q.mu.Lock()
	halted := q.halted
	q.mu.Unlock()

	switch {
	case err != nil:
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	case halted:
		return ErrRateLimitReached
	case deadlineHit:
		return ErrMaxRunTimeReached
	}
	return nil
}

// dispatch starts tasks until there is nothing left to start.
func (q *Queue[R, S]) dispatch(dispatchCtx, execCtx context.Context, g *errgroup.Group) {
	sem := semaphore.NewWeighted(int64(q.opts.Concurrency))
	limiter := q.newLimiter()

	for {
		if err := sem.Acquire(dispatchCtx, 1); err != nil {
			return
		}

		spec, ready, done := q.take()
		if done {
			sem.Release(1)
			return
		}
		if !ready {
			sem.Release(1)
			select {
			case <-q.wake:
			case <-dispatchCtx.Done():
				return
			}
			continue
		}

		if err := limiter.Wait(dispatchCtx); err != nil {
			q.putBack(spec)
			sem.Release(1)
			return
		}

		g.Go(func() error {
			defer sem.Release(1)
			defer q.finished()
			return q.process(execCtx, spec)
		})
	}
}

func (q *Queue[R, S]) newLimiter() *rate.Limiter {
	if q.opts.Interval <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	// Burst 1 keeps any Interval-long window at IntervalCap starts.
	every := q.opts.Interval / time.Duration(q.opts.IntervalCap)
	return rate.NewLimiter(rate.Every(every), 1)
}

// take pops the next pending spec. ready is false when the caller has to wait
// for in-flight tasks; done is true when dispatch is over.
func (q *Queue[R, S]) take() (spec S, ready, done bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.halted || q.aborted {
		return spec, false, true
	}
	for len(q.pending) > 0 {
		spec = q.pending[0]
		q.pending = q.pending[1:]
		if _, ok := q.store.Unresolved[spec.Lineage().ID]; !ok {
			continue
		}
		q.inFlight++
		queueInFlight.Set(float64(q.inFlight))
		return spec, true, false
	}
	if q.inFlight == 0 {
		return spec, false, true
	}
	return spec, false, false
}

// putBack returns a taken spec that was never started.
func (q *Queue[R, S]) putBack(spec S) {
	q.mu.Lock()
	q.pending = append([]S{spec}, q.pending...)
	q.inFlight--
	queueInFlight.Set(float64(q.inFlight))
	q.mu.Unlock()
}

func (q *Queue[R, S]) finished() {
	q.mu.Lock()
	q.inFlight--
	queueInFlight.Set(float64(q.inFlight))
	q.mu.Unlock()
	q.signal()
}

func (q *Queue[R, S]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// process executes one spec and settles the outcome. A non-nil return
// aborts the run.
func (q *Queue[R, S]) process(ctx context.Context, spec S) error {
	t := q.command.CreateTask(q.tc, spec)
	logger := q.logger.With().Str("task_id", t.ID()).Logger()

	taskCtx, cancel := ctx, context.CancelFunc(func() {})
	if q.opts.PerTaskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, q.opts.PerTaskTimeout)
	}
	start := time.Now()
	result, err := t.Execute(taskCtx, q.tc)
	cancel()
	taskDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		q.resolve(t, result, nil)
		tasksTotal.WithLabelValues(outcomeResolved).Inc()
		return nil
	}

	if ctx.Err() != nil {
		logger.Debug().Err(err).Msg("Run cancelled, task stays unresolved")
		tasksTotal.WithLabelValues(outcomeCancelled).Inc()
		return nil
	}

	switch {
	case errors.Is(err, task.ErrSecondaryRateLimit):
		q.mu.Lock()
		q.aborted = true
		q.mu.Unlock()
		tasksTotal.WithLabelValues(outcomeAborted).Inc()
		logger.Error().Err(err).Msg("Secondary rate limit reached, aborting run")
		return fmt.Errorf("%w: %w", ErrAborted, err)

	case errors.Is(err, task.ErrPrimaryRateLimit):
		q.halt("primary rate limit error")
		tasksTotal.WithLabelValues(outcomeRateLimit).Inc()
		logger.Warn().Err(err).Msg("Primary rate limit reached, task stays unresolved")
		return nil

	case !t.ShouldRecordAsError(err):
		logger.Warn().Err(err).Msg("Partial response, resolving with a non-critical error")
		q.resolve(t, result, err)
		tasksTotal.WithLabelValues(outcomePartial).Inc()
		return nil
	}

	q.fail(t, err, logger)
	return nil
}

// resolve records a completed task, saves its output and enqueues its next
// page. A quota below the stop threshold halts dispatch afterwards.
func (q *Queue[R, S]) resolve(t task.Task[R, S], result R, nonCritical error) {
	t.SaveOutput(q.tc, result)
	next, hasNext := t.NextTask(q.tc, result)

	entry := ResolvedTask[S]{Task: t.Spec()}
	if nonCritical != nil {
		msg := nonCritical.Error()
		entry.NonCriticalError = &msg
	}

	q.mu.Lock()
	delete(q.store.Unresolved, t.ID())
	delete(q.store.Errored, t.ID())
	q.store.Resolved[t.ID()] = entry
	if hasNext {
		q.store.Unresolved[next.Lineage().ID] = next
		q.pending = append(q.pending, next)
	}
	q.mu.Unlock()

	if rl := result.GetRateLimit(); rl.Below(q.tc.RateLimitStopPercent) {
		q.logger.Warn().
			Int("remaining", rl.Remaining).
			Int("limit", rl.Limit).
			Time("reset_at", rl.ResetAt).
			Int("stop_percent", q.tc.RateLimitStopPercent).
			Msg("Remaining quota below threshold")
		q.halt("quota below threshold")
	}
	q.signal()
}

// fail counts a failed attempt. Below the retry bound the spec is queued
// again; past it the spec is narrowed or abandoned.
func (q *Queue[R, S]) fail(t task.Task[R, S], err error, logger zerolog.Logger) {
	id := t.ID()
	spec := t.Spec()

	q.mu.Lock()
	count := q.store.Errored[id].RetryCount + 1
	if count <= q.opts.RetryCount {
		q.store.Errored[id] = ErroredTask[S]{Task: spec, ErrorMessage: err.Error(), RetryCount: count}
		q.pending = append(q.pending, spec)
		q.mu.Unlock()

		tasksTotal.WithLabelValues(outcomeRetried).Inc()
		logger.Warn().Err(err).Int("attempt", count).Int("retry_count", q.opts.RetryCount).Msg("Task failed, retrying")
		q.signal()
		return
	}
	q.mu.Unlock()

	children := t.NarrowedDownTasks(q.tc)

	q.mu.Lock()
	delete(q.store.Unresolved, id)
	if len(children) > 0 {
		delete(q.store.Errored, id)
		q.store.Archived[id] = spec
		for _, child := range children {
			q.store.Unresolved[child.Lineage().ID] = child
			q.pending = append(q.pending, child)
		}
	} else {
		q.store.Errored[id] = ErroredTask[S]{Task: spec, ErrorMessage: err.Error(), RetryCount: count}
	}
	q.mu.Unlock()

	if len(children) > 0 {
		tasksTotal.WithLabelValues(outcomeArchived).Inc()
		logger.Warn().Err(err).
			Strs("children", task.IDs(children)).
			Msg("Retries exhausted, archived and narrowed down")
	} else {
		tasksTotal.WithLabelValues(outcomeErrored).Inc()
		logger.Error().Err(err).Msg("Retries exhausted and task cannot be narrowed down")
	}
	q.signal()
}

func (q *Queue[R, S]) halt(reason string) {
	q.mu.Lock()
	already := q.halted
	q.halted = true
	q.mu.Unlock()
	if !already {
		q.logger.Warn().Str("reason", reason).Msg("Halting dispatch, remaining tasks stay unresolved")
	}
	q.signal()
}

// Stats returns a snapshot of the queue.
func (q *Queue[R, S]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Counts:   q.store.Counts(),
		Pending:  len(q.pending),
		InFlight: q.inFlight,
	}
}

// WithStore calls fn with the store while no task can modify it.
func (q *Queue[R, S]) WithStore(fn func(store *Store[S])) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn(q.store)
}

func (q *Queue[R, S]) updateGauges() {
	q.mu.Lock()
	defer q.mu.Unlock()
	queueUnresolved.Set(float64(len(q.store.Unresolved)))
	queueInFlight.Set(float64(q.inFlight))
}

// startReporter logs progress every ReportPeriod until the returned func is
// called.
func (q *Queue[R, S]) startReporter() func() {
	if q.opts.ReportPeriod <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(q.opts.ReportPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				q.updateGauges()
				stats := q.Stats()
				q.logger.Info().
					Int("unresolved", stats.Unresolved).
					Int("resolved", stats.Resolved).
					Int("errored", stats.Errored).
					Int("archived", stats.Archived).
					Int("pending", stats.Pending).
					Int("in_flight", stats.InFlight).
					Msg("Queue progress")
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}
