package queue

import (
	"sort"

	"github.com/Sternrassler/search-harvester/pkg/task"
	"github.com/rs/zerolog"
)

// ResolvedTask is a spec that completed. NonCriticalError holds the message
// of a tolerated partial response.
type ResolvedTask[S task.Spec] struct {
	Task             S       `json:"task"`
	NonCriticalError *string `json:"nonCriticalError,omitempty"`
}

// ErroredTask is a spec that failed RetryCount times.
//
// A spec that is also unresolved is still being retried. One that is not
// unresolved was abandoned after exhausting its retries with nothing to
// narrow into.
type ErroredTask[S task.Spec] struct {
	Task         S      `json:"task"`
	ErrorMessage string `json:"errorMessage"`
	RetryCount   int    `json:"retryCount"`
}

// Store holds the lifecycle pools of a run. While a Queue runs, the store
// must only be accessed through the queue.
type Store[S task.Spec] struct {
	Unresolved map[string]S               `json:"unresolved"`
	Resolved   map[string]ResolvedTask[S] `json:"resolved"`
	Errored    map[string]ErroredTask[S]  `json:"errored"`
	Archived   map[string]S               `json:"archived"`
}

// NewStore returns a store with empty pools.
func NewStore[S task.Spec]() *Store[S] {
	s := &Store[S]{}
	s.ensure()
	return s
}

// ensure allocates missing pools, e.g. after decoding a state file written
// with null pools.
func (s *Store[S]) ensure() {
	if s.Unresolved == nil {
		s.Unresolved = map[string]S{}
	}
	if s.Resolved == nil {
		s.Resolved = map[string]ResolvedTask[S]{}
	}
	if s.Errored == nil {
		s.Errored = map[string]ErroredTask[S]{}
	}
	if s.Archived == nil {
		s.Archived = map[string]S{}
	}
}

// AddUnresolved adds specs to the unresolved pool.
func (s *Store[S]) AddUnresolved(specs ...S) {
	s.ensure()
	for _, spec := range specs {
		s.Unresolved[spec.Lineage().ID] = spec
	}
}

// UnresolvedIDs returns the unresolved ids in sorted order.
func (s *Store[S]) UnresolvedIDs() []string {
	ids := make([]string, 0, len(s.Unresolved))
	for id := range s.Unresolved {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the size of every pool.
func (s *Store[S]) Counts() Counts {
	return Counts{
		Unresolved: len(s.Unresolved),
		Resolved:   len(s.Resolved),
		Errored:    len(s.Errored),
		Archived:   len(s.Archived),
	}
}

// Counts is a summary of the pool sizes.
type Counts struct {
	Unresolved int `json:"unresolved" yaml:"unresolved"`
	Resolved   int `json:"resolved" yaml:"resolved"`
	Errored    int `json:"errored" yaml:"errored"`
	Archived   int `json:"archived" yaml:"archived"`
}

// AddErroredToUnresolved re-seeds errored specs whose retry count is below
// retryCount into the unresolved pool. The errored entries are kept so the
// retry count carries over. Returns the number of specs re-seeded.
func AddErroredToUnresolved[S task.Spec](logger zerolog.Logger, store *Store[S], retryCount int) int {
	store.ensure()

	added := 0
	for id, entry := range store.Errored {
		if entry.RetryCount >= retryCount {
			continue
		}
		if _, ok := store.Unresolved[id]; ok {
			continue
		}
		store.Unresolved[id] = entry.Task
		added++
		logger.Debug().
			Str("task_id", id).
			Int("retry_count", entry.RetryCount).
			Msg("Re-seeding errored task")
	}

	if added > 0 {
		logger.Info().Int("count", added).Msg("Added errored tasks to unresolved")
	}
	return added
}
