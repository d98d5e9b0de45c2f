package process

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/search-harvester/pkg/queue"
	"github.com/Sternrassler/search-harvester/pkg/task"
)

// Header is the run metadata stored alongside the pools.
type Header struct {
	StartDate       time.Time  `json:"startDate" yaml:"startDate"`
	CompletionDate  *time.Time `json:"completionDate" yaml:"completionDate"`
	CompletionError *string    `json:"completionError" yaml:"completionError"`
	OutputFileNames []string   `json:"outputFileNames" yaml:"outputFileNames"`
}

// Complete reports whether the run finished with nothing left unresolved.
func (h Header) Complete() bool {
	return h.CompletionDate != nil
}

// State is the content of a run-state file.
type State[S task.Spec] struct {
	Header
	queue.Store[S]
}

// NewState returns an empty state for a run started at now.
func NewState[S task.Spec](now time.Time) *State[S] {
	return &State[S]{
		Header: Header{StartDate: now.UTC(), OutputFileNames: []string{}},
		Store:  *queue.NewStore[S](),
	}
}

// ReadHeader reads only the metadata of the run-state file in dir.
func ReadHeader(dir string) (Header, error) {
	var h Header
	if err := readJSON(StateFilePath(dir), &h); err != nil {
		return Header{}, err
	}
	return h, nil
}

// ReadState reads the run-state file in dir.
func ReadState[S task.Spec](dir string) (*State[S], error) {
	st := &State[S]{}
	if err := readJSON(StateFilePath(dir), st); err != nil {
		return nil, err
	}
	// null pools in the file decode to nil maps
	fresh := queue.NewStore[S]()
	if st.Unresolved == nil {
		st.Unresolved = fresh.Unresolved
	}
	if st.Resolved == nil {
		st.Resolved = fresh.Resolved
	}
	if st.Errored == nil {
		st.Errored = fresh.Errored
	}
	if st.Archived == nil {
		st.Archived = fresh.Archived
	}
	return st, nil
}

// WriteState writes the run-state file in dir. The file is replaced
// atomically so a crash never leaves a truncated state behind.
func WriteState[S task.Spec](dir string, st *State[S]) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode process state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write process state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write process state: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, StateFileName)); err != nil {
		return fmt.Errorf("failed to replace process state: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read process state: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode process state %s: %w", path, err)
	}
	return nil
}

// Summary is the metadata of a run plus its pool sizes. It is read without
// knowing the spec type of the run.
type Summary struct {
	Directory string       `json:"directory" yaml:"directory"`
	Header    Header       `json:"header" yaml:"header"`
	Counts    queue.Counts `json:"counts" yaml:"counts"`
}

// ReadSummary reads the run-state file in dir into a Summary.
func ReadSummary(dir string) (Summary, error) {
	var raw struct {
		Header
		Unresolved map[string]json.RawMessage `json:"unresolved"`
		Resolved   map[string]json.RawMessage `json:"resolved"`
		Errored    map[string]json.RawMessage `json:"errored"`
		Archived   map[string]json.RawMessage `json:"archived"`
	}
	if err := readJSON(StateFilePath(dir), &raw); err != nil {
		return Summary{}, err
	}
	return Summary{
		Directory: dir,
		Header:    raw.Header,
		Counts: queue.Counts{
			Unresolved: len(raw.Unresolved),
			Resolved:   len(raw.Resolved),
			Errored:    len(raw.Errored),
			Archived:   len(raw.Archived),
		},
	}, nil
}
