// Package process manages run directories.
//
// Every run of a command lives in its own directory under the command's data
// directory, named by its start time:
//
//	<dataDir>/2023-01-02-15-04-05/
//	    state.json
//	    output-2023-01-02-15-04-05.json
//	    output-2023-01-03-09-00-00.json   (one more per resumed execution)
//
// state.json holds the lifecycle pools of the run. Output files are JSON
// lines of output records.
package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DirLayout is the time layout of run directory names and output file
// suffixes.
const DirLayout = "2006-01-02-15-04-05"

// StateFileName is the name of the run-state file in a run directory.
const StateFileName = "state.json"

const (
	outputPrefix = "output-"
	outputSuffix = ".json"
)

// ErrNoProcessState is returned when a data directory holds no run
// directory.
var ErrNoProcessState = errors.New("no process state directory")

// FileHelper locates run directories and their files under one data
// directory.
type FileHelper struct {
	dataDir string
}

// NewFileHelper returns a helper for dataDir.
func NewFileHelper(dataDir string) *FileHelper {
	return &FileHelper{dataDir: dataDir}
}

// DataDir returns the data directory.
func (h *FileHelper) DataDir() string {
	return h.dataDir
}

// LatestProcessStateDirectory returns the path of the most recent run
// directory. Entries whose names are not run timestamps are ignored.
func (h *FileHelper) LatestProcessStateDirectory() (string, error) {
	entries, err := os.ReadDir(h.dataDir)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoProcessState
	}
	if err != nil {
		return "", fmt.Errorf("failed to list data directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(DirLayout, e.Name()); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return "", ErrNoProcessState
	}

	// the layout sorts chronologically
	sort.Strings(names)
	return filepath.Join(h.dataDir, names[len(names)-1]), nil
}

// CreateProcessStateDirectory creates the run directory for a run started
// at now.
func (h *FileHelper) CreateProcessStateDirectory(now time.Time) (string, error) {
	if err := os.MkdirAll(h.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	dir := filepath.Join(h.dataDir, now.UTC().Format(DirLayout))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create process state directory: %w", err)
	}
	return dir, nil
}

// ProcessOutputFiles returns the paths of the output files of a run in name
// order.
func (h *FileHelper) ProcessOutputFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list process state directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, outputPrefix) || !strings.HasSuffix(name, outputSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// NewOutputFilePath returns the path of the output file for an execution
// started at now.
func (h *FileHelper) NewOutputFilePath(dir string, now time.Time) string {
	return filepath.Join(dir, outputPrefix+now.UTC().Format(DirLayout)+outputSuffix)
}

// StateFilePath returns the path of the run-state file in dir.
func StateFilePath(dir string) string {
	return filepath.Join(dir, StateFileName)
}
