package usercount

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/Sternrassler/search-harvester/pkg/task"
	"github.com/go-playground/validator/v10"
)

// Config holds the user count criteria.
type Config struct {
	// LocationsFile is the JSON locations file, see Location.
	LocationsFile string `mapstructure:"locations_file" validate:"required"`

	MinRepositories int `mapstructure:"min_repositories" validate:"gte=0"`
	MinFollowers    int `mapstructure:"min_followers" validate:"gte=0"`
}

// DefaultConfig returns the default criteria. LocationsFile has no default.
func DefaultConfig() Config {
	return Config{}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("user count config: %w", err)
	}
	return nil
}

// Location is one entry of the locations file. Every alternative spelling is
// searched separately.
//
//	{"turkey": {"text": "Turkey", "parent": null, "alternatives": ["Turkey", "Türkiye"]}}
type Location struct {
	Text         string   `json:"text"`
	Parent       *string  `json:"parent"`
	Alternatives []string `json:"alternatives"`
}

// ReadLocations reads a locations file.
func ReadLocations(path string) (map[string]Location, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read locations file: %w", err)
	}
	locations := map[string]Location{}
	if err := json.Unmarshal(data, &locations); err != nil {
		return nil, fmt.Errorf("decode locations file %s: %w", path, err)
	}
	return locations, nil
}

// Command seeds and instantiates user count tasks.
type Command struct {
	config Config
}

var _ task.Command[Result, Spec] = (*Command)(nil)

// NewCommand returns a command.
func NewCommand(cfg Config) *Command {
	return &Command{config: cfg}
}

// CreateTask implements task.Command.
func (c *Command) CreateTask(_ *task.Context, spec Spec) task.Task[Result, Spec] {
	return NewTask(spec)
}

// CreateNewQueueItems implements task.Command. One spec is created per
// alternative of every location, in key order.
func (c *Command) CreateNewQueueItems(tc *task.Context) ([]Spec, error) {
	if err := c.config.Validate(); err != nil {
		return nil, err
	}

	locations, err := ReadLocations(c.config.LocationsFile)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(locations))
	for k := range locations {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var specs []Spec
	for _, k := range keys {
		for _, alt := range locations[k].Alternatives {
			specs = append(specs, Spec{
				Meta:            task.RootMeta(),
				Location:        alt,
				MinRepositories: c.config.MinRepositories,
				MinFollowers:    c.config.MinFollowers,
			})
		}
	}

	tc.Logger.Info().
		Int("min_repositories", c.config.MinRepositories).
		Int("min_followers", c.config.MinFollowers).
		Int("locations", len(specs)).
		Msg("Creating a new process state")

	return specs, nil
}
