package organization

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Sternrassler/search-harvester/pkg/task"
	"github.com/go-playground/validator/v10"
)

// Config holds the organization listing settings.
type Config struct {
	// OrganizationsFile is a JSON array of organization logins.
	OrganizationsFile string `mapstructure:"organizations_file" validate:"required"`

	// Repositories requested per page.
	PageSize int `mapstructure:"page_size" validate:"gte=1,lte=100"`
}

// DefaultConfig returns the default settings. OrganizationsFile has no
// default.
func DefaultConfig() Config {
	return Config{PageSize: 25}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("organization config: %w", err)
	}
	return nil
}

// Command seeds and instantiates organization listing tasks.
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

// CreateNewQueueItems implements task.Command. One root is created per
// organization in OrganizationsFile; duplicate and empty logins are skipped.
func (c *Command) CreateNewQueueItems(tc *task.Context) ([]Spec, error) {
	if err := c.config.Validate(); err != nil {
		return nil, err
	}

	names, err := ReadOrganizations(c.config.OrganizationsFile)
	if err != nil {
		return nil, err
	}

	tc.Logger.Info().Int("organizations", len(names)).Msg("Creating a new process state")

	seen := make(map[string]bool, len(names))
	specs := make([]Spec, 0, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		specs = append(specs, Spec{
			Meta:     task.RootMeta(),
			OrgName:  name,
			PageSize: c.config.PageSize,
		})
	}
	return specs, nil
}

// ReadOrganizations reads a JSON array of organization logins.
func ReadOrganizations(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read organizations file: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("decode organizations file %s: %w", path, err)
	}
	return names, nil
}
