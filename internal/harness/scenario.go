package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted session against an in-memory remote store.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Owner is the session user. Defaults to DefaultOwner.
	Owner string `yaml:"owner,omitempty"`

	// Seed is remote data present before the session loads.
	Seed Seed `yaml:"seed,omitempty"`

	// Flow contains the steps, run in order.
	Flow []Step `yaml:"flow"`

	// Final is checked once every held request is released and the local
	// state has converged with the store.
	Final *Check `yaml:"final,omitempty"`
}

// DefaultOwner is the owner of scenarios that name none.
const DefaultOwner = "alice"

// Seed lists remote rows written without change events.
type Seed struct {
	Todos      []SeedTodo     `yaml:"todos,omitempty"`
	Categories []SeedCategory `yaml:"categories,omitempty"`
	Links      []SeedLink     `yaml:"links,omitempty"`
}

// SeedTodo is a seeded todo row.
type SeedTodo struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Done  bool   `yaml:"done,omitempty"`
}

// SeedCategory is a seeded category row.
type SeedCategory struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
}

// SeedLink is a seeded association row.
type SeedLink struct {
	Todo     string `yaml:"todo"`
	Category string `yaml:"category"`
}

// Step is one action of the flow.
//
// Args values of the form "@name" refer to the record of the step named
// name: its pending identity while the request is held, its confirmed id
// afterwards.
type Step struct {
	// Do is the action, e.g. "todo.create". See Actions.
	Do string `yaml:"do"`

	// Args are the action arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// As names the record the step creates or targets.
	As string `yaml:"as,omitempty"`

	// Hold keeps the remote request waiting until a release step names it.
	Hold bool `yaml:"hold,omitempty"`

	// Fail makes the remote store reject the request with this message.
	Fail string `yaml:"fail,omitempty"`

	// Expect is the expected outcome. Without it the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`

	// Check is evaluated by "check" steps.
	Check *Check `yaml:"check,omitempty"`
}

// Expect describes a step outcome.
type Expect struct {
	// Error is a substring of the expected error. Empty means success.
	Error string `yaml:"error,omitempty"`
}

// Check compares the visible state. Titles of pending records carry a
// trailing "*". Nil lists are not compared.
type Check struct {
	Todos      []string `yaml:"todos,omitempty"`
	Visible    []string `yaml:"visible,omitempty"`
	Categories []string `yaml:"categories,omitempty"`
	Links      []string `yaml:"links,omitempty"`
	Filter     *string  `yaml:"filter,omitempty"`
}

// Actions lists every step action.
var Actions = map[string]string{
	"todo.create":     "create a todo: title",
	"todo.edit":       "retitle a todo: todo, title",
	"todo.toggle":     "flip completion: todo",
	"todo.delete":     "delete a todo: todo",
	"todo.tag":        "link a todo to a category: todo, category",
	"todo.untag":      "unlink a todo from a category: todo, category",
	"category.create": "create a category: title",
	"category.edit":   "retitle a category: category, title",
	"category.delete": "delete a category: category",
	"filter.set":      "set the category filter: filter",
	"event":           "fold a change event: table, type, record",
	"release":         "release a held request: step, optional fail",
	"load":            "refetch everything",
	"check":           "compare state, retrying until it matches",
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if scenario.Owner == "" {
		scenario.Owner = DefaultOwner
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	out := make([]*Scenario, 0, len(names))
	for _, name := range names {
		s, err := LoadScenario(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	named := make(map[string]bool)
	held := make(map[string]bool)
	for i, step := range s.Flow {
		if _, ok := Actions[step.Do]; !ok {
			return fmt.Errorf("flow[%d]: unknown action %q", i, step.Do)
		}
		if step.As != "" {
			if strings.HasPrefix(step.As, "@") {
				return fmt.Errorf("flow[%d]: name %q must not start with @", i, step.As)
			}
			named[step.As] = true
		}
		if step.Hold || step.Fail != "" {
			if _, ok := remoteRequest(step.Do); !ok {
				return fmt.Errorf("flow[%d]: %s sends no remote request to hold or fail", i, step.Do)
			}
			if step.Hold && step.Fail != "" {
				return fmt.Errorf("flow[%d]: hold and fail are exclusive; fail on release instead", i)
			}
		}
		if step.Hold {
			if step.As == "" {
				return fmt.Errorf("flow[%d]: held steps need a name (as)", i)
			}
			held[step.As] = true
		}
		switch step.Do {
		case "release":
			name, _ := step.Args["step"].(string)
			if !held[name] {
				return fmt.Errorf("flow[%d]: release of %q, which is not a held step", i, name)
			}
			delete(held, name)
		case "check":
			if step.Check == nil {
				return fmt.Errorf("flow[%d]: check step needs a check block", i)
			}
		}
		for key, v := range step.Args {
			if ref, ok := v.(string); ok && strings.HasPrefix(ref, "@") && !named[ref[1:]] {
				return fmt.Errorf("flow[%d].args.%s: unknown reference %s", i, key, ref)
			}
		}
	}
	return nil
}
