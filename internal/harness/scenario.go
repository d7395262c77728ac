package harness

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/knhk/internal/ir"
)

// Scenario defines a reconciliation scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Used for the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Hooks is an inline CUE hook definition.
	Hooks string `yaml:"hooks,omitempty"`

	// HooksFile is a path to a CUE hook file, relative to the
	// scenario file. Exactly one of Hooks and HooksFile is required.
	HooksFile string `yaml:"hooks_file,omitempty"`

	// Budget is the tick budget (1..8). Zero means the engine default.
	Budget uint8 `yaml:"budget,omitempty"`

	// Domains and Shards size the engine. Zero means 1.
	Domains int `yaml:"domains,omitempty"`
	Shards  int `yaml:"shards,omitempty"`

	// MaxSteps bounds each settle phase. Zero means DefaultMaxSteps.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Resubmit feeds parked deltas back through the warm path after the
	// first settle, splitting budget overflows.
	Resubmit bool `yaml:"resubmit,omitempty"`

	// RunID is the fixed run ID stamped on cycle records.
	RunID string `yaml:"run_id,omitempty"`

	// Feed is the deltas to submit, in order.
	Feed []FeedStep `yaml:"feed"`

	// Assertions validate the trace and the committed log.
	Assertions []Assertion `yaml:"assertions"`
}

// FeedStep is one delta for one domain.
type FeedStep struct {
	Domain int `yaml:"domain"`

	// Cycle pins the delta to an exact cycle. Nil submits it at the next
	// free cycle.
	Cycle *uint64 `yaml:"cycle,omitempty"`

	Rows []ir.Triple `yaml:"rows"`
}

// Assertion validates the trace or the committed log.
type Assertion struct {
	// Type is one of trace_count, action_outcome, tick_cost, replay_ok.
	Type string `yaml:"type"`

	// Event is the trace event type (trace_count).
	Event string `yaml:"event,omitempty"`

	// Cause filters parked events by park cause (trace_count).
	Cause string `yaml:"cause,omitempty"`

	// Domain filters events by domain.
	Domain *int `yaml:"domain,omitempty"`

	// Cycle filters events by cycle (action_outcome, tick_cost).
	Cycle *uint64 `yaml:"cycle,omitempty"`

	// Lane and Outcome name the expected action (action_outcome).
	Lane    *int   `yaml:"lane,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Cost is the expected tick cost (tick_cost).
	Cost *int `yaml:"cost,omitempty"`

	// Count is the expected number of events (trace_count).
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceCount    = "trace_count"
	AssertActionOutcome = "action_outcome"
	AssertTickCost      = "tick_cost"
	AssertReplayOK      = "replay_ok"
)

// LoadScenario reads and parses a scenario YAML file. hooks_file is
// resolved relative to the scenario's directory.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.HooksFile != "" && !filepath.IsAbs(scenario.HooksFile) {
		scenario.HooksFile = filepath.Join(filepath.Dir(path), scenario.HooksFile)
	}
	if scenario.HooksFile != "" {
		if _, err := os.Stat(scenario.HooksFile); err != nil {
			return nil, fmt.Errorf("invalid scenario: hooks file not found: %s", scenario.HooksFile)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadFeed reads a YAML list of feed steps, as used by the run command.
func LoadFeed(r io.Reader) ([]FeedStep, error) {
	var feed []FeedStep
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&feed); err != nil {
		if err == io.EOF {
			return []FeedStep{}, nil
		}
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	for i, step := range feed {
		if step.Domain < 0 {
			return nil, fmt.Errorf("feed[%d]: domain must be non-negative", i)
		}
	}
	return feed, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Hooks == "") == (s.HooksFile == "") {
		return fmt.Errorf("exactly one of hooks and hooks_file is required")
	}
	if s.Budget > ir.MaxLanes {
		return fmt.Errorf("budget must be 1..%d, got %d", ir.MaxLanes, s.Budget)
	}
	if s.Domains < 0 || s.Shards < 0 || s.MaxSteps < 0 {
		return fmt.Errorf("domains, shards and max_steps must be non-negative")
	}
	if len(s.Feed) == 0 {
		return fmt.Errorf("feed list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	domains := max(s.Domains, 1)
	for i, step := range s.Feed {
		if step.Domain < 0 || step.Domain >= domains {
			return fmt.Errorf("feed[%d]: domain %d out of range (domains: %d)", i, step.Domain, domains)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for trace_count", index)
		}
	case AssertActionOutcome:
		if a.Lane == nil || a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: lane and outcome are required for action_outcome", index)
		}
	case AssertTickCost:
		if a.Cost == nil {
			return fmt.Errorf("assertions[%d]: cost is required for tick_cost", index)
		}
	case AssertReplayOK:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
