package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/optisync/internal/compiler"
	"github.com/roach88/optisync/internal/ir"
)

// Scenario is one harness test case.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Mutation is the path of a mutation document (.cue, .yaml, .yml or
	// .json), relative to the scenario file. Mutually exclusive with Batch.
	Mutation string `yaml:"mutation,omitempty"`

	// Batch is an inline mutation batch in the YAML DSL. Mapping order is
	// the batch's declaration order.
	Batch yaml.Node `yaml:"batch,omitempty"`

	// Input is the input record for mutate steps. It is merged over any
	// input the mutation document declares.
	Input map[string]any `yaml:"input,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked against the final cache and journal.
	Assertions []Assertion `yaml:"assertions"`

	// baseDir resolves Mutation. Set by LoadScenario.
	baseDir string
}

// Step kinds.
const (
	StepSet     = "set"
	StepMutate  = "mutate"
	StepRetain  = "retain"
	StepRelease = "release"
	StepGC      = "gc"
)

// Step is one scenario action.
type Step struct {
	// Do is the step kind: set, mutate, retain, release or gc.
	Do string `yaml:"do"`

	// Entity and ID address a cell (set, retain, release).
	Entity string `yaml:"entity,omitempty"`
	ID     any    `yaml:"id,omitempty"`

	// Data is the record written by set.
	Data map[string]any `yaml:"data,omitempty"`

	// Input overrides the scenario input for this mutate step.
	Input map[string]any `yaml:"input,omitempty"`

	// Server holds per-operation server records returned on acceptance.
	Server map[string]map[string]any `yaml:"server,omitempty"`

	// Reject makes the executor reject the mutation with this message.
	Reject string `yaml:"reject,omitempty"`

	// ExpectError is the error code the mutate step must fail with: an
	// evaluation code such as MISSING_ID, or REJECTED.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion types.
const (
	AssertEntity  = "entity"
	AssertAbsent  = "absent"
	AssertStale   = "stale"
	AssertPending = "pending"
	AssertOrder   = "order"
	AssertJournal = "journal"
)

// Assertion validates the final state of a run.
type Assertion struct {
	// Type is one of entity, absent, stale, pending, order or journal.
	Type string `yaml:"type"`

	// Entity and ID address a cell (entity, absent, stale).
	Entity string `yaml:"entity,omitempty"`
	ID     any    `yaml:"id,omitempty"`

	// Expect holds expected field values (entity). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of pending transactions (pending) or
	// journaled mutations with Status (journal).
	Count int `yaml:"count,omitempty"`

	// Status filters journaled mutations (journal).
	Status string `yaml:"status,omitempty"`

	// Operations is the expected evaluation order (order). Intervening
	// operations are allowed.
	Operations []string `yaml:"operations,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected to catch typos.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.baseDir = filepath.Dir(path)
	return s, nil
}

// ParseScenario parses scenario YAML. Relative mutation paths resolve
// against the working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := normalizeScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// normalizeScenario converts YAML-decoded values to the canonical literal
// shapes used by the evaluator and cache.
func normalizeScenario(s *Scenario) error {
	var err error
	if s.Input, err = normalizeRecord(s.Input); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.ID, err = ir.Normalize(st.ID); err != nil {
			return fmt.Errorf("steps[%d].id: %w", i, err)
		}
		if st.Data, err = normalizeRecord(st.Data); err != nil {
			return fmt.Errorf("steps[%d].data: %w", i, err)
		}
		if st.Input, err = normalizeRecord(st.Input); err != nil {
			return fmt.Errorf("steps[%d].input: %w", i, err)
		}
		for name, rec := range st.Server {
			if st.Server[name], err = normalizeRecord(rec); err != nil {
				return fmt.Errorf("steps[%d].server.%s: %w", i, name, err)
			}
		}
	}
	for i := range s.Assertions {
		a := &s.Assertions[i]
		if a.ID, err = ir.Normalize(a.ID); err != nil {
			return fmt.Errorf("assertions[%d].id: %w", i, err)
		}
		if a.Expect, err = normalizeRecord(a.Expect); err != nil {
			return fmt.Errorf("assertions[%d].expect: %w", i, err)
		}
	}
	return nil
}

func normalizeRecord(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	return ir.NormalizeMap(m)
}

// validateScenario checks required fields and step/assertion shapes.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	hasBatch := s.Batch.Kind != 0
	if hasBatch && s.Mutation != "" {
		return fmt.Errorf("batch and mutation are mutually exclusive")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}

	for i, st := range s.Steps {
		if err := validateStep(i, st, hasBatch || s.Mutation != ""); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st Step, hasBatch bool) error {
	switch st.Do {
	case StepSet:
		if st.Entity == "" || st.ID == nil {
			return fmt.Errorf("steps[%d]: entity and id are required for set", index)
		}
	case StepMutate:
		if !hasBatch {
			return fmt.Errorf("steps[%d]: mutate requires a batch or mutation", index)
		}
		if st.Reject != "" && st.Server != nil {
			return fmt.Errorf("steps[%d]: reject and server are mutually exclusive", index)
		}
	case StepRetain, StepRelease:
		if st.Entity == "" || st.ID == nil {
			return fmt.Errorf("steps[%d]: entity and id are required for %s", index, st.Do)
		}
	case StepGC:
	case "":
		return fmt.Errorf("steps[%d]: do is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown step %q", index, st.Do)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertEntity:
		if a.Entity == "" || a.ID == nil {
			return fmt.Errorf("assertions[%d]: entity and id are required for entity", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for entity", index)
		}
	case AssertAbsent, AssertStale:
		if a.Entity == "" || a.ID == nil {
			return fmt.Errorf("assertions[%d]: entity and id are required for %s", index, a.Type)
		}
	case AssertPending:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for pending", index)
		}
	case AssertOrder:
		if len(a.Operations) == 0 {
			return fmt.Errorf("assertions[%d]: operations list is required for order", index)
		}
	case AssertJournal:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for journal", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// source loads the scenario's mutation document.
func (s *Scenario) source() (*compiler.Source, error) {
	if s.Mutation != "" {
		path := s.Mutation
		if !filepath.IsAbs(path) && s.baseDir != "" {
			path = filepath.Join(s.baseDir, path)
		}
		return compiler.LoadFile(path)
	}
	data, err := yaml.Marshal(&s.Batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return compiler.ParseYAML(data)
}
