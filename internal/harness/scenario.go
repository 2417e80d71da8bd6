package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/netstat/internal/batchfile"
	"github.com/roach88/netstat/internal/contract"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Layout selects the collections. Empty selects the default layout.
	Layout string `yaml:"layout,omitempty"`

	// Version is the requested schema version. Zero selects the baseline.
	Version int `yaml:"version,omitempty"`

	// Observe lists identifier prefixes to subscribe before the first step.
	Observe []string `yaml:"observe,omitempty"`

	// Steps run in order against the store.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step operations.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpQuery  = "query"
	OpBatch  = "batch"
)

// Step is one store call.
type Step struct {
	Op  string `yaml:"op"`
	URI string `yaml:"uri,omitempty"`

	// Values are the columns written by insert and update.
	Values map[string]any `yaml:"values,omitempty"`

	// Where filters update, delete and query.
	Where []batchfile.WhereDoc `yaml:"where,omitempty"`

	// Columns, Order and Limit shape a query. Order entries are
	// "column" or "column:desc".
	Columns []string `yaml:"columns,omitempty"`
	Order   []string `yaml:"order,omitempty"`
	Limit   int      `yaml:"limit,omitempty"`

	// Operations are the members of a batch step.
	Operations []batchfile.OperationDoc `yaml:"operations,omitempty"`

	// Expect is checked against the step outcome. If nil, the step must
	// succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect specifies the expected outcome of a step. Unset fields are not
// checked.
type Expect struct {
	// Error is the expected error kind: validation, unsupported_address,
	// storage or read_only.
	Error string `yaml:"error,omitempty"`

	// Index is the expected failing operation of a batch.
	Index *int `yaml:"index,omitempty"`

	ID    *int64 `yaml:"id,omitempty"`
	Count *int64 `yaml:"count,omitempty"`
	Rows  *int   `yaml:"rows,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of trace_count, row_count, final_state or notified.
	Type string `yaml:"type"`

	// Op is the counted step operation (trace_count).
	Op string `yaml:"op,omitempty"`

	// URI is the queried address (row_count, final_state).
	URI string `yaml:"uri,omitempty"`

	// Where filters the queried rows (row_count, final_state).
	Where []batchfile.WhereDoc `yaml:"where,omitempty"`

	// Expect contains expected column values (final_state).
	// Subset match - only specified columns are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Observer is the observed prefix (notified).
	Observer string `yaml:"observer,omitempty"`

	// Count is the expected number (trace_count, row_count, notified).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceCount = "trace_count"
	AssertRowCount   = "row_count"
	AssertFinalState = "final_state"
	AssertNotified   = "notified"
)

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

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if _, err := contract.ParseLayout(s.Layout); err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	switch st.Op {
	case OpInsert, OpUpdate:
		if len(st.Values) == 0 {
			return fmt.Errorf("steps[%d]: values are required for %s", index, st.Op)
		}
	case OpDelete, OpQuery:
	case OpBatch:
		if st.URI != "" {
			return fmt.Errorf("steps[%d]: batch takes no uri", index)
		}
		return nil
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}
	if st.URI == "" {
		return fmt.Errorf("steps[%d]: uri is required for %s", index, st.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
	case AssertRowCount:
		if a.URI == "" {
			return fmt.Errorf("assertions[%d]: uri is required for row_count", index)
		}
	case AssertFinalState:
		if a.URI == "" {
			return fmt.Errorf("assertions[%d]: uri is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertNotified:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
