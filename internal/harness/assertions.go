package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/netstat/internal/batchfile"
	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			status := "ok"
			if event.Error != "" {
				status = event.Error
			}
			fmt.Fprintf(&buf, "  [%d] %s %s (%s)\n", event.Step, event.Op, event.URI, status)
		}
	}

	return buf.String()
}

// assertTraceCount checks that the op ran exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op == assertion.Op {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s steps", assertion.Count, assertion.Op),
			Actual:   fmt.Sprintf("%d steps", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertNotified checks how many changes the observer on Observer received.
func assertNotified(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		for _, c := range event.Changes {
			if c.Observer == assertion.Observer {
				count++
			}
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertNotified,
			Expected: fmt.Sprintf("%d changes on %q", assertion.Count, assertion.Observer),
			Actual:   fmt.Sprintf("%d changes", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertRowCount checks the number of rows at URI matching Where.
func assertRowCount(ctx context.Context, st *store.Store, assertion Assertion) error {
	rows, err := queryAssertion(ctx, st, assertion)
	if err != nil {
		return err
	}
	if len(rows) != assertion.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows at %s where %s", assertion.Count, assertion.URI, formatWhere(assertion.Where)),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}
	return nil
}

// assertFinalState checks that exactly one row at URI matches Where and that
// it holds the expected values (subset semantics).
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	rows, err := queryAssertion(ctx, st, assertion)
	if err != nil {
		return err
	}

	whereDesc := formatWhere(assertion.Where)
	switch len(rows) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row at %s where %s", assertion.URI, whereDesc),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row at %s where %s", assertion.URI, whereDesc),
			Actual:   fmt.Sprintf("%d rows matched (assertion is ambiguous)", len(rows)),
		}
	}

	addr, err := st.Resolver().Resolve(assertion.URI)
	if err != nil {
		return err
	}
	actualRow := rows[0]
	for _, key := range contract.Values(assertion.Expect).Columns() {
		col, ok := addr.Collection.Column(key)
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q to exist", key),
				Actual:   fmt.Sprintf("columns are %v", addr.Collection.ColumnNames()),
			}
		}
		expectedValue, err := contract.Normalize(col, assertion.Expect[key])
		if err != nil {
			return fmt.Errorf("final_state expect: %w", err)
		}
		actualValue := actualRow[key]
		if expectedValue != actualValue {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("column %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("column %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

func queryAssertion(ctx context.Context, st *store.Store, assertion Assertion) ([]contract.Values, error) {
	where, err := batchfile.Where(assertion.Where)
	if err != nil {
		return nil, fmt.Errorf("%s where: %w", assertion.Type, err)
	}
	rows, err := st.QueryAll(ctx, assertion.URI, store.QueryOptions{Where: where})
	if err != nil {
		return nil, &AssertionError{
			Type:     assertion.Type,
			Expected: fmt.Sprintf("query %s", assertion.URI),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	return rows, nil
}

// formatWhere creates a human-readable description of filter entries.
func formatWhere(where []batchfile.WhereDoc) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, w := range where {
		switch {
		case len(w.Values) > 0:
			parts = append(parts, fmt.Sprintf("%s %s %v", w.Field, w.Op, w.Values))
		case w.Value != nil:
			parts = append(parts, fmt.Sprintf("%s %s %v", w.Field, w.Op, w.Value))
		default:
			parts = append(parts, fmt.Sprintf("%s %s", w.Field, w.Op))
		}
	}
	return strings.Join(parts, " AND ")
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides store access for row_count and final_state.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertNotified:
			err = assertNotified(result.Trace, assertion)
		case AssertRowCount, AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires store context", i, assertion.Type)
			} else if assertion.Type == AssertRowCount {
				err = assertRowCount(actx.Ctx, actx.Store, assertion)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
