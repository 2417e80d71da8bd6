package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/roach88/netstat/internal/batchfile"
	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/notify"
	"github.com/roach88/netstat/internal/predicate"
	"github.com/roach88/netstat/internal/store"
	"github.com/roach88/netstat/internal/testutil"
)

// NowToken in a value is replaced by the next tick of the scenario clock.
const NowToken = "$now"

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock against a private store.
type Harness struct {
	store  *store.Store
	clock  *testutil.DeterministicClock
	logger *slog.Logger
	subs   []*notify.Subscription
}

type insertResult struct {
	Address string `json:"address"`
	ID      int64  `json:"id"`
}

type countResult struct {
	Count int64 `json:"count"`
}

type batchResult struct {
	Address string `json:"address"`
	ID      int64  `json:"id,omitempty"`
	Count   int64  `json:"count"`
}

// call performs a prepared step.
type call func(ctx context.Context) (any, error)

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// A returned error means the scenario itself could not be executed;
// failed expectations and assertions are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	layout, err := contract.ParseLayout(scenario.Layout)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	ctx := context.Background()

	st, err := store.Open(ctx, ":memory:", store.Options{
		Version: scenario.Version,
		Layout:  layout,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		clock:  testutil.NewDeterministicClock(),
		logger: logger,
	}
	for _, prefix := range scenario.Observe {
		sub := st.Changes().Subscribe(prefix, notify.DefaultBuffer)
		defer sub.Cancel()
		h.subs = append(h.subs, sub)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		fn, err := h.prepare(step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		out, stepErr := fn(ctx)

		ev := TraceEvent{Step: i, Op: step.Op, URI: step.URI, Result: out}
		if stepErr != nil {
			ev.Result = nil
			ev.Error = errorKind(stepErr)
			var be *store.BatchApplyError
			if errors.As(stepErr, &be) {
				index := be.Index
				ev.Index = &index
			}
		}
		ev.Changes = h.drain()
		result.AddStep(ev)

		for _, msg := range checkExpect(i, step.Expect, ev, stepErr) {
			result.AddError(msg)
		}

		h.logger.Info("step completed",
			"step", i,
			"op", step.Op,
			"uri", step.URI,
			"error", ev.Error,
			"changes", len(ev.Changes),
		)
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// prepare converts step to a store call. Clock ticks for "$now" are taken
// here, in document order.
func (h *Harness) prepare(step Step) (call, error) {
	where, err := batchfile.Where(step.Where)
	if err != nil {
		return nil, err
	}

	switch step.Op {
	case OpInsert:
		values := h.values(step.Values)
		return func(ctx context.Context) (any, error) {
			res, err := h.store.Insert(ctx, step.URI, values)
			if err != nil {
				return nil, err
			}
			return insertResult{Address: res.Address, ID: res.ID}, nil
		}, nil

	case OpUpdate:
		values := h.values(step.Values)
		return func(ctx context.Context) (any, error) {
			n, err := h.store.Update(ctx, step.URI, values, where)
			if err != nil {
				return nil, err
			}
			return countResult{Count: n}, nil
		}, nil

	case OpDelete:
		return func(ctx context.Context) (any, error) {
			n, err := h.store.Delete(ctx, step.URI, where)
			if err != nil {
				return nil, err
			}
			return countResult{Count: n}, nil
		}, nil

	case OpQuery:
		opts := store.QueryOptions{Projection: step.Columns, Where: where, Limit: step.Limit}
		for _, s := range step.Order {
			o, err := predicate.ParseOrder(s)
			if err != nil {
				return nil, err
			}
			opts.OrderBy = append(opts.OrderBy, o)
		}
		return func(ctx context.Context) (any, error) {
			rows, err := h.store.QueryAll(ctx, step.URI, opts)
			if err != nil {
				return nil, err
			}
			if rows == nil {
				rows = []contract.Values{}
			}
			return rows, nil
		}, nil

	case OpBatch:
		docs := make([]batchfile.OperationDoc, len(step.Operations))
		for i, od := range step.Operations {
			od.Values = h.values(od.Values)
			docs[i] = od
		}
		doc := &batchfile.Document{Operations: docs}
		ops, err := doc.Operations()
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			results, err := h.store.ApplyBatch(ctx, ops)
			if err != nil {
				return nil, err
			}
			out := make([]batchResult, len(results))
			for i, r := range results {
				out[i] = batchResult{Address: r.Address, ID: r.ID, Count: r.Count}
			}
			return out, nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
}

// values copies in, replacing NowToken with clock ticks in column order.
func (h *Harness) values(in map[string]any) contract.Values {
	if in == nil {
		return nil
	}
	cols := make([]string, 0, len(in))
	for col := range in {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	out := make(contract.Values, len(in))
	for _, col := range cols {
		v := in[col]
		if s, ok := v.(string); ok && s == NowToken {
			v = h.clock.NextMillis()
		}
		out[col] = v
	}
	return out
}

// drain collects the changes buffered by every observer, in Observe order.
func (h *Harness) drain() []ObservedChange {
	var out []ObservedChange
	for _, sub := range h.subs {
		for _, c := range sub.Drain() {
			out = append(out, ObservedChange{
				Observer:    sub.Prefix(),
				Seq:         c.Seq,
				Identifiers: c.Identifiers,
			})
		}
	}
	return out
}

// errorKind names the class of a store error.
func errorKind(err error) string {
	switch {
	case errors.Is(err, store.ErrReadOnly):
		return "read_only"
	case store.IsUnsupportedAddress(err):
		return "unsupported_address"
	case store.IsValidation(err):
		return "validation"
	case store.IsStorage(err):
		return "storage"
	default:
		return "error"
	}
}

// checkExpect compares a step outcome with its expect clause.
func checkExpect(index int, exp *Expect, ev TraceEvent, err error) []string {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf("steps[%d] (%s): ", index, ev.Op)+fmt.Sprintf(format, args...))
	}

	if exp == nil || exp.Error == "" {
		if err != nil {
			fail("unexpected %s error: %v", ev.Error, err)
			return errs
		}
	} else {
		if err == nil {
			fail("expected %s error, step succeeded", exp.Error)
			return errs
		}
		if ev.Error != exp.Error {
			fail("expected %s error, got %s: %v", exp.Error, ev.Error, err)
		}
	}
	if exp == nil {
		return errs
	}

	if exp.Index != nil {
		switch {
		case ev.Index == nil:
			fail("expected failure at operation %d, got none", *exp.Index)
		case *ev.Index != *exp.Index:
			fail("expected failure at operation %d, got %d", *exp.Index, *ev.Index)
		}
	}
	if err != nil {
		return errs
	}

	switch res := ev.Result.(type) {
	case insertResult:
		if exp.ID != nil && res.ID != *exp.ID {
			fail("expected id %d, got %d", *exp.ID, res.ID)
		}
	case countResult:
		if exp.Count != nil && res.Count != *exp.Count {
			fail("expected count %d, got %d", *exp.Count, res.Count)
		}
	case []contract.Values:
		if exp.Rows != nil && len(res) != *exp.Rows {
			fail("expected %d rows, got %d", *exp.Rows, len(res))
		}
	}
	return errs
}
