package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Step int    `json:"step"`
	Op   string `json:"op"`
	URI  string `json:"uri,omitempty"`

	// Result is the step outcome: the new row for insert, the affected
	// count for update and delete, the rows for query and the per-operation
	// results for batch.
	Result any `json:"result,omitempty"`

	// Error is the kind of the returned error, empty on success.
	Error string `json:"error,omitempty"`
	// Index is the failing operation of a batch.
	Index *int `json:"index,omitempty"`

	// Changes are the notifications observed after the step.
	Changes []ObservedChange `json:"changes,omitempty"`
}

// ObservedChange is one notification received by a scenario observer.
type ObservedChange struct {
	Observer    string   `json:"observer"`
	Seq         uint64   `json:"seq"`
	Identifiers []string `json:"identifiers"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step to the trace.
func (r *Result) AddStep(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// Changes returns every change received by the observer on prefix.
func (r *Result) Changes(prefix string) []ObservedChange {
	var out []ObservedChange
	for _, ev := range r.Trace {
		for _, c := range ev.Changes {
			if c.Observer == prefix {
				out = append(out, c)
			}
		}
	}
	return out
}
