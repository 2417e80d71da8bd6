// Package batchfile loads batch documents: an ordered list of insert, update
// and delete operations applied atomically by the store.
//
// Documents may be written in YAML, JSON or CUE. Every document is unified
// with an embedded CUE schema before it is decoded, so unknown fields, wrong
// value types and missing required fields are reported with their position.
//
//	operations:
//	  - op: insert
//	    uri: org.pixmob.freemobile.netstat/events
//	    values: {timestamp: 100, mobile_enabled: true, ...}
//	  - op: update
//	    uri: org.pixmob.freemobile.netstat/events
//	    key_ref: 0
//	    values: {sync_status: 1}
package batchfile

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/predicate"
	"github.com/roach88/netstat/internal/store"
)

//go:embed schema.cue
var schemaSrc string

// Format is the encoding of a batch document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCUE  Format = "cue"
)

// FormatOf infers the format from a file extension. Unknown extensions are
// read as YAML, which also accepts JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Document is a decoded batch.
type Document struct {
	Operations []OperationDoc `json:"operations" yaml:"operations"`
}

// OperationDoc is one operation as written in a document.
type OperationDoc struct {
	Op     string         `json:"op" yaml:"op"`
	URI    string         `json:"uri" yaml:"uri"`
	Values map[string]any `json:"values,omitempty" yaml:"values,omitempty"`
	Where  []WhereDoc     `json:"where,omitempty" yaml:"where,omitempty"`

	// ValueRefs sets columns to the id inserted by an earlier operation.
	ValueRefs map[string]int `json:"value_refs,omitempty" yaml:"value_refs,omitempty"`

	// KeyRef targets the row inserted by an earlier operation.
	KeyRef *int `json:"key_ref,omitempty" yaml:"key_ref,omitempty"`
}

// WhereDoc is one conjunct of an operation's filter.
type WhereDoc struct {
	Field  string `json:"field" yaml:"field"`
	Op     string `json:"op" yaml:"op"`
	Value  any    `json:"value,omitempty" yaml:"value,omitempty"`
	Values []any  `json:"values,omitempty" yaml:"values,omitempty"`
}

// LoadError reports a document that could not be read, parsed or validated.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return "batch: " + e.Err.Error()
	}
	return fmt.Sprintf("batch %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load reads the batch document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	doc, err := Parse(data, FormatOf(path), path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return doc, nil
}

// Parse decodes data and validates it against the batch schema. filename is
// used in error positions and may be empty.
func Parse(data []byte, format Format, filename string) (*Document, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Batch"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling batch schema: %w", err)
	}

	var value cue.Value
	switch format {
	case FormatCUE:
		value = ctx.CompileBytes(data, cue.Filename(filename))
	case FormatYAML, FormatJSON:
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", format, err)
		}
		if raw == nil {
			return nil, fmt.Errorf("document is empty")
		}
		value = ctx.Encode(raw)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building document: %s", details(err))
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("document does not match schema: %s", details(err))
	}

	var doc Document
	if err := unified.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding document: %s", details(err))
	}
	return &doc, nil
}

func details(err error) string {
	return strings.TrimSpace(cueerrors.Details(err, nil))
}

// Operations converts the document to store operations.
func (d *Document) Operations() ([]store.Operation, error) {
	ops := make([]store.Operation, 0, len(d.Operations))
	for i, od := range d.Operations {
		op, err := od.operation()
		if err != nil {
			return nil, fmt.Errorf("operations[%d]: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (od OperationDoc) operation() (store.Operation, error) {
	kind, err := store.ParseOpKind(od.Op)
	if err != nil {
		return store.Operation{}, err
	}
	if kind == store.OpInsert && len(od.Where) > 0 {
		return store.Operation{}, fmt.Errorf("insert does not take where")
	}
	if kind != store.OpDelete && len(od.Values)+len(od.ValueRefs) == 0 {
		return store.Operation{}, fmt.Errorf("%s requires values", kind)
	}
	if kind == store.OpDelete && (len(od.Values) > 0 || len(od.ValueRefs) > 0) {
		return store.Operation{}, fmt.Errorf("delete does not take values")
	}

	where, err := Where(od.Where)
	if err != nil {
		return store.Operation{}, err
	}

	op := store.Operation{
		Kind:       kind,
		Identifier: od.URI,
		Where:      where,
	}
	if len(od.Values) > 0 {
		op.Values = contract.Values(od.Values)
	}
	for col, ref := range od.ValueRefs {
		op = op.WithValueBackRef(col, ref)
	}
	if od.KeyRef != nil {
		op = op.WithKeyBackRef(*od.KeyRef)
	}
	return op, nil
}

// Where converts filter entries to a conjunction. No entries yield nil.
func Where(entries []WhereDoc) (predicate.Predicate, error) {
	preds := make([]predicate.Predicate, 0, len(entries))
	for i, w := range entries {
		p, err := w.predicate()
		if err != nil {
			return nil, fmt.Errorf("where[%d]: %w", i, err)
		}
		preds = append(preds, p)
	}
	return predicate.AllOf(preds...), nil
}

func (w WhereDoc) predicate() (predicate.Predicate, error) {
	switch w.Op {
	case "in":
		if w.Value != nil {
			return nil, fmt.Errorf("%s: in takes values, not value", w.Field)
		}
		return predicate.In{Field: w.Field, Values: w.Values}, nil
	case "is_null", "not_null":
		if w.Value != nil || len(w.Values) > 0 {
			return nil, fmt.Errorf("%s: %s takes no value", w.Field, w.Op)
		}
		return predicate.IsNull{Field: w.Field, Negate: w.Op == "not_null"}, nil
	}

	op, err := predicate.ParseOp(w.Op)
	if err != nil {
		return nil, err
	}
	if len(w.Values) > 0 {
		return nil, fmt.Errorf("%s: %s takes value, not values", w.Field, w.Op)
	}
	if w.Value == nil {
		return nil, fmt.Errorf("%s: %s requires a non-null value; use is_null", w.Field, w.Op)
	}
	return predicate.Cmp(w.Field, op, w.Value), nil
}
