package predicate

import (
	"fmt"
	"sort"
)

// Fields returns the distinct field names referenced by p, sorted.
func Fields(p Predicate) []string {
	seen := make(map[string]struct{})
	walk(p, func(field string) { seen[field] = struct{}{} })

	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Validate checks the structure of p and that every referenced field is
// known. A nil predicate is valid (no filter).
//
// Validate is a pure function with no side effects.
func Validate(p Predicate, known func(field string) bool) error {
	v := &validator{known: known}
	v.validate(p)
	return v.err
}

type validator struct {
	known func(string) bool
	err   error
}

func (v *validator) fail(format string, args ...any) {
	if v.err == nil {
		v.err = fmt.Errorf(format, args...)
	}
}

func (v *validator) field(name string) {
	if name == "" {
		v.fail("predicate has an empty field name")
		return
	}
	if v.known != nil && !v.known(name) {
		v.fail("unknown column %q", name)
	}
}

func (v *validator) validate(p Predicate) {
	if p == nil || v.err != nil {
		return
	}

	switch pred := p.(type) {
	case Compare:
		v.validateCompare(pred)
	case *Compare:
		if pred == nil {
			v.fail("nil %T predicate", p)
			return
		}
		v.validateCompare(*pred)
	case IsNull:
		v.field(pred.Field)
	case *IsNull:
		if pred == nil {
			v.fail("nil %T predicate", p)
			return
		}
		v.field(pred.Field)
	case In:
		v.validateIn(pred)
	case *In:
		if pred == nil {
			v.fail("nil %T predicate", p)
			return
		}
		v.validateIn(*pred)
	case And:
		v.validateAnd(pred)
	case *And:
		if pred == nil {
			v.fail("nil %T predicate", p)
			return
		}
		v.validateAnd(*pred)
	default:
		v.fail("unsupported predicate type %T", p)
	}
}

func (v *validator) validateAnd(and And) {
	for _, sub := range and.Predicates {
		v.validate(sub)
	}
}

func (v *validator) validateCompare(c Compare) {
	v.field(c.Field)
	if _, err := ParseOp(string(c.Op)); err != nil {
		v.fail("field %q: %v", c.Field, err)
	}
	if c.Value == nil {
		v.fail("field %q compared to nil: use IsNull", c.Field)
	}
}

func (v *validator) validateIn(in In) {
	v.field(in.Field)
	for i, val := range in.Values {
		if val == nil {
			v.fail("field %q: IN value %d is nil", in.Field, i)
		}
	}
}

// walk calls fn for every field referenced by p.
func walk(p Predicate, fn func(string)) {
	switch pred := p.(type) {
	case Compare:
		fn(pred.Field)
	case *Compare:
		if pred != nil {
			fn(pred.Field)
		}
	case IsNull:
		fn(pred.Field)
	case *IsNull:
		if pred != nil {
			fn(pred.Field)
		}
	case In:
		fn(pred.Field)
	case *In:
		if pred != nil {
			fn(pred.Field)
		}
	case And:
		for _, sub := range pred.Predicates {
			walk(sub, fn)
		}
	case *And:
		if pred != nil {
			for _, sub := range pred.Predicates {
				walk(sub, fn)
			}
		}
	}
}
