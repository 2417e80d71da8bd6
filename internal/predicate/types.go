package predicate

import (
	"fmt"
	"strings"
)

// Predicate is a row filter.
//
// This is a sealed interface - only types in this package implement it.
// The marker method enables exhaustive type switches in the SQL compiler.
type Predicate interface {
	predicateNode()
}

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// ParseOp converts an operator token to an Op.
// "==" and "<>" are accepted as spellings of = and !=.
func ParseOp(s string) (Op, error) {
	switch s {
	case "=", "==":
		return OpEq, nil
	case "!=", "<>":
		return OpNe, nil
	case "<":
		return OpLt, nil
	case "<=":
		return OpLe, nil
	case ">":
		return OpGt, nil
	case ">=":
		return OpGe, nil
	default:
		return "", fmt.Errorf("unknown operator %q", s)
	}
}

// Compare is field <op> value.
//
// Value must be a bool, integer or string; nil is rejected, use IsNull.
type Compare struct {
	Field string
	Op    Op
	Value any
}

func (Compare) predicateNode() {}

// IsNull is field IS NULL, or field IS NOT NULL when Negate is set.
type IsNull struct {
	Field  string
	Negate bool
}

func (IsNull) predicateNode() {}

// In is field IN (values...). An empty value list matches no rows.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// And holds when every child holds. An empty And matches every row.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Eq returns field = value.
func Eq(field string, value any) Predicate {
	return Compare{Field: field, Op: OpEq, Value: value}
}

// Cmp returns field <op> value.
func Cmp(field string, op Op, value any) Predicate {
	return Compare{Field: field, Op: op, Value: value}
}

// AllOf conjoins the non-nil predicates. It returns nil when none remain
// and the single predicate when only one does.
func AllOf(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Predicates: kept}
	}
}

// Order is one ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// Asc orders by field ascending.
func Asc(field string) Order { return Order{Field: field} }

// Desc orders by field descending.
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// ParseOrder parses "field", "field:asc" or "field:desc".
func ParseOrder(s string) (Order, error) {
	field, dir, _ := strings.Cut(s, ":")
	if field == "" {
		return Order{}, fmt.Errorf("empty order field in %q", s)
	}
	switch strings.ToLower(dir) {
	case "", "asc":
		return Asc(field), nil
	case "desc":
		return Desc(field), nil
	default:
		return Order{}, fmt.Errorf("unknown order direction %q", dir)
	}
}
