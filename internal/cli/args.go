package cli

import (
	"fmt"
	"strings"

	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/predicate"
)

// parseAssignments converts "column=value" flags to typed values of coll.
// The literal null clears a nullable column.
func parseAssignments(coll *contract.Collection, sets []string) (contract.Values, error) {
	values := make(contract.Values, len(sets))
	for _, s := range sets {
		name, raw, ok := strings.Cut(s, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q: expected column=value", s)
		}
		col, ok := coll.Column(name)
		if !ok {
			return nil, fmt.Errorf("invalid --set %q: %s has no column %q", s, coll.Name, name)
		}
		v, err := contract.ParseValue(col, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid --set %q: %w", s, err)
		}
		values[name] = v
	}
	return values, nil
}

// parseWhere conjoins --where conditions. Accepted forms:
//
//	column <op> value      op is one of = == != <> < <= > >=
//	column in a,b,c
//	column is null
//	column is not null
func parseWhere(coll *contract.Collection, exprs []string) (predicate.Predicate, error) {
	preds := make([]predicate.Predicate, 0, len(exprs))
	for _, expr := range exprs {
		p, err := parseCondition(coll, expr)
		if err != nil {
			return nil, fmt.Errorf("invalid --where %q: %w", expr, err)
		}
		preds = append(preds, p)
	}
	return predicate.AllOf(preds...), nil
}

func parseCondition(coll *contract.Collection, expr string) (predicate.Predicate, error) {
	fields := strings.Fields(expr)
	if len(fields) >= 3 {
		switch strings.ToLower(fields[1]) {
		case "is":
			rest := strings.ToLower(strings.Join(fields[2:], " "))
			col, err := column(coll, fields[0])
			if err != nil {
				return nil, err
			}
			switch rest {
			case "null":
				return predicate.IsNull{Field: col.Name}, nil
			case "not null":
				return predicate.IsNull{Field: col.Name, Negate: true}, nil
			}
			return nil, fmt.Errorf("expected 'is null' or 'is not null'")
		case "in":
			col, err := column(coll, fields[0])
			if err != nil {
				return nil, err
			}
			var values []any
			for _, raw := range strings.Split(strings.Join(fields[2:], " "), ",") {
				v, err := contract.ParseValue(col, strings.TrimSpace(raw))
				if err != nil {
					return nil, err
				}
				values = append(values, v)
			}
			return predicate.In{Field: col.Name, Values: values}, nil
		}
	}

	i := strings.IndexAny(expr, "=!<>")
	if i <= 0 {
		return nil, fmt.Errorf("expected column, operator and value")
	}
	col, err := column(coll, strings.TrimSpace(expr[:i]))
	if err != nil {
		return nil, err
	}
	opLen := 1
	if len(expr) > i+1 {
		switch expr[i : i+2] {
		case "==", "!=", "<>", "<=", ">=":
			opLen = 2
		}
	}
	op, err := predicate.ParseOp(expr[i : i+opLen])
	if err != nil {
		return nil, err
	}
	v, err := contract.ParseValue(col, strings.TrimSpace(expr[i+opLen:]))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%s: comparison with null; use 'is null'", col.Name)
	}
	return predicate.Cmp(col.Name, op, v), nil
}

func column(coll *contract.Collection, name string) (contract.Column, error) {
	col, ok := coll.Column(name)
	if !ok {
		return contract.Column{}, fmt.Errorf("%s has no column %q", coll.Name, name)
	}
	return col, nil
}
