// Package sqlgen compiles store operations to parameterized SQLite statements.
//
// CRITICAL: values are never interpolated - every value is a ? parameter.
// CRITICAL: identifiers come only from the contract; any column name that is
// not part of the target collection is rejected before SQL is produced.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/predicate"
)

// Compiler builds statements for one collection.
// A Compiler is immutable and safe for concurrent use.
type Compiler struct {
	coll *contract.Collection
}

// New returns a Compiler for c.
func New(c *contract.Collection) *Compiler {
	return &Compiler{coll: c}
}

// Collection returns the collection the compiler targets.
func (c *Compiler) Collection() *contract.Collection {
	return c.coll
}

func (c *Compiler) invalid(column, format string, args ...any) error {
	return &contract.ValidationError{Collection: c.coll.Name, Column: column, Message: fmt.Sprintf(format, args...)}
}

// Select compiles a SELECT over columns (all columns when empty) filtered by
// where and sorted by order. A tiebreaker on _id is appended unless order
// already mentions it, so results are deterministic. limit <= 0 means no limit.
func (c *Compiler) Select(columns []string, where predicate.Predicate, order []predicate.Order, limit int) (string, []any, error) {
	if len(columns) == 0 {
		columns = c.coll.ColumnNames()
	}
	for _, col := range columns {
		if !c.coll.HasColumn(col) {
			return "", nil, c.invalid(col, "unknown column in projection")
		}
	}

	whereSQL, params, err := c.Where(where)
	if err != nil {
		return "", nil, err
	}

	orderSQL, err := c.orderBy(order)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(columns, ", "), c.coll.Name)
	if whereSQL != "" {
		b.WriteString(" WHERE " + whereSQL)
	}
	b.WriteString(" ORDER BY " + orderSQL)
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, int64(limit))
	}
	return b.String(), params, nil
}

func (c *Compiler) orderBy(order []predicate.Order) (string, error) {
	parts := make([]string, 0, len(order)+1)
	tiebreak := true
	for _, o := range order {
		if !c.coll.HasColumn(o.Field) {
			return "", c.invalid(o.Field, "unknown column in order")
		}
		if o.Field == contract.ColumnID {
			tiebreak = false
		}
		parts = append(parts, orderTerm(o))
	}
	if tiebreak {
		desc := len(order) > 0 && order[0].Desc
		parts = append(parts, orderTerm(predicate.Order{Field: contract.ColumnID, Desc: desc}))
	}
	return strings.Join(parts, ", "), nil
}

func orderTerm(o predicate.Order) string {
	if o.Desc {
		return o.Field + " DESC"
	}
	return o.Field + " ASC"
}

// Insert compiles an INSERT of already-validated values.
// Columns are emitted in sorted order.
func (c *Compiler) Insert(values contract.Values) (string, []any, error) {
	if len(values) == 0 {
		return "", nil, c.invalid("", "insert has no values")
	}
	columns := values.Columns()
	placeholders := make([]string, len(columns))
	params := make([]any, len(columns))
	for i, col := range columns {
		if !c.coll.HasColumn(col) {
			return "", nil, c.invalid(col, "unknown column")
		}
		placeholders[i] = "?"
		params[i] = values[col]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.coll.Name, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	return sql, params, nil
}

// Update compiles an UPDATE setting values on rows matching where.
func (c *Compiler) Update(values contract.Values, where predicate.Predicate) (string, []any, error) {
	if len(values) == 0 {
		return "", nil, c.invalid("", "update sets no columns")
	}
	columns := values.Columns()
	sets := make([]string, len(columns))
	params := make([]any, 0, len(columns))
	for i, col := range columns {
		if !c.coll.HasColumn(col) {
			return "", nil, c.invalid(col, "unknown column")
		}
		sets[i] = col + " = ?"
		params = append(params, values[col])
	}

	whereSQL, whereParams, err := c.Where(where)
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("UPDATE %s SET %s", c.coll.Name, strings.Join(sets, ", "))
	if whereSQL != "" {
		sql += " WHERE " + whereSQL
	}
	return sql, append(params, whereParams...), nil
}

// Delete compiles a DELETE of rows matching where.
func (c *Compiler) Delete(where predicate.Predicate) (string, []any, error) {
	whereSQL, params, err := c.Where(where)
	if err != nil {
		return "", nil, err
	}
	sql := "DELETE FROM " + c.coll.Name
	if whereSQL != "" {
		sql += " WHERE " + whereSQL
	}
	return sql, params, nil
}

// Where compiles p to a WHERE clause body. A nil predicate yields "".
func (c *Compiler) Where(p predicate.Predicate) (string, []any, error) {
	if p == nil {
		return "", nil, nil
	}
	if err := predicate.Validate(p, c.coll.HasColumn); err != nil {
		return "", nil, c.invalid("", "%v", err)
	}
	return c.compilePredicate(p)
}

// compilePredicate compiles a validated predicate.
// CRITICAL: Values NEVER interpolated - always use ? placeholders.
func (c *Compiler) compilePredicate(p predicate.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case predicate.Compare:
		return c.compileCompare(pred)
	case *predicate.Compare:
		return c.compileCompare(*pred)
	case predicate.IsNull:
		return compileIsNull(pred), nil, nil
	case *predicate.IsNull:
		return compileIsNull(*pred), nil, nil
	case predicate.In:
		return c.compileIn(pred)
	case *predicate.In:
		return c.compileIn(*pred)
	case predicate.And:
		return c.compileAnd(pred)
	case *predicate.And:
		return c.compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *Compiler) compileCompare(cmp predicate.Compare) (string, []any, error) {
	param, err := c.param(cmp.Field, cmp.Value)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s %s ?", cmp.Field, cmp.Op), []any{param}, nil
}

func compileIsNull(n predicate.IsNull) string {
	if n.Negate {
		return n.Field + " IS NOT NULL"
	}
	return n.Field + " IS NULL"
}

func (c *Compiler) compileIn(in predicate.In) (string, []any, error) {
	if len(in.Values) == 0 {
		return "0 = 1", nil, nil // matches nothing
	}
	placeholders := make([]string, len(in.Values))
	params := make([]any, len(in.Values))
	for i, v := range in.Values {
		param, err := c.param(in.Field, v)
		if err != nil {
			return "", nil, err
		}
		placeholders[i] = "?"
		params[i] = param
	}
	return fmt.Sprintf("%s IN (%s)", in.Field, strings.Join(placeholders, ", ")), params, nil
}

func (c *Compiler) compileAnd(and predicate.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil // vacuous truth
	}

	var parts []string
	var params []any
	for _, sub := range and.Predicates {
		if sub == nil {
			continue
		}
		sql, subParams, err := c.compilePredicate(sub)
		if err != nil {
			return "", nil, err
		}
		if isAnd(sub) {
			sql = "(" + sql + ")"
		}
		parts = append(parts, sql)
		params = append(params, subParams...)
	}
	if len(parts) == 0 {
		return "1 = 1", nil, nil
	}
	return strings.Join(parts, " AND "), params, nil
}

func isAnd(p predicate.Predicate) bool {
	switch p.(type) {
	case predicate.And, *predicate.And:
		return true
	default:
		return false
	}
}

// param converts a filter value to the storage representation of field.
func (c *Compiler) param(field string, v any) (any, error) {
	col, _ := c.coll.Column(field)
	out, err := contract.Normalize(col, v)
	if err != nil {
		return nil, c.invalid(field, "%v", err)
	}
	return out, nil
}
