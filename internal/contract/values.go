package contract

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// Values maps column names to row values.
type Values map[string]any

// Columns returns the column names of v, sorted for deterministic SQL.
func (v Values) Columns() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy of v.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// ValidationError reports a missing or malformed field.
// No row is written when it is returned.
type ValidationError struct {
	Collection string
	Column     string
	Message    string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Collection != "" && e.Column != "":
		return fmt.Sprintf("validation: %s.%s: %s", e.Collection, e.Column, e.Message)
	case e.Column != "":
		return fmt.Sprintf("validation: %s: %s", e.Column, e.Message)
	default:
		return "validation: " + e.Message
	}
}

func (c *Collection) invalid(column, format string, args ...any) *ValidationError {
	return &ValidationError{Collection: c.Name, Column: column, Message: fmt.Sprintf(format, args...)}
}

// PrepareInsert validates values for an insert and returns their normalized form.
//
// Every NOT NULL column must be present and non-nil; unknown columns and the
// primary key are rejected because ids are assigned by the store.
func (c *Collection) PrepareInsert(values Values) (Values, error) {
	out, err := c.normalizeAll(values)
	if err != nil {
		return nil, err
	}
	for _, name := range c.RequiredColumns() {
		if _, ok := out[name]; !ok {
			return nil, c.invalid(name, "required column is missing")
		}
	}
	return out, nil
}

// PrepareUpdate validates values for an update and returns their normalized form.
// At least one column must be set; the primary key is immutable.
func (c *Collection) PrepareUpdate(values Values) (Values, error) {
	if len(values) == 0 {
		return nil, &ValidationError{Collection: c.Name, Message: "update sets no columns"}
	}
	return c.normalizeAll(values)
}

func (c *Collection) normalizeAll(values Values) (Values, error) {
	out := make(Values, len(values))
	for _, name := range values.Columns() {
		if name == ColumnID {
			return nil, c.invalid(name, "primary key is assigned by the store")
		}
		col, ok := c.Column(name)
		if !ok {
			return nil, c.invalid(name, "unknown column")
		}
		v, err := Normalize(col, values[name])
		if err != nil {
			return nil, c.invalid(name, "%v", err)
		}
		out[name] = v
	}
	return out, nil
}

// Normalize converts v to the storage representation of col.
//
// Booleans accept bool only. Integers accept every Go integer kind, integral
// float64 values and *big.Int within int64 range. Text accepts string and is
// stored byte for byte. nil is accepted only for nullable columns.
func Normalize(col Column, v any) (any, error) {
	if v == nil {
		if !col.Nullable {
			return nil, fmt.Errorf("column is NOT NULL")
		}
		return nil, nil
	}

	switch col.Type {
	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil
	case TypeInteger:
		n, ok := toInt64(v)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
		return n, nil
	case TypeText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected text, got %T", v)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported column type %v", col.Type)
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case SyncStatus:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case *big.Int:
		if n == nil || !n.IsInt64() {
			return 0, false
		}
		return n.Int64(), true
	default:
		return 0, false
	}
}

// ParseValue converts command-line text to a value of col's type.
// The literal "null" yields nil for nullable columns.
func ParseValue(col Column, s string) (any, error) {
	if col.Nullable && s == "null" {
		return nil, nil
	}
	switch col.Type {
	case TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%s: expected boolean, got %q", col.Name, s)
		}
		return b, nil
	case TypeInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: expected integer, got %q", col.Name, s)
		}
		return n, nil
	case TypeText:
		return s, nil
	default:
		return nil, fmt.Errorf("%s: unsupported column type %v", col.Name, col.Type)
	}
}
