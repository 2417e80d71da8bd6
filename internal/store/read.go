package store

import (
	"context"
	"fmt"

	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/predicate"
)

// QueryOptions shapes a Query. The zero value selects every column of every
// addressed row in the default order.
type QueryOptions struct {
	// Projection lists the columns to return. Empty means all columns,
	// _id first.
	Projection []string

	// Where filters rows. On an item address it is ANDed with the row key.
	Where predicate.Predicate

	// OrderBy sorts rows. Empty means timestamp DESC for collections and
	// _id ASC for items; an _id tiebreaker is always appended.
	OrderBy []predicate.Order

	// Limit caps the number of rows; <= 0 means no limit.
	Limit int
}

// DefaultOrder is the order of collection queries without OrderBy.
var DefaultOrder = []predicate.Order{predicate.Desc(contract.ColumnTimestamp)}

// Query returns the rows at identifier.
//
// Rows are read completely before Query returns, so the result is a
// read-committed snapshot that holds no database resources.
func (s *Store) Query(ctx context.Context, identifier string, opts QueryOptions) (*Rows, error) {
	addr, err := s.resolver.Resolve(identifier)
	if err != nil {
		return nil, err
	}

	order := opts.OrderBy
	if len(order) == 0 && !addr.IsItem() {
		order = DefaultOrder
	}
	query, params, err := s.compiler(addr.Collection).Select(opts.Projection, scope(addr, opts.Where), order, opts.Limit)
	if err != nil {
		return nil, err
	}

	columns := opts.Projection
	if len(columns) == 0 {
		columns = addr.Collection.ColumnNames()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, &StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	out := &Rows{coll: addr.Collection, columns: columns, pos: -1}
	for rows.Next() {
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &StorageError{Op: "query", Err: fmt.Errorf("scan: %w", err)}
		}
		rec := make(contract.Values, len(columns))
		for i, name := range columns {
			col, _ := addr.Collection.Column(name)
			rec[name] = decode(col, raw[i])
		}
		out.rows = append(out.rows, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "query", Err: err}
	}
	return out, nil
}

// decode converts a scanned SQLite value to the Go type of col.
func decode(col contract.Column, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int64:
		if col.Type == contract.TypeBoolean {
			return x != 0
		}
		return x
	case []byte:
		return string(x)
	default:
		return x
	}
}

// Rows is a forward-only cursor over a query result.
//
//	rows, err := s.Query(ctx, id, store.QueryOptions{})
//	for rows.Next() {
//		v := rows.Values()
//	}
type Rows struct {
	coll    *contract.Collection
	columns []string
	rows    []contract.Values
	pos     int
}

// Next advances to the next row and reports whether there is one.
func (r *Rows) Next() bool {
	if r.pos+1 >= len(r.rows) {
		r.pos = len(r.rows)
		return false
	}
	r.pos++
	return true
}

// Values returns the current row. The map is owned by the caller.
func (r *Rows) Values() contract.Values {
	if r.pos < 0 || r.pos >= len(r.rows) {
		return nil
	}
	return r.rows[r.pos].Clone()
}

// Event decodes the current row as an Event. The query must project every
// column of an events or phoneEvents collection.
func (r *Rows) Event() (contract.Event, error) {
	v := r.Values()
	if v == nil {
		return contract.Event{}, fmt.Errorf("no current row")
	}
	return contract.EventFromValues(v)
}

// Collection returns the queried collection.
func (r *Rows) Collection() *contract.Collection {
	return r.coll
}

// Columns returns the projected column names in result order.
func (r *Rows) Columns() []string {
	return r.columns
}

// Len returns the total number of rows.
func (r *Rows) Len() int {
	return len(r.rows)
}

// All returns every row regardless of the cursor position.
func (r *Rows) All() []contract.Values {
	out := make([]contract.Values, len(r.rows))
	for i, row := range r.rows {
		out[i] = row.Clone()
	}
	return out
}

// Close exhausts the cursor. Rows hold no database resources.
func (r *Rows) Close() error {
	r.pos = len(r.rows)
	return nil
}

// QueryAll is Query followed by Rows.All.
func (s *Store) QueryAll(ctx context.Context, identifier string, opts QueryOptions) ([]contract.Values, error) {
	rows, err := s.Query(ctx, identifier, opts)
	if err != nil {
		return nil, err
	}
	return rows.All(), nil
}

// Events returns the rows at identifier as Events, newest first unless
// opts.OrderBy says otherwise. opts.Projection is ignored.
func (s *Store) Events(ctx context.Context, identifier string, opts QueryOptions) ([]contract.Event, error) {
	opts.Projection = nil
	rows, err := s.Query(ctx, identifier, opts)
	if err != nil {
		return nil, err
	}
	out := make([]contract.Event, 0, rows.Len())
	for rows.Next() {
		e, err := rows.Event()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
