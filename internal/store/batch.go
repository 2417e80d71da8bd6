package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/netstat/internal/address"
	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/predicate"
)

// OpKind is the kind of a batch operation.
type OpKind int

const (
	OpInsert OpKind = iota + 1
	OpUpdate
	OpDelete
)

// String returns "insert", "update" or "delete".
func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// ParseOpKind parses the String form of an OpKind.
func ParseOpKind(s string) (OpKind, error) {
	switch s {
	case "insert":
		return OpInsert, nil
	case "update":
		return OpUpdate, nil
	case "delete":
		return OpDelete, nil
	default:
		return 0, fmt.Errorf("unknown operation %q", s)
	}
}

// Operation is one step of a batch.
type Operation struct {
	Kind       OpKind
	Identifier string
	Values     contract.Values
	Where      predicate.Predicate

	// ValueBackRefs sets a column to the id produced by an earlier insert in
	// the same batch: column -> operation index.
	ValueBackRefs map[string]int

	// KeyBackRef, when set, targets the item created by an earlier insert.
	// Identifier must then name that item's collection.
	KeyBackRef *int
}

// NewInsert returns an insert of values into the collection at identifier.
func NewInsert(identifier string, values contract.Values) Operation {
	return Operation{Kind: OpInsert, Identifier: identifier, Values: values}
}

// NewUpdate returns an update of the rows at identifier matching where.
func NewUpdate(identifier string, values contract.Values, where predicate.Predicate) Operation {
	return Operation{Kind: OpUpdate, Identifier: identifier, Values: values, Where: where}
}

// NewDelete returns a delete of the rows at identifier matching where.
func NewDelete(identifier string, where predicate.Predicate) Operation {
	return Operation{Kind: OpDelete, Identifier: identifier, Where: where}
}

// WithValueBackRef returns a copy of o that sets column to the id inserted by
// operation index.
func (o Operation) WithValueBackRef(column string, index int) Operation {
	refs := make(map[string]int, len(o.ValueBackRefs)+1)
	for k, v := range o.ValueBackRefs {
		refs[k] = v
	}
	refs[column] = index
	o.ValueBackRefs = refs
	return o
}

// WithKeyBackRef returns a copy of o that targets the item inserted by
// operation index.
func (o Operation) WithKeyBackRef(index int) Operation {
	o.KeyBackRef = &index
	return o
}

// Result is the outcome of one batch operation.
type Result struct {
	// Address is the item address for inserts, the target address otherwise.
	Address string
	// ID is the new row id for inserts, zero otherwise.
	ID int64
	// Count is the number of rows affected.
	Count int64
}

// ApplyBatch executes ops in order inside one transaction.
//
// Either every operation takes effect or none does. On failure the
// transaction is rolled back and a *BatchApplyError carries the index of the
// failing operation. A failed commit is a *StorageError. An empty batch
// returns an empty result without starting a transaction.
//
// Observers are notified once, after commit, with every address the batch
// touched in first-touch order.
func (s *Store) ApplyBatch(ctx context.Context, ops []Operation) ([]Result, error) {
	if len(ops) == 0 {
		return []Result{}, nil
	}
	if err := s.writable("batch"); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(ops))
	var touched []string

	s.mu.Lock()
	err := s.withTx(ctx, "batch", func(tx *sql.Tx) error {
		for i, op := range ops {
			res, addrs, err := s.applyOne(ctx, tx, i, op, results)
			if err != nil {
				return &BatchApplyError{Index: i, Err: err}
			}
			results = append(results, res)
			touched = append(touched, addrs...)
		}
		return nil
	})
	s.mu.Unlock()
	if err != nil {
		s.logger.Debug("batch rolled back", "operations", len(ops), "error", err)
		return nil, err
	}

	s.logger.Debug("applied batch", "operations", len(ops))
	s.publish(touched...)
	return results, nil
}

// applyOne runs op with the write lock held. prior holds the results of the
// operations before it.
func (s *Store) applyOne(ctx context.Context, tx *sql.Tx, index int, op Operation, prior []Result) (Result, []string, error) {
	addr, err := s.resolver.Resolve(op.Identifier)
	if err != nil {
		return Result{}, nil, err
	}
	if op.KeyBackRef != nil {
		if addr.IsItem() || op.Kind == OpInsert {
			return Result{}, nil, &ValidationError{
				Collection: addr.Collection.Name,
				Message:    "key back-reference requires an update or delete on a collection address",
			}
		}
		id, err := backRef(index, *op.KeyBackRef, prior)
		if err != nil {
			return Result{}, nil, err
		}
		addr = address.ItemAddress(addr.Collection, id)
	}

	if op.Kind == OpDelete && len(op.ValueBackRefs) > 0 {
		return Result{}, nil, &ValidationError{
			Collection: addr.Collection.Name,
			Message:    "delete does not take value back-references",
		}
	}

	values := op.Values
	if len(op.ValueBackRefs) > 0 {
		values = values.Clone()
		for col, ref := range op.ValueBackRefs {
			id, err := backRef(index, ref, prior)
			if err != nil {
				return Result{}, nil, err
			}
			values[col] = id
		}
	}

	switch op.Kind {
	case OpInsert:
		if addr.IsItem() {
			return Result{}, nil, &UnsupportedAddressError{Identifier: op.Identifier, Reason: "insert requires a collection address"}
		}
		prepared, err := addr.Collection.PrepareInsert(values)
		if err != nil {
			return Result{}, nil, err
		}
		id, err := s.insert(ctx, tx, addr.Collection, prepared)
		if err != nil {
			return Result{}, nil, err
		}
		item := address.ItemAddress(addr.Collection, id)
		return Result{Address: item.String(), ID: id, Count: 1}, []string{item.String(), addr.String()}, nil

	case OpUpdate:
		prepared, err := addr.Collection.PrepareUpdate(values)
		if err != nil {
			return Result{}, nil, err
		}
		n, err := s.update(ctx, tx, addr, prepared, op.Where)
		if err != nil {
			return Result{}, nil, err
		}
		return Result{Address: addr.String(), Count: n}, []string{addr.String(), addr.Parent().String()}, nil

	case OpDelete:
		n, err := s.delete(ctx, tx, addr, op.Where)
		if err != nil {
			return Result{}, nil, err
		}
		return Result{Address: addr.String(), Count: n}, []string{addr.String(), addr.Parent().String()}, nil

	default:
		return Result{}, nil, &ValidationError{Message: fmt.Sprintf("unknown operation kind %v", op.Kind)}
	}
}

// backRef returns the id inserted by operation ref, which must precede index.
func backRef(index, ref int, prior []Result) (int64, error) {
	if ref < 0 || ref >= index {
		return 0, &ValidationError{Message: fmt.Sprintf("back-reference to operation %d must point to an earlier operation", ref)}
	}
	if prior[ref].ID == 0 {
		return 0, &ValidationError{Message: fmt.Sprintf("back-reference to operation %d which is not an insert", ref)}
	}
	return prior[ref].ID, nil
}
