package store

import (
	"context"
	"database/sql"

	"github.com/roach88/netstat/internal/address"
	"github.com/roach88/netstat/internal/contract"
	"github.com/roach88/netstat/internal/predicate"
)

// InsertResult identifies a newly inserted row.
type InsertResult struct {
	ID int64
	// Address is the canonical item identifier of the new row.
	Address string
}

// Insert adds one record to the collection at identifier.
//
// identifier must be a collection address; item addresses are rejected with
// UnsupportedAddressError. Every NOT NULL column must be present, and _id must
// not be: ids are assigned by the store. Observers of the new item and of the
// collection are notified after commit.
func (s *Store) Insert(ctx context.Context, identifier string, values contract.Values) (InsertResult, error) {
	if err := s.writable("insert"); err != nil {
		return InsertResult{}, err
	}
	addr, err := s.resolveCollection(identifier, "insert")
	if err != nil {
		return InsertResult{}, err
	}
	prepared, err := addr.Collection.PrepareInsert(values)
	if err != nil {
		return InsertResult{}, err
	}

	var id int64
	s.mu.Lock()
	err = s.withTx(ctx, "insert", func(tx *sql.Tx) error {
		id, err = s.insert(ctx, tx, addr.Collection, prepared)
		return err
	})
	s.mu.Unlock()
	if err != nil {
		return InsertResult{}, err
	}

	item := address.ItemAddress(addr.Collection, id)
	s.logger.Debug("inserted record", "address", item.String())
	s.publish(item.String(), addr.String())
	return InsertResult{ID: id, Address: item.String()}, nil
}

// Update sets values on the rows at identifier that match where, and returns
// the number of rows changed.
//
// On an item address the row key is ANDed with where, so at most that one row
// changes. Observers are notified even when no row matched.
func (s *Store) Update(ctx context.Context, identifier string, values contract.Values, where predicate.Predicate) (int64, error) {
	if err := s.writable("update"); err != nil {
		return 0, err
	}
	addr, err := s.resolver.Resolve(identifier)
	if err != nil {
		return 0, err
	}
	prepared, err := addr.Collection.PrepareUpdate(values)
	if err != nil {
		return 0, err
	}

	var n int64
	s.mu.Lock()
	err = s.withTx(ctx, "update", func(tx *sql.Tx) error {
		n, err = s.update(ctx, tx, addr, prepared, where)
		return err
	})
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	s.logger.Debug("updated records", "address", addr.String(), "count", n)
	s.publish(addr.String(), addr.Parent().String())
	return n, nil
}

// Delete removes the rows at identifier that match where, and returns the
// number of rows removed. Item addresses are scoped like Update. Observers are
// notified even when no row matched.
func (s *Store) Delete(ctx context.Context, identifier string, where predicate.Predicate) (int64, error) {
	if err := s.writable("delete"); err != nil {
		return 0, err
	}
	addr, err := s.resolver.Resolve(identifier)
	if err != nil {
		return 0, err
	}

	var n int64
	s.mu.Lock()
	err = s.withTx(ctx, "delete", func(tx *sql.Tx) error {
		n, err = s.delete(ctx, tx, addr, where)
		return err
	})
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}

	s.logger.Debug("deleted records", "address", addr.String(), "count", n)
	s.publish(addr.String(), addr.Parent().String())
	return n, nil
}

func (s *Store) resolveCollection(identifier, op string) (address.Address, error) {
	addr, err := s.resolver.Resolve(identifier)
	if err != nil {
		return address.Address{}, err
	}
	if addr.IsItem() {
		return address.Address{}, &UnsupportedAddressError{
			Identifier: identifier,
			Reason:     op + " requires a collection address",
		}
	}
	return addr, nil
}

// scope restricts where to the row of an item address.
func scope(addr address.Address, where predicate.Predicate) predicate.Predicate {
	if !addr.IsItem() {
		return where
	}
	return predicate.AllOf(predicate.Eq(contract.ColumnID, addr.Key), where)
}

// insert, update and delete run inside a caller-owned transaction with the
// write lock held.

func (s *Store) insert(ctx context.Context, tx *sql.Tx, c *contract.Collection, values contract.Values) (int64, error) {
	query, params, err := s.compiler(c).Insert(values)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, classify("insert", c, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "insert", Err: err}
	}
	return id, nil
}

func (s *Store) update(ctx context.Context, tx *sql.Tx, addr address.Address, values contract.Values, where predicate.Predicate) (int64, error) {
	query, params, err := s.compiler(addr.Collection).Update(values, scope(addr, where))
	if err != nil {
		return 0, err
	}
	return execCount(ctx, tx, "update", addr.Collection, query, params)
}

func (s *Store) delete(ctx context.Context, tx *sql.Tx, addr address.Address, where predicate.Predicate) (int64, error) {
	query, params, err := s.compiler(addr.Collection).Delete(scope(addr, where))
	if err != nil {
		return 0, err
	}
	return execCount(ctx, tx, "delete", addr.Collection, query, params)
}

func execCount(ctx context.Context, tx *sql.Tx, op string, c *contract.Collection, query string, params []any) (int64, error) {
	res, err := tx.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, classify(op, c, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: op, Err: err}
	}
	return n, nil
}
